// Package archive 年度ごとの添付ファイルを月別フォルダの zip にまとめる
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"taxbook/models"
	"taxbook/storage"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAttachmentFetch 添付ファイルを取得できなかった（1 件単位）
	ErrAttachmentFetch = errors.New("attachment fetch failed")
	// ErrEmptyArchive 1 件も取得できず、空の zip が許されていない
	ErrEmptyArchive = errors.New("no attachment could be fetched")
)

// Provider 添付ファイルのバイト列を返す
type Provider func(ctx context.Context) ([]byte, error)

// Item 記録とその添付ファイルの取得手段
type Item struct {
	Record   models.Record
	Provider Provider
}

// FromStore 添付付きの記録をストアから取得する Item にする
func FromStore(store storage.ObjectStore, records []models.Record) []Item {
	items := make([]Item, 0, len(records))
	for _, r := range records {
		if !r.HasAttachment() {
			continue
		}
		ref := *r.AttachmentPath
		items = append(items, Item{
			Record: r,
			Provider: func(ctx context.Context) ([]byte, error) {
				return store.Get(ctx, ref)
			},
		})
	}
	return items
}

// Skipped 取得に失敗して zip に入らなかった記録
type Skipped struct {
	RecordID uint   `json:"record_id"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// Result 書き出したエントリ名と、飛ばした記録
type Result struct {
	Entries []string  `json:"entries"`
	Skipped []Skipped `json:"skipped"`
}

// SkippedIDs 飛ばした記録の ID
func (r *Result) SkippedIDs() []uint {
	ids := make([]uint, len(r.Skipped))
	for i, s := range r.Skipped {
		ids[i] = s.RecordID
	}
	return ids
}

// Builder zip の組み立て
type Builder struct {
	workers      int
	fetchTimeout time.Duration
	log          zerolog.Logger
}

// NewBuilder 同時取得数と 1 件あたりのタイムアウトを指定する
func NewBuilder(workers int, fetchTimeout time.Duration, log zerolog.Logger) *Builder {
	if workers < 1 {
		workers = 1
	}
	return &Builder{workers: workers, fetchTimeout: fetchTimeout, log: log}
}

type fetched struct {
	data []byte
	err  error
}

// Build 添付ファイルを並行に取得し、日付順に zip へ書き出す
// 取得に失敗したものは Skipped に入れて続行する。ctx の期限切れ後に残ったものも同様
// requireNonEmpty で 1 件も取れなかった場合は何も書かずに ErrEmptyArchive
func (b *Builder) Build(ctx context.Context, w io.Writer, fiscalYear int, items []Item, requireNonEmpty bool) (*Result, error) {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Record, sorted[j].Record
		if !ri.Date.Equal(rj.Date) {
			return ri.Date.Before(rj.Date)
		}
		return ri.ID < rj.ID
	})

	results := b.fetchAll(ctx, sorted)

	res := &Result{Entries: []string{}, Skipped: []Skipped{}}
	for i, it := range sorted {
		if err := results[i].err; err != nil {
			res.Skipped = append(res.Skipped, Skipped{
				RecordID: it.Record.ID,
				Reason:   err.Error(),
				Err:      fmt.Errorf("%w: record %d: %v", ErrAttachmentFetch, it.Record.ID, err),
			})
			b.log.Warn().Err(err).Uint("record_id", it.Record.ID).Msg("添付ファイルの取得に失敗したためスキップ")
		}
	}
	if requireNonEmpty && len(res.Skipped) == len(sorted) {
		return res, ErrEmptyArchive
	}

	zw := zip.NewWriter(w)
	names := newNamer()
	for i, it := range sorted {
		if results[i].err != nil {
			continue
		}
		name := names.next(fiscalYear, &it.Record)
		hdr := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: it.Record.Date,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return res, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := fw.Write(results[i].data); err != nil {
			return res, fmt.Errorf("write zip entry %s: %w", name, err)
		}
		res.Entries = append(res.Entries, name)
	}
	if err := zw.Close(); err != nil {
		return res, fmt.Errorf("finalize zip: %w", err)
	}

	b.log.Info().
		Int("fiscal_year", fiscalYear).
		Int("entries", len(res.Entries)).
		Int("skipped", len(res.Skipped)).
		Msg("添付ファイルの zip を作成")
	return res, nil
}

func (b *Builder) fetchAll(ctx context.Context, items []Item) []fetched {
	results := make([]fetched, len(items))

	var g errgroup.Group
	g.SetLimit(b.workers)
	for i := range items {
		i := i
		g.Go(func() error {
			results[i] = b.fetch(ctx, items[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *Builder) fetch(ctx context.Context, it Item) (f fetched) {
	if err := ctx.Err(); err != nil {
		return fetched{err: err}
	}
	if it.Provider == nil {
		return fetched{err: errors.New("no attachment provider")}
	}
	if b.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.fetchTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			f = fetched{err: fmt.Errorf("provider panic: %v", p)}
		}
	}()

	data, err := it.Provider(ctx)
	if err != nil {
		return fetched{err: err}
	}
	return fetched{data: data}
}

// namer ディレクトリ内で重複しないエントリ名を払い出す
type namer struct {
	used map[string]bool
}

func newNamer() *namer {
	return &namer{used: map[string]bool{}}
}

func (n *namer) next(fiscalYear int, r *models.Record) string {
	dir := MonthDir(fiscalYear, r.Date)
	base, ext := BaseName(r), extension(r)

	name := path.Join(dir, base+ext)
	for i := 1; n.used[name]; i++ {
		name = path.Join(dir, fmt.Sprintf("%s-%d%s", base, i, ext))
	}
	n.used[name] = true
	return name
}

// MonthDir 月別フォルダ名（例: 2024-06）
func MonthDir(fiscalYear int, date time.Time) string {
	return fmt.Sprintf("%d-%02d", fiscalYear, int(date.Month()))
}

// BaseName 日付_種別_勘定科目_取引先（取引先が空なら省略）
func BaseName(r *models.Record) string {
	parts := []string{r.Date.Format("2006-01-02"), r.Type.Label()}
	if c := SanitizeName(r.Category); c != "" {
		parts = append(parts, c)
	}
	if c := SanitizeName(r.Client); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, "_")
}

// SanitizeName ファイル名に使えない文字を _ に置き換える
func SanitizeName(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '_'
		}
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, s)
}

func extension(r *models.Record) string {
	if !r.HasAttachment() {
		return ""
	}
	return strings.ToLower(path.Ext(*r.AttachmentPath))
}
