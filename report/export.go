package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"taxbook/calc"
	"taxbook/models"

	"github.com/shopspring/decimal"
)

// Layout 出力レイアウト
type Layout string

const (
	LayoutRaw    Layout = "raw"
	LayoutFiling Layout = "filing"
)

// ParseLayout クエリ文字列からレイアウトを得る。空は明細
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutRaw:
		return LayoutRaw, nil
	case LayoutFiling:
		return LayoutFiling, nil
	}
	return "", fmt.Errorf("unknown layout %q", s)
}

// BOM Excel で文字化けしないように先頭に付ける
const BOM = "\xEF\xBB\xBF"

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
	totalLabel     = "合計"
	emptyLabel     = "(未設定)"
)

// RawHeader 明細 CSV の列。外部ツールが列位置で読むので順序を変えないこと
var RawHeader = []string{
	"ID", "日付", "種別", "勘定科目", "取引先", "摘要", "通貨",
	"金額(原通貨)", "TTM", "金額(円)", "源泉徴収有無", "源泉徴収税額",
	"按分対象", "按分率(%)", "按分後金額", "添付ファイル", "年度",
	"作成日時", "更新日時",
}

// FilingHeader 申告用集計 CSV の列
func FilingHeader(by GroupBy) []string {
	return []string{by.Label(), "収入合計", "経費合計", "差引", "源泉徴収税額"}
}

// Export 集計結果を CSV で書き出す（UTF-8, BOM 付き）
// 同じ集計結果からは常に同じバイト列になる
func Export(w io.Writer, agg *Aggregation, layout Layout) error {
	if _, err := io.WriteString(w, BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)

	var rows [][]string
	switch layout {
	case LayoutRaw:
		rows = rawRows(agg)
	case LayoutFiling:
		rows = filingRows(agg)
	default:
		return fmt.Errorf("unknown layout %q", layout)
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("CSV 書き出しに失敗: %w", err)
	}
	return nil
}

func rawRows(agg *Aggregation) [][]string {
	rows := make([][]string, 0, len(agg.Records)+1)
	rows = append(rows, RawHeader)
	for i := range agg.Records {
		rows = append(rows, RawRow(&agg.Records[i]))
	}
	return rows
}

// RawRow 記録 1 件を明細行にする
func RawRow(r *models.Record) []string {
	ttm := ""
	if r.Currency != calc.LocalCurrency && r.TTM.Valid {
		ttm = r.TTM.Decimal.StringFixed(2)
	}
	attachment := ""
	if r.HasAttachment() {
		attachment = *r.AttachmentPath
	}
	return []string{
		strconv.FormatUint(uint64(r.ID), 10),
		r.Date.Format(dateLayout),
		r.Type.Label(),
		r.Category,
		r.Client,
		r.Description,
		string(r.Currency),
		r.AmountOriginal.StringFixed(r.Currency.MinorUnits()),
		ttm,
		yen(r.AmountJPY),
		flag(r.WithholdingTax),
		yen(r.WithholdingAmount),
		flag(r.Proration),
		r.ProrationRate.StringFixed(2),
		yen(r.AmountProrated),
		attachment,
		strconv.Itoa(r.FiscalYear),
		r.CreatedAt.Format(datetimeLayout),
		r.UpdatedAt.Format(datetimeLayout),
	}
}

func filingRows(agg *Aggregation) [][]string {
	groups := agg.Sorted()
	rows := make([][]string, 0, len(groups)+2)
	rows = append(rows, FilingHeader(agg.GroupBy))
	for _, g := range groups {
		rows = append(rows, filingRow(GroupLabel(g.Key), g.Totals))
	}
	rows = append(rows, filingRow(totalLabel, agg.Total))
	return rows
}

func filingRow(label string, t Totals) []string {
	return []string{
		label,
		yen(t.Income),
		yen(t.Expense),
		yen(t.Net()),
		yen(t.Withholding),
	}
}

// GroupLabel 空のキー（取引先なし等）の表示名
func GroupLabel(key string) string {
	if key == "" {
		return emptyLabel
	}
	return key
}

func yen(d decimal.Decimal) string {
	return roundJPY(d).StringFixed(calc.LocalCurrency.MinorUnits())
}

func flag(b bool) string {
	if b {
		return "あり"
	}
	return ""
}
