// Package extraction 領収書画像・PDF から記録の下書きを作る
package extraction

import (
	"context"
	"errors"
	"time"

	"taxbook/calc"
	"taxbook/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrExtractionFailed 外部 API が使えない、または使える値を返さなかった
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrUnsupportedType 読み取りに対応していないファイル形式
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Draft 読み取り結果。見つからなかった項目は nil
type Draft struct {
	Date        *time.Time         `json:"date,omitempty"`
	Amount      *decimal.Decimal   `json:"amount,omitempty"`
	Currency    *calc.Currency     `json:"currency,omitempty"`
	Client      *string            `json:"client,omitempty"`
	Description *string            `json:"description,omitempty"`
	Category    *string            `json:"category,omitempty"`
	Type        *models.RecordType `json:"type,omitempty"`
}

// Empty どの項目も取れなかったか
func (d *Draft) Empty() bool {
	return d.Date == nil && d.Amount == nil && d.Currency == nil &&
		d.Client == nil && d.Description == nil && d.Category == nil && d.Type == nil
}

// Extractor 領収書の読み取り
// 失敗時は ErrExtractionFailed を返し、途中まで埋まった下書きは返さない
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*Draft, error)
}

// SupportedMIMETypes 読み取り対象の形式
var SupportedMIMETypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}
