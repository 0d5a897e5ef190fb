package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"taxbook/calc"
	"taxbook/models"

	"github.com/shopspring/decimal"
)

// 文字列項目の上限（記録の入力制限と同じ）
const (
	maxClientLen      = 100
	maxDescriptionLen = 500
	maxCategoryLen    = 50
)

var dateLayouts = []string{"2006-01-02", "2006/01/02", "2006.01.02", "2006年1月2日"}

// rawFields モデルが返す JSON の各項目。型は保証されない
type rawFields struct {
	Date        any
	Amount      any
	Currency    any
	Client      any
	Description any
	Category    any
	Type        any
}

// ParseResponse モデルの応答テキストを検証して下書きにする
// コードフェンスで囲まれた応答や、1 要素の配列で返された応答も受け付ける
func ParseResponse(text string) (*Draft, error) {
	clean := cleanModelJSON(text)
	if clean == "" {
		return nil, fmt.Errorf("%w: empty response", ErrExtractionFailed)
	}

	var parsed any
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrExtractionFailed, err)
	}
	if list, ok := parsed.([]any); ok {
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: empty list", ErrExtractionFailed)
		}
		parsed = list[0]
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected JSON shape", ErrExtractionFailed)
	}

	raw := rawFields{
		Date:        obj["date"],
		Amount:      obj["amount"],
		Currency:    obj["currency"],
		Client:      obj["client"],
		Description: obj["description"],
		Category:    obj["category"],
		Type:        obj["type"],
	}
	d := raw.toDraft()
	if d.Empty() {
		return nil, fmt.Errorf("%w: no usable fields", ErrExtractionFailed)
	}
	return d, nil
}

func (r rawFields) toDraft() *Draft {
	return &Draft{
		Date:        parseDate(r.Date),
		Amount:      parseAmount(r.Amount),
		Currency:    parseCurrency(r.Currency),
		Client:      parseText(r.Client, maxClientLen),
		Description: parseText(r.Description, maxDescriptionLen),
		Category:    parseText(r.Category, maxCategoryLen),
		Type:        parseType(r.Type),
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return "", false
	}
	return s, true
}

func parseDate(v any) *time.Time {
	s, ok := asString(v)
	if !ok {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func parseAmount(v any) *decimal.Decimal {
	var d decimal.Decimal
	switch x := v.(type) {
	case float64:
		d = decimal.NewFromFloat(x)
	case string:
		s := strings.NewReplacer(",", "", "¥", "", "￥", "", "$", "", "円", "", " ", "").Replace(strings.TrimSpace(x))
		if s == "" {
			return nil
		}
		parsed, err := decimal.NewFromString(s)
		if err != nil {
			return nil
		}
		d = parsed
	default:
		return nil
	}
	if d.IsNegative() {
		return nil
	}
	return &d
}

func parseCurrency(v any) *calc.Currency {
	s, ok := asString(v)
	if !ok {
		return nil
	}
	var c calc.Currency
	switch strings.ToUpper(s) {
	case "JPY", "円", "¥", "￥":
		c = calc.JPY
	case "USD", "$", "US$":
		c = calc.USD
	default:
		return nil
	}
	return &c
}

func parseText(v any, max int) *string {
	s, ok := asString(v)
	if !ok {
		return nil
	}
	if utf8.RuneCountInString(s) > max {
		s = string([]rune(s)[:max])
	}
	return &s
}

func parseType(v any) *models.RecordType {
	s, ok := asString(v)
	if !ok {
		return nil
	}
	t := models.RecordType(strings.ToLower(s))
	switch s {
	case "収入":
		t = models.RecordTypeIncome
	case "経費", "支出":
		t = models.RecordTypeExpense
	}
	if !t.Valid() {
		return nil
	}
	return &t
}

// cleanModelJSON Markdown のコードフェンスや前後の余計な文を取り除く
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(strings.TrimPrefix(s, "```json"), "```")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// 先頭の { / [ から対応する末尾までを残す
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// FormatDate 下書きの日付をフォーム用の文字列にする
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
