// Package calc は記帳データの派生項目（円換算額・源泉徴収税額・按分後金額・年度）を計算する。
// すべて副作用のない純粋関数で、丸めは円単位の銀行丸め（偶数丸め）。
package calc

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Currency 通貨コード
type Currency string

const (
	JPY Currency = "JPY"
	USD Currency = "USD"
)

// LocalCurrency 申告に使う通貨
const LocalCurrency = JPY

// MinorUnits 通貨ごとの小数桁数
func (c Currency) MinorUnits() int32 {
	if c == USD {
		return 2
	}
	return 0
}

// ParseCurrency 文字列を通貨コードに変換する。空文字は JPY 扱い
func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case "", JPY:
		return JPY, nil
	case USD:
		return USD, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, s)
}

var (
	ErrInvalidRate         = errors.New("invalid exchange rate")
	ErrInvalidPercentage   = errors.New("invalid percentage")
	ErrConfiguration       = errors.New("configuration error")
	ErrInvalidAmount       = errors.New("amount must be non-negative")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidPrecision    = errors.New("amount has more decimal places than the currency allows")
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Convert 外貨金額を TTM で円に換算する
// JPY はそのまま返し、rate は見ない。USD は rate > 0 が必須で、結果は円単位に銀行丸め
func Convert(amount decimal.Decimal, currency Currency, rate decimal.NullDecimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	switch currency {
	case JPY:
		return amount, nil
	case USD:
		if !rate.Valid || !rate.Decimal.IsPositive() {
			return decimal.Zero, ErrInvalidRate
		}
		return amount.Mul(rate.Decimal).RoundBank(LocalCurrency.MinorUnits()), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
}

// CheckPrecision 金額の小数桁が通貨の補助単位を超えていないか
func CheckPrecision(amount decimal.Decimal, currency Currency) error {
	if !amount.Equal(amount.Truncate(currency.MinorUnits())) {
		return fmt.Errorf("%w: %s %s", ErrInvalidPrecision, amount, currency)
	}
	return nil
}

// ValidateWithholdingRate 源泉徴収税率が [0,1) に収まっているか
func ValidateWithholdingRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: withholding rate %s is outside [0,1)", ErrConfiguration, rate)
	}
	return nil
}

// Withholding 源泉徴収税額
// enabled=false なら常に 0。税率は設定値で、範囲外なら ErrConfiguration
func Withholding(amountJPY decimal.Decimal, enabled bool, rate decimal.Decimal) (decimal.Decimal, error) {
	if !enabled {
		return decimal.Zero, nil
	}
	if amountJPY.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := ValidateWithholdingRate(rate); err != nil {
		return decimal.Zero, err
	}
	return amountJPY.Mul(rate).RoundBank(0), nil
}

// ValidatePercentage 0〜100 のパーセンテージか
func ValidatePercentage(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s is outside [0,100]", ErrInvalidPercentage, percent)
	}
	return nil
}

// Prorate 家事按分
// enabled=false なら金額をそのまま返す
func Prorate(amountJPY decimal.Decimal, enabled bool, percent decimal.Decimal) (decimal.Decimal, error) {
	if !enabled {
		return amountJPY, nil
	}
	if amountJPY.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := ValidatePercentage(percent); err != nil {
		return decimal.Zero, err
	}
	return amountJPY.Mul(percent).Div(hundred).RoundBank(0), nil
}

// FiscalYear 日付が属する年度
// startMonth=1 なら暦年（個人の確定申告）。4 なら 4月〜翌3月を開始年の年度とする
func FiscalYear(date time.Time, startMonth int) int {
	if startMonth <= 1 || int(date.Month()) >= startMonth {
		return date.Year()
	}
	return date.Year() - 1
}
