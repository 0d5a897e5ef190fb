package calc

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Rules 記帳時に適用する税務ルール
type Rules struct {
	WithholdingRate      decimal.NullDecimal
	FiscalYearStartMonth int
}

// Validate ルール自体の設定ミスを検出する
func (r Rules) Validate() error {
	if !r.WithholdingRate.Valid {
		return fmt.Errorf("%w: withholding rate is not set", ErrConfiguration)
	}
	if err := ValidateWithholdingRate(r.WithholdingRate.Decimal); err != nil {
		return err
	}
	if r.FiscalYearStartMonth < 1 || r.FiscalYearStartMonth > 12 {
		return fmt.Errorf("%w: fiscal year start month %d", ErrConfiguration, r.FiscalYearStartMonth)
	}
	return nil
}

// Input 派生項目の計算に必要な入力
type Input struct {
	Date           time.Time
	Currency       Currency
	AmountOriginal decimal.Decimal
	TTM            decimal.NullDecimal
	WithholdingTax bool
	Proration      bool
	ProrationRate  decimal.Decimal
}

// Derived 計算済みの派生項目
type Derived struct {
	TTM               decimal.NullDecimal
	AmountJPY         decimal.Decimal
	WithholdingAmount decimal.Decimal
	ProrationRate     decimal.Decimal
	AmountProrated    decimal.Decimal
	FiscalYear        int
}

// Derive 全派生項目をまとめて計算する
// どれか一つでも失敗したら何も返さない（部分的に更新された値を書き込ませない）
func Derive(in Input, rules Rules) (Derived, error) {
	if err := rules.Validate(); err != nil {
		return Derived{}, err
	}
	if in.Date.IsZero() {
		return Derived{}, fmt.Errorf("date is required")
	}

	amountJPY, err := Convert(in.AmountOriginal, in.Currency, in.TTM)
	if err != nil {
		return Derived{}, err
	}
	withholding, err := Withholding(amountJPY, in.WithholdingTax, rules.WithholdingRate.Decimal)
	if err != nil {
		return Derived{}, err
	}

	rate := hundred
	if in.Proration {
		rate = in.ProrationRate
	}
	prorated, err := Prorate(amountJPY, in.Proration, rate)
	if err != nil {
		return Derived{}, err
	}

	ttm := decimal.NullDecimal{}
	if in.Currency != LocalCurrency {
		ttm = in.TTM
	}

	return Derived{
		TTM:               ttm,
		AmountJPY:         amountJPY,
		WithholdingAmount: withholding,
		ProrationRate:     rate,
		AmountProrated:    prorated,
		FiscalYear:        FiscalYear(in.Date, rules.FiscalYearStartMonth),
	}, nil
}
