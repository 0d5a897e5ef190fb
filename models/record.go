package models

import (
	"time"

	"taxbook/calc"

	"github.com/shopspring/decimal"
)

// RecordType 収入 / 経費
type RecordType string

const (
	RecordTypeIncome  RecordType = "income"
	RecordTypeExpense RecordType = "expense"
)

// Valid 既知の種別か
func (t RecordType) Valid() bool {
	return t == RecordTypeIncome || t == RecordTypeExpense
}

// Label 帳票・ファイル名に使う表示名
func (t RecordType) Label() string {
	if t == RecordTypeIncome {
		return "収入"
	}
	return "経費"
}

// Record 収支の記録 1 件
// AmountJPY / WithholdingAmount / AmountProrated / FiscalYear は calc.Derive で計算した値のみを保存する
type Record struct {
	ID                uint                `json:"id" gorm:"primaryKey"`
	UserID            uint                `json:"user_id" gorm:"index:idx_records_user_year;not null"`
	Date              time.Time           `json:"date" gorm:"type:date;not null;index"`
	Type              RecordType          `json:"type" gorm:"size:10;not null"`
	Category          string              `json:"category" gorm:"size:50;not null"`
	Client            string              `json:"client" gorm:"size:100;default:''"`
	Description       string              `json:"description" gorm:"size:500;default:''"`
	Currency          calc.Currency       `json:"currency" gorm:"size:3;not null;default:JPY"`
	AmountOriginal    decimal.Decimal     `json:"amount_original" gorm:"type:decimal(15,2);not null"`
	TTM               decimal.NullDecimal `json:"ttm" gorm:"type:decimal(12,4)"`
	AmountJPY         decimal.Decimal     `json:"amount_jpy" gorm:"type:decimal(15,0);not null"`
	WithholdingTax    bool                `json:"withholding_tax" gorm:"not null;default:false"`
	WithholdingAmount decimal.Decimal     `json:"withholding_amount" gorm:"type:decimal(15,0);not null;default:0"`
	Proration         bool                `json:"proration" gorm:"not null;default:false"`
	ProrationRate     decimal.Decimal     `json:"proration_rate" gorm:"type:decimal(5,2);not null;default:100"`
	AmountProrated    decimal.Decimal     `json:"amount_prorated" gorm:"type:decimal(15,0);not null"`
	AttachmentPath    *string             `json:"attachment_path" gorm:"size:255"`
	FiscalYear        int                 `json:"fiscal_year" gorm:"index:idx_records_user_year;not null"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	User              User                `json:"-" gorm:"foreignKey:UserID"`
}

// TableName テーブル名
func (Record) TableName() string {
	return "records"
}

// HasAttachment 添付ファイルの参照を持っているか
func (r *Record) HasAttachment() bool {
	return r.AttachmentPath != nil && *r.AttachmentPath != ""
}

// Apply 計算済みの派生項目を反映する
func (r *Record) Apply(d calc.Derived) {
	r.TTM = d.TTM
	r.AmountJPY = d.AmountJPY
	r.WithholdingAmount = d.WithholdingAmount
	r.ProrationRate = d.ProrationRate
	r.AmountProrated = d.AmountProrated
	r.FiscalYear = d.FiscalYear
}
