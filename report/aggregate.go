// Package report 記録の集計と帳票出力
package report

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"taxbook/calc"
	"taxbook/models"

	"github.com/shopspring/decimal"
)

// ErrMalformedRecord 派生項目が欠けている・壊れている記録
var ErrMalformedRecord = errors.New("malformed record")

// GroupBy 集計軸
type GroupBy string

const (
	GroupFiscalYear GroupBy = "fiscal_year"
	GroupCategory   GroupBy = "category"
	GroupClient     GroupBy = "client"
	GroupMonth      GroupBy = "month"
)

// ParseGroupBy クエリ文字列から集計軸を得る。空は勘定科目
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(s) {
	case "", GroupCategory:
		return GroupCategory, nil
	case GroupFiscalYear, GroupClient, GroupMonth:
		return GroupBy(s), nil
	}
	return "", fmt.Errorf("unknown group_by %q", s)
}

// Label 帳票の見出し
func (g GroupBy) Label() string {
	switch g {
	case GroupFiscalYear:
		return "年度"
	case GroupClient:
		return "取引先"
	case GroupMonth:
		return "月"
	}
	return "勘定科目"
}

// Totals グループごとの合計
type Totals struct {
	Income      decimal.Decimal `json:"income"`
	Expense     decimal.Decimal `json:"expense"`
	Withholding decimal.Decimal `json:"withholding"`
	Count       int             `json:"count"`
}

// Net 収入 - 経費
func (t Totals) Net() decimal.Decimal {
	return t.Income.Sub(t.Expense)
}

// Add 2 つの合計を足し合わせる
func (t Totals) Add(o Totals) Totals {
	return Totals{
		Income:      t.Income.Add(o.Income),
		Expense:     t.Expense.Add(o.Expense),
		Withholding: t.Withholding.Add(o.Withholding),
		Count:       t.Count + o.Count,
	}
}

// Equal 金額・件数がすべて一致するか
func (t Totals) Equal(o Totals) bool {
	return t.Income.Equal(o.Income) &&
		t.Expense.Equal(o.Expense) &&
		t.Withholding.Equal(o.Withholding) &&
		t.Count == o.Count
}

// add 1 件分を加える。金額は出力と同じく円単位に偶数丸めしてから足す
func (t Totals) add(r *models.Record) Totals {
	t.Count++
	switch r.Type {
	case models.RecordTypeIncome:
		t.Income = t.Income.Add(roundJPY(r.AmountProrated))
		t.Withholding = t.Withholding.Add(roundJPY(r.WithholdingAmount))
	case models.RecordTypeExpense:
		t.Expense = t.Expense.Add(roundJPY(r.AmountProrated))
	}
	return t
}

func roundJPY(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(calc.LocalCurrency.MinorUnits())
}

// Group 集計キーと合計
type Group struct {
	Key    string `json:"key"`
	Totals Totals `json:"totals"`
}

// Malformed 集計から除外した記録
type Malformed struct {
	RecordID uint   `json:"record_id"`
	Reason   string `json:"reason"`
}

func (m Malformed) Error() string {
	return fmt.Sprintf("record %d: %s", m.RecordID, m.Reason)
}

func (m Malformed) Unwrap() error {
	return ErrMalformedRecord
}

// Aggregation 集計結果
// Groups は最初に出現した順。Records は集計に使った記録（入力順）で、明細出力に使う
type Aggregation struct {
	GroupBy   GroupBy     `json:"group_by"`
	Groups    []Group     `json:"groups"`
	Total     Totals      `json:"total"`
	Malformed []Malformed `json:"malformed,omitempty"`

	Records []models.Record `json:"-"`
	index   map[string]int
}

// Get キーの合計を返す
func (a *Aggregation) Get(key string) (Totals, bool) {
	i, ok := a.index[key]
	if !ok {
		return Totals{}, false
	}
	return a.Groups[i].Totals, true
}

// Len グループ数
func (a *Aggregation) Len() int {
	return len(a.Groups)
}

// Sorted キー昇順のコピー
func (a *Aggregation) Sorted() []Group {
	out := make([]Group, len(a.Groups))
	copy(out, a.Groups)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Aggregate 記録を集計軸ごとに合計する
// 壊れた記録は Malformed に積んで飛ばし、残りで集計を続ける
func Aggregate(records []models.Record, by GroupBy) *Aggregation {
	agg := &Aggregation{
		GroupBy: by,
		Groups:  []Group{},
		index:   map[string]int{},
	}

	for i := range records {
		r := &records[i]
		if err := Validate(r); err != nil {
			var m Malformed
			if errors.As(err, &m) {
				agg.Malformed = append(agg.Malformed, m)
			}
			continue
		}

		key := GroupKey(r, by)
		idx, ok := agg.index[key]
		if !ok {
			idx = len(agg.Groups)
			agg.index[key] = idx
			agg.Groups = append(agg.Groups, Group{Key: key})
		}
		agg.Groups[idx].Totals = agg.Groups[idx].Totals.add(r)
		agg.Total = agg.Total.add(r)
		agg.Records = append(agg.Records, *r)
	}
	return agg
}

// GroupKey 記録の集計キー
func GroupKey(r *models.Record, by GroupBy) string {
	switch by {
	case GroupFiscalYear:
		return strconv.Itoa(r.FiscalYear)
	case GroupClient:
		return r.Client
	case GroupMonth:
		return r.Date.Format("2006-01")
	}
	return r.Category
}

// Validate 集計に必要な項目が揃っているか
func Validate(r *models.Record) error {
	bad := func(reason string) error {
		return Malformed{RecordID: r.ID, Reason: reason}
	}
	switch {
	case !r.Type.Valid():
		return bad(fmt.Sprintf("unknown type %q", r.Type))
	case r.Date.IsZero():
		return bad("missing date")
	case r.FiscalYear <= 0:
		return bad("missing fiscal year")
	case r.Category == "":
		return bad("missing category")
	case r.AmountJPY.IsNegative():
		return bad("negative amount_jpy")
	case r.AmountProrated.IsNegative():
		return bad("negative amount_prorated")
	case r.WithholdingAmount.IsNegative():
		return bad("negative withholding_amount")
	case r.AmountProrated.GreaterThan(r.AmountJPY):
		return bad("amount_prorated exceeds amount_jpy")
	}
	return nil
}
