package report

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"taxbook/calc"
	"taxbook/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newRecord(id uint, date string, typ models.RecordType, category, client string, prorated, withholding string) models.Record {
	dt, _ := time.Parse("2006-01-02", date)
	amount := d(prorated)
	return models.Record{
		ID:                id,
		UserID:            1,
		Date:              dt,
		Type:              typ,
		Category:          category,
		Client:            client,
		Currency:          calc.JPY,
		AmountOriginal:    amount,
		AmountJPY:         amount,
		WithholdingAmount: d(withholding),
		ProrationRate:     d("100"),
		AmountProrated:    amount,
		FiscalYear:        dt.Year(),
	}
}

func sampleRecords() []models.Record {
	return []models.Record{
		newRecord(1, "2024-01-10", models.RecordTypeIncome, "報酬", "A社", "100000", "10210"),
		newRecord(2, "2024-01-20", models.RecordTypeExpense, "通信費", "NTT", "5000", "0"),
		newRecord(3, "2024-02-05", models.RecordTypeIncome, "報酬", "B社", "200000", "20420"),
		newRecord(4, "2024-02-15", models.RecordTypeExpense, "地代家賃", "大家", "40000", "0"),
		newRecord(5, "2024-03-01", models.RecordTypeExpense, "通信費", "A社", "3000", "0"),
		newRecord(6, "2023-12-31", models.RecordTypeIncome, "給与", "", "50000", "0"),
	}
}

func totalsMap(agg *Aggregation) map[string]Totals {
	m := map[string]Totals{}
	for _, g := range agg.Groups {
		m[g.Key] = g.Totals
	}
	return m
}

func assertSameTotals(t *testing.T, want, got map[string]Totals) {
	t.Helper()
	require.Len(t, got, len(want))
	for k, w := range want {
		g, ok := got[k]
		require.True(t, ok, "missing group %q", k)
		assert.True(t, w.Equal(g), "group %q: want %+v got %+v", k, w, g)
	}
}

func TestAggregate_ByCategory(t *testing.T) {
	agg := Aggregate(sampleRecords(), GroupCategory)

	require.Equal(t, 4, agg.Len())
	assert.Equal(t, []string{"報酬", "通信費", "地代家賃", "給与"}, []string{
		agg.Groups[0].Key, agg.Groups[1].Key, agg.Groups[2].Key, agg.Groups[3].Key,
	})

	fee, ok := agg.Get("報酬")
	require.True(t, ok)
	assert.True(t, fee.Income.Equal(d("300000")))
	assert.True(t, fee.Expense.IsZero())
	assert.True(t, fee.Withholding.Equal(d("30630")))
	assert.Equal(t, 2, fee.Count)

	comm, _ := agg.Get("通信費")
	assert.True(t, comm.Expense.Equal(d("8000")))
	assert.True(t, comm.Net().Equal(d("-8000")))

	assert.True(t, agg.Total.Income.Equal(d("350000")))
	assert.True(t, agg.Total.Expense.Equal(d("48000")))
	assert.Equal(t, 6, agg.Total.Count)
	assert.Empty(t, agg.Malformed)
}

func TestAggregate_OtherDimensions(t *testing.T) {
	byClient := Aggregate(sampleRecords(), GroupClient)
	a, ok := byClient.Get("A社")
	require.True(t, ok)
	assert.True(t, a.Income.Equal(d("100000")))
	assert.True(t, a.Expense.Equal(d("3000")))
	_, ok = byClient.Get("")
	assert.True(t, ok, "records without a client keep an empty key")

	byYear := Aggregate(sampleRecords(), GroupFiscalYear)
	assert.Equal(t, 2, byYear.Len())
	y2023, _ := byYear.Get("2023")
	assert.Equal(t, 1, y2023.Count)

	byMonth := Aggregate(sampleRecords(), GroupMonth)
	feb, ok := byMonth.Get("2024-02")
	require.True(t, ok)
	assert.True(t, feb.Income.Equal(d("200000")))
	assert.True(t, feb.Expense.Equal(d("40000")))
}

func TestAggregate_WithholdingOnlyFromIncome(t *testing.T) {
	r := newRecord(1, "2024-05-01", models.RecordTypeExpense, "支払手数料", "", "1000", "102")
	agg := Aggregate([]models.Record{r}, GroupCategory)
	assert.True(t, agg.Total.Withholding.IsZero())
}

func TestAggregate_UsesProratedAmount(t *testing.T) {
	r := newRecord(1, "2024-05-01", models.RecordTypeExpense, "地代家賃", "", "100000", "0")
	r.Proration = true
	r.ProrationRate = d("30")
	r.AmountProrated = d("30000")

	agg := Aggregate([]models.Record{r}, GroupCategory)
	assert.True(t, agg.Total.Expense.Equal(d("30000")))
}

func TestAggregate_Empty(t *testing.T) {
	agg := Aggregate(nil, GroupCategory)
	assert.NotNil(t, agg)
	assert.Equal(t, 0, agg.Len())
	assert.Empty(t, agg.Malformed)
	assert.True(t, agg.Total.Equal(Totals{}))
}

func TestAggregate_SkipsMalformed(t *testing.T) {
	records := sampleRecords()

	badType := newRecord(100, "2024-04-01", "transfer", "報酬", "", "1000", "0")
	noYear := newRecord(101, "2024-04-01", models.RecordTypeIncome, "報酬", "", "1000", "0")
	noYear.FiscalYear = 0
	negative := newRecord(102, "2024-04-01", models.RecordTypeExpense, "通信費", "", "1000", "0")
	negative.AmountProrated = d("-1")
	noDate := newRecord(103, "2024-04-01", models.RecordTypeExpense, "通信費", "", "1000", "0")
	noDate.Date = time.Time{}

	records = append(records, badType, noYear, negative, noDate)
	agg := Aggregate(records, GroupCategory)

	require.Len(t, agg.Malformed, 4)
	ids := []uint{}
	for _, m := range agg.Malformed {
		ids = append(ids, m.RecordID)
		assert.True(t, errors.Is(m, ErrMalformedRecord))
	}
	assert.Equal(t, []uint{100, 101, 102, 103}, ids)

	clean := Aggregate(sampleRecords(), GroupCategory)
	assertSameTotals(t, totalsMap(clean), totalsMap(agg))
	assert.Len(t, agg.Records, len(sampleRecords()))
}

func TestAggregate_OrderIndependent(t *testing.T) {
	records := sampleRecords()
	want := totalsMap(Aggregate(records, GroupCategory))
	wantSorted := Aggregate(records, GroupCategory).Sorted()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]models.Record, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		agg := Aggregate(shuffled, GroupCategory)
		assertSameTotals(t, want, totalsMap(agg))

		sorted := agg.Sorted()
		require.Len(t, sorted, len(wantSorted))
		for j := range sorted {
			assert.Equal(t, wantSorted[j].Key, sorted[j].Key)
		}
	}
}

func TestAggregate_Additive(t *testing.T) {
	all := sampleRecords()
	for _, by := range []GroupBy{GroupCategory, GroupClient, GroupFiscalYear, GroupMonth} {
		left, right := all[:3], all[3:]

		joined := Aggregate(all, by)
		a := Aggregate(left, by)
		b := Aggregate(right, by)

		sum := totalsMap(a)
		for k, v := range totalsMap(b) {
			sum[k] = sum[k].Add(v)
		}
		assertSameTotals(t, sum, totalsMap(joined))
		assert.True(t, joined.Total.Equal(a.Total.Add(b.Total)))
	}
}

func TestParseGroupBy(t *testing.T) {
	g, err := ParseGroupBy("")
	require.NoError(t, err)
	assert.Equal(t, GroupCategory, g)

	g, err = ParseGroupBy("client")
	require.NoError(t, err)
	assert.Equal(t, GroupClient, g)

	_, err = ParseGroupBy("weekday")
	assert.Error(t, err)
}
