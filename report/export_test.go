package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"taxbook/calc"
	"taxbook/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func readCSV(t *testing.T, b []byte) [][]string {
	t.Helper()
	require.True(t, bytes.HasPrefix(b, []byte(BOM)))
	rows, err := csv.NewReader(bytes.NewReader(b[len(BOM):])).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExport_Raw(t *testing.T) {
	path := "1/2024/20240615_120000_abcd1234.jpg"
	created := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	usd := models.Record{
		ID:                7,
		Date:              time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
		Type:              models.RecordTypeIncome,
		Category:          "報酬",
		Client:            `Acme, "Inc"`,
		Description:       "翻訳\n6月分",
		Currency:          calc.USD,
		AmountOriginal:    d("1000"),
		TTM:               decimal.NewNullDecimal(d("150")),
		AmountJPY:         d("150000"),
		WithholdingTax:    true,
		WithholdingAmount: d("15315"),
		ProrationRate:     d("100"),
		AmountProrated:    d("150000"),
		AttachmentPath:    &path,
		FiscalYear:        2024,
		CreatedAt:         created,
		UpdatedAt:         created,
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, Aggregate([]models.Record{usd}, GroupCategory), LayoutRaw))

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, RawHeader, rows[0])
	assert.Equal(t, []string{
		"7", "2024-06-15", "収入", "報酬", `Acme, "Inc"`, "翻訳\n6月分", "USD",
		"1000.00", "150.00", "150000", "あり", "15315",
		"", "100.00", "150000", path, "2024",
		"2024-06-15 12:00:00", "2024-06-15 12:00:00",
	}, rows[1])

	// 区切り文字・引用符はエスケープされている
	assert.Contains(t, buf.String(), `"Acme, ""Inc"""`)
}

func TestExport_RawJPYLeavesTTMEmpty(t *testing.T) {
	r := newRecord(1, "2024-03-01", models.RecordTypeExpense, "通信費", "", "3000", "0")
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, Aggregate([]models.Record{r}, GroupCategory), LayoutRaw))

	rows := readCSV(t, buf.Bytes())
	assert.Equal(t, "3000", rows[1][7])
	assert.Equal(t, "", rows[1][8])
	assert.Equal(t, "", rows[1][10])
}

func TestExport_Filing(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, Aggregate(sampleRecords(), GroupCategory), LayoutFiling))

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"勘定科目", "収入合計", "経費合計", "差引", "源泉徴収税額"}, rows[0])

	// キー昇順
	labels := []string{}
	for _, row := range rows[1:5] {
		labels = append(labels, row[0])
	}
	assert.True(t, sortedStrings(labels), "labels not sorted: %v", labels)

	last := rows[len(rows)-1]
	assert.Equal(t, []string{"合計", "350000", "48000", "302000", "30630"}, last)
}

func TestExport_RawRowsSumToFilingTotal(t *testing.T) {
	// 円未満が残った記録も、明細と合計が同じ丸めで一致する
	records := []models.Record{
		newRecord(1, "2024-01-10", models.RecordTypeIncome, "報酬", "A社", "100.5", "0"),
		newRecord(2, "2024-01-11", models.RecordTypeIncome, "報酬", "A社", "100.5", "0"),
		newRecord(3, "2024-01-12", models.RecordTypeIncome, "報酬", "B社", "101.5", "0"),
	}
	agg := Aggregate(records, GroupCategory)

	var raw bytes.Buffer
	require.NoError(t, Export(&raw, agg, LayoutRaw))
	sum := decimal.Zero
	for _, row := range readCSV(t, raw.Bytes())[1:] {
		sum = sum.Add(d(row[14]))
	}

	var filing bytes.Buffer
	require.NoError(t, Export(&filing, agg, LayoutFiling))
	rows := readCSV(t, filing.Bytes())
	total := rows[len(rows)-1]

	assert.Equal(t, "合計", total[0])
	assert.Equal(t, "302", total[1])
	assert.Equal(t, sum.String(), total[1])
}

func TestYen_RoundsHalfToEven(t *testing.T) {
	assert.Equal(t, "100", yen(d("100.5")))
	assert.Equal(t, "102", yen(d("101.5")))
	assert.Equal(t, "150000", yen(d("150000")))
}

func TestExport_FilingByClientLabelsEmptyKey(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, Aggregate(sampleRecords(), GroupClient), LayoutFiling))

	rows := readCSV(t, buf.Bytes())
	assert.Equal(t, "取引先", rows[0][0])
	assert.Equal(t, "(未設定)", rows[1][0])
}

func TestExport_Idempotent(t *testing.T) {
	agg := Aggregate(sampleRecords(), GroupCategory)
	for _, layout := range []Layout{LayoutRaw, LayoutFiling} {
		var first, second bytes.Buffer
		require.NoError(t, Export(&first, agg, layout))
		require.NoError(t, Export(&second, agg, layout))
		assert.Equal(t, first.Bytes(), second.Bytes(), "layout %s", layout)
	}
}

func TestExport_EmptyAggregation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, Aggregate(nil, GroupCategory), LayoutFiling))
	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"合計", "0", "0", "0", "0"}, rows[1])
}

func TestExport_UnknownLayout(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Export(&buf, Aggregate(nil, GroupCategory), Layout("pdf")))

	_, err := ParseLayout("pdf")
	assert.Error(t, err)
	l, err := ParseLayout("filing")
	require.NoError(t, err)
	assert.Equal(t, LayoutFiling, l)
}

func TestExportXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportXLSX(&buf, Aggregate(sampleRecords(), GroupCategory), 2024))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue(filingSheet, "A1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(title, "2024年度"))

	header, _ := f.GetCellValue(filingSheet, "B2")
	assert.Equal(t, "収入合計", header)

	// 4 グループ + 合計行
	total, _ := f.GetCellValue(filingSheet, "A7")
	assert.Equal(t, "合計", total)
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}
