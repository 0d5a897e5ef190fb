package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const filingSheet = "申告用集計"

// ExportXLSX 申告用集計を Excel ブックで書き出す
func ExportXLSX(w io.Writer, agg *Aggregation, fiscalYear int) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", filingSheet); err != nil {
		return err
	}

	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4F81BD"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	})
	numFmt := "#,##0"
	dataStyle, _ := f.NewStyle(&excelize.Style{
		Border:       border,
		CustomNumFmt: &numFmt,
	})
	totalStyle, _ := f.NewStyle(&excelize.Style{
		Font:         &excelize.Font{Bold: true, Size: 11},
		Fill:         excelize.Fill{Type: "pattern", Color: []string{"FFC000"}, Pattern: 1},
		Border:       border,
		CustomNumFmt: &numFmt,
	})

	f.SetColWidth(filingSheet, "A", "A", 24)
	f.SetColWidth(filingSheet, "B", "E", 16)

	f.SetCellValue(filingSheet, "A1", fmt.Sprintf("%d年度 %s別集計", fiscalYear, agg.GroupBy.Label()))
	for i, header := range FilingHeader(agg.GroupBy) {
		cell := fmt.Sprintf("%c2", 'A'+i)
		f.SetCellValue(filingSheet, cell, header)
		f.SetCellStyle(filingSheet, cell, cell, headerStyle)
	}

	row := 3
	writeRow := func(label string, t Totals, style int) {
		f.SetCellValue(filingSheet, fmt.Sprintf("A%d", row), label)
		f.SetCellValue(filingSheet, fmt.Sprintf("B%d", row), t.Income.IntPart())
		f.SetCellValue(filingSheet, fmt.Sprintf("C%d", row), t.Expense.IntPart())
		f.SetCellValue(filingSheet, fmt.Sprintf("D%d", row), t.Net().IntPart())
		f.SetCellValue(filingSheet, fmt.Sprintf("E%d", row), t.Withholding.IntPart())
		f.SetCellStyle(filingSheet, fmt.Sprintf("A%d", row), fmt.Sprintf("E%d", row), style)
		row++
	}
	for _, g := range agg.Sorted() {
		writeRow(GroupLabel(g.Key), g.Totals, dataStyle)
	}
	writeRow(totalLabel, agg.Total, totalStyle)

	return f.Write(w)
}
