package api

import (
	"bytes"
	"fmt"
	"net/http"

	"taxbook/logger"
	"taxbook/middleware"
	"taxbook/models"
	"taxbook/report"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReportHandler 集計と帳票
type ReportHandler struct {
	db *gorm.DB
}

// NewReportHandler 帳票ハンドラーを作る
func NewReportHandler(db *gorm.DB) *ReportHandler {
	return &ReportHandler{db: db}
}

// TotalsResponse 合計と差引
type TotalsResponse struct {
	Income      decimal.Decimal `json:"income"`
	Expense     decimal.Decimal `json:"expense"`
	Net         decimal.Decimal `json:"net"`
	Withholding decimal.Decimal `json:"withholding"`
	Count       int             `json:"count"`
}

// GroupResponse グループごとの合計
type GroupResponse struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	TotalsResponse
}

// SummaryResponse 年度のサマリー
type SummaryResponse struct {
	FiscalYear int                `json:"fiscal_year"`
	Total      TotalsResponse     `json:"total"`
	ByCategory []GroupResponse    `json:"by_category"`
	ByClient   []GroupResponse    `json:"by_client"`
	ByMonth    []GroupResponse    `json:"by_month"`
	Malformed  []report.Malformed `json:"malformed"`
}

func toTotalsResponse(t report.Totals) TotalsResponse {
	return TotalsResponse{
		Income:      t.Income,
		Expense:     t.Expense,
		Net:         t.Net(),
		Withholding: t.Withholding,
		Count:       t.Count,
	}
}

func toGroupResponses(agg *report.Aggregation) []GroupResponse {
	out := make([]GroupResponse, 0, agg.Len())
	for _, g := range agg.Sorted() {
		out = append(out, GroupResponse{
			Key:            g.Key,
			Label:          report.GroupLabel(g.Key),
			TotalsResponse: toTotalsResponse(g.Totals),
		})
	}
	return out
}

// load 年度の記録を日付順で取得する
func (h *ReportHandler) load(c *gin.Context) (int, []models.Record, bool) {
	userID := middleware.GetCurrentUserID(c)
	fy, err := parseFiscalYear(c)
	if err != nil {
		BadRequest(c, err.Error())
		return 0, nil, false
	}

	var records []models.Record
	if err := h.db.Where("user_id = ? AND fiscal_year = ?", userID, fy).
		Order("date, id").
		Find(&records).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "記録の取得に失敗しました"))
		return 0, nil, false
	}
	return fy, records, true
}

// logMalformed 集計から外した記録を残す
func logMalformed(c *gin.Context, agg *report.Aggregation) {
	if len(agg.Malformed) == 0 {
		return
	}
	log := logger.FromContext(c.Request.Context())
	for _, m := range agg.Malformed {
		log.Warn().Uint("record_id", m.RecordID).Str("reason", m.Reason).Msg("不正な記録を集計から除外")
	}
}

// Summary 年度の収支サマリー
// @Summary 年度サマリー
// @Tags 帳票
// @Produce json
// @Security BearerAuth
// @Param fiscal_year query int true "年度"
// @Success 200 {object} Response{data=SummaryResponse}
// @Router /api/v1/reports/summary [get]
func (h *ReportHandler) Summary(c *gin.Context) {
	fy, records, ok := h.load(c)
	if !ok {
		return
	}

	byCategory := report.Aggregate(records, report.GroupCategory)
	logMalformed(c, byCategory)
	byClient := report.Aggregate(records, report.GroupClient)
	byMonth := report.Aggregate(records, report.GroupMonth)

	malformed := byCategory.Malformed
	if malformed == nil {
		malformed = []report.Malformed{}
	}

	Success(c, SummaryResponse{
		FiscalYear: fy,
		Total:      toTotalsResponse(byCategory.Total),
		ByCategory: toGroupResponses(byCategory),
		ByClient:   toGroupResponses(byClient),
		ByMonth:    toGroupResponses(byMonth),
		Malformed:  malformed,
	})
}

// ExportCSV 記録を CSV で出力
// layout=raw は明細、layout=filing は group_by ごとの申告用集計
// @Summary CSV 出力
// @Tags 帳票
// @Produce text/csv
// @Security BearerAuth
// @Param fiscal_year query int true "年度"
// @Param layout query string false "raw / filing"
// @Param group_by query string false "category / client / month / fiscal_year"
// @Success 200 {file} file "CSV"
// @Router /api/v1/reports/export [get]
func (h *ReportHandler) ExportCSV(c *gin.Context) {
	layout, err := report.ParseLayout(c.Query("layout"))
	if err != nil {
		BadRequest(c, "layout は raw または filing を指定してください")
		return
	}
	by, err := report.ParseGroupBy(c.Query("group_by"))
	if err != nil {
		BadRequest(c, "group_by が不正です")
		return
	}
	fy, records, ok := h.load(c)
	if !ok {
		return
	}

	agg := report.Aggregate(records, by)
	logMalformed(c, agg)

	var buf bytes.Buffer
	if err := report.Export(&buf, agg, layout); err != nil {
		InternalError(c, SafeErrorMessage(err, "CSV の作成に失敗しました"))
		return
	}

	filename := fmt.Sprintf("records_%d_%s.csv", fy, layout)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// ExportXLSX 申告用集計を Excel で出力
// @Summary Excel 出力
// @Tags 帳票
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param fiscal_year query int true "年度"
// @Param group_by query string false "category / client / month / fiscal_year"
// @Success 200 {file} file "xlsx"
// @Router /api/v1/reports/export/xlsx [get]
func (h *ReportHandler) ExportXLSX(c *gin.Context) {
	by, err := report.ParseGroupBy(c.Query("group_by"))
	if err != nil {
		BadRequest(c, "group_by が不正です")
		return
	}
	fy, records, ok := h.load(c)
	if !ok {
		return
	}

	agg := report.Aggregate(records, by)
	logMalformed(c, agg)

	var buf bytes.Buffer
	if err := report.ExportXLSX(&buf, agg, fy); err != nil {
		InternalError(c, SafeErrorMessage(err, "Excel の作成に失敗しました"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=filing_%d_%s.xlsx", fy, by))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
