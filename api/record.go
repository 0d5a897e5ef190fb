package api

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"

	"taxbook/calc"
	"taxbook/logger"
	"taxbook/middleware"
	"taxbook/models"
	"taxbook/storage"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RecordHandler 収支の記録
type RecordHandler struct {
	db    *gorm.DB
	rules calc.Rules
	store storage.ObjectStore
}

// NewRecordHandler 記録ハンドラーを作る
func NewRecordHandler(db *gorm.DB, rules calc.Rules, store storage.ObjectStore) *RecordHandler {
	return &RecordHandler{db: db, rules: rules, store: store}
}

// RecordRequest 記録の作成・更新
type RecordRequest struct {
	Date           string              `json:"date" binding:"required" example:"2024-06-15"`
	Type           string              `json:"type" binding:"required,oneof=income expense" example:"income"`
	Category       string              `json:"category" binding:"required" example:"報酬"`
	Client         string              `json:"client" example:"Acme Inc."`
	Description    string              `json:"description" example:"6月分 翻訳"`
	Currency       string              `json:"currency" example:"USD"`
	AmountOriginal decimal.NullDecimal `json:"amount_original" swaggertype:"string" example:"1000"`
	TTM            decimal.NullDecimal `json:"ttm" swaggertype:"string" example:"150"`
	WithholdingTax bool                `json:"withholding_tax"`
	Proration      bool                `json:"proration"`
	ProrationRate  decimal.NullDecimal `json:"proration_rate" swaggertype:"string" example:"100"`
	AttachmentPath *string             `json:"attachment_path"`
}

// errBadInput ユーザー入力の誤り（400）
type errBadInput struct{ msg string }

func (e errBadInput) Error() string { return e.msg }

func badInput(msg string) error { return errBadInput{msg: msg} }

// build 入力を検証し、派生項目まで計算済みの記録を作る
// どれかが不正なら何も返さない
func (h *RecordHandler) build(userID uint, req *RecordRequest) (*models.Record, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, badInput(err.Error())
	}
	currency, err := calc.ParseCurrency(req.Currency)
	if err != nil {
		return nil, badInput(calcErrorMessage(err))
	}
	if !req.AmountOriginal.Valid {
		return nil, badInput("金額を入力してください")
	}
	if err := calc.CheckPrecision(req.AmountOriginal.Decimal, currency); err != nil {
		return nil, badInput(calcErrorMessage(err))
	}

	category, err := sanitizeText("勘定科目", req.Category, maxCategoryLen)
	if err != nil {
		return nil, badInput(err.Error())
	}
	if category == "" {
		return nil, badInput("勘定科目を入力してください")
	}
	client, err := sanitizeText("取引先", req.Client, maxClientLen)
	if err != nil {
		return nil, badInput(err.Error())
	}
	description, err := sanitizeText("摘要", req.Description, maxDescriptionLen)
	if err != nil {
		return nil, badInput(err.Error())
	}

	recordType := models.RecordType(req.Type)
	var n int64
	if err := h.db.Model(&models.Category{}).
		Where("user_id = ? AND type = ? AND name = ?", userID, recordType, category).
		Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, badInput("勘定科目「" + category + "」は登録されていません")
	}

	var attachment *string
	if req.AttachmentPath != nil && *req.AttachmentPath != "" {
		if !storage.OwnedBy(*req.AttachmentPath, userID) {
			return nil, badInput("添付ファイルのパスが不正です")
		}
		p := *req.AttachmentPath
		attachment = &p
	}

	prorationRate := req.ProrationRate.Decimal
	if !req.ProrationRate.Valid {
		prorationRate = decimal.NewFromInt(100)
	}

	derived, err := calc.Derive(calc.Input{
		Date:           date,
		Currency:       currency,
		AmountOriginal: req.AmountOriginal.Decimal,
		TTM:            req.TTM,
		WithholdingTax: req.WithholdingTax,
		Proration:      req.Proration,
		ProrationRate:  prorationRate,
	}, h.rules)
	if err != nil {
		if errors.Is(err, calc.ErrConfiguration) {
			return nil, err
		}
		return nil, badInput(calcErrorMessage(err))
	}

	r := &models.Record{
		UserID:         userID,
		Date:           date,
		Type:           recordType,
		Category:       category,
		Client:         client,
		Description:    description,
		Currency:       currency,
		AmountOriginal: req.AmountOriginal.Decimal,
		WithholdingTax: req.WithholdingTax,
		Proration:      req.Proration,
		AttachmentPath: attachment,
	}
	r.Apply(derived)
	return r, nil
}

func (h *RecordHandler) respondBuildError(c *gin.Context, err error) {
	var bad errBadInput
	if errors.As(err, &bad) {
		BadRequest(c, bad.msg)
		return
	}
	logger.FromContext(c.Request.Context()).Error().Err(err).Msg("記録の計算に失敗")
	InternalError(c, SafeErrorMessage(err, "記録の保存に失敗しました"))
}

// Create 記録を作成
// @Summary 記録を作成
// @Description 円換算額・源泉徴収税額・按分後金額・年度はサーバー側で計算する
// @Tags 記録
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RecordRequest true "記録"
// @Success 200 {object} Response{data=models.Record}
// @Failure 400 {object} Response "入力エラー"
// @Router /api/v1/records [post]
func (h *RecordHandler) Create(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "入力内容に誤りがあります: "+err.Error())
		return
	}

	record, err := h.build(userID, &req)
	if err != nil {
		h.respondBuildError(c, err)
		return
	}

	if err := h.db.Create(record).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "記録の保存に失敗しました"))
		return
	}

	SuccessWithMessage(c, "保存しました", record)
}

// List 記録の一覧
// @Summary 記録の一覧
// @Tags 記録
// @Produce json
// @Security BearerAuth
// @Param fiscal_year query int false "年度"
// @Param type query string false "income / expense"
// @Param category query string false "勘定科目"
// @Param keyword query string false "取引先・摘要の部分一致"
// @Param start_date query string false "開始日 (YYYY-MM-DD)"
// @Param end_date query string false "終了日 (YYYY-MM-DD)"
// @Param page query int false "ページ" default(1)
// @Param page_size query int false "件数" default(20)
// @Success 200 {object} Response{data=PageResponse}
// @Router /api/v1/records [get]
func (h *RecordHandler) List(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := h.db.Model(&models.Record{}).Where("user_id = ?", userID)

	if fy := c.Query("fiscal_year"); fy != "" {
		year, err := strconv.Atoi(fy)
		if err != nil {
			BadRequest(c, "fiscal_year が不正です")
			return
		}
		query = query.Where("fiscal_year = ?", year)
	}
	if t := c.Query("type"); t != "" {
		if !models.RecordType(t).Valid() {
			BadRequest(c, "type は income または expense を指定してください")
			return
		}
		query = query.Where("type = ?", t)
	}
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if kw := strings.TrimSpace(c.Query("keyword")); kw != "" {
		like := "%" + escapeLikeValue(html.EscapeString(kw)) + "%"
		query = query.Where("(client LIKE ? OR description LIKE ?)", like, like)
	}
	if s := c.Query("start_date"); s != "" {
		start, err := parseDate(s)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		query = query.Where("date >= ?", start)
	}
	if s := c.Query("end_date"); s != "" {
		end, err := parseDate(s)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		query = query.Where("date <= ?", end)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "記録の取得に失敗しました"))
		return
	}

	var records []models.Record
	if err := query.Order("date DESC, created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "記録の取得に失敗しました"))
		return
	}

	Success(c, PageResponse{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		List:     records,
	})
}

func (h *RecordHandler) find(c *gin.Context) (*models.Record, bool) {
	userID := middleware.GetCurrentUserID(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "ID が不正です")
		return nil, false
	}

	var record models.Record
	if err := h.db.Where("id = ? AND user_id = ?", id, userID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "記録が見つかりません")
		} else {
			InternalError(c, SafeErrorMessage(err, "記録の取得に失敗しました"))
		}
		return nil, false
	}
	return &record, true
}

// Get 記録を 1 件取得
// @Summary 記録の取得
// @Tags 記録
// @Produce json
// @Security BearerAuth
// @Param id path int true "記録 ID"
// @Success 200 {object} Response{data=models.Record}
// @Failure 404 {object} Response
// @Router /api/v1/records/{id} [get]
func (h *RecordHandler) Get(c *gin.Context) {
	record, ok := h.find(c)
	if !ok {
		return
	}
	Success(c, record)
}

// Update 記録を置き換える（派生項目はすべて再計算）
// @Summary 記録の更新
// @Tags 記録
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "記録 ID"
// @Param request body RecordRequest true "記録"
// @Success 200 {object} Response{data=models.Record}
// @Router /api/v1/records/{id} [put]
func (h *RecordHandler) Update(c *gin.Context) {
	existing, ok := h.find(c)
	if !ok {
		return
	}

	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "入力内容に誤りがあります: "+err.Error())
		return
	}

	record, err := h.build(existing.UserID, &req)
	if err != nil {
		h.respondBuildError(c, err)
		return
	}
	record.ID = existing.ID
	record.CreatedAt = existing.CreatedAt

	if err := h.db.Save(record).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "記録の更新に失敗しました"))
		return
	}

	// 差し替えられた添付ファイルは削除
	if existing.HasAttachment() && (!record.HasAttachment() || *record.AttachmentPath != *existing.AttachmentPath) {
		h.removeAttachment(c.Request.Context(), existing)
	}

	SuccessWithMessage(c, "更新しました", record)
}

// Delete 記録を削除（添付ファイルも削除）
// @Summary 記録の削除
// @Tags 記録
// @Produce json
// @Security BearerAuth
// @Param id path int true "記録 ID"
// @Success 200 {object} Response
// @Router /api/v1/records/{id} [delete]
func (h *RecordHandler) Delete(c *gin.Context) {
	record, ok := h.find(c)
	if !ok {
		return
	}

	if err := h.db.Delete(&models.Record{}, record.ID).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "記録の削除に失敗しました"))
		return
	}
	h.removeAttachment(c.Request.Context(), record)

	SuccessWithMessage(c, "削除しました", nil)
}

// removeAttachment 失敗してもログに残すだけ
func (h *RecordHandler) removeAttachment(ctx context.Context, r *models.Record) {
	if h.store == nil || !r.HasAttachment() {
		return
	}
	if err := h.store.Delete(ctx, *r.AttachmentPath); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.FromContext(ctx).Warn().Err(err).Uint("record_id", r.ID).Str("path", *r.AttachmentPath).Msg("添付ファイルの削除に失敗")
	}
}

// Clients 取引先の候補（重複なし、昇順）
// @Summary 取引先の候補
// @Tags 記録
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]string}
// @Router /api/v1/records/clients [get]
func (h *RecordHandler) Clients(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	clients := []string{}
	if err := h.db.Model(&models.Record{}).
		Where("user_id = ? AND client <> ''", userID).
		Distinct("client").
		Order("client").
		Pluck("client", &clients).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "取引先の取得に失敗しました"))
		return
	}
	Success(c, clients)
}

// Descriptions よく使う摘要（使用回数の多い順）
// @Summary 摘要の候補
// @Tags 記録
// @Produce json
// @Security BearerAuth
// @Param limit query int false "件数" default(50)
// @Success 200 {object} Response{data=[]string}
// @Router /api/v1/records/descriptions [get]
func (h *RecordHandler) Descriptions(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var rows []struct {
		Description string
		Cnt         int64
	}
	if err := h.db.Model(&models.Record{}).
		Select("description, COUNT(*) AS cnt").
		Where("user_id = ? AND description <> ''", userID).
		Group("description").
		Order("cnt DESC, description").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "摘要の取得に失敗しました"))
		return
	}

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Description)
	}
	Success(c, out)
}
