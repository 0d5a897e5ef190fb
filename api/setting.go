package api

import (
	"errors"
	"time"

	"taxbook/calc"
	"taxbook/middleware"
	"taxbook/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingHandler ユーザー設定
type SettingHandler struct {
	db *gorm.DB
}

func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

type SettingRequest struct {
	Value string `json:"value"`
}

// GetAll 全設定（未設定のキーはデフォルト値）
// @Summary 設定の一覧
// @Tags 設定
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=map[string]string}
// @Router /api/v1/settings [get]
func (h *SettingHandler) GetAll(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	var rows []models.Setting
	if err := h.db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "設定の取得に失敗しました"))
		return
	}

	out := make(map[string]string, len(models.DefaultSettings)+len(rows))
	for k, v := range models.DefaultSettings {
		out[k] = v
	}
	for _, s := range rows {
		out[s.Key] = s.Value
	}
	Success(c, out)
}

// Get 1 件取得
// @Summary 設定の取得
// @Tags 設定
// @Produce json
// @Security BearerAuth
// @Param key path string true "キー"
// @Success 200 {object} Response{data=models.Setting}
// @Failure 404 {object} Response
// @Router /api/v1/settings/{key} [get]
func (h *SettingHandler) Get(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)
	key := c.Param("key")

	var s models.Setting
	err := h.db.Where(&models.Setting{UserID: userID, Key: key}).First(&s).Error
	if err == nil {
		Success(c, s)
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		InternalError(c, SafeErrorMessage(err, "設定の取得に失敗しました"))
		return
	}
	if v, ok := models.DefaultSettings[key]; ok {
		Success(c, models.Setting{Key: key, Value: v})
		return
	}
	NotFound(c, "設定が見つかりません")
}

// Put 設定を保存（upsert）
// @Summary 設定の保存
// @Tags 設定
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "キー"
// @Param request body SettingRequest true "値"
// @Success 200 {object} Response{data=models.Setting}
// @Router /api/v1/settings/{key} [put]
func (h *SettingHandler) Put(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	key, err := sanitizeText("キー", c.Param("key"), maxSettingKeyLen)
	if err != nil || key == "" {
		BadRequest(c, "キーは 1〜50 文字で指定してください")
		return
	}

	var req SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "入力内容に誤りがあります: "+err.Error())
		return
	}
	value, err := sanitizeText("値", req.Value, maxSettingValLen)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	if models.IsPercentageSetting(key) {
		p, err := decimal.NewFromString(value)
		if err != nil || calc.ValidatePercentage(p) != nil {
			BadRequest(c, "按分率は 0〜100 の数値で指定してください")
			return
		}
	}

	s := models.Setting{UserID: userID, Key: key, Value: value, UpdatedAt: time.Now()}
	if err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&s).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "設定の保存に失敗しました"))
		return
	}
	SuccessWithMessage(c, "保存しました", s)
}
