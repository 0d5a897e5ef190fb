package api

import (
	"errors"
	"net/http"
	"strings"

	"taxbook/extraction"
	"taxbook/logger"
	"taxbook/middleware"
	"taxbook/models"
	"taxbook/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ExtractionHandler 領収書の読み取り
type ExtractionHandler struct {
	db        *gorm.DB
	extractor extraction.Extractor
	maxBytes  int64
}

// NewExtractionHandler extractor が nil のときは読み取り機能を無効として扱う
func NewExtractionHandler(db *gorm.DB, extractor extraction.Extractor, maxBytes int64) *ExtractionHandler {
	return &ExtractionHandler{db: db, extractor: extractor, maxBytes: maxBytes}
}

// DraftResponse フォームにそのまま流し込める形の下書き
type DraftResponse struct {
	Date        string  `json:"date,omitempty"`
	Amount      string  `json:"amount,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	Client      *string `json:"client,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
	Type        string  `json:"type,omitempty"`
}

func toDraftResponse(d *extraction.Draft) DraftResponse {
	out := DraftResponse{
		Date:        extraction.FormatDate(d.Date),
		Client:      d.Client,
		Description: d.Description,
		Category:    d.Category,
	}
	if d.Amount != nil {
		out.Amount = d.Amount.String()
	}
	if d.Currency != nil {
		out.Currency = string(*d.Currency)
	}
	if d.Type != nil {
		out.Type = string(*d.Type)
	}
	return out
}

// Extract 領収書を読み取って記録の下書きを返す
// 失敗しても手入力で続けられるよう、status=failed を返す
// @Summary 領収書の読み取り
// @Tags 読み取り
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "画像または PDF"
// @Success 200 {object} Response{data=map[string]interface{}}
// @Failure 502 {object} Response "読み取り失敗"
// @Failure 503 {object} Response "読み取り機能が無効"
// @Router /api/v1/extract [post]
func (h *ExtractionHandler) Extract(c *gin.Context) {
	if h.extractor == nil {
		ErrorWithData(c, http.StatusServiceUnavailable, "領収書の読み取りは利用できません。手動で入力してください", gin.H{"status": "failed"})
		return
	}
	userID := middleware.GetCurrentUserID(c)
	log := logger.FromContext(c.Request.Context())

	upload, err := readUpload(c, h.maxBytes)
	if err != nil {
		if errors.Is(err, service.ErrInvalidUpload) {
			BadRequest(c, strings.TrimPrefix(err.Error(), service.ErrInvalidUpload.Error()+": "))
			return
		}
		InternalError(c, SafeErrorMessage(err, "ファイルの読み込みに失敗しました"))
		return
	}

	draft, err := h.extractor.Extract(c.Request.Context(), upload.Data, upload.MIMEType)
	if err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Str("mime", upload.MIMEType).Msg("領収書の読み取りに失敗")
		ErrorWithData(c, http.StatusBadGateway, "読み取りに失敗しました。手動で入力してください", gin.H{"status": "failed"})
		return
	}

	h.filterCategory(userID, draft)

	Success(c, gin.H{
		"status": "success",
		"draft":  toDraftResponse(draft),
	})
}

// filterCategory ユーザーの勘定科目にない科目名は捨てる
func (h *ExtractionHandler) filterCategory(userID uint, d *extraction.Draft) {
	if d.Category == nil {
		return
	}
	query := h.db.Model(&models.Category{}).Where("user_id = ? AND name = ?", userID, *d.Category)
	if d.Type != nil {
		query = query.Where("type = ?", string(*d.Type))
	}
	var count int64
	if err := query.Count(&count).Error; err != nil || count == 0 {
		d.Category = nil
	}
}
