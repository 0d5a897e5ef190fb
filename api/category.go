package api

import (
	"errors"
	"strconv"

	"taxbook/logger"
	"taxbook/middleware"
	"taxbook/models"
	"taxbook/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CategoryHandler 勘定科目の管理
type CategoryHandler struct {
	db    *gorm.DB
	store storage.ObjectStore
}

func NewCategoryHandler(db *gorm.DB, store storage.ObjectStore) *CategoryHandler {
	return &CategoryHandler{db: db, store: store}
}

type CategoryCreateRequest struct {
	Type string `json:"type" binding:"required,oneof=income expense"`
	Name string `json:"name" binding:"required"`
}

type CategoryUpdateRequest struct {
	DisplayOrder *int `json:"display_order" binding:"required"`
}

// List 勘定科目の一覧（表示順）
// @Summary 勘定科目の一覧
// @Tags 勘定科目
// @Produce json
// @Security BearerAuth
// @Param type query string false "income / expense"
// @Success 200 {object} Response{data=[]models.Category}
// @Router /api/v1/categories [get]
func (h *CategoryHandler) List(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	query := h.db.Where("user_id = ?", userID)
	if t := c.Query("type"); t != "" {
		if !models.RecordType(t).Valid() {
			BadRequest(c, "type は income または expense を指定してください")
			return
		}
		query = query.Where("type = ?", t)
	}

	list := []models.Category{}
	if err := query.Order("type, display_order, id").Find(&list).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "勘定科目の取得に失敗しました"))
		return
	}
	Success(c, list)
}

// Create 勘定科目を追加（表示順は末尾）
// @Summary 勘定科目の追加
// @Tags 勘定科目
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CategoryCreateRequest true "勘定科目"
// @Success 200 {object} Response{data=models.Category}
// @Failure 409 {object} Response "同名の勘定科目が既にある"
// @Router /api/v1/categories [post]
func (h *CategoryHandler) Create(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	var req CategoryCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "入力内容に誤りがあります: "+err.Error())
		return
	}
	name, err := sanitizeText("勘定科目", req.Name, maxCategoryLen)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if name == "" {
		BadRequest(c, "勘定科目名を入力してください")
		return
	}

	var count int64
	if err := h.db.Model(&models.Category{}).
		Where("user_id = ? AND type = ? AND name = ?", userID, req.Type, name).
		Count(&count).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "勘定科目の確認に失敗しました"))
		return
	}
	if count > 0 {
		Conflict(c, "同じ名前の勘定科目が既にあります")
		return
	}

	var maxOrder int
	if err := h.db.Model(&models.Category{}).
		Where("user_id = ? AND type = ?", userID, req.Type).
		Select("COALESCE(MAX(display_order), -1)").
		Scan(&maxOrder).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "勘定科目の確認に失敗しました"))
		return
	}

	category := models.Category{
		UserID:       userID,
		Type:         models.RecordType(req.Type),
		Name:         name,
		DisplayOrder: maxOrder + 1,
	}
	if err := h.db.Create(&category).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "勘定科目の追加に失敗しました"))
		return
	}
	SuccessWithMessage(c, "追加しました", category)
}

func (h *CategoryHandler) find(c *gin.Context) (*models.Category, bool) {
	userID := middleware.GetCurrentUserID(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "ID が不正です")
		return nil, false
	}

	var category models.Category
	if err := h.db.Where("id = ? AND user_id = ?", id, userID).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "勘定科目が見つかりません")
		} else {
			InternalError(c, SafeErrorMessage(err, "勘定科目の取得に失敗しました"))
		}
		return nil, false
	}
	return &category, true
}

// Update 表示順を変更
// @Summary 勘定科目の表示順変更
// @Tags 勘定科目
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "勘定科目 ID"
// @Param request body CategoryUpdateRequest true "表示順"
// @Success 200 {object} Response{data=models.Category}
// @Router /api/v1/categories/{id} [put]
func (h *CategoryHandler) Update(c *gin.Context) {
	category, ok := h.find(c)
	if !ok {
		return
	}

	var req CategoryUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "入力内容に誤りがあります: "+err.Error())
		return
	}
	if *req.DisplayOrder < 0 {
		BadRequest(c, "表示順は 0 以上で指定してください")
		return
	}

	if err := h.db.Model(category).Update("display_order", *req.DisplayOrder).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "勘定科目の更新に失敗しました"))
		return
	}
	category.DisplayOrder = *req.DisplayOrder
	SuccessWithMessage(c, "更新しました", category)
}

// Delete 勘定科目を削除
// 使用中の場合は cascade=true のときだけ、参照している記録ごと削除する
// @Summary 勘定科目の削除
// @Tags 勘定科目
// @Produce json
// @Security BearerAuth
// @Param id path int true "勘定科目 ID"
// @Param cascade query bool false "参照している記録も削除する"
// @Success 200 {object} Response
// @Failure 409 {object} Response "記録から参照されている"
// @Router /api/v1/categories/{id} [delete]
func (h *CategoryHandler) Delete(c *gin.Context) {
	category, ok := h.find(c)
	if !ok {
		return
	}
	cascade := c.Query("cascade") == "true"

	var dependents []models.Record
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND type = ? AND category = ?", category.UserID, category.Type, category.Name).
			Find(&dependents).Error; err != nil {
			return err
		}
		if len(dependents) > 0 {
			if !cascade {
				return errCategoryInUse
			}
			if err := tx.Where("user_id = ? AND type = ? AND category = ?", category.UserID, category.Type, category.Name).
				Delete(&models.Record{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Category{}, category.ID).Error
	})
	if errors.Is(err, errCategoryInUse) {
		Conflict(c, "この勘定科目は "+strconv.Itoa(len(dependents))+" 件の記録で使われています")
		return
	}
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "勘定科目の削除に失敗しました"))
		return
	}

	// コミット後に添付ファイルを削除
	log := logger.FromContext(c.Request.Context())
	for i := range dependents {
		r := &dependents[i]
		if h.store == nil || !r.HasAttachment() {
			continue
		}
		if err := h.store.Delete(c.Request.Context(), *r.AttachmentPath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Uint("record_id", r.ID).Msg("添付ファイルの削除に失敗")
		}
	}

	SuccessWithMessage(c, "削除しました", gin.H{"deleted_records": len(dependents)})
}

var errCategoryInUse = errors.New("category in use")
