package api

import (
	"errors"

	"taxbook/config"
	"taxbook/logger"
	"taxbook/middleware"
	"taxbook/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthHandler 認証
type AuthHandler struct {
	db  *gorm.DB
	cfg *config.Config
}

// NewAuthHandler 認証ハンドラーを作る
func NewAuthHandler(db *gorm.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg}
}

// RegisterRequest ユーザー登録
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50" example:"freelancer"`
	Password string `json:"password" binding:"required,min=8,max=72" example:"password123"`
	Email    string `json:"email" binding:"omitempty,email,max=100" example:"me@example.com"`
}

// LoginRequest ログイン（ユーザー名またはメールアドレス）
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"freelancer"`
	Password string `json:"password" binding:"required" example:"password123"`
}

// LoginResponse ログイン結果
type LoginResponse struct {
	Token    string      `json:"token"`
	UserInfo models.User `json:"user_info"`
}

// Register ユーザー登録
// @Summary ユーザー登録
// @Tags 認証
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "登録情報"
// @Success 200 {object} Response{data=models.User} "登録成功"
// @Failure 400 {object} Response "入力エラー"
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "入力内容に誤りがあります: "+err.Error())
		return
	}

	var existing models.User
	if err := h.db.Where("username = ?", req.Username).First(&existing).Error; err == nil {
		BadRequest(c, "このユーザー名は既に使われています")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		InternalError(c, SafeErrorMessage(err, "ユーザーの確認に失敗しました"))
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		InternalError(c, "パスワードの処理に失敗しました")
		return
	}

	user := models.User{
		Username: req.Username,
		Password: string(hashed),
		Email:    req.Email,
	}
	if err := h.db.Create(&user).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "ユーザーの作成に失敗しました"))
		return
	}

	SuccessWithMessage(c, "登録しました", user)
}

// Login ログイン
// 勘定科目が 1 件もないユーザーにはデフォルトの勘定科目を作る
// @Summary ログイン
// @Tags 認証
// @Accept json
// @Produce json
// @Param request body LoginRequest true "ログイン情報"
// @Success 200 {object} Response{data=LoginResponse} "ログイン成功"
// @Failure 401 {object} Response "ユーザー名またはパスワードが違います"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "入力内容に誤りがあります: "+err.Error())
		return
	}

	var user models.User
	if err := h.db.Where("username = ? OR email = ?", req.Username, req.Username).First(&user).Error; err != nil {
		Unauthorized(c, "ユーザー名またはパスワードが違います")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		Unauthorized(c, "ユーザー名またはパスワードが違います")
		return
	}

	if err := SeedDefaultCategories(h.db, user.ID); err != nil {
		// ログイン自体は続行する
		logger.FromContext(c.Request.Context()).Error().Err(err).Uint("user_id", user.ID).Msg("デフォルト勘定科目の作成に失敗")
	}

	token, err := middleware.GenerateToken(user.ID, user.Username, h.cfg.JWT.ExpireTime)
	if err != nil {
		InternalError(c, "トークンの発行に失敗しました")
		return
	}

	Success(c, LoginResponse{
		Token:    token,
		UserInfo: user,
	})
}

// GetProfile ログイン中のユーザー情報
// @Summary ユーザー情報
// @Tags 認証
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=models.User}
// @Router /api/v1/auth/profile [get]
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		NotFound(c, "ユーザーが見つかりません")
		return
	}

	Success(c, user)
}

// SeedDefaultCategories 勘定科目が未登録ならデフォルトを作成する
func SeedDefaultCategories(db *gorm.DB, userID uint) error {
	var count int64
	if err := db.Model(&models.Category{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	cats := models.DefaultCategories(userID)
	return db.Create(&cats).Error
}
