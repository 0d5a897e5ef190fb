package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taxbook/archive"
	"taxbook/config"
	"taxbook/logger"
	"taxbook/middleware"
	"taxbook/models"
	"taxbook/service"
	"taxbook/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AttachmentHandler 添付ファイル
type AttachmentHandler struct {
	db         *gorm.DB
	store      storage.ObjectStore
	builder    *archive.Builder
	normalizer *service.ImageNormalizer
	maxBytes   int64
	urlTTL     time.Duration
	// 一括ダウンロード全体の期限。1 件ごとの期限は builder 側
	requestTimeout time.Duration
	now            func() time.Time
}

// NewAttachmentHandler 添付ファイルハンドラーを作る
func NewAttachmentHandler(db *gorm.DB, store storage.ObjectStore, builder *archive.Builder, cfg *config.Config) *AttachmentHandler {
	return &AttachmentHandler{
		db:             db,
		store:          store,
		builder:        builder,
		normalizer:     service.NewImageNormalizer(cfg.Upload.CameraMaxEdge),
		maxBytes:       cfg.Upload.MaxBytes,
		urlTTL:         time.Duration(cfg.Storage.SignedURLTTLMinutes) * time.Minute,
		requestTimeout: time.Duration(cfg.Archive.RequestTimeoutSeconds) * time.Second,
		now:            time.Now,
	}
}

// readUpload multipart の file を上限付きで読み込んで検証する
func readUpload(c *gin.Context, maxBytes int64) (*service.Upload, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: ファイルを選択してください", service.ErrInvalidUpload)
	}
	if maxBytes > 0 && fh.Size > maxBytes {
		return nil, fmt.Errorf("%w: ファイルサイズが上限 (%d バイト) を超えています", service.ErrInvalidUpload, maxBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	limit := maxBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	return service.ValidateUpload(fh.Filename, data, limit)
}

// Upload 添付ファイルをアップロード
// source=camera の画像は向きとサイズを揃えた JPEG にしてから保存する
// @Summary 添付ファイルのアップロード
// @Tags 添付ファイル
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "画像または PDF"
// @Param fiscal_year formData int true "年度"
// @Param source formData string false "camera"
// @Success 200 {object} Response{data=map[string]string}
// @Router /api/v1/attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	fy, err := strconv.Atoi(c.PostForm("fiscal_year"))
	if err != nil || fy < 1900 || fy > 9999 {
		BadRequest(c, "fiscal_year が不正です")
		return
	}

	upload, err := readUpload(c, h.maxBytes)
	if err != nil {
		if errors.Is(err, service.ErrInvalidUpload) {
			BadRequest(c, strings.TrimPrefix(err.Error(), service.ErrInvalidUpload.Error()+": "))
			return
		}
		InternalError(c, SafeErrorMessage(err, "ファイルの読み込みに失敗しました"))
		return
	}

	if c.PostForm("source") == "camera" && upload.MIMEType != "application/pdf" {
		data, err := h.normalizer.Normalize(upload.Data)
		if err != nil {
			BadRequest(c, "撮影画像を処理できませんでした")
			return
		}
		upload = &service.Upload{Data: data, Ext: ".jpg", MIMEType: "image/jpeg"}
	}

	objectPath := storage.ObjectPath(userID, fy, h.now(), upload.Ext)
	if err := h.store.Put(c.Request.Context(), objectPath, bytes.NewReader(upload.Data), upload.MIMEType); err != nil {
		logger.FromContext(c.Request.Context()).Error().Err(err).Str("path", objectPath).Msg("添付ファイルの保存に失敗")
		InternalError(c, SafeErrorMessage(err, "ファイルの保存に失敗しました"))
		return
	}

	SuccessWithMessage(c, "アップロードしました", gin.H{
		"path":      objectPath,
		"mime_type": upload.MIMEType,
		"size":      len(upload.Data),
	})
}

// SignedURL 閲覧用の期限付き URL
// @Summary 添付ファイルの URL
// @Tags 添付ファイル
// @Produce json
// @Security BearerAuth
// @Param path query string true "添付ファイルのパス"
// @Success 200 {object} Response{data=map[string]string}
// @Router /api/v1/attachments/url [get]
func (h *AttachmentHandler) SignedURL(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)
	objectPath := c.Query("path")
	if !storage.OwnedBy(objectPath, userID) {
		Forbidden(c, "このファイルにはアクセスできません")
		return
	}

	url, err := h.store.SignedURL(c.Request.Context(), objectPath, h.urlTTL)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "URL の発行に失敗しました"))
		return
	}
	Success(c, gin.H{
		"url":        url,
		"expires_at": h.now().Add(h.urlTTL),
	})
}

// Archive 年度の添付ファイルを月別フォルダの zip でダウンロード
// 取得できなかった記録の ID は X-Skipped-Records ヘッダーで返す
// @Summary 添付ファイルの一括ダウンロード
// @Tags 添付ファイル
// @Produce application/zip
// @Security BearerAuth
// @Param fiscal_year query int true "年度"
// @Param require_non_empty query bool false "1 件も取得できない場合はエラーにする"
// @Success 200 {file} file "zip"
// @Failure 404 {object} Response "添付ファイルなし"
// @Router /api/v1/attachments/archive [get]
func (h *AttachmentHandler) Archive(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)
	fy, err := parseFiscalYear(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	requireNonEmpty := c.Query("require_non_empty") == "true"

	var records []models.Record
	if err := h.db.Where("user_id = ? AND fiscal_year = ? AND attachment_path IS NOT NULL AND attachment_path <> ''", userID, fy).
		Order("date, id").
		Find(&records).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "記録の取得に失敗しました"))
		return
	}

	ctx := c.Request.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	var buf bytes.Buffer
	res, err := h.builder.Build(ctx, &buf, fy, archive.FromStore(h.store, records), requireNonEmpty)
	if errors.Is(err, archive.ErrEmptyArchive) {
		ErrorWithData(c, http.StatusNotFound, "ダウンロードできる添付ファイルがありません", gin.H{
			"skipped": res.SkippedIDs(),
		})
		return
	}
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "zip の作成に失敗しました"))
		return
	}

	if ids := res.SkippedIDs(); len(ids) > 0 {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatUint(uint64(id), 10)
		}
		c.Header("X-Skipped-Records", strings.Join(parts, ","))
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=attachments_%d.zip", fy))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

// ServeLocal ローカル保存時の署名付き URL を配信する
func ServeLocal(store *storage.FSStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		objectPath := strings.TrimPrefix(c.Param("path"), "/")
		if !store.Verify(objectPath, c.Query("token")) {
			Forbidden(c, "URL が無効か期限切れです")
			return
		}
		data, err := store.Get(c.Request.Context(), objectPath)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				NotFound(c, "ファイルが見つかりません")
				return
			}
			InternalError(c, SafeErrorMessage(err, "ファイルの読み込みに失敗しました"))
			return
		}
		c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
	}
}
