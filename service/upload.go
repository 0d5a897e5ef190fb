package service

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrInvalidUpload 受け付けられないファイル
var ErrInvalidUpload = errors.New("invalid upload")

// allowedTypes 拡張子ごとに許可する実際の形式
var allowedTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// Upload 検証済みのアップロード
type Upload struct {
	Data     []byte
	Ext      string
	MIMEType string
}

// AllowedExtension 拡張子が許可されているか
func AllowedExtension(filename string) bool {
	_, ok := allowedTypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// ValidateUpload 拡張子・サイズ・中身の形式を検証する
// 拡張子と中身が食い違うファイルは拒否する
func ValidateUpload(filename string, data []byte, maxBytes int64) (*Upload, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	want, ok := allowedTypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: 対応していない拡張子です (%q)", ErrInvalidUpload, ext)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: 空のファイルです", ErrInvalidUpload)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: ファイルサイズが上限 (%d バイト) を超えています", ErrInvalidUpload, maxBytes)
	}

	mt := mimetype.Detect(data)
	if !mt.Is(want) {
		return nil, fmt.Errorf("%w: 内容が拡張子と一致しません (%s)", ErrInvalidUpload, mt.String())
	}
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return &Upload{Data: data, Ext: ext, MIMEType: want}, nil
}
