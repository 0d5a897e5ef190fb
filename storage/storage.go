// Package storage 添付ファイルのオブジェクトストア
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound 指定パスにオブジェクトが無い
var ErrNotFound = errors.New("object not found")

// ErrInvalidPath ストア外を指すパス
var ErrInvalidPath = errors.New("invalid object path")

// ObjectStore 添付ファイルの保存先
// パスは {user}/{fiscalYear}/{filename}
type ObjectStore interface {
	Put(ctx context.Context, objectPath string, r io.Reader, contentType string) error
	Get(ctx context.Context, objectPath string) ([]byte, error)
	Delete(ctx context.Context, objectPath string) error
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// ObjectPath 新しい添付ファイルのパスを作る
// 例: 12/2024/20240615_093000_1a2b3c4d.jpg
func ObjectPath(userID uint, fiscalYear int, now time.Time, ext string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := fmt.Sprintf("%s_%s%s", now.Format("20060102_150405"), id, strings.ToLower(ext))
	return path.Join(UserPrefix(userID), strconv.Itoa(fiscalYear), name)
}

// UserPrefix ユーザーの添付ファイルが置かれる接頭辞
func UserPrefix(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// OwnedBy パスがそのユーザーのものか
func OwnedBy(objectPath string, userID uint) bool {
	clean, err := CleanPath(objectPath)
	if err != nil {
		return false
	}
	return strings.HasPrefix(clean, UserPrefix(userID)+"/")
}

// CleanPath 相対・上位ディレクトリ参照を含むパスを拒否する
func CleanPath(objectPath string) (string, error) {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	clean := path.Clean(objectPath)
	if clean != objectPath || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return clean, nil
}
