package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
)

// FSStore ローカルディスク（またはメモリ）に保存する。開発用
// 署名付き URL は baseURL 配下のパスに JWT を付けたもので、Verify で検証する
type FSStore struct {
	fs      afero.Fs
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewFSStore root 以下に保存するストアを作る
func NewFSStore(fs afero.Fs, root, baseURL, secret string) *FSStore {
	if root != "" {
		fs = afero.NewBasePathFs(fs, root)
	}
	return &FSStore{
		fs:      fs,
		baseURL: baseURL,
		secret:  []byte(secret),
		now:     time.Now,
	}
}

func (s *FSStore) Put(_ context.Context, objectPath string, r io.Reader, _ string) error {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(objectPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", objectPath, err)
	}
	if err := afero.WriteReader(s.fs, objectPath, r); err != nil {
		return fmt.Errorf("write %s: %w", objectPath, err)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, objectPath string) ([]byte, error) {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, objectPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("read %s: %w", objectPath, err)
	}
	return data, nil
}

func (s *FSStore) Delete(_ context.Context, objectPath string) error {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(objectPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return fmt.Errorf("remove %s: %w", objectPath, err)
	}
	return nil
}

// fileAudience 添付ファイル URL のトークンの宛先。ログイントークンとは併用できない
const fileAudience = "taxbook-files"

func (s *FSStore) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	// Subject がオブジェクトのパス
	claims := jwt.RegisteredClaims{
		Subject:   objectPath,
		Audience:  jwt.ClaimStrings{fileAudience},
		ExpiresAt: jwt.NewNumericDate(s.now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(s.now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", objectPath, err)
	}
	q := url.Values{}
	q.Set("token", token)
	return fmt.Sprintf("%s/%s?%s", s.baseURL, objectPath, q.Encode()), nil
}

// Verify SignedURL が objectPath 向けに発行したトークンか、期限内か
func (s *FSStore) Verify(objectPath, token string) bool {
	if token == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(fileAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return false
	}
	return claims.Subject == objectPath
}
