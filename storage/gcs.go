package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore Cloud Storage のバケットに保存する
// 認証は Application Default Credentials
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore バケット用のクライアントを作る
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("storage.bucket が未設定です")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Close クライアントを閉じる
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, objectPath string, r io.Reader, contentType string) error {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return err
	}

	w := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s: %w", objectPath, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("open GCS object %s: %w", objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read GCS object %s: %w", objectPath, err)
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, objectPath string) error {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(s.bucket).Object(objectPath).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return fmt.Errorf("delete GCS object %s: %w", objectPath, err)
	}
	return nil
}

func (s *GCSStore) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(objectPath, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign GCS URL %s: %w", objectPath, err)
	}
	return url, nil
}
