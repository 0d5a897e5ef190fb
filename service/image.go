package service

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// ImageNormalizer カメラ撮影画像の向き・サイズを揃えて JPEG にする
type ImageNormalizer struct {
	MaxEdge int
	Quality int
}

// NewImageNormalizer 長辺の上限を指定する
func NewImageNormalizer(maxEdge int) *ImageNormalizer {
	return &ImageNormalizer{MaxEdge: maxEdge, Quality: 85}
}

// Normalize EXIF の向きを反映し、長辺を MaxEdge 以下に縮小して JPEG で返す
func (n *ImageNormalizer) Normalize(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: 画像を読み込めません: %v", ErrInvalidUpload, err)
	}

	b := img.Bounds()
	if n.MaxEdge > 0 && (b.Dx() > n.MaxEdge || b.Dy() > n.MaxEdge) {
		img = imaging.Fit(img, n.MaxEdge, n.MaxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.Quality)); err != nil {
		return nil, fmt.Errorf("JPEG 変換に失敗: %w", err)
	}
	return buf.Bytes(), nil
}
