package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxbook/models"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// ContentGenerator genai.Models のうち使う部分
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor Gemini で領収書を読み取る
type GeminiExtractor struct {
	gen     ContentGenerator
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewGeminiExtractor API キーからクライアントを作る
func NewGeminiExtractor(ctx context.Context, apiKey, model string, timeout time.Duration, log zerolog.Logger) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, errors.New("gemini.api_key が未設定です")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewGeminiExtractorWithGenerator(client.Models, model, timeout, log), nil
}

// NewGeminiExtractorWithGenerator 任意の生成クライアントで作る（テスト用）
func NewGeminiExtractorWithGenerator(gen ContentGenerator, model string, timeout time.Duration, log zerolog.Logger) *GeminiExtractor {
	return &GeminiExtractor{gen: gen, model: model, timeout: timeout, log: log}
}

// Extract 1 回だけ問い合わせる。再試行はしない
func (e *GeminiExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*Draft, error) {
	if !SupportedMIMETypes[mimeType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrExtractionFailed)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: Prompt()},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			},
		},
	}

	start := time.Now()
	resp, err := e.gen.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		e.log.Warn().Err(err).Str("mime_type", mimeType).Dur("elapsed", time.Since(start)).Msg("領収書の読み取りに失敗")
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrExtractionFailed)
	}

	draft, err := ParseResponse(resp.Text())
	if err != nil {
		e.log.Warn().Err(err).Str("mime_type", mimeType).Msg("領収書の読み取り結果を解釈できません")
		return nil, err
	}
	e.log.Debug().Dur("elapsed", time.Since(start)).Msg("領収書の読み取り完了")
	return draft, nil
}

// Prompt モデルへの指示
func Prompt() string {
	var b strings.Builder
	b.WriteString("この画像（または PDF）は領収書、請求書、または経費関連の書類です。\n")
	b.WriteString("以下の項目を抽出し、JSON オブジェクト 1 つだけを返してください。\n\n")
	b.WriteString("- date: 日付 (YYYY-MM-DD、不明なら null)\n")
	b.WriteString("- amount: 金額 (数値のみ、カンマなし)\n")
	b.WriteString("- currency: 通貨 (\"JPY\" または \"USD\")\n")
	b.WriteString("- client: 発行元・取引先名\n")
	b.WriteString("- description: 内容・摘要\n")
	b.WriteString("- category: 推測される勘定科目（次から選択）\n")
	b.WriteString("  - 収入: " + quoteJoin(models.DefaultIncomeCategories) + "\n")
	b.WriteString("  - 経費: " + quoteJoin(models.DefaultExpenseCategories) + "\n")
	b.WriteString("- type: 種別 (\"income\" または \"expense\")\n\n")
	b.WriteString("コードフェンスや説明文は付けないでください。")
	return b.String()
}

func quoteJoin(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = `"` + s + `"`
	}
	return strings.Join(quoted, ", ")
}
