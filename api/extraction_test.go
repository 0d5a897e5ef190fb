package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"taxbook/extraction"
	"taxbook/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	draft *extraction.Draft
	err   error
	mime  string
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte, mimeType string) (*extraction.Draft, error) {
	s.mime = mimeType
	return s.draft, s.err
}

func newExtractionRouter(h *ExtractionHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(setUserIDMiddleware(1))
	router.POST("/extract", h.Extract)
	return router
}

func strPtr(s string) *string { return &s }

func TestExtractionHandler_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	amount := decimal.NewFromInt(5500)
	typ := models.RecordTypeExpense
	date, _ := parseDate("2024-03-15")
	stub := &stubExtractor{draft: &extraction.Draft{
		Date:     &date,
		Amount:   &amount,
		Client:   strPtr("Amazon.co.jp"),
		Category: strPtr("新聞図書費"),
		Type:     &typ,
	}}
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `categories`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	router := newExtractionRouter(NewExtractionHandler(db, stub, 1<<20))
	body, contentType := multipartBody(t, "receipt.png", pngBytes(t, 4, 4), nil)
	req := httptest.NewRequest("POST", "/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code, w.Body.String())
	assert.Equal(t, "image/png", stub.mime)
	data := decodeResponse(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "success", data["status"])
	draft := data["draft"].(map[string]interface{})
	assert.Equal(t, "2024-03-15", draft["date"])
	assert.Equal(t, "5500", draft["amount"])
	assert.Equal(t, "新聞図書費", draft["category"])
	assert.Equal(t, "expense", draft["type"])
	assert.NotContains(t, draft, "currency")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractionHandler_DropsUnknownCategory(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	stub := &stubExtractor{draft: &extraction.Draft{Category: strPtr("雑費"), Client: strPtr("コンビニ")}}
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `categories`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	router := newExtractionRouter(NewExtractionHandler(db, stub, 1<<20))
	body, contentType := multipartBody(t, "receipt.pdf", []byte("%PDF-1.4\n%test\n"), nil)
	req := httptest.NewRequest("POST", "/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code, w.Body.String())
	draft := decodeResponse(t, w)["data"].(map[string]interface{})["draft"].(map[string]interface{})
	assert.NotContains(t, draft, "category")
	assert.Equal(t, "コンビニ", draft["client"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractionHandler_Failure(t *testing.T) {
	db, _, cleanup := setupMockDB(t)
	defer cleanup()

	stub := &stubExtractor{err: extraction.ErrExtractionFailed}
	router := newExtractionRouter(NewExtractionHandler(db, stub, 1<<20))
	body, contentType := multipartBody(t, "receipt.png", pngBytes(t, 4, 4), nil)
	req := httptest.NewRequest("POST", "/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 502, w.Code)
	resp := decodeResponse(t, w)
	assert.Contains(t, resp["message"], "手動で入力してください")
	assert.Equal(t, "failed", resp["data"].(map[string]interface{})["status"])
}

func TestExtractionHandler_Disabled(t *testing.T) {
	db, _, cleanup := setupMockDB(t)
	defer cleanup()

	router := newExtractionRouter(NewExtractionHandler(db, nil, 1<<20))
	body, contentType := multipartBody(t, "receipt.png", pngBytes(t, 4, 4), nil)
	req := httptest.NewRequest("POST", "/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 503, w.Code)
}
