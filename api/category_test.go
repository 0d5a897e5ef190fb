package api

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taxbook/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var categoryColumns = []string{"id", "user_id", "type", "name", "display_order", "created_at", "updated_at"}

func newCategoryRouter(h *CategoryHandler, userID uint) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(setUserIDMiddleware(userID))
	router.GET("/categories", h.List)
	router.POST("/categories", h.Create)
	router.PUT("/categories/:id", h.Update)
	router.DELETE("/categories/:id", h.Delete)
	return router
}

func TestCategoryHandler_List(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM `categories` WHERE .*ORDER BY type, display_order, id").
		WillReturnRows(sqlmock.NewRows(categoryColumns).
			AddRow(1, 1, "expense", "通信費", 0, now, now).
			AddRow(2, 1, "expense", "交通費", 1, now, now))

	router := newCategoryRouter(NewCategoryHandler(db, nil), 1)
	req := httptest.NewRequest("GET", "/categories?type=expense", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	list := decodeResponse(t, w)["data"].([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, "通信費", list[0].(map[string]interface{})["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryHandler_Create_AppendsToEnd(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `categories`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(display_order\\), -1\\) FROM `categories`").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(9))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `categories`").
		WillReturnResult(sqlmock.NewResult(20, 1))
	mock.ExpectCommit()

	router := newCategoryRouter(NewCategoryHandler(db, nil), 1)
	body := `{"type":"expense","name":"  研修費  "}`
	req := httptest.NewRequest("POST", "/categories", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code, w.Body.String())
	data := decodeResponse(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "研修費", data["name"])
	assert.Equal(t, float64(10), data["display_order"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryHandler_Create_Duplicate(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `categories`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	router := newCategoryRouter(NewCategoryHandler(db, nil), 1)
	body := `{"type":"expense","name":"通信費"}`
	req := httptest.NewRequest("POST", "/categories", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 409, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryHandler_Create_TooLong(t *testing.T) {
	db, _, cleanup := setupMockDB(t)
	defer cleanup()

	router := newCategoryRouter(NewCategoryHandler(db, nil), 1)
	body := `{"type":"expense","name":"` + strings.Repeat("長", 51) + `"}`
	req := httptest.NewRequest("POST", "/categories", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "勘定科目は50文字以内で入力してください", decodeResponse(t, w)["message"])
}

func TestCategoryHandler_Delete_InUse(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM `categories`").
		WillReturnRows(sqlmock.NewRows(categoryColumns).AddRow(3, 1, "expense", "通信費", 0, now, now))
	mock.ExpectBegin()
	rows := sqlmock.NewRows(recordColumns)
	recordRow(rows, 10, "2024-04-01", "expense", "通信費", "", "3000", "0", "3000", nil)
	recordRow(rows, 11, "2024-05-01", "expense", "通信費", "", "3000", "0", "3000", nil)
	mock.ExpectQuery("SELECT .* FROM `records`").WillReturnRows(rows)
	mock.ExpectRollback()

	router := newCategoryRouter(NewCategoryHandler(db, nil), 1)
	req := httptest.NewRequest("DELETE", "/categories/3", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 409, w.Code)
	assert.Contains(t, decodeResponse(t, w)["message"], "2 件")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryHandler_Delete_Cascade(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	store := storage.NewFSStore(afero.NewMemMapFs(), "", "http://localhost/files", "secret")
	path := "1/2024/20240401_100000_aaaa1111.pdf"
	require.NoError(t, store.Put(context.Background(), path, strings.NewReader("%PDF"), "application/pdf"))

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM `categories`").
		WillReturnRows(sqlmock.NewRows(categoryColumns).AddRow(3, 1, "expense", "通信費", 0, now, now))
	mock.ExpectBegin()
	rows := sqlmock.NewRows(recordColumns)
	recordRow(rows, 10, "2024-04-01", "expense", "通信費", "", "3000", "0", "3000", path)
	mock.ExpectQuery("SELECT .* FROM `records`").WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM `records`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM `categories`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	router := newCategoryRouter(NewCategoryHandler(db, store), 1)
	req := httptest.NewRequest("DELETE", "/categories/3?cascade=true", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code, w.Body.String())
	data := decodeResponse(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["deleted_records"])
	_, err := store.Get(context.Background(), path)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
