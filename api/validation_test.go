package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeText(t *testing.T) {
	got, err := sanitizeText("摘要", "  <b>打合せ</b>\x00 ", maxDescriptionLen)
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;打合せ&lt;/b&gt;", got)

	// 文字数は rune で数える
	_, err = sanitizeText("取引先", strings.Repeat("あ", maxClientLen), maxClientLen)
	assert.NoError(t, err)
	_, err = sanitizeText("取引先", strings.Repeat("あ", maxClientLen+1), maxClientLen)
	assert.EqualError(t, err, "取引先は100文字以内で入力してください")
}

func TestSanitizeText_LengthAfterEscape(t *testing.T) {
	// & は &amp; の 5 文字で保存される
	_, err := sanitizeText("勘定科目", strings.Repeat("&", maxCategoryLen), maxCategoryLen)
	assert.EqualError(t, err, "勘定科目は50文字以内で入力してください")

	got, err := sanitizeText("勘定科目", strings.Repeat("&", 10), maxCategoryLen)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("&amp;", 10), got)
	assert.LessOrEqual(t, len([]rune(got)), maxCategoryLen)
}

func TestEscapeLikeValue(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLikeValue("100%"))
	assert.Equal(t, `a\_b`, escapeLikeValue("a_b"))
	assert.Equal(t, `c:\\x`, escapeLikeValue(`c:\x`))
	assert.Equal(t, "通信費", escapeLikeValue("通信費"))
}

func TestParseFiscalYear(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		query string
		want  int
		ok    bool
	}{
		{"fiscal_year=2024", 2024, true},
		{"", 0, false},
		{"fiscal_year=abc", 0, false},
		{"fiscal_year=20245", 0, false},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/?"+tt.query, nil)
		got, err := parseFiscalYear(c)
		if tt.ok {
			require.NoError(t, err, tt.query)
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err, tt.query)
		}
	}
}
