package api

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"taxbook/calc"

	"github.com/gin-gonic/gin"
)

// 入力の長さ制限
const (
	maxCategoryLen    = 50
	maxClientLen      = 100
	maxDescriptionLen = 500
	maxSettingKeyLen  = 50
	maxSettingValLen  = 200
)

const dateLayout = "2006-01-02"

// sanitizeText 前後の空白と制御文字を除いて HTML エスケープする
// 長さはエスケープ後の値（保存される値）で確認する
func sanitizeText(field, s string, max int) (string, error) {
	s = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s))
	escaped := html.EscapeString(s)
	if utf8.RuneCountInString(escaped) > max {
		return "", fmt.Errorf("%sは%d文字以内で入力してください", field, max)
	}
	return escaped, nil
}

// escapeLikeValue LIKE の % と _ をエスケープする
func escapeLikeValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// parseDate YYYY-MM-DD
func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, errors.New("日付は YYYY-MM-DD 形式で入力してください")
	}
	return t, nil
}

// parseFiscalYear クエリの fiscal_year。必須
func parseFiscalYear(c *gin.Context) (int, error) {
	s := c.Query("fiscal_year")
	if s == "" {
		return 0, errors.New("fiscal_year を指定してください")
	}
	fy, err := strconv.Atoi(s)
	if err != nil || fy < 1900 || fy > 9999 {
		return 0, errors.New("fiscal_year が不正です")
	}
	return fy, nil
}

// calcErrorMessage 計算エラーをユーザー向けの文言にする
func calcErrorMessage(err error) string {
	switch {
	case errors.Is(err, calc.ErrInvalidRate):
		return "外貨の場合は TTM（為替レート）に 0 より大きい値を入力してください"
	case errors.Is(err, calc.ErrInvalidPercentage):
		return "按分率は 0〜100 の範囲で入力してください"
	case errors.Is(err, calc.ErrInvalidAmount):
		return "金額は 0 以上で入力してください"
	case errors.Is(err, calc.ErrInvalidPrecision):
		return "円の金額は整数、ドルの金額は小数第 2 位までで入力してください"
	case errors.Is(err, calc.ErrUnsupportedCurrency):
		return "通貨は JPY または USD を指定してください"
	}
	return err.Error()
}
