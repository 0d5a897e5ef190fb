package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordType(t *testing.T) {
	assert.True(t, RecordTypeIncome.Valid())
	assert.True(t, RecordTypeExpense.Valid())
	assert.False(t, RecordType("transfer").Valid())

	assert.Equal(t, "収入", RecordTypeIncome.Label())
	assert.Equal(t, "経費", RecordTypeExpense.Label())
}

func TestDefaultCategories(t *testing.T) {
	cats := DefaultCategories(7)
	assert.Len(t, cats, len(DefaultIncomeCategories)+len(DefaultExpenseCategories))

	seen := map[string]bool{}
	orders := map[RecordType]int{}
	for _, c := range cats {
		assert.Equal(t, uint(7), c.UserID)
		key := string(c.Type) + "/" + c.Name
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true

		// 種別ごとに 0 から連番
		assert.Equal(t, orders[c.Type], c.DisplayOrder)
		orders[c.Type]++
	}
	assert.True(t, seen["income/報酬"])
	assert.True(t, seen["expense/地代家賃"])
}

func TestRecordHasAttachment(t *testing.T) {
	r := Record{}
	assert.False(t, r.HasAttachment())
	empty := ""
	r.AttachmentPath = &empty
	assert.False(t, r.HasAttachment())
	p := "1/2024/a.jpg"
	r.AttachmentPath = &p
	assert.True(t, r.HasAttachment())
}

func TestIsPercentageSetting(t *testing.T) {
	assert.True(t, IsPercentageSetting(SettingPresetRentRate))
	assert.False(t, IsPercentageSetting("theme"))
}
