package models

import (
	"time"
)

// Category ユーザーごとの勘定科目
type Category struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	UserID       uint       `json:"user_id" gorm:"not null;uniqueIndex:idx_categories_user_type_name"`
	Type         RecordType `json:"type" gorm:"size:10;not null;uniqueIndex:idx_categories_user_type_name"`
	Name         string     `json:"name" gorm:"size:50;not null;uniqueIndex:idx_categories_user_type_name"`
	DisplayOrder int        `json:"display_order" gorm:"default:0;index"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Category) TableName() string {
	return "categories"
}

// デフォルトの勘定科目（初回ログイン時に作成）
var (
	DefaultIncomeCategories = []string{"報酬", "給与", "その他収入"}

	DefaultExpenseCategories = []string{
		"通信費", "交通費", "消耗品費", "接待交際費", "地代家賃",
		"水道光熱費", "広告宣伝費", "新聞図書費", "支払手数料", "その他経費",
	}
)

// DefaultCategories ユーザー向けのデフォルト勘定科目一覧
func DefaultCategories(userID uint) []Category {
	cats := make([]Category, 0, len(DefaultIncomeCategories)+len(DefaultExpenseCategories))
	for i, name := range DefaultIncomeCategories {
		cats = append(cats, Category{UserID: userID, Type: RecordTypeIncome, Name: name, DisplayOrder: i})
	}
	for i, name := range DefaultExpenseCategories {
		cats = append(cats, Category{UserID: userID, Type: RecordTypeExpense, Name: name, DisplayOrder: i})
	}
	return cats
}
