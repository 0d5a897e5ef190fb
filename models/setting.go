package models

import (
	"strings"
	"time"
)

// Setting ユーザーごとの設定（key/value）
type Setting struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	UserID    uint      `json:"-" gorm:"not null;uniqueIndex:idx_settings_user_key"`
	Key       string    `json:"key" gorm:"size:50;not null;uniqueIndex:idx_settings_user_key"`
	Value     string    `json:"value" gorm:"size:200;not null;default:''"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

// 家事按分率のプリセット
const (
	SettingPresetRentRate    = "preset_rent_rate"
	SettingPresetCommRate    = "preset_comm_rate"
	SettingPresetUtilityRate = "preset_utility_rate"
)

// DefaultSettings 未設定時に返す値
var DefaultSettings = map[string]string{
	SettingPresetRentRate:    "50",
	SettingPresetCommRate:    "50",
	SettingPresetUtilityRate: "30",
}

// IsPercentageSetting 値が 0〜100 のパーセンテージであるべきキーか
func IsPercentageSetting(key string) bool {
	return strings.HasPrefix(key, "preset_")
}
