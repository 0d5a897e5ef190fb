package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"taxbook/config"
	"taxbook/models"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// DSN ドライバーごとの接続文字列を組み立てる
func DSN(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
			cfg.Username,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.DBName,
			cfg.Charset,
		), nil
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=Asia/Tokyo",
			cfg.Host,
			cfg.Port,
			cfg.Username,
			cfg.Password,
			cfg.DBName,
			cfg.SSLMode,
		), nil
	case "sqlite":
		if cfg.Path == "" {
			return "", fmt.Errorf("database.path が未設定です")
		}
		return cfg.Path, nil
	}
	return "", fmt.Errorf("未対応の database.driver: %q", cfg.Driver)
}

// Dialector 設定に対応する gorm のダイアレクタ
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite ディレクトリの作成に失敗: %w", err)
			}
		}
		return sqlite.Open(dsn), nil
	}
}

// NewGormLogger SQL ログを zerolog に流す
func NewGormLogger(log zerolog.Logger, level string) gormlogger.Interface {
	lv := gormlogger.Warn
	if level == "debug" {
		lv = gormlogger.Info
	}
	return gormlogger.New(&log, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  lv,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Init データベース接続の初期化
func Init(cfg *config.Config, log zerolog.Logger) error {
	dialector, err := Dialector(cfg.Database)
	if err != nil {
		return err
	}

	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(log, cfg.Log.Level),
	})
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}

	// sqlite は単一接続のみ
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	if cfg.Database.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	log.Info().Str("driver", cfg.Database.Driver).Msg("データベース初期化完了")
	return nil
}

// Migrate テーブルの自動マイグレーション
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Record{},
		&models.Setting{},
	)
}

// GetDB データベース接続の取得
func GetDB() *gorm.DB {
	return DB
}
