package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"taxbook/calc"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config アプリケーション設定
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Tax      TaxConfig      `mapstructure:"tax"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

// ServerConfig サーバー設定
type ServerConfig struct {
	Port    string `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
	BaseURL string `mapstructure:"base_url"`
}

// DatabaseConfig データベース設定
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // mysql | postgres | sqlite
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Charset  string `mapstructure:"charset"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"` // sqlite のファイルパス
}

// JWTConfig JWT設定
type JWTConfig struct {
	Secret      string        `mapstructure:"secret"`
	ExpireHours int           `mapstructure:"expire_hours"`
	ExpireTime  time.Duration `mapstructure:"-"`
}

// LogConfig ログ設定
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

// TaxConfig 税計算の設定
// 源泉徴収税率と会計年度の開始月はコードに埋め込まず、必ず設定から渡す
type TaxConfig struct {
	WithholdingRate      float64 `mapstructure:"withholding_rate"`
	FiscalYearStartMonth int     `mapstructure:"fiscal_year_start_month"`
}

// StorageConfig 添付ファイルの保存先設定
type StorageConfig struct {
	Driver              string `mapstructure:"driver"` // gcs | local
	Bucket              string `mapstructure:"bucket"`
	LocalRoot           string `mapstructure:"local_root"`
	SignedURLTTLMinutes int    `mapstructure:"signed_url_ttl_minutes"`
}

// GeminiConfig 領収書読み取り API の設定
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// RateLimitPerHour ユーザーごとの 1 時間あたりの読み取り回数。0 なら無制限
	RateLimitPerHour int `mapstructure:"rate_limit_per_hour"`
}

// ArchiveConfig 添付ファイル一括ダウンロードの設定
type ArchiveConfig struct {
	Workers               int `mapstructure:"workers"`
	FetchTimeoutSeconds   int `mapstructure:"fetch_timeout_seconds"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// UploadConfig アップロード制限
type UploadConfig struct {
	MaxBytes      int64 `mapstructure:"max_bytes"`
	CameraMaxEdge int   `mapstructure:"camera_max_edge"`
}

var (
	// GlobalConfig グローバル設定インスタンス
	GlobalConfig *Config
)

// LoadConfig 設定を読み込む
// 優先順位: 環境変数 > 外部設定ファイル > 埋め込みのデフォルト設定
func LoadConfig(configPath string) (*Config, error) {
	// .env があれば環境変数として取り込む（既存の環境変数は上書きしない）
	if err := godotenv.Load(); err == nil {
		log.Info().Msg(".env を読み込みました")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	// 1. 埋め込みのデフォルト設定
	if err := v.ReadConfig(bytes.NewReader(DefaultConfigYAML)); err != nil {
		return nil, fmt.Errorf("埋め込み設定の読み込みに失敗: %w", err)
	}

	// 2. 外部設定ファイル（任意）
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.MergeInConfig(); err != nil {
			log.Warn().Err(err).Str("path", configPath).Msg("指定された設定ファイルを読み込めません")
		} else {
			log.Info().Str("path", configPath).Msg("外部設定ファイルをマージしました")
		}
	} else {
		externalViper := viper.New()
		externalViper.SetConfigName("config")
		externalViper.SetConfigType("yaml")
		externalViper.AddConfigPath(".")
		externalViper.AddConfigPath("./config")
		externalViper.AddConfigPath("/etc/taxbook")
		externalViper.AddConfigPath("$HOME/.taxbook")

		if err := externalViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(externalViper.AllSettings()); err != nil {
				log.Warn().Err(err).Msg("外部設定のマージに失敗")
			} else {
				log.Info().Str("path", externalViper.ConfigFileUsed()).Msg("外部設定ファイルをマージしました")
			}
		}
	}

	// 3. 環境変数で上書き（TAXBOOK_GEMINI_API_KEY など）
	v.SetEnvPrefix("TAXBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗: %w", err)
	}

	if cfg.JWT.ExpireHours <= 0 {
		cfg.JWT.ExpireHours = 24
	}
	cfg.JWT.ExpireTime = time.Duration(cfg.JWT.ExpireHours) * time.Hour

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = &cfg

	return &cfg, nil
}

// Validate 起動を止めるべき設定ミスを検出する
func (c *Config) Validate() error {
	if err := calc.ValidateWithholdingRate(c.Tax.WithholdingRateDecimal()); err != nil {
		return fmt.Errorf("tax.withholding_rate: %w", err)
	}
	if c.Tax.FiscalYearStartMonth < 1 || c.Tax.FiscalYearStartMonth > 12 {
		return fmt.Errorf("tax.fiscal_year_start_month は 1〜12 で指定してください: %w", calc.ErrConfiguration)
	}
	if c.Archive.Workers < 1 || c.Archive.Workers > 16 {
		return fmt.Errorf("archive.workers は 1〜16 で指定してください: %w", calc.ErrConfiguration)
	}
	// 0 は期限なし
	if rt := c.Archive.RequestTimeoutSeconds; rt < 0 || (rt > 0 && rt < c.Archive.FetchTimeoutSeconds) {
		return fmt.Errorf("archive.request_timeout_seconds は fetch_timeout_seconds 以上で指定してください: %w", calc.ErrConfiguration)
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("未対応の database.driver: %q: %w", c.Database.Driver, calc.ErrConfiguration)
	}
	switch c.Storage.Driver {
	case "gcs", "local":
	default:
		return fmt.Errorf("未対応の storage.driver: %q: %w", c.Storage.Driver, calc.ErrConfiguration)
	}
	return nil
}

// Rules 計算ルールを calc パッケージの形に変換する
func (t TaxConfig) Rules() calc.Rules {
	return calc.Rules{
		WithholdingRate:      decimal.NewNullDecimal(t.WithholdingRateDecimal()),
		FiscalYearStartMonth: t.FiscalYearStartMonth,
	}
}

// WithholdingRateDecimal 源泉徴収税率を decimal で返す
func (t TaxConfig) WithholdingRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(t.WithholdingRate)
}

// MustLoadConfig 設定を読み込み、失敗したら panic する
func MustLoadConfig(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("設定の読み込みに失敗: %v", err))
	}
	return cfg
}

// GetConfig グローバル設定を取得
func GetConfig() *Config {
	if GlobalConfig == nil {
		panic("設定が初期化されていません。先に LoadConfig を呼んでください")
	}
	return GlobalConfig
}

// PrintConfig 現在の設定を出力する（秘密情報は伏せる）
func PrintConfig() {
	if GlobalConfig == nil {
		return
	}
	c := GlobalConfig
	log.Info().
		Str("port", c.Server.Port).
		Str("mode", c.Server.Mode).
		Str("db_driver", c.Database.Driver).
		Str("db", fmt.Sprintf("%s@%s:%s/%s", c.Database.Username, c.Database.Host, c.Database.Port, c.Database.DBName)).
		Str("storage", c.Storage.Driver).
		Float64("withholding_rate", c.Tax.WithholdingRate).
		Int("fiscal_year_start_month", c.Tax.FiscalYearStartMonth).
		Bool("gemini", c.Gemini.APIKey != "").
		Msg("現在の設定")
}
