package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"taxbook/archive"
	"taxbook/config"
	"taxbook/database"
	"taxbook/extraction"
	"taxbook/logger"
	"taxbook/middleware"
	"taxbook/router"
	"taxbook/storage"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// @title 個人事業主向け帳簿 API
// @version 1.0
// @description 収支の記録、按分・源泉徴収の計算、確定申告用の帳票出力
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var (
	configFile  string
	port        string
	showVersion bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "外部設定ファイルのパス（任意）")
	flag.StringVar(&configFile, "c", "", "外部設定ファイルのパス（短縮形）")
	flag.StringVar(&port, "port", "", "待ち受けポート 例: 8080 または :8080")
	flag.StringVar(&port, "p", "", "待ち受けポート（短縮形）")
	flag.BoolVar(&showVersion, "version", false, "バージョンを表示")
	flag.BoolVar(&showVersion, "v", false, "バージョンを表示（短縮形）")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println("taxbook v1.0.0")
		return
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	zerolog.DefaultContextLogger = &log

	// コマンドライン引数のポートを優先
	if port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Server.Port = port
		log.Info().Str("port", port).Msg("コマンドラインでポートが指定されました")
	}

	config.PrintConfig()

	if err := database.Init(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("データベースの初期化に失敗")
	}

	middleware.InitJWT(cfg)

	ctx := context.Background()
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("ストレージの初期化に失敗")
	}
	defer closeStore()

	// API キーがなければ読み取り機能は無効のまま起動する
	var extractor extraction.Extractor
	if cfg.Gemini.APIKey != "" {
		ge, err := extraction.NewGeminiExtractor(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model,
			time.Duration(cfg.Gemini.TimeoutSeconds)*time.Second, log)
		if err != nil {
			log.Error().Err(err).Msg("読み取りクライアントの初期化に失敗。読み取り機能は無効")
		} else {
			extractor = ge
		}
	} else {
		log.Warn().Msg("gemini.api_key が未設定のため領収書の読み取りは無効")
	}

	builder := archive.NewBuilder(cfg.Archive.Workers,
		time.Duration(cfg.Archive.FetchTimeoutSeconds)*time.Second, log)

	r := router.SetupRouter(cfg, router.Deps{
		DB:        database.GetDB(),
		Store:     store,
		Builder:   builder,
		Extractor: extractor,
		Log:       log,
	})

	log.Info().
		Str("addr", cfg.Server.Port).
		Str("api", cfg.Server.BaseURL+"/api/v1/").
		Msg("帳簿サーバーを起動しました")

	if err := r.Run(cfg.Server.Port); err != nil {
		log.Fatal().Err(err).Msg("サーバーの起動に失敗")
	}
}

// newStore 設定に応じて添付ファイルの保存先を作る
func newStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, func(), error) {
	switch cfg.Storage.Driver {
	case "gcs":
		s, err := storage.NewGCSStore(ctx, cfg.Storage.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		if err := os.MkdirAll(cfg.Storage.LocalRoot, 0o755); err != nil {
			return nil, nil, err
		}
		s := storage.NewFSStore(afero.NewOsFs(), cfg.Storage.LocalRoot,
			strings.TrimRight(cfg.Server.BaseURL, "/")+router.LocalFilesPath, cfg.JWT.Secret)
		return s, func() {}, nil
	}
}
