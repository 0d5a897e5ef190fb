package router

import (
	"time"

	"taxbook/api"
	"taxbook/archive"
	"taxbook/config"
	"taxbook/extraction"
	"taxbook/middleware"
	"taxbook/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// LocalFilesPath ローカル保存時の署名付き URL の配信パス
const LocalFilesPath = "/files"

// Deps ルーターが使う依存
type Deps struct {
	DB        *gorm.DB
	Store     storage.ObjectStore
	Builder   *archive.Builder
	Extractor extraction.Extractor // nil なら読み取り機能は無効
	Log       zerolog.Logger
}

// SetupRouter ルーティングを設定する
func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(middleware.RequestLogger(deps.Log))
	r.Use(middleware.Recovery())
	r.Use(CORSMiddleware())
	r.MaxMultipartMemory = cfg.Upload.MaxBytes

	// ローカル保存のときだけ、署名を確認してファイルを返す
	if fsStore, ok := deps.Store.(*storage.FSStore); ok {
		r.GET(LocalFilesPath+"/*path", api.ServeLocal(fsStore))
	}

	authHandler := api.NewAuthHandler(deps.DB, cfg)
	recordHandler := api.NewRecordHandler(deps.DB, cfg.Tax.Rules(), deps.Store)
	categoryHandler := api.NewCategoryHandler(deps.DB, deps.Store)
	settingHandler := api.NewSettingHandler(deps.DB)
	attachmentHandler := api.NewAttachmentHandler(deps.DB, deps.Store, deps.Builder, cfg)
	extractionHandler := api.NewExtractionHandler(deps.DB, deps.Extractor, cfg.Upload.MaxBytes)
	reportHandler := api.NewReportHandler(deps.DB)

	v1 := r.Group("/api/v1")
	{
		// 認証（ログイン不要）
		auth := v1.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", middleware.LoginRateLimit(10, 15*time.Minute), authHandler.Login)
		}

		// JWT 認証が必要なルート
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth())
		{
			authorized.GET("/auth/profile", authHandler.GetProfile)

			records := authorized.Group("/records")
			{
				records.POST("", recordHandler.Create)
				records.GET("", recordHandler.List)
				records.GET("/clients", recordHandler.Clients)
				records.GET("/descriptions", recordHandler.Descriptions)
				records.GET("/:id", recordHandler.Get)
				records.PUT("/:id", recordHandler.Update)
				records.DELETE("/:id", recordHandler.Delete)
			}

			categories := authorized.Group("/categories")
			{
				categories.GET("", categoryHandler.List)
				categories.POST("", categoryHandler.Create)
				categories.PUT("/:id", categoryHandler.Update)
				categories.DELETE("/:id", categoryHandler.Delete)
			}

			settings := authorized.Group("/settings")
			{
				settings.GET("", settingHandler.GetAll)
				settings.GET("/:key", settingHandler.Get)
				settings.PUT("/:key", settingHandler.Put)
			}

			attachments := authorized.Group("/attachments")
			{
				attachments.POST("", attachmentHandler.Upload)
				attachments.GET("/url", attachmentHandler.SignedURL)
				attachments.GET("/archive", attachmentHandler.Archive)
			}

			authorized.POST("/extract", middleware.ExtractRateLimit(cfg.Gemini.RateLimitPerHour, time.Hour), extractionHandler.Extract)

			reports := authorized.Group("/reports")
			{
				reports.GET("/summary", reportHandler.Summary)
				reports.GET("/export", reportHandler.ExportCSV)
				reports.GET("/export/xlsx", reportHandler.ExportXLSX)
			}
		}
	}

	// ヘルスチェック
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":     "ok",
			"extraction": deps.Extractor != nil,
		})
	})

	return r
}

// CORSMiddleware CORS
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Skipped-Records, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
