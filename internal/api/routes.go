package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"pagepress/internal/api/middleware"
	"pagepress/internal/config"
	"pagepress/internal/entitlement"
	"pagepress/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	redisClient *redis.Client,
	validator middleware.TokenValidator,
	quota entitlement.Source,
	logger *slog.Logger,
	storageClient *storage.Client,
) {
	documentHandler := NewDocumentHandler(db, asynqClient, storageClient, 100)
	batchHandler := NewBatchHandler(db, asynqClient, storageClient, quota, redisClient, cfg.Batch.MaxSpecs)
	wsHandler := NewWsHandler(redisClient, validator, logger, nil)
	assetHandler := NewAssetHandler(
		db,
		storageClient,
		logger,
		redisClient,
		cfg.Assets.ClamdAddr,
		cfg.Assets.MaxBytes,
		cfg.Assets.MaxPerUser,
		cfg.Assets.MaxUploadsPerDay,
	)
	identity := middleware.IdentityMiddleware(validator)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		documentGroup := v1.Group("/documents")
		documentGroup.Use(identity)
		{
			documentGroup.POST("", documentHandler.CreateDocument)
			documentGroup.GET("", documentHandler.ListDocuments)
			documentGroup.GET("/:id", documentHandler.GetDocument)
			documentGroup.PUT("/:id", documentHandler.UpdateDocument)
			documentGroup.DELETE("/:id", documentHandler.DeleteDocument)
			documentGroup.POST("/:id/export", documentHandler.ExportDocument)
			documentGroup.GET("/:id/download-link", documentHandler.GetDownloadLink)
		}

		batchGroup := v1.Group("/batches")
		batchGroup.Use(identity)
		{
			batchGroup.POST("", batchHandler.SubmitBatch)
			batchGroup.GET("/:id", batchHandler.GetBatch)
			batchGroup.GET("/:id/download-link", batchHandler.GetBundleLink)
		}

		assetGroup := v1.Group("/assets")
		assetGroup.Use(identity)
		{
			assetGroup.POST("/upload", assetHandler.UploadAsset)
			assetGroup.GET("", assetHandler.ListAssets)
			assetGroup.GET("/view", assetHandler.GetAssetURL)
			assetGroup.DELETE("", assetHandler.DeleteAsset)
		}

		internalGroup := v1.Group("/internal")
		internalGroup.Use(middleware.InternalSecretMiddleware(cfg.API.InternalSecret))
		{
			internalGroup.GET("/documents/:id", documentHandler.InternalGetDocument)
		}
	}
}
