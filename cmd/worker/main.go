package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"pagepress/internal/assets"
	"pagepress/internal/config"
	"pagepress/internal/database"
	"pagepress/internal/metrics"
	"pagepress/internal/storage"
	"pagepress/internal/tasks"
	"pagepress/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	fetcher := assets.NewFetcher(storageClient, cfg.Assets.MaxBytes, logger)
	quota := worker.NewDBQuota(db)
	generator := worker.NewHTTPGenerator(cfg.Generator.BaseURL, cfg.API.InternalSecret)

	exportHandler := worker.NewExportTaskHandler(
		db,
		storageClient,
		redisClient,
		fetcher,
		quota,
		logger,
		cfg.Render.ViewBaseURL,
	)
	batchHandler := worker.NewBatchTaskHandler(
		db,
		storageClient,
		redisClient,
		generator,
		quota,
		logger,
		cfg.Batch,
	)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeDocumentExport, exportHandler)
	mux.Handle(tasks.TypeBatchGenerate, batchHandler)

	logger.Info("worker service started", slog.String("redis_addr", redisAddr))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
