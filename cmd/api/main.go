package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"pagepress/internal/api"
	"pagepress/internal/auth"
	"pagepress/internal/config"
	"pagepress/internal/database"
	"pagepress/internal/storage"
	"pagepress/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	log.Printf("api bootstrapped with db host=%s port=%d db=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Printf("database connection ready")

	if err := db.AutoMigrate(
		&database.User{},
		&database.Document{},
		&database.BatchRun{},
		&database.BatchItem{},
		&database.Asset{},
	); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	log.Printf("database migrated")

	var seedUser database.User
	switch err := db.First(&seedUser, 1).Error; {
	case err == nil:
		// seeded user already present
	case errors.Is(err, gorm.ErrRecordNotFound):
		seeded := database.User{Model: gorm.Model{ID: 1}, Username: "test_user", PlanTier: "free"}
		if err := db.Create(&seeded).Error; err != nil {
			log.Fatalf("seed default user: %v", err)
		}
		log.Printf("seeded default user with ID 1")
	default:
		log.Fatalf("query default user: %v", err)
	}

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

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	validator := auth.NewClient(cfg.Auth.BaseURL, cfg.API.InternalSecret)
	quota := worker.NewDBQuota(db)

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, cfg, db, asynqClient, redisClient, validator, quota, logger, storageClient)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	log.Printf("api listening on %s", address)
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
