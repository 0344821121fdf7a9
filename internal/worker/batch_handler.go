package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"pagepress/internal/batch"
	"pagepress/internal/config"
	"pagepress/internal/database"
	"pagepress/internal/entitlement"
	"pagepress/internal/errcode"
	"pagepress/internal/export"
	"pagepress/internal/layout"
	"pagepress/internal/storage"
	"pagepress/internal/tasks"
)

// BatchTaskHandler 负责消费批量生成任务。
type BatchTaskHandler struct {
	db          *gorm.DB
	storage     *storage.Client
	redisClient *redis.Client
	generator   batch.Generator
	quota       entitlement.Source
	logger      *slog.Logger
	batchCfg    config.BatchConfig
}

// NewBatchTaskHandler 创建任务处理器。
func NewBatchTaskHandler(
	db *gorm.DB,
	storageClient *storage.Client,
	redisClient *redis.Client,
	generator batch.Generator,
	quota entitlement.Source,
	logger *slog.Logger,
	batchCfg config.BatchConfig,
) *BatchTaskHandler {
	return &BatchTaskHandler{
		db:          db,
		storage:     storageClient,
		redisClient: redisClient,
		generator:   generator,
		quota:       quota,
		logger:      logger,
		batchCfg:    batchCfg,
	}
}

// artifactStore 把单个产物写进对象存储，按运行 ID 归档。
type artifactStore struct {
	storage *storage.Client
	runID   uint
}

func (s *artifactStore) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	objectName := fmt.Sprintf("batch-artifacts/%d/%s", s.runID, name)
	reader := bytes.NewReader(data)
	if _, err := s.storage.UploadFile(ctx, objectName, reader, int64(len(data)), contentType); err != nil {
		return "", err
	}
	return objectName, nil
}

// ProcessTask 实现 asynq.Handler。
func (h *BatchTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.BatchGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("batch_run_id", int(payload.BatchRunID)),
	)
	log.Info("Starting batch generation task...")

	var run database.BatchRun
	if err := h.db.WithContext(ctx).First(&run, payload.BatchRunID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("batch run not found, skipping task")
			return nil
		}
		log.Error("query batch run failed", slog.Any("error", err))
		return err
	}

	log = log.With(slog.Uint64("user_id", uint64(run.UserID)))

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		notify := BatchProgressNotifyMessage{
			Type:          notifyTypeBatchProgress,
			Status:        "error",
			BatchRunID:    run.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := publishUserNotify(ctx, h.redisClient, run.UserID, notify); err != nil {
			log.Error("publish batch error notification failed", slog.Any("error", err))
		}
	}()

	var specs []batch.InputSpec
	if err := json.Unmarshal(run.Specs, &specs); err != nil {
		// 提交内容损坏属于终态，不重试。
		log.Error("decode batch specs failed", slog.Any("error", err))
		return h.failRun(ctx, &run, payload, "batch specs are corrupted")
	}

	tier, err := h.quota.PlanTier(ctx, run.UserID)
	if err != nil {
		log.Error("resolve user plan tier failed", slog.Any("error", err))
		return err
	}

	if err := h.db.WithContext(ctx).Model(&run).Update("status", "running").Error; err != nil {
		log.Error("update batch run status failed", slog.Any("error", err))
		return err
	}

	orch := batch.NewOrchestrator(h.generator, &artifactStore{storage: h.storage, runID: run.ID}, h.quota, log)
	opts := batch.Options{
		MaxAttempts:      h.batchCfg.MaxAttempts,
		BaseDelay:        h.batchCfg.BaseDelay,
		ConcurrencyLimit: h.batchCfg.ConcurrencyLimit,
		Format:           export.Format(run.Format),
		Geometry:         layout.A4,
		Tier:             tier,
		OnProgress: func(p batch.Progress) {
			notify := BatchProgressNotifyMessage{
				Type:          notifyTypeBatchProgress,
				Status:        "running",
				BatchRunID:    run.ID,
				Completed:     p.Completed,
				Total:         p.Total,
				CorrelationID: payload.CorrelationID,
				ErrorCode:     errcode.OK,
			}
			if err := publishUserNotify(ctx, h.redisClient, run.UserID, notify); err != nil {
				log.Warn("publish batch progress failed", slog.Any("error", err))
			}
		},
	}

	results, err := orch.Run(ctx, run.UserID, specs, opts)
	if err != nil {
		if errors.Is(err, batch.ErrInsufficientQuota) {
			// 配额不足是整批终态，重试不会改变结果。
			log.Warn("batch rejected: insufficient quota", slog.Any("error", err))
			return h.failRunWithCode(ctx, &run, payload, err.Error(), errcode.QuotaExhausted)
		}
		log.Error("batch run failed", slog.Any("error", err))
		return err
	}

	if err := h.persistItems(ctx, &run, results); err != nil {
		log.Error("persist batch items failed", slog.Any("error", err))
		return err
	}

	bundle, err := batch.Package(results, opts.Format)
	if err != nil {
		// 没有任何成功产物：运行落为失败，条目里保留各自的原因。
		log.Warn("batch produced no successful artifacts")
		return h.failRun(ctx, &run, payload, "no successful artifacts")
	}

	bundleKey := fmt.Sprintf("batch-bundles/%d/%d.zip", run.UserID, run.ID)
	reader := bytes.NewReader(bundle)
	if _, err := h.storage.UploadFile(ctx, bundleKey, reader, int64(len(bundle)), "application/zip"); err != nil {
		log.Error("upload batch bundle failed", slog.Any("error", err))
		return err
	}

	update := map[string]any{
		"bundle_key": bundleKey,
		"status":     "completed",
	}
	if err := h.db.WithContext(ctx).Model(&run).Updates(update).Error; err != nil {
		log.Error("update batch run failed", slog.Any("error", err))
		return err
	}

	succeeded := 0
	for _, r := range results {
		if r.Status == batch.StatusSuccess {
			succeeded++
		}
	}
	notify := BatchProgressNotifyMessage{
		Type:          notifyTypeBatchProgress,
		Status:        "completed",
		BatchRunID:    run.ID,
		Completed:     len(results),
		Total:         len(results),
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := publishUserNotify(ctx, h.redisClient, run.UserID, notify); err != nil {
		log.Error("publish batch completion failed", slog.Any("error", err))
		return err
	}

	log.Info("Batch generation task completed.",
		slog.Int("total", len(results)),
		slog.Int("succeeded", succeeded),
	)
	return nil
}

// persistItems 将每个任务的终态写入 batch_items，顺序与输入一致。
func (h *BatchTaskHandler) persistItems(ctx context.Context, run *database.BatchRun, results []batch.JobResult) error {
	items := make([]database.BatchItem, 0, len(results))
	for _, r := range results {
		items = append(items, database.BatchItem{
			BatchRunID:  run.ID,
			Position:    r.Index,
			Name:        r.Spec.Name,
			Status:      string(r.Status),
			Attempts:    r.Attempts,
			ArtifactKey: r.ArtifactKey,
			Reason:      r.Reason,
		})
	}
	return h.db.WithContext(ctx).Create(&items).Error
}

func (h *BatchTaskHandler) failRun(ctx context.Context, run *database.BatchRun, payload tasks.BatchGeneratePayload, message string) error {
	return h.failRunWithCode(ctx, run, payload, message, errcode.SystemError)
}

// failRunWithCode 把运行标记为失败并通知前端，任务本身返回 nil 以免无意义重试。
func (h *BatchTaskHandler) failRunWithCode(ctx context.Context, run *database.BatchRun, payload tasks.BatchGeneratePayload, message string, code int) error {
	if err := h.db.WithContext(ctx).Model(run).Update("status", "failed").Error; err != nil {
		return err
	}
	notify := BatchProgressNotifyMessage{
		Type:          notifyTypeBatchProgress,
		Status:        "error",
		BatchRunID:    run.ID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
	if err := publishUserNotify(ctx, h.redisClient, run.UserID, notify); err != nil {
		h.logger.Error("publish batch failure notification failed", slog.Any("error", err))
	}
	return nil
}
