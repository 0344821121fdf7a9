package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"pagepress/internal/assets"
	"pagepress/internal/content"
	"pagepress/internal/database"
	"pagepress/internal/entitlement"
	"pagepress/internal/errcode"
	"pagepress/internal/export"
	"pagepress/internal/layout"
	"pagepress/internal/storage"
	"pagepress/internal/tasks"
)

// ExportTaskHandler 负责消费文档导出任务。
type ExportTaskHandler struct {
	db          *gorm.DB
	storage     *storage.Client
	redisClient *redis.Client
	fetcher     *assets.Fetcher
	quota       entitlement.Source
	logger      *slog.Logger
	viewBaseURL string
}

// NewExportTaskHandler 创建任务处理器。
func NewExportTaskHandler(
	db *gorm.DB,
	storageClient *storage.Client,
	redisClient *redis.Client,
	fetcher *assets.Fetcher,
	quota entitlement.Source,
	logger *slog.Logger,
	viewBaseURL string,
) *ExportTaskHandler {
	return &ExportTaskHandler{
		db:          db,
		storage:     storageClient,
		redisClient: redisClient,
		fetcher:     fetcher,
		quota:       quota,
		logger:      logger,
		viewBaseURL: strings.TrimRight(strings.TrimSpace(viewBaseURL), "/"),
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ExportTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.DocumentExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("document_id", int(payload.DocumentID)),
		slog.String("format", payload.Format),
	)
	log.Info("Starting document export task...")

	var doc database.Document
	if err := h.db.WithContext(ctx).First(&doc, payload.DocumentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("document not found, skipping task")
			return nil
		}
		log.Error("query document failed", slog.Any("error", err))
		return err
	}

	log = log.With(slog.Uint64("user_id", uint64(doc.UserID)))

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		notify := DocumentExportNotifyMessage{
			Type:          notifyTypeDocumentExport,
			Status:        "error",
			DocumentID:    doc.ID,
			Format:        payload.Format,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := publishUserNotify(ctx, h.redisClient, doc.UserID, notify); err != nil {
			log.Error("publish export error notification failed", slog.Any("error", err))
		}
	}()

	format := export.Format(payload.Format)
	if !format.Valid() {
		// 格式在入队前已校验，这里属于脏数据，不重试。
		log.Error("unknown export format in payload, dropping task")
		return h.failDocument(ctx, &doc, payload, "unknown export format")
	}

	var m content.Model
	if err := json.Unmarshal(doc.Content, &m); err != nil {
		// 内容损坏属于终态，不重试。
		log.Error("decode document content failed", slog.Any("error", err))
		return h.failDocument(ctx, &doc, payload, "document content is corrupted")
	}

	missingKeys, err := h.fetcher.Resolve(ctx, &m)
	if err != nil {
		log.Error("resolve document assets failed", slog.Any("error", err))
		return err
	}

	tier, err := h.quota.PlanTier(ctx, doc.UserID)
	if err != nil {
		log.Error("resolve user plan tier failed", slog.Any("error", err))
		return err
	}

	data, err := export.Export(&m, format, layout.A4, tier)
	if err != nil {
		log.Error("export document failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("generated-documents/%d/%s.%s", doc.UserID, uuid.NewString(), format.Ext())
	reader := bytes.NewReader(data)
	if _, err := h.storage.UploadFile(ctx, objectName, reader, int64(len(data)), format.ContentType()); err != nil {
		log.Error("upload artifact to minio failed", slog.Any("error", err))
		return err
	}

	update := map[string]any{
		"artifact_key": objectName,
		"status":       "completed",
	}
	if err := h.db.WithContext(ctx).Model(&doc).Updates(update).Error; err != nil {
		log.Error("update document failed", slog.Any("error", err))
		return err
	}

	notify := DocumentExportNotifyMessage{
		Type:          notifyTypeDocumentExport,
		Status:        "completed",
		DocumentID:    doc.ID,
		Format:        payload.Format,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if len(missingKeys) > 0 {
		notify.ErrorCode = errcode.ResourceMissing
		notify.ErrorMessage = "部分图片资源缺失/无效，已自动跳过并继续生成"
		notify.MissingKeys = missingKeys
		log.Warn("document exported with missing assets",
			slog.Int("missing_count", len(missingKeys)),
			slog.Any("missing_keys", missingKeys),
		)
	}
	if err := publishUserNotify(ctx, h.redisClient, doc.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	if format == export.FormatPDF {
		if err := h.generatePreviewImage(ctx, &doc); err != nil {
			log.Warn("generate document preview failed", slog.Any("error", err))
		}
	}

	log.Info("Document export task completed successfully.")
	return nil
}

// failDocument 把文档标记为失败并通知前端，任务本身返回 nil 以免重试脏数据。
func (h *ExportTaskHandler) failDocument(ctx context.Context, doc *database.Document, payload tasks.DocumentExportPayload, message string) error {
	if err := h.db.WithContext(ctx).Model(doc).Update("status", "failed").Error; err != nil {
		return err
	}
	notify := DocumentExportNotifyMessage{
		Type:          notifyTypeDocumentExport,
		Status:        "error",
		DocumentID:    doc.ID,
		Format:        payload.Format,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.SystemError,
		ErrorMessage:  message,
	}
	if err := publishUserNotify(ctx, h.redisClient, doc.UserID, notify); err != nil {
		h.logger.Error("publish export failure notification failed", slog.Any("error", err))
	}
	return nil
}

// generatePreviewImage 对渲染视图截图作为文档缩略图。
func (h *ExportTaskHandler) generatePreviewImage(ctx context.Context, doc *database.Document) error {
	const presignTTL = 7 * 24 * time.Hour

	if h.viewBaseURL == "" {
		return nil
	}

	viewURL := fmt.Sprintf("%s/view/%d", h.viewBaseURL, doc.ID)
	previewBytes, err := export.Raster(ctx, viewURL)
	if err != nil {
		return fmt.Errorf("capture preview snapshot: %w", err)
	}

	objectName := fmt.Sprintf("thumbnails/document/%d/preview.jpg", doc.ID)
	reader := bytes.NewReader(previewBytes)
	if _, err := h.storage.UploadFile(ctx, objectName, reader, int64(len(previewBytes)), "image/jpeg"); err != nil {
		return fmt.Errorf("upload preview image: %w", err)
	}

	presignedURL, err := h.storage.GeneratePresignedURL(ctx, objectName, presignTTL)
	if err != nil {
		return fmt.Errorf("generate preview presigned url: %w", err)
	}

	if err := h.db.WithContext(ctx).Model(doc).Update("preview_image_url", presignedURL).Error; err != nil {
		return fmt.Errorf("update document preview url: %w", err)
	}

	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
