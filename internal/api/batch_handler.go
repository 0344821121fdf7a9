package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"pagepress/internal/api/middleware"
	"pagepress/internal/batch"
	"pagepress/internal/database"
	"pagepress/internal/entitlement"
	"pagepress/internal/export"
	"pagepress/internal/storage"
	"pagepress/internal/tasks"
)

// 每位用户每天允许提交的批量运行次数。
const maxBatchSubmitsPerDay = 20

// taskEnqueuer 是 *asynq.Client 的最小接口，便于测试替换。
type taskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// BatchHandler 负责处理批量生成相关的 API 请求。
type BatchHandler struct {
	db          *gorm.DB
	asynqClient taskEnqueuer
	storage     *storage.Client
	quota       entitlement.Source
	redisClient redisRateCounter
	maxSpecs    int
}

// NewBatchHandler 构造 BatchHandler。
func NewBatchHandler(
	db *gorm.DB,
	asynqClient *asynq.Client,
	storageClient *storage.Client,
	quota entitlement.Source,
	redisClient redisRateCounter,
	maxSpecs int,
) *BatchHandler {
	return &BatchHandler{
		db:          db,
		asynqClient: asynqClient,
		storage:     storageClient,
		quota:       quota,
		redisClient: redisClient,
		maxSpecs:    maxSpecs,
	}
}

var errInvalidBatchID = errors.New("invalid batch id")

type submitBatchRequest struct {
	Specs  []batch.InputSpec `json:"specs" binding:"required"`
	Format string            `json:"format"`
}

type batchItemResponse struct {
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	ArtifactKey string `json:"artifact_key,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type batchRunResponse struct {
	ID        uint                `json:"id"`
	Format    string              `json:"format"`
	Status    string              `json:"status"`
	BundleKey string              `json:"bundle_key,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	Items     []batchItemResponse `json:"items"`
}

// SubmitBatch 校验批量请求、整批预检配额并入队。
func (h *BatchHandler) SubmitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	if len(req.Specs) == 0 {
		BadRequest(c, "specs must not be empty")
		return
	}
	if h.maxSpecs > 0 && len(req.Specs) > h.maxSpecs {
		BadRequest(c, fmt.Sprintf("too many specs, limit is %d", h.maxSpecs))
		return
	}
	for i, spec := range req.Specs {
		if spec.Prompt == "" {
			BadRequest(c, fmt.Sprintf("spec %d is missing a prompt", i))
			return
		}
	}

	format := export.Format(req.Format)
	if req.Format == "" {
		format = export.FormatPDF
	}
	if !format.Valid() {
		BadRequest(c, "unknown export format")
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	rateKey := fmt.Sprintf("batch_submit:%d:%s", userID, time.Now().UTC().Format("2006-01-02"))
	submits, err := incrWithTTL(ctx, h.redisClient, rateKey, 24*time.Hour)
	if err != nil {
		log.Warn("batch submit rate counter unavailable", "error", err)
	} else if submits > maxBatchSubmitsPerDay {
		Error(c, http.StatusTooManyRequests, "daily batch submission limit reached")
		return
	}

	// 配额不足时整批拒绝，不做部分提交。
	remaining, err := h.quota.Remaining(ctx, userID)
	if err != nil {
		Internal(c, "failed to check quota")
		return
	}
	if remaining < len(req.Specs) {
		Forbidden(c, fmt.Sprintf("insufficient quota: need %d, have %d", len(req.Specs), remaining))
		return
	}

	specsJSON, err := json.Marshal(req.Specs)
	if err != nil {
		Internal(c, "failed to encode specs")
		return
	}

	run := database.BatchRun{
		UserID: userID,
		Specs:  specsJSON,
		Format: string(format),
		Status: "pending",
	}
	if err := h.db.WithContext(ctx).Create(&run).Error; err != nil {
		Internal(c, "failed to create batch run")
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewBatchGenerateTask(run.ID, correlationID)
	if err != nil {
		Internal(c, "failed to create task")
		return
	}

	info, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(30*time.Minute))
	if err != nil {
		Internal(c, "failed to enqueue batch run")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":      "batch run accepted",
		"batch_run_id": run.ID,
		"task_id":      info.ID,
	})
}

// GetBatch 返回批量运行状态与逐项终态。
func (h *BatchHandler) GetBatch(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	run, err := h.getBatchForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondBatchError(c, err)
		return
	}

	items := make([]batchItemResponse, 0, len(run.Items))
	for _, item := range run.Items {
		items = append(items, batchItemResponse{
			Position:    item.Position,
			Name:        item.Name,
			Status:      item.Status,
			Attempts:    item.Attempts,
			ArtifactKey: item.ArtifactKey,
			Reason:      item.Reason,
		})
	}

	c.JSON(http.StatusOK, batchRunResponse{
		ID:        run.ID,
		Format:    run.Format,
		Status:    run.Status,
		BundleKey: run.BundleKey,
		CreatedAt: run.CreatedAt,
		Items:     items,
	})
}

// GetBundleLink 生成批量产物 zip 包的预签名下载链接。
func (h *BatchHandler) GetBundleLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	run, err := h.getBatchForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondBatchError(c, err)
		return
	}

	if run.BundleKey == "" {
		Conflict(c, "bundle not ready")
		return
	}

	filename := fmt.Sprintf("batch-%d.zip", run.ID)
	signedURL, err := h.storage.GenerateDownloadURL(c.Request.Context(), run.BundleKey, filename, 5*time.Minute)
	if err != nil {
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

func (h *BatchHandler) respondBatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidBatchID):
		BadRequest(c, "invalid batch id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "batch run not found")
	default:
		Internal(c, "failed to query batch run")
	}
}

func (h *BatchHandler) getBatchForUser(ctx context.Context, rawID string, userID uint) (*database.BatchRun, error) {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || id == 0 {
		return nil, errInvalidBatchID
	}

	var run database.BatchRun
	if err := h.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ? AND user_id = ?", id, userID).
		First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}
