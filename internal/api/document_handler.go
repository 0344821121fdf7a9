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
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pagepress/internal/api/middleware"
	"pagepress/internal/content"
	"pagepress/internal/database"
	"pagepress/internal/entitlement"
	"pagepress/internal/export"
	"pagepress/internal/layout"
	"pagepress/internal/storage"
	"pagepress/internal/tasks"
)

// DocumentHandler 负责处理文档相关的 API 请求。
type DocumentHandler struct {
	db           *gorm.DB
	asynqClient  taskEnqueuer
	storage      *storage.Client
	maxDocuments int
}

// NewDocumentHandler 构造 DocumentHandler。
func NewDocumentHandler(db *gorm.DB, asynqClient *asynq.Client, storageClient *storage.Client, maxDocuments int) *DocumentHandler {
	return &DocumentHandler{
		db:           db,
		asynqClient:  asynqClient,
		storage:      storageClient,
		maxDocuments: maxDocuments,
	}
}

var errInvalidDocumentID = errors.New("invalid document id")

type createDocumentRequest struct {
	Title   string         `json:"title" binding:"required"`
	Content datatypes.JSON `json:"content" binding:"required"`
}

type documentListItem struct {
	ID              uint      `json:"id"`
	Title           string    `json:"title"`
	Status          string    `json:"status,omitempty"`
	PreviewImageURL string    `json:"preview_image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type documentResponse struct {
	ID              uint           `json:"id"`
	Title           string         `json:"title"`
	Content         datatypes.JSON `json:"content"`
	Status          string         `json:"status,omitempty"`
	PreviewImageURL string         `json:"preview_image_url,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func newDocumentResponse(doc database.Document) documentResponse {
	return documentResponse{
		ID:              doc.ID,
		Title:           doc.Title,
		Content:         doc.Content,
		Status:          doc.Status,
		PreviewImageURL: doc.PreviewImageURL,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

// decodeDocumentContent 校验提交的内容模型是否能被导出管线接受。
func decodeDocumentContent(raw datatypes.JSON) error {
	var m content.Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("content is not a valid document model: %w", err)
	}
	return m.Validate()
}

// CreateDocument 保存一份新文档，超过限额则提示升级。
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	if err := decodeDocumentContent(req.Content); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()

	var count int64
	if err := h.db.WithContext(ctx).
		Model(&database.Document{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		Internal(c, "failed to count documents")
		return
	}

	if h.maxDocuments > 0 && count >= int64(h.maxDocuments) {
		Forbidden(c, "document limit reached")
		return
	}

	doc := database.Document{
		Title:   req.Title,
		Content: req.Content,
		UserID:  userID,
	}
	if err := h.db.WithContext(ctx).Create(&doc).Error; err != nil {
		Internal(c, "failed to create document")
		return
	}

	c.JSON(http.StatusCreated, newDocumentResponse(doc))
}

// ListDocuments 列出用户全部文档。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var docs []database.Document
	if err := h.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&docs).Error; err != nil {
		Internal(c, "failed to list documents")
		return
	}

	items := make([]documentListItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, documentListItem{
			ID:              d.ID,
			Title:           d.Title,
			Status:          d.Status,
			PreviewImageURL: d.PreviewImageURL,
			CreatedAt:       d.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, items)
}

// GetDocument 返回指定 ID 的文档。
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	doc, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}

	c.JSON(http.StatusOK, newDocumentResponse(*doc))
}

// UpdateDocument 覆盖指定文档。
func (h *DocumentHandler) UpdateDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	if err := decodeDocumentContent(req.Content); err != nil {
		BadRequest(c, err.Error())
		return
	}

	doc, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}

	ctx := c.Request.Context()
	updates := map[string]any{
		"title":   req.Title,
		"content": req.Content,
		// 内容变化后旧产物不再可信。
		"artifact_key": "",
		"status":       "",
	}
	if err := h.db.WithContext(ctx).Model(doc).Updates(updates).Error; err != nil {
		Internal(c, "failed to update document")
		return
	}

	if err := h.db.WithContext(ctx).First(doc, doc.ID).Error; err != nil {
		Internal(c, "failed to reload document")
		return
	}

	c.JSON(http.StatusOK, newDocumentResponse(*doc))
}

// DeleteDocument 删除指定文档，同时尽力清理已生成的产物。
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	doc, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Delete(&database.Document{}, doc.ID).Error; err != nil {
		Internal(c, "failed to delete document")
		return
	}

	if doc.ArtifactKey != "" {
		if err := h.storage.DeleteObject(ctx, doc.ArtifactKey); err != nil {
			middleware.LoggerFromContext(c).Warn("delete artifact failed", "object_key", doc.ArtifactKey, "error", err)
		}
	}

	c.Status(http.StatusNoContent)
}

// ExportDocument 按请求格式导出文档。
// 表格与幻灯片直接在请求内完成；分页 PDF 交给 Worker 异步生成并返回 202。
func (h *DocumentHandler) ExportDocument(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	format := export.Format(c.DefaultQuery("format", string(export.FormatPDF)))
	if !format.Valid() {
		BadRequest(c, "unknown export format")
		return
	}

	doc, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}

	if format == export.FormatPDF {
		correlationID := middleware.GetCorrelationID(c)
		task, err := tasks.NewDocumentExportTask(doc.ID, string(format), correlationID)
		if err != nil {
			Internal(c, "failed to create task")
			return
		}

		if err := h.db.WithContext(c.Request.Context()).Model(doc).Update("status", "processing").Error; err != nil {
			Internal(c, "failed to mark document processing")
			return
		}

		info, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(5))
		if err != nil {
			Internal(c, "failed to enqueue export")
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message": "export request accepted",
			"task_id": info.ID,
		})
		return
	}

	var m content.Model
	if err := json.Unmarshal(doc.Content, &m); err != nil {
		Internal(c, "document content is corrupted")
		return
	}

	// 水印只作用于分页导出，这里的档位不影响结果。
	data, err := export.Export(&m, format, layout.A4, entitlement.TierFree)
	if err != nil {
		middleware.LoggerFromContext(c).Error("synchronous export failed", "format", string(format), "error", err)
		Internal(c, "failed to export document")
		return
	}

	filename := fmt.Sprintf("%s.%s", doc.Title, format.Ext())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, format.ContentType(), data)
}

// GetDownloadLink 生成文档产物的预签名下载链接。
func (h *DocumentHandler) GetDownloadLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	doc, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}

	if doc.ArtifactKey == "" {
		Conflict(c, "artifact not ready")
		return
	}

	signedURL, err := h.storage.GeneratePresignedURL(c.Request.Context(), doc.ArtifactKey, 5*time.Minute)
	if err != nil {
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

// InternalGetDocument 返回渲染视图所需的文档内容。
// 仅限携带内部密钥的服务间调用。
func (h *DocumentHandler) InternalGetDocument(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid document id")
		return
	}

	var doc database.Document
	if err := h.db.WithContext(c.Request.Context()).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "document not found")
			return
		}
		Internal(c, "failed to query document")
		return
	}

	c.JSON(http.StatusOK, newDocumentResponse(doc))
}

func (h *DocumentHandler) respondDocumentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidDocumentID):
		BadRequest(c, "invalid document id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "document not found")
	default:
		Internal(c, "failed to query document")
	}
}

func (h *DocumentHandler) getDocumentForUser(ctx context.Context, rawID string, userID uint) (*database.Document, error) {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || id == 0 {
		return nil, errInvalidDocumentID
	}

	var doc database.Document
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get("userID")
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	default:
		return 0, false
	}
}
