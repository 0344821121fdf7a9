package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。
type DocumentExportNotifyMessage struct {
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	DocumentID    uint     `json:"document_id"`
	Format        string   `json:"format"`
	CorrelationID string   `json:"correlation_id"`
	ErrorCode     int      `json:"error_code"`
	ErrorMessage  string   `json:"error_message"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
}

// BatchProgressNotifyMessage 批量运行进度与终态通知。
type BatchProgressNotifyMessage struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	BatchRunID    uint   `json:"batch_run_id"`
	Completed     int    `json:"completed"`
	Total         int    `json:"total"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

const (
	notifyTypeDocumentExport = "document_export"
	notifyTypeBatchProgress  = "batch_progress"
)

// publishUserNotify 把通知推到用户专属的 Redis 频道。
func publishUserNotify(ctx context.Context, rdb *redis.Client, userID uint, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
