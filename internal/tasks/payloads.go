package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeDocumentExport = "document:export"
	TypeBatchGenerate  = "batch:generate"
)

// DocumentExportPayload 描述导出一份文档所需的最小信息。
type DocumentExportPayload struct {
	DocumentID    uint   `json:"document_id"`
	Format        string `json:"format"`
	CorrelationID string `json:"correlation_id"`
}

// NewDocumentExportTask 构造一个新的文档导出任务。
func NewDocumentExportTask(id uint, format, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentExportPayload{
		DocumentID:    id,
		Format:        format,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDocumentExport, payload), nil
}

// BatchGeneratePayload 描述一次批量生成运行。
type BatchGeneratePayload struct {
	BatchRunID    uint   `json:"batch_run_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewBatchGenerateTask 构造一个新的批量生成任务。
func NewBatchGenerateTask(id uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(BatchGeneratePayload{
		BatchRunID:    id,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBatchGenerate, payload), nil
}
