package batch

import (
	"context"
	"errors"
	"fmt"

	"pagepress/internal/content"
)

// InputSpec 描述一个批量生成项：交给内容生成器的提示词与展示名。
type InputSpec struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Generator 外部内容生成协作方（AI 服务等，实现不在本仓库内）。
// Failures must be classified: wrap transient ones in TransientError
// and definitive ones in NonRetryableError so the orchestrator can
// decide whether to back off or give up.
type Generator interface {
	Generate(ctx context.Context, spec InputSpec) (*content.Model, error)
}

// Store 成功产物的落盘协作方，返回产物句柄（对象键）。
type Store interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// TransientError 标记可重试的失败（网络抖动、5xx、超时）。
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// 不可重试失败的已知原因。
const (
	ReasonQuotaExhausted = "quota exhausted"
	ReasonRateLimited    = "rate limited"
)

// NonRetryableError 标记应立即放弃的失败（配额耗尽、显式冷却期限流）。
type NonRetryableError struct {
	Reason string
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Reason }

// NonRetryable builds a definitive failure with the given reason.
func NonRetryable(reason string) error {
	return &NonRetryableError{Reason: reason}
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsQuotaExhausted reports whether err is the quota failure class that
// short-circuits the rest of the batch.
func IsQuotaExhausted(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre) && nre.Reason == ReasonQuotaExhausted
}

func failureReason(err error) string {
	var nre *NonRetryableError
	if errors.As(err, &nre) {
		return nre.Reason
	}
	return err.Error()
}

// ErrInsufficientQuota 整批提交前配额不足，整批拒绝。
var ErrInsufficientQuota = errors.New("batch: insufficient quota for batch size")

func insufficientQuota(want, have int) error {
	return fmt.Errorf("%w: need %d, have %d", ErrInsufficientQuota, want, have)
}
