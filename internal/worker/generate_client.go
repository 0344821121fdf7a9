package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pagepress/internal/batch"
	"pagepress/internal/content"
)

// HTTPGenerator 通过内部 HTTP 接口调用内容生成服务。
// 只允许 Worker 通过 Header 携带 INTERNAL_API_SECRET 访问。
// 失败按状态码分类：429/配额类错误立即放弃，5xx 与网络错误可重试。
type HTTPGenerator struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewHTTPGenerator 构造生成服务客户端。
func NewHTTPGenerator(baseURL, secret string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  strings.TrimSpace(secret),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Generate 实现 batch.Generator。
func (g *HTTPGenerator) Generate(ctx context.Context, spec batch.InputSpec) (*content.Model, error) {
	if g.baseURL == "" {
		return nil, fmt.Errorf("generator base url missing")
	}
	if g.secret == "" {
		return nil, fmt.Errorf("internal api secret missing")
	}

	body, err := json.Marshal(generateRequest{Name: spec.Name, Prompt: spec.Prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	targetURL := g.baseURL + "/v1/internal/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", g.secret)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, batch.Transient(fmt.Errorf("request content generator: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, batch.NonRetryable(batch.ReasonRateLimited)
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, batch.NonRetryable(batch.ReasonQuotaExhausted)
	case resp.StatusCode >= 500:
		return nil, batch.Transient(fmt.Errorf("content generator status %d", resp.StatusCode))
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, fmt.Errorf("content generator status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var m content.Model
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode generated content: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("generated content invalid: %w", err)
	}
	return &m, nil
}
