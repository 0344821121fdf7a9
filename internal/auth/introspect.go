package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client 调用外部鉴权服务的令牌自省接口。
// 鉴权逻辑本身不在本仓库内，这里只做服务间校验。
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient 构造令牌自省客户端。
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  strings.TrimSpace(secret),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type introspectRequest struct {
	Token string `json:"token"`
}

type introspectResponse struct {
	Active bool `json:"active"`
	UserID uint `json:"user_id"`
}

// Validate 实现 middleware.TokenValidator。
func (c *Client) Validate(token string) (uint, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("auth base url missing")
	}

	body, err := json.Marshal(introspectRequest{Token: token})
	if err != nil {
		return 0, fmt.Errorf("marshal introspect request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/internal/introspect", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build introspect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request token introspection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("token introspection status %d", resp.StatusCode)
	}

	var result introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode introspect response: %w", err)
	}
	if !result.Active || result.UserID == 0 {
		return 0, fmt.Errorf("token is not active")
	}
	return result.UserID, nil
}
