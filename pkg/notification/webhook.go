package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// WebhookChannel Webhook 通道
type WebhookChannel struct {
	url    string
	token  string
	secret string
	client *http.Client
}

// NewWebhookChannel 创建 Webhook 通道, token 与 secret 可为空
func NewWebhookChannel(url, token, secret string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		url:    url,
		token:  token,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Name 实现 Channel
func (c *WebhookChannel) Name() string {
	return "webhook"
}

// Send 实现 Channel
func (c *WebhookChannel) Send(ctx context.Context, n *Notification) error {
	payload := map[string]any{
		"id":        n.ID,
		"type":      n.Type,
		"severity":  n.Severity,
		"title":     n.Title,
		"content":   n.Content,
		"ip":        n.IP,
		"timestamp": n.CreatedAt.Unix(),
		"metadata":  n.Metadata,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化Webhook数据失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建Webhook请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SecuBox-WAF/1.0")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.secret != "" {
		req.Header.Set("X-Webhook-Signature", generateHMACSignature(data, c.secret))
		req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("Webhook请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook返回错误状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}
	return nil
}

// generateHMACSignature 生成HMAC签名
func generateHMACSignature(data []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return "sha256=" + base64.StdEncoding.EncodeToString(h.Sum(nil))
}
