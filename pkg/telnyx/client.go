package telnyx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config Telnyx 客户端配置
type Config struct {
	BaseURL    string
	APIKey     string
	ProfileID  string // messaging profile
	WebhookURL string // 发送回执回调地址，可空
	Timeout    time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://api.telnyx.com",
		Timeout: 10 * time.Second,
	}
}

// Client Telnyx 短信 HTTP 客户端
type Client struct {
	baseURL    string
	apiKey     string
	profileID  string
	webhookURL string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient 创建新的 Telnyx 客户端
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.telnyx.com"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		profileID:  config.ProfileID,
		webhookURL: config.WebhookURL,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type messageRequest struct {
	From               string `json:"from"`
	To                 string `json:"to"`
	Text               string `json:"text"`
	MessagingProfileID string `json:"messaging_profile_id,omitempty"`
	WebhookURL         string `json:"webhook_url,omitempty"`
}

type messageResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type errorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Send 发送一条短信，返回网关消息 ID
func (c *Client) Send(ctx context.Context, to, from, message string) (string, error) {
	body, err := json.Marshal(messageRequest{
		From:               from,
		To:                 to,
		Text:               message,
		MessagingProfileID: c.profileID,
		WebhookURL:         c.webhookURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/v2/messages", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "FieldFlow-Telnyx-Client/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("Telnyx API Request: POST %s", url)
	c.logger.Debugf("Telnyx API Response: %d %s", resp.StatusCode, string(respBody))

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && len(errResp.Errors) > 0 {
			return "", fmt.Errorf("API error [%d]: %s: %s", resp.StatusCode, errResp.Errors[0].Title, errResp.Errors[0].Detail)
		}
		return "", fmt.Errorf("API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	var result messageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return result.Data.ID, nil
}

// HealthCheck 检查 API 可达性
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/messaging_profiles", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telnyx unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("telnyx unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}
