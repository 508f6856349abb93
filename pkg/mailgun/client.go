package mailgun

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config Mailgun 客户端配置
type Config struct {
	BaseURL string
	APIKey  string
	Domain  string // 发信域名
	Timeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://api.mailgun.net",
		Timeout: 10 * time.Second,
	}
}

// Client Mailgun 邮件 HTTP 客户端
type Client struct {
	baseURL    string
	apiKey     string
	domain     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient 创建新的 Mailgun 客户端
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.mailgun.net"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		domain:  config.Domain,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send 发送一封邮件，返回网关消息 ID
func (c *Client) Send(ctx context.Context, to, from, subject, html, text string) (string, error) {
	form := url.Values{}
	form.Set("from", from)
	form.Set("to", to)
	form.Set("subject", subject)
	if html != "" {
		form.Set("html", html)
	}
	if text != "" {
		form.Set("text", text)
	}

	endpoint := fmt.Sprintf("%s/v3/%s/messages", c.baseURL, c.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", c.apiKey)
	req.Header.Set("User-Agent", "FieldFlow-Mailgun-Client/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("Mailgun API Request: POST %s", endpoint)
	c.logger.Debugf("Mailgun API Response: %d %s", resp.StatusCode, string(respBody))

	if resp.StatusCode >= 400 {
		var errResp sendResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return "", fmt.Errorf("API error [%d]: %s", resp.StatusCode, errResp.Message)
		}
		return "", fmt.Errorf("API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	var result sendResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return strings.Trim(result.ID, "<>"), nil
}

// HealthCheck 检查域名配置可达性
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/v4/domains/%s", c.baseURL, c.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth("api", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("mailgun unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}
