package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ActionResult 单个动作的执行结果
type ActionResult struct {
	Action string `json:"action"`
	Status string `json:"status"` // success, failed
	Detail string `json:"detail,omitempty"`
}

// ExecutionResult 一次工作流执行的结果
type ExecutionResult struct {
	Success bool           `json:"success"`
	Results []ActionResult `json:"results"`
}

// Executor 执行器策略接口。Processor 只依赖该接口，测试注入假实现。
type Executor interface {
	Run(ctx context.Context, execLog *models.AutomationExecutionLog, wf *models.AutomationWorkflow, tc *models.TriggerContext) (*ExecutionResult, error)
}

// ---- 远程执行器 ----

// HTTPExecutor 调用远程执行函数：POST {workflow_id, context}，
// 响应 {success, results}。请求体带 HMAC-SHA256 签名头。
type HTTPExecutor struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewHTTPExecutor(url, secret string, timeout time.Duration, logger *logrus.Logger) *HTTPExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type executorRequest struct {
	ExecutionID uint                   `json:"executionId"`
	WorkflowID  uint                   `json:"workflowId"`
	Context     *models.TriggerContext `json:"context"`
}

func (e *HTTPExecutor) Run(ctx context.Context, execLog *models.AutomationExecutionLog, wf *models.AutomationWorkflow, tc *models.TriggerContext) (*ExecutionResult, error) {
	body, err := json.Marshal(executorRequest{ExecutionID: execLog.ID, WorkflowID: wf.ID, Context: tc})
	if err != nil {
		return nil, fmt.Errorf("marshal executor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create executor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.secret != "" {
		req.Header.Set("X-FieldFlow-Signature", computeSignature(e.secret, body))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read executor response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("executor returned HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var result ExecutionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode executor response: %w", err)
	}
	return &result, nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 供回调方校验请求签名
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ---- 本地执行器 ----

// LocalExecutor 内置执行器：解释工作流动作配置并走 DeliveryService 发送。
// 未配置远程执行函数时的默认实现。
type LocalExecutor struct {
	delivery      *DeliveryService
	portalBaseURL string
	logger        *logrus.Logger
	clock         func() time.Time
}

func NewLocalExecutor(delivery *DeliveryService, portalBaseURL string, logger *logrus.Logger) *LocalExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	return &LocalExecutor{
		delivery:      delivery,
		portalBaseURL: portalBaseURL,
		logger:        logger,
		clock:         time.Now,
	}
}

func (e *LocalExecutor) Run(ctx context.Context, execLog *models.AutomationExecutionLog, wf *models.AutomationWorkflow, tc *models.TriggerContext) (*ExecutionResult, error) {
	cfg := &ActionConfig{}
	if wf.ActionConfig != "" && wf.ActionConfig != "null" {
		if err := json.Unmarshal([]byte(wf.ActionConfig), cfg); err != nil {
			return nil, fmt.Errorf("workflow %d: invalid action config: %w", wf.ID, err)
		}
	}

	if ok, detail := e.withinDeliveryWindow(wf); !ok {
		return &ExecutionResult{
			Success: false,
			Results: []ActionResult{{Action: wf.ActionType, Status: "failed", Detail: detail}},
		}, nil
	}

	vars := tc.TemplateVars()
	e.addPortalLink(vars, tc)

	switch wf.ActionType {
	case "send_sms":
		return e.runSend(ctx, execLog, wf, tc, cfg, models.ChannelSMS, vars)
	case "send_email":
		return e.runSend(ctx, execLog, wf, tc, cfg, models.ChannelEmail, vars)
	case "wait":
		// 持久化定时器不在本执行器范围；wait 动作原样记成功
		return &ExecutionResult{
			Success: true,
			Results: []ActionResult{{Action: "wait", Status: "success", Detail: cfg.WaitDuration}},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported action type: %s", wf.ActionType)
	}
}

// runSend 主渠道发送；失败且配置了备用渠道时 best-effort 再试一次
func (e *LocalExecutor) runSend(ctx context.Context, execLog *models.AutomationExecutionLog, wf *models.AutomationWorkflow, tc *models.TriggerContext, cfg *ActionConfig, channel string, vars map[string]interface{}) (*ExecutionResult, error) {
	results := []ActionResult{}

	err := e.sendOn(ctx, execLog, wf, tc, cfg, channel, vars, false)
	if err == nil {
		results = append(results, ActionResult{Action: wf.ActionType, Status: "success"})
		return &ExecutionResult{Success: true, Results: results}, nil
	}
	results = append(results, ActionResult{Action: wf.ActionType, Status: "failed", Detail: err.Error()})

	mc := cfg.MultiChannel
	if mc == nil || !mc.Enabled || mc.FallbackChannel == "" || mc.FallbackChannel == channel {
		return &ExecutionResult{Success: false, Results: results}, nil
	}

	fallbackAction := "send_" + mc.FallbackChannel
	if fbErr := e.sendOn(ctx, execLog, wf, tc, cfg, mc.FallbackChannel, vars, true); fbErr != nil {
		results = append(results, ActionResult{Action: fallbackAction, Status: "failed", Detail: fbErr.Error()})
		return &ExecutionResult{Success: false, Results: results}, nil
	}
	results = append(results, ActionResult{Action: fallbackAction, Status: "success", Detail: "fallback channel"})
	return &ExecutionResult{Success: true, Results: results}, nil
}

func (e *LocalExecutor) sendOn(ctx context.Context, execLog *models.AutomationExecutionLog, wf *models.AutomationWorkflow, tc *models.TriggerContext, cfg *ActionConfig, channel string, vars map[string]interface{}, fallback bool) error {
	docType, docID := documentRef(tc)
	var execLogID *uint
	if execLog != nil && execLog.ID != 0 {
		id := execLog.ID
		execLogID = &id
	}
	switch channel {
	case models.ChannelSMS:
		to := ""
		if tc.Client != nil {
			to = tc.Client.Phone
		}
		message := cfg.Message
		if fallback && cfg.MultiChannel != nil && cfg.MultiChannel.FallbackMessage != "" {
			message = cfg.MultiChannel.FallbackMessage
		}
		_, err := e.delivery.SendSMS(ctx, &SendSMSRequest{
			OrganizationID: wf.OrganizationID,
			To:             to,
			Message:        message,
			From:           cfg.FromNumber,
			Vars:           vars,
			ExecutionLogID: execLogID,
			DocumentType:   docType,
			DocumentID:     docID,
		})
		return err
	case models.ChannelEmail:
		to := ""
		if tc.Client != nil {
			to = tc.Client.Email
		}
		subject := cfg.Subject
		body := cfg.HTMLBody
		text := cfg.TextBody
		if fallback && cfg.MultiChannel != nil {
			if cfg.MultiChannel.FallbackSubject != "" {
				subject = cfg.MultiChannel.FallbackSubject
			}
			if cfg.MultiChannel.FallbackMessage != "" {
				body = cfg.MultiChannel.FallbackMessage
				text = cfg.MultiChannel.FallbackMessage
			}
		}
		_, err := e.delivery.SendEmail(ctx, &SendEmailRequest{
			OrganizationID: wf.OrganizationID,
			To:             to,
			Subject:        subject,
			HTMLBody:       body,
			TextBody:       text,
			From:           cfg.FromEmail,
			Vars:           vars,
			ExecutionLogID: execLogID,
			DocumentType:   docType,
			DocumentID:     docID,
		})
		return err
	default:
		return fmt.Errorf("unsupported channel: %s", channel)
	}
}

// withinDeliveryWindow 发送窗口检查；窗口为空不限制
func (e *LocalExecutor) withinDeliveryWindow(wf *models.AutomationWorkflow) (bool, string) {
	if wf.DeliveryWindow == "" || wf.DeliveryWindow == "null" {
		return true, ""
	}
	var window DeliveryWindow
	if err := json.Unmarshal([]byte(wf.DeliveryWindow), &window); err != nil {
		return false, fmt.Sprintf("invalid delivery window: %v", err)
	}

	loc := time.UTC
	if window.Timezone != "" {
		l, err := time.LoadLocation(window.Timezone)
		if err != nil {
			return false, fmt.Sprintf("invalid delivery window timezone: %v", err)
		}
		loc = l
	}
	now := e.clock().In(loc)

	if len(window.Days) > 0 {
		day := strings.ToLower(now.Format("Mon"))
		found := false
		for _, d := range window.Days {
			if strings.ToLower(d) == day {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Sprintf("outside delivery window: %s not allowed", day)
		}
	}

	if window.Start != "" && window.End != "" {
		cur := now.Format("15:04")
		if cur < window.Start || cur > window.End {
			return false, fmt.Sprintf("outside delivery window: %s not in %s-%s", cur, window.Start, window.End)
		}
	}
	return true, ""
}

// addPortalLink 若快照带门户令牌则注入 {{portal_link}} 变量
func (e *LocalExecutor) addPortalLink(vars map[string]interface{}, tc *models.TriggerContext) {
	if e.portalBaseURL == "" {
		return
	}
	token := ""
	if tc.Invoice != nil && tc.Invoice.PortalToken != "" {
		token = tc.Invoice.PortalToken
	} else if tc.Estimate != nil && tc.Estimate.PortalToken != "" {
		token = tc.Estimate.PortalToken
	}
	if token != "" {
		vars["portal_link"] = strings.TrimRight(e.portalBaseURL, "/") + "/portal/" + token
	}
}

func documentRef(tc *models.TriggerContext) (string, *uint) {
	if tc.Invoice != nil {
		id := tc.Invoice.ID
		return "invoice", &id
	}
	if tc.Estimate != nil {
		id := tc.Estimate.ID
		return "estimate", &id
	}
	return "", nil
}
