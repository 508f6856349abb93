package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"fieldflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// ErrInvalidRecipient 收件人格式非法（快速失败，不触网关）
var ErrInvalidRecipient = errors.New("invalid recipient")

// ErrGatewayUnavailable 熔断器拒绝请求
var ErrGatewayUnavailable = errors.New("gateway unavailable (circuit open)")

// E.164 风格：可选 + 前缀，8~15 位数字
var phoneRe = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)

// SMSGateway 短信网关（Telnyx 等）
type SMSGateway interface {
	Send(ctx context.Context, to, from, message string) (providerID string, err error)
}

// EmailGateway 邮件网关（Mailgun 等）
type EmailGateway interface {
	Send(ctx context.Context, to, from, subject, html, text string) (providerID string, err error)
}

// SendEmailRequest 一次外发邮件请求
type SendEmailRequest struct {
	OrganizationID uint
	To             string
	Subject        string
	HTMLBody       string
	TextBody       string
	From           string                 // 为空则使用组织默认发件地址
	Vars           map[string]interface{} // 模板变量，主题与正文统一替换
	ExecutionLogID *uint
	DocumentType   string // estimate, invoice（可选）
	DocumentID     *uint
}

// SendSMSRequest 一次外发短信请求
type SendSMSRequest struct {
	OrganizationID uint
	To             string
	Message        string
	From           string // 为空则使用组织默认号码
	Vars           map[string]interface{}
	ExecutionLogID *uint
	DocumentType   string
	DocumentID     *uint
}

// SendResult 外发结果
type SendResult struct {
	Success    bool   `json:"success"`
	ProviderID string `json:"provider_id"`
	LogID      uint   `json:"log_id"`
}

// DeliveryService 外发服务：模板替换、网关调用、通信日志记账。
// 每一次尝试无论成败恰好写一条 CommunicationLog。
type DeliveryService struct {
	db           *gorm.DB
	logger       *logrus.Logger
	tracer       trace.Tracer
	sms          SMSGateway
	email        EmailGateway
	smsBreaker   *CircuitBreaker
	emailBreaker *CircuitBreaker
	sink         AnalyticsSink // optional, nil = disabled
	bus          *EventBus     // optional
}

func NewDeliveryService(db *gorm.DB, logger *logrus.Logger, sms SMSGateway, email EmailGateway) *DeliveryService {
	if logger == nil {
		logger = logrus.New()
	}
	return &DeliveryService{
		db:           db,
		logger:       logger,
		tracer:       otel.Tracer("fieldflow.delivery"),
		sms:          sms,
		email:        email,
		smsBreaker:   NewCircuitBreaker(),
		emailBreaker: NewCircuitBreaker(),
	}
}

// WithAnalytics 挂接统计落点
func (s *DeliveryService) WithAnalytics(sink AnalyticsSink) *DeliveryService {
	s.sink = sink
	return s
}

// WithEventBus 挂接事件总线（看板推送）
func (s *DeliveryService) WithEventBus(bus *EventBus) *DeliveryService {
	s.bus = bus
	return s
}

// SendEmail 发送一封邮件。失败也会落一条 status=failed 的通信日志，
// 并把错误返回给调用方（由调用方决定是否走备用渠道）。
func (s *DeliveryService) SendEmail(ctx context.Context, req *SendEmailRequest) (*SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.send_email")
	defer span.End()

	loc := s.orgLocation(ctx, req.OrganizationID)
	subject := RenderTemplate(req.Subject, req.Vars, loc)
	html := RenderTemplate(req.HTMLBody, req.Vars, loc)
	text := RenderTemplate(req.TextBody, req.Vars, loc)

	entry := &models.CommunicationLog{
		OrganizationID: req.OrganizationID,
		ExecutionLogID: req.ExecutionLogID,
		Type:           models.ChannelEmail,
		Direction:      "outbound",
		Recipient:      req.To,
		Subject:        subject,
		Content:        firstNonEmptyString(html, text),
		DocumentType:   req.DocumentType,
		DocumentID:     req.DocumentID,
	}

	if req.To == "" || !strings.Contains(req.To, "@") {
		return nil, s.failSend(ctx, entry, fmt.Errorf("%w: %q is not an email address", ErrInvalidRecipient, req.To))
	}

	from := req.From
	if from == "" {
		from = s.orgFromEmail(ctx, req.OrganizationID)
	}
	if from == "" {
		return nil, s.failSend(ctx, entry, fmt.Errorf("no sender address configured for organization %d", req.OrganizationID))
	}

	if !s.emailBreaker.Allow() {
		return nil, s.failSend(ctx, entry, ErrGatewayUnavailable)
	}

	providerID, err := s.email.Send(ctx, req.To, from, subject, html, text)
	if err != nil {
		s.emailBreaker.RecordFailure()
		return nil, s.failSend(ctx, entry, fmt.Errorf("email gateway: %w", err))
	}
	s.emailBreaker.RecordSuccess()

	span.SetAttributes(attribute.String("delivery.provider_id", providerID))
	return s.completeSend(ctx, entry, providerID)
}

// SendSMS 发送一条短信
func (s *DeliveryService) SendSMS(ctx context.Context, req *SendSMSRequest) (*SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.send_sms")
	defer span.End()

	loc := s.orgLocation(ctx, req.OrganizationID)
	message := RenderTemplate(req.Message, req.Vars, loc)

	entry := &models.CommunicationLog{
		OrganizationID: req.OrganizationID,
		ExecutionLogID: req.ExecutionLogID,
		Type:           models.ChannelSMS,
		Direction:      "outbound",
		Recipient:      req.To,
		Content:        message,
		DocumentType:   req.DocumentType,
		DocumentID:     req.DocumentID,
	}

	if req.To == "" || !phoneRe.MatchString(strings.ReplaceAll(req.To, " ", "")) {
		return nil, s.failSend(ctx, entry, fmt.Errorf("%w: %q is not an E.164 phone number", ErrInvalidRecipient, req.To))
	}

	from := req.From
	if from == "" {
		from = s.orgFromPhone(ctx, req.OrganizationID)
	}
	if from == "" {
		return nil, s.failSend(ctx, entry, fmt.Errorf("no sender number configured for organization %d", req.OrganizationID))
	}

	if !s.smsBreaker.Allow() {
		return nil, s.failSend(ctx, entry, ErrGatewayUnavailable)
	}

	providerID, err := s.sms.Send(ctx, req.To, from, message)
	if err != nil {
		s.smsBreaker.RecordFailure()
		return nil, s.failSend(ctx, entry, fmt.Errorf("sms gateway: %w", err))
	}
	s.smsBreaker.RecordSuccess()

	span.SetAttributes(attribute.String("delivery.provider_id", providerID))
	return s.completeSend(ctx, entry, providerID)
}

// failSend 落一条 failed 日志并返回原错误
func (s *DeliveryService) failSend(ctx context.Context, entry *models.CommunicationLog, cause error) error {
	entry.Status = models.CommStatusFailed
	entry.ErrorMessage = cause.Error()
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.Errorf("delivery: record failed %s attempt: %v", entry.Type, err)
	}
	s.recordOutcome(ctx, entry, "failed")
	s.logger.Warnf("delivery: %s to %s failed: %v", entry.Type, entry.Recipient, cause)
	return cause
}

func (s *DeliveryService) completeSend(ctx context.Context, entry *models.CommunicationLog, providerID string) (*SendResult, error) {
	entry.Status = models.CommStatusSent
	entry.ProviderID = providerID
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		// 发送已经发生，记账失败只能记日志
		s.logger.Errorf("delivery: record sent %s attempt: %v", entry.Type, err)
	}
	s.recordOutcome(ctx, entry, "sent")
	s.logger.Infof("delivery: %s to %s sent, provider_id=%s", entry.Type, entry.Recipient, providerID)
	return &SendResult{Success: true, ProviderID: providerID, LogID: entry.ID}, nil
}

func (s *DeliveryService) recordOutcome(ctx context.Context, entry *models.CommunicationLog, outcome string) {
	if s.sink != nil {
		s.sink.RecordSend(ctx, entry.OrganizationID, entry.Type, outcome)
	}
	if s.bus != nil {
		s.bus.Publish(Event{Type: EventCommunicationLogged, Payload: entry})
	}
}

// UpdateDeliveryStatus 网关回执：按 provider message id 回写状态。
// 日志本体 append-only，仅 status/delivered_at/error_message 可被回执修改。
func (s *DeliveryService) UpdateDeliveryStatus(ctx context.Context, providerID, status, errMsg string) error {
	if providerID == "" {
		return fmt.Errorf("provider id required")
	}
	updates := map[string]interface{}{"status": status}
	if status == models.CommStatusDelivered {
		now := time.Now()
		updates["delivered_at"] = &now
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	result := s.db.WithContext(ctx).Model(&models.CommunicationLog{}).
		Where("provider_id = ?", providerID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no communication log for provider id %s", providerID)
	}
	return nil
}

// CommunicationListRequest 通信日志列表请求
type CommunicationListRequest struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Type     string `form:"type"`
	Status   string `form:"status"`
}

// ListCommunications 分页查询通信日志
func (s *DeliveryService) ListCommunications(ctx context.Context, orgID uint, req *CommunicationListRequest) ([]models.CommunicationLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.CommunicationLog{}).Where("organization_id = ?", orgID)
	if req.Type != "" {
		q = q.Where("type = ?", req.Type)
	}
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size < 1 || size > 100 {
		size = 20
	}
	var logs []models.CommunicationLog
	if err := q.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// orgLocation 解析组织时区，失败退回 UTC
func (s *DeliveryService) orgLocation(ctx context.Context, orgID uint) *time.Location {
	var org models.Organization
	if err := s.db.WithContext(ctx).Select("timezone").First(&org, orgID).Error; err != nil {
		return time.UTC
	}
	loc, err := time.LoadLocation(org.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s *DeliveryService) orgFromEmail(ctx context.Context, orgID uint) string {
	var org models.Organization
	if err := s.db.WithContext(ctx).Select("from_email").First(&org, orgID).Error; err != nil {
		return ""
	}
	return org.FromEmail
}

func (s *DeliveryService) orgFromPhone(ctx context.Context, orgID uint) string {
	var org models.Organization
	if err := s.db.WithContext(ctx).Select("from_phone").First(&org, orgID).Error; err != nil {
		return ""
	}
	return org.FromPhone
}

func firstNonEmptyString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
