package services

import (
	"context"
	"errors"
	"strings"

	"fieldflow/internal/metrics"
	"fieldflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// ErrInvalidToken 令牌无效。不存在、格式错、已撤销统一归到这一个错误，
// 对外不区分原因。
var ErrInvalidToken = errors.New("invalid portal token")

// PortalDocument 门户令牌解析结果
type PortalDocument struct {
	Type     string           `json:"type"` // estimate, invoice
	Estimate *models.Estimate `json:"estimate,omitempty"`
	Invoice  *models.Invoice  `json:"invoice,omitempty"`
}

// PortalService 客户门户：无登录，凭不可猜测令牌访问单个单据
type PortalService struct {
	db      *gorm.DB
	logger  *logrus.Logger
	tracer  trace.Tracer
	baseURL string
}

func NewPortalService(db *gorm.DB, logger *logrus.Logger, baseURL string) *PortalService {
	if logger == nil {
		logger = logrus.New()
	}
	return &PortalService{
		db:      db,
		logger:  logger,
		tracer:  otel.Tracer("fieldflow.portal"),
		baseURL: baseURL,
	}
}

// ResolveToken 按令牌查单据，先报价单后发票。查不到一律 ErrInvalidToken。
func (s *PortalService) ResolveToken(ctx context.Context, token string) (*PortalDocument, error) {
	ctx, span := s.tracer.Start(ctx, "PortalService.ResolveToken")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		metrics.IncrPortalRejects()
		return nil, ErrInvalidToken
	}

	var estimate models.Estimate
	err := s.db.WithContext(ctx).Preload("Client").
		Where("portal_token = ?", token).First(&estimate).Error
	if err == nil {
		metrics.IncrPortalResolves()
		return &PortalDocument{Type: "estimate", Estimate: &estimate}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var invoice models.Invoice
	err = s.db.WithContext(ctx).Preload("Client").
		Where("portal_token = ?", token).First(&invoice).Error
	if err == nil {
		metrics.IncrPortalResolves()
		return &PortalDocument{Type: "invoice", Invoice: &invoice}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	metrics.IncrPortalRejects()
	return nil, ErrInvalidToken
}

// IssueEstimateToken 为报价单签发门户令牌，已有令牌直接复用
func (s *PortalService) IssueEstimateToken(ctx context.Context, estimate *models.Estimate) (string, error) {
	if estimate.PortalToken != "" {
		return estimate.PortalToken, nil
	}
	token := uuid.NewString()
	if err := s.db.WithContext(ctx).Model(estimate).Update("portal_token", token).Error; err != nil {
		return "", err
	}
	estimate.PortalToken = token
	return token, nil
}

// IssueInvoiceToken 为发票签发门户令牌，已有令牌直接复用
func (s *PortalService) IssueInvoiceToken(ctx context.Context, invoice *models.Invoice) (string, error) {
	if invoice.PortalToken != "" {
		return invoice.PortalToken, nil
	}
	token := uuid.NewString()
	if err := s.db.WithContext(ctx).Model(invoice).Update("portal_token", token).Error; err != nil {
		return "", err
	}
	invoice.PortalToken = token
	return token, nil
}

// PortalLink 拼接客户可点击的门户链接
func (s *PortalService) PortalLink(token string) string {
	return strings.TrimRight(s.baseURL, "/") + "/portal/" + token
}
