package services

import (
	"context"
	"fmt"
	"time"

	"fieldflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// BillingService 报价单/发票的发送与逾期扫描。
// 发送即：签发门户令牌、直发邮件、置 sent 状态、发出自动化触发事件。
type BillingService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	tracer     trace.Tracer
	delivery   *DeliveryService
	portal     *PortalService
	automation *AutomationService
}

func NewBillingService(db *gorm.DB, logger *logrus.Logger, delivery *DeliveryService, portal *PortalService, automation *AutomationService) *BillingService {
	if logger == nil {
		logger = logrus.New()
	}
	return &BillingService{
		db:         db,
		logger:     logger,
		tracer:     otel.Tracer("fieldflow.billing"),
		delivery:   delivery,
		portal:     portal,
		automation: automation,
	}
}

// SendEstimate 发送报价单给客户
func (s *BillingService) SendEstimate(ctx context.Context, orgID, estimateID uint) (*models.Estimate, error) {
	ctx, span := s.tracer.Start(ctx, "BillingService.SendEstimate")
	defer span.End()

	var estimate models.Estimate
	if err := s.db.WithContext(ctx).Preload("Client").Preload("Organization").
		Where("id = ? AND organization_id = ?", estimateID, orgID).
		First(&estimate).Error; err != nil {
		return nil, err
	}

	token, err := s.portal.IssueEstimateToken(ctx, &estimate)
	if err != nil {
		return nil, fmt.Errorf("issue portal token: %w", err)
	}

	docID := estimate.ID
	_, err = s.delivery.SendEmail(ctx, &SendEmailRequest{
		OrganizationID: orgID,
		To:             estimate.Client.Email,
		Subject:        "Estimate {{estimate_number}} from {{company_name}}",
		HTMLBody:       "Hi {{client_name}}, your estimate {{estimate_number}} for {{estimate_amount}} is ready. View it here: {{portal_link}}",
		Vars:           s.documentVars(&estimate.Client, &estimate.Organization, "estimate", estimate.Number, estimate.Amount, token),
		DocumentType:   "estimate",
		DocumentID:     &docID,
	})
	if err != nil {
		return nil, fmt.Errorf("send estimate email: %w", err)
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&estimate).Updates(map[string]interface{}{
		"status":  "sent",
		"sent_at": now,
	}).Error; err != nil {
		return nil, err
	}
	estimate.Status = "sent"
	estimate.SentAt = &now

	s.logger.WithFields(logrus.Fields{
		"estimate_id":     estimate.ID,
		"organization_id": orgID,
	}).Info("estimate sent")

	if s.automation != nil {
		tc := &models.TriggerContext{
			Estimate: models.SnapshotEstimate(&estimate),
			Client:   models.SnapshotClient(&estimate.Client),
			Company:  models.SnapshotCompany(&estimate.Organization),
		}
		s.automation.OnEvent(ctx, orgID, models.TriggerEstimateSent, tc)
	}
	return &estimate, nil
}

// SendInvoice 发送发票给客户
func (s *BillingService) SendInvoice(ctx context.Context, orgID, invoiceID uint) (*models.Invoice, error) {
	ctx, span := s.tracer.Start(ctx, "BillingService.SendInvoice")
	defer span.End()

	var invoice models.Invoice
	if err := s.db.WithContext(ctx).Preload("Client").Preload("Organization").
		Where("id = ? AND organization_id = ?", invoiceID, orgID).
		First(&invoice).Error; err != nil {
		return nil, err
	}

	token, err := s.portal.IssueInvoiceToken(ctx, &invoice)
	if err != nil {
		return nil, fmt.Errorf("issue portal token: %w", err)
	}

	docID := invoice.ID
	_, err = s.delivery.SendEmail(ctx, &SendEmailRequest{
		OrganizationID: orgID,
		To:             invoice.Client.Email,
		Subject:        "Invoice {{invoice_number}} from {{company_name}}",
		HTMLBody:       "Hi {{client_name}}, invoice {{invoice_number}} for {{invoice_amount}} is due. Pay online: {{portal_link}}",
		Vars:           s.documentVars(&invoice.Client, &invoice.Organization, "invoice", invoice.Number, invoice.Amount, token),
		DocumentType:   "invoice",
		DocumentID:     &docID,
	})
	if err != nil {
		return nil, fmt.Errorf("send invoice email: %w", err)
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&invoice).Updates(map[string]interface{}{
		"status":  "sent",
		"sent_at": now,
	}).Error; err != nil {
		return nil, err
	}
	invoice.Status = "sent"
	invoice.SentAt = &now

	s.logger.WithFields(logrus.Fields{
		"invoice_id":      invoice.ID,
		"organization_id": orgID,
	}).Info("invoice sent")

	if s.automation != nil {
		tc := &models.TriggerContext{
			Invoice: models.SnapshotInvoice(&invoice),
			Client:  models.SnapshotClient(&invoice.Client),
			Company: models.SnapshotCompany(&invoice.Organization),
		}
		s.automation.OnEvent(ctx, orgID, models.TriggerInvoiceSent, tc)
	}
	return &invoice, nil
}

// MarkInvoicesOverdue 逾期扫描：sent 且过了到期日的发票置为 overdue，
// 并逐张发出 invoice_overdue 触发事件。定时任务调用。
func (s *BillingService) MarkInvoicesOverdue(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "BillingService.MarkInvoicesOverdue")
	defer span.End()

	var invoices []models.Invoice
	if err := s.db.WithContext(ctx).Preload("Client").Preload("Organization").
		Where("status = ? AND due_date IS NOT NULL AND due_date < ?", "sent", time.Now()).
		Find(&invoices).Error; err != nil {
		return 0, err
	}

	marked := 0
	for i := range invoices {
		invoice := &invoices[i]
		// 条件更新：并发扫描下同一张发票只会被标记一次
		res := s.db.WithContext(ctx).
			Model(&models.Invoice{}).
			Where("id = ? AND status = ?", invoice.ID, "sent").
			Update("status", "overdue")
		if res.Error != nil {
			s.logger.WithError(res.Error).WithField("invoice_id", invoice.ID).Error("failed to mark invoice overdue")
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}
		marked++
		invoice.Status = "overdue"

		if s.automation != nil {
			tc := &models.TriggerContext{
				Invoice: models.SnapshotInvoice(invoice),
				Client:  models.SnapshotClient(&invoice.Client),
				Company: models.SnapshotCompany(&invoice.Organization),
			}
			s.automation.OnEvent(ctx, invoice.OrganizationID, models.TriggerInvoiceOverdue, tc)
		}
	}

	if marked > 0 {
		s.logger.WithField("count", marked).Info("marked invoices overdue")
	}
	return marked, nil
}

func (s *BillingService) documentVars(client *models.Client, org *models.Organization, docType, number string, amount float64, token string) map[string]interface{} {
	vars := map[string]interface{}{
		"client_name":  client.Name,
		"company_name": org.Name,
	}
	switch docType {
	case "estimate":
		vars["estimate_number"] = number
		vars["estimate_amount"] = amount
	case "invoice":
		vars["invoice_number"] = number
		vars["invoice_amount"] = amount
	}
	if s.portal != nil && token != "" {
		vars["portal_link"] = s.portal.PortalLink(token)
	}
	return vars
}
