package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldflow/internal/models"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func billingFixture(t *testing.T) (*gorm.DB, *BillingService, *fakeEmailGateway) {
	t.Helper()
	db := newAutomationTestDB(t)
	db.Create(&models.Organization{Name: "示例服务公司", Timezone: "UTC", FromEmail: "office@example.com", FromPhone: "+15550100000"})
	db.Create(&models.Client{OrganizationID: 1, Name: "陈芳", Email: "chen@test.com", Phone: "+15550101234"})

	email := &fakeEmailGateway{}
	delivery := NewDeliveryService(db, quietLogger(), &fakeSMSGateway{}, email)
	portal := NewPortalService(db, quietLogger(), "https://portal.example.com")
	automation := NewAutomationService(db, quietLogger())
	svc := NewBillingService(db, quietLogger(), delivery, portal, automation)
	return db, svc, email
}

func TestSendEstimate(t *testing.T) {
	db, svc, email := billingFixture(t)
	ctx := context.Background()

	db.Create(&models.Estimate{OrganizationID: 1, ClientID: 1, Number: "EST-0001", Status: "draft", Amount: 1280.5})
	db.Create(&models.AutomationWorkflow{
		OrganizationID: 1, Name: "报价跟进", TriggerType: models.TriggerEstimateSent,
		ActionType: "send_sms", Enabled: true,
	})

	est, err := svc.SendEstimate(ctx, 1, 1)
	if err != nil {
		t.Fatalf("SendEstimate() error = %v", err)
	}
	assert.Equal(t, "sent", est.Status)
	assert.NotNil(t, est.SentAt)
	assert.NotEmpty(t, est.PortalToken, "sending issues a portal token")

	assert.Equal(t, 1, email.calls)
	assert.Equal(t, "chen@test.com", email.lastTo)
	assert.Equal(t, "Estimate EST-0001 from 示例服务公司", email.lastSubject)
	assert.Contains(t, email.lastHTML, "https://portal.example.com/portal/"+est.PortalToken)
	assert.Contains(t, email.lastHTML, "1280.50", "estimate amount rendered as currency")

	var logs []models.AutomationExecutionLog
	db.Find(&logs)
	if len(logs) != 1 {
		t.Fatalf("expected estimate_sent execution, got %d", len(logs))
	}
	tc, _ := models.DecodeTriggerContext(logs[0].TriggerContext)
	assert.Equal(t, models.TriggerEstimateSent, tc.Kind)
	assert.Equal(t, "EST-0001", tc.Estimate.Number)
	assert.Equal(t, est.PortalToken, tc.Estimate.PortalToken, "snapshot carries the token for portal links")
}

func TestSendEstimate_CrossOrgDenied(t *testing.T) {
	db, svc, _ := billingFixture(t)
	db.Create(&models.Estimate{OrganizationID: 1, ClientID: 1, Number: "EST-0001"})

	_, err := svc.SendEstimate(context.Background(), 2, 1)
	assert.Error(t, err)
}

func TestSendInvoice(t *testing.T) {
	db, svc, email := billingFixture(t)
	ctx := context.Background()

	due := time.Now().Add(14 * 24 * time.Hour)
	db.Create(&models.Invoice{OrganizationID: 1, ClientID: 1, Number: "INV-0001", Status: "draft", Amount: 99.9, DueDate: &due})

	inv, err := svc.SendInvoice(ctx, 1, 1)
	if err != nil {
		t.Fatalf("SendInvoice() error = %v", err)
	}
	assert.Equal(t, "sent", inv.Status)
	assert.NotEmpty(t, inv.PortalToken)
	assert.Equal(t, "Invoice INV-0001 from 示例服务公司", email.lastSubject)

	var entry models.CommunicationLog
	db.Where("type = ?", models.ChannelEmail).First(&entry)
	assert.Equal(t, "invoice", entry.DocumentType)
	assert.EqualValues(t, inv.ID, *entry.DocumentID)
}

func TestSendInvoice_EmailFailureKeepsDraft(t *testing.T) {
	db, svc, email := billingFixture(t)
	email.err = errors.New("smtp down")

	db.Create(&models.Invoice{OrganizationID: 1, ClientID: 1, Number: "INV-0001", Status: "draft", Amount: 10})

	_, err := svc.SendInvoice(context.Background(), 1, 1)
	assert.Error(t, err)

	var check models.Invoice
	db.First(&check, 1)
	assert.Equal(t, "draft", check.Status, "failed send must not flip status to sent")
}

func TestMarkInvoicesOverdue(t *testing.T) {
	db, svc, _ := billingFixture(t)
	ctx := context.Background()

	db.Create(&models.AutomationWorkflow{
		OrganizationID: 1, Name: "逾期提醒", TriggerType: models.TriggerInvoiceOverdue,
		ActionType: "send_email", Enabled: true,
	})

	past := time.Now().Add(-48 * time.Hour)
	future := time.Now().Add(48 * time.Hour)
	db.Create(&models.Invoice{OrganizationID: 1, ClientID: 1, Number: "INV-0001", Status: "sent", Amount: 10, DueDate: &past, PortalToken: "tok-a"})
	db.Create(&models.Invoice{OrganizationID: 1, ClientID: 1, Number: "INV-0002", Status: "sent", Amount: 10, DueDate: &future, PortalToken: "tok-b"})
	db.Create(&models.Invoice{OrganizationID: 1, ClientID: 1, Number: "INV-0003", Status: "paid", Amount: 10, DueDate: &past, PortalToken: "tok-c"})

	marked, err := svc.MarkInvoicesOverdue(ctx)
	if err != nil {
		t.Fatalf("MarkInvoicesOverdue() error = %v", err)
	}
	assert.Equal(t, 1, marked)

	var overdue models.Invoice
	db.Where("number = ?", "INV-0001").First(&overdue)
	assert.Equal(t, "overdue", overdue.Status)

	var logs []models.AutomationExecutionLog
	db.Find(&logs)
	if len(logs) != 1 {
		t.Fatalf("expected invoice_overdue execution, got %d", len(logs))
	}
	tc, _ := models.DecodeTriggerContext(logs[0].TriggerContext)
	assert.Equal(t, models.TriggerInvoiceOverdue, tc.Kind)

	// 再次扫描不会重复标记
	marked, err = svc.MarkInvoicesOverdue(ctx)
	if err != nil {
		t.Fatalf("second scan error = %v", err)
	}
	assert.Zero(t, marked, "overdue scan is idempotent")
}
