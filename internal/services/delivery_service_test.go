package services

import (
	"context"
	"errors"
	"testing"

	"fieldflow/internal/models"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

type fakeSMSGateway struct {
	calls      int
	lastTo     string
	lastFrom   string
	lastBody   string
	providerID string
	err        error
}

func (f *fakeSMSGateway) Send(ctx context.Context, to, from, message string) (string, error) {
	f.calls++
	f.lastTo, f.lastFrom, f.lastBody = to, from, message
	if f.err != nil {
		return "", f.err
	}
	if f.providerID == "" {
		return "sms-msg-1", nil
	}
	return f.providerID, nil
}

type fakeEmailGateway struct {
	calls       int
	lastTo      string
	lastSubject string
	lastHTML    string
	err         error
}

func (f *fakeEmailGateway) Send(ctx context.Context, to, from, subject, html, text string) (string, error) {
	f.calls++
	f.lastTo, f.lastSubject, f.lastHTML = to, subject, html
	if f.err != nil {
		return "", f.err
	}
	return "email-msg-1", nil
}

func newDeliveryFixture(t *testing.T) (*gorm.DB, *DeliveryService, *fakeSMSGateway, *fakeEmailGateway) {
	t.Helper()
	db := newAutomationTestDB(t)
	org := models.Organization{
		Name:      "示例服务公司",
		Timezone:  "UTC",
		FromEmail: "office@example.com",
		FromPhone: "+15550100000",
	}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("create org: %v", err)
	}
	sms := &fakeSMSGateway{}
	email := &fakeEmailGateway{}
	svc := NewDeliveryService(db, quietLogger(), sms, email)
	return db, svc, sms, email
}

func TestSendSMS_Success(t *testing.T) {
	db, svc, sms, _ := newDeliveryFixture(t)

	res, err := svc.SendSMS(context.Background(), &SendSMSRequest{
		OrganizationID: 1,
		To:             "+15550101234",
		Message:        "您好 {{client_name}}，工单已完成。",
		Vars:           map[string]interface{}{"client_name": "陈芳"},
	})
	if err != nil {
		t.Fatalf("SendSMS() error = %v", err)
	}
	assert.True(t, res.Success)
	assert.Equal(t, "sms-msg-1", res.ProviderID)
	assert.Equal(t, 1, sms.calls)
	assert.Equal(t, "+15550100000", sms.lastFrom, "falls back to org default number")
	assert.Equal(t, "您好 陈芳，工单已完成。", sms.lastBody, "template rendered before gateway call")

	var entry models.CommunicationLog
	if err := db.First(&entry, res.LogID).Error; err != nil {
		t.Fatalf("log row missing: %v", err)
	}
	assert.Equal(t, models.ChannelSMS, entry.Type)
	assert.Equal(t, models.CommStatusSent, entry.Status)
	assert.Equal(t, "sms-msg-1", entry.ProviderID)
}

func TestSendSMS_InvalidRecipientFailsFast(t *testing.T) {
	db, svc, sms, _ := newDeliveryFixture(t)

	_, err := svc.SendSMS(context.Background(), &SendSMSRequest{
		OrganizationID: 1,
		To:             "not-a-phone",
		Message:        "hi",
	})
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	assert.Zero(t, sms.calls, "gateway must not be touched for malformed recipients")

	var entry models.CommunicationLog
	if err := db.Where("type = ?", models.ChannelSMS).First(&entry).Error; err != nil {
		t.Fatalf("failed attempt must still be logged: %v", err)
	}
	assert.Equal(t, models.CommStatusFailed, entry.Status)
	assert.NotEmpty(t, entry.ErrorMessage)
}

func TestSendSMS_GatewayErrorLogged(t *testing.T) {
	db, svc, sms, _ := newDeliveryFixture(t)
	sms.err = errors.New("telnyx 5xx")

	_, err := svc.SendSMS(context.Background(), &SendSMSRequest{
		OrganizationID: 1,
		To:             "+15550101234",
		Message:        "hi",
	})
	assert.Error(t, err)

	var entry models.CommunicationLog
	db.Where("type = ?", models.ChannelSMS).First(&entry)
	assert.Equal(t, models.CommStatusFailed, entry.Status)
	assert.Contains(t, entry.ErrorMessage, "telnyx 5xx")
}

func TestSendEmail_Success(t *testing.T) {
	db, svc, _, email := newDeliveryFixture(t)

	docID := uint(7)
	res, err := svc.SendEmail(context.Background(), &SendEmailRequest{
		OrganizationID: 1,
		To:             "chen@test.com",
		Subject:        "Invoice {{invoice_number}}",
		HTMLBody:       "Total {{invoice_amount}}",
		Vars: map[string]interface{}{
			"invoice_number": "INV-0012",
			"invoice_amount": 99.9,
		},
		DocumentType: "invoice",
		DocumentID:   &docID,
	})
	if err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
	assert.True(t, res.Success)
	assert.Equal(t, 1, email.calls)
	assert.Equal(t, "Invoice INV-0012", email.lastSubject)
	assert.Equal(t, "Total 99.90", email.lastHTML, "invoice_amount renders as currency")

	var entry models.CommunicationLog
	db.First(&entry, res.LogID)
	assert.Equal(t, "invoice", entry.DocumentType)
	assert.EqualValues(t, 7, *entry.DocumentID)
}

func TestSendEmail_NoSenderConfigured(t *testing.T) {
	db := newAutomationTestDB(t)
	// 组织没有默认发件地址
	db.Create(&models.Organization{Name: "无发件人", Timezone: "UTC"})
	email := &fakeEmailGateway{}
	svc := NewDeliveryService(db, quietLogger(), &fakeSMSGateway{}, email)

	_, err := svc.SendEmail(context.Background(), &SendEmailRequest{
		OrganizationID: 1,
		To:             "chen@test.com",
		Subject:        "x",
	})
	assert.Error(t, err)
	assert.Zero(t, email.calls)
}

func TestSendSMS_CircuitOpenRejects(t *testing.T) {
	_, svc, sms, _ := newDeliveryFixture(t)
	sms.err = errors.New("down")

	// 连续失败直到熔断
	for i := 0; i < 6; i++ {
		_, _ = svc.SendSMS(context.Background(), &SendSMSRequest{
			OrganizationID: 1, To: "+15550101234", Message: "hi",
		})
	}
	callsBefore := sms.calls
	_, err := svc.SendSMS(context.Background(), &SendSMSRequest{
		OrganizationID: 1, To: "+15550101234", Message: "hi",
	})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, callsBefore, sms.calls, "open breaker must not reach the gateway")
}

func TestUpdateDeliveryStatus(t *testing.T) {
	db, svc, _, _ := newDeliveryFixture(t)

	res, err := svc.SendSMS(context.Background(), &SendSMSRequest{
		OrganizationID: 1, To: "+15550101234", Message: "hi",
	})
	if err != nil {
		t.Fatalf("SendSMS() error = %v", err)
	}

	if err := svc.UpdateDeliveryStatus(context.Background(), res.ProviderID, models.CommStatusDelivered, ""); err != nil {
		t.Fatalf("UpdateDeliveryStatus() error = %v", err)
	}
	var entry models.CommunicationLog
	db.First(&entry, res.LogID)
	assert.Equal(t, models.CommStatusDelivered, entry.Status)
	assert.NotNil(t, entry.DeliveredAt)

	assert.Error(t, svc.UpdateDeliveryStatus(context.Background(), "unknown-id", models.CommStatusDelivered, ""))
	assert.Error(t, svc.UpdateDeliveryStatus(context.Background(), "", models.CommStatusDelivered, ""))
}

func TestListCommunications_Filters(t *testing.T) {
	db, svc, _, _ := newDeliveryFixture(t)
	ctx := context.Background()

	db.Create(&models.CommunicationLog{OrganizationID: 1, Type: models.ChannelSMS, Recipient: "+15550101234", Status: models.CommStatusSent})
	db.Create(&models.CommunicationLog{OrganizationID: 1, Type: models.ChannelEmail, Recipient: "a@b.com", Status: models.CommStatusFailed})
	db.Create(&models.CommunicationLog{OrganizationID: 2, Type: models.ChannelSMS, Recipient: "+15550109999", Status: models.CommStatusSent})

	logs, total, err := svc.ListCommunications(ctx, 1, &CommunicationListRequest{})
	if err != nil {
		t.Fatalf("ListCommunications() error = %v", err)
	}
	assert.EqualValues(t, 2, total)
	assert.Len(t, logs, 2)

	logs, total, err = svc.ListCommunications(ctx, 1, &CommunicationListRequest{Type: models.ChannelEmail})
	if err != nil {
		t.Fatalf("ListCommunications(email) error = %v", err)
	}
	assert.EqualValues(t, 1, total)
	assert.Equal(t, models.CommStatusFailed, logs[0].Status)
}
