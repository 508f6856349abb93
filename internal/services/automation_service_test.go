package services

import (
	"context"
	"testing"

	"fieldflow/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newAutomationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:automation_" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Organization{},
		&models.Client{},
		&models.Job{},
		&models.Estimate{},
		&models.Invoice{},
		&models.CommunicationLog{},
		&models.AutomationWorkflow{},
		&models.AutomationExecutionLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func jobContext(status, previous string) *models.TriggerContext {
	return &models.TriggerContext{
		Job:    &models.JobSnapshot{ID: 1, Title: "水管维修", Status: status, PreviousStatus: previous, Total: 350},
		Client: &models.ClientSnapshot{ID: 1, Name: "陈芳", Email: "chen@test.com", Phone: "+15550101234"},
		Company: &models.CompanySnapshot{
			ID: 1, Name: "示例服务公司", Timezone: "UTC",
		},
	}
}

func TestOnEvent_ZeroConditionsAlwaysMatch(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, quietLogger())

	wf := models.AutomationWorkflow{
		OrganizationID: 1,
		Name:           "完工通知",
		TriggerType:    models.TriggerJobStatusChanged,
		ActionType:     "send_sms",
		ActionConfig:   `{"message":"done"}`,
		Enabled:        true,
	}
	db.Create(&wf)

	svc.OnEvent(context.Background(), 1, models.TriggerJobStatusChanged, jobContext("Completed", "In Progress"))

	var logs []models.AutomationExecutionLog
	db.Find(&logs)
	if len(logs) != 1 {
		t.Fatalf("expected 1 pending execution, got %d", len(logs))
	}
	assert.Equal(t, models.ExecutionStatusPending, logs[0].Status)
	assert.Equal(t, wf.ID, logs[0].WorkflowID)
	assert.Equal(t, uint(1), logs[0].OrganizationID)
	assert.NotEmpty(t, logs[0].TriggerContext)
}

func TestOnEvent_ConditionNotMetSkips(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, quietLogger())

	wf := models.AutomationWorkflow{
		OrganizationID: 1,
		Name:           "完工通知",
		TriggerType:    models.TriggerJobStatusChanged,
		Conditions:     `[{"field":"job.status","op":"eq","value":"Completed"}]`,
		ActionType:     "send_sms",
		Enabled:        true,
	}
	db.Create(&wf)

	svc.OnEvent(context.Background(), 1, models.TriggerJobStatusChanged, jobContext("Cancelled", "Scheduled"))

	var count int64
	db.Model(&models.AutomationExecutionLog{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no execution for unmet condition, got %d", count)
	}
}

func TestOnEvent_DisabledAndForeignWorkflowsIgnored(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, quietLogger())

	db.Create(&models.AutomationWorkflow{
		OrganizationID: 1, Name: "停用", TriggerType: models.TriggerJobStatusChanged,
		ActionType: "send_sms", Enabled: false,
	})
	db.Create(&models.AutomationWorkflow{
		OrganizationID: 2, Name: "别家的", TriggerType: models.TriggerJobStatusChanged,
		ActionType: "send_sms", Enabled: true,
	})

	svc.OnEvent(context.Background(), 1, models.TriggerJobStatusChanged, jobContext("Completed", ""))

	var count int64
	db.Model(&models.AutomationExecutionLog{}).Count(&count)
	if count != 0 {
		t.Errorf("disabled/foreign workflows must not schedule, got %d executions", count)
	}
}

func TestOnEvent_InvalidContextRejected(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, quietLogger())

	db.Create(&models.AutomationWorkflow{
		OrganizationID: 1, Name: "x", TriggerType: models.TriggerJobStatusChanged,
		ActionType: "send_sms", Enabled: true,
	})

	// job_status_changed 无 job 快照应被拒绝
	svc.OnEvent(context.Background(), 1, models.TriggerJobStatusChanged, &models.TriggerContext{
		Client: &models.ClientSnapshot{ID: 1, Name: "x"},
	})

	var count int64
	db.Model(&models.AutomationExecutionLog{}).Count(&count)
	assert.Zero(t, count)
}

func TestOnEvent_PublishesWakeEvent(t *testing.T) {
	db := newAutomationTestDB(t)
	bus := NewEventBus(4)
	svc := NewAutomationService(db, quietLogger()).WithEventBus(bus)

	ch, cancel := bus.Subscribe()
	defer cancel()

	db.Create(&models.AutomationWorkflow{
		OrganizationID: 1, Name: "x", TriggerType: models.TriggerJobStatusChanged,
		ActionType: "send_sms", Enabled: true,
	})
	svc.OnEvent(context.Background(), 1, models.TriggerJobStatusChanged, jobContext("Completed", ""))

	select {
	case ev := <-ch:
		assert.Equal(t, EventExecutionCreated, ev.Type)
	default:
		t.Fatal("expected an execution.created event on the bus")
	}
}

func TestEvaluateCondition_Operators(t *testing.T) {
	attrs := map[string]interface{}{
		"job.status": "Completed",
		"job.total":  350.0,
	}
	cases := []struct {
		name string
		cond TriggerCondition
		want bool
	}{
		{"eq match", TriggerCondition{Field: "job.status", Op: "eq", Value: "Completed"}, true},
		{"eq mismatch", TriggerCondition{Field: "job.status", Op: "eq", Value: "Scheduled"}, false},
		{"neq", TriggerCondition{Field: "job.status", Op: "neq", Value: "Scheduled"}, true},
		{"contains", TriggerCondition{Field: "job.status", Op: "contains", Value: "Comp"}, true},
		{"gt", TriggerCondition{Field: "job.total", Op: "gt", Value: 100}, true},
		{"lt", TriggerCondition{Field: "job.total", Op: "lt", Value: 100}, false},
		{"missing field", TriggerCondition{Field: "job.missing", Op: "eq", Value: "x"}, false},
		{"unknown op", TriggerCondition{Field: "job.status", Op: "matches", Value: "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := evaluateCondition(tc.cond, attrs); got != tc.want {
				t.Errorf("evaluateCondition(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestCreateWorkflow_Validation(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, quietLogger())
	ctx := context.Background()

	_, err := svc.CreateWorkflow(ctx, 1, &WorkflowRequest{
		Name: "x", TriggerType: "no_such_trigger", ActionType: "send_sms",
	})
	assert.Error(t, err)

	_, err = svc.CreateWorkflow(ctx, 1, &WorkflowRequest{
		Name: "x", TriggerType: models.TriggerJobStatusChanged, ActionType: "explode",
	})
	assert.Error(t, err)

	wf, err := svc.CreateWorkflow(ctx, 1, &WorkflowRequest{
		Name:        "完工短信",
		TriggerType: models.TriggerJobStatusChanged,
		Conditions:  []TriggerCondition{{Field: "job.status", Op: "eq", Value: "Completed"}},
		ActionType:  "send_sms",
		ActionConfig: &ActionConfig{
			Message: "您好 {{client_name}}",
		},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	assert.True(t, wf.Enabled, "workflows default to enabled")
	assert.NotZero(t, wf.ID)
}

func TestSetWorkflowEnabled_NotFound(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, quietLogger())

	err := svc.SetWorkflowEnabled(context.Background(), 1, 999, false)
	assert.Error(t, err)
}

func TestSetWorkflowEnabled_CrossOrgDenied(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, quietLogger())

	wf := models.AutomationWorkflow{OrganizationID: 2, Name: "x", TriggerType: models.TriggerJobStatusChanged, ActionType: "send_sms", Enabled: true}
	db.Create(&wf)

	err := svc.SetWorkflowEnabled(context.Background(), 1, wf.ID, false)
	assert.Error(t, err, "another org's workflow must not be reachable")

	var check models.AutomationWorkflow
	db.First(&check, wf.ID)
	assert.True(t, check.Enabled)
}

func TestListExecutions_FilterAndPaging(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, quietLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		db.Create(&models.AutomationExecutionLog{WorkflowID: 1, OrganizationID: 1, TriggerContext: "{}", Status: models.ExecutionStatusCompleted})
	}
	db.Create(&models.AutomationExecutionLog{WorkflowID: 1, OrganizationID: 1, TriggerContext: "{}", Status: models.ExecutionStatusFailed})
	db.Create(&models.AutomationExecutionLog{WorkflowID: 1, OrganizationID: 2, TriggerContext: "{}", Status: models.ExecutionStatusCompleted})

	logs, total, err := svc.ListExecutions(ctx, 1, &ExecutionListRequest{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	assert.EqualValues(t, 4, total)
	assert.Len(t, logs, 4)

	logs, total, err = svc.ListExecutions(ctx, 1, &ExecutionListRequest{Page: 1, PageSize: 10, Status: "failed"})
	if err != nil {
		t.Fatalf("ListExecutions(failed) error = %v", err)
	}
	assert.EqualValues(t, 1, total)
	assert.Len(t, logs, 1)

	_, _, err = svc.ListExecutions(ctx, 1, &ExecutionListRequest{Status: "bogus"})
	assert.Error(t, err)
}
