package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"fieldflow/internal/config"
	"fieldflow/internal/models"
	"fieldflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func executionTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := newHandlerTestDB(t)
	logger := quietTestLogger()
	automation := services.NewAutomationService(db, logger)
	processor := services.NewProcessor(db, logger, nil, config.AutomationConfig{
		PollInterval:    time.Second,
		BatchSize:       10,
		ExecutorTimeout: 5 * time.Second,
		StaleAfter:      24 * time.Hour,
		RunningLease:    10 * time.Minute,
	})
	handler := NewExecutionHandler(automation, processor, logger)

	r := gin.New()
	api := r.Group("/api", injectOrg(1))
	RegisterExecutionRoutes(api, handler)
	return r, db
}

func seedHandlerExecution(t *testing.T, db *gorm.DB, orgID uint, status models.ExecutionStatus) *models.AutomationExecutionLog {
	t.Helper()
	wf := &models.AutomationWorkflow{
		OrganizationID: orgID,
		Name:           "完工通知",
		TriggerType:    models.TriggerJobStatusChanged,
		ActionType:     "send_sms",
		ActionConfig:   `{"message":"ok"}`,
		Enabled:        true,
	}
	if err := db.Create(wf).Error; err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	entry := &models.AutomationExecutionLog{
		WorkflowID:     wf.ID,
		OrganizationID: orgID,
		TriggerContext: `{"kind":"job_status_changed"}`,
		Status:         status,
	}
	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("create execution: %v", err)
	}
	return entry
}

func TestExecutionHandler_ListPaginated(t *testing.T) {
	r, db := executionTestRouter(t)
	seedHandlerExecution(t, db, 1, models.ExecutionStatusPending)
	seedHandlerExecution(t, db, 1, models.ExecutionStatusCompleted)
	seedHandlerExecution(t, db, 2, models.ExecutionStatusPending)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/executions?status=pending", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", w.Code, w.Body.String())
	}

	var resp PaginatedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	assert.Equal(t, int64(1), resp.Total, "only this org's pending executions")
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.PageSize)
}

func TestExecutionHandler_ListRejectsBadStatus(t *testing.T) {
	r, _ := executionTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/executions?status=done-ish", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecutionHandler_GetScopedToOrg(t *testing.T) {
	r, db := executionTestRouter(t)
	mine := seedHandlerExecution(t, db, 1, models.ExecutionStatusPending)
	other := seedHandlerExecution(t, db, 2, models.ExecutionStatusPending)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/executions/"+itoa(mine.ID), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/executions/"+itoa(other.ID), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecutionHandler_Cancel(t *testing.T) {
	r, db := executionTestRouter(t)
	pending := seedHandlerExecution(t, db, 1, models.ExecutionStatusPending)
	running := seedHandlerExecution(t, db, 1, models.ExecutionStatusRunning)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/executions/"+itoa(pending.ID)+"/cancel", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var reloaded models.AutomationExecutionLog
	if err := db.First(&reloaded, pending.ID).Error; err != nil {
		t.Fatalf("reload execution: %v", err)
	}
	assert.Equal(t, models.ExecutionStatusCancelled, reloaded.Status)

	// running rows are not cancellable
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/executions/"+itoa(running.ID)+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExecutionHandler_StopAndClear(t *testing.T) {
	r, db := executionTestRouter(t)
	seedHandlerExecution(t, db, 1, models.ExecutionStatusPending)
	seedHandlerExecution(t, db, 1, models.ExecutionStatusRunning)
	seedHandlerExecution(t, db, 1, models.ExecutionStatusCompleted)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/executions/stop-and-clear", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
