package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fieldflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// AutomationService 工作流 CRUD 与触发入队（Trigger Emitter）。
// OnEvent 只写 pending 执行记录，绝不直接触达网关。
type AutomationService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tracer trace.Tracer
	bus    *EventBus // optional, 唤醒 Processor
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("fieldflow.automation"),
	}
}

// WithEventBus 挂接事件总线
func (s *AutomationService) WithEventBus(bus *EventBus) *AutomationService {
	s.bus = bus
	return s
}

// TriggerCondition 单个触发条件
type TriggerCondition struct {
	Field string      `json:"field"`
	Op    string      `json:"op"` // eq, neq, contains, gt, lt
	Value interface{} `json:"value"`
}

// ActionConfig 动作配置（存储为 JSON）
type ActionConfig struct {
	Message      string              `json:"message,omitempty"` // 短信正文模板
	Subject      string              `json:"subject,omitempty"` // 邮件主题模板
	HTMLBody     string              `json:"html_body,omitempty"`
	TextBody     string              `json:"text_body,omitempty"`
	FromNumber   string              `json:"from_number,omitempty"`
	FromEmail    string              `json:"from_email,omitempty"`
	WaitDuration string              `json:"wait_duration,omitempty"` // wait 动作
	MultiChannel *MultiChannelConfig `json:"multi_channel,omitempty"`
}

// MultiChannelConfig 主渠道失败后的备用渠道
type MultiChannelConfig struct {
	Enabled         bool   `json:"enabled"`
	FallbackChannel string `json:"fallback_channel"` // email, sms
	FallbackMessage string `json:"fallback_message,omitempty"`
	FallbackSubject string `json:"fallback_subject,omitempty"`
}

// DeliveryWindow 允许发送的时段
type DeliveryWindow struct {
	Days     []string `json:"days"`  // mon..sun，空为全部
	Start    string   `json:"start"` // "08:00"
	End      string   `json:"end"`   // "20:00"
	Timezone string   `json:"timezone"`
}

// WorkflowRequest 创建/更新工作流的请求
type WorkflowRequest struct {
	Name           string             `json:"name" binding:"required"`
	TriggerType    string             `json:"trigger_type" binding:"required"`
	Conditions     []TriggerCondition `json:"conditions"`
	ActionType     string             `json:"action_type" binding:"required"`
	ActionConfig   *ActionConfig      `json:"action_config"`
	DeliveryWindow *DeliveryWindow    `json:"delivery_window"`
	Enabled        *bool              `json:"enabled"`
}

// 支持的动作类型
func isSupportedAction(action string) bool {
	switch action {
	case "send_sms", "send_email", "wait":
		return true
	default:
		return false
	}
}

// OnEvent 触发入队：匹配同组织、同触发类型且启用的工作流，条件全部
// 通过则各落一条 pending 执行记录。入队失败只记日志，绝不向上抛 ——
// 业务操作（完成工单、发送发票）不能因为自动化排不上队而失败。
func (s *AutomationService) OnEvent(ctx context.Context, orgID uint, triggerType string, tc *models.TriggerContext) {
	if s.db == nil {
		return
	}
	ctx, span := s.tracer.Start(ctx, "automation.on_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("automation.trigger_type", triggerType),
		attribute.Int("automation.org_id", int(orgID)),
	)

	// 上下文按值快照，入库前先校验
	if tc == nil {
		s.logger.Warnf("automation: %s event without context, skipping", triggerType)
		return
	}
	tc.Kind = triggerType
	if err := tc.Validate(); err != nil {
		s.logger.Warnf("automation: invalid trigger context: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var workflows []models.AutomationWorkflow
	if err := s.db.WithContext(ctx).
		Where("organization_id = ? AND trigger_type = ? AND enabled = ?", orgID, triggerType, true).
		Find(&workflows).Error; err != nil {
		s.logger.Warnf("automation: load workflows failed: %v", err)
		return
	}
	if len(workflows) == 0 {
		return
	}

	payload, err := tc.Encode()
	if err != nil {
		s.logger.Warnf("automation: encode context failed: %v", err)
		return
	}
	attrs := tc.ConditionFields()

	scheduled := 0
	for _, wf := range workflows {
		match, err := s.conditionsMatch(wf, attrs)
		if err != nil {
			s.logger.Warnf("automation: workflow %d invalid conditions: %v", wf.ID, err)
			continue
		}
		if !match {
			continue
		}
		entry := &models.AutomationExecutionLog{
			WorkflowID:     wf.ID,
			OrganizationID: orgID,
			TriggerContext: payload,
			Status:         models.ExecutionStatusPending,
		}
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			s.logger.Errorf("automation: schedule workflow %d failed: %v", wf.ID, err)
			continue
		}
		scheduled++
		if s.bus != nil {
			s.bus.Publish(Event{Type: EventExecutionCreated, Payload: entry})
		}
	}
	if scheduled > 0 {
		s.logger.Infof("automation: event %s scheduled %d execution(s)", triggerType, scheduled)
	}
	span.SetAttributes(attribute.Int("automation.scheduled", scheduled))
}

// conditionsMatch 条件为 AND 语义；空条件列表恒匹配
func (s *AutomationService) conditionsMatch(wf models.AutomationWorkflow, attrs map[string]interface{}) (bool, error) {
	conds := []TriggerCondition{}
	if wf.Conditions != "" {
		if err := json.Unmarshal([]byte(wf.Conditions), &conds); err != nil {
			return false, err
		}
	}
	for _, cond := range conds {
		if !evaluateCondition(cond, attrs) {
			return false, nil
		}
	}
	return true, nil
}

func evaluateCondition(cond TriggerCondition, attrs map[string]interface{}) bool {
	val, ok := attrs[cond.Field]
	if !ok {
		return false
	}
	actual := fmt.Sprintf("%v", val)
	expected := fmt.Sprintf("%v", cond.Value)

	switch cond.Op {
	case "eq":
		return actual == expected
	case "neq":
		return actual != expected
	case "contains":
		return strings.Contains(actual, expected)
	case "gt", "lt":
		a, err1 := strconv.ParseFloat(actual, 64)
		e, err2 := strconv.ParseFloat(expected, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if cond.Op == "gt" {
			return a > e
		}
		return a < e
	default:
		return false
	}
}

// ListWorkflows 返回组织的全部工作流
func (s *AutomationService) ListWorkflows(ctx context.Context, orgID uint) ([]models.AutomationWorkflow, error) {
	var workflows []models.AutomationWorkflow
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id DESC").Find(&workflows).Error; err != nil {
		return nil, err
	}
	return workflows, nil
}

// GetWorkflow 按 ID 查询
func (s *AutomationService) GetWorkflow(ctx context.Context, orgID, id uint) (*models.AutomationWorkflow, error) {
	var wf models.AutomationWorkflow
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).First(&wf, id).Error; err != nil {
		return nil, err
	}
	return &wf, nil
}

// CreateWorkflow 新建工作流
func (s *AutomationService) CreateWorkflow(ctx context.Context, orgID uint, req *WorkflowRequest) (*models.AutomationWorkflow, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !models.IsSupportedTrigger(req.TriggerType) {
		return nil, fmt.Errorf("unsupported trigger type: %s", req.TriggerType)
	}
	if !isSupportedAction(req.ActionType) {
		return nil, fmt.Errorf("unsupported action type: %s", req.ActionType)
	}

	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	actJSON, err := json.Marshal(req.ActionConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid action config: %w", err)
	}
	windowJSON := ""
	if req.DeliveryWindow != nil {
		b, err := json.Marshal(req.DeliveryWindow)
		if err != nil {
			return nil, fmt.Errorf("invalid delivery window: %w", err)
		}
		windowJSON = string(b)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	wf := &models.AutomationWorkflow{
		OrganizationID: orgID,
		Name:           req.Name,
		TriggerType:    req.TriggerType,
		Conditions:     string(condJSON),
		ActionType:     req.ActionType,
		ActionConfig:   string(actJSON),
		DeliveryWindow: windowJSON,
		Enabled:        enabled,
	}
	if err := s.db.WithContext(ctx).Create(wf).Error; err != nil {
		return nil, err
	}
	return wf, nil
}

// UpdateWorkflow 整体替换工作流定义（Processor 从不改工作流，只改执行记录）
func (s *AutomationService) UpdateWorkflow(ctx context.Context, orgID, id uint, req *WorkflowRequest) (*models.AutomationWorkflow, error) {
	wf, err := s.GetWorkflow(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !models.IsSupportedTrigger(req.TriggerType) {
		return nil, fmt.Errorf("unsupported trigger type: %s", req.TriggerType)
	}
	if !isSupportedAction(req.ActionType) {
		return nil, fmt.Errorf("unsupported action type: %s", req.ActionType)
	}
	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	actJSON, err := json.Marshal(req.ActionConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid action config: %w", err)
	}
	wf.Name = req.Name
	wf.TriggerType = req.TriggerType
	wf.Conditions = string(condJSON)
	wf.ActionType = req.ActionType
	wf.ActionConfig = string(actJSON)
	if req.DeliveryWindow != nil {
		b, err := json.Marshal(req.DeliveryWindow)
		if err != nil {
			return nil, fmt.Errorf("invalid delivery window: %w", err)
		}
		wf.DeliveryWindow = string(b)
	}
	if req.Enabled != nil {
		wf.Enabled = *req.Enabled
	}
	if err := s.db.WithContext(ctx).Save(wf).Error; err != nil {
		return nil, err
	}
	return wf, nil
}

// SetWorkflowEnabled 启用/停用
func (s *AutomationService) SetWorkflowEnabled(ctx context.Context, orgID, id uint, enabled bool) error {
	result := s.db.WithContext(ctx).Model(&models.AutomationWorkflow{}).
		Where("id = ? AND organization_id = ?", id, orgID).
		Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("workflow not found")
	}
	return nil
}

// DeleteWorkflow 删除工作流（历史执行记录保留）
func (s *AutomationService) DeleteWorkflow(ctx context.Context, orgID, id uint) error {
	result := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Delete(&models.AutomationWorkflow{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("workflow not found")
	}
	return nil
}

// ExecutionListRequest 执行记录查询参数
type ExecutionListRequest struct {
	Page       int    `form:"page,default=1"`
	PageSize   int    `form:"page_size,default=20"`
	Status     string `form:"status"`
	WorkflowID uint   `form:"workflow_id"`
}

// ListExecutions 分页查询执行记录
func (s *AutomationService) ListExecutions(ctx context.Context, orgID uint, req *ExecutionListRequest) ([]models.AutomationExecutionLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AutomationExecutionLog{}).
		Where("organization_id = ?", orgID)
	if req.Status != "" {
		if !models.ExecutionStatus(req.Status).IsValid() {
			return nil, 0, fmt.Errorf("invalid execution status: %s", req.Status)
		}
		q = q.Where("status = ?", req.Status)
	}
	if req.WorkflowID != 0 {
		q = q.Where("workflow_id = ?", req.WorkflowID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var logs []models.AutomationExecutionLog
	err := q.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&logs).Error
	return logs, total, err
}

// GetExecution 按 ID 查询执行记录
func (s *AutomationService) GetExecution(ctx context.Context, orgID, id uint) (*models.AutomationExecutionLog, error) {
	var log models.AutomationExecutionLog
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).First(&log, id).Error; err != nil {
		return nil, err
	}
	return &log, nil
}
