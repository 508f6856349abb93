package models

import "time"

// 自动化工作流定义
type AutomationWorkflow struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"index" json:"organization_id"`
	Name           string    `gorm:"not null" json:"name"`
	TriggerType    string    `gorm:"not null;index" json:"trigger_type"` // job_status_changed, estimate_sent, invoice_sent, invoice_overdue, missed_call
	Conditions     string    `gorm:"type:text" json:"conditions"`        // JSON: [{field,op,value}]，AND 语义，空列表恒匹配
	ActionType     string    `gorm:"not null" json:"action_type"`        // send_sms, send_email, wait
	ActionConfig   string    `gorm:"type:text" json:"action_config"`     // JSON: 模板/发件身份/multi_channel_config
	DeliveryWindow string    `gorm:"type:text" json:"delivery_window"`   // JSON: {days,start,end,timezone}，空为不限
	Enabled        bool      `gorm:"default:true;index" json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// 执行记录状态
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusExpired   ExecutionStatus = "expired"
)

// IsValid checks if the execution status is valid.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled, ExecutionStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is terminal. Terminal rows must
// never transition back to pending or running.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled, ExecutionStatusExpired:
		return true
	default:
		return false
	}
}

// 自动化执行记录：一次工作流触发的持久化工作单元。
// 状态单向流转 pending→running→{completed,failed}；cancelled/expired 仅
// 从 pending 进入（expired 另见 Processor 对超租约 running 行的处理）。
type AutomationExecutionLog struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	WorkflowID     uint            `gorm:"index" json:"workflow_id"`
	OrganizationID uint            `gorm:"index" json:"organization_id"`
	TriggerContext string          `gorm:"type:text" json:"trigger_context"` // JSON 快照（按值捕获，重放与源对象无关）
	Status         ExecutionStatus `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	ErrorMessage   string          `gorm:"type:text" json:"error_message"`
	ActionResults  string          `gorm:"type:text" json:"action_results"` // JSON: [{action,status,detail}]
	StartedAt      *time.Time      `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	Workflow AutomationWorkflow `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
}
