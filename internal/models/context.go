package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// 触发类型常量
const (
	TriggerJobStatusChanged = "job_status_changed"
	TriggerEstimateSent     = "estimate_sent"
	TriggerInvoiceSent      = "invoice_sent"
	TriggerInvoiceOverdue   = "invoice_overdue"
	TriggerMissedCall       = "missed_call"
)

// TriggerTypes 服务端支持的触发类型集合
var TriggerTypes = []string{
	TriggerJobStatusChanged,
	TriggerEstimateSent,
	TriggerInvoiceSent,
	TriggerInvoiceOverdue,
	TriggerMissedCall,
}

// IsSupportedTrigger reports whether t is a known trigger type.
func IsSupportedTrigger(t string) bool {
	for _, v := range TriggerTypes {
		if v == t {
			return true
		}
	}
	return false
}

// JobSnapshot 触发时刻的工单快照（纯数据，按值捕获）
type JobSnapshot struct {
	ID             uint       `json:"id"`
	Title          string     `json:"title"`
	Status         string     `json:"status"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Total          float64    `json:"total"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
}

// ClientSnapshot 客户快照
type ClientSnapshot struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// CompanySnapshot 组织快照
type CompanySnapshot struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

// DocumentSnapshot 报价单/发票快照
type DocumentSnapshot struct {
	ID          uint       `json:"id"`
	Number      string     `json:"number"`
	Amount      float64    `json:"amount"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	PortalToken string     `json:"portal_token,omitempty"`
}

// SnapshotJob 按值捕获工单当前态，previousStatus 为状态变更前的旧值
func SnapshotJob(j *Job, previousStatus string) *JobSnapshot {
	return &JobSnapshot{
		ID:             j.ID,
		Title:          j.Title,
		Status:         j.Status,
		PreviousStatus: previousStatus,
		Total:          j.Total,
		ScheduledFor:   j.ScheduledFor,
	}
}

// SnapshotClient 按值捕获客户信息
func SnapshotClient(c *Client) *ClientSnapshot {
	return &ClientSnapshot{ID: c.ID, Name: c.Name, Email: c.Email, Phone: c.Phone}
}

// SnapshotCompany 按值捕获组织信息
func SnapshotCompany(o *Organization) *CompanySnapshot {
	return &CompanySnapshot{
		ID:       o.ID,
		Name:     o.Name,
		Email:    o.Email,
		Phone:    o.Phone,
		Timezone: o.Timezone,
		Locale:   o.Locale,
	}
}

// SnapshotEstimate 按值捕获报价单
func SnapshotEstimate(e *Estimate) *DocumentSnapshot {
	return &DocumentSnapshot{
		ID:          e.ID,
		Number:      e.Number,
		Amount:      e.Amount,
		PortalToken: e.PortalToken,
	}
}

// SnapshotInvoice 按值捕获发票
func SnapshotInvoice(i *Invoice) *DocumentSnapshot {
	return &DocumentSnapshot{
		ID:          i.ID,
		Number:      i.Number,
		Amount:      i.Amount,
		DueDate:     i.DueDate,
		PortalToken: i.PortalToken,
	}
}

// TriggerContext 按触发类型打标签的上下文快照。
// 创建时校验，执行端按 Kind 穷举分派，不再依赖字段碰运气。
type TriggerContext struct {
	Kind     string            `json:"kind"`
	Job      *JobSnapshot      `json:"job,omitempty"`
	Client   *ClientSnapshot   `json:"client,omitempty"`
	Company  *CompanySnapshot  `json:"company,omitempty"`
	Estimate *DocumentSnapshot `json:"estimate,omitempty"`
	Invoice  *DocumentSnapshot `json:"invoice,omitempty"`
	Caller   string            `json:"caller,omitempty"` // missed_call 的来电号码
}

// Validate 按 Kind 校验必填快照
func (c *TriggerContext) Validate() error {
	switch c.Kind {
	case TriggerJobStatusChanged:
		if c.Job == nil {
			return fmt.Errorf("trigger context %s: job snapshot required", c.Kind)
		}
	case TriggerEstimateSent:
		if c.Estimate == nil {
			return fmt.Errorf("trigger context %s: estimate snapshot required", c.Kind)
		}
	case TriggerInvoiceSent, TriggerInvoiceOverdue:
		if c.Invoice == nil {
			return fmt.Errorf("trigger context %s: invoice snapshot required", c.Kind)
		}
	case TriggerMissedCall:
		if c.Caller == "" {
			return fmt.Errorf("trigger context %s: caller number required", c.Kind)
		}
	default:
		return fmt.Errorf("unsupported trigger kind: %s", c.Kind)
	}
	if c.Client == nil {
		return fmt.Errorf("trigger context %s: client snapshot required", c.Kind)
	}
	return nil
}

// ConditionFields 展平为条件求值用的 field -> value 映射（点号命名）
func (c *TriggerContext) ConditionFields() map[string]interface{} {
	attrs := map[string]interface{}{}
	if c.Job != nil {
		attrs["job.title"] = c.Job.Title
		attrs["job.status"] = c.Job.Status
		attrs["job.previous_status"] = c.Job.PreviousStatus
		attrs["job.total"] = c.Job.Total
	}
	if c.Client != nil {
		attrs["client.name"] = c.Client.Name
		attrs["client.email"] = c.Client.Email
		attrs["client.phone"] = c.Client.Phone
	}
	if c.Estimate != nil {
		attrs["estimate.number"] = c.Estimate.Number
		attrs["estimate.amount"] = c.Estimate.Amount
	}
	if c.Invoice != nil {
		attrs["invoice.number"] = c.Invoice.Number
		attrs["invoice.amount"] = c.Invoice.Amount
	}
	if c.Caller != "" {
		attrs["call.from"] = c.Caller
	}
	return attrs
}

// TemplateVars 消息模板变量（下划线命名，与前端工作流编辑器一致）
func (c *TriggerContext) TemplateVars() map[string]interface{} {
	vars := map[string]interface{}{}
	if c.Company != nil {
		vars["company_name"] = c.Company.Name
		vars["company_phone"] = c.Company.Phone
	}
	if c.Client != nil {
		vars["client_name"] = c.Client.Name
		vars["client_phone"] = c.Client.Phone
		vars["client_email"] = c.Client.Email
	}
	if c.Job != nil {
		vars["job_title"] = c.Job.Title
		vars["job_status"] = c.Job.Status
		vars["job_total"] = c.Job.Total
	}
	if c.Estimate != nil {
		vars["estimate_number"] = c.Estimate.Number
		vars["estimate_amount"] = c.Estimate.Amount
	}
	if c.Invoice != nil {
		vars["invoice_number"] = c.Invoice.Number
		vars["invoice_amount"] = c.Invoice.Amount
		if c.Invoice.DueDate != nil {
			vars["invoice_due_date"] = *c.Invoice.DueDate
		}
	}
	if c.Caller != "" {
		vars["caller_number"] = c.Caller
	}
	return vars
}

// Encode 序列化为执行记录存储的 JSON
func (c *TriggerContext) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal trigger context: %w", err)
	}
	return string(b), nil
}

// DecodeTriggerContext 从执行记录还原上下文
func DecodeTriggerContext(raw string) (*TriggerContext, error) {
	var c TriggerContext
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("unmarshal trigger context: %w", err)
	}
	return &c, nil
}
