package models

import (
	"time"

	"gorm.io/gorm"
)

// 组织（租户）模型
type Organization struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	Timezone  string         `gorm:"default:'UTC'" json:"timezone"` // IANA 时区，用于日期渲染与发送窗口
	Locale    string         `gorm:"default:'en-US'" json:"locale"`
	FromEmail string         `json:"from_email"` // 默认发件人地址
	FromPhone string         `json:"from_phone"` // 默认发送号码（E.164）
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Clients []Client `gorm:"foreignKey:OrganizationID" json:"clients,omitempty"`
	Jobs    []Job    `gorm:"foreignKey:OrganizationID" json:"jobs,omitempty"`
}

// 客户模型
type Client struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrganizationID uint           `gorm:"index" json:"organization_id"`
	Name           string         `gorm:"not null" json:"name"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"` // E.164
	Address        string         `json:"address"`
	Notes          string         `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Organization Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	Jobs         []Job        `gorm:"foreignKey:ClientID" json:"jobs,omitempty"`
}

// 工作订单模型
type Job struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrganizationID uint           `gorm:"index" json:"organization_id"`
	ClientID       uint           `gorm:"index" json:"client_id"`
	Title          string         `gorm:"not null" json:"title"`
	Description    string         `gorm:"type:text" json:"description"`
	Status         string         `gorm:"default:'Scheduled';index" json:"status"` // Scheduled, In Progress, Completed, Cancelled
	ScheduledFor   *time.Time     `json:"scheduled_for"`
	CompletedAt    *time.Time     `json:"completed_at"`
	Total          float64        `json:"total"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Organization Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	Client       Client       `gorm:"foreignKey:ClientID" json:"client,omitempty"`
}

// JobStatuses 服务端允许的工单状态集合
var JobStatuses = []string{"Scheduled", "In Progress", "Completed", "Cancelled"}

// IsValidJobStatus reports whether s is one of the allowed job statuses.
func IsValidJobStatus(s string) bool {
	for _, v := range JobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// 报价单模型
type Estimate struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrganizationID uint           `gorm:"index" json:"organization_id"`
	ClientID       uint           `gorm:"index" json:"client_id"`
	JobID          *uint          `gorm:"index" json:"job_id"`
	Number         string         `gorm:"uniqueIndex;not null" json:"number"` // EST-xxx
	Status         string         `gorm:"default:'draft'" json:"status"`      // draft, sent, approved, declined
	Amount         float64        `json:"amount"`
	PortalToken    string         `gorm:"uniqueIndex" json:"-"` // 客户自助门户令牌，对外不可枚举
	SentAt         *time.Time     `json:"sent_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Organization Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	Client       Client       `gorm:"foreignKey:ClientID" json:"client,omitempty"`
}

// 发票模型
type Invoice struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrganizationID uint           `gorm:"index" json:"organization_id"`
	ClientID       uint           `gorm:"index" json:"client_id"`
	JobID          *uint          `gorm:"index" json:"job_id"`
	Number         string         `gorm:"uniqueIndex;not null" json:"number"`  // INV-xxx
	Status         string         `gorm:"default:'draft';index" json:"status"` // draft, sent, paid, overdue
	Amount         float64        `json:"amount"`
	DueDate        *time.Time     `json:"due_date"`
	PortalToken    string         `gorm:"uniqueIndex" json:"-"`
	SentAt         *time.Time     `json:"sent_at"`
	PaidAt         *time.Time     `json:"paid_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Organization Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	Client       Client       `gorm:"foreignKey:ClientID" json:"client,omitempty"`
}

// 通信日志：每一次外发尝试（无论成败）恰好一条，append-only。
// 仅允许网关回执按 provider_id 回写 status/delivered_at。
type CommunicationLog struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	OrganizationID uint       `gorm:"index" json:"organization_id"`
	ExecutionLogID *uint      `gorm:"index" json:"execution_log_id"` // 自动化触发的发送才有
	Type           string     `gorm:"not null;index" json:"type"`    // email, sms
	Direction      string     `gorm:"default:'outbound'" json:"direction"`
	Recipient      string     `gorm:"not null" json:"recipient"`
	Subject        string     `json:"subject"`
	Content        string     `gorm:"type:text" json:"content"`
	Status         string     `gorm:"default:'pending';index" json:"status"` // pending, sent, failed, delivered
	DocumentType   string     `json:"document_type"`                         // estimate, invoice（可选）
	DocumentID     *uint      `json:"document_id"`
	ProviderID     string     `gorm:"index" json:"provider_id"` // 网关返回的消息 ID
	ErrorMessage   string     `gorm:"type:text" json:"error_message"`
	DeliveredAt    *time.Time `json:"delivered_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// 通信状态常量
const (
	CommStatusPending   = "pending"
	CommStatusSent      = "sent"
	CommStatusFailed    = "failed"
	CommStatusDelivered = "delivered"
)

// 通信渠道常量
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)
