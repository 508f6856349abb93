package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"fieldflow/internal/config"
	"fieldflow/internal/models"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 加载配置
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
	cfg := config.Load()

	// 连接数据库
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.Organization{},
		&models.Client{},
		&models.Job{},
		&models.Estimate{},
		&models.Invoice{},
		&models.CommunicationLog{},
		&models.AutomationWorkflow{},
		&models.AutomationExecutionLog{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 创建索引
	log.Println("Creating additional indexes...")

	// 处理器按 (status, created_at) 领取 pending 记录
	db.Exec("CREATE INDEX IF NOT EXISTS idx_execution_logs_status_created ON automation_execution_logs(status, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_execution_logs_org_created ON automation_execution_logs(organization_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_execution_logs_workflow ON automation_execution_logs(workflow_id)")

	// 工作流按 (org, trigger, enabled) 匹配
	db.Exec("CREATE INDEX IF NOT EXISTS idx_workflows_org_trigger ON automation_workflows(organization_id, trigger_event, enabled)")

	// 通信日志按组织与回执外部 ID 查询
	db.Exec("CREATE INDEX IF NOT EXISTS idx_comm_logs_org_created ON communication_logs(organization_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_comm_logs_provider ON communication_logs(provider_id)")

	// 门户令牌点查
	db.Exec("CREATE INDEX IF NOT EXISTS idx_estimates_portal_token ON estimates(portal_token)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_invoices_portal_token ON invoices(portal_token)")

	// 逾期扫描
	db.Exec("CREATE INDEX IF NOT EXISTS idx_invoices_status_due ON invoices(status, due_date)")

	log.Println("Additional indexes created successfully!")

	// 插入默认数据
	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	// 创建示例组织
	var org models.Organization
	if err := db.Where("name = ?", "示例服务公司").First(&org).Error; err != nil {
		org = models.Organization{
			Name:     "示例服务公司",
			Email:    "office@example.com",
			Phone:    "+15550100000",
			Timezone: "America/New_York",
		}
		db.Create(&org)
		log.Println("Created sample organization")
	}

	// 创建测试客户
	var client models.Client
	if err := db.Where("organization_id = ? AND email = ?", org.ID, "customer@test.com").First(&client).Error; err != nil {
		client = models.Client{
			OrganizationID: org.ID,
			Name:           "测试客户",
			Email:          "customer@test.com",
			Phone:          "+15550100001",
		}
		db.Create(&client)
		log.Println("Created test client")
	}

	// 创建示例自动化工作流：预约确认短信
	var wf models.AutomationWorkflow
	if err := db.Where("organization_id = ? AND name = ?", org.ID, "预约确认").First(&wf).Error; err != nil {
		wf = models.AutomationWorkflow{
			OrganizationID: org.ID,
			Name:           "预约确认",
			TriggerType:    models.TriggerJobStatusChanged,
			Conditions:     `[{"field":"job.status","op":"eq","value":"Scheduled"}]`,
			ActionType:     "send_sms",
			ActionConfig:   `{"message":"您好 {{client_name}}，您的服务 {{job_title}} 已排期。"}`,
			Enabled:        true,
		}
		db.Create(&wf)
		log.Println("Created sample workflow")
	}

	// 创建示例报价单（带门户令牌）
	var est models.Estimate
	if err := db.Where("organization_id = ? AND number = ?", org.ID, "EST-0001").First(&est).Error; err != nil {
		est = models.Estimate{
			OrganizationID: org.ID,
			ClientID:       client.ID,
			Number:         "EST-0001",
			Status:         "draft",
			Amount:         1280.50,
			PortalToken:    uuid.NewString(),
			CreatedAt:      time.Now(),
		}
		db.Create(&est)
		log.Println("Created sample estimate")
	}
}
