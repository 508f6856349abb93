package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Telnyx     TelnyxConfig     `yaml:"telnyx"`
	Mailgun    MailgunConfig    `yaml:"mailgun"`
	Automation AutomationConfig `yaml:"automation"`
	Portal     PortalConfig     `yaml:"portal"`
	JWT        JWTConfig        `yaml:"jwt"`
	Log        LogConfig        `yaml:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Security   SecurityConfig   `yaml:"security"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// TelnyxConfig SMS 网关配置
type TelnyxConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	ProfileID  string        `yaml:"profile_id"` // messaging profile
	WebhookURL string        `yaml:"webhook_url"`
}

// MailgunConfig 邮件网关配置
type MailgunConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Domain  string        `yaml:"domain"`
	Timeout time.Duration `yaml:"timeout"`
}

// AutomationConfig 自动化处理器配置
type AutomationConfig struct {
	Enabled         bool          `yaml:"enabled"`
	PollInterval    time.Duration `yaml:"poll_interval"`    // tick 间隔，默认 5s
	BatchSize       int           `yaml:"batch_size"`       // 每次 tick 领取的 pending 上限，默认 5
	ExecutorTimeout time.Duration `yaml:"executor_timeout"` // 单次执行超时，默认 30s
	ExecutorURL     string        `yaml:"executor_url"`     // 为空则使用内置本地执行器
	ExecutorSecret  string        `yaml:"executor_secret"`
	SweepSchedule   string        `yaml:"sweep_schedule"` // cron 表达式，默认 @every 10m
	StaleAfter      time.Duration `yaml:"stale_after"`    // pending 过期阈值，默认 24h
	RunningLease    time.Duration `yaml:"running_lease"`  // running 租约，超时判失败，默认 10m
}

// PortalConfig 客户门户配置
type PortalConfig struct {
	BaseURL string `yaml:"base_url"` // 对外门户链接前缀，如 https://portal.example.com
}

type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxAge     int    `yaml:"max_age"`     // days
	MaxBackups int    `yaml:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress"`    // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MetricsPath string        `yaml:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC 端点
	Insecure    bool    `yaml:"insecure"`     // 是否使用明文（本地/开发）
	SampleRatio float64 `yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `yaml:"service_name"` // 缺省 "fieldflow"
}

type SecurityConfig struct {
	CORS         CORSConfig         `yaml:"cors"`
	RBAC         RBACConfig         `yaml:"rbac"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RBACConfig 角色到权限的映射；未启用时按内置默认角色展开
type RBACConfig struct {
	Enabled bool                `yaml:"enabled"`
	Roles   map[string][]string `yaml:"roles"`
}

type RateLimitingConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

func Load() *Config {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	applyDefaults(&config)
	return &config
}

func applyDefaults(c *Config) {
	if c.Automation.PollInterval <= 0 {
		c.Automation.PollInterval = 5 * time.Second
	}
	if c.Automation.BatchSize <= 0 {
		c.Automation.BatchSize = 5
	}
	if c.Automation.ExecutorTimeout <= 0 {
		c.Automation.ExecutorTimeout = 30 * time.Second
	}
	if c.Automation.SweepSchedule == "" {
		c.Automation.SweepSchedule = "@every 10m"
	}
	if c.Automation.StaleAfter <= 0 {
		c.Automation.StaleAfter = 24 * time.Hour
	}
	if c.Automation.RunningLease <= 0 {
		c.Automation.RunningLease = 10 * time.Minute
	}
	if c.Telnyx.Timeout <= 0 {
		c.Telnyx.Timeout = 15 * time.Second
	}
	if c.Mailgun.Timeout <= 0 {
		c.Mailgun.Timeout = 15 * time.Second
	}
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "fieldflow",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 5,
		},
		Telnyx: TelnyxConfig{
			BaseURL: "https://api.telnyx.com",
			Timeout: 15 * time.Second,
		},
		Mailgun: MailgunConfig{
			BaseURL: "https://api.mailgun.net",
			Timeout: 15 * time.Second,
		},
		Automation: AutomationConfig{
			Enabled:         true,
			PollInterval:    5 * time.Second,
			BatchSize:       5,
			ExecutorTimeout: 30 * time.Second,
			SweepSchedule:   "@every 10m",
			StaleAfter:      24 * time.Hour,
			RunningLease:    10 * time.Minute,
		},
		JWT: JWTConfig{
			Secret:    "default-secret-key",
			ExpiresIn: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			FilePath:   "./logs/fieldflow.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
		},
	}
}
