package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"fieldflow/internal/config"
	"fieldflow/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GatewayChecker 外发网关健康检查
type GatewayChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config *config.Config
	db     *gorm.DB
	redis  *redis.Client
	sms    GatewayChecker
	email  GatewayChecker
	logger *logrus.Logger
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, sms, email GatewayChecker) *HealthHandler {
	return &HealthHandler{
		config: cfg,
		db:     db,
		redis:  redisClient,
		sms:    sms,
		email:  email,
		logger: logrus.StandardLogger(),
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    time.Duration `json:"uptime"`
	Version   string        `json:"version"`
	GoVersion string        `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   "1.0.0",
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime),
			Version:   "1.0.0",
			GoVersion: runtime.Version(),
		},
	}

	allHealthy := true
	h.checkDatabase(ctx, &response, &allHealthy)
	if h.redis != nil {
		h.checkRedis(ctx, &response, &allHealthy)
	}
	// 网关不可用降级为 degraded，发送会在执行时落 failed 日志
	h.checkGateway(ctx, &response, "telnyx", h.sms)
	h.checkGateway(ctx, &response, "mailgun", h.email)

	if !allHealthy {
		response.Status = "degraded"
	}
	c.JSON(http.StatusOK, response)
}

// Ready 就绪检查端点：只看数据库
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := h.pingDatabase(ctx) == nil

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":     ready,
		"timestamp": time.Now(),
	})
}

// Metrics 进程内计数器
func (h *HealthHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, metrics.Snapshot())
}

func (h *HealthHandler) pingDatabase(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (h *HealthHandler) checkDatabase(ctx context.Context, response *HealthResponse, allHealthy *bool) {
	start := time.Now()
	serviceInfo := ServiceInfo{
		Latency: time.Since(start).String(),
		Details: map[string]interface{}{
			"driver": "postgresql",
			"host":   h.config.Database.Host,
			"port":   h.config.Database.Port,
		},
	}

	if err := h.pingDatabase(ctx); err != nil {
		serviceInfo.Status = "unhealthy"
		serviceInfo.Error = err.Error()
		*allHealthy = false
	} else {
		serviceInfo.Status = "healthy"
		serviceInfo.Latency = time.Since(start).String()
	}
	response.Services["database"] = serviceInfo
}

func (h *HealthHandler) checkRedis(ctx context.Context, response *HealthResponse, allHealthy *bool) {
	start := time.Now()
	serviceInfo := ServiceInfo{
		Details: map[string]interface{}{
			"host": h.config.Redis.Host,
			"port": h.config.Redis.Port,
		},
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		serviceInfo.Status = "unhealthy"
		serviceInfo.Error = err.Error()
		*allHealthy = false
	} else {
		serviceInfo.Status = "healthy"
	}
	serviceInfo.Latency = time.Since(start).String()
	response.Services["redis"] = serviceInfo
}

func (h *HealthHandler) checkGateway(ctx context.Context, response *HealthResponse, name string, gw GatewayChecker) {
	if gw == nil {
		response.Services[name] = ServiceInfo{Status: "disabled"}
		return
	}
	start := time.Now()
	if err := gw.HealthCheck(ctx); err != nil {
		h.logger.Warnf("%s gateway is unhealthy: %v", name, err)
		response.Services[name] = ServiceInfo{
			Status:  "unhealthy",
			Latency: time.Since(start).String(),
			Error:   err.Error(),
		}
		return
	}
	response.Services[name] = ServiceInfo{
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
}
