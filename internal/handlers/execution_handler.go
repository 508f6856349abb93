package handlers

import (
	"net/http"

	"fieldflow/internal/middleware"
	"fieldflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ExecutionHandler 执行记录管理处理器
type ExecutionHandler struct {
	automationService *services.AutomationService
	processor         *services.Processor
	logger            *logrus.Logger
}

// NewExecutionHandler 创建执行记录处理器
func NewExecutionHandler(automationService *services.AutomationService, processor *services.Processor, logger *logrus.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		automationService: automationService,
		processor:         processor,
		logger:            logger,
	}
}

// ListExecutions 分页查询执行记录
// @Summary 查询执行记录
// @Tags 自动化
// @Produce json
// @Param status query string false "状态过滤"
// @Param workflow_id query int false "工作流过滤"
// @Success 200 {object} PaginatedResponse
// @Router /api/executions [get]
func (h *ExecutionHandler) ListExecutions(c *gin.Context) {
	var req services.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
		})
		return
	}

	logs, total, err := h.automationService.ListExecutions(c.Request.Context(), middleware.OrgID(c), &req)
	if err != nil {
		h.logger.Errorf("Failed to list executions: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to list executions",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     logs,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Pages:    pageCount(total, req.PageSize),
	})
}

// GetExecution 获取执行记录详情
// @Summary 获取执行记录详情
// @Tags 自动化
// @Produce json
// @Param id path int true "执行记录ID"
// @Success 200 {object} models.AutomationExecutionLog
// @Failure 404 {object} ErrorResponse
// @Router /api/executions/{id} [get]
func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid execution ID",
			Message: "ID must be a valid number",
		})
		return
	}

	execLog, err := h.automationService.GetExecution(c.Request.Context(), middleware.OrgID(c), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Execution not found",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, execLog)
}

// CancelExecution 取消尚未开始的执行记录
// @Summary 取消执行记录
// @Tags 自动化
// @Param id path int true "执行记录ID"
// @Success 200 {object} SuccessResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/executions/{id}/cancel [post]
func (h *ExecutionHandler) CancelExecution(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid execution ID",
			Message: "ID must be a valid number",
		})
		return
	}

	if err := h.processor.CancelExecution(c.Request.Context(), middleware.OrgID(c), id); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "Failed to cancel execution",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "execution cancelled"})
}

// StopAndClear 清空所有未完成的执行记录（运维开关）
// @Summary 停止并清空执行队列
// @Tags 自动化
// @Success 200 {object} SuccessResponse
// @Router /api/executions/stop-and-clear [post]
func (h *ExecutionHandler) StopAndClear(c *gin.Context) {
	count, err := h.processor.StopAndClear(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to stop and clear executions: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to stop and clear",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Message: "incomplete executions cleared",
		Data:    gin.H{"count": count},
	})
}

// RegisterExecutionRoutes 注册执行记录路由
func RegisterExecutionRoutes(r *gin.RouterGroup, handler *ExecutionHandler) {
	executions := r.Group("/executions")
	{
		executions.GET("", handler.ListExecutions)
		executions.GET("/:id", handler.GetExecution)
		executions.POST("/:id/cancel", handler.CancelExecution)
		executions.POST("/stop-and-clear", handler.StopAndClear)
	}
}
