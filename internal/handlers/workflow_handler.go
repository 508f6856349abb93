package handlers

import (
	"net/http"
	"strconv"

	"fieldflow/internal/middleware"
	"fieldflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WorkflowHandler 自动化工作流处理器
type WorkflowHandler struct {
	automationService *services.AutomationService
	logger            *logrus.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(automationService *services.AutomationService, logger *logrus.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		automationService: automationService,
		logger:            logger,
	}
}

// ListWorkflows 列出当前组织的全部工作流
// @Summary 列出工作流
// @Tags 自动化
// @Produce json
// @Success 200 {array} models.AutomationWorkflow
// @Router /api/workflows [get]
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	workflows, err := h.automationService.ListWorkflows(c.Request.Context(), middleware.OrgID(c))
	if err != nil {
		h.logger.Errorf("Failed to list workflows: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list workflows",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, workflows)
}

// GetWorkflow 获取工作流详情
// @Summary 获取工作流详情
// @Tags 自动化
// @Produce json
// @Param id path int true "工作流ID"
// @Success 200 {object} models.AutomationWorkflow
// @Failure 404 {object} ErrorResponse
// @Router /api/workflows/{id} [get]
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid workflow ID",
			Message: "ID must be a valid number",
		})
		return
	}

	workflow, err := h.automationService.GetWorkflow(c.Request.Context(), middleware.OrgID(c), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Workflow not found",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, workflow)
}

// CreateWorkflow 创建工作流
// @Summary 创建工作流
// @Tags 自动化
// @Accept json
// @Produce json
// @Param workflow body services.WorkflowRequest true "工作流定义"
// @Success 201 {object} models.AutomationWorkflow
// @Failure 400 {object} ErrorResponse
// @Router /api/workflows [post]
func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	var req services.WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	workflow, err := h.automationService.CreateWorkflow(c.Request.Context(), middleware.OrgID(c), &req)
	if err != nil {
		h.logger.Errorf("Failed to create workflow: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to create workflow",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, workflow)
}

// UpdateWorkflow 更新工作流
// @Summary 更新工作流
// @Tags 自动化
// @Accept json
// @Produce json
// @Param id path int true "工作流ID"
// @Param workflow body services.WorkflowRequest true "工作流定义"
// @Success 200 {object} models.AutomationWorkflow
// @Failure 400 {object} ErrorResponse
// @Router /api/workflows/{id} [put]
func (h *WorkflowHandler) UpdateWorkflow(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid workflow ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req services.WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	workflow, err := h.automationService.UpdateWorkflow(c.Request.Context(), middleware.OrgID(c), id, &req)
	if err != nil {
		h.logger.Errorf("Failed to update workflow %d: %v", id, err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to update workflow",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, workflow)
}

// SetWorkflowEnabled 启用/停用工作流
// @Summary 启停工作流
// @Tags 自动化
// @Accept json
// @Produce json
// @Param id path int true "工作流ID"
// @Success 200 {object} SuccessResponse
// @Router /api/workflows/{id}/enabled [patch]
func (h *WorkflowHandler) SetWorkflowEnabled(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid workflow ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	if err := h.automationService.SetWorkflowEnabled(c.Request.Context(), middleware.OrgID(c), id, *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Failed to update workflow",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "workflow updated"})
}

// DeleteWorkflow 删除工作流
// @Summary 删除工作流
// @Tags 自动化
// @Param id path int true "工作流ID"
// @Success 200 {object} SuccessResponse
// @Router /api/workflows/{id} [delete]
func (h *WorkflowHandler) DeleteWorkflow(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid workflow ID",
			Message: "ID must be a valid number",
		})
		return
	}

	if err := h.automationService.DeleteWorkflow(c.Request.Context(), middleware.OrgID(c), id); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Failed to delete workflow",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "workflow deleted"})
}

func parseIDParam(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// RegisterWorkflowRoutes 注册工作流路由
func RegisterWorkflowRoutes(r *gin.RouterGroup, handler *WorkflowHandler) {
	workflows := r.Group("/workflows")
	{
		workflows.GET("", handler.ListWorkflows)
		workflows.POST("", handler.CreateWorkflow)
		workflows.GET("/:id", handler.GetWorkflow)
		workflows.PUT("/:id", handler.UpdateWorkflow)
		workflows.PATCH("/:id/enabled", handler.SetWorkflowEnabled)
		workflows.DELETE("/:id", handler.DeleteWorkflow)
	}
}
