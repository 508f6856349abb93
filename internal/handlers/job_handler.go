package handlers

import (
	"net/http"
	"strconv"

	"fieldflow/internal/middleware"
	"fieldflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JobHandler 工单处理器
type JobHandler struct {
	jobService *services.JobService
	logger     *logrus.Logger
}

// NewJobHandler 创建工单处理器
func NewJobHandler(jobService *services.JobService, logger *logrus.Logger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// CreateJob 创建工单
// @Summary 创建工单
// @Tags 工单
// @Accept json
// @Produce json
// @Param job body services.JobRequest true "工单信息"
// @Success 201 {object} models.Job
// @Failure 400 {object} ErrorResponse
// @Router /api/jobs [post]
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req services.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	job, err := h.jobService.CreateJob(c.Request.Context(), middleware.OrgID(c), &req)
	if err != nil {
		h.logger.Errorf("Failed to create job: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to create job",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, job)
}

// GetJob 获取工单详情
// @Summary 获取工单详情
// @Tags 工单
// @Produce json
// @Param id path int true "工单ID"
// @Success 200 {object} models.Job
// @Failure 404 {object} ErrorResponse
// @Router /api/jobs/{id} [get]
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid job ID",
			Message: "ID must be a valid number",
		})
		return
	}

	job, err := h.jobService.GetJob(c.Request.Context(), middleware.OrgID(c), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Job not found",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs 分页查询工单
// @Summary 查询工单列表
// @Tags 工单
// @Produce json
// @Param status query string false "状态过滤"
// @Success 200 {object} PaginatedResponse
// @Router /api/jobs [get]
func (h *JobHandler) ListJobs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	jobs, total, err := h.jobService.ListJobs(c.Request.Context(), middleware.OrgID(c), status, page, pageSize)
	if err != nil {
		h.logger.Errorf("Failed to list jobs: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list jobs",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     jobs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    pageCount(total, pageSize),
	})
}

// UpdateJobStatus 更新工单状态；状态变更会触发工作流
// @Summary 更新工单状态
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Success 200 {object} models.Job
// @Failure 400 {object} ErrorResponse
// @Router /api/jobs/{id}/status [patch]
func (h *JobHandler) UpdateJobStatus(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid job ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	job, err := h.jobService.UpdateJobStatus(c.Request.Context(), middleware.OrgID(c), id, body.Status)
	if err != nil {
		h.logger.Errorf("Failed to update job %d status: %v", id, err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to update job status",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, job)
}

// RegisterJobRoutes 注册工单路由
func RegisterJobRoutes(r *gin.RouterGroup, handler *JobHandler) {
	jobs := r.Group("/jobs")
	{
		jobs.POST("", handler.CreateJob)
		jobs.GET("", handler.ListJobs)
		jobs.GET("/:id", handler.GetJob)
		jobs.PATCH("/:id/status", handler.UpdateJobStatus)
	}
}
