package handlers

import (
	"net/http"

	"fieldflow/internal/middleware"
	"fieldflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CommunicationHandler 通信日志与即席发送处理器
type CommunicationHandler struct {
	deliveryService *services.DeliveryService
	logger          *logrus.Logger
}

// NewCommunicationHandler 创建通信处理器
func NewCommunicationHandler(deliveryService *services.DeliveryService, logger *logrus.Logger) *CommunicationHandler {
	return &CommunicationHandler{
		deliveryService: deliveryService,
		logger:          logger,
	}
}

// ListCommunications 分页查询通信日志
// @Summary 查询通信日志
// @Tags 通信
// @Produce json
// @Param type query string false "渠道过滤 email/sms"
// @Param status query string false "状态过滤"
// @Success 200 {object} PaginatedResponse
// @Router /api/communications [get]
func (h *CommunicationHandler) ListCommunications(c *gin.Context) {
	var req services.CommunicationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
		})
		return
	}

	logs, total, err := h.deliveryService.ListCommunications(c.Request.Context(), middleware.OrgID(c), &req)
	if err != nil {
		h.logger.Errorf("Failed to list communications: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list communications",
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

type sendSMSBody struct {
	To      string                 `json:"to" binding:"required"`
	Message string                 `json:"message" binding:"required"`
	From    string                 `json:"from"`
	Vars    map[string]interface{} `json:"vars"`
}

// SendSMS 即席发送短信（不经过工作流）
// @Summary 发送短信
// @Tags 通信
// @Accept json
// @Produce json
// @Param request body sendSMSBody true "短信内容"
// @Success 200 {object} services.SendResult
// @Failure 400 {object} ErrorResponse
// @Router /api/communications/sms [post]
func (h *CommunicationHandler) SendSMS(c *gin.Context) {
	var body sendSMSBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	result, err := h.deliveryService.SendSMS(c.Request.Context(), &services.SendSMSRequest{
		OrganizationID: middleware.OrgID(c),
		To:             body.To,
		Message:        body.Message,
		From:           body.From,
		Vars:           body.Vars,
	})
	if err != nil {
		h.logger.Errorf("Failed to send SMS: %v", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "Failed to send SMS",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

type sendEmailBody struct {
	To       string                 `json:"to" binding:"required"`
	Subject  string                 `json:"subject" binding:"required"`
	HTMLBody string                 `json:"html_body"`
	TextBody string                 `json:"text_body"`
	From     string                 `json:"from"`
	Vars     map[string]interface{} `json:"vars"`
}

// SendEmail 即席发送邮件（不经过工作流）
// @Summary 发送邮件
// @Tags 通信
// @Accept json
// @Produce json
// @Param request body sendEmailBody true "邮件内容"
// @Success 200 {object} services.SendResult
// @Failure 400 {object} ErrorResponse
// @Router /api/communications/email [post]
func (h *CommunicationHandler) SendEmail(c *gin.Context) {
	var body sendEmailBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	result, err := h.deliveryService.SendEmail(c.Request.Context(), &services.SendEmailRequest{
		OrganizationID: middleware.OrgID(c),
		To:             body.To,
		Subject:        body.Subject,
		HTMLBody:       body.HTMLBody,
		TextBody:       body.TextBody,
		From:           body.From,
		Vars:           body.Vars,
	})
	if err != nil {
		h.logger.Errorf("Failed to send email: %v", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "Failed to send email",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

type deliveryStatusBody struct {
	ProviderID   string `json:"provider_id" binding:"required"`
	Status       string `json:"status" binding:"required"` // delivered, failed
	ErrorMessage string `json:"error_message"`
}

// DeliveryStatusWebhook 网关回执：按 provider_id 回写投递状态。
// 公开路由，真实部署时由网关签名校验保护。
// @Summary 投递状态回执
// @Tags 通信
// @Accept json
// @Success 200 {object} SuccessResponse
// @Router /webhooks/delivery-status [post]
func (h *CommunicationHandler) DeliveryStatusWebhook(c *gin.Context) {
	var body deliveryStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	if err := h.deliveryService.UpdateDeliveryStatus(c.Request.Context(), body.ProviderID, body.Status, body.ErrorMessage); err != nil {
		h.logger.Warnf("Delivery status update failed for %s: %v", body.ProviderID, err)
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Unknown provider message",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "status updated"})
}

// RegisterCommunicationRoutes 注册通信路由
func RegisterCommunicationRoutes(r *gin.RouterGroup, handler *CommunicationHandler) {
	comms := r.Group("/communications")
	{
		comms.GET("", handler.ListCommunications)
		comms.POST("/sms", handler.SendSMS)
		comms.POST("/email", handler.SendEmail)
	}
}
