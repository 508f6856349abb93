package handlers

import (
	"net/http"

	"fieldflow/internal/middleware"
	"fieldflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BillingHandler 报价单/发票处理器
type BillingHandler struct {
	billingService *services.BillingService
	logger         *logrus.Logger
}

// NewBillingHandler 创建账务处理器
func NewBillingHandler(billingService *services.BillingService, logger *logrus.Logger) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		logger:         logger,
	}
}

// SendEstimate 发送报价单
// @Summary 发送报价单
// @Tags 账务
// @Produce json
// @Param id path int true "报价单ID"
// @Success 200 {object} models.Estimate
// @Failure 400 {object} ErrorResponse
// @Router /api/estimates/{id}/send [post]
func (h *BillingHandler) SendEstimate(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid estimate ID",
			Message: "ID must be a valid number",
		})
		return
	}

	estimate, err := h.billingService.SendEstimate(c.Request.Context(), middleware.OrgID(c), id)
	if err != nil {
		h.logger.Errorf("Failed to send estimate %d: %v", id, err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to send estimate",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, estimate)
}

// SendInvoice 发送发票
// @Summary 发送发票
// @Tags 账务
// @Produce json
// @Param id path int true "发票ID"
// @Success 200 {object} models.Invoice
// @Failure 400 {object} ErrorResponse
// @Router /api/invoices/{id}/send [post]
func (h *BillingHandler) SendInvoice(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid invoice ID",
			Message: "ID must be a valid number",
		})
		return
	}

	invoice, err := h.billingService.SendInvoice(c.Request.Context(), middleware.OrgID(c), id)
	if err != nil {
		h.logger.Errorf("Failed to send invoice %d: %v", id, err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to send invoice",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, invoice)
}

// MarkOverdue 手动触发逾期扫描（定时任务之外的运维入口）
// @Summary 逾期扫描
// @Tags 账务
// @Success 200 {object} SuccessResponse
// @Router /api/invoices/mark-overdue [post]
func (h *BillingHandler) MarkOverdue(c *gin.Context) {
	count, err := h.billingService.MarkInvoicesOverdue(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to mark invoices overdue: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to mark invoices overdue",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Message: "overdue scan complete",
		Data:    gin.H{"count": count},
	})
}

// RegisterBillingRoutes 注册账务路由
func RegisterBillingRoutes(r *gin.RouterGroup, handler *BillingHandler) {
	r.POST("/estimates/:id/send", handler.SendEstimate)
	r.POST("/invoices/:id/send", handler.SendInvoice)
	r.POST("/invoices/mark-overdue", handler.MarkOverdue)
}
