package handlers

import (
	"errors"
	"net/http"

	"fieldflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PortalHandler 客户门户处理器（公开路由，无需登录）
type PortalHandler struct {
	portalService *services.PortalService
	logger        *logrus.Logger
}

// NewPortalHandler 创建门户处理器
func NewPortalHandler(portalService *services.PortalService, logger *logrus.Logger) *PortalHandler {
	return &PortalHandler{
		portalService: portalService,
		logger:        logger,
	}
}

// ResolveToken 按令牌取单据。令牌无效统一返回 404，不区分原因。
// @Summary 门户令牌解析
// @Tags 门户
// @Produce json
// @Param token path string true "门户令牌"
// @Success 200 {object} services.PortalDocument
// @Failure 404 {object} ErrorResponse
// @Router /public/portal/{token} [get]
func (h *PortalHandler) ResolveToken(c *gin.Context) {
	doc, err := h.portalService.ResolveToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, services.ErrInvalidToken) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not found",
				Message: "invalid portal token",
			})
			return
		}
		h.logger.Errorf("Portal token resolve failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Internal error",
			Message: "failed to resolve portal token",
		})
		return
	}
	c.JSON(http.StatusOK, doc)
}
