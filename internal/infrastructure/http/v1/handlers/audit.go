package handlers

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/domain/audit"
)

// AuditHandler exposes the reconciliation report.
type AuditHandler struct {
	*BaseHandler
	service *audit.Service
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(base *BaseHandler, service *audit.Service) *AuditHandler {
	return &AuditHandler{
		BaseHandler: base,
		service:     service,
	}
}

// RegisterRoutes registers audit endpoints.
func (h *AuditHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/report", h.GetReport)
}

// GetReport runs the reconciliation pass and returns its findings.
func (h *AuditHandler) GetReport(c *gin.Context) {
	report, err := h.service.Run(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, report)
}
