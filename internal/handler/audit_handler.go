package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campushq/registrar-api/internal/models"
	"github.com/campushq/registrar-api/internal/service"
	"github.com/campushq/registrar-api/pkg/response"
)

// AuditHandler exposes the audit trail read surface.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// SectionHistory godoc
// @Summary List enrollment transitions recorded for a section
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Param limit query int false "Max records (default 50, max 200)"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/audit [get]
func (h *AuditHandler) SectionHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.audit.History(c.Request.Context(), models.AuditEntityEnrollment, c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}
