package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/last-emo-boy/watchdog-core/pkg/core"
)

// SystemHandler exposes unauthenticated system-level endpoints.
type SystemHandler struct {
	service *core.Service
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(service *core.Service) *SystemHandler {
	return &SystemHandler{service: service}
}

// SystemStatus handles GET /api/v1/system/status.
func (h *SystemHandler) SystemStatus(c *gin.Context) {
	report, aerr := h.service.SystemStatus()
	if aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, report)
}
