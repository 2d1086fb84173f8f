package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/last-emo-boy/watchdog-core/pkg/apperr"
	"github.com/last-emo-boy/watchdog-core/pkg/core"
	"github.com/last-emo-boy/watchdog-core/pkg/database"
)

// NodeHandler handles node (monitored endpoint) API endpoints.
type NodeHandler struct {
	service *core.Service
}

// NewNodeHandler creates a new NodeHandler.
func NewNodeHandler(service *core.Service) *NodeHandler {
	return &NodeHandler{service: service}
}

// nodeRequest is the request body shape shared by CreateNode/TestConnection.
type nodeRequest struct {
	Name                string            `json:"name" binding:"required"`
	EndpointURL         string            `json:"endpoint_url" binding:"required"`
	Method              string            `json:"method"`
	Headers             map[string]string `json:"headers"`
	Body                string            `json:"body"`
	CheckIntervalMs     int               `json:"check_interval_ms" binding:"required"`
	ExpectedStatusCodes []int             `json:"expected_status_codes"`
	FailureThreshold    int               `json:"failure_threshold"`
}

func (r nodeRequest) toSpec() core.NodeSpec {
	return core.NodeSpec{
		Name:                r.Name,
		EndpointURL:         r.EndpointURL,
		Method:              r.Method,
		Headers:             r.Headers,
		Body:                r.Body,
		CheckIntervalMs:     r.CheckIntervalMs,
		ExpectedStatusCodes: r.ExpectedStatusCodes,
		FailureThreshold:    r.FailureThreshold,
	}
}

// nodePatchRequest is UpdateNode's partial-update request body.
type nodePatchRequest struct {
	Name                *string           `json:"name"`
	EndpointURL         *string           `json:"endpoint_url"`
	Method              *string           `json:"method"`
	Headers             map[string]string `json:"headers"`
	Body                *string           `json:"body"`
	CheckIntervalMs     *int              `json:"check_interval_ms"`
	ExpectedStatusCodes []int             `json:"expected_status_codes"`
	FailureThreshold    *int              `json:"failure_threshold"`
}

func (r nodePatchRequest) toPatch() core.NodePatch {
	return core.NodePatch{
		Name:                r.Name,
		EndpointURL:         r.EndpointURL,
		Method:              r.Method,
		Headers:             r.Headers,
		Body:                r.Body,
		CheckIntervalMs:     r.CheckIntervalMs,
		ExpectedStatusCodes: r.ExpectedStatusCodes,
		FailureThreshold:    r.FailureThreshold,
	}
}

// CreateNode handles POST /api/v1/nodes.
func (h *NodeHandler) CreateNode(c *gin.Context) {
	var req nodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	node, aerr := h.service.CreateNode(userID(c), req.toSpec())
	if aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"node": node})
}

// UpdateNode handles PATCH /api/v1/nodes/:id.
func (h *NodeHandler) UpdateNode(c *gin.Context) {
	var req nodePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	node, aerr := h.service.UpdateNode(userID(c), c.Param("id"), req.toPatch())
	if aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node})
}

// PauseNode handles POST /api/v1/nodes/:id/pause.
func (h *NodeHandler) PauseNode(c *gin.Context) {
	if aerr := h.service.PauseNode(userID(c), c.Param("id")); aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "node paused"})
}

// ResumeNode handles POST /api/v1/nodes/:id/resume.
func (h *NodeHandler) ResumeNode(c *gin.Context) {
	if aerr := h.service.ResumeNode(userID(c), c.Param("id")); aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "node resumed"})
}

// DeleteNode handles DELETE /api/v1/nodes/:id.
func (h *NodeHandler) DeleteNode(c *gin.Context) {
	if aerr := h.service.DeleteNode(userID(c), c.Param("id")); aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "node deleted"})
}

// TestProbe handles POST /api/v1/nodes/:id/test — runs the probe once
// without persisting anything.
func (h *NodeHandler) TestProbe(c *gin.Context) {
	outcome, aerr := h.service.TestProbe(userID(c), c.Param("id"))
	if aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// TestConnection handles POST /api/v1/nodes/test-connection — pre-create
// validation against an arbitrary configuration.
func (h *NodeHandler) TestConnection(c *gin.Context) {
	var req nodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, aerr := h.service.TestConnection(req.toSpec())
	if aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// GetNode handles GET /api/v1/nodes/:id.
func (h *NodeHandler) GetNode(c *gin.Context) {
	detail, aerr := h.service.GetNode(userID(c), c.Param("id"))
	if aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"node":    detail.Node,
		"metrics": detail.Metrics,
	})
}

// ListNodes handles GET /api/v1/nodes.
func (h *NodeHandler) ListNodes(c *gin.Context) {
	filter := database.NodeListFilter{
		Page:      queryInt(c, "page", 1),
		Limit:     queryInt(c, "limit", 20),
		Search:    c.Query("search"),
		Status:    c.Query("status"),
		SortBy:    c.DefaultQuery("sort_by", "created_at"),
		SortOrder: c.DefaultQuery("sort_order", "asc"),
	}

	list, aerr := h.service.ListNodes(userID(c), filter)
	if aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nodes": list.Nodes,
		"total": list.Total,
		"page":  list.Page,
		"limit": list.Limit,
	})
}

// DashboardOverview handles GET /api/v1/dashboard.
func (h *NodeHandler) DashboardOverview(c *gin.Context) {
	report, aerr := h.service.DashboardOverview(userID(c))
	if aerr != nil {
		respondErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboard": report})
}

func userID(c *gin.Context) string {
	id, _ := c.Get("user_id")
	s, _ := id.(string)
	return s
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// respondErr maps an apperr.Error's kind to an HTTP status and writes the
// error body. internal errors never leak their wrapped detail to the
// client — only the message set at the call site.
func respondErr(c *gin.Context, err *apperr.Error) {
	status := http.StatusInternalServerError
	switch err.Kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindAlreadyPaused, apperr.KindAlreadyActive, apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindUnauthorized:
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": err.Message, "kind": err.Kind})
}
