package rules

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/idgen"
)

// AdminRepository is the writable side of rule storage, used by the
// management API.
type AdminRepository interface {
	Repository
	Upsert(ctx context.Context, r *Rule) error
	Disable(ctx context.Context, id string) error
}

// Handler provides HTTP endpoints for rule management.
type Handler struct {
	repo   AdminRepository
	loader *Loader
}

// NewHandler creates a new rules handler.
func NewHandler(repo AdminRepository, loader *Loader) *Handler {
	return &Handler{repo: repo, loader: loader}
}

// RegisterRoutes sets up rule management routes. Mount under an
// operator-authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rules", h.ListRules)
	r.POST("/rules", h.UpsertRule)
	r.POST("/rules/refresh", h.Refresh)
	r.DELETE("/rules/:id", h.DisableRule)
}

// ListRules handles GET /rules: the active, compiled snapshot.
func (h *Handler) ListRules(c *gin.Context) {
	snapshot := h.loader.Active()
	c.JSON(http.StatusOK, gin.H{
		"version":  snapshot.Version,
		"loadedAt": snapshot.LoadedAt,
		"rules":    snapshot.Rules(),
	})
}

// UpsertRuleRequest is the payload for creating or updating a rule.
type UpsertRuleRequest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name" binding:"required"`
	Expression   string            `json:"expression" binding:"required"`
	Action       string            `json:"action" binding:"required"`
	Priority     int               `json:"priority"`
	Enabled      *bool             `json:"enabled"`
	ShortCircuit bool              `json:"shortCircuit"`
	Metadata     map[string]string `json:"metadata"`
}

// UpsertRule handles POST /rules. The expression is compiled up front so a
// typo is rejected here instead of silently dropping the rule at the next
// refresh.
func (h *Handler) UpsertRule(c *gin.Context) {
	var req UpsertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !decision.ValidAction(strings.ToLower(req.Action)) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_action",
			"message": "Action must be one of: allow, deny, review, challenge",
		})
		return
	}
	if _, err := Compile(req.Expression); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_expression",
			"message": err.Error(),
		})
		return
	}

	rule := &Rule{
		ID:           req.ID,
		Name:         req.Name,
		Expression:   req.Expression,
		Action:       decision.Action(strings.ToLower(req.Action)),
		Priority:     req.Priority,
		Enabled:      req.Enabled == nil || *req.Enabled,
		ShortCircuit: req.ShortCircuit,
		Metadata:     req.Metadata,
	}
	if rule.ID == "" {
		rule.ID = idgen.WithPrefix("rule_")
	}

	if err := h.repo.Upsert(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to store rule",
		})
		return
	}

	// The new rule takes effect immediately, not at the next poll.
	_ = h.loader.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, rule)
}

// Refresh handles POST /rules/refresh: force a reload from storage.
func (h *Handler) Refresh(c *gin.Context) {
	if err := h.loader.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "refresh_failed",
			"message": "Rule storage unavailable; previous snapshot remains active",
		})
		return
	}
	snapshot := h.loader.Active()
	c.JSON(http.StatusOK, gin.H{
		"version": snapshot.Version,
		"rules":   snapshot.Len(),
	})
}

// DisableRule handles DELETE /rules/:id. Rules are disabled, never erased:
// past decisions reference them by ID.
func (h *Handler) DisableRule(c *gin.Context) {
	if err := h.repo.Disable(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to disable rule",
		})
		return
	}
	_ = h.loader.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "enabled": false})
}
