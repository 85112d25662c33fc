package orchestrator

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/pagination"
)

// Handler provides HTTP endpoints for scoring and decision retrieval.
type Handler struct {
	service *Service
}

// NewHandler creates a new decision handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up decision routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/decisions/score", h.ScoreTransaction)
	r.GET("/decisions", h.ListDecisions)
	r.GET("/decisions/:id", h.GetDecision)
	r.GET("/events/:eventId/decisions", h.ListEventDecisions)
}

// ScoreTransaction handles POST /decisions/score.
func (h *Handler) ScoreTransaction(c *gin.Context) {
	var req decision.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// The authenticated tenant owns the request; a mismatched body is an
	// attempt to score under someone else's account.
	if tenant := c.GetString("authTenantID"); tenant != "" {
		if req.TenantID == "" {
			req.TenantID = tenant
		} else if req.TenantID != tenant {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Cannot score transactions for a different tenant",
			})
			return
		}
	}

	dec, err := h.service.Score(c.Request.Context(), &req)
	if err != nil {
		var verrs decision.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": verrs.Error(),
				"fields":  verrs,
			})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "decision_unavailable",
			"message": "Decision could not be recorded; retry with the same idempotency key",
		})
		return
	}

	c.JSON(http.StatusOK, dec)
}

// GetDecision handles GET /decisions/:id.
func (h *Handler) GetDecision(c *gin.Context) {
	tenantID := requestTenant(c)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_tenant",
			"message": "Tenant is required",
		})
		return
	}

	dec, err := h.service.GetDecision(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrDecisionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Decision not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load decision",
		})
		return
	}
	c.JSON(http.StatusOK, dec)
}

// ListEventDecisions handles GET /events/:eventId/decisions.
func (h *Handler) ListEventDecisions(c *gin.Context) {
	tenantID := requestTenant(c)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_tenant",
			"message": "Tenant is required",
		})
		return
	}

	decs, err := h.service.ListDecisionsByEvent(c.Request.Context(), tenantID, c.Param("eventId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load decisions",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"eventId":   c.Param("eventId"),
		"decisions": decs,
		"count":     len(decs),
	})
}

// ListDecisions handles GET /decisions: a cursor-paged listing of the
// tenant's decisions, newest first.
func (h *Handler) ListDecisions(c *gin.Context) {
	tenantID := requestTenant(c)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_tenant",
			"message": "Tenant is required",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 200",
			})
			return
		}
		limit = n
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	decs, err := h.service.ListDecisions(c.Request.Context(), tenantID, cursor, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load decisions",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(decs, limit, func(d *decision.Decision) (time.Time, string) {
		return d.CreatedAt, d.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"decisions":  page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// requestTenant resolves the tenant: the authenticated identity wins, a
// query parameter serves unauthenticated deployments.
func requestTenant(c *gin.Context) string {
	if tenant := c.GetString("authTenantID"); tenant != "" {
		return tenant
	}
	return c.Query("tenantId")
}
