package audit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for audit inspection.
type Handler struct {
	store  Store
	signer *Signer
}

// NewHandler creates a new audit handler.
func NewHandler(store Store, signer *Signer) *Handler {
	return &Handler{store: store, signer: signer}
}

// RegisterRoutes sets up audit routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit/entries", h.ListEntries)
	r.GET("/audit/verify", h.Verify)
}

// ListEntries handles GET /audit/entries: a tenant's chain in sequence
// order.
func (h *Handler) ListEntries(c *gin.Context) {
	chainID := requestChain(c)
	if chainID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_tenant",
			"message": "Tenant is required",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.store.List(c.Request.Context(), chainID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load audit entries",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chainId": chainID,
		"entries": entries,
		"count":   len(entries),
	})
}

// Verify handles GET /audit/verify: re-checks the full chain linkage,
// hashes, and signatures.
func (h *Handler) Verify(c *gin.Context) {
	chainID := requestChain(c)
	if chainID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_tenant",
			"message": "Tenant is required",
		})
		return
	}

	entries, err := h.store.List(c.Request.Context(), chainID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load audit entries",
		})
		return
	}

	brokenAt := VerifyChain(entries, h.signer)
	if brokenAt >= 0 {
		c.JSON(http.StatusConflict, gin.H{
			"chainId":  chainID,
			"valid":    false,
			"brokenAt": brokenAt,
			"entries":  len(entries),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chainId": chainID,
		"valid":   true,
		"entries": len(entries),
	})
}

func requestChain(c *gin.Context) string {
	if tenant := c.GetString("authTenantID"); tenant != "" {
		return tenant
	}
	return c.Query("tenantId")
}
