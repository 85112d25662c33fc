// Package validation provides request hygiene middleware for the decision API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// idRegex validates prefixed resource IDs (dec_..., evt_..., rule_...)
	idRegex = regexp.MustCompile(`^[a-z]{2,8}_[A-Za-z0-9-]{1,64}$`)
	// tenantRegex validates tenant identifiers
	tenantRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks if a string is a well-formed prefixed resource ID
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// IsValidTenant checks if a string is a well-formed tenant identifier
func IsValidTenant(t string) bool {
	return tenantRegex.MatchString(t)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// IDParamMiddleware validates a prefixed-ID URL parameter on routes that use
// it. Apply to route groups with :id style params to reject malformed IDs
// before they reach storage.
func IDParamMiddleware(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(paramName)
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": paramName + " must be a prefixed identifier (e.g. dec_...)",
			})
			return
		}
		c.Next()
	}
}
