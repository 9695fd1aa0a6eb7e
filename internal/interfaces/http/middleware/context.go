// Package middleware provides the gin middleware of the ledger HTTP API.
package middleware

import (
	"github.com/csr/ledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Gin context keys and request headers
const (
	RequestIDKey      = "request_id"
	OrganizationIDKey = "organization_id"
	UserIDKey         = "user_id"
	ClaimsKey         = "jwt_claims"

	HeaderRequestID      = "X-Request-ID"
	HeaderOrganizationID = "X-Organization-ID"
	HeaderUserID         = "X-User-ID"
	HeaderAuthorization  = "Authorization"
	BearerPrefix         = "Bearer "
)

// MaxRequestIDLength bounds client supplied request ids
const MaxRequestIDLength = 128

// GetRequestID returns the request id assigned by RequestID
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// GetOrganizationID returns the organization resolved by Identity
func GetOrganizationID(c *gin.Context) (uuid.UUID, bool) {
	return uuidFromContext(c, OrganizationIDKey)
}

// GetUserID returns the acting user resolved by Identity
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	return uuidFromContext(c, UserIDKey)
}

func uuidFromContext(c *gin.Context, key string) (uuid.UUID, bool) {
	raw := c.GetString(key)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// abortWithError writes the standard error envelope and stops the chain
func abortWithError(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
}

// skipped reports whether path is excluded by exact path or prefix
func skipped(path string, paths, prefixes []string) bool {
	for _, p := range paths {
		if path == p {
			return true
		}
	}
	for _, p := range prefixes {
		if len(path) >= len(p) && path[:len(p)] == p {
			return true
		}
	}
	return false
}
