package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/csr/ledger/internal/infrastructure/telemetry"
)

// Profiling tags the CPU samples of each request with its controller, route,
// method and organization. Place it after Identity.
func Profiling(enabled bool, skipPaths ...string) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if skipped(c.Request.URL.Path, skipPaths, nil) {
			c.Next()
			return
		}

		route := c.FullPath()
		orgID := ""
		if id, ok := GetOrganizationID(c); ok {
			orgID = id.String()
		}
		labels := telemetry.HTTPRequestLabels(controllerFromRoute(route), route, c.Request.Method, orgID)

		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

// controllerFromRoute returns the resource segment of a route:
// "/api/v1/invoices/:id/send" gives "invoices".
func controllerFromRoute(route string) string {
	for _, part := range strings.Split(route, "/") {
		if part == "" || part == "api" || isVersionSegment(part) || strings.HasPrefix(part, ":") {
			continue
		}
		return part
	}
	return ""
}

func isVersionSegment(s string) bool {
	if len(s) < 2 || (s[0] != 'v' && s[0] != 'V') {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
