// Package adminhttp is the operator-facing Gin surface: health, stats,
// namespace listing, and whole-namespace clearing. The wire protocol
// (internal/wire) is where tenants read and write concepts; this package
// is ops-only and carries no routes that write individual concepts.
//
// Logging goes through zerolog, matching the structured logging used
// everywhere else in this module.
package adminhttp

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency via the injected zerolog logger.
func Logger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("admin request")
	}
}

// Recovery wraps Gin's default recovery, logging panics through zerolog
// instead of letting them crash the process.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Msg("admin handler panic recovered")
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
