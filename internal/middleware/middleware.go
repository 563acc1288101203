// Package middleware provides Gin middleware for the Postgate service:
// request logging, admin API key authentication, and cache-backed rate
// limiting on the publish surface.
package middleware

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openpostops/postgate/pkg/cache"
)

// APIKeyAuth validates the X-Admin-Key header (or a Bearer token) against
// the configured admin key.
func APIKeyAuth(expectedKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = c.GetHeader("Authorization")
			if strings.HasPrefix(key, "Bearer ") {
				key = strings.TrimPrefix(key, "Bearer ")
			}
		}
		if key != expectedKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: invalid or missing admin API key"})
			return
		}
		c.Next()
	}
}

// Logging logs request and response metadata: method, path, status code,
// latency, and client IP.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		if query != "" {
			path = path + "?" + query
		}

		switch {
		case statusCode >= 500:
			log.Printf("[ERROR] %s %s | %d | %v | %s | errors: %s",
				method, path, statusCode, latency, clientIP, c.Errors.ByType(gin.ErrorTypePrivate).String())
		case statusCode >= 400:
			log.Printf("[WARN]  %s %s | %d | %v | %s", method, path, statusCode, latency, clientIP)
		default:
			log.Printf("[INFO]  %s %s | %d | %v | %s", method, path, statusCode, latency, clientIP)
		}
	}
}

// RateLimit enforces a fixed-window per-client limit on the publish
// surface, backed by the resilient cache. Degraded (fallback) limiting is
// allowed through: the cache's per-process window still bounds abuse.
func RateLimit(c *cache.ResilientCache, maxRequests int64, window time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		allowed, fellBack := c.RateLimitCheck(ctx.Request.Context(), ctx.ClientIP(), maxRequests, window)
		if fellBack {
			log.Printf("middleware: rate limit window degraded to per-process for %s", ctx.ClientIP())
		}
		if !allowed {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			return
		}
		ctx.Next()
	}
}
