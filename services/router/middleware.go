// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/deskrouter/services/router/config"
	"github.com/AleutianAI/deskrouter/services/router/security"
)

// CORSMiddleware allows browser frontends to call the query endpoint.
// Origins are left open; the service is expected to sit behind an ingress
// that narrows them per deployment.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware enforces the per-client token bucket, keyed by client
// IP. Rejected requests get a 429 with the window in the body and
// X-RateLimit headers on every response.
func RateLimitMiddleware(limiter *security.RateLimiter, settings *config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !limiter.Allow(clientIP) {
			c.Header("X-RateLimit-Limit", strconv.Itoa(settings.RateLimitRequests))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: fmt.Sprintf("Rate limit exceeded. Limit: %d per %s",
					settings.RateLimitRequests, settings.RateLimitWindow),
				Code: "RATE_LIMITED",
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(settings.RateLimitRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(clientIP)))
		c.Next()
	}
}

// RequestLogMiddleware logs method, path, status, and latency for every
// request at debug level.
func RequestLogMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
