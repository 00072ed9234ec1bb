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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the query router endpoints with the router.
//
// Description:
//
//	Registers all /v1/* endpoints with the given Gin router group. The
//	group should already have engine-wide middleware (recovery, tracing,
//	CORS) applied; the rate limiter is applied here to the query endpoint
//	only, so health probes are never throttled.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//	rateLimit - Rate-limit middleware for the query endpoint. May be nil.
//
// Endpoints:
//
//	POST /v1/query - Process a natural-language query
//	GET  /v1/health - Health check incl. backend probe
//	GET  /v1/ready - Readiness check
//	GET  /v1/tools - List the tool allowlist
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, rateLimit gin.HandlerFunc) {
	if rateLimit != nil {
		rg.POST("/query", rateLimit, handlers.HandleQuery)
	} else {
		rg.POST("/query", handlers.HandleQuery)
	}

	rg.GET("/health", handlers.HandleHealth)
	rg.GET("/ready", handlers.HandleReady)
	rg.GET("/tools", handlers.HandleTools)
}
