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
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/deskrouter/services/router/config"
	"github.com/AleutianAI/deskrouter/services/router/mcp"
	"github.com/AleutianAI/deskrouter/services/router/planner"
	"github.com/AleutianAI/deskrouter/services/router/security"
)

// HealthProber is the slice of the tool client the health handlers need.
type HealthProber interface {
	Health(ctx context.Context) mcp.HealthStatus
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	svc      *Service
	prober   HealthProber
	breaker  *security.CircuitBreaker
	settings *config.Settings
}

// NewHandlers creates the handler set. prober and breaker may be nil, in
// which case health reports skip the corresponding sections.
func NewHandlers(svc *Service, prober HealthProber, breaker *security.CircuitBreaker, settings *config.Settings) *Handlers {
	return &Handlers{svc: svc, prober: prober, breaker: breaker, settings: settings}
}

// getOrCreateRequestID returns the inbound X-Request-ID header, minting a
// new UUID when the caller did not send one. The ID is echoed on the
// response so clients can correlate logs.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// HandleQuery handles POST /v1/query.
//
// Description:
//
//	Validates the request body, clamps max_results to the configured
//	ceiling, and runs the query end to end. A plan that needs
//	clarification still returns 200: the clarification text is the
//	summary and the client is expected to re-ask.
//
// Response:
//
//	200 OK: QueryResponse
//	400 Bad Request: Invalid or unsafe query text
func (h *Handlers) HandleQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleQuery")

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid query request: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = h.settings.DefaultMaxResults
	}
	if maxResults > h.settings.MaxAllowedResults {
		maxResults = h.settings.MaxAllowedResults
	}

	logger.Info("processing query",
		slog.Int("query_length", len(req.Query)),
		slog.Int("max_results", maxResults),
	)

	response := h.svc.ProcessQuery(c.Request.Context(), req.Query, maxResults)
	c.JSON(http.StatusOK, response)
}

// HandleHealth handles GET /v1/health. Probes the tool backend; the service
// reports degraded rather than failing when the backend is down.
func (h *Handlers) HandleHealth(c *gin.Context) {
	status := "healthy"
	var backend mcp.HealthStatus
	if h.prober != nil {
		backend = h.prober.Health(c.Request.Context())
		if backend.Status != "healthy" {
			status = "degraded"
		}
	}

	body := gin.H{
		"status":    status,
		"mcp":       backend,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.breaker != nil {
		body["circuit_breaker"] = h.breaker.Status()
	}
	c.JSON(http.StatusOK, body)
}

// HandleReady handles GET /v1/ready. Readiness is local only: the service
// can accept traffic even when the backend is degraded, since every query
// response degrades gracefully.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// HandleTools handles GET /v1/tools, listing the tools the service is
// willing to call.
func (h *Handlers) HandleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": planner.AllowedTools()})
}
