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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/deskrouter/services/router/config"
	"github.com/AleutianAI/deskrouter/services/router/mcp"
	"github.com/AleutianAI/deskrouter/services/router/planner"
	"github.com/AleutianAI/deskrouter/services/router/security"
)

type stubProber struct {
	status mcp.HealthStatus
}

func (s *stubProber) Health(ctx context.Context) mcp.HealthStatus { return s.status }

func setupTestRouter(t *testing.T, caller *mockCaller, rateLimit gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, RegisterValidators())

	settings := config.DefaultSettings()
	svc := newTestService(t, caller)
	handlers := NewHandlers(svc, &stubProber{status: mcp.HealthStatus{Status: "healthy"}}, nil, &settings)

	engine := gin.New()
	v1 := engine.Group("/v1")
	RegisterRoutes(v1, handlers, rateLimit)
	return engine
}

func postQuery(engine *gin.Engine, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuery(t *testing.T) {
	caller := &mockCaller{
		responses: map[string]any{
			planner.ToolSearch: map[string]any{"results": []any{}},
		},
	}
	engine := setupTestRouter(t, caller, nil)

	rec := postQuery(engine, QueryRequest{Query: "password reset", MaxResults: 5})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "No incidents found matching your query.", resp.Summary)
	assert.NotNil(t, resp.Plan)
}

func TestHandleQueryRejectsEmptyBody(t *testing.T) {
	engine := setupTestRouter(t, &mockCaller{}, nil)

	rec := postQuery(engine, map[string]any{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_REQUEST", resp.Code)
}

func TestHandleQueryRejectsScriptInjection(t *testing.T) {
	engine := setupTestRouter(t, &mockCaller{}, nil)

	for _, query := range []string{
		"<script>alert(1)</script>",
		"javascript:void(0)",
		"show tickets onload=evil",
		"   ",
	} {
		rec := postQuery(engine, map[string]any{"query": query})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %q must be rejected", query)
	}
}

func TestHandleQueryRejectsOversizedMaxResults(t *testing.T) {
	engine := setupTestRouter(t, &mockCaller{}, nil)

	rec := postQuery(engine, map[string]any{"query": "password reset", "max_results": 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryDefaultsMaxResults(t *testing.T) {
	caller := &mockCaller{
		responses: map[string]any{
			planner.ToolSearch: map[string]any{"results": []any{}},
		},
	}
	engine := setupTestRouter(t, caller, nil)

	rec := postQuery(engine, map[string]any{"query": "password reset"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, caller.calls, 1)
	settings := config.DefaultSettings()
	assert.EqualValues(t, settings.DefaultMaxResults, caller.calls[0].Payload["max_results"])
}

func TestRateLimitMiddleware(t *testing.T) {
	settings := config.DefaultSettings()
	settings.RateLimitRequests = 2
	settings.RateLimitWindow = time.Minute
	limiter := security.NewRateLimiter(settings.RateLimitRequests, settings.RateLimitWindow)

	caller := &mockCaller{
		responses: map[string]any{
			planner.ToolSearch: map[string]any{"results": []any{}},
		},
	}
	engine := setupTestRouter(t, caller, RateLimitMiddleware(limiter, &settings))

	for i := 0; i < 2; i++ {
		rec := postQuery(engine, map[string]any{"query": "password reset"})
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := postQuery(engine, map[string]any{"query": "password reset"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RATE_LIMITED", resp.Code)
}

func TestHandleHealth(t *testing.T) {
	engine := setupTestRouter(t, &mockCaller{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleHealthDegraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	settings := config.DefaultSettings()
	svc := newTestService(t, &mockCaller{})
	prober := &stubProber{status: mcp.HealthStatus{Status: "unhealthy", Server: "unreachable"}}
	handlers := NewHandlers(svc, prober, nil, &settings)

	engine := gin.New()
	RegisterRoutes(engine.Group("/v1"), handlers, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestHandleTools(t *testing.T) {
	engine := setupTestRouter(t, &mockCaller{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tools []string `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.ElementsMatch(t, planner.AllowedTools(), body.Tools)
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(CORSMiddleware())
	engine.POST("/v1/query", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/v1/query", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
