// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/deskrouter/services/router/config"
	"github.com/AleutianAI/deskrouter/services/router/planner"
	"github.com/AleutianAI/deskrouter/services/router/security"
)

func newTestClient(t *testing.T, serverURL string, retries int) *Client {
	t.Helper()
	settings := config.DefaultSettings()
	settings.MCPBaseURL = serverURL
	settings.MCPAPIKey = "test-key"
	settings.MCPRetries = retries
	settings.MCPTimeout = 2 * time.Second

	breaker := security.NewCircuitBreaker(5, time.Minute)
	c := NewClient(&settings, breaker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestCallToolSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{"incidents": []any{}})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	result, err := c.CallTool(context.Background(), planner.ToolIncidentsByFIQL,
		map[string]any{"fiql_query": "status!='Closed'", "page_size": 5})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	if gotPath != "/tools/"+planner.ToolIncidentsByFIQL {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPayload["fiql_query"] != "status!='Closed'" {
		t.Errorf("payload = %v", gotPayload)
	}
	if _, ok := result.(map[string]any); !ok {
		t.Errorf("result type = %T", result)
	}
}

func TestCallToolRejectsUnknownTool(t *testing.T) {
	c := newTestClient(t, "http://localhost:0", 0)

	_, err := c.CallTool(context.Background(), "delete_everything", nil)
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected *ClientError, got %v", err)
	}
}

func TestCallToolServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "db down"}})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	_, err := c.CallTool(context.Background(), planner.ToolSearch, map[string]any{"query": "x"})

	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *ServerError, got %v", err)
	}
	if serverErr.StatusCode != 500 || serverErr.Message != "db down" {
		t.Errorf("server error = %+v", serverErr)
	}
	if calls.Load() != 1 {
		t.Errorf("5xx must not be retried, got %d calls", calls.Load())
	}
}

func TestCallToolServerErrorTripsBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "db down"}})
	}))
	defer server.Close()

	breaker := security.NewCircuitBreaker(1, time.Hour)
	settings := config.DefaultSettings()
	settings.MCPBaseURL = server.URL
	c := NewClient(&settings, breaker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := c.CallTool(context.Background(), planner.ToolSearch, map[string]any{"query": "x"})
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *ServerError, got %v", err)
	}
	if got := breaker.Status().FailureCount; got != 1 {
		t.Errorf("breaker failure count = %d, want 1", got)
	}

	// Threshold reached: the next call must be rejected without a request.
	_, err = c.CallTool(context.Background(), planner.ToolSearch, map[string]any{"query": "x"})
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected *CircuitOpenError after repeated 5xx, got %v", err)
	}
}

func TestCallToolNotFoundAndRateLimited(t *testing.T) {
	status := http.StatusNotFound
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 2)

	_, err := c.CallTool(context.Background(), planner.ToolSearch, map[string]any{"query": "x"})
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected *ClientError for 404, got %v", err)
	}

	status = http.StatusTooManyRequests
	_, err = c.CallTool(context.Background(), planner.ToolSearch, map[string]any{"query": "x"})
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected *ClientError for 429, got %v", err)
	}
}

func TestCallToolCircuitOpen(t *testing.T) {
	breaker := security.NewCircuitBreaker(1, time.Hour)
	breaker.RecordFailure()

	settings := config.DefaultSettings()
	settings.MCPBaseURL = "http://localhost:0"
	c := NewClient(&settings, breaker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := c.CallTool(context.Background(), planner.ToolSearch, map[string]any{"query": "x"})
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected *CircuitOpenError, got %v", err)
	}
}

func TestCallToolRetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			// Drop the connection mid-response.
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	result, err := c.CallTool(context.Background(), planner.ToolSearch, map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if _, ok := result.([]any); !ok {
		t.Errorf("result type = %T", result)
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/list_registered_tools" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]any{
			map[string]any{"name": "search"},
			map[string]any{"name": "topdesk_get_person_by_query"},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)

	health := c.Health(context.Background())
	if health.Status != "healthy" || health.ToolsAvailable != 2 {
		t.Errorf("health = %+v", health)
	}

	tools := c.ListTools(context.Background())
	if len(tools) != 2 || tools[0] != "search" {
		t.Errorf("tools = %v", tools)
	}
}

func TestHealthCircuitOpen(t *testing.T) {
	breaker := security.NewCircuitBreaker(1, time.Hour)
	breaker.RecordFailure()

	settings := config.DefaultSettings()
	settings.MCPBaseURL = "http://localhost:0"
	c := NewClient(&settings, breaker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	health := c.Health(context.Background())
	if health.Status != "unhealthy" || health.Server != "circuit_breaker_open" {
		t.Errorf("health = %+v", health)
	}
}
