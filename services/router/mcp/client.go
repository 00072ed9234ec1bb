// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcp implements the resilient HTTP client for the ticketing
// MCP tool server: allow-listed tool invocation with retry, exponential
// backoff with jitter, and circuit breaking.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/deskrouter/services/router/config"
	"github.com/AleutianAI/deskrouter/services/router/planner"
	"github.com/AleutianAI/deskrouter/services/router/security"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "mcp",
		Name:      "tool_calls_total",
		Help:      "Total tool calls by tool and outcome",
	}, []string{"tool", "outcome"})

	toolCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "router",
		Subsystem: "mcp",
		Name:      "tool_call_latency_seconds",
		Help:      "Tool call latency including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"tool"})

	toolRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "mcp",
		Name:      "tool_retries_total",
		Help:      "Total tool call retry attempts",
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var mcpTracer = otel.Tracer("deskrouter.router.mcp")

// =============================================================================
// ToolCaller Interface
// =============================================================================

// ToolCaller is the executor's view of the tool server. Responses are
// decoded JSON of unspecified shape (object or list); errors are one of
// the four typed kinds in this package.
type ToolCaller interface {
	CallTool(ctx context.Context, tool string, payload map[string]any) (any, error)
}

// =============================================================================
// Client
// =============================================================================

// listToolsName is the server's tool-discovery endpoint. It is not part
// of the plan allow-list; only Health and ListTools may reach it.
const listToolsName = "list_registered_tools"

// Client is the HTTP tool client.
//
// Description:
//
//	Posts JSON payloads to {base}/tools/{name}. Transport failures and
//	timeouts are retried with exponential backoff plus jitter; typed
//	HTTP failures (4xx, 5xx) are not. 5xx responses and timeouts count
//	against the shared circuit breaker.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	retries    int
	httpClient *http.Client
	breaker    *security.CircuitBreaker
	logger     *slog.Logger

	allowedTools map[string]struct{}

	// sleep is a backoff hook for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a tool client from settings. The breaker is shared
// with whoever reports service health; it must not be nil.
func NewClient(settings *config.Settings, breaker *security.CircuitBreaker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{})
	for _, tool := range planner.AllowedTools() {
		allowed[tool] = struct{}{}
	}
	return &Client{
		baseURL:      strings.TrimRight(settings.MCPBaseURL, "/"),
		apiKey:       settings.MCPAPIKey,
		timeout:      settings.MCPTimeout,
		retries:      settings.MCPRetries,
		httpClient:   &http.Client{Timeout: settings.MCPTimeout},
		breaker:      breaker,
		logger:       logger,
		allowedTools: allowed,
		sleep:        sleepContext,
	}
}

// CallTool invokes an allow-listed tool and decodes its JSON response.
//
// Outputs:
//
//	any - Decoded response body (object or list).
//	error - *TimeoutError, *ServerError, *CircuitOpenError, or
//	*ClientError.
func (c *Client) CallTool(ctx context.Context, tool string, payload map[string]any) (any, error) {
	if _, ok := c.allowedTools[tool]; !ok {
		return nil, &ClientError{Tool: tool, Message: fmt.Sprintf("tool %q is not allowed", tool)}
	}
	return c.callTool(ctx, tool, payload)
}

func (c *Client) callTool(ctx context.Context, tool string, payload map[string]any) (any, error) {
	ctx, span := mcpTracer.Start(ctx, "mcp.call_tool")
	defer span.End()
	span.SetAttributes(attribute.String("mcp.tool", tool))

	start := time.Now()
	defer func() {
		toolCallLatency.WithLabelValues(tool).Observe(time.Since(start).Seconds())
	}()

	if !c.breaker.Allow() {
		toolCallsTotal.WithLabelValues(tool, "circuit_open").Inc()
		return nil, &CircuitOpenError{Tool: tool}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ClientError{Tool: tool, Message: fmt.Sprintf("encode payload: %v", err)}
	}

	endpoint := c.baseURL + "/tools/" + url.PathEscape(tool)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			toolRetriesTotal.Inc()
			backoff := time.Duration(1<<uint(attempt-1))*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
			c.logger.DebugContext(ctx, "retrying tool call",
				slog.String("tool", tool),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff))
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, &ClientError{Tool: tool, Message: fmt.Sprintf("canceled during backoff: %v", err)}
			}
		}

		result, err := c.post(ctx, tool, endpoint, body)
		if err == nil {
			c.breaker.RecordSuccess()
			toolCallsTotal.WithLabelValues(tool, "success").Inc()
			return result, nil
		}

		var timeoutErr *TimeoutError
		var serverErr *ServerError
		var clientErr *ClientError
		switch {
		case errors.As(err, &timeoutErr):
			// Timeouts count against the breaker and are retried.
			c.breaker.RecordFailure()
			lastErr = err
		case errors.As(err, &serverErr):
			// Server errors count against the breaker but are final.
			c.breaker.RecordFailure()
			toolCallsTotal.WithLabelValues(tool, "error").Inc()
			return nil, err
		case errors.As(err, &clientErr) && clientErr.retryable:
			c.breaker.RecordFailure()
			lastErr = err
		default:
			// Typed HTTP failures are final.
			toolCallsTotal.WithLabelValues(tool, "error").Inc()
			return nil, err
		}

		c.logger.WarnContext(ctx, "tool call attempt failed",
			slog.String("tool", tool),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	toolCallsTotal.WithLabelValues(tool, "error").Inc()
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &ClientError{Tool: tool, Message: fmt.Sprintf("failed after %d attempts", c.retries+1)}
}

// post performs one HTTP attempt.
func (c *Client) post(ctx context.Context, tool, endpoint string, body []byte) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Tool: tool, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "deskrouter/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, &TimeoutError{Tool: tool, Timeout: c.timeout.String()}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Tool: tool, Timeout: c.timeout.String()}
		}
		return nil, &ClientError{Tool: tool, Message: fmt.Sprintf("request failed: %v", err), retryable: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result any
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, &ClientError{Tool: tool, Message: fmt.Sprintf("decode response: %v", err)}
		}
		return result, nil

	case resp.StatusCode == http.StatusNotFound:
		drainBody(resp.Body)
		return nil, &ClientError{Tool: tool, Message: fmt.Sprintf("tool %q not found on mcp server", tool)}

	case resp.StatusCode == http.StatusTooManyRequests:
		drainBody(resp.Body)
		return nil, &ClientError{Tool: tool, Message: "rate limited by mcp server"}

	case resp.StatusCode >= 500:
		return nil, &ServerError{Tool: tool, StatusCode: resp.StatusCode, Message: errorDetail(resp.Body)}

	default:
		return nil, &ClientError{Tool: tool, Message: fmt.Sprintf("mcp client error %d: %s", resp.StatusCode, errorDetail(resp.Body))}
	}
}

// errorDetail pulls {"error": {"message": ...}} out of an error body,
// best effort.
func errorDetail(body io.Reader) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return "unknown error"
	}
	if envelope.Error.Message == "" {
		return "unknown error"
	}
	return envelope.Error.Message
}

func drainBody(body io.Reader) {
	_, _ = io.Copy(io.Discard, body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// Health and Discovery
// =============================================================================

// HealthStatus is the client's view of backend health.
type HealthStatus struct {
	Status         string `json:"status"`
	Server         string `json:"mcp_server"`
	ToolsAvailable int    `json:"tools_available,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Health probes the tool server via its discovery endpoint.
func (c *Client) Health(ctx context.Context) HealthStatus {
	result, err := c.callTool(ctx, listToolsName, map[string]any{})
	if err != nil {
		var open *CircuitOpenError
		if errors.As(err, &open) {
			return HealthStatus{Status: "unhealthy", Server: "circuit_breaker_open", Error: err.Error()}
		}
		return HealthStatus{Status: "unhealthy", Server: "unreachable", Error: err.Error()}
	}

	status := HealthStatus{Status: "healthy", Server: "connected"}
	if list, ok := result.([]any); ok {
		status.ToolsAvailable = len(list)
	}
	return status
}

// ListTools returns the tool names the server advertises. Failures
// degrade to an empty list.
func (c *Client) ListTools(ctx context.Context) []string {
	result, err := c.callTool(ctx, listToolsName, map[string]any{})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to list mcp tools", slog.String("error", err.Error()))
		return nil
	}

	list, ok := result.([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := record["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}
