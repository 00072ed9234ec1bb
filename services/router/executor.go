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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/deskrouter/services/router/mcp"
	"github.com/AleutianAI/deskrouter/services/router/normalize"
	"github.com/AleutianAI/deskrouter/services/router/planner"
	"github.com/AleutianAI/deskrouter/services/router/summarize"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "executor",
		Name:      "queries_total",
		Help:      "Processed queries by outcome (ok, clarify, error).",
	}, []string{"outcome"})

	stepOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "executor",
		Name:      "step_outcomes_total",
		Help:      "Executed plan steps by tool and outcome.",
	}, []string{"tool", "outcome"})

	queryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "router",
		Subsystem: "executor",
		Name:      "query_latency_seconds",
		Help:      "End-to-end query processing latency.",
		Buckets:   prometheus.DefBuckets,
	})

	resolutionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "executor",
		Name:      "resolution_cache_hits_total",
		Help:      "Identity lookups answered from the resolution cache.",
	})
)

var executorTracer = otel.Tracer("deskrouter.router.executor")

// rawSanitizeDepth bounds how deep ForLogging descends into raw responses
// before truncating.
const rawSanitizeDepth = 4

// =============================================================================
// Service
// =============================================================================

// Service executes query plans against the tool backend.
//
// Description:
//
//	ProcessQuery is the single entry point: plan, execute each tool call in
//	order, normalize, summarize. A step failure is recorded in the raw
//	response map under its step key and execution continues; the plan
//	counts as executed even when every step failed, and normalization then
//	yields the empty-result summary. Only a failure outside step isolation
//	(context cancellation before a step could run) produces a query-level
//	error response. Deferred caller/operator bindings are resolved from
//	earlier step responses immediately before the dependent call, so the
//	placeholder marker never reaches the client.
//
// Thread Safety: Safe for concurrent use. All per-query state is local to
// ProcessQuery.
type Service struct {
	planner *planner.Planner
	client  mcp.ToolCaller
	cache   ResolutionCache
	logger  *slog.Logger
}

// NewService creates an executor Service. cache may be nil to disable
// identity persistence; logger may be nil.
func NewService(p *planner.Planner, client mcp.ToolCaller, cache ResolutionCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{planner: p, client: client, cache: cache, logger: logger}
}

// ProcessQuery plans and executes a natural-language query end to end.
//
// Inputs:
//
//	ctx - Request context; cancellation aborts remaining steps.
//	query - Natural-language question.
//	maxResults - Page size per tool call. Zero means the planner default.
//
// Outputs:
//
//	*QueryResponse - Never nil. A clarification plan returns early with
//	the clarification text as the summary; an aborted execution returns a
//	classified error summary with empty results.
func (s *Service) ProcessQuery(ctx context.Context, query string, maxResults int) *QueryResponse {
	ctx, span := executorTracer.Start(ctx, "executor.process_query",
		trace.WithAttributes(attribute.Int("query.max_results", maxResults)))
	defer span.End()

	start := time.Now()
	defer func() {
		queryLatency.Observe(time.Since(start).Seconds())
	}()

	plan := s.planner.PlanQuery(ctx, query, maxResults)
	span.SetAttributes(attribute.String("query.intent", plan.Intent))

	if plan.NeedsClarification() {
		queriesTotal.WithLabelValues("clarify").Inc()
		return &QueryResponse{
			Plan:          plan,
			ToolCalls:     []planner.ToolCall{},
			Raw:           map[string]any{},
			Results:       []normalize.Incident{},
			Summary:       plan.Clarify,
			ExecutionTime: time.Since(start).Seconds(),
			Warnings:      []string{},
		}
	}

	raw, orderedKeys, executed, execErr := s.executePlan(ctx, plan)

	// Step failures stay inside the raw map; only a failure outside step
	// isolation aborts the whole query.
	if execErr != nil {
		queriesTotal.WithLabelValues("error").Inc()
		s.logger.ErrorContext(ctx, "query processing failed",
			slog.String("intent", plan.Intent),
			slog.String("error", execErr.Error()),
		)
		return &QueryResponse{
			Plan:          &planner.Plan{Intent: "Error", Steps: []planner.Step{}, ToolCalls: []planner.ToolCall{}},
			ToolCalls:     []planner.ToolCall{},
			Raw:           map[string]any{"error": execErr.Error()},
			Results:       []normalize.Incident{},
			Summary:       summarize.ErrorSummary(execErr.Error(), query),
			ExecutionTime: time.Since(start).Seconds(),
			Warnings:      []string{"Error: " + execErr.Error()},
		}
	}

	incidents, person, operator := s.normalizeResults(raw, orderedKeys)
	summary := s.phraseSummary(incidents, person, operator, orderedKeys, query)

	queriesTotal.WithLabelValues("ok").Inc()
	s.logger.InfoContext(ctx, "query processed",
		slog.String("intent", plan.Intent),
		slog.Int("tools_used", len(executed)),
		slog.Int("results_count", len(incidents)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &QueryResponse{
		Plan:          plan,
		ToolCalls:     executed,
		Raw:           sanitizeRaw(raw),
		Results:       incidents,
		Summary:       summary,
		ExecutionTime: time.Since(start).Seconds(),
		Warnings:      append([]string{}, plan.Warnings...),
	}
}

// =============================================================================
// Plan Execution
// =============================================================================

// executePlan runs each tool call in plan order. Failures are recorded as
// {"error": msg} under the step key and execution continues; the plan
// completes even when every step failed. Returns the raw response map,
// step keys in execution order, the calls that succeeded (with
// placeholders resolved), and a non-nil error only when the context was
// done before a step could run.
func (s *Service) executePlan(ctx context.Context, plan *planner.Plan) (map[string]any, []string, []planner.ToolCall, error) {
	raw := make(map[string]any, len(plan.ToolCalls))
	orderedKeys := make([]string, 0, len(plan.ToolCalls))
	executed := make([]planner.ToolCall, 0, len(plan.ToolCalls))

	for i, toolCall := range plan.ToolCalls {
		if err := ctx.Err(); err != nil {
			return raw, orderedKeys, executed, err
		}

		stepKey := fmt.Sprintf("step_%d_%s", i+1, toolCall.Name)
		orderedKeys = append(orderedKeys, stepKey)

		if payloadHasMarker(toolCall.Payload) {
			toolCall = resolvePlaceholder(toolCall, raw, orderedKeys)
		}
		if payloadHasMarker(toolCall.Payload) {
			// The marker must never reach the client.
			raw[stepKey] = map[string]any{"error": "unresolved placeholder in tool payload"}
			stepOutcomesTotal.WithLabelValues(toolCall.Name, "error").Inc()
			continue
		}

		response, err := s.runStep(ctx, toolCall)
		if err != nil {
			s.logger.ErrorContext(ctx, "tool call failed",
				slog.String("tool", toolCall.Name),
				slog.String("error", err.Error()),
			)
			raw[stepKey] = map[string]any{"error": err.Error()}
			stepOutcomesTotal.WithLabelValues(toolCall.Name, "error").Inc()
			continue
		}

		raw[stepKey] = response
		executed = append(executed, toolCall)
		stepOutcomesTotal.WithLabelValues(toolCall.Name, "ok").Inc()
	}

	return raw, orderedKeys, executed, nil
}

// runStep executes a single tool call, consulting the resolution cache for
// person and operator lookups.
func (s *Service) runStep(ctx context.Context, toolCall planner.ToolCall) (any, error) {
	isLookup := toolCall.Name == planner.ToolPersonByQuery || toolCall.Name == planner.ToolOperatorsByFIQL
	lookupFIQL, _ := toolCall.Payload["fiql_query"].(string)

	if isLookup && s.cache != nil && lookupFIQL != "" {
		identity, err := s.cache.Lookup(ctx, lookupFIQL)
		if err != nil {
			s.logger.WarnContext(ctx, "resolution cache lookup failed", slog.String("error", err.Error()))
		} else if identity != nil {
			resolutionCacheHits.Inc()
			return map[string]any{"id": identity.ID, "name": identity.Name}, nil
		}
	}

	response, err := s.client.CallTool(ctx, toolCall.Name, toolCall.Payload)
	if err != nil {
		return nil, err
	}

	if isLookup && s.cache != nil && lookupFIQL != "" {
		if identity := identityFrom(toolCall.Name, response); identity != nil {
			if err := s.cache.Store(ctx, lookupFIQL, *identity); err != nil {
				s.logger.WarnContext(ctx, "resolution cache store failed", slog.String("error", err.Error()))
			}
		}
	}

	return response, nil
}

// identityFrom normalizes a lookup response into a cacheable identity.
func identityFrom(tool string, response any) *ResolvedIdentity {
	switch tool {
	case planner.ToolPersonByQuery:
		if person := normalize.PersonFrom(response); person != nil && person.ID != "" {
			return &ResolvedIdentity{ID: person.ID, Name: person.Name}
		}
	case planner.ToolOperatorsByFIQL:
		if operator := normalize.OperatorFrom(response); operator != nil && operator.ID != "" {
			return &ResolvedIdentity{ID: operator.ID, Name: operator.Name}
		}
	}
	return nil
}

// =============================================================================
// Placeholder Resolution
// =============================================================================

// payloadHasMarker reports whether any string value in the payload still
// carries the deferred-binding marker.
func payloadHasMarker(payload map[string]any) bool {
	for _, value := range payload {
		if text, ok := value.(string); ok && strings.Contains(text, planner.PlaceholderMarker) {
			return true
		}
	}
	return false
}

// resolvePlaceholder substitutes the caller or operator placeholder clause
// with the ID resolved by an earlier step. When no earlier step produced an
// ID, the sentinel value is substituted so the query matches nothing
// instead of everything.
func resolvePlaceholder(toolCall planner.ToolCall, raw map[string]any, orderedKeys []string) planner.ToolCall {
	fiqlQuery, ok := toolCall.Payload["fiql_query"].(string)
	if !ok {
		return toolCall
	}

	resolved := fiqlQuery
	switch {
	case strings.Contains(fiqlQuery, planner.CallerPlaceholderClause):
		id := priorIdentityID(planner.ToolPersonByQuery, "person", raw, orderedKeys)
		if id == "" {
			id = planner.NotFoundSentinel
		}
		resolved = strings.ReplaceAll(fiqlQuery, planner.CallerPlaceholderClause,
			fmt.Sprintf("caller.id=='%s'", id))

	case strings.Contains(fiqlQuery, planner.OperatorPlaceholderClause):
		id := priorIdentityID(planner.ToolOperatorsByFIQL, "operator", raw, orderedKeys)
		if id == "" {
			id = planner.NotFoundSentinel
		}
		resolved = strings.ReplaceAll(fiqlQuery, planner.OperatorPlaceholderClause,
			fmt.Sprintf("operator.id=='%s'", id))
	}

	payload := make(map[string]any, len(toolCall.Payload))
	for key, value := range toolCall.Payload {
		payload[key] = value
	}
	payload["fiql_query"] = resolved
	return planner.ToolCall{Name: toolCall.Name, Payload: payload}
}

// priorIdentityID scans earlier step responses, in execution order, for the
// first successful lookup of the given kind and returns its normalized ID.
func priorIdentityID(tool, keyword string, raw map[string]any, orderedKeys []string) string {
	for _, key := range orderedKeys {
		if !strings.Contains(key, keyword) {
			continue
		}
		response, ok := raw[key]
		if !ok || responseIsError(response) {
			continue
		}
		if identity := identityFrom(tool, response); identity != nil {
			return identity.ID
		}
	}
	return ""
}

func responseIsError(response any) bool {
	record, ok := response.(map[string]any)
	if !ok {
		return false
	}
	_, hasErr := record["error"]
	return hasErr
}

// =============================================================================
// Normalization and Summaries
// =============================================================================

// normalizeResults walks step responses in execution order and extracts
// normalized incidents plus any resolved person or operator.
func (s *Service) normalizeResults(raw map[string]any, orderedKeys []string) ([]normalize.Incident, *normalize.Person, *normalize.Operator) {
	incidents := make([]normalize.Incident, 0)
	var person *normalize.Person
	var operator *normalize.Operator

	for _, key := range orderedKeys {
		response, ok := raw[key]
		if !ok || responseIsError(response) {
			continue
		}

		switch {
		case strings.Contains(key, "person"):
			if person == nil {
				person = normalize.PersonFrom(response)
			}
		case strings.Contains(key, "operator"):
			if operator == nil {
				operator = normalize.OperatorFrom(response)
			}
		case strings.Contains(key, "incidents"), strings.Contains(key, "search"), strings.Contains(key, "complete"):
			if strings.Contains(key, "complete_incident_overview") {
				// Overview returns a single incident object.
				if record, ok := response.(map[string]any); ok {
					if _, hasID := record["id"]; hasID {
						incidents = append(incidents, normalize.Incidents([]any{response})...)
					}
				}
				continue
			}
			incidents = append(incidents, normalize.Incidents(response)...)
		}
	}

	return incidents, person, operator
}

// phraseSummary picks the summary voice that matches how the plan resolved.
func (s *Service) phraseSummary(incidents []normalize.Incident, person *normalize.Person, operator *normalize.Operator, orderedKeys []string, query string) string {
	switch {
	case person != nil:
		return summarize.PersonLookup(person, incidents, query)
	case operator != nil:
		return summarize.OperatorLookup(operator, incidents, query)
	}

	if len(incidents) == 1 {
		for _, key := range orderedKeys {
			if strings.Contains(key, "complete_incident_overview") {
				return summarize.SingleIncident(incidents[0])
			}
		}
	}
	return summarize.Incidents(incidents, query)
}

// sanitizeRaw scrubs raw tool responses before they leave the service.
func sanitizeRaw(raw map[string]any) map[string]any {
	if scrubbed, ok := normalize.ForLogging(raw, rawSanitizeDepth).(map[string]any); ok {
		return scrubbed
	}
	return map[string]any{}
}
