// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

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

	"github.com/AleutianAI/deskrouter/services/router/config"
	"github.com/AleutianAI/deskrouter/services/router/fiql"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	planBranchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "planner",
		Name:      "branch_total",
		Help:      "Total plans produced by intent branch",
	}, []string{"branch"})

	planLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "router",
		Subsystem: "planner",
		Name:      "latency_seconds",
		Help:      "Query planning latency",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01},
	})

	planWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "planner",
		Name:      "warnings_total",
		Help:      "Total advisory warnings attached to plans",
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var plannerTracer = otel.Tracer("deskrouter.router.planner")

// =============================================================================
// Time-Window Defaults
// =============================================================================

// Default look-back windows, in days, applied when the query carries no
// time constraint. Categories like changes are lower-volume and users
// expect a longer look-back, hence the wider category default.
const (
	defaultTimeWindowDays  = 30
	categoryTimeWindowDays = 60
)

// =============================================================================
// Planner
// =============================================================================

// Planner turns a natural-language ticketing query into a Plan.
//
// Description:
//
//	Runs a fixed set of independent extractors over the lower-cased
//	query, then walks an ordered branch list with first-match-wins
//	semantics: complete-overview, person two-step, operator two-step,
//	category, free-text search, structured filter, clarification. The
//	branch order is a behavioral contract; it resolves ambiguity
//	between overlapping signals.
//
// Thread Safety: Safe for concurrent use (all state is read-only after
// construction; each plan is built from locals only).
type Planner struct {
	ex     *extractors
	logger *slog.Logger
}

// NewPlanner creates a Planner from the embedded rule tables.
func NewPlanner(logger *slog.Logger) (*Planner, error) {
	rules, err := config.GetPlannerRules()
	if err != nil {
		return nil, fmt.Errorf("load planner rules: %w", err)
	}
	return NewPlannerWithRules(rules, logger)
}

// NewPlannerWithRules creates a Planner from explicit rule tables.
func NewPlannerWithRules(rules *config.PlannerRules, logger *slog.Logger) (*Planner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ex, err := newExtractors(rules)
	if err != nil {
		return nil, err
	}
	return &Planner{ex: ex, logger: logger}, nil
}

// PlanQuery plans execution for a natural-language query.
//
// Description:
//
//	The single public planning entry point. Deterministic and
//	stateless across calls; never returns an error for malformed user
//	text, degrading to a clarification plan instead.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	query - Raw user query text.
//	maxResults - Result-count limit forwarded to data-fetch payloads.
//
// Outputs:
//
//	*Plan - The plan. Never nil.
func (p *Planner) PlanQuery(ctx context.Context, query string, maxResults int) *Plan {
	_, span := plannerTracer.Start(ctx, "planner.plan_query")
	defer span.End()

	start := time.Now()
	defer func() {
		planLatency.Observe(time.Since(start).Seconds())
	}()

	normalized := strings.ToLower(strings.TrimSpace(query))

	personName, shortName := p.ex.personName(normalized)
	operatorName := p.ex.operatorName(normalized)
	incidentID := p.ex.incidentID(normalized)
	statusClass := p.ex.statusClass(normalized)
	priorities := p.ex.priorities(normalized)
	category := p.ex.category(normalized)
	timeWindow := p.ex.timeWindowDays(normalized)

	var plan *Plan
	var branch string

	switch {
	case (incidentID != "" || p.ex.looseIncidentID(normalized) != "") && p.ex.wantsOverview(normalized):
		id := incidentID
		if id == "" {
			id = p.ex.looseIncidentID(normalized)
		}
		plan = p.planCompleteIncident(id)
		branch = "complete_overview"
		if plan.NeedsClarification() {
			branch = "invalid_id"
		}

	case personName != "":
		plan = p.planPersonQuery(personName, statusClass, timeWindow, maxResults)
		branch = "person"

	case operatorName != "":
		plan = p.planOperatorQuery(operatorName, statusClass, timeWindow, maxResults)
		branch = "operator"

	case category != "":
		plan = p.planCategoryQuery(category, statusClass, priorities, timeWindow, maxResults)
		branch = "category"

	case p.ex.isSearchQuery(normalized):
		plan = p.planSearchQuery(normalized, timeWindow, maxResults)
		branch = "search"

	case statusClass != "" || priorities != nil || timeWindow != nil || len(strings.Fields(normalized)) > 5:
		plan = p.planFilterQuery(statusClass, priorities, timeWindow, maxResults)
		branch = "filters"

	default:
		plan = p.planClarification(normalized, shortName)
		branch = "clarify"
	}

	planBranchTotal.WithLabelValues(branch).Inc()
	planWarningsTotal.Add(float64(len(plan.Warnings)))
	span.SetAttributes(
		attribute.String("plan.branch", branch),
		attribute.String("plan.intent", plan.Intent),
		attribute.Int("plan.tool_calls", len(plan.ToolCalls)),
	)
	p.logger.DebugContext(ctx, "planned query",
		slog.String("branch", branch),
		slog.String("intent", plan.Intent),
		slog.Int("tool_calls", len(plan.ToolCalls)),
		slog.Int("warnings", len(plan.Warnings)))

	return plan
}

// =============================================================================
// Branch Builders
// =============================================================================

func (p *Planner) planCompleteIncident(incidentID string) *Plan {
	if !ValidIncidentNumber(incidentID) {
		return &Plan{
			Intent:  "Invalid incident ID",
			Clarify: fmt.Sprintf("Invalid incident number format: %s. Expected format: I-YYMMDD-NNN", incidentID),
		}
	}

	return &Plan{
		Intent: fmt.Sprintf("Get complete details for incident %s", incidentID),
		Steps: []Step{{
			Step:      1,
			Action:    fmt.Sprintf("Get complete overview for incident %s", incidentID),
			ToolName:  ToolCompleteIncidentView,
			Reasoning: fmt.Sprintf("Retrieve full details for incident %s", incidentID),
		}},
		ToolCalls: []ToolCall{{
			Name:    ToolCompleteIncidentView,
			Payload: map[string]any{"incident_id": incidentID},
		}},
	}
}

func (p *Planner) planPersonQuery(personName, statusClass string, timeWindow *int, maxResults int) *Plan {
	nameParts := strings.Fields(personName)

	var personFIQL string
	if len(nameParts) >= 2 {
		personFIQL = fiql.BuildPersonQuery(nameParts[0], nameParts[len(nameParts)-1], "")
	} else {
		// Single token: try surname lookup.
		personFIQL = fiql.BuildPersonQuery("", personName, "")
	}

	timeDays := daysOrDefault(timeWindow, defaultTimeWindowDays)
	incidentFIQL := fiql.AndJoin(
		openStatusClause(statusClass),
		fiql.GreaterEqual("creationDate", fiql.DaysAgo(timeDays)),
	)

	var warnings []string
	if len(nameParts) < 2 {
		warnings = append(warnings, fmt.Sprintf("Single name '%s' may match multiple people", personName))
	}

	return &Plan{
		Intent: fmt.Sprintf("Find incidents for person: %s", personName),
		Steps: []Step{
			{
				Step:      1,
				Action:    fmt.Sprintf("Look up person: %s", personName),
				ToolName:  ToolPersonByQuery,
				Reasoning: fmt.Sprintf("Need to find person ID for '%s' to search their incidents", personName),
			},
			{
				Step:      2,
				Action:    fmt.Sprintf("Get incidents for person (last %d days)", timeDays),
				ToolName:  ToolIncidentsByFIQL,
				Reasoning: "Retrieve incidents where caller is the found person, filtered by time and status",
			},
		},
		ToolCalls: []ToolCall{
			{
				Name:    ToolPersonByQuery,
				Payload: map[string]any{"fiql_query": personFIQL},
			},
			{
				// The caller.id clause stays a placeholder until step 1 resolves.
				Name: ToolIncidentsByFIQL,
				Payload: map[string]any{
					"fiql_query": fiql.AndJoin(CallerPlaceholderClause, incidentFIQL),
					"page_size":  maxResults,
				},
			},
		},
		Warnings: warnings,
	}
}

func (p *Planner) planOperatorQuery(operatorName, statusClass string, timeWindow *int, maxResults int) *Plan {
	operatorFIQL := fiql.BuildOperatorQuery(operatorName, true)

	timeDays := daysOrDefault(timeWindow, defaultTimeWindowDays)
	incidentFIQL := fiql.AndJoin(
		openStatusClause(statusClass),
		fiql.GreaterEqual("creationDate", fiql.DaysAgo(timeDays)),
	)

	return &Plan{
		Intent: fmt.Sprintf("Find incidents assigned to operator: %s", operatorName),
		Steps: []Step{
			{
				Step:      1,
				Action:    fmt.Sprintf("Look up operator: %s", operatorName),
				ToolName:  ToolOperatorsByFIQL,
				Reasoning: fmt.Sprintf("Need to find operator ID for '%s' to search assigned incidents", operatorName),
			},
			{
				Step:      2,
				Action:    fmt.Sprintf("Get incidents assigned to operator (last %d days)", timeDays),
				ToolName:  ToolIncidentsByFIQL,
				Reasoning: "Retrieve incidents assigned to the found operator",
			},
		},
		ToolCalls: []ToolCall{
			{
				Name:    ToolOperatorsByFIQL,
				Payload: map[string]any{"fiql_query": operatorFIQL},
			},
			{
				Name: ToolIncidentsByFIQL,
				Payload: map[string]any{
					"fiql_query": fiql.AndJoin(OperatorPlaceholderClause, incidentFIQL),
					"page_size":  maxResults,
				},
			},
		},
	}
}

func (p *Planner) planCategoryQuery(category, statusClass string, priorities []string, timeWindow *int, maxResults int) *Plan {
	timeDays := daysOrDefault(timeWindow, categoryTimeWindowDays)

	parts := []string{
		fiql.Equals("category.name", category),
		openStatusClause(statusClass),
	}
	if len(priorities) > 0 {
		parts = append(parts, fiql.InList("priority.name", priorities))
	}
	parts = append(parts, fiql.GreaterEqual("creationDate", fiql.DaysAgo(timeDays)))

	return &Plan{
		Intent: fmt.Sprintf("Find %s incidents", category),
		Steps: []Step{{
			Step:      1,
			Action:    fmt.Sprintf("Get %s incidents (last %d days)", category, timeDays),
			ToolName:  ToolIncidentsByFIQL,
			Reasoning: fmt.Sprintf("Search for incidents in %s category with specified filters", category),
		}},
		ToolCalls: []ToolCall{{
			Name: ToolIncidentsByFIQL,
			Payload: map[string]any{
				"fiql_query": fiql.AndJoin(parts...),
				"page_size":  maxResults,
			},
		}},
	}
}

func (p *Planner) planSearchQuery(query string, timeWindow *int, maxResults int) *Plan {
	var warnings []string
	if timeWindow != nil {
		// The search tool carries no time filter in its payload.
		warnings = append(warnings, fmt.Sprintf("Time filter of %d days may not be applied to search results", *timeWindow))
	}

	return &Plan{
		Intent: fmt.Sprintf("Search for: %s", query),
		Steps: []Step{{
			Step:      1,
			Action:    fmt.Sprintf("Search for: %s", query),
			ToolName:  ToolSearch,
			Reasoning: "Simple text search across incident data",
		}},
		ToolCalls: []ToolCall{{
			Name: ToolSearch,
			Payload: map[string]any{
				"query":       query,
				"max_results": maxResults,
			},
		}},
		Warnings: warnings,
	}
}

func (p *Planner) planFilterQuery(statusClass string, priorities []string, timeWindow *int, maxResults int) *Plan {
	timeDays := daysOrDefault(timeWindow, defaultTimeWindowDays)

	parts := []string{openStatusClause(statusClass)}
	if len(priorities) > 0 {
		parts = append(parts, fiql.InList("priority.name", priorities))
	}
	// The date lower bound is always present on this path.
	parts = append(parts, fiql.GreaterEqual("creationDate", fiql.DaysAgo(timeDays)))

	return &Plan{
		Intent: "Find incidents matching filters",
		Steps: []Step{{
			Step:      1,
			Action:    fmt.Sprintf("Query incidents with filters (last %d days)", timeDays),
			ToolName:  ToolIncidentsByFIQL,
			Reasoning: "Use FIQL to filter incidents by status, priority, and time",
		}},
		ToolCalls: []ToolCall{{
			Name: ToolIncidentsByFIQL,
			Payload: map[string]any{
				"fiql_query": fiql.AndJoin(parts...),
				"page_size":  maxResults,
			},
		}},
	}
}

func (p *Planner) planClarification(query, shortName string) *Plan {
	var b strings.Builder
	b.WriteString("Your query is ambiguous. Please specify:\n")

	if shortName != "" {
		b.WriteString("- The full name of the person you're asking about\n")
	}
	if strings.Contains(query, "ticket") || strings.Contains(query, "incident") {
		b.WriteString("- Whether you want open/closed incidents\n")
		b.WriteString("- The time period you're interested in\n")
	}
	b.WriteString("- What specific information you need")

	return &Plan{
		Intent:  "Clarification needed",
		Clarify: b.String(),
	}
}

// =============================================================================
// Helpers
// =============================================================================

func daysOrDefault(timeWindow *int, fallback int) int {
	if timeWindow != nil {
		return *timeWindow
	}
	return fallback
}

// openStatusClause excludes closed incidents when the detected status
// class is "open". A "closed" class adds no clause; closed incidents
// are part of every unfiltered result set already.
func openStatusClause(statusClass string) string {
	if statusClass == "open" {
		return fiql.NotEquals("status", "Closed")
	}
	return ""
}
