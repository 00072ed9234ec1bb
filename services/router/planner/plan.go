// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner maps free-text ticketing queries onto deterministic
// execution plans: an intent label, an ordered list of backend tool
// calls, advisory warnings, or a clarification request when intent
// cannot be determined confidently.
package planner

import "regexp"

// =============================================================================
// Tool Allow-List
// =============================================================================

// The five backend tools a plan may reference. The tool client treats
// this set as an allow-list; a plan must never name anything else.
const (
	ToolSearch               = "search"
	ToolIncidentsByFIQL      = "topdesk_get_incidents_by_fiql_query"
	ToolPersonByQuery        = "topdesk_get_person_by_query"
	ToolOperatorsByFIQL      = "topdesk_get_operators_by_fiql_query"
	ToolCompleteIncidentView = "topdesk_get_complete_incident_overview"
)

// AllowedTools returns the fixed set of tool names plans may reference.
func AllowedTools() []string {
	return []string{
		ToolSearch,
		ToolIncidentsByFIQL,
		ToolPersonByQuery,
		ToolOperatorsByFIQL,
		ToolCompleteIncidentView,
	}
}

// =============================================================================
// Deferred-Binding Placeholders
// =============================================================================

// PlaceholderMarker is the literal substring embedded in a fiql_query
// payload value when the identifier it filters on is only known after a
// prior lookup step resolves. The executor must erase every occurrence
// before a call reaches the tool client, substituting either the
// resolved identifier or NotFoundSentinel.
const PlaceholderMarker = "PLACEHOLDER"

// Placeholder clauses are prepended verbatim as the first clause of the
// second step's AND chain in two-step plans.
const (
	CallerPlaceholderClause   = "caller.id==" + PlaceholderMarker
	OperatorPlaceholderClause = "operator.id==" + PlaceholderMarker
)

// NotFoundSentinel is substituted for the marker when the lookup step
// resolved nothing. It is a deliberately-impossible identifier: the
// backend returns a well-typed empty result set instead of erroring.
const NotFoundSentinel = "NOTFOUND"

// =============================================================================
// Plan Types
// =============================================================================

// Step is one human-readable line of a plan. Steps are explanatory
// only; ToolCalls order is the executable contract, though the two are
// kept in lockstep one-to-one.
type Step struct {
	Step      int    `json:"step"`
	Action    string `json:"action"`
	ToolName  string `json:"tool_name,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ToolCall is one named, payload-bearing backend invocation.
type ToolCall struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// Plan is the planner's sole output.
//
// Description:
//
//	Either an executable plan (ToolCalls non-empty, Clarify empty) or a
//	clarification request (Clarify set, Steps and ToolCalls empty).
//	The two states are mutually exclusive. Warnings are advisory and
//	never block execution.
//
// Thread Safety: Immutable after construction.
type Plan struct {
	Intent    string     `json:"intent"`
	Steps     []Step     `json:"steps"`
	ToolCalls []ToolCall `json:"tool_calls"`
	Clarify   string     `json:"clarify,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// NeedsClarification reports whether the plan short-circuits execution.
func (p *Plan) NeedsClarification() bool {
	return p.Clarify != ""
}

// =============================================================================
// Incident Identifier Validation
// =============================================================================

var incidentNumberRe = regexp.MustCompile(`^I-\d{6}-\d{3}$`)

// ValidIncidentNumber reports whether id has the strict incident
// identifier format I-YYMMDD-NNN.
func ValidIncidentNumber(id string) bool {
	return incidentNumberRe.MatchString(id)
}
