// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package summarize renders normalized results into short
// natural-language answers. Output is templated text, not generation;
// every phrase is deterministic for a given input.
package summarize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/deskrouter/services/router/normalize"
)

// EmptyResultSummary is the exact text returned whenever zero incidents
// survive normalization. Callers and tests rely on it verbatim.
const EmptyResultSummary = "No incidents found matching your query."

// =============================================================================
// Incident List Summaries
// =============================================================================

// Incidents produces a one-line summary of an incident list: count,
// status breakdown, high-priority count, assignment distribution, and
// caller/time context derived from the original query.
func Incidents(incidents []normalize.Incident, originalQuery string) string {
	if len(incidents) == 0 {
		return EmptyResultSummary
	}

	count := len(incidents)
	queryLower := strings.ToLower(originalQuery)

	statusCounts := countBy(incidents, func(i normalize.Incident) string { return i.Status })
	priorityCounts := countBy(incidents, func(i normalize.Incident) string { return i.Priority })
	operatorCounts := countBy(incidents, func(i normalize.Incident) string { return i.Operator })
	callerCounts := countBy(incidents, func(i normalize.Incident) string { return i.Caller })

	var parts []string
	if count == 1 {
		parts = append(parts, "Found 1 incident")
	} else {
		parts = append(parts, fmt.Sprintf("Found %d incidents", count))
	}

	if info := formatCounts(statusCounts, 3); info != "" {
		parts = append(parts, info)
	}

	highPriority := 0
	for priority, n := range priorityCounts {
		switch strings.ToLower(priority) {
		case "high", "critical", "urgent":
			highPriority += n
		}
	}
	if highPriority == 1 {
		parts = append(parts, "1 high priority")
	} else if highPriority > 1 {
		parts = append(parts, fmt.Sprintf("%d high priority", highPriority))
	}

	if len(operatorCounts) > 0 {
		assigned := 0
		for _, n := range operatorCounts {
			assigned += n
		}
		if assigned == 1 {
			parts = append(parts, "1 assigned")
		} else if assigned > 1 {
			parts = append(parts, fmt.Sprintf("%d assigned", assigned))
		}

		topOperator, topCount := mostCommon(operatorCounts)
		if topCount > 1 && topOperator != "" {
			parts = append(parts, fmt.Sprintf("%d to %s", topCount, formatName(topOperator)))
		}
	}

	// Caller context only when the query itself named the single caller.
	if len(callerCounts) == 1 {
		for caller := range callerCounts {
			if caller != "" && strings.Contains(queryLower, strings.ToLower(caller)) {
				parts = append(parts, "for "+formatName(caller))
			}
		}
	}

	if strings.Contains(queryLower, "recent") || strings.Contains(queryLower, "last") ||
		strings.Contains(queryLower, "today") || strings.Contains(queryLower, "yesterday") {
		parts = append(parts, "(recent)")
	}

	var summary string
	if len(parts) <= 2 {
		summary = strings.Join(parts, " ")
	} else {
		summary = strings.Join(parts, ", ")
	}
	if !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	return summary
}

// formatCounts renders a count map: "all Open" when uniform, otherwise
// the top entries as "N Status" with an "M others" tail past topN.
func formatCounts(counts map[string]int, topN int) string {
	if len(counts) == 0 {
		return ""
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	ordered := orderedCounts(counts)
	if len(ordered) > topN {
		ordered = ordered[:topN]
	}

	if len(ordered) == 1 {
		if ordered[0].n == total {
			return fmt.Sprintf("all %s", ordered[0].key)
		}
		return fmt.Sprintf("%d %s", ordered[0].n, ordered[0].key)
	}

	var parts []string
	for _, e := range ordered {
		if e.key != "" {
			parts = append(parts, fmt.Sprintf("%d %s", e.n, e.key))
		}
	}
	if len(parts) <= 3 {
		return strings.Join(parts, ", ")
	}
	remaining := len(parts) - 2
	return fmt.Sprintf("%s, %d others", strings.Join(parts[:2], ", "), remaining)
}

type countEntry struct {
	key string
	n   int
}

// orderedCounts sorts by count descending, ties alphabetically, so
// summaries are stable across runs.
func orderedCounts(counts map[string]int) []countEntry {
	out := make([]countEntry, 0, len(counts))
	for k, n := range counts {
		out = append(out, countEntry{key: k, n: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	return out
}

func countBy(incidents []normalize.Incident, field func(normalize.Incident) string) map[string]int {
	counts := make(map[string]int)
	for _, inc := range incidents {
		if v := field(inc); v != "" {
			counts[v]++
		}
	}
	return counts
}

func mostCommon(counts map[string]int) (string, int) {
	ordered := orderedCounts(counts)
	if len(ordered) == 0 {
		return "", 0
	}
	return ordered[0].key, ordered[0].n
}

// formatName collapses a multi-token name to first and last token.
func formatName(name string) string {
	parts := strings.Fields(name)
	if len(parts) > 2 {
		return parts[0] + " " + parts[len(parts)-1]
	}
	return strings.TrimSpace(name)
}

// =============================================================================
// Single Incident Summary
// =============================================================================

// SingleIncident renders a detailed one-liner for a complete-overview
// result.
func SingleIncident(inc normalize.Incident) string {
	var b strings.Builder

	if inc.Number != "" {
		fmt.Fprintf(&b, "Incident %s", inc.Number)
	} else {
		b.WriteString("Incident")
	}

	if inc.Title != "" {
		title := inc.Title
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		b.WriteString(": " + title)
	}

	var statusInfo []string
	if inc.Status != "" {
		statusInfo = append(statusInfo, inc.Status)
	}
	if len(inc.CreatedAt) >= 10 {
		statusInfo = append(statusInfo, "created "+inc.CreatedAt[:10])
	}
	if len(statusInfo) > 0 {
		b.WriteString(" (" + strings.Join(statusInfo, ", ") + ")")
	}

	if inc.Priority != "" {
		b.WriteString(", Priority: " + inc.Priority)
	}

	switch {
	case inc.Operator != "":
		b.WriteString(", Assigned to: " + formatName(inc.Operator))
	case inc.OperatorGroup != "":
		b.WriteString(", Assigned to: " + inc.OperatorGroup)
	default:
		b.WriteString(", Unassigned")
	}

	if inc.Caller != "" {
		b.WriteString(", Caller: " + formatName(inc.Caller))
	}

	return b.String()
}

// =============================================================================
// Lookup Summaries
// =============================================================================

var foundPrefixRe = regexp.MustCompile(`^Found (\d+) incident(s?)`)

// PersonLookup summarizes a resolved person together with their
// incidents, rephrasing the generic count around the person.
func PersonLookup(person *normalize.Person, incidents []normalize.Incident, originalQuery string) string {
	if person == nil {
		return "Person not found. " + Incidents(incidents, originalQuery)
	}

	name := person.Name
	if name == "" {
		name = "Unknown person"
	}

	if len(incidents) == 0 {
		return fmt.Sprintf("Found %s but no incidents match your criteria.", name)
	}

	return rephraseAroundEntity(name+" has", Incidents(incidents, originalQuery), name)
}

// OperatorLookup summarizes a resolved operator together with their
// assigned incidents.
func OperatorLookup(operator *normalize.Operator, incidents []normalize.Incident, originalQuery string) string {
	if operator == nil {
		return "Operator not found. " + Incidents(incidents, originalQuery)
	}

	name := operator.Name
	if name == "" {
		name = "Unknown operator"
	}

	if len(incidents) == 0 {
		return fmt.Sprintf("Found %s but no assigned incidents match your criteria.", name)
	}

	return rephraseAroundEntity(name+" is assigned", Incidents(incidents, originalQuery), name)
}

// rephraseAroundEntity swaps the generic "Found N incidents" opener for
// an entity-centric one, keeping the rest of the summary intact.
func rephraseAroundEntity(opener, summary, name string) string {
	m := foundPrefixRe.FindStringSubmatch(summary)
	if m == nil {
		return name + ": " + summary
	}
	rest := summary[len(m[0]):]
	return fmt.Sprintf("%s %s incident%s%s", opener, m[1], m[2], rest)
}

// =============================================================================
// Error Summaries
// =============================================================================

// ErrorSummary classifies a technical error message into a short
// user-facing explanation. Classification is by substring; the raw
// message never reaches the user.
func ErrorSummary(errMsg, query string) string {
	errLower := strings.ToLower(errMsg)
	queryLower := strings.ToLower(query)

	switch {
	case strings.Contains(errLower, "timeout"):
		return "The request took too long to complete. Please try again or refine your query."

	case strings.Contains(errLower, "circuit") && strings.Contains(errLower, "open"):
		return "The ticketing service is currently unavailable. Please try again in a few minutes."

	case strings.Contains(errLower, "rate limit"):
		return "Too many requests. Please wait a moment before trying again."

	case strings.Contains(errLower, "not found"):
		if containsAnyWord(queryLower, "person", "user", "caller") {
			return "The person you're looking for was not found. Please check the name spelling."
		}
		if containsAnyWord(queryLower, "operator", "technician") {
			return "The operator you're looking for was not found. Please check the name spelling."
		}
		return "The requested information was not found."

	case strings.Contains(errLower, "invalid"):
		return "Your query contains invalid parameters. Please check your input and try again."

	case strings.Contains(errLower, "permission"), strings.Contains(errLower, "unauthorized"):
		return "Access denied. You may not have permission to view this information."

	default:
		return "An error occurred while processing your request. Please try again or contact support."
	}
}

func containsAnyWord(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
