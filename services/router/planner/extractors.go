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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/deskrouter/services/router/config"
)

// =============================================================================
// Compiled Rule Tables
// =============================================================================

// compiledPersonPattern pairs a person-name regex with the minimum
// token count it will accept for the captured name.
type compiledPersonPattern struct {
	re            *regexp.Regexp
	minNameTokens int
}

// compiledTimePattern carries a time regex plus its day-count semantics.
type compiledTimePattern struct {
	re        *regexp.Regexp
	kind      string
	days      int
	weekDays  int
	monthDays int
}

// extractors holds every pre-compiled pattern table. All extraction
// runs against the lower-cased, trimmed query; each extractor returns
// its zero value on no match and never fails. Pattern lists are
// evaluated in order with first-accepted-match-wins semantics.
//
// Thread Safety: Read-only after construction; safe for concurrent use.
type extractors struct {
	personPatterns  []compiledPersonPattern
	personMaxTokens int
	personStopWords map[string]struct{}

	operatorPatterns  []*regexp.Regexp
	operatorStopWords map[string]struct{}

	incidentIDPatterns    []*regexp.Regexp
	incidentLoosePatterns []*regexp.Regexp
	incidentLooseStop     map[string]struct{}

	statusPatterns []*regexp.Regexp
	openKeywords   []string

	priorityPatterns []*regexp.Regexp
	categoryPatterns []*regexp.Regexp
	timePatterns     []compiledTimePattern

	searchVerbs      []string
	filterKeywords   map[string]struct{}
	technicalTerms   []string
	maxShortTokens   int
	overviewKeywords []string
}

// validNameRe is the loose name-shape check applied after pattern
// extraction: letters, spaces, hyphen, apostrophe, period.
var validNameRe = regexp.MustCompile(`^[a-z][a-z\s\-'.]*$`)

func newExtractors(rules *config.PlannerRules) (*extractors, error) {
	ex := &extractors{
		personMaxTokens:   rules.Person.MaxNameTokens,
		personStopWords:   toSet(rules.Person.StopWords),
		operatorStopWords: toSet(rules.Operator.StopWords),
		incidentLooseStop: toSet(rules.IncidentID.LooseStopWords),
		openKeywords:      rules.Status.OpenKeywords,
		searchVerbs:       rules.Search.Verbs,
		filterKeywords:    toSet(rules.Search.FilterKeywords),
		technicalTerms:    rules.Search.TechnicalTerms,
		maxShortTokens:    rules.Search.MaxShortTokens,
		overviewKeywords:  rules.OverviewKeywords,
	}

	for _, p := range rules.Person.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile person pattern %q: %w", p.Pattern, err)
		}
		ex.personPatterns = append(ex.personPatterns, compiledPersonPattern{
			re:            re,
			minNameTokens: p.MinNameTokens,
		})
	}

	var err error
	if ex.operatorPatterns, err = compileAll(rules.Operator.Patterns); err != nil {
		return nil, err
	}
	if ex.incidentIDPatterns, err = compileAll(rules.IncidentID.Patterns); err != nil {
		return nil, err
	}
	if ex.incidentLoosePatterns, err = compileAll(rules.IncidentID.LoosePatterns); err != nil {
		return nil, err
	}
	if ex.statusPatterns, err = compileAll(rules.Status.Patterns); err != nil {
		return nil, err
	}
	if ex.priorityPatterns, err = compileAll(rules.Priority.Patterns); err != nil {
		return nil, err
	}
	if ex.categoryPatterns, err = compileAll(rules.Category.Patterns); err != nil {
		return nil, err
	}

	for _, p := range rules.Time.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile time pattern %q: %w", p.Pattern, err)
		}
		ex.timePatterns = append(ex.timePatterns, compiledTimePattern{
			re:        re,
			kind:      p.Kind,
			days:      p.Days,
			weekDays:  p.WeekDays,
			monthDays: p.MonthDays,
		})
	}

	return ex, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// =============================================================================
// Person / Operator Extraction
// =============================================================================

// personName extracts a person name from the query. The second return
// value is a candidate that matched a pattern but was rejected for
// having too few tokens; the clarification branch uses it to hint that
// a full name is needed.
func (ex *extractors) personName(query string) (name, shortCandidate string) {
	for _, p := range ex.personPatterns {
		m := p.re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		if _, stop := ex.personStopWords[candidate]; stop {
			continue
		}
		if !validNameRe.MatchString(candidate) || len(candidate) < 2 || len(candidate) > 50 {
			continue
		}
		tokens := len(strings.Fields(candidate))
		if tokens > ex.personMaxTokens {
			continue
		}
		if tokens < p.minNameTokens {
			if shortCandidate == "" {
				shortCandidate = candidate
			}
			continue
		}
		return candidate, ""
	}
	return "", shortCandidate
}

func (ex *extractors) operatorName(query string) string {
	for _, re := range ex.operatorPatterns {
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		if _, stop := ex.operatorStopWords[candidate]; stop {
			continue
		}
		return candidate
	}
	return ""
}

// =============================================================================
// Incident Identifier Extraction
// =============================================================================

// incidentID extracts a strictly-formatted incident identifier,
// upper-cased to the canonical I-YYMMDD-NNN form.
func (ex *extractors) incidentID(query string) string {
	for _, re := range ex.incidentIDPatterns {
		if m := re.FindStringSubmatch(query); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// looseIncidentID extracts an id-like token following "incident" or
// "ticket" that failed the strict format. Common prose continuations
// ("ticket for ...", "incident that ...") are stop-listed so they do
// not register as malformed identifiers.
func (ex *extractors) looseIncidentID(query string) string {
	for _, re := range ex.incidentLoosePatterns {
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		candidate := m[1]
		if _, stop := ex.incidentLooseStop[candidate]; stop {
			continue
		}
		return strings.ToUpper(candidate)
	}
	return ""
}

// =============================================================================
// Filter Extraction
// =============================================================================

// statusClass returns "open", "closed", or "". Explicit pattern matches
// win; failing those, open-leaning keywords anywhere in the query still
// yield "open". There is no keyword fallback for "closed".
func (ex *extractors) statusClass(query string) string {
	for _, re := range ex.statusPatterns {
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		switch m[1] {
		case "open", "new", "pending":
			return "open"
		case "closed", "resolved":
			return "closed"
		}
	}
	for _, kw := range ex.openKeywords {
		if strings.Contains(query, kw) {
			return "open"
		}
	}
	return ""
}

// priorities returns the canonical priority labels mentioned in the
// query, or nil when none were mentioned. Nil and empty are distinct:
// callers must treat nil as "not specified".
func (ex *extractors) priorities(query string) []string {
	var out []string
	for _, re := range ex.priorityPatterns {
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		switch m[1] {
		case "critical", "urgent":
			out = append(out, "Critical")
		case "high":
			out = append(out, "High")
		case "medium":
			out = append(out, "Medium")
		case "low":
			out = append(out, "Low")
		}
	}
	return out
}

// category returns "Change" when the query mentions changes or RFCs,
// otherwise "". No other category label is ever produced; the generic
// "category: X" pattern is only honored when X itself names a change.
func (ex *extractors) category(query string) string {
	for _, re := range ex.categoryPatterns {
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		captured := strings.ToLower(m[1])
		if strings.Contains(captured, "change") || strings.Contains(captured, "rfc") {
			return "Change"
		}
	}
	return ""
}

// timeWindowDays returns the detected look-back window in days, or nil
// when the query carries no time constraint. Callers apply contextual
// defaults, not this extractor.
func (ex *extractors) timeWindowDays(query string) *int {
	for _, p := range ex.timePatterns {
		m := p.re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		switch p.kind {
		case "fixed":
			return intPtr(p.days)
		case "unit":
			if strings.HasPrefix(m[1], "week") {
				return intPtr(p.weekDays)
			}
			return intPtr(p.monthDays)
		case "count_unit":
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(m[2], "day"):
				return intPtr(n)
			case strings.HasPrefix(m[2], "week"):
				return intPtr(n * 7)
			case strings.HasPrefix(m[2], "month"):
				return intPtr(n * 30)
			}
		}
	}
	return nil
}

func intPtr(n int) *int {
	return &n
}

// =============================================================================
// Search / Overview Heuristics
// =============================================================================

// isSearchQuery classifies queries better served by free-text search
// than by a structured filter. A short query only counts when it also
// lacks structured-filter keywords; search verbs and incident-domain
// technical vocabulary count on their own.
func (ex *extractors) isSearchQuery(query string) bool {
	tokens := strings.Fields(query)
	if len(tokens) <= ex.maxShortTokens {
		hasFilterWord := false
		for _, t := range tokens {
			if _, ok := ex.filterKeywords[t]; ok {
				hasFilterWord = true
				break
			}
		}
		if !hasFilterWord {
			return true
		}
	}
	for _, verb := range ex.searchVerbs {
		if strings.Contains(query, verb) {
			return true
		}
	}
	for _, term := range ex.technicalTerms {
		if strings.Contains(query, term) {
			return true
		}
	}
	return false
}

func (ex *extractors) wantsOverview(query string) bool {
	for _, kw := range ex.overviewKeywords {
		if strings.Contains(query, kw) {
			return true
		}
	}
	return false
}
