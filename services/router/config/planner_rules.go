// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Planner Rules
// =============================================================================

//go:embed planner_rules.yaml
var defaultPlannerRulesYAML []byte

// =============================================================================
// Planner Rule Types
// =============================================================================

// PlannerRules holds every ordered pattern table the query planner
// evaluates. Pattern lists are evaluated top to bottom, first accepted
// match wins; the order within each list is part of the planner's
// behavioral contract.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type PlannerRules struct {
	Person           PersonRules     `yaml:"person"`
	Operator         OperatorRules   `yaml:"operator"`
	IncidentID       IncidentIDRules `yaml:"incident_id"`
	Status           StatusRules     `yaml:"status"`
	Priority         PriorityRules   `yaml:"priority"`
	Category         CategoryRules   `yaml:"category"`
	Time             TimeRules       `yaml:"time"`
	Search           SearchRules     `yaml:"search"`
	OverviewKeywords []string        `yaml:"overview_keywords"`
}

// PersonPattern is one person-name extraction rule.
type PersonPattern struct {
	// Pattern is a regex with the candidate name in capture group 1.
	Pattern string `yaml:"pattern"`

	// MinNameTokens is the minimum token count the captured name must
	// have for this pattern to accept it. Patterns whose surrounding
	// phrasing is itself a structural cue (possessive, "user X") allow
	// single tokens; a bare preposition form does not.
	MinNameTokens int `yaml:"min_name_tokens"`
}

// PersonRules configures person-name extraction.
type PersonRules struct {
	Patterns      []PersonPattern `yaml:"patterns"`
	MaxNameTokens int             `yaml:"max_name_tokens"`
	StopWords     []string        `yaml:"stop_words"`
}

// OperatorRules configures operator-name extraction.
type OperatorRules struct {
	Patterns  []string `yaml:"patterns"`
	StopWords []string `yaml:"stop_words"`
}

// IncidentIDRules configures incident-identifier extraction. Strict
// patterns only match well-formed identifiers; loose patterns catch
// id-like tokens after "incident"/"ticket" so malformed identifiers can
// be answered with a format hint.
type IncidentIDRules struct {
	Patterns       []string `yaml:"patterns"`
	LoosePatterns  []string `yaml:"loose_patterns"`
	LooseStopWords []string `yaml:"loose_stop_words"`
}

// StatusRules configures status-class extraction.
type StatusRules struct {
	Patterns []string `yaml:"patterns"`

	// OpenKeywords trigger the looser "probably open" scan when no
	// explicit status pattern matched.
	OpenKeywords []string `yaml:"open_keywords"`
}

// PriorityRules configures priority extraction.
type PriorityRules struct {
	Patterns []string `yaml:"patterns"`
}

// CategoryRules configures category extraction.
type CategoryRules struct {
	Patterns []string `yaml:"patterns"`
}

// TimePattern is one time-window extraction rule. Kind selects how the
// match converts to a day count:
//
//	count_unit - capture groups (N, unit); days = N x {1, 7, 30}.
//	fixed      - no groups needed; days = Days.
//	unit       - capture group (week|month); days = WeekDays or MonthDays.
type TimePattern struct {
	Pattern   string `yaml:"pattern"`
	Kind      string `yaml:"kind"`
	Days      int    `yaml:"days"`
	WeekDays  int    `yaml:"week_days"`
	MonthDays int    `yaml:"month_days"`
}

// TimeRules configures time-window extraction.
type TimeRules struct {
	Patterns []TimePattern `yaml:"patterns"`
}

// SearchRules configures the search-vs-structured heuristic.
type SearchRules struct {
	Verbs          []string `yaml:"verbs"`
	FilterKeywords []string `yaml:"filter_keywords"`
	TechnicalTerms []string `yaml:"technical_terms"`
	MaxShortTokens int      `yaml:"max_short_tokens"`
}

// =============================================================================
// Loading
// =============================================================================

var (
	plannerRulesOnce   sync.Once
	cachedPlannerRules *PlannerRules
	plannerRulesErr    error
	plannerRulesMu     sync.Mutex
)

// GetPlannerRules returns the embedded default rule tables, loading and
// validating them exactly once per process.
func GetPlannerRules() (*PlannerRules, error) {
	plannerRulesOnce.Do(func() {
		cachedPlannerRules, plannerRulesErr = LoadPlannerRules(defaultPlannerRulesYAML)
	})
	plannerRulesMu.Lock()
	defer plannerRulesMu.Unlock()
	return cachedPlannerRules, plannerRulesErr
}

// ResetPlannerRules clears the cached rules. Test helper only.
func ResetPlannerRules() {
	plannerRulesMu.Lock()
	defer plannerRulesMu.Unlock()
	plannerRulesOnce = sync.Once{}
	cachedPlannerRules = nil
	plannerRulesErr = nil
}

// LoadPlannerRules parses and validates a rule table document.
//
// Outputs:
//
//	*PlannerRules - The parsed rules. Every pattern is guaranteed to be
//	a valid regex with at least one capture group where one is required.
//	error - Non-nil on YAML errors or invalid patterns.
func LoadPlannerRules(data []byte) (*PlannerRules, error) {
	var rules PlannerRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse planner rules: %w", err)
	}
	if err := validatePlannerRules(&rules); err != nil {
		return nil, fmt.Errorf("validate planner rules: %w", err)
	}
	return &rules, nil
}

func validatePlannerRules(rules *PlannerRules) error {
	checkGroup := func(kind, pattern string) error {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%s pattern %q: %w", kind, pattern, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("%s pattern %q: needs a capture group", kind, pattern)
		}
		return nil
	}
	if len(rules.Person.Patterns) == 0 {
		return fmt.Errorf("person rules: at least one pattern required")
	}
	for _, p := range rules.Person.Patterns {
		if err := checkGroup("person", p.Pattern); err != nil {
			return err
		}
	}
	if rules.Person.MaxNameTokens <= 0 {
		return fmt.Errorf("person rules: max_name_tokens must be positive")
	}

	for _, p := range rules.Operator.Patterns {
		if err := checkGroup("operator", p); err != nil {
			return err
		}
	}
	for _, p := range rules.IncidentID.Patterns {
		if err := checkGroup("incident_id", p); err != nil {
			return err
		}
	}
	for _, p := range rules.IncidentID.LoosePatterns {
		if err := checkGroup("incident_id loose", p); err != nil {
			return err
		}
	}
	for _, p := range rules.Status.Patterns {
		if err := checkGroup("status", p); err != nil {
			return err
		}
	}
	for _, p := range rules.Priority.Patterns {
		if err := checkGroup("priority", p); err != nil {
			return err
		}
	}
	for _, p := range rules.Category.Patterns {
		if err := checkGroup("category", p); err != nil {
			return err
		}
	}
	for _, p := range rules.Time.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("time pattern %q: %w", p.Pattern, err)
		}
		switch p.Kind {
		case "count_unit":
			if re.NumSubexp() < 2 {
				return fmt.Errorf("time pattern %q: count_unit needs two capture groups", p.Pattern)
			}
		case "fixed":
			if p.Days <= 0 {
				return fmt.Errorf("time pattern %q: fixed needs a positive days value", p.Pattern)
			}
		case "unit":
			if re.NumSubexp() < 1 {
				return fmt.Errorf("time pattern %q: unit needs a capture group", p.Pattern)
			}
			if p.WeekDays <= 0 || p.MonthDays <= 0 {
				return fmt.Errorf("time pattern %q: unit needs week_days and month_days", p.Pattern)
			}
		default:
			return fmt.Errorf("time pattern %q: unknown kind %q", p.Pattern, p.Kind)
		}
	}
	if rules.Search.MaxShortTokens <= 0 {
		return fmt.Errorf("search rules: max_short_tokens must be positive")
	}
	if len(rules.OverviewKeywords) == 0 {
		return fmt.Errorf("overview_keywords must not be empty")
	}
	return nil
}
