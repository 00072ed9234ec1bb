// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package summarize

import (
	"strings"
	"testing"

	"github.com/AleutianAI/deskrouter/services/router/normalize"
)

func TestIncidentsEmpty(t *testing.T) {
	if got := Incidents(nil, "anything"); got != "No incidents found matching your query." {
		t.Errorf("empty summary = %q", got)
	}
	if got := Incidents([]normalize.Incident{}, ""); got != EmptyResultSummary {
		t.Errorf("empty summary = %q", got)
	}
}

func TestIncidentsUniformStatus(t *testing.T) {
	incidents := []normalize.Incident{
		{ID: "1", Status: "Open"},
		{ID: "2", Status: "Open"},
		{ID: "3", Status: "Open"},
	}
	got := Incidents(incidents, "")
	if !strings.HasPrefix(got, "Found 3 incidents") {
		t.Errorf("summary = %q", got)
	}
	if !strings.Contains(got, "all Open") {
		t.Errorf("expected uniform status phrase in %q", got)
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("summary must end with a period: %q", got)
	}
}

func TestIncidentsHighPriorityAndAssignment(t *testing.T) {
	incidents := []normalize.Incident{
		{ID: "1", Status: "Open", Priority: "Critical", Operator: "Jane Smith"},
		{ID: "2", Status: "Open", Priority: "High", Operator: "Jane Smith"},
		{ID: "3", Status: "Closed", Priority: "Low"},
	}
	got := Incidents(incidents, "")
	if !strings.Contains(got, "2 high priority") {
		t.Errorf("expected high-priority count in %q", got)
	}
	if !strings.Contains(got, "2 assigned") {
		t.Errorf("expected assignment count in %q", got)
	}
	if !strings.Contains(got, "2 to Jane Smith") {
		t.Errorf("expected top-operator mention in %q", got)
	}
}

func TestIncidentsRecentContext(t *testing.T) {
	incidents := []normalize.Incident{{ID: "1", Status: "Open"}}
	got := Incidents(incidents, "tickets from last week")
	if !strings.Contains(got, "(recent)") {
		t.Errorf("expected recency marker in %q", got)
	}
}

func TestSingleIncident(t *testing.T) {
	inc := normalize.Incident{
		Number:    "I-240101-001",
		Title:     "Printer on fire",
		Status:    "Open",
		CreatedAt: "2024-01-15 09:30:00",
		Priority:  "High",
		Operator:  "Jane Elizabeth Smith",
		Caller:    "John Doe",
	}
	got := SingleIncident(inc)

	want := "Incident I-240101-001: Printer on fire (Open, created 2024-01-15), Priority: High, Assigned to: Jane Smith, Caller: John Doe"
	if got != want {
		t.Errorf("SingleIncident =\n  %q\nwant\n  %q", got, want)
	}
}

func TestSingleIncidentUnassigned(t *testing.T) {
	got := SingleIncident(normalize.Incident{Number: "I-1", Status: "Open"})
	if !strings.Contains(got, ", Unassigned") {
		t.Errorf("expected Unassigned in %q", got)
	}

	long := strings.Repeat("t", 60)
	got = SingleIncident(normalize.Incident{Number: "I-2", Title: long})
	if !strings.Contains(got, long[:47]+"...") {
		t.Errorf("expected truncated title in %q", got)
	}
}

func TestPersonLookup(t *testing.T) {
	person := &normalize.Person{ID: "p1", Name: "John Doe"}

	got := PersonLookup(person, nil, "tickets for john doe")
	if got != "Found John Doe but no incidents match your criteria." {
		t.Errorf("no-incident summary = %q", got)
	}

	incidents := []normalize.Incident{
		{ID: "1", Status: "Open"},
		{ID: "2", Status: "Open"},
	}
	got = PersonLookup(person, incidents, "tickets for john doe")
	if !strings.HasPrefix(got, "John Doe has 2 incidents") {
		t.Errorf("person summary = %q", got)
	}
	if strings.Contains(got, "incidents incidents") {
		t.Errorf("duplicated noun in %q", got)
	}

	got = PersonLookup(nil, incidents, "")
	if !strings.HasPrefix(got, "Person not found. Found 2 incidents") {
		t.Errorf("missing-person summary = %q", got)
	}
}

func TestOperatorLookup(t *testing.T) {
	operator := &normalize.Operator{ID: "o1", Name: "Jane Smith"}

	got := OperatorLookup(operator, nil, "")
	if got != "Found Jane Smith but no assigned incidents match your criteria." {
		t.Errorf("no-incident summary = %q", got)
	}

	incidents := []normalize.Incident{{ID: "1", Status: "Open"}}
	got = OperatorLookup(operator, incidents, "")
	if !strings.HasPrefix(got, "Jane Smith is assigned 1 incident") {
		t.Errorf("operator summary = %q", got)
	}

	got = OperatorLookup(nil, nil, "")
	if got != "Operator not found. "+EmptyResultSummary {
		t.Errorf("missing-operator summary = %q", got)
	}
}

func TestErrorSummaryClassification(t *testing.T) {
	cases := []struct {
		errMsg string
		query  string
		want   string
	}{
		{"request timeout after 8s", "", "The request took too long to complete. Please try again or refine your query."},
		{"circuit breaker is open", "", "The ticketing service is currently unavailable. Please try again in a few minutes."},
		{"rate limit exceeded", "", "Too many requests. Please wait a moment before trying again."},
		{"resource not found", "tickets for person sander", "The person you're looking for was not found. Please check the name spelling."},
		{"resource not found", "incidents for operator jane", "The operator you're looking for was not found. Please check the name spelling."},
		{"resource not found", "something else", "The requested information was not found."},
		{"invalid fiql syntax", "", "Your query contains invalid parameters. Please check your input and try again."},
		{"401 unauthorized", "", "Access denied. You may not have permission to view this information."},
		{"something exploded", "", "An error occurred while processing your request. Please try again or contact support."},
	}
	for _, tc := range cases {
		if got := ErrorSummary(tc.errMsg, tc.query); got != tc.want {
			t.Errorf("ErrorSummary(%q, %q) = %q, want %q", tc.errMsg, tc.query, got, tc.want)
		}
	}
}
