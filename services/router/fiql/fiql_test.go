// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fiql

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Quoting
// =============================================================================

func TestQuote_Empty(t *testing.T) {
	if got := Quote(""); got != "''" {
		t.Errorf("expected empty quotes, got %q", got)
	}
}

func TestQuote_RoundTrip(t *testing.T) {
	values := []string{
		"simple",
		"John Doe",
		"O'Brien",
		`back\slash`,
		`already\'escaped`,
		"José García",
		"Müller-Lüdenscheidt",
		"name with 'quotes' inside",
	}
	for _, v := range values {
		quoted := Quote(v)
		if !strings.HasPrefix(quoted, "'") || !strings.HasSuffix(quoted, "'") {
			t.Errorf("Quote(%q) = %q: not single-quoted", v, quoted)
		}
		if got := Unquote(quoted); got != v {
			t.Errorf("round trip of %q: got %q (quoted %q)", v, got, quoted)
		}
	}
}

func TestQuote_EscapesBackslashBeforeQuote(t *testing.T) {
	// Backslash must be escaped first, otherwise the quote escaping's own
	// backslashes get doubled.
	got := Quote(`a\'b`)
	want := `'a\\\'b'`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

// =============================================================================
// Comparisons
// =============================================================================

func TestEquals(t *testing.T) {
	if got := Equals("status", "Open"); got != "status=='Open'" {
		t.Errorf("unexpected equals clause: %q", got)
	}
}

func TestNotEquals(t *testing.T) {
	if got := NotEquals("status", "Closed"); got != "status!='Closed'" {
		t.Errorf("unexpected not-equals clause: %q", got)
	}
}

func TestStartsWith(t *testing.T) {
	if got := StartsWith("briefDescription", "printer"); got != "briefDescription=sw='printer'" {
		t.Errorf("unexpected starts-with clause: %q", got)
	}
}

func TestGreaterEqual_Time(t *testing.T) {
	ts := time.Date(2026, 3, 15, 10, 30, 45, 123456789, time.UTC)
	got := GreaterEqual("creationDate", ts)
	if got != "creationDate=ge=2026-03-15T10:30:45Z" {
		t.Errorf("expected second-precision UTC timestamp, got %q", got)
	}
}

func TestGreaterEqual_String(t *testing.T) {
	got := GreaterEqual("creationDate", "2026-01-01T00:00:00Z")
	if got != "creationDate=ge=2026-01-01T00:00:00Z" {
		t.Errorf("pre-formatted string should pass through, got %q", got)
	}
}

func TestLessThan_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2026, 3, 15, 11, 0, 0, 0, loc)
	got := LessThan("creationDate", ts)
	if got != "creationDate=lt=2026-03-15T10:00:00Z" {
		t.Errorf("expected UTC conversion, got %q", got)
	}
}

func TestInList(t *testing.T) {
	got := InList("priority.name", []string{"High", "Critical"})
	if got != "priority.name=in=('High','Critical')" {
		t.Errorf("unexpected in-list clause: %q", got)
	}
}

func TestInList_Empty(t *testing.T) {
	if got := InList("priority.name", nil); got != "" {
		t.Errorf("empty value list must yield empty string, got %q", got)
	}
}

// =============================================================================
// Joins
// =============================================================================

func TestAndJoin_DropsBlankParts(t *testing.T) {
	cases := []struct {
		parts []string
		want  string
	}{
		{[]string{"a==1", "", "b==2"}, "a==1;b==2"},
		{[]string{"", "   ", ""}, ""},
		{[]string{"a==1"}, "a==1"},
		{nil, ""},
		{[]string{"", "a==1", "  ", "b==2", ""}, "a==1;b==2"},
	}
	for _, tc := range cases {
		got := AndJoin(tc.parts...)
		if got != tc.want {
			t.Errorf("AndJoin(%v) = %q, want %q", tc.parts, got, tc.want)
		}
		if strings.HasPrefix(got, ";") || strings.HasSuffix(got, ";") || strings.Contains(got, ";;") {
			t.Errorf("AndJoin(%v) = %q has stray separator", tc.parts, got)
		}
	}
}

func TestOrJoin(t *testing.T) {
	got := OrJoin("a==1", "", "b==2")
	if got != "a==1,b==2" {
		t.Errorf("unexpected or-join: %q", got)
	}
}

// =============================================================================
// Composite builders
// =============================================================================

func TestBuildPersonQuery_FullName(t *testing.T) {
	got := BuildPersonQuery("john", "doe", "")
	if got != "firstName=='john';surname=='doe'" {
		t.Errorf("unexpected person query: %q", got)
	}
}

func TestBuildPersonQuery_SurnameOnly(t *testing.T) {
	got := BuildPersonQuery("", "sander", "")
	if got != "surname=='sander'" {
		t.Errorf("unexpected person query: %q", got)
	}
}

func TestBuildOperatorQuery(t *testing.T) {
	if got := BuildOperatorQuery("jane smith", true); got != "name=='jane smith'" {
		t.Errorf("unexpected exact operator query: %q", got)
	}
	if got := BuildOperatorQuery("jane", false); got != "name=sw='jane'" {
		t.Errorf("unexpected prefix operator query: %q", got)
	}
	if got := BuildOperatorQuery("", true); got != "" {
		t.Errorf("empty name must yield empty query, got %q", got)
	}
}

func TestBuildIncidentQuery_DaysBackOverridesCreatedAfter(t *testing.T) {
	seven := 7
	q := BuildIncidentQuery(IncidentQuery{
		CreatedAfter: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		DaysBack:     &seven,
	})
	if strings.Contains(q, "2020-01-01") {
		t.Errorf("days-back must take precedence over created-after: %q", q)
	}
	if !strings.Contains(q, "creationDate=ge=") {
		t.Errorf("expected a creation-date lower bound: %q", q)
	}
}

func TestBuildIncidentQuery_AllClauses(t *testing.T) {
	q := BuildIncidentQuery(IncidentQuery{
		CallerID:        "abc-123",
		StatusExclude:   []string{"Closed", "Resolved"},
		PriorityLevels:  []string{"High"},
		Category:        "Change",
		TitleStartsWith: "printer",
	})
	for _, want := range []string{
		"caller.id=='abc-123'",
		"status!='Closed'",
		"status!='Resolved'",
		"priority.name=in=('High')",
		"category.name=='Change'",
		"briefDescription=sw='printer'",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("expected %q in %q", want, q)
		}
	}
}

func TestBuildIncidentQuery_OperatorIDPreferredOverName(t *testing.T) {
	q := BuildIncidentQuery(IncidentQuery{OperatorID: "op-1", OperatorName: "jane"})
	if !strings.Contains(q, "operator.id=='op-1'") || strings.Contains(q, "operator.name") {
		t.Errorf("operator id must win over name: %q", q)
	}

	q = BuildIncidentQuery(IncidentQuery{OperatorName: "jane"})
	if !strings.Contains(q, "operator.name=='jane'") {
		t.Errorf("expected operator name fallback: %q", q)
	}
}

// =============================================================================
// Validation and sanitization
// =============================================================================

func TestValidate(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"", false},
		{"   ", false},
		{"field=='value'", true},
		{"field=='value", false},          // odd quote count
		{"field=in=('a','b'", false},      // unbalanced parens
		{"just some words", false},        // no operator
		{"status!='Closed';creationDate=ge=2026-01-01T00:00:00Z", true},
		{"field=='it''s'", true}, // even quotes still validate
	}
	for _, tc := range cases {
		if got := Validate(tc.query); got != tc.want {
			t.Errorf("Validate(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestValidate_OddQuotesAlwaysInvalid(t *testing.T) {
	if Validate("field=='a';other=='b") {
		t.Error("odd quote count must be invalid even with operators present")
	}
}

func TestSanitize_StripsScriptTags(t *testing.T) {
	got := Sanitize("field=='x'<script>alert(1)\n</script>")
	if strings.Contains(strings.ToLower(got), "script") {
		t.Errorf("script tag survived sanitization: %q", got)
	}
}

func TestSanitize_StripsSQLKeywords(t *testing.T) {
	got := Sanitize("field=='x';DROP TABLE incidents")
	if strings.Contains(got, "DROP") {
		t.Errorf("SQL keyword survived sanitization: %q", got)
	}
	// Word-boundary match only: DROPPED is not on the denylist.
	got = Sanitize("title=sw='DROPPED'")
	if !strings.Contains(got, "DROPPED") {
		t.Errorf("non-keyword word was mangled: %q", got)
	}
}

func TestSanitize_PreservesNonASCII(t *testing.T) {
	q := "surname=='García';firstName=='José'"
	if got := Sanitize(q); got != q {
		t.Errorf("accented characters must pass through: %q", got)
	}
}
