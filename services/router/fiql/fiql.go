// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fiql builds FIQL filter-query strings for the ticketing backend.
//
// FIQL is a compact textual query language: field<op>value clauses joined
// by ';' (AND) and ',' (OR). All builders are pure functions; composition
// happens through AndJoin/OrJoin, which silently drop empty parts so
// optional clauses can be passed unconditionally.
package fiql

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// timeLayout is the timestamp format the backend's FIQL parser accepts:
// UTC, second precision, no fractional seconds.
const timeLayout = "2006-01-02T15:04:05Z"

// Quote wraps a string value in single quotes, escaping backslash before
// single-quote so already-escaped quotes are not double-escaped.
//
// Outputs:
//
//	string - The quoted value. Empty input yields "''".
func Quote(value string) string {
	if value == "" {
		return "''"
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}

// Unquote reverses Quote. Used by tests to verify round-trip fidelity;
// not needed on the query-building path.
func Unquote(quoted string) string {
	s := strings.TrimPrefix(quoted, "'")
	s = strings.TrimSuffix(s, "'")
	s = strings.ReplaceAll(s, `\'`, `'`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

// ISOUTC renders a timestamp in the backend's FIQL date format.
// Naive callers passing a local time get it converted to UTC first.
func ISOUTC(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// DaysAgo returns the FIQL timestamp for n days before now (UTC).
func DaysAgo(days int) string {
	return ISOUTC(time.Now().UTC().AddDate(0, 0, -days))
}

// renderValue converts a comparison operand to its textual form. Strings
// pass through unchanged (callers pre-format dates or quote as needed);
// time.Time values are rendered via ISOUTC.
func renderValue(value any) string {
	switch v := value.(type) {
	case time.Time:
		return ISOUTC(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Equals builds field==<quoted value>.
func Equals(field, value string) string {
	return field + "==" + Quote(value)
}

// NotEquals builds field!=<quoted value>.
func NotEquals(field, value string) string {
	return field + "!=" + Quote(value)
}

// StartsWith builds field=sw=<quoted prefix>.
func StartsWith(field, value string) string {
	return field + "=sw=" + Quote(value)
}

// GreaterEqual builds field=ge=<value>. Accepts either a pre-formatted
// string or a time.Time, which is rendered as a UTC FIQL timestamp.
func GreaterEqual(field string, value any) string {
	return field + "=ge=" + renderValue(value)
}

// LessThan builds field=lt=<value>. Accepts the same operand types as
// GreaterEqual.
func LessThan(field string, value any) string {
	return field + "=lt=" + renderValue(value)
}

// InList builds field=in=('v1','v2',...). An empty value list yields an
// empty string, which AndJoin/OrJoin drop.
func InList(field string, values []string) string {
	if len(values) == 0 {
		return ""
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = Quote(v)
	}
	return field + "=in=(" + strings.Join(quoted, ",") + ")"
}

// AndJoin joins non-blank parts with ';'. Zero or one surviving part is
// well-defined: the result is "" or the part itself.
func AndJoin(parts ...string) string {
	return joinParts(";", parts)
}

// OrJoin joins non-blank parts with ','.
func OrJoin(parts ...string) string {
	return joinParts(",", parts)
}

func joinParts(sep string, parts []string) string {
	valid := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			valid = append(valid, p)
		}
	}
	return strings.Join(valid, sep)
}

// BuildPersonQuery builds a person-lookup filter from whichever of the
// name fields are set, AND-joined.
func BuildPersonQuery(firstName, lastName, email string) string {
	var parts []string
	if firstName != "" {
		parts = append(parts, Equals("firstName", firstName))
	}
	if lastName != "" {
		parts = append(parts, Equals("surname", lastName))
	}
	if email != "" {
		parts = append(parts, Equals("email", email))
	}
	return AndJoin(parts...)
}

// BuildOperatorQuery builds an operator-lookup filter, either exact-match
// or prefix-match on the operator name. Empty name yields an empty query.
func BuildOperatorQuery(name string, exact bool) string {
	if name == "" {
		return ""
	}
	if exact {
		return Equals("name", name)
	}
	return StartsWith("name", name)
}

// IncidentQuery holds the optional clauses of an incident filter. Zero
// values mean "omit this clause".
type IncidentQuery struct {
	// CallerID filters on the caller's resolved identifier.
	CallerID string

	// OperatorID filters on the operator's resolved identifier.
	// OperatorName is the fallback when no identifier is available.
	OperatorID   string
	OperatorName string

	// StatusExclude lists statuses to exclude, one not-equals clause each.
	StatusExclude []string

	// PriorityLevels restricts to the given priority names via =in=.
	PriorityLevels []string

	// Category filters on the category name.
	Category string

	// TitleStartsWith prefix-matches the brief description.
	TitleStartsWith string

	// CreatedAfter / CreatedBefore bound the creation date. DaysBack, when
	// set, overrides CreatedAfter with now-minus-N-days.
	CreatedAfter  time.Time
	CreatedBefore time.Time
	DaysBack      *int
}

// BuildIncidentQuery assembles the incident filter from the set clauses,
// AND-joined in a fixed order.
func BuildIncidentQuery(q IncidentQuery) string {
	var parts []string

	if q.CallerID != "" {
		parts = append(parts, Equals("caller.id", q.CallerID))
	}

	if q.OperatorID != "" {
		parts = append(parts, Equals("operator.id", q.OperatorID))
	} else if q.OperatorName != "" {
		parts = append(parts, Equals("operator.name", q.OperatorName))
	}

	for _, status := range q.StatusExclude {
		parts = append(parts, NotEquals("status", status))
	}

	if len(q.PriorityLevels) > 0 {
		parts = append(parts, InList("priority.name", q.PriorityLevels))
	}

	if q.Category != "" {
		parts = append(parts, Equals("category.name", q.Category))
	}

	if q.TitleStartsWith != "" {
		parts = append(parts, StartsWith("briefDescription", q.TitleStartsWith))
	}

	createdAfter := q.CreatedAfter
	if q.DaysBack != nil {
		createdAfter = time.Now().UTC().AddDate(0, 0, -*q.DaysBack)
	}
	if !createdAfter.IsZero() {
		parts = append(parts, GreaterEqual("creationDate", createdAfter))
	}
	if !q.CreatedBefore.IsZero() {
		parts = append(parts, LessThan("creationDate", q.CreatedBefore))
	}

	return AndJoin(parts...)
}

// operators lists every comparison token the backend's FIQL dialect
// understands. Validate requires at least one of them.
var operators = []string{"==", "!=", "=ge=", "=le=", "=gt=", "=lt=", "=sw=", "=in="}

// Validate performs a syntactic smoke test of a FIQL query: non-blank,
// balanced single quotes, balanced parentheses, and at least one known
// operator token. It is deliberately not a grammar parser; a quoted value
// containing "==" still validates.
func Validate(query string) bool {
	if strings.TrimSpace(query) == "" {
		return false
	}

	if strings.Count(query, "'")%2 != 0 {
		return false
	}

	if strings.Count(query, "(") != strings.Count(query, ")") {
		return false
	}

	for _, op := range operators {
		if strings.Contains(query, op) {
			return true
		}
	}
	return false
}

var (
	scriptTagPattern  = regexp.MustCompile(`(?is)<script.*?</script>`)
	sqlKeywordPattern = regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|UNION|SELECT|EXEC)\b`)
)

// Sanitize strips inline script tags and a fixed denylist of SQL keywords
// from a query, then trims whitespace. Defense in depth only; the backend's
// own query parser remains the authority on syntax. Non-ASCII characters
// (accented names in particular) pass through unchanged.
func Sanitize(query string) string {
	if query == "" {
		return ""
	}
	query = scriptTagPattern.ReplaceAllString(query, "")
	query = sqlKeywordPattern.ReplaceAllString(query, "")
	return strings.TrimSpace(query)
}
