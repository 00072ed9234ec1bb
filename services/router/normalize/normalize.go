// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize reshapes raw ticketing-backend responses into a
// uniform result model. The backend is loose about shapes: fields may
// be plain strings or nested objects, lists may arrive bare or wrapped
// under several different keys, and timestamps come in a handful of
// formats. Everything here degrades instead of failing; a malformed
// record normalizes to its salvageable fields.
package normalize

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Normalized Types
// =============================================================================

// Incident is the uniform incident shape consumed by summarization and
// returned to clients. Optional fields are empty strings when absent.
type Incident struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	Priority      string `json:"priority,omitempty"`
	Caller        string `json:"caller,omitempty"`
	Operator      string `json:"operator,omitempty"`
	OperatorGroup string `json:"operator_group,omitempty"`
}

// Person is a resolved caller identity.
type Person struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	Surname   string `json:"surname"`
}

// Operator is a resolved operator identity.
type Operator struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	Surname   string `json:"surname"`
}

// =============================================================================
// Field Helpers
// =============================================================================

// stringField returns the value under key coerced to a string, or ""
// when absent or nil.
func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// nameField handles backend fields that are either a plain string or an
// object carrying a "name".
func nameField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return stringField(t, "name")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// listField returns the first non-empty list found under any of the
// given wrapper keys.
func listField(data map[string]any, keys ...string) []any {
	for _, key := range keys {
		if list, ok := data[key].([]any); ok && len(list) > 0 {
			return list
		}
	}
	return nil
}

// =============================================================================
// Timestamps
// =============================================================================

// dateTimeLayouts are the backend's observed timestamp formats, most
// specific first.
var dateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DateTime normalizes a backend timestamp to "2006-01-02 15:04:05".
// Unrecognized formats pass through unchanged; empty input stays empty.
func DateTime(value string) string {
	if value == "" {
		return ""
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02 15:04:05")
		}
	}
	return value
}

// =============================================================================
// Person Naming
// =============================================================================

// PersonName extracts a display name from a person object. The
// backend's pre-rendered dynamicName wins; otherwise the name is
// assembled from first and last name, falling back to a bare "name".
func PersonName(data map[string]any) string {
	if data == nil {
		return ""
	}
	if display := strings.TrimSpace(stringField(data, "dynamicName")); display != "" {
		return display
	}
	first := strings.TrimSpace(stringField(data, "firstName"))
	last := strings.TrimSpace(stringField(data, "surname"))
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	}
	return stringField(data, "name")
}

// =============================================================================
// Incident Normalization
// =============================================================================

// IncidentFrom normalizes one raw incident record.
func IncidentFrom(data map[string]any) Incident {
	inc := Incident{
		ID:        stringField(data, "id"),
		Number:    stringField(data, "number"),
		Title:     stringField(data, "briefDescription"),
		Status:    nameField(data, "status"),
		CreatedAt: DateTime(stringField(data, "creationDate")),
		Priority:  nameField(data, "priority"),
	}
	if inc.Status == "" {
		inc.Status = "Unknown"
	}
	if caller, ok := data["caller"].(map[string]any); ok {
		inc.Caller = PersonName(caller)
	} else {
		inc.Caller = stringField(data, "caller")
	}
	if operator, ok := data["operator"].(map[string]any); ok {
		inc.Operator = PersonName(operator)
	} else {
		inc.Operator = stringField(data, "operator")
	}
	inc.OperatorGroup = nameField(data, "operatorGroup")
	return inc
}

// Incidents normalizes an incident-list response. The list may arrive
// bare or wrapped under "incidents", "data", or "results"; anything
// else yields an empty slice, never an error.
func Incidents(raw any) []Incident {
	var list []any
	switch t := raw.(type) {
	case []any:
		list = t
	case map[string]any:
		list = listField(t, "incidents", "data", "results")
	default:
		return nil
	}

	out := make([]Incident, 0, len(list))
	for _, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, IncidentFrom(record))
	}
	return out
}

// =============================================================================
// Person / Operator Normalization
// =============================================================================

// PersonFrom normalizes a person-lookup response. A response is either
// a direct person object or a wrapped list, in which case the first
// match is taken. Returns nil when nothing person-shaped is present.
func PersonFrom(raw any) *Person {
	data, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	record := data
	_, hasID := data["id"]
	_, hasFirst := data["firstName"]
	_, hasSurname := data["surname"]
	if !hasID && !hasFirst && !hasSurname {
		list := listField(data, "persons", "data", "results")
		if len(list) == 0 {
			return nil
		}
		if record, ok = list[0].(map[string]any); !ok {
			return nil
		}
	}

	return &Person{
		ID:        stringField(record, "id"),
		Name:      PersonName(record),
		Email:     stringField(record, "email"),
		FirstName: stringField(record, "firstName"),
		Surname:   stringField(record, "surname"),
	}
}

// OperatorFrom normalizes an operator-lookup response. Unlike persons,
// a direct operator object must carry both an id and a name.
func OperatorFrom(raw any) *Operator {
	data, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	record := data
	_, hasID := data["id"]
	_, hasName := data["name"]
	if !hasID || !hasName {
		list := listField(data, "operators", "data", "results")
		if len(list) == 0 {
			return nil
		}
		if record, ok = list[0].(map[string]any); !ok {
			return nil
		}
	}

	return &Operator{
		ID:        stringField(record, "id"),
		Name:      stringField(record, "name"),
		FirstName: stringField(record, "firstName"),
		Surname:   stringField(record, "surname"),
	}
}

// =============================================================================
// Log Sanitization
// =============================================================================

// piiFields are removed outright from logged payloads; matching is by
// key substring, case-insensitive.
var piiFields = []string{
	"password", "api_key", "token", "secret", "credential",
	"email", "phone", "ssn", "address", "personaldetails",
}

// truncateFields are long free-text fields capped at 100 characters.
var truncateFields = []string{
	"briefdescription", "request", "action", "memo",
}

const (
	logTextCap = 200
	logListCap = 5
)

// ForLogging strips PII and bounds payload size before a raw backend
// response goes anywhere near a log line. Maps lose PII-named keys and
// recurse with reduced depth, lists are capped at five elements, long
// strings are truncated.
func ForLogging(data any, maxDepth int) any {
	if maxDepth <= 0 {
		return "..."
	}

	switch t := data.(type) {
	case map[string]any:
		sanitized := make(map[string]any, len(t))
		for key, value := range t {
			keyLower := strings.ToLower(key)
			if containsAny(keyLower, piiFields) {
				continue
			}
			if s, ok := value.(string); ok && containsAny(keyLower, truncateFields) {
				if len(s) > 100 {
					s = s[:100] + "..."
				}
				sanitized[key] = s
				continue
			}
			sanitized[key] = ForLogging(value, maxDepth-1)
		}
		return sanitized

	case []any:
		capped := t
		if len(capped) > logListCap {
			capped = capped[:logListCap]
		}
		out := make([]any, 0, len(capped))
		for _, item := range capped {
			out = append(out, ForLogging(item, maxDepth-1))
		}
		return out

	case string:
		if len(t) > logTextCap {
			return t[:logTextCap] + "..."
		}
		return t

	default:
		return data
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
