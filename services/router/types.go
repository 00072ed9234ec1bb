// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router exposes the HTTP surface and plan executor for the
// natural-language ticketing query service. Handlers accept a free-text
// question, the planner turns it into a sequence of tool calls, and the
// executor runs them against the MCP backend, normalizes what comes back,
// and phrases a summary.
package router

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/deskrouter/services/router/normalize"
	"github.com/AleutianAI/deskrouter/services/router/planner"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	// Query is the natural-language question.
	Query string `json:"query" binding:"required,max=1000,safequery"`

	// MaxResults caps the page size per tool call. Zero means the
	// configured default.
	MaxResults int `json:"max_results" binding:"omitempty,min=1,max=25"`
}

// QueryResponse is the full result of a processed query: the plan that was
// produced, the calls actually executed (placeholders resolved), the
// PII-scrubbed raw responses, normalized incidents, and a phrased summary.
type QueryResponse struct {
	Plan          *planner.Plan        `json:"plan"`
	ToolCalls     []planner.ToolCall   `json:"tool_calls"`
	Raw           map[string]any       `json:"raw"`
	Results       []normalize.Incident `json:"results"`
	Summary       string               `json:"summary"`
	ExecutionTime float64              `json:"execution_time"`
	Warnings      []string             `json:"warnings"`
}

// ErrorResponse is the error body for 4xx/5xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// Request Validation
// =============================================================================

// dangerousPatterns are script-injection shapes rejected in query text.
// Query text flows into FIQL values and summaries that may be rendered by
// a chat frontend.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)document\.`),
	regexp.MustCompile(`(?i)window\.`),
	regexp.MustCompile(`(?i)alert\s*\(`),
}

// safeQuery is the validator.Func behind the "safequery" binding tag. It
// rejects queries that are blank after trimming or that match a
// script-injection pattern.
func safeQuery(fl validator.FieldLevel) bool {
	value := strings.TrimSpace(fl.Field().String())
	if value == "" {
		return false
	}
	for _, re := range dangerousPatterns {
		if re.MatchString(value) {
			return false
		}
	}
	return true
}

// RegisterValidators registers the custom binding rules with gin's
// validator engine. Call once at startup before serving.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("safequery", safeQuery)
}
