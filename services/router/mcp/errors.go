// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcp

import "fmt"

// The client surfaces exactly four error kinds. Error messages double
// as user-facing classification input downstream, so each carries its
// distinguishing vocabulary ("timeout", "circuit ... open", and so on).

// TimeoutError reports a tool call that exceeded its deadline, after
// retries.
type TimeoutError struct {
	Tool    string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcp tool %s: request timeout after %s", e.Tool, e.Timeout)
}

// ServerError reports a 5xx from the tool server. Server errors count
// against the circuit breaker and are not retried.
type ServerError struct {
	Tool       string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mcp server error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mcp server error %d", e.StatusCode)
}

// CircuitOpenError reports a call rejected locally because the breaker
// is open; no request was sent.
type CircuitOpenError struct {
	Tool string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("mcp tool %s: circuit breaker is open", e.Tool)
}

// ClientError covers everything else: disallowed tools, 4xx responses,
// transport failures. Only transport-level failures are marked
// retryable; HTTP-level rejections are final.
type ClientError struct {
	Tool    string
	Message string

	retryable bool
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("mcp tool %s: %s", e.Tool, e.Message)
}
