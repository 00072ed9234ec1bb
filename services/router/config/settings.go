// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the router service settings and the embedded
// planner rule tables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Settings configures the router service. Loaded once at startup from
// environment variables; immutable afterwards.
//
// The planner's default time windows are deliberately NOT here: they are
// behavioral constants of the planning logic, not deployment knobs, and
// live as named constants in the planner package.
type Settings struct {
	// MCPBaseURL is the base URL of the ticketing MCP server.
	MCPBaseURL string

	// MCPAPIKey is the optional bearer token for the MCP server.
	MCPAPIKey string

	// MCPTimeout bounds a single tool-call HTTP request.
	MCPTimeout time.Duration

	// MCPRetries is the number of retries after the first attempt.
	MCPRetries int

	// RateLimitRequests / RateLimitWindow define the per-client budget:
	// RateLimitRequests per RateLimitWindow.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// BreakerFailureThreshold is the consecutive-failure count that opens
	// the circuit; BreakerRecoveryTimeout is how long it stays open before
	// a half-open probe.
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	// DefaultMaxResults / MaxAllowedResults bound the page size of a query.
	DefaultMaxResults int
	MaxAllowedResults int

	// ResolutionCacheDir is the BadgerDB directory for the identity
	// resolution cache. Empty disables caching.
	ResolutionCacheDir string

	// LogLevel is the slog level name (debug, info, warn, error).
	LogLevel string
}

// DefaultSettings returns production defaults matching a local MCP server.
func DefaultSettings() Settings {
	return Settings{
		MCPBaseURL:              "http://localhost:3030",
		MCPTimeout:              8 * time.Second,
		MCPRetries:              2,
		RateLimitRequests:       60,
		RateLimitWindow:         5 * time.Minute,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  60 * time.Second,
		DefaultMaxResults:       5,
		MaxAllowedResults:       25,
		LogLevel:                "info",
	}
}

// FromEnv loads settings from the environment, falling back to defaults.
//
// Recognized variables:
//
//	MCP_BASE_URL, MCP_API_KEY, MCP_TIMEOUT_SECONDS, MCP_RETRIES,
//	RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW_SECONDS,
//	BREAKER_FAILURE_THRESHOLD, BREAKER_RECOVERY_SECONDS,
//	DEFAULT_MAX_RESULTS, MAX_ALLOWED_RESULTS,
//	RESOLUTION_CACHE_DIR, LOG_LEVEL
func FromEnv() Settings {
	s := DefaultSettings()

	s.MCPBaseURL = getEnvOr("MCP_BASE_URL", s.MCPBaseURL)
	s.MCPAPIKey = getEnvOr("MCP_API_KEY", s.MCPAPIKey)
	s.MCPTimeout = getEnvSecondsOr("MCP_TIMEOUT_SECONDS", s.MCPTimeout)
	s.MCPRetries = getEnvIntOr("MCP_RETRIES", s.MCPRetries)
	s.RateLimitRequests = getEnvIntOr("RATE_LIMIT_REQUESTS", s.RateLimitRequests)
	s.RateLimitWindow = getEnvSecondsOr("RATE_LIMIT_WINDOW_SECONDS", s.RateLimitWindow)
	s.BreakerFailureThreshold = getEnvIntOr("BREAKER_FAILURE_THRESHOLD", s.BreakerFailureThreshold)
	s.BreakerRecoveryTimeout = getEnvSecondsOr("BREAKER_RECOVERY_SECONDS", s.BreakerRecoveryTimeout)
	s.DefaultMaxResults = getEnvIntOr("DEFAULT_MAX_RESULTS", s.DefaultMaxResults)
	s.MaxAllowedResults = getEnvIntOr("MAX_ALLOWED_RESULTS", s.MaxAllowedResults)
	s.ResolutionCacheDir = getEnvOr("RESOLUTION_CACHE_DIR", s.ResolutionCacheDir)
	s.LogLevel = getEnvOr("LOG_LEVEL", s.LogLevel)

	return s
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func getEnvSecondsOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
