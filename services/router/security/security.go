// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package security provides the request-admission primitives shared by
// the HTTP layer and the backend tool client: a per-client token-bucket
// rate limiter and a three-state circuit breaker.
package security

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "security",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the rate limiter",
	})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "router",
		Subsystem: "security",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	breakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "security",
		Name:      "breaker_transitions_total",
		Help:      "Total circuit breaker state transitions",
	}, []string{"to"})
)

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter applies a token-bucket limit per client key. Buckets are
// created on first use with the full window's budget and refill
// continuously.
//
// Thread Safety: Safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	limit    rate.Limit
	capacity int
}

// NewRateLimiter creates a limiter allowing requests tokens per window
// for each distinct key.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requests) / window.Seconds()),
		capacity: requests,
	}
}

// Allow reports whether the client identified by key may proceed, and
// consumes one token when it may.
func (r *RateLimiter) Allow(key string) bool {
	allowed := r.bucket(key).Allow()
	if !allowed {
		rateLimitedTotal.Inc()
	}
	return allowed
}

// Remaining returns the whole tokens currently available for key.
func (r *RateLimiter) Remaining(key string) int {
	tokens := int(r.bucket(key).Tokens())
	if tokens < 0 {
		return 0
	}
	return tokens
}

func (r *RateLimiter) bucket(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = rate.NewLimiter(r.limit, r.capacity)
		r.buckets[key] = b
	}
	return b
}

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitState enumerates the breaker states.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerStatus is a point-in-time snapshot of breaker state.
type BreakerStatus struct {
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	NextAttempt  time.Time `json:"next_attempt,omitempty"`
}

// CircuitBreaker trips open after a run of consecutive failures,
// rejects requests until a recovery timeout elapses, then admits a
// half-open probe. A successful probe closes the circuit; a failed one
// re-opens it.
//
// Thread Safety: Safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	state        CircuitState
	failureCount int
	lastFailure  time.Time
	lastSuccess  time.Time
	nextAttempt  time.Time

	failureThreshold int
	recoveryTimeout  time.Duration

	// now is a clock hook for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker that opens after
// failureThreshold consecutive failures and probes again after
// recoveryTimeout.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a request may pass. An open breaker past its
// recovery deadline transitions to half-open and admits the request as
// a probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	default:
		if cb.now().After(cb.nextAttempt) || cb.now().Equal(cb.nextAttempt) {
			cb.transition(CircuitHalfOpen)
			return true
		}
		return false
	}
}

// RecordSuccess resets the failure count and closes a half-open
// circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.lastSuccess = cb.now()
	if cb.state == CircuitHalfOpen {
		cb.transition(CircuitClosed)
	}
}

// RecordFailure counts a failure and opens the circuit at the
// threshold. A failed half-open probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.transition(CircuitOpen)
		cb.nextAttempt = cb.now().Add(cb.recoveryTimeout)
	}
}

// Status returns a snapshot for health reporting.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := BreakerStatus{
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
		LastFailure:  cb.lastFailure,
		LastSuccess:  cb.lastSuccess,
	}
	if cb.state == CircuitOpen {
		status.NextAttempt = cb.nextAttempt
	}
	return status
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	cb.state = to
	breakerState.Set(float64(to))
	breakerTransitionsTotal.WithLabelValues(to.String()).Inc()
}
