// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package security

import (
	"testing"
	"time"
)

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("fourth request should be rejected")
	}

	// A different client has its own bucket.
	if !rl.Allow("5.6.7.8") {
		t.Error("other client should not share the bucket")
	}
}

func TestRateLimiterRemaining(t *testing.T) {
	rl := NewRateLimiter(5, time.Hour)

	if got := rl.Remaining("x"); got != 5 {
		t.Errorf("fresh bucket remaining = %d, want 5", got)
	}
	rl.Allow("x")
	rl.Allow("x")
	if got := rl.Remaining("x"); got != 3 {
		t.Errorf("remaining = %d, want 3", got)
	}
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(3, time.Minute)
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if !cb.Allow() {
			t.Fatalf("breaker should stay closed below threshold (failure %d)", i+1)
		}
	}

	cb.RecordFailure()
	if cb.Allow() {
		t.Error("breaker should be open at threshold")
	}
	if got := cb.Status().State; got != "open" {
		t.Errorf("state = %q, want open", got)
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker should be open")
	}

	// Recovery deadline passes: one probe is admitted.
	now = now.Add(time.Minute)
	if !cb.Allow() {
		t.Fatal("expected half-open probe to be admitted")
	}
	if got := cb.Status().State; got != "half_open" {
		t.Fatalf("state = %q, want half_open", got)
	}

	cb.RecordSuccess()
	if got := cb.Status().State; got != "closed" {
		t.Errorf("state after successful probe = %q, want closed", got)
	}
	if !cb.Allow() {
		t.Error("closed breaker must admit requests")
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(5, time.Minute)
	cb.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	now = now.Add(time.Minute)
	if !cb.Allow() {
		t.Fatal("expected probe")
	}

	// A single probe failure re-opens regardless of threshold.
	cb.RecordFailure()
	if cb.Allow() {
		t.Error("breaker should re-open after failed probe")
	}
	status := cb.Status()
	if status.State != "open" {
		t.Errorf("state = %q, want open", status.State)
	}
	if status.NextAttempt.IsZero() {
		t.Error("open breaker must expose its next-attempt time")
	}
}
