package ratelimit

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5)
	if l == nil {
		t.Fatal("NewLimiter returned nil")
	}
	if l.rate != 10.0 {
		t.Errorf("rate = %f, want 10.0", l.rate)
	}
	if l.burst != 5 {
		t.Errorf("burst = %d, want 5", l.burst)
	}
}

func TestAllow_WithinBurst(t *testing.T) {
	l := NewLimiter(1.0, 3)

	// First 3 requests should all be allowed (burst)
	for i := 0; i < 3; i++ {
		if !l.Allow("key1") {
			t.Errorf("request %d should be allowed (within burst)", i+1)
		}
	}
}

func TestAllow_ExceedsBurst(t *testing.T) {
	l := NewLimiter(1.0, 2)

	// Consume entire burst
	l.Allow("key1")
	l.Allow("key1")

	// Next request should be rejected
	if l.Allow("key1") {
		t.Error("request after burst exhaustion should be rejected")
	}
}

func TestAllow_RefillAfterWait(t *testing.T) {
	now := time.Now()
	l := NewLimiter(10.0, 2) // 10 tokens/sec
	l.nowFunc = func() time.Time { return now }

	// Consume burst
	l.Allow("key1")
	l.Allow("key1")

	// Should be rejected
	if l.Allow("key1") {
		t.Error("expected rejection after burst")
	}

	// Advance time by 200ms => 10 * 0.2 = 2 tokens refilled
	now = now.Add(200 * time.Millisecond)

	// Should be allowed now
	if !l.Allow("key1") {
		t.Error("expected allow after token refill")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := NewLimiter(1.0, 1)

	// Exhaust key1's burst
	l.Allow("key1")
	if l.Allow("key1") {
		t.Error("key1 should be exhausted")
	}

	// key2 should still work independently
	if !l.Allow("key2") {
		t.Error("key2 should be allowed (independent bucket)")
	}
}

func TestAllow_BurstDoesNotExceedMax(t *testing.T) {
	now := time.Now()
	l := NewLimiter(100.0, 3) // High rate, but burst capped at 3
	l.nowFunc = func() time.Time { return now }

	// Exhaust burst
	l.Allow("key1")
	l.Allow("key1")
	l.Allow("key1")

	// Even after waiting a long time, tokens should cap at burst
	now = now.Add(10 * time.Second) // Would refill 1000 tokens uncapped

	// Should only get burst=3 tokens back
	for i := 0; i < 3; i++ {
		if !l.Allow("key1") {
			t.Errorf("request %d should be allowed after refill capped at burst", i+1)
		}
	}
	if l.Allow("key1") {
		t.Error("4th request should be rejected (burst cap)")
	}
}

func TestAllow_PartialTokenRefill(t *testing.T) {
	now := time.Now()
	l := NewLimiter(2.0, 5) // 2 tokens/sec
	l.nowFunc = func() time.Time { return now }

	// Use 3 tokens
	l.Allow("key1")
	l.Allow("key1")
	l.Allow("key1")

	// Advance 250ms => 2*0.25 = 0.5 tokens refilled, total ~2.5
	// (started with 5, used 3 => 2.0 remaining; +0.5 = 2.5)
	now = now.Add(250 * time.Millisecond)

	// Should allow (2.5 tokens available, need 1)
	if !l.Allow("key1") {
		t.Error("expected allow with partial refill")
	}
}

func TestAllow_ZeroRate(t *testing.T) {
	l := NewLimiter(0.0, 2)

	// Initial burst should still work
	if !l.Allow("key1") {
		t.Error("first request should use initial burst")
	}
	if !l.Allow("key1") {
		t.Error("second request should use initial burst")
	}

	// No refill ever (rate=0)
	if l.Allow("key1") {
		t.Error("should be rejected with zero rate")
	}
}

func TestAllow_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(1000.0, 100)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("concurrent-key")
		}()
	}

	wg.Wait()
	close(allowed)

	allowedCount := 0
	for a := range allowed {
		if a {
			allowedCount++
		}
	}

	// With burst=100 and 200 requests, should allow roughly 100
	// Allow some slack for timing
	if allowedCount < 90 || allowedCount > 110 {
		t.Errorf("allowed %d requests, expected ~100 (burst limit)", allowedCount)
	}
}

func TestPerMinute(t *testing.T) {
	l := PerMinute(30, 2)
	if l.rate != 0.5 {
		t.Errorf("rate = %f, want 0.5", l.rate)
	}
	if l.burst != 2 {
		t.Errorf("burst = %d, want 2", l.burst)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Now()
	l := NewLimiter(2.0, 1)
	l.nowFunc = func() time.Time { return now }

	if got := l.RetryAfter("key1"); got != 0 {
		t.Errorf("fresh bucket RetryAfter = %v, want 0", got)
	}

	l.Allow("key1")
	if got := l.RetryAfter("key1"); got != 500*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 500ms", got)
	}

	now = now.Add(250 * time.Millisecond)
	if got := l.RetryAfter("key1"); got != 250*time.Millisecond {
		t.Errorf("RetryAfter after 250ms = %v, want 250ms", got)
	}

	now = now.Add(250 * time.Millisecond)
	if got := l.RetryAfter("key1"); got != 0 {
		t.Errorf("RetryAfter after refill = %v, want 0", got)
	}
}

func TestRetryAfter_ZeroRate(t *testing.T) {
	l := NewLimiter(0, 1)
	l.Allow("key1")
	if got := l.RetryAfter("key1"); got >= 0 {
		t.Errorf("zero-rate RetryAfter = %v, want negative", got)
	}
}

func TestNewToolLimiters(t *testing.T) {
	limiters := NewToolLimiters(0)

	expectedTools := []string{
		ToolStudyShow,
		ToolStudyGenerations,
		ToolRunExpand,
		ToolBatchLaunch,
	}

	for _, tool := range expectedTools {
		if _, ok := limiters[tool]; !ok {
			t.Errorf("missing rate limiter for tool: %s", tool)
		}
	}
}

func TestToolRateLimits(t *testing.T) {
	limiters := NewToolLimiters(0)

	tests := []struct {
		name  string
		tool  string
		burst int
		rate  float64
	}{
		{"show", ToolStudyShow, 10, 1.0},
		{"generations", ToolStudyGenerations, 10, 1.0},
		{"expand", ToolRunExpand, 5, 0.5},
		{"launch", ToolBatchLaunch, 1, DefaultLaunchesPerMinute / 60.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := limiters[tt.tool]
			if limiter.burst != tt.burst {
				t.Errorf("burst = %d, want %d", limiter.burst, tt.burst)
			}
			if limiter.rate != tt.rate {
				t.Errorf("rate = %f, want %f", limiter.rate, tt.rate)
			}
		})
	}
}

func TestNewToolLimiters_LaunchOverride(t *testing.T) {
	limiters := NewToolLimiters(12)
	if got := limiters[ToolBatchLaunch].rate; got != 0.2 {
		t.Errorf("batch_launch rate = %f, want 0.2", got)
	}
}

func TestCheck(t *testing.T) {
	limiters := NewToolLimiters(0)

	if err := limiters.Check(ToolStudyShow); err != nil {
		t.Errorf("unexpected error for %s: %v", ToolStudyShow, err)
	}

	if err := limiters.Check("unknown_tool"); err != nil {
		t.Errorf("unexpected error for unknown tool: %v", err)
	}

	// batch_launch has burst 1.
	if err := limiters.Check(ToolBatchLaunch); err != nil {
		t.Fatalf("first launch should be allowed: %v", err)
	}
	err := limiters.Check(ToolBatchLaunch)
	if !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited after burst exhaustion, got %v", err)
	}
	if !strings.Contains(err.Error(), "retry in") {
		t.Errorf("expected retry hint in %q", err.Error())
	}
}
