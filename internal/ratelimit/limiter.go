// Package ratelimit throttles MCP tool calls with per-key token buckets.
// Launching a batch starts real processes, so batch_launch is held to a much
// lower rate than the read-only tools.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrLimited is returned by ToolLimiters.Check when a call is rejected.
var ErrLimited = errors.New("rate limit exceeded")

// Tool names known to the MCP server.
const (
	ToolStudyShow        = "study_show"
	ToolStudyGenerations = "study_generations"
	ToolRunExpand        = "run_expand"
	ToolBatchLaunch      = "batch_launch"
)

// DefaultLaunchesPerMinute is the batch_launch rate when none is configured.
const DefaultLaunchesPerMinute = 2.0

// Limiter is a per-key token bucket. Each key starts with a full burst and
// refills at rate tokens per second. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   int
	nowFunc func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a limiter with rate tokens per second and the given burst.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// PerMinute creates a limiter allowing n calls per minute.
func PerMinute(n float64, burst int) *Limiter {
	return NewLimiter(n/60.0, burst)
}

// Allow takes a token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter returns how long until key has a token again. Zero means a call
// would be allowed now. A limiter with zero rate never refills and returns
// a negative duration once the burst is spent.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens >= 1.0 {
		return 0
	}
	if l.rate <= 0 {
		return -1
	}
	secs := (1.0 - b.tokens) / l.rate
	return time.Duration(math.Ceil(secs*1000)) * time.Millisecond
}

// refill returns key's bucket after adding the tokens earned since the last
// check. Callers hold l.mu.
func (l *Limiter) refill(key string) *bucket {
	now := l.nowFunc()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastCheck: now}
		l.buckets[key] = b
		return b
	}

	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens = math.Min(b.tokens+l.rate*elapsed, float64(l.burst))
		b.lastCheck = now
	}
	return b
}

// ToolLimiters maps tool names to their limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates the per-tool limiters for the MCP server.
// launchesPerMinute overrides the batch_launch rate when positive.
func NewToolLimiters(launchesPerMinute float64) ToolLimiters {
	if launchesPerMinute <= 0 {
		launchesPerMinute = DefaultLaunchesPerMinute
	}
	return ToolLimiters{
		ToolStudyShow:        PerMinute(60, 10),
		ToolStudyGenerations: PerMinute(60, 10),
		ToolRunExpand:        PerMinute(30, 5),
		ToolBatchLaunch:      PerMinute(launchesPerMinute, 1),
	}
}

// Check reports whether tool may be called now. Tools without a limiter are
// always allowed. A rejection wraps ErrLimited.
func (tl ToolLimiters) Check(tool string) error {
	limiter, ok := tl[tool]
	if !ok {
		return nil
	}
	if limiter.Allow(tool) {
		return nil
	}
	if wait := limiter.RetryAfter(tool); wait > 0 {
		return fmt.Errorf("%w for %s, retry in %s", ErrLimited, tool, wait.Round(time.Second))
	}
	return fmt.Errorf("%w for %s", ErrLimited, tool)
}
