package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deskctl/internal/hooks"
)

// RateLimiter blocks a command when it is dispatched faster than its
// token bucket refills. Used to keep a runaway management script from
// hammering gui_exclusive handlers.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     float64 // tokens per second
	capacity float64
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a limiter allowing ratePerSecond sustained
// commands per command name with the given burst capacity.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     ratePerSecond,
		capacity: float64(burst),
	}
}

// Handler returns the before_dispatch hook handler.
func (rl *RateLimiter) Handler() *hooks.Handler {
	return &hooks.Handler{
		ID:          "builtin.ratelimit",
		Priority:    50,
		Description: "per-command token bucket rate limiting",
		Enabled:     true,
		Handler:     rl.check,
	}
}

func (rl *RateLimiter) check(ctx context.Context, hookCtx *hooks.Context) (*hooks.Result, error) {
	cmd := hookCtx.Command
	if cmd == nil {
		return nil, nil
	}
	if !rl.Allow(cmd.Name) {
		return &hooks.Result{
			Block:       true,
			BlockReason: fmt.Sprintf("command %s rate limited", cmd.Name),
		}, nil
	}
	return nil, nil
}

// Allow consumes one token for the named command, reporting whether the
// dispatch may proceed.
func (rl *RateLimiter) Allow(name string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[name]
	if !ok {
		b = &bucket{tokens: rl.capacity, last: now}
		rl.buckets[name] = b
	}

	b.tokens += now.Sub(b.last).Seconds() * rl.rate
	if b.tokens > rl.capacity {
		b.tokens = rl.capacity
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
