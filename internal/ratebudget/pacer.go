package ratebudget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/repo-capture-engine/internal/telemetry"
)

// Pacer smooths dispatch inside the hourly window so a burst of pending
// jobs cannot spend the whole budget in the first minute. One token bucket
// per credential.
type Pacer struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// PacerConfig holds pacer configuration.
type PacerConfig struct {
	CallsPerSecond float64
	Burst          int
}

// NewPacer creates a Pacer. A non-positive rate disables pacing.
func NewPacer(cfg PacerConfig) *Pacer {
	r := rate.Limit(cfg.CallsPerSecond)
	if cfg.CallsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until the credential may dispatch n calls, respecting the
// context.
func (p *Pacer) Wait(ctx context.Context, credential string, n int) error {
	if n <= 0 {
		n = 1
	}
	p.mu.Lock()
	limiter, exists := p.limiters[credential]
	if !exists {
		limiter = rate.NewLimiter(p.defaultRate, p.defaultBurst)
		p.limiters[credential] = limiter
	}
	p.mu.Unlock()

	if n > limiter.Burst() && limiter.Limit() != rate.Inf {
		// WaitN errors when n exceeds burst; clamp rather than fail the
		// dispatch, the hourly tracker still bounds total usage.
		n = limiter.Burst()
	}
	start := time.Now()
	if err := limiter.WaitN(ctx, n); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObservePacerDelay(credential, waited)
	}
	return nil
}
