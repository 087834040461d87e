// Package freshness suppresses poll-based capture when webhooks are fresh.
package freshness

import (
	"time"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// Gate decides whether a webhook-covered repository needs a polled capture.
type Gate struct {
	window time.Duration
	clock  capture.Clock
}

// New constructs a Gate. A non-positive window disables suppression.
func New(window time.Duration, clock capture.Clock) *Gate {
	return &Gate{window: window, clock: clock}
}

// Suppress reports whether the request should be dropped because a webhook
// event already refreshed the repository inside the freshness window.
// Manual triggers always bypass the gate: a user asking for data gets it.
func (g *Gate) Suppress(repo capture.Repository, req capture.CaptureRequest) bool {
	if g == nil || g.window <= 0 {
		return false
	}
	if req.Trigger == capture.TriggerManual {
		return false
	}
	if !repo.WebhookEnabled || repo.LastWebhookEventAt == nil {
		return false
	}
	return g.clock.Now().Sub(*repo.LastWebhookEventAt) < g.window
}
