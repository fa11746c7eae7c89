package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum interval between consecutive Wait returns.
//
// The deadline for the next release is anchored at the moment the previous
// Wait returned, not at the moment Wait is called again. Work done between the
// two calls (the actual send) therefore never shrinks the enforced spacing:
// N waits at interval i take at least N*i of wall time.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewPacer returns a pacer with the given inter-send interval.
// A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	deadline := p.next
	p.mu.Unlock()

	if !deadline.IsZero() {
		if err := sleepUntil(ctx, deadline); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.next = time.Now().Add(p.interval)
	p.mu.Unlock()
	return nil
}

// Cooldown blocks for d. The pacing anchor is left alone: the steady interval
// still applies on top of the cooldown once sending resumes.
func (p *Pacer) Cooldown(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return sleepUntil(ctx, time.Now().Add(d))
}
