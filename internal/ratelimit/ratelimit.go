// Package ratelimit paces outbound sends below the remote API's rate ceiling.
//
// Two implementations are provided. Pacer enforces a fixed inter-send interval
// for sequential delivery; Shared is a token bucket for pooled delivery where
// several workers must respect one aggregate rate. Both support a cooldown,
// used when the remote signals throttling with an explicit wait time.
package ratelimit

import (
	"context"
	"time"
)

// Limiter gates the delivery loop.
//
// Wait blocks until the next send slot. Cooldown pauses sending for a
// remote-imposed duration; it is additive to the steady pacing, not a
// replacement for it.
type Limiter interface {
	Wait(ctx context.Context) error
	Cooldown(ctx context.Context, d time.Duration) error
}

// sleepUntil blocks until t or context cancellation.
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
