package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Shared is a token-bucket limiter safe for use from several delivery workers
// at once. The aggregate release rate across all callers stays at the
// configured rate, so a pool of N workers does not multiply the send rate by N.
type Shared struct {
	lim *rate.Limiter

	mu         sync.Mutex
	pauseUntil time.Time
}

// NewShared returns a limiter releasing ratePerSec sends per second in
// aggregate. Burst is kept at 1 so releases stay evenly spaced rather than
// arriving in clumps after an idle period.
func NewShared(ratePerSec float64) *Shared {
	if ratePerSec <= 0 {
		ratePerSec = 15
	}
	return &Shared{lim: rate.NewLimiter(rate.Limit(ratePerSec), 1)}
}

func (s *Shared) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		until := s.pauseUntil
		s.mu.Unlock()

		if time.Now().After(until) {
			break
		}
		if err := sleepUntil(ctx, until); err != nil {
			return err
		}
	}
	return s.lim.Wait(ctx)
}

// Cooldown pauses every caller until d from now, then blocks the current
// caller for the same span. Concurrent cooldowns extend the pause rather than
// stacking sleeps.
func (s *Shared) Cooldown(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	until := time.Now().Add(d)

	s.mu.Lock()
	if until.After(s.pauseUntil) {
		s.pauseUntil = until
	}
	s.mu.Unlock()

	return sleepUntil(ctx, until)
}
