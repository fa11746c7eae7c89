// Package scheduler runs the engine's periodic triggers on a cron schedule.
//
// Triggers are expected to be non-overlapping: if a broadcast run outlasts
// its interval, the next tick is skipped rather than queued behind it. The
// job store's atomic claim remains the safety net if two processes ever run
// side by side.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Service struct {
	c   *cron.Cron
	log zerolog.Logger

	mu  sync.Mutex
	ctx context.Context
}

func New(log zerolog.Logger) *Service {
	return &Service{
		c:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log: log,
	}
}

// AddEvery registers fn to run on a fixed interval once Start is called.
func (s *Service) AddEvery(name string, every time.Duration, fn func(context.Context) error) error {
	_, err := s.c.AddFunc("@every "+every.String(), func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}

		start := time.Now()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Str("task", name).Dur("dur", time.Since(start)).Err(err).Msg("scheduled task failed")
			return
		}
		s.log.Debug().Str("task", name).Dur("dur", time.Since(start)).Msg("scheduled task done")
	})
	if err == nil {
		s.log.Info().Str("task", name).Dur("every", every).Msg("task scheduled")
	}
	return err
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.c.Start()
}

// Stop halts scheduling and waits for in-flight tasks, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("stopped before in-flight tasks finished")
	}
}
