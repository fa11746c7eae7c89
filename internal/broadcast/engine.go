package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telecast/internal/ratelimit"
)

// progressLogEvery controls the in-flight progress log cadence.
const progressLogEvery = 100

// fallbackLimit bounds the best-effort fallback recipient set.
const fallbackLimit = 10000

// Options tunes the engine. Zero values take the documented defaults.
type Options struct {
	// RatePerSec derives the default inter-send interval for jobs that do
	// not set their own pace.
	RatePerSec float64
	// RetryMax is the attempt budget per recipient for transient failures.
	RetryMax int
	// RetryBackoff is the fixed sleep between transient retries.
	RetryBackoff time.Duration
	// BatchSize bounds each recipient enumeration batch.
	BatchSize int
	// CheckpointEvery is the number of processed recipients between durable
	// counter writes.
	CheckpointEvery int
	// Workers > 1 parallelizes delivery across a bounded pool sharing one
	// token-bucket limiter, so the aggregate rate stays at the job's pace.
	Workers int
}

func (o Options) withDefaults() Options {
	if o.RatePerSec <= 0 {
		o.RatePerSec = 15
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 500
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Deps are the engine's collaborators. Fallback, Media and Receipts are
// optional; a nil value disables the corresponding behavior.
type Deps struct {
	Jobs      JobStore
	Directory Directory
	Fallback  Fallback
	Sender    Sender
	Media     MediaResolver
	Receipts  Receipts
}

// Engine drives pending broadcast jobs to completion, one invocation at a
// time. Invocations are expected to be non-overlapping; the job store's
// atomic claim is the safety net if they are not.
type Engine struct {
	deps Deps
	log  zerolog.Logger

	mu  sync.Mutex
	opt Options
}

func NewEngine(deps Deps, opt Options, log zerolog.Logger) *Engine {
	return &Engine{deps: deps, opt: opt.withDefaults(), log: log}
}

// Apply swaps the tunable options in place. Safe to call while a run is in
// progress; the new options take effect for the next job.
func (e *Engine) Apply(opt Options) {
	e.mu.Lock()
	e.opt = opt.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opt
}

// RunOnce pulls all pending jobs and processes each to a terminal state.
// A job's failure never aborts the run; the next pending job still gets its
// turn.
func (e *Engine) RunOnce(ctx context.Context) error {
	jobs, err := e.deps.Jobs.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}
	e.log.Info().Int("count", len(jobs)).Msg("pending broadcasts found")

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.processJob(ctx, job)
	}
	return nil
}

func (e *Engine) processJob(ctx context.Context, job Job) {
	start := time.Now()

	if err := e.deps.Jobs.Claim(ctx, job.ID, start); err != nil {
		if errors.Is(err, ErrConflict) {
			e.log.Debug().Str("job", job.ID).Msg("job already claimed elsewhere, skipping")
			return
		}
		e.log.Error().Str("job", job.ID).Err(err).Msg("claiming job failed")
		return
	}

	p, err := e.deliver(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-job: leave the job in processing with its last
			// checkpoint intact.
			e.log.Warn().
				Str("job", job.ID).
				Int("sent", p.Sent).
				Int("failed", p.Failed).
				Msg("delivery interrupted by shutdown")
			return
		}
		e.log.Error().
			Str("job", job.ID).
			Int("sent", p.Sent).
			Int("failed", p.Failed).
			Err(err).
			Msg("broadcast job failed")
		// The terminal write gets a detached context so the failure is
		// recorded even if the run context is gone.
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if ferr := e.deps.Jobs.Fail(fctx, job.ID, p, err.Error()); ferr != nil {
			e.log.Error().Str("job", job.ID).Err(ferr).Msg("recording job failure failed")
		}
		return
	}

	if cerr := e.deps.Jobs.Complete(ctx, job.ID, p); cerr != nil {
		e.log.Error().Str("job", job.ID).Err(cerr).Msg("completing job failed")
		return
	}

	summary := e.log.Info()
	if p.Failed > 0 {
		summary = e.log.Warn()
	}
	summary.
		Str("job", job.ID).
		Int("total", p.Total).
		Int("sent", p.Sent).
		Int("failed", p.Failed).
		Dur("dur", time.Since(start)).
		Msg("broadcast job finished")
}

// deliver enumerates recipients and runs the delivery loop. The returned
// Progress holds whatever was counted up to the point of return, so a failing
// job still records its partial counters.
func (e *Engine) deliver(ctx context.Context, job Job) (Progress, error) {
	opt := e.options()
	var p Progress

	total, err := e.deps.Directory.CountEligible(ctx)
	if err != nil {
		return p, fmt.Errorf("count eligible recipients: %w", err)
	}

	var next batchFunc
	switch {
	case total > 0:
		p.Total = total
		next = e.directoryBatches(opt.BatchSize)
	default:
		recips := e.fallbackRecipients(ctx)
		if len(recips) == 0 {
			e.log.Warn().Str("job", job.ID).Msg("no eligible recipients, completing empty")
			return p, nil
		}
		e.log.Info().
			Str("job", job.ID).
			Int("count", len(recips)).
			Msg("directory empty, using recently-active fallback")
		p.Total = len(recips)
		next = onceBatch(recips)
	}

	pace := job.Pace()
	if job.PaceSeconds <= 0 && opt.RatePerSec > 0 {
		pace = time.Duration(float64(time.Second) / opt.RatePerSec)
	}
	e.log.Info().
		Str("job", job.ID).
		Str("kind", string(job.Kind)).
		Int("total", p.Total).
		Dur("eta", time.Duration(p.Total)*pace).
		Msg("broadcast started")

	w := &worker{
		sender:       e.deps.Sender,
		media:        e.deps.Media,
		retryMax:     opt.RetryMax,
		retryBackoff: opt.RetryBackoff,
		log:          e.log,
	}

	if opt.Workers > 1 {
		w.limiter = ratelimit.NewShared(float64(time.Second) / float64(pace))
		err = e.deliverPool(ctx, job, w, next, &p, opt)
	} else {
		w.limiter = ratelimit.NewPacer(pace)
		err = e.deliverSequential(ctx, job, w, next, &p, opt)
	}
	return p, err
}

// batchFunc yields successive recipient batches; an empty batch ends the
// sequence.
type batchFunc func(ctx context.Context) ([]Recipient, error)

// directoryBatches enumerates the primary directory keyed by recipient id,
// so the cursor survives restarts without skipping or duplicating a batch.
func (e *Engine) directoryBatches(size int) batchFunc {
	var cursor int64
	return func(ctx context.Context) ([]Recipient, error) {
		batch, err := e.deps.Directory.ListEligible(ctx, cursor, size)
		if err != nil {
			return nil, fmt.Errorf("enumerate recipients: %w", err)
		}
		if len(batch) > 0 {
			cursor = batch[len(batch)-1].ID
		}
		return batch, nil
	}
}

func onceBatch(recips []Recipient) batchFunc {
	done := false
	return func(context.Context) ([]Recipient, error) {
		if done {
			return nil, nil
		}
		done = true
		return recips, nil
	}
}

func (e *Engine) fallbackRecipients(ctx context.Context) []Recipient {
	if e.deps.Fallback == nil {
		return nil
	}
	recips, err := e.deps.Fallback.RecentlyActive(ctx, fallbackLimit)
	if err != nil {
		// Best-effort by contract.
		e.log.Warn().Err(err).Msg("fallback recipient source failed")
		return nil
	}
	return recips
}

func (e *Engine) deliverSequential(ctx context.Context, job Job, w *worker, next batchFunc, p *Progress, opt Options) error {
	processed := 0
	for {
		batch, err := next(ctx)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, r := range batch {
			if e.alreadyDelivered(ctx, job.ID, r.ID) {
				continue
			}

			outcome, derr := w.deliver(ctx, job, r)
			if derr != nil {
				return derr
			}
			e.account(ctx, job.ID, r.ID, outcome, p)

			processed++
			if processed%progressLogEvery == 0 {
				e.logProgress(job.ID, processed, *p)
			}
			if processed%opt.CheckpointEvery == 0 {
				if err := e.deps.Jobs.Checkpoint(ctx, job.ID, *p); err != nil {
					return fmt.Errorf("checkpoint progress: %w", err)
				}
			}

			// Steady pacing applies after every terminal outcome, on top of
			// any cooldown or backoff spent inside the attempt loop.
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

// alreadyDelivered reports whether a receipt shows this recipient was reached
// by a previous run of the same job. Receipt lookups are best-effort.
func (e *Engine) alreadyDelivered(ctx context.Context, jobID string, recipient int64) bool {
	if e.deps.Receipts == nil {
		return false
	}
	done, err := e.deps.Receipts.Delivered(ctx, jobID, recipient)
	if err != nil {
		e.log.Debug().Str("job", jobID).Int64("recipient", recipient).Err(err).Msg("receipt lookup failed")
		return false
	}
	return done
}

// account updates counters for a terminal outcome and records the receipt.
// Not safe for concurrent use; the pool path does its own locking.
func (e *Engine) account(ctx context.Context, jobID string, recipient int64, outcome Outcome, p *Progress) {
	if outcome == OutcomeSent {
		p.Sent++
	} else {
		p.Failed++
	}
	e.recordReceipt(ctx, jobID, recipient, outcome)
}

func (e *Engine) recordReceipt(ctx context.Context, jobID string, recipient int64, outcome Outcome) {
	if e.deps.Receipts == nil {
		return
	}
	status := "sent"
	if outcome != OutcomeSent {
		status = "failed"
	}
	if err := e.deps.Receipts.Record(ctx, jobID, recipient, status); err != nil {
		e.log.Debug().Str("job", jobID).Int64("recipient", recipient).Err(err).Msg("recording receipt failed")
	}
}

func (e *Engine) logProgress(jobID string, processed int, p Progress) {
	pct := 0.0
	if p.Total > 0 {
		pct = float64(processed) / float64(p.Total) * 100
	}
	e.log.Info().
		Str("job", jobID).
		Int("processed", processed).
		Int("total", p.Total).
		Float64("pct", pct).
		Int("sent", p.Sent).
		Int("failed", p.Failed).
		Msg("broadcast progress")
}
