package broadcast

import (
	"context"
	"fmt"
	"sync"
)

// deliverPool fans delivery out across a bounded worker pool. Workers share
// one token-bucket limiter, so the aggregate send rate matches the job's pace
// regardless of pool size. The per-job contract is unchanged from the
// sequential path: same retry policy, same counters, same checkpoint cadence.
func (e *Engine) deliverPool(ctx context.Context, job Job, w *worker, next batchFunc, p *Progress, opt Options) error {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu        sync.Mutex
		processed int
		firstErr  error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	feed := make(chan Recipient, opt.BatchSize)

	var prodWG sync.WaitGroup
	prodWG.Add(1)
	go func() {
		defer prodWG.Done()
		defer close(feed)
		for {
			batch, err := next(pctx)
			if err != nil {
				fail(err)
				return
			}
			if len(batch) == 0 {
				return
			}
			for _, r := range batch {
				select {
				case feed <- r:
				case <-pctx.Done():
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < opt.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range feed {
				if pctx.Err() != nil {
					return
				}
				if e.alreadyDelivered(pctx, job.ID, r.ID) {
					continue
				}

				// Unlike the sequential path, the pool takes its rate slot
				// before sending; otherwise pool startup would fire one
				// unpaced send per worker.
				if err := w.limiter.Wait(pctx); err != nil {
					if pctx.Err() == nil {
						fail(err)
					}
					return
				}

				outcome, err := w.deliver(pctx, job, r)
				if err != nil {
					if pctx.Err() == nil {
						fail(err)
					}
					return
				}

				mu.Lock()
				if outcome == OutcomeSent {
					p.Sent++
				} else {
					p.Failed++
				}
				processed++
				n := processed
				snapshot := *p
				mu.Unlock()

				e.recordReceipt(pctx, job.ID, r.ID, outcome)

				if n%progressLogEvery == 0 {
					e.logProgress(job.ID, n, snapshot)
				}
				if n%opt.CheckpointEvery == 0 {
					if err := e.deps.Jobs.Checkpoint(pctx, job.ID, snapshot); err != nil {
						fail(fmt.Errorf("checkpoint progress: %w", err))
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	prodWG.Wait()

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}
