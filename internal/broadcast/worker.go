package broadcast

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telecast/internal/ratelimit"
)

// worker delivers one job's content to one recipient at a time, applying the
// retry policy:
//
//   - throttled: cooldown for the extracted wait, retry without charging the
//     retry budget
//   - unreachable: skip the recipient immediately
//   - transient: fixed backoff, up to retryMax attempts, then count as failed
type worker struct {
	sender  Sender
	media   MediaResolver // nil disables media resolution
	limiter ratelimit.Limiter

	retryMax     int
	retryBackoff time.Duration

	log zerolog.Logger
}

// deliver runs the retry state machine for a single recipient. A non-nil
// error is returned only for context cancellation; per-recipient failures are
// reported through the Outcome.
func (w *worker) deliver(ctx context.Context, job Job, r Recipient) (Outcome, error) {
	attempt := 1
	for {
		if err := ctx.Err(); err != nil {
			return OutcomeFailed, err
		}

		err := w.sendOnce(ctx, job, r)
		if err == nil {
			return OutcomeSent, nil
		}
		if ctx.Err() != nil {
			return OutcomeFailed, ctx.Err()
		}

		switch c := Classify(err); c.Kind {
		case FailureThrottled:
			w.log.Warn().
				Str("job", job.ID).
				Int64("recipient", r.ID).
				Int("attempt", attempt).
				Dur("wait", c.Wait).
				Msg("throttled by remote, cooling down")
			if cerr := w.limiter.Cooldown(ctx, c.Wait); cerr != nil {
				return OutcomeFailed, cerr
			}
			// Not counted against the retry budget.

		case FailureUnreachable:
			w.log.Debug().
				Str("job", job.ID).
				Int64("recipient", r.ID).
				Err(err).
				Msg("recipient unreachable, skipping")
			return OutcomeSkipped, nil

		case FailureTransient:
			if attempt >= w.retryMax {
				w.log.Warn().
					Str("job", job.ID).
					Int64("recipient", r.ID).
					Int("attempts", attempt).
					Err(err).
					Msg("send failed, retries exhausted")
				return OutcomeFailed, nil
			}
			w.log.Debug().
				Str("job", job.ID).
				Int64("recipient", r.ID).
				Int("attempt", attempt).
				Dur("backoff", w.retryBackoff).
				Err(err).
				Msg("send failed, retrying")
			attempt++
			if serr := sleep(ctx, w.retryBackoff); serr != nil {
				return OutcomeFailed, serr
			}
		}
	}
}

// sendOnce composes the outbound message and performs a single send attempt.
// Media is resolved fresh per attempt because the payload reader is consumed
// by the send.
func (w *worker) sendOnce(ctx context.Context, job Job, r Recipient) error {
	msg, closeFn := w.compose(ctx, job)
	defer closeFn()
	return w.sender.Send(ctx, r.ID, msg)
}

// compose builds the outbound message for the job's content kind. If the
// media payload cannot be resolved, the message degrades to the caption
// prefixed with a kind marker instead of failing the recipient: a storage
// hiccup should not inflate the failure count.
func (w *worker) compose(ctx context.Context, job Job) (Outbound, func()) {
	noop := func() {}
	if job.Kind == KindText {
		return Outbound{Kind: KindText, Text: job.Text}, noop
	}

	if w.media == nil || strings.TrimSpace(job.MediaRef) == "" {
		return degraded(job), noop
	}
	rc, err := w.media.Open(ctx, job.MediaRef)
	if err != nil {
		w.log.Debug().
			Str("job", job.ID).
			Str("ref", job.MediaRef).
			Err(err).
			Msg("media resolution failed, degrading to caption")
		return degraded(job), noop
	}
	return Outbound{
		Kind:  job.Kind,
		Text:  job.Text,
		Media: rc,
		Name:  path.Base(job.MediaRef),
	}, func() { closeQuietly(rc) }
}

// degraded turns a media job into a kind-marked text message.
func degraded(job Job) Outbound {
	text := fmt.Sprintf("[%s]", job.Kind)
	if s := strings.TrimSpace(job.Text); s != "" {
		text += " " + s
	}
	return Outbound{Kind: KindText, Text: text}
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
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
