package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Kind is the closed set of broadcast content kinds.
type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindText, KindPhoto, KindVideo, KindDocument:
		return k, nil
	default:
		return "", fmt.Errorf("unknown content kind %q", s)
	}
}

// Status is the job lifecycle state.
//
// Allowed transitions: pending->processing, processing->processing (counter
// updates), processing->completed, processing->failed. Terminal states are
// immutable; failed jobs are never re-queued automatically.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultPace is the inter-send delay when a job does not set one,
// tuned to ~15 sends/second. The Telegram hard ceiling is ~30/s; the headroom
// keeps the same bot identity responsive for non-broadcast traffic.
const DefaultPace = time.Second / 15

// Job is one broadcast unit of work. Created by an admin, owned and mutated
// exclusively by the engine until it reaches a terminal state.
type Job struct {
	ID      string
	AdminID int64

	Kind Kind
	// Text is the message body for text jobs and the caption otherwise.
	Text string
	// MediaRef is a content-addressed handle resolved through the media
	// store; empty for text jobs.
	MediaRef string
	// PaceSeconds is the delay between sends. Zero means DefaultPace.
	PaceSeconds float64

	Status       Status
	Total        int
	Sent         int
	Failed       int
	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Pace returns the effective inter-send interval.
func (j Job) Pace() time.Duration {
	if j.PaceSeconds <= 0 {
		return DefaultPace
	}
	return time.Duration(j.PaceSeconds * float64(time.Second))
}

// Progress carries the aggregate counters persisted on each checkpoint.
// All three values are monotonically non-decreasing while a job runs.
type Progress struct {
	Total  int
	Sent   int
	Failed int
}

// Recipient is the engine's read-only projection of the user directory.
type Recipient struct {
	ID int64
}

// Sentinel errors surfaced by JobStore implementations.
var (
	// ErrConflict means another engine instance already holds the job; the
	// pending->processing claim is the exclusivity gate.
	ErrConflict = errors.New("broadcast: job state conflict")
	// ErrInvalidTransition means the requested state change is not allowed
	// from the job's current state.
	ErrInvalidTransition = errors.New("broadcast: invalid job state transition")
	// ErrNotFound means the job id is unknown.
	ErrNotFound = errors.New("broadcast: job not found")
)

// JobStore is the persisted state machine for broadcast jobs.
// Claim must be atomic: of two concurrent claims for the same job, exactly
// one succeeds and the other observes ErrConflict.
type JobStore interface {
	// ListPending returns pending jobs, oldest first.
	ListPending(ctx context.Context) ([]Job, error)
	// Claim transitions pending->processing and stamps startedAt.
	Claim(ctx context.Context, id string, startedAt time.Time) error
	// Checkpoint persists counters while processing (processing->processing).
	Checkpoint(ctx context.Context, id string, p Progress) error
	// Complete transitions processing->completed with final counters.
	Complete(ctx context.Context, id string, p Progress) error
	// Fail transitions processing->failed, recording the reason.
	Fail(ctx context.Context, id string, p Progress, reason string) error
}

// Directory enumerates eligible recipients without materializing the whole
// set. The cursor is the last recipient id of the previous batch; an empty
// batch means the end of the sequence.
type Directory interface {
	CountEligible(ctx context.Context) (int, error)
	ListEligible(ctx context.Context, afterID int64, limit int) ([]Recipient, error)
}

// Fallback supplies a best-effort recipient set (recently seen identifiers)
// used only when the primary directory yields zero recipients. The result may
// be incomplete and is not deduplicated.
type Fallback interface {
	RecentlyActive(ctx context.Context, limit int) ([]Recipient, error)
}

// Outbound is one composed message handed to the send primitive.
// For KindText, Text is the whole payload; otherwise Media streams the
// binary content and Text is the caption.
type Outbound struct {
	Kind  Kind
	Text  string
	Media io.Reader
	// Name is a file name hint for document sends.
	Name string
}

// Sender is the external send primitive. Only the error's textual content is
// relied on for failure classification, so any transport with this shape
// works.
type Sender interface {
	Send(ctx context.Context, recipient int64, msg Outbound) error
}

// MediaResolver opens the binary payload behind a content reference.
type MediaResolver interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Receipts is the optional per-recipient delivery log. A receipt is unique
// per (job, recipient); its presence makes redelivery after a restart a no-op.
type Receipts interface {
	Delivered(ctx context.Context, jobID string, recipient int64) (bool, error)
	Record(ctx context.Context, jobID string, recipient int64, status string) error
}

// Outcome is the terminal per-recipient delivery result.
type Outcome int

const (
	// OutcomeSent: the send primitive accepted the message.
	OutcomeSent Outcome = iota
	// OutcomeSkipped: recipient permanently unreachable (blocked the bot,
	// deactivated account); counted as failed, never retried.
	OutcomeSkipped
	// OutcomeFailed: transient failures exhausted the retry budget.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
