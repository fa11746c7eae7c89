// Package broadcast implements the broadcast distribution engine.
//
// A broadcast job asks for identical content to be delivered to every
// eligible recipient. Jobs are created pending, claimed by the engine on a
// periodic trigger, and driven to a completed or failed terminal state. The
// engine paces sends below the Telegram rate ceiling, classifies send
// failures (throttled / unreachable / transient), retries with a bounded
// budget, and checkpoints aggregate counters so a crash loses at most one
// checkpoint interval of progress.
//
// Delivery semantics
//
// Delivery is at-least-once: a crash mid-batch may resend to recipients the
// last checkpoint did not cover. When the receipt log is enabled, recipients
// with a recorded receipt are skipped, which makes redelivery idempotent.
// Individual recipient failures never fail a job; only infrastructure faults
// (job store or directory unreachable) do, and then only the current job.
// The run continues with the next pending one.
package broadcast
