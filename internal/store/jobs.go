package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"telecast/internal/broadcast"
)

type jobRow struct {
	ID              string         `db:"id"`
	AdminID         int64          `db:"admin_id"`
	ContentKind     string         `db:"content_kind"`
	MessageText     string         `db:"message_text"`
	MediaRef        string         `db:"media_ref"`
	PaceSeconds     float64        `db:"pace_seconds"`
	Status          string         `db:"status"`
	TotalRecipients int            `db:"total_recipients"`
	SentCount       int            `db:"sent_count"`
	FailedCount     int            `db:"failed_count"`
	ErrorMessage    string         `db:"error_message"`
	CreatedAt       string         `db:"created_at"`
	StartedAt       sql.NullString `db:"started_at"`
	CompletedAt     sql.NullString `db:"completed_at"`
}

func (r jobRow) toJob() broadcast.Job {
	return broadcast.Job{
		ID:           r.ID,
		AdminID:      r.AdminID,
		Kind:         broadcast.Kind(r.ContentKind),
		Text:         r.MessageText,
		MediaRef:     r.MediaRef,
		PaceSeconds:  r.PaceSeconds,
		Status:       broadcast.Status(r.Status),
		Total:        r.TotalRecipients,
		Sent:         r.SentCount,
		Failed:       r.FailedCount,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    parseTime(r.CreatedAt),
		StartedAt:    parseTime(r.StartedAt.String),
		CompletedAt:  parseTime(r.CompletedAt.String),
	}
}

// NewJob carries the admin-supplied fields of a broadcast job.
type NewJob struct {
	AdminID     int64
	Kind        broadcast.Kind
	Text        string
	MediaRef    string
	PaceSeconds float64
}

// CreateJob inserts a pending job and returns it.
func (s *Store) CreateJob(ctx context.Context, n NewJob) (broadcast.Job, error) {
	job := broadcast.Job{
		ID:          uuid.NewString(),
		AdminID:     n.AdminID,
		Kind:        n.Kind,
		Text:        n.Text,
		MediaRef:    n.MediaRef,
		PaceSeconds: n.PaceSeconds,
		Status:      broadcast.StatusPending,
		CreatedAt:   time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_jobs(id, admin_id, content_kind, message_text, media_ref, pace_seconds, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		job.ID, job.AdminID, string(job.Kind), job.Text, job.MediaRef, job.PaceSeconds,
		string(job.Status), fmtTime(job.CreatedAt),
	)
	if err != nil {
		return broadcast.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// ListPending returns pending jobs oldest first (FIFO by creation time).
func (s *Store) ListPending(ctx context.Context) ([]broadcast.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM broadcast_jobs WHERE status = ? ORDER BY created_at, id`,
		string(broadcast.StatusPending),
	)
	if err != nil {
		return nil, err
	}
	jobs := make([]broadcast.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toJob())
	}
	return jobs, nil
}

// Claim atomically transitions pending->processing. The row-count check on
// the guarded UPDATE is what makes concurrent claims safe: the loser's update
// matches zero rows and maps to ErrConflict.
func (s *Store) Claim(ctx context.Context, id string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcast_jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(broadcast.StatusProcessing), fmtTime(startedAt), id, string(broadcast.StatusPending),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	status, err := s.jobStatus(ctx, id)
	if err != nil {
		return err
	}
	if status == broadcast.StatusProcessing {
		return broadcast.ErrConflict
	}
	return fmt.Errorf("%w: %s -> processing", broadcast.ErrInvalidTransition, status)
}

// Checkpoint persists counters while a job is processing.
func (s *Store) Checkpoint(ctx context.Context, id string, p broadcast.Progress) error {
	return s.updateWhileProcessing(ctx, id,
		`UPDATE broadcast_jobs SET total_recipients = ?, sent_count = ?, failed_count = ?
		 WHERE id = ? AND status = ?`,
		p.Total, p.Sent, p.Failed, id, string(broadcast.StatusProcessing),
	)
}

// Complete transitions processing->completed with the final counters.
func (s *Store) Complete(ctx context.Context, id string, p broadcast.Progress) error {
	return s.updateWhileProcessing(ctx, id,
		`UPDATE broadcast_jobs SET status = ?, total_recipients = ?, sent_count = ?, failed_count = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(broadcast.StatusCompleted), p.Total, p.Sent, p.Failed, fmtTime(time.Now()),
		id, string(broadcast.StatusProcessing),
	)
}

// Fail transitions processing->failed, recording the last checkpointed
// counters and the failure reason.
func (s *Store) Fail(ctx context.Context, id string, p broadcast.Progress, reason string) error {
	return s.updateWhileProcessing(ctx, id,
		`UPDATE broadcast_jobs SET status = ?, total_recipients = ?, sent_count = ?, failed_count = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(broadcast.StatusFailed), p.Total, p.Sent, p.Failed, reason, fmtTime(time.Now()),
		id, string(broadcast.StatusProcessing),
	)
}

func (s *Store) updateWhileProcessing(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	status, err := s.jobStatus(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job is %s, not processing", broadcast.ErrInvalidTransition, status)
}

func (s *Store) jobStatus(ctx context.Context, id string) (broadcast.Status, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM broadcast_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", broadcast.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return broadcast.Status(status), nil
}

// GetJob returns one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (broadcast.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM broadcast_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return broadcast.Job{}, broadcast.ErrNotFound
	}
	if err != nil {
		return broadcast.Job{}, err
	}
	return row.toJob(), nil
}

// ListRecent returns the newest jobs first, for the admin status view.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]broadcast.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM broadcast_jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	jobs := make([]broadcast.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toJob())
	}
	return jobs, nil
}

// JobStats aggregates job counts by lifecycle state.
type JobStats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

func (s *Store) Stats(ctx context.Context) (JobStats, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS n FROM broadcast_jobs GROUP BY status`)
	if err != nil {
		return JobStats{}, err
	}
	var st JobStats
	for _, r := range rows {
		st.Total += r.N
		switch broadcast.Status(r.Status) {
		case broadcast.StatusPending:
			st.Pending = r.N
		case broadcast.StatusProcessing:
			st.Processing = r.N
		case broadcast.StatusCompleted:
			st.Completed = r.N
		case broadcast.StatusFailed:
			st.Failed = r.N
		}
	}
	return st, nil
}

// PruneFinished deletes completed and failed jobs older than ttl, together
// with their receipts. Returns the number of jobs removed.
func (s *Store) PruneFinished(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := fmtTime(time.Now().Add(-ttl))
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM broadcast_receipts WHERE job_id IN (
		   SELECT id FROM broadcast_jobs
		   WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?)`,
		string(broadcast.StatusCompleted), string(broadcast.StatusFailed), cutoff,
	)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM broadcast_jobs
		 WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(broadcast.StatusCompleted), string(broadcast.StatusFailed), cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
