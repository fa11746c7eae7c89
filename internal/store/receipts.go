package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Delivered reports whether this recipient already holds a sent receipt for
// the job. Used to make redelivery after a restart idempotent.
func (s *Store) Delivered(ctx context.Context, jobID string, recipient int64) (bool, error) {
	var status string
	err := s.db.GetContext(ctx, &status,
		`SELECT status FROM broadcast_receipts WHERE job_id = ? AND recipient_id = ?`,
		jobID, recipient,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == "sent", nil
}

// Record upserts the terminal outcome for one (job, recipient) pair. The
// primary key keeps receipts unique per pair; a redelivered recipient
// overwrites rather than duplicates.
func (s *Store) Record(ctx context.Context, jobID string, recipient int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_receipts(job_id, recipient_id, status, sent_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(job_id, recipient_id) DO UPDATE SET
		   status = excluded.status,
		   sent_at = excluded.sent_at`,
		jobID, recipient, status, fmtTime(time.Now()),
	)
	return err
}
