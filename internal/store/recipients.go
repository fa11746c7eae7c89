package store

import (
	"context"
	"time"

	"telecast/internal/broadcast"
)

// UpsertUser records a user sighting. The directory fills organically from
// incoming updates; re-seeing a user refreshes last_seen and reactivates
// them.
func (s *Store) UpsertUser(ctx context.Context, id int64, username string) error {
	now := fmtTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, first_seen, last_seen)
		 VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   last_seen = excluded.last_seen,
		   is_active = 1`,
		id, username, now, now,
	)
	return err
}

// SetBanned toggles a user's ban flag. Banned users are never enumerated.
func (s *Store) SetBanned(ctx context.Context, id int64, banned bool) error {
	v := 0
	if banned {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_banned = ? WHERE id = ?`, v, id)
	return err
}

// CountEligible counts recipients the engine would enumerate.
func (s *Store) CountEligible(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM users WHERE is_banned = 0 AND is_active = 1`)
	return n, err
}

// ListEligible returns the next batch of eligible recipients ordered by id,
// strictly after the cursor. Keyset pagination keeps memory constant and
// makes the sequence restartable from any saved cursor.
func (s *Store) ListEligible(ctx context.Context, afterID int64, limit int) ([]broadcast.Recipient, error) {
	if limit <= 0 {
		limit = 500
	}
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM users
		 WHERE is_banned = 0 AND is_active = 1 AND id > ?
		 ORDER BY id LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	recips := make([]broadcast.Recipient, 0, len(ids))
	for _, id := range ids {
		recips = append(recips, broadcast.Recipient{ID: id})
	}
	return recips, nil
}
