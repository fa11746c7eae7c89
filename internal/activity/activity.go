// Package activity tracks recently-seen users in Redis.
//
// Every handled update stamps its sender under a TTL key. The same keys
// serve as the broadcast engine's fallback recipient source when the primary
// directory is empty: best-effort, possibly incomplete, but better than a
// job silently processing zero recipients.
package activity

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"telecast/internal/broadcast"
)

const (
	keyPrefix  = "user:activity:"
	scanCount  = 512
	defaultTTL = 5 * time.Minute
)

type Tracker struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

func New(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Tracker{rdb: rdb, ttl: ttl, log: log}
}

// Touch refreshes the user's activity window.
func (t *Tracker) Touch(ctx context.Context, userID int64) error {
	key := keyPrefix + strconv.FormatInt(userID, 10)
	return t.rdb.Set(ctx, key, time.Now().Unix(), t.ttl).Err()
}

// RecentlyActive scans the live activity keys and returns their user ids, up
// to limit. The set is un-deduplicated against the directory and carries no
// eligibility guarantees.
func (t *Tracker) RecentlyActive(ctx context.Context, limit int) ([]broadcast.Recipient, error) {
	var (
		recips []broadcast.Recipient
		cursor uint64
	)
	for {
		keys, next, err := t.rdb.Scan(ctx, cursor, keyPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			id, err := strconv.ParseInt(strings.TrimPrefix(key, keyPrefix), 10, 64)
			if err != nil {
				t.log.Debug().Str("key", key).Msg("skipping malformed activity key")
				continue
			}
			recips = append(recips, broadcast.Recipient{ID: id})
			if limit > 0 && len(recips) >= limit {
				return recips, nil
			}
		}
		cursor = next
		if cursor == 0 {
			return recips, nil
		}
	}
}
