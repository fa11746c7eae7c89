package activity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Minute, zerolog.Nop()), mr
}

func TestTouchExpiry(t *testing.T) {
	tr, mr := newTestTracker(t)
	ctx := context.Background()

	if err := tr.Touch(ctx, 42); err != nil {
		t.Fatalf("touch: %v", err)
	}
	recips, err := tr.RecentlyActive(ctx, 0)
	if err != nil || len(recips) != 1 || recips[0].ID != 42 {
		t.Fatalf("recently active after touch = %v, %v", recips, err)
	}

	// The activity window expires.
	mr.FastForward(2 * time.Minute)
	recips, err = tr.RecentlyActive(ctx, 0)
	if err != nil || len(recips) != 0 {
		t.Fatalf("recently active after expiry = %v, %v", recips, err)
	}
}

func TestRecentlyActive(t *testing.T) {
	tr, mr := newTestTracker(t)
	ctx := context.Background()

	for _, id := range []int64{10, 11, 12} {
		if err := tr.Touch(ctx, id); err != nil {
			t.Fatalf("touch %d: %v", id, err)
		}
	}
	// Unrelated and malformed keys must not leak into the result.
	mr.Set("session:10", "x")
	mr.Set(keyPrefix+"not-a-number", "x")

	recips, err := tr.RecentlyActive(ctx, 0)
	if err != nil {
		t.Fatalf("recently active: %v", err)
	}
	got := make(map[int64]bool, len(recips))
	for _, r := range recips {
		got[r.ID] = true
	}
	if len(got) != 3 || !got[10] || !got[11] || !got[12] {
		t.Fatalf("recipients = %v", recips)
	}
}

func TestRecentlyActiveLimit(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	for i := int64(1); i <= 20; i++ {
		if err := tr.Touch(ctx, i); err != nil {
			t.Fatalf("touch: %v", err)
		}
	}
	recips, err := tr.RecentlyActive(ctx, 5)
	if err != nil {
		t.Fatalf("recently active: %v", err)
	}
	if len(recips) != 5 {
		t.Fatalf("got %d recipients, want the limit of 5", len(recips))
	}
}
