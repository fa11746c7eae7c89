package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"telecast/internal/broadcast"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "telecast.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreateJob(t *testing.T, s *Store, n NewJob) broadcast.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), n)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestCreateAndListPendingFIFO(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := mustCreateJob(t, s, NewJob{AdminID: 1, Kind: broadcast.KindText, Text: "first"})
	time.Sleep(2 * time.Millisecond)
	second := mustCreateJob(t, s, NewJob{AdminID: 1, Kind: broadcast.KindText, Text: "second"})

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d jobs, want 2", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("pending order = [%s %s], want oldest first", pending[0].ID, pending[1].ID)
	}
	if pending[0].Status != broadcast.StatusPending {
		t.Fatalf("status = %s, want pending", pending[0].Status)
	}
}

func TestClaimExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := mustCreateJob(t, s, NewJob{AdminID: 1, Kind: broadcast.KindText, Text: "x"})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Claim(ctx, job.ID, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, broadcast.ErrConflict):
				conflicts++
			default:
				t.Errorf("claim: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins=%d conflicts=%d, want exactly one of each", wins, conflicts)
	}
}

func TestClaimUnknownJob(t *testing.T) {
	s := openTestStore(t)
	err := s.Claim(context.Background(), "no-such-id", time.Now())
	if !errors.Is(err, broadcast.ErrNotFound) {
		t.Fatalf("claim unknown = %v, want ErrNotFound", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := mustCreateJob(t, s, NewJob{AdminID: 1, Kind: broadcast.KindText, Text: "x"})

	// Counter writes require a processing job.
	err := s.Checkpoint(ctx, job.ID, broadcast.Progress{Total: 10})
	if !errors.Is(err, broadcast.ErrInvalidTransition) {
		t.Fatalf("checkpoint on pending = %v, want ErrInvalidTransition", err)
	}

	if err := s.Claim(ctx, job.ID, time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Checkpoint(ctx, job.ID, broadcast.Progress{Total: 10, Sent: 5, Failed: 1}); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Total != 10 || got.Sent != 5 || got.Failed != 1 {
		t.Fatalf("counters = %d/%d/%d after checkpoint", got.Total, got.Sent, got.Failed)
	}

	if err := s.Complete(ctx, job.ID, broadcast.Progress{Total: 10, Sent: 9, Failed: 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = s.GetJob(ctx, job.ID)
	if got.Status != broadcast.StatusCompleted || got.CompletedAt.IsZero() {
		t.Fatalf("job = %s completed_at=%v, want completed with timestamp", got.Status, got.CompletedAt)
	}

	// Terminal states are immutable.
	if err := s.Complete(ctx, job.ID, broadcast.Progress{}); !errors.Is(err, broadcast.ErrInvalidTransition) {
		t.Fatalf("complete twice = %v, want ErrInvalidTransition", err)
	}
	if err := s.Fail(ctx, job.ID, broadcast.Progress{}, "late"); !errors.Is(err, broadcast.ErrInvalidTransition) {
		t.Fatalf("fail after complete = %v, want ErrInvalidTransition", err)
	}
	if err := s.Claim(ctx, job.ID, time.Now()); !errors.Is(err, broadcast.ErrInvalidTransition) {
		t.Fatalf("re-claim completed = %v, want ErrInvalidTransition", err)
	}
}

func TestFailRecordsReason(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := mustCreateJob(t, s, NewJob{AdminID: 1, Kind: broadcast.KindText, Text: "x"})

	if err := s.Claim(ctx, job.ID, time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Fail(ctx, job.ID, broadcast.Progress{Total: 4, Sent: 2, Failed: 1}, "directory unavailable"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != broadcast.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage != "directory unavailable" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
	if got.Sent != 2 {
		t.Fatalf("sent = %d, want last checkpointed 2", got.Sent)
	}
}

func TestDirectoryEligibility(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		if err := s.UpsertUser(ctx, i, ""); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if err := s.SetBanned(ctx, 4, true); err != nil {
		t.Fatalf("ban: %v", err)
	}

	n, err := s.CountEligible(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 9 {
		t.Fatalf("eligible = %d, want 9", n)
	}

	// Keyset pagination: walk in batches of 4, banned id never appears.
	var got []int64
	var cursor int64
	for {
		batch, err := s.ListEligible(ctx, cursor, 4)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, r := range batch {
			got = append(got, r.ID)
		}
		cursor = batch[len(batch)-1].ID
	}
	if len(got) != 9 {
		t.Fatalf("enumerated %d recipients, want 9", len(got))
	}
	for i, id := range got {
		if id == 4 {
			t.Fatal("banned user enumerated")
		}
		if i > 0 && id <= got[i-1] {
			t.Fatalf("ids not strictly ascending: %v", got)
		}
	}

	// Re-seeing a user never clears a ban; only an explicit unban does.
	if err := s.UpsertUser(ctx, 4, "back"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n, _ := s.CountEligible(ctx); n != 9 {
		t.Fatalf("eligible after re-seeing banned user = %d, want still 9", n)
	}
	if err := s.SetBanned(ctx, 4, false); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if n, _ := s.CountEligible(ctx); n != 10 {
		t.Fatalf("eligible after unban = %d, want 10", n)
	}
}

func TestReceipts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := mustCreateJob(t, s, NewJob{AdminID: 1, Kind: broadcast.KindText, Text: "x"})

	done, err := s.Delivered(ctx, job.ID, 42)
	if err != nil || done {
		t.Fatalf("delivered before record = %v, %v", done, err)
	}

	if err := s.Record(ctx, job.ID, 42, "sent"); err != nil {
		t.Fatalf("record: %v", err)
	}
	done, err = s.Delivered(ctx, job.ID, 42)
	if err != nil || !done {
		t.Fatalf("delivered = %v, %v, want true", done, err)
	}

	// A failed receipt does not count as delivered; the recipient is
	// eligible for redelivery.
	if err := s.Record(ctx, job.ID, 43, "failed"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	done, err = s.Delivered(ctx, job.ID, 43)
	if err != nil || done {
		t.Fatalf("failed receipt counted as delivered")
	}

	// Upsert on the same pair overwrites.
	if err := s.Record(ctx, job.ID, 43, "sent"); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if done, _ = s.Delivered(ctx, job.ID, 43); !done {
		t.Fatal("overwritten receipt not visible")
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := mustCreateJob(t, s, NewJob{Kind: broadcast.KindText, Text: "a"})
	mustCreateJob(t, s, NewJob{Kind: broadcast.KindText, Text: "b"})
	if err := s.Claim(ctx, a.ID, time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Complete(ctx, a.ID, broadcast.Progress{Total: 1, Sent: 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 2 || st.Pending != 1 || st.Completed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPruneFinished(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := mustCreateJob(t, s, NewJob{Kind: broadcast.KindText, Text: "old"})
	if err := s.Claim(ctx, old.ID, time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Complete(ctx, old.ID, broadcast.Progress{Total: 1, Sent: 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Record(ctx, old.ID, 7, "sent"); err != nil {
		t.Fatalf("record: %v", err)
	}
	keep := mustCreateJob(t, s, NewJob{Kind: broadcast.KindText, Text: "keep"})

	// Zero ttl makes every finished job eligible; pending jobs survive.
	time.Sleep(2 * time.Millisecond)
	n, err := s.PruneFinished(ctx, 0)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d jobs, want 1", n)
	}

	if _, err := s.GetJob(ctx, old.ID); !errors.Is(err, broadcast.ErrNotFound) {
		t.Fatalf("pruned job lookup = %v, want ErrNotFound", err)
	}
	if _, err := s.GetJob(ctx, keep.ID); err != nil {
		t.Fatalf("pending job pruned: %v", err)
	}
	if done, _ := s.Delivered(ctx, old.ID, 7); done {
		t.Fatal("receipt survived its job")
	}
}
