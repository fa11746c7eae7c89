package telegram

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"telecast/internal/store"
)

func TestSessionExpiry(t *testing.T) {
	s := newSessionStore(20 * time.Millisecond)
	s.put(1, composeSession{state: stateAwaitContent})

	if _, ok := s.get(1); !ok {
		t.Fatal("fresh session not found")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.get(1); ok {
		t.Fatal("expired session still returned")
	}
}

func TestSessionPutExtendsExpiry(t *testing.T) {
	s := newSessionStore(40 * time.Millisecond)
	s.put(1, composeSession{state: stateAwaitPace})

	time.Sleep(25 * time.Millisecond)
	sess, ok := s.get(1)
	if !ok {
		t.Fatal("session gone before ttl")
	}
	s.put(1, sess)
	time.Sleep(25 * time.Millisecond)

	if _, ok := s.get(1); !ok {
		t.Fatal("re-put session expired on the original clock")
	}
}

func TestSessionIsolationAndDrop(t *testing.T) {
	s := newSessionStore(time.Minute)
	s.put(1, composeSession{state: stateAwaitContent})
	s.put(2, composeSession{state: stateAwaitConfirm})

	a, _ := s.get(1)
	b, _ := s.get(2)
	if a.state != stateAwaitContent || b.state != stateAwaitConfirm {
		t.Fatal("sessions bled into each other")
	}

	s.drop(1)
	if _, ok := s.get(1); ok {
		t.Fatal("dropped session still present")
	}
	if _, ok := s.get(2); !ok {
		t.Fatal("dropping one admin's session removed another's")
	}
}

// The store hands out copies: mutating what get returned must not change the
// stored session until it is put back. Handlers run on separate goroutines,
// so shared pointers here would race.
func TestSessionGetReturnsCopy(t *testing.T) {
	s := newSessionStore(time.Minute)
	s.put(1, composeSession{state: stateAwaitContent, draft: store.NewJob{AdminID: 1}})

	sess, _ := s.get(1)
	sess.state = stateAwaitConfirm
	sess.draft.Text = "mutated"

	stored, _ := s.get(1)
	if stored.state != stateAwaitContent || stored.draft.Text != "" {
		t.Fatalf("stored session changed without put: %+v", stored)
	}

	s.put(1, sess)
	stored, _ = s.get(1)
	if stored.state != stateAwaitConfirm || stored.draft.Text != "mutated" {
		t.Fatalf("put did not persist the copy: %+v", stored)
	}
}

// Concurrent handlers for the same admin: the race detector must stay quiet.
func TestSessionConcurrentAccess(t *testing.T) {
	s := newSessionStore(time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sess, ok := s.get(1)
				if !ok {
					sess = composeSession{state: stateAwaitContent}
				}
				sess.draft.Text = "draft"
				sess.state = composeState(i % 3)
				s.put(1, sess)
				if g%4 == 3 && i%50 == 0 {
					s.drop(1)
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestSessionSweep(t *testing.T) {
	s := newSessionStore(10 * time.Millisecond)
	for id := int64(1); id <= 5; id++ {
		s.put(id, composeSession{})
	}
	time.Sleep(20 * time.Millisecond)

	// A new put sweeps the expired entries out of the map.
	s.put(100, composeSession{})
	s.mu.Lock()
	n := len(s.m)
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("map holds %d sessions after sweep, want 1", n)
	}
}

func TestPreviewText(t *testing.T) {
	if got := previewText("short", 80); got != "short" {
		t.Fatalf("short preview = %q", got)
	}

	long := strings.Repeat("a", 80)
	got := previewText(long+"tail", 80)
	if got != long+"…" {
		t.Fatalf("preview = %q, want 80 runes plus ellipsis", got)
	}

	// Multibyte text must never be cut mid-rune.
	got = previewText(strings.Repeat("日", 90), 80)
	if !utf8.ValidString(got) {
		t.Fatalf("preview is not valid UTF-8: %q", got)
	}
	if n := len([]rune(got)); n != 81 {
		t.Fatalf("preview length = %d runes, want 80 plus ellipsis", n)
	}
}
