package telegram

import (
	"sync"
	"time"

	"telecast/internal/store"
)

// composeSessionTTL bounds how long an abandoned compose flow lingers.
const composeSessionTTL = 15 * time.Minute

type composeState int

const (
	stateAwaitContent composeState = iota
	stateAwaitPace
	stateAwaitConfirm
)

// composeSession is the per-admin state of an in-flight /broadcast flow.
// Sessions are explicit objects keyed by admin id with expiry, never
// package-level mutable state, so concurrent admins cannot trample each
// other and a dropped flow cleans itself up.
type composeSession struct {
	state   composeState
	draft   store.NewJob
	expires time.Time
}

// sessionStore hands out copies, never shared pointers: the bot runs each
// handler in its own goroutine, so a session mutated in place would race with
// the next update from the same admin. Handlers work on their copy and put it
// back; the last write wins.
type sessionStore struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[int64]composeSession
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{ttl: ttl, m: make(map[int64]composeSession)}
}

// get returns a copy of the admin's live session, if any.
func (s *sessionStore) get(adminID int64) (composeSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[adminID]
	if !ok {
		return composeSession{}, false
	}
	if time.Now().After(sess.expires) {
		delete(s.m, adminID)
		return composeSession{}, false
	}
	return sess, true
}

// put stores the session and refreshes its expiry.
func (s *sessionStore) put(adminID int64, sess composeSession) {
	now := time.Now()
	sess.expires = now.Add(s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	// Opportunistic sweep keeps the map bounded without a background timer.
	for id, old := range s.m {
		if now.After(old.expires) {
			delete(s.m, id)
		}
	}
	s.m[adminID] = sess
}

func (s *sessionStore) drop(adminID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, adminID)
}
