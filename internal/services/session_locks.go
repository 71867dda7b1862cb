package services

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks serializes operations per session id. Status and question-count
// invariants assume a single writer at a time per session; unrelated sessions
// stay fully concurrent, which is why this is keyed rather than one big lock.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLockEntry
}

type sessionLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: map[uuid.UUID]*sessionLockEntry{}}
}

// lock blocks until the session's lock is held and returns the unlock func.
func (sl *sessionLocks) lock(sessionID uuid.UUID) func() {
	sl.mu.Lock()
	entry, ok := sl.locks[sessionID]
	if !ok {
		entry = &sessionLockEntry{}
		sl.locks[sessionID] = entry
	}
	entry.refs++
	sl.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		sl.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(sl.locks, sessionID)
		}
		sl.mu.Unlock()
	}
}
