package services

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestSessionLocksSerializePerSession(t *testing.T) {
	locks := newSessionLocks()
	sessionID := uuid.New()

	const workers = 16
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := locks.lock(sessionID)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("counter = %d, want %d", counter, workers)
	}
}

func TestSessionLocksIndependentAcrossSessions(t *testing.T) {
	locks := newSessionLocks()
	a := uuid.New()
	b := uuid.New()

	unlockA := locks.lock(a)
	done := make(chan struct{})
	go func() {
		unlockB := locks.lock(b)
		unlockB()
		close(done)
	}()
	// Holding a must not block b.
	<-done
	unlockA()
}

func TestSessionLocksReleaseEntries(t *testing.T) {
	locks := newSessionLocks()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				unlock := locks.lock(id)
				unlock()
			}(id)
		}
	}
	wg.Wait()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("lock table should be empty once all holders release, has %d entries", len(locks.locks))
	}
}
