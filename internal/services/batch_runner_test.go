package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vitalloop/vitalloop-backend/internal/types"
)

func testBatchRunner(t *testing.T, cfg BatchConfig) (*batchRunner, *[]time.Duration) {
	t.Helper()
	br := NewBatchRunner(testLogger(t), nil, nil, cfg).(*batchRunner)
	var sleeps []time.Duration
	br.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return br, &sleeps
}

func makeUserIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func TestChunkIDs(t *testing.T) {
	ids := makeUserIDs(23)
	chunks := chunkIDs(ids, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[1]) != 10 || len(chunks[2]) != 3 {
		t.Fatalf("expected chunk sizes (10,10,3), got (%d,%d,%d)", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunkIDs(nil, 10) != nil {
		t.Fatalf("no ids should mean no chunks")
	}
}

func TestBatchRunnerProcessesEveryUserOnce(t *testing.T) {
	br, sleeps := testBatchRunner(t, BatchConfig{
		BatchSize:       10,
		InterBatchDelay: time.Second,
	})

	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	work := func(ctx context.Context, userID uuid.UUID) error {
		mu.Lock()
		seen[userID]++
		mu.Unlock()
		return nil
	}

	ids := makeUserIDs(23)
	report, err := br.Run(context.Background(), types.ArtifactStories, ids, work)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total != 23 || report.Succeeded != 23 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Fatalf("user %s processed %d times, want 1", id, seen[id])
		}
	}
	// Two pauses between three chunks, none after the last.
	if len(*sleeps) != 2 {
		t.Fatalf("expected 2 inter-batch delays, got %d (%v)", len(*sleeps), *sleeps)
	}
}

func TestBatchRunnerIsolatesFailures(t *testing.T) {
	br, _ := testBatchRunner(t, BatchConfig{
		BatchSize:    5,
		RetryBackoff: []time.Duration{time.Second, 2 * time.Second},
	})

	ids := makeUserIDs(12)
	failing := ids[3]
	var mu sync.Mutex
	attempts := map[uuid.UUID]int{}
	work := func(ctx context.Context, userID uuid.UUID) error {
		mu.Lock()
		attempts[userID]++
		mu.Unlock()
		if userID == failing {
			return fmt.Errorf("generation blew up")
		}
		return nil
	}

	report, err := br.Run(context.Background(), types.ArtifactInsights, ids, work)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Succeeded != 11 || report.Failed != 1 || report.Retried != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	// Initial pass plus one attempt per retry slot.
	if attempts[failing] != 3 {
		t.Fatalf("failing user attempted %d times, want 3", attempts[failing])
	}
	for _, id := range ids {
		if id != failing && attempts[id] != 1 {
			t.Fatalf("healthy user %s attempted %d times, want 1", id, attempts[id])
		}
	}
}

func TestBatchRunnerRetryRecovers(t *testing.T) {
	br, _ := testBatchRunner(t, BatchConfig{
		BatchSize:    5,
		RetryBackoff: []time.Duration{time.Second, 2 * time.Second},
	})

	ids := makeUserIDs(6)
	flaky := ids[0]
	var mu sync.Mutex
	attempts := map[uuid.UUID]int{}
	work := func(ctx context.Context, userID uuid.UUID) error {
		mu.Lock()
		attempts[userID]++
		n := attempts[userID]
		mu.Unlock()
		if userID == flaky && n == 1 {
			return fmt.Errorf("transient wobble")
		}
		return nil
	}

	report, err := br.Run(context.Background(), types.ArtifactScores, ids, work)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Succeeded != 6 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Retried != 1 {
		t.Fatalf("expected 1 retried user, got %d", report.Retried)
	}
	if attempts[flaky] != 2 {
		t.Fatalf("flaky user attempted %d times, want 2", attempts[flaky])
	}
}

func TestBatchRunnerInFlightWorkOutlivesCancellation(t *testing.T) {
	br, _ := testBatchRunner(t, BatchConfig{
		BatchSize:       2,
		InterBatchDelay: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var mu sync.Mutex
	var unitCtxErrs []error
	work := func(wctx context.Context, userID uuid.UUID) error {
		started <- struct{}{}
		<-release
		mu.Lock()
		unitCtxErrs = append(unitCtxErrs, wctx.Err())
		mu.Unlock()
		return nil
	}
	go func() {
		<-started
		<-started
		cancel()
		close(release)
	}()

	report, err := br.Run(ctx, types.ArtifactStrategies, makeUserIDs(4), work)
	if err == nil {
		t.Fatalf("expected a cancellation error")
	}
	if !report.Canceled {
		t.Fatalf("report should be marked canceled: %+v", report)
	}
	// Cancellation arrived while both units of the first chunk were in
	// flight. They must finish undisturbed; the run stops afterward.
	mu.Lock()
	defer mu.Unlock()
	if len(unitCtxErrs) != 2 {
		t.Fatalf("expected the full first chunk to finish, got %d units", len(unitCtxErrs))
	}
	for _, cerr := range unitCtxErrs {
		if cerr != nil {
			t.Fatalf("in-flight unit saw a canceled context: %v", cerr)
		}
	}
	if report.Succeeded != 2 || report.Failed != 0 {
		t.Fatalf("in-flight units should succeed, got %+v", report)
	}
}

func TestBatchRunnerCancellationBetweenChunks(t *testing.T) {
	br, _ := testBatchRunner(t, BatchConfig{
		BatchSize:       2,
		InterBatchDelay: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	processed := 0
	work := func(ctx context.Context, userID uuid.UUID) error {
		mu.Lock()
		processed++
		if processed == 2 {
			cancel()
		}
		mu.Unlock()
		return nil
	}

	report, err := br.Run(ctx, types.ArtifactPatterns, makeUserIDs(6), work)
	if err == nil {
		t.Fatalf("expected a cancellation error")
	}
	if !report.Canceled {
		t.Fatalf("report should be marked canceled: %+v", report)
	}
	// The in-flight chunk settles; later chunks never start.
	if processed != 2 {
		t.Fatalf("expected exactly the first chunk to run, processed %d", processed)
	}
	if report.Succeeded != 2 {
		t.Fatalf("first chunk's users should count as succeeded, got %d", report.Succeeded)
	}
}
