package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/types"
)

func TestWeekStartUTC(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "midweek",
			in:   time.Date(2025, 9, 3, 15, 30, 0, 0, time.UTC),
			want: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "monday_midnight_is_its_own_week",
			in:   time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday_belongs_to_previous_monday",
			in:   time.Date(2025, 9, 7, 23, 59, 59, 0, time.UTC),
			want: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "non_utc_input_normalized",
			in:   time.Date(2025, 9, 1, 5, 0, 0, 0, time.FixedZone("plus10", 10*3600)),
			want: time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WeekStartUTC(tc.in); !got.Equal(tc.want) {
				t.Fatalf("WeekStartUTC(%v)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

type quotaKey struct {
	user uuid.UUID
	week time.Time
}

// memQuotaRepo mirrors the guarded-update semantics of the real repo in memory.
type memQuotaRepo struct {
	mu   sync.Mutex
	used map[quotaKey]int
}

func newMemQuotaRepo() *memQuotaRepo {
	return &memQuotaRepo{used: map[quotaKey]int{}}
}

func (m *memQuotaRepo) TryConsume(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekStart time.Time, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := quotaKey{user: userID, week: weekStart}
	if m.used[key] >= limit {
		return false, nil
	}
	m.used[key]++
	return true, nil
}

func (m *memQuotaRepo) Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekStart time.Time) (*types.RefreshQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := quotaKey{user: userID, week: weekStart}
	used, ok := m.used[key]
	if !ok {
		return nil, nil
	}
	return &types.RefreshQuota{
		UserID:        userID,
		WeekStart:     weekStart,
		RefreshLimit:  10,
		RefreshesUsed: used,
	}, nil
}

func TestRefreshQuotaConsumeUntilExhausted(t *testing.T) {
	repo := newMemQuotaRepo()
	svc := NewRefreshQuotaService(nil, testLogger(t), repo)
	userID := uuid.New()
	now := time.Date(2025, 9, 3, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		if err := svc.Consume(context.Background(), userID, now); err != nil {
			t.Fatalf("Consume %d: %v", i, err)
		}
	}

	err := svc.Consume(context.Background(), userID, now)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("11th consume should exceed the quota, got %v", err)
	}

	remaining, err := svc.Remaining(context.Background(), userID, now)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
}

func TestRefreshQuotaResetsAcrossWeeks(t *testing.T) {
	repo := newMemQuotaRepo()
	svc := NewRefreshQuotaService(nil, testLogger(t), repo)
	userID := uuid.New()

	thisWeek := time.Date(2025, 9, 3, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if err := svc.Consume(context.Background(), userID, thisWeek); err != nil {
			t.Fatalf("Consume %d: %v", i, err)
		}
	}
	if err := svc.Consume(context.Background(), userID, thisWeek); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected exhausted quota, got %v", err)
	}

	nextWeek := thisWeek.AddDate(0, 0, 7)
	if err := svc.Consume(context.Background(), userID, nextWeek); err != nil {
		t.Fatalf("fresh week should start with a full quota: %v", err)
	}
}

func TestRefreshQuotaRemainingForUnusedWeek(t *testing.T) {
	svc := NewRefreshQuotaService(nil, testLogger(t), newMemQuotaRepo())

	remaining, err := svc.Remaining(context.Background(), uuid.New(), time.Now())
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 10 {
		t.Fatalf("untouched week should have the full limit, got %d", remaining)
	}
}
