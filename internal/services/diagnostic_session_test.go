package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/platform/openai"
	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]types.DiagnosticSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[uuid.UUID]types.DiagnosticSession{}}
}

func (m *memSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.DiagnosticSession) (*types.DiagnosticSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	m.sessions[session.ID] = *session
	return session, nil
}

func (m *memSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.DiagnosticSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, repos.ErrSessionNotFound
	}
	copied := s
	return &copied, nil
}

func (m *memSessionRepo) Save(ctx context.Context, tx *gorm.DB, session *types.DiagnosticSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *memSessionRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.DiagnosticSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.DiagnosticSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			copied := s
			out = append(out, &copied)
		}
	}
	return out, nil
}

// scriptedChain returns canned structured responses in order, then repeats the
// last one.
type scriptedChain struct {
	mu        sync.Mutex
	responses []map[string]any
	calls     int
}

func (c *scriptedChain) Generate(ctx context.Context, req ChainRequest) (*openai.GenerateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return &openai.GenerateResult{Fields: c.responses[idx], Model: "model-test"}, nil
}

func question(text string, confidence int) map[string]any {
	return map[string]any{"question": text, "confidence": float64(confidence), "ready": false}
}

func readyResponse(confidence int) map[string]any {
	return map[string]any{"question": "", "confidence": float64(confidence), "ready": true}
}

func newTestDiagnosticService(t *testing.T, chain ChainGenerator) (DiagnosticService, *memSessionRepo) {
	t.Helper()
	repo := newMemSessionRepo()
	svc := NewDiagnosticService(nil, testLogger(t), repo, chain, DefaultSessionConfig())
	return svc, repo
}

func mustStart(t *testing.T, svc DiagnosticService) *AdvanceResult {
	t.Helper()
	res, err := svc.StartSession(context.Background(), uuid.New(), "recurring morning headaches")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return res
}

func TestStartSessionAsksOpeningQuestion(t *testing.T) {
	chain := &scriptedChain{responses: []map[string]any{
		question("How long have the headaches been happening?", 20),
	}}
	svc, _ := newTestDiagnosticService(t, chain)

	res := mustStart(t, svc)
	if res.Session.Status != types.SessionStatusActive {
		t.Fatalf("new session should be active, got %s", res.Session.Status)
	}
	if res.Question == "" {
		t.Fatalf("expected an opening question")
	}
	if got := len(res.Session.InitialQuestionList()); got != 1 {
		t.Fatalf("expected 1 initial question, got %d", got)
	}
}

func TestAdvanceAsksDistinctQuestionsUntilReady(t *testing.T) {
	chain := &scriptedChain{responses: []map[string]any{
		question("How long have the headaches been happening?", 20),
		question("Where exactly is the pain located?", 45),
		readyResponse(92),
	}}
	svc, _ := newTestDiagnosticService(t, chain)

	start := mustStart(t, svc)
	res, err := svc.Advance(context.Background(), start.Session.ID, "about three weeks")
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if res.AnalysisReady {
		t.Fatalf("should still be questioning")
	}
	if res.Question != "Where exactly is the pain located?" {
		t.Fatalf("unexpected question %q", res.Question)
	}

	res, err = svc.Advance(context.Background(), start.Session.ID, "behind my right eye")
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !res.AnalysisReady {
		t.Fatalf("generator said ready, session should be analysis_ready")
	}
	if res.Session.Status != types.SessionStatusAnalysisReady {
		t.Fatalf("status %s, want %s", res.Session.Status, types.SessionStatusAnalysisReady)
	}
	if res.Session.InitialQuestionsCount == nil || *res.Session.InitialQuestionsCount != 2 {
		t.Fatalf("initial question count should be fixed at 2, got %v", res.Session.InitialQuestionsCount)
	}
}

func TestAdvanceStopsAtQuestionCeiling(t *testing.T) {
	// Generator never reports ready and always has a fresh question.
	responses := []map[string]any{
		question("question one about sleep?", 30),
		question("question two about diet?", 40),
		question("question three about stress?", 50),
		question("question four about exercise?", 55),
		question("question five about medication?", 60),
		question("question six about family history?", 65),
		question("question seven about caffeine?", 70),
	}
	chain := &scriptedChain{responses: responses}
	svc, _ := newTestDiagnosticService(t, chain)

	start := mustStart(t, svc)
	var last *AdvanceResult
	for i := 0; i < 10; i++ {
		res, err := svc.Advance(context.Background(), start.Session.ID, "an answer")
		if err != nil {
			t.Fatalf("Advance %d: %v", i, err)
		}
		last = res
		if res.AnalysisReady {
			break
		}
	}
	if last == nil || !last.AnalysisReady {
		t.Fatalf("session never reached analysis_ready")
	}
	if got := len(last.Session.InitialQuestionList()); got != 6 {
		t.Fatalf("expected the ceiling of 6 initial questions, got %d", got)
	}
}

func TestAdvanceRejectsNonActiveSession(t *testing.T) {
	chain := &scriptedChain{responses: []map[string]any{
		question("opening?", 20),
		readyResponse(90),
	}}
	svc, repo := newTestDiagnosticService(t, chain)

	start := mustStart(t, svc)
	if _, err := svc.Advance(context.Background(), start.Session.ID, "answer"); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	_, err := svc.Advance(context.Background(), start.Session.ID, "another answer")
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), nil, start.Session.ID)
	if stored.Status != types.SessionStatusAnalysisReady {
		t.Fatalf("rejected call must not change status, got %s", stored.Status)
	}
}

func TestAskMoreTargetAlreadyAchieved(t *testing.T) {
	chain := &scriptedChain{responses: []map[string]any{
		question("opening?", 20),
		readyResponse(95),
	}}
	svc, _ := newTestDiagnosticService(t, chain)

	start := mustStart(t, svc)
	if _, err := svc.Advance(context.Background(), start.Session.ID, "answer"); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	res, err := svc.AskMore(context.Background(), start.Session.ID, AskMoreInput{})
	if err != nil {
		t.Fatalf("AskMore: %v", err)
	}
	if !res.TargetAchieved {
		t.Fatalf("confidence 95 vs target 90 should report target achieved: %+v", res)
	}
	if res.Question != "" {
		t.Fatalf("no question should be generated when the target is met")
	}
}

func TestAskMoreIssuesQuestionsUntilLimit(t *testing.T) {
	chain := &scriptedChain{responses: []map[string]any{
		question("opening?", 20),
		readyResponse(60),
		{"question": "extra question one about triggers?"},
		{"question": "extra question two about onset timing?"},
		{"question": "extra question three about severity scale?"},
		{"question": "extra question four about prior treatment?"},
		{"question": "extra question five about daily routine?"},
	}}
	svc, _ := newTestDiagnosticService(t, chain)

	start := mustStart(t, svc)
	if _, err := svc.Advance(context.Background(), start.Session.ID, "answer"); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	for i := 0; i < 5; i++ {
		res, err := svc.AskMore(context.Background(), start.Session.ID, AskMoreInput{Answer: "some answer"})
		if err != nil {
			t.Fatalf("AskMore %d: %v", i, err)
		}
		if res.Question == "" {
			t.Fatalf("AskMore %d: expected a question, got %+v", i, res)
		}
		if res.QuestionsRemaining != 5-i-1 {
			t.Fatalf("AskMore %d: remaining %d, want %d", i, res.QuestionsRemaining, 5-i-1)
		}
	}

	res, err := svc.AskMore(context.Background(), start.Session.ID, AskMoreInput{Answer: "last answer"})
	if err != nil {
		t.Fatalf("AskMore at limit: %v", err)
	}
	if !res.ShouldFinalize {
		t.Fatalf("limit reached should advise finalizing: %+v", res)
	}
}

func TestAskMoreDeduplicatesAndFinalizes(t *testing.T) {
	chain := &scriptedChain{responses: []map[string]any{
		question("do you drink coffee every morning?", 20),
		readyResponse(60),
		// Both candidates collide with the initial question.
		{"question": "do you drink coffee every single morning?"},
		{"question": "do you drink coffee every day in the morning?"},
	}}
	svc, _ := newTestDiagnosticService(t, chain)

	start := mustStart(t, svc)
	if _, err := svc.Advance(context.Background(), start.Session.ID, "yes"); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	res, err := svc.AskMore(context.Background(), start.Session.ID, AskMoreInput{})
	if err != nil {
		t.Fatalf("AskMore: %v", err)
	}
	if !res.ShouldFinalize {
		t.Fatalf("two duplicate candidates should advise finalizing: %+v", res)
	}
	if res.Question != "" {
		t.Fatalf("duplicate question must not be issued")
	}
}

func TestCompleteProducesFinalAnalysis(t *testing.T) {
	chain := &scriptedChain{responses: []map[string]any{
		question("opening?", 20),
		readyResponse(88),
		{
			"summary":         "Findings point to tension-type headaches.",
			"possible_causes": []any{map[string]any{"name": "tension headache", "likelihood": "high"}},
			"recommendations": []any{"keep a headache diary"},
			"confidence":      float64(88),
		},
	}}
	svc, _ := newTestDiagnosticService(t, chain)

	start := mustStart(t, svc)
	if _, err := svc.Advance(context.Background(), start.Session.ID, "answer"); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	session, err := svc.Complete(context.Background(), start.Session.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if session.Status != types.SessionStatusCompleted {
		t.Fatalf("status %s, want completed", session.Status)
	}
	if len(session.FinalAnalysis) == 0 {
		t.Fatalf("final analysis should be stored")
	}

	if _, err := svc.Complete(context.Background(), start.Session.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("completing twice should fail, got %v", err)
	}
}

func TestCompleteRequiresAtLeastOneQuestion(t *testing.T) {
	chain := &scriptedChain{responses: []map[string]any{question("opening?", 20)}}
	svc, repo := newTestDiagnosticService(t, chain)

	// Handcraft a session with no questions at all.
	session := &types.DiagnosticSession{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: types.SessionStatusActive,
	}
	if _, err := repo.Create(context.Background(), nil, session); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	_, err := svc.Complete(context.Background(), session.ID)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestAbandonFromAnyNonTerminalState(t *testing.T) {
	chain := &scriptedChain{responses: []map[string]any{
		question("opening?", 20),
	}}
	svc, _ := newTestDiagnosticService(t, chain)

	start := mustStart(t, svc)
	session, err := svc.Abandon(context.Background(), start.Session.ID)
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if session.Status != types.SessionStatusAbandoned {
		t.Fatalf("status %s, want abandoned", session.Status)
	}

	if _, err := svc.Abandon(context.Background(), start.Session.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("abandoning a terminal session should fail, got %v", err)
	}
	if _, err := svc.Complete(context.Background(), start.Session.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("completing an abandoned session should fail, got %v", err)
	}
}

func TestSessionStatusTransitions(t *testing.T) {
	cases := []struct {
		from types.SessionStatus
		to   types.SessionStatus
		want bool
	}{
		{types.SessionStatusActive, types.SessionStatusAnalysisReady, true},
		{types.SessionStatusActive, types.SessionStatusAbandoned, true},
		{types.SessionStatusActive, types.SessionStatusCompleted, true},
		{types.SessionStatusAnalysisReady, types.SessionStatusCompleted, true},
		{types.SessionStatusAnalysisReady, types.SessionStatusAbandoned, true},
		{types.SessionStatusAnalysisReady, types.SessionStatusActive, false},
		{types.SessionStatusCompleted, types.SessionStatusAbandoned, false},
		{types.SessionStatusCompleted, types.SessionStatusActive, false},
		{types.SessionStatusAbandoned, types.SessionStatusCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
