package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/types"
	"github.com/vitalloop/vitalloop-backend/internal/utils"
)

type SessionConfig struct {
	Confidence ConfidenceConfig

	// MaxAdditionalQuestions caps the ask-more phase per session.
	MaxAdditionalQuestions int
	// AbsoluteMaxQuestions is the hard ceiling across both phases. AskMore
	// refuses rather than exceed it even when the per-phase cap still has room.
	AbsoluteMaxQuestions int
	// DefaultTargetConfidence seeds new sessions.
	DefaultTargetConfidence int
	// SimilarityThreshold is the dedup cutoff for candidate questions.
	SimilarityThreshold float64
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Confidence:              DefaultConfidenceConfig(),
		MaxAdditionalQuestions:  5,
		AbsoluteMaxQuestions:    11,
		DefaultTargetConfidence: 90,
		SimilarityThreshold:     0.8,
	}
}

func LoadSessionConfig(log *logger.Logger) SessionConfig {
	def := DefaultSessionConfig()
	cfg := SessionConfig{
		Confidence:              LoadConfidenceConfig(log),
		MaxAdditionalQuestions:  utils.GetEnvAsInt("DIAGNOSTIC_MAX_ADDITIONAL_QUESTIONS", def.MaxAdditionalQuestions, log),
		AbsoluteMaxQuestions:    utils.GetEnvAsInt("DIAGNOSTIC_MAX_TOTAL_QUESTIONS", def.AbsoluteMaxQuestions, log),
		DefaultTargetConfidence: utils.GetEnvAsInt("DIAGNOSTIC_TARGET_CONFIDENCE", def.DefaultTargetConfidence, log),
		SimilarityThreshold:     def.SimilarityThreshold,
	}
	if pct := utils.GetEnvAsInt("DIAGNOSTIC_SIMILARITY_THRESHOLD_PCT", 0, log); pct > 0 && pct <= 100 {
		cfg.SimilarityThreshold = float64(pct) / 100
	}
	return cfg
}

type AdvanceResult struct {
	Session           *types.DiagnosticSession
	Question          string
	AnalysisReady     bool
	CurrentConfidence int
}

type AskMoreInput struct {
	// Answer to the previously issued additional question, when there is one.
	Answer string
	// Optional overrides; session values apply when nil.
	CurrentConfidence *int
	TargetConfidence  *int
}

type AskMoreResult struct {
	Question           string
	QuestionsRemaining int
	TargetAchieved     bool
	ShouldFinalize     bool
	Message            string
	CurrentConfidence  int
	TargetConfidence   int
}

type DiagnosticService interface {
	StartSession(ctx context.Context, userID uuid.UUID, complaint string) (*AdvanceResult, error)
	Advance(ctx context.Context, sessionID uuid.UUID, answer string) (*AdvanceResult, error)
	AskMore(ctx context.Context, sessionID uuid.UUID, input AskMoreInput) (*AskMoreResult, error)
	Complete(ctx context.Context, sessionID uuid.UUID) (*types.DiagnosticSession, error)
	Abandon(ctx context.Context, sessionID uuid.UUID) (*types.DiagnosticSession, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*types.DiagnosticSession, error)
}

type diagnosticService struct {
	db       *gorm.DB
	log      *logger.Logger
	sessions repos.SessionRepo
	chain    ChainGenerator
	cfg      SessionConfig
	locks    *sessionLocks
	now      func() time.Time
}

func NewDiagnosticService(db *gorm.DB, log *logger.Logger, sessions repos.SessionRepo, chain ChainGenerator, cfg SessionConfig) DiagnosticService {
	return &diagnosticService{
		db:       db,
		log:      log.With("service", "DiagnosticService"),
		sessions: sessions,
		chain:    chain,
		cfg:      cfg,
		locks:    newSessionLocks(),
		now:      time.Now,
	}
}

// transition is the only place session status ever changes.
func transition(session *types.DiagnosticSession, next types.SessionStatus) error {
	if !session.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, session.Status, next)
	}
	session.Status = next
	return nil
}

func (ds *diagnosticService) StartSession(ctx context.Context, userID uuid.UUID, complaint string) (*AdvanceResult, error) {
	complaint = strings.TrimSpace(complaint)
	if complaint == "" {
		return nil, fmt.Errorf("a complaint is required to start a diagnostic session")
	}

	session := &types.DiagnosticSession{
		ID:                     uuid.New(),
		UserID:                 userID,
		Status:                 types.SessionStatusActive,
		Complaint:              complaint,
		MaxAdditionalQuestions: ds.cfg.MaxAdditionalQuestions,
		TargetConfidence:       ds.cfg.DefaultTargetConfidence,
	}

	result, err := ds.chain.Generate(ctx, ChainRequest{
		System:     diagnosticSystemPrompt,
		User:       firstQuestionPrompt(complaint),
		SchemaName: "next_question",
		Schema:     nextQuestionSchema(),
		CallType:   "diagnostic_first_question",
		UserID:     &userID,
		SessionID:  &session.ID,
	})
	if err != nil {
		return nil, err
	}

	question := fieldString(result.Fields, "question")
	if question == "" {
		return nil, fmt.Errorf("generator returned no opening question")
	}
	if err := session.SetInitialQuestions([]types.QuestionAnswer{{Question: question, AskedAt: ds.now()}}); err != nil {
		return nil, err
	}
	if conf := result.Confidence(); conf >= 0 {
		session.CurrentConfidence = conf
	}

	if _, err := ds.sessions.Create(ctx, nil, session); err != nil {
		return nil, err
	}
	return &AdvanceResult{
		Session:           session,
		Question:          question,
		CurrentConfidence: session.CurrentConfidence,
	}, nil
}

func (ds *diagnosticService) Advance(ctx context.Context, sessionID uuid.UUID, answer string) (*AdvanceResult, error) {
	unlock := ds.locks.lock(sessionID)
	defer unlock()

	session, err := ds.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != types.SessionStatusActive {
		return nil, fmt.Errorf("%w: advance requires active, session is %s", ErrInvalidStateTransition, session.Status)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("an answer is required")
	}

	initial := session.InitialQuestionList()
	if len(initial) == 0 || initial[len(initial)-1].Answer != "" {
		return nil, fmt.Errorf("no pending question to answer")
	}
	initial[len(initial)-1].Answer = answer

	result, err := ds.chain.Generate(ctx, ChainRequest{
		System:     diagnosticSystemPrompt,
		User:       nextQuestionPrompt(session.Complaint, initial),
		SchemaName: "next_question",
		Schema:     nextQuestionSchema(),
		CallType:   "diagnostic_next_question",
		UserID:     &session.UserID,
		SessionID:  &session.ID,
	})
	if err != nil {
		return nil, err
	}

	if conf := result.Confidence(); conf >= 0 {
		session.CurrentConfidence = conf
		initial[len(initial)-1].Confidence = conf
	}

	questionsAsked := len(initial)
	candidate := fieldString(result.Fields, "question")
	ready := fieldBool(result.Fields, "ready")

	keepAsking := !ready && candidate != "" &&
		shouldContinueQuestioning(session.CurrentConfidence, session.TargetConfidence, questionsAsked, ds.cfg.Confidence)

	if keepAsking && isDuplicateQuestion(candidate, questionTexts(initial), ds.cfg.SimilarityThreshold) {
		candidate, err = ds.regenerateQuestion(ctx, session, initial, candidate)
		if err != nil {
			return nil, err
		}
		// Two duplicates in a row means the generator is out of new ground.
		keepAsking = candidate != ""
	}

	if keepAsking {
		initial = append(initial, types.QuestionAnswer{Question: candidate, AskedAt: ds.now()})
		if err := session.SetInitialQuestions(initial); err != nil {
			return nil, err
		}
		if err := ds.sessions.Save(ctx, nil, session); err != nil {
			return nil, err
		}
		return &AdvanceResult{
			Session:           session,
			Question:          candidate,
			CurrentConfidence: session.CurrentConfidence,
		}, nil
	}

	// Initial phase is over: fix the count exactly once and move forward.
	if err := session.SetInitialQuestions(initial); err != nil {
		return nil, err
	}
	if session.InitialQuestionsCount == nil {
		count := questionsAsked
		session.InitialQuestionsCount = &count
	}
	if err := transition(session, types.SessionStatusAnalysisReady); err != nil {
		return nil, err
	}
	if err := ds.sessions.Save(ctx, nil, session); err != nil {
		return nil, err
	}
	return &AdvanceResult{
		Session:           session,
		AnalysisReady:     true,
		CurrentConfidence: session.CurrentConfidence,
	}, nil
}

func (ds *diagnosticService) regenerateQuestion(ctx context.Context, session *types.DiagnosticSession, asked []types.QuestionAnswer, rejected string) (string, error) {
	result, err := ds.chain.Generate(ctx, ChainRequest{
		System:     diagnosticSystemPrompt,
		User:       regeneratePrompt(session.Complaint, asked, rejected),
		SchemaName: "next_question",
		Schema:     nextQuestionSchema(),
		CallType:   "diagnostic_regenerate_question",
		UserID:     &session.UserID,
		SessionID:  &session.ID,
	})
	if err != nil {
		return "", err
	}
	candidate := fieldString(result.Fields, "question")
	if candidate == "" || isDuplicateQuestion(candidate, questionTexts(asked), ds.cfg.SimilarityThreshold) {
		return "", nil
	}
	return candidate, nil
}

func (ds *diagnosticService) AskMore(ctx context.Context, sessionID uuid.UUID, input AskMoreInput) (*AskMoreResult, error) {
	unlock := ds.locks.lock(sessionID)
	defer unlock()

	session, err := ds.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != types.SessionStatusAnalysisReady {
		return nil, fmt.Errorf("%w: ask-more requires analysis_ready, session is %s", ErrInvalidStateTransition, session.Status)
	}

	additional := session.AdditionalQuestionList()
	dirty := false

	if answer := strings.TrimSpace(input.Answer); answer != "" &&
		len(additional) > 0 && additional[len(additional)-1].Answer == "" {
		additional[len(additional)-1].Answer = answer
		dirty = true
	}
	if input.CurrentConfidence != nil {
		session.CurrentConfidence = clampPercent(*input.CurrentConfidence)
		dirty = true
	}
	if input.TargetConfidence != nil {
		session.TargetConfidence = clampPercent(*input.TargetConfidence)
		dirty = true
	}

	current := session.CurrentConfidence
	target := session.TargetConfidence
	maxAdditional := session.MaxAdditionalQuestions
	if maxAdditional <= 0 {
		maxAdditional = ds.cfg.MaxAdditionalQuestions
	}

	finish := func(res *AskMoreResult) (*AskMoreResult, error) {
		if dirty {
			if err := session.SetAdditionalQuestions(additional); err != nil {
				return nil, err
			}
			if err := ds.sessions.Save(ctx, nil, session); err != nil {
				return nil, err
			}
		}
		res.CurrentConfidence = current
		res.TargetConfidence = target
		return res, nil
	}

	if target-current <= 0 {
		return finish(&AskMoreResult{
			TargetAchieved: true,
			Message:        fmt.Sprintf("target confidence %d%% already achieved (current %d%%)", target, current),
		})
	}
	if len(additional) >= maxAdditional {
		return finish(&AskMoreResult{
			ShouldFinalize: true,
			Message:        fmt.Sprintf("additional question limit reached (%d of %d used)", len(additional), maxAdditional),
		})
	}
	if session.TotalQuestions() >= ds.cfg.AbsoluteMaxQuestions {
		return finish(&AskMoreResult{
			ShouldFinalize: true,
			Message:        fmt.Sprintf("absolute question ceiling reached (%d)", ds.cfg.AbsoluteMaxQuestions),
		})
	}

	priorTexts := session.AllQuestionTexts()
	candidate, err := ds.generateAdditionalQuestion(ctx, session, priorTexts, "")
	if err != nil {
		return nil, err
	}
	if candidate != "" && isDuplicateQuestion(candidate, priorTexts, ds.cfg.SimilarityThreshold) {
		candidate, err = ds.generateAdditionalQuestion(ctx, session, priorTexts, candidate)
		if err != nil {
			return nil, err
		}
		if candidate != "" && isDuplicateQuestion(candidate, priorTexts, ds.cfg.SimilarityThreshold) {
			candidate = ""
		}
	}
	if candidate == "" {
		return finish(&AskMoreResult{
			ShouldFinalize: true,
			Message:        "no further distinct questions available; finalize the analysis",
		})
	}

	additional = append(additional, types.QuestionAnswer{Question: candidate, AskedAt: ds.now()})
	dirty = true
	res, err := finish(&AskMoreResult{
		Question:           candidate,
		QuestionsRemaining: maxAdditional - len(additional),
		Message:            fmt.Sprintf("%d additional question(s) remaining", maxAdditional-len(additional)),
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (ds *diagnosticService) generateAdditionalQuestion(ctx context.Context, session *types.DiagnosticSession, prior []string, rejected string) (string, error) {
	result, err := ds.chain.Generate(ctx, ChainRequest{
		System:     diagnosticSystemPrompt,
		User:       additionalQuestionPrompt(session.Complaint, session.InitialQuestionList(), session.AdditionalQuestionList(), rejected),
		SchemaName: "additional_question",
		Schema:     additionalQuestionSchema(),
		CallType:   "diagnostic_additional_question",
		UserID:     &session.UserID,
		SessionID:  &session.ID,
	})
	if err != nil {
		return "", err
	}
	return fieldString(result.Fields, "question"), nil
}

func (ds *diagnosticService) Complete(ctx context.Context, sessionID uuid.UUID) (*types.DiagnosticSession, error) {
	unlock := ds.locks.lock(sessionID)
	defer unlock()

	session, err := ds.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("%w: complete from %s", ErrInvalidStateTransition, session.Status)
	}
	if session.TotalQuestions() == 0 {
		return nil, ErrInsufficientData
	}

	result, err := ds.chain.Generate(ctx, ChainRequest{
		System:     diagnosticSystemPrompt,
		User:       finalAnalysisPrompt(session.Complaint, session.InitialQuestionList(), session.AdditionalQuestionList()),
		SchemaName: "final_analysis",
		Schema:     finalAnalysisSchema(),
		CallType:   "diagnostic_final_analysis",
		UserID:     &session.UserID,
		SessionID:  &session.ID,
	})
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result.Fields)
	if err != nil {
		return nil, err
	}
	session.FinalAnalysis = datatypes.JSON(raw)
	if conf := result.Confidence(); conf >= 0 {
		session.CurrentConfidence = conf
	}
	if err := transition(session, types.SessionStatusCompleted); err != nil {
		return nil, err
	}
	if err := ds.sessions.Save(ctx, nil, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (ds *diagnosticService) Abandon(ctx context.Context, sessionID uuid.UUID) (*types.DiagnosticSession, error) {
	unlock := ds.locks.lock(sessionID)
	defer unlock()

	session, err := ds.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if err := transition(session, types.SessionStatusAbandoned); err != nil {
		return nil, err
	}
	if err := ds.sessions.Save(ctx, nil, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (ds *diagnosticService) Get(ctx context.Context, sessionID uuid.UUID) (*types.DiagnosticSession, error) {
	return ds.sessions.GetByID(ctx, nil, sessionID)
}

func questionTexts(qs []types.QuestionAnswer) []string {
	out := make([]string, 0, len(qs))
	for _, qa := range qs {
		out = append(out, qa.Question)
	}
	return out
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func fieldString(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	if s, ok := fields[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func fieldBool(fields map[string]any, key string) bool {
	if fields == nil {
		return false
	}
	b, _ := fields[key].(bool)
	return b
}
