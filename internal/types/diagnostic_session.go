package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionStatusActive        SessionStatus = "active"
	SessionStatusAnalysisReady SessionStatus = "analysis_ready"
	SessionStatusCompleted     SessionStatus = "completed"
	SessionStatusAbandoned     SessionStatus = "abandoned"
)

// CanTransitionTo is the single authority on session status movement. The
// lifecycle is a forward-only DAG: active -> analysis_ready -> completed, with
// abandoned reachable from either non-terminal state. No state is re-enterable.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusActive:
		return next == SessionStatusAnalysisReady || next == SessionStatusCompleted || next == SessionStatusAbandoned
	case SessionStatusAnalysisReady:
		return next == SessionStatusCompleted || next == SessionStatusAbandoned
	default:
		return false
	}
}

func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// QuestionAnswer is one asked question and, once answered, its answer.
type QuestionAnswer struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer,omitempty"`
	Confidence int       `json:"confidence,omitempty"`
	AskedAt    time.Time `json:"asked_at"`
}

type DiagnosticSession struct {
	ID                     uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID                 uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Status                 SessionStatus  `gorm:"column:status;type:text;not null;index" json:"status"`
	Complaint              string         `gorm:"column:complaint" json:"complaint"`
	InitialQuestions       datatypes.JSON `gorm:"type:jsonb;column:initial_questions" json:"initial_questions"`
	InitialQuestionsCount  *int           `gorm:"column:initial_questions_count" json:"initial_questions_count,omitempty"`
	AdditionalQuestions    datatypes.JSON `gorm:"type:jsonb;column:additional_questions" json:"additional_questions"`
	MaxAdditionalQuestions int            `gorm:"column:max_additional_questions;not null" json:"max_additional_questions"`
	TargetConfidence       int            `gorm:"column:target_confidence;not null" json:"target_confidence"`
	CurrentConfidence      int            `gorm:"column:current_confidence;not null;default:0" json:"current_confidence"`
	FinalAnalysis          datatypes.JSON `gorm:"type:jsonb;column:final_analysis" json:"final_analysis,omitempty"`
	CreatedAt              time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (DiagnosticSession) TableName() string {
	return "diagnostic_session"
}

func (s *DiagnosticSession) InitialQuestionList() []QuestionAnswer {
	return decodeQuestionList(s.InitialQuestions)
}

func (s *DiagnosticSession) AdditionalQuestionList() []QuestionAnswer {
	return decodeQuestionList(s.AdditionalQuestions)
}

func (s *DiagnosticSession) SetInitialQuestions(qs []QuestionAnswer) error {
	raw, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	s.InitialQuestions = datatypes.JSON(raw)
	return nil
}

func (s *DiagnosticSession) SetAdditionalQuestions(qs []QuestionAnswer) error {
	raw, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	s.AdditionalQuestions = datatypes.JSON(raw)
	return nil
}

// TotalQuestions counts every question asked so far regardless of phase.
func (s *DiagnosticSession) TotalQuestions() int {
	initial := len(s.InitialQuestionList())
	if s.InitialQuestionsCount != nil {
		initial = *s.InitialQuestionsCount
	}
	return initial + len(s.AdditionalQuestionList())
}

// AllQuestionTexts returns the text of every asked question, initial phase first.
func (s *DiagnosticSession) AllQuestionTexts() []string {
	var out []string
	for _, qa := range s.InitialQuestionList() {
		out = append(out, qa.Question)
	}
	for _, qa := range s.AdditionalQuestionList() {
		out = append(out, qa.Question)
	}
	return out
}

func decodeQuestionList(raw datatypes.JSON) []QuestionAnswer {
	if len(raw) == 0 {
		return nil
	}
	var qs []QuestionAnswer
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil
	}
	return qs
}
