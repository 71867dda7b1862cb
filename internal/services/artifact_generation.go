package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

// ArtifactService regenerates one derived health artifact for one user. A
// failed generation returns an error and leaves the previous week's artifact
// untouched; the row is only written on success.
type ArtifactService interface {
	GenerateForUser(ctx context.Context, userID uuid.UUID, artifactType types.ArtifactType, now time.Time) (*types.HealthArtifact, error)
	// UnitOfWork adapts a generation into the shape the batch runner consumes.
	UnitOfWork(artifactType types.ArtifactType) UnitOfWork
	ListForWeek(ctx context.Context, userID uuid.UUID, now time.Time) ([]*types.HealthArtifact, error)
}

type artifactService struct {
	db        *gorm.DB
	log       *logger.Logger
	artifacts repos.ArtifactRepo
	sessions  repos.SessionRepo
	chain     ChainGenerator
	now       func() time.Time
}

func NewArtifactService(db *gorm.DB, log *logger.Logger, artifacts repos.ArtifactRepo, sessions repos.SessionRepo, chain ChainGenerator) ArtifactService {
	return &artifactService{
		db:        db,
		log:       log.With("service", "ArtifactService"),
		artifacts: artifacts,
		sessions:  sessions,
		chain:     chain,
		now:       time.Now,
	}
}

func (as *artifactService) GenerateForUser(ctx context.Context, userID uuid.UUID, artifactType types.ArtifactType, now time.Time) (*types.HealthArtifact, error) {
	spec, ok := artifactSpecs[artifactType]
	if !ok {
		return nil, fmt.Errorf("unknown artifact type %q", artifactType)
	}

	sessions, err := as.sessions.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	result, err := as.chain.Generate(ctx, ChainRequest{
		System:     artifactSystemPrompt,
		User:       spec.prompt(sessions),
		SchemaName: string(artifactType),
		Schema:     spec.schema,
		CallType:   "artifact_" + string(artifactType),
		UserID:     &userID,
	})
	if err != nil {
		return nil, fmt.Errorf("generate %s for user: %w", artifactType, err)
	}

	raw, err := json.Marshal(result.Fields)
	if err != nil {
		return nil, err
	}
	artifact := &types.HealthArtifact{
		UserID:  userID,
		WeekOf:  WeekStartUTC(now),
		Type:    artifactType,
		Payload: datatypes.JSON(raw),
		Model:   result.Model,
	}
	if err := as.artifacts.Upsert(ctx, nil, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

func (as *artifactService) UnitOfWork(artifactType types.ArtifactType) UnitOfWork {
	return func(ctx context.Context, userID uuid.UUID) error {
		_, err := as.GenerateForUser(ctx, userID, artifactType, as.now())
		return err
	}
}

func (as *artifactService) ListForWeek(ctx context.Context, userID uuid.UUID, now time.Time) ([]*types.HealthArtifact, error) {
	return as.artifacts.ListByUserWeek(ctx, nil, userID, WeekStartUTC(now))
}

const artifactSystemPrompt = `You are a health-intelligence writer. You turn a user's diagnostic session history into a weekly artifact. Ground every statement in the provided sessions; when the history is thin, say so rather than inventing detail. Never give medical directives.`

type artifactSpec struct {
	prompt func(sessions []*types.DiagnosticSession) string
	schema map[string]any
}

var artifactSpecs = map[types.ArtifactType]artifactSpec{
	types.ArtifactStories: {
		prompt: artifactPrompt("Write 2-4 short narrative stories describing how the user's health evolved recently."),
		schema: itemsSchema("stories", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
				"body":  map[string]any{"type": "string"},
			},
			"required":             []string{"title", "body"},
			"additionalProperties": false,
		}),
	},
	types.ArtifactPredictions: {
		prompt: artifactPrompt("Predict 2-4 likely near-term developments in the user's health, each with a confidence level."),
		schema: itemsSchema("predictions", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prediction": map[string]any{"type": "string"},
				"confidence": map[string]any{"type": "string", "enum": []string{"low", "moderate", "high"}},
			},
			"required":             []string{"prediction", "confidence"},
			"additionalProperties": false,
		}),
	},
	types.ArtifactInsights: {
		prompt: artifactPrompt("Extract 3-5 concrete insights the user may not have noticed about their own health reports."),
		schema: itemsSchema("insights", map[string]any{"type": "string"}),
	},
	types.ArtifactPatterns: {
		prompt: artifactPrompt("Identify recurring patterns across the user's complaints and answers, such as timing, triggers, or co-occurring symptoms."),
		schema: itemsSchema("patterns", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern":  map[string]any{"type": "string"},
				"evidence": map[string]any{"type": "string"},
			},
			"required":             []string{"pattern", "evidence"},
			"additionalProperties": false,
		}),
	},
	types.ArtifactStrategies: {
		prompt: artifactPrompt("Suggest 3-5 practical self-care strategies suited to the user's reported issues. Keep them lifestyle-level, never prescriptive."),
		schema: itemsSchema("strategies", map[string]any{"type": "string"}),
	},
	types.ArtifactScores: {
		prompt: artifactPrompt("Score the user's week across sleep, energy, symptom load, and overall wellbeing on a 0-100 scale, with a one-line rationale each."),
		schema: itemsSchema("scores", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dimension": map[string]any{"type": "string"},
				"score":     map[string]any{"type": "integer"},
				"rationale": map[string]any{"type": "string"},
			},
			"required":             []string{"dimension", "score", "rationale"},
			"additionalProperties": false,
		}),
	},
}

func artifactPrompt(instruction string) func(sessions []*types.DiagnosticSession) string {
	return func(sessions []*types.DiagnosticSession) string {
		return instruction + "\n\n" + sessionHistory(sessions)
	}
}

func sessionHistory(sessions []*types.DiagnosticSession) string {
	if len(sessions) == 0 {
		return "The user has no recorded diagnostic sessions yet."
	}
	out := "Recent diagnostic sessions:\n"
	for _, s := range sessions {
		out += fmt.Sprintf("\n[%s] complaint: %s (status %s, confidence %d%%)\n",
			s.CreatedAt.Format("2006-01-02"), s.Complaint, s.Status, s.CurrentConfidence)
		for _, qa := range s.InitialQuestionList() {
			if qa.Answer != "" {
				out += fmt.Sprintf("  Q: %s\n  A: %s\n", qa.Question, qa.Answer)
			}
		}
		for _, qa := range s.AdditionalQuestionList() {
			if qa.Answer != "" {
				out += fmt.Sprintf("  Q: %s\n  A: %s\n", qa.Question, qa.Answer)
			}
		}
	}
	return out
}

func itemsSchema(key string, item map[string]any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			key: map[string]any{
				"type":  "array",
				"items": item,
			},
		},
		"required":             []string{key},
		"additionalProperties": false,
	}
}
