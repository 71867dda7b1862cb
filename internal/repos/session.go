package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

// ErrSessionNotFound is returned when a diagnostic session id resolves to no row.
var ErrSessionNotFound = errors.New("diagnostic session not found")

type SessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, session *types.DiagnosticSession) (*types.DiagnosticSession, error)
	GetByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.DiagnosticSession, error)
	// Save writes the full session record in one statement. Session records are
	// never partially written mid-transition.
	Save(ctx context.Context, tx *gorm.DB, session *types.DiagnosticSession) error
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.DiagnosticSession, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (sr *sessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.DiagnosticSession) (*types.DiagnosticSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (sr *sessionRepo) GetByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.DiagnosticSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}
	var session types.DiagnosticSession
	if err := transaction.WithContext(ctx).
		Where("id = ?", sessionID).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (sr *sessionRepo) Save(ctx context.Context, tx *gorm.DB, session *types.DiagnosticSession) error {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}
	return transaction.WithContext(ctx).Save(session).Error
}

func (sr *sessionRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.DiagnosticSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}
	var results []*types.DiagnosticSession
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
