package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type BatchJobStatus string

const (
	BatchJobStatusRunning   BatchJobStatus = "running"
	BatchJobStatusSucceeded BatchJobStatus = "succeeded"
	BatchJobStatusCanceled  BatchJobStatus = "canceled"
)

// UserOutcome records how a single user's unit of work ended inside a batch run.
type UserOutcome struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	RetriedCount int    `json:"retried_count"`
}

type BatchJobRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobType      ArtifactType   `gorm:"column:job_type;type:text;not null;index" json:"job_type"`
	Status       BatchJobStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	BatchSize    int            `gorm:"column:batch_size;not null" json:"batch_size"`
	TotalUsers   int            `gorm:"column:total_users;not null;default:0" json:"total_users"`
	Succeeded    int            `gorm:"column:succeeded;not null;default:0" json:"succeeded"`
	Failed       int            `gorm:"column:failed;not null;default:0" json:"failed"`
	Retried      int            `gorm:"column:retried;not null;default:0" json:"retried"`
	Outcomes     datatypes.JSON `gorm:"type:jsonb;column:outcomes" json:"outcomes"`
	Error        string         `gorm:"column:error" json:"error"`
	StartedAt    time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt   *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	ElapsedMilli int64          `gorm:"column:elapsed_ms;not null;default:0" json:"elapsed_ms"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (BatchJobRun) TableName() string {
	return "batch_job_run"
}

func (r *BatchJobRun) SetOutcomes(outcomes map[string]UserOutcome) error {
	raw, err := json.Marshal(outcomes)
	if err != nil {
		return err
	}
	r.Outcomes = datatypes.JSON(raw)
	return nil
}

func (r *BatchJobRun) OutcomeMap() map[string]UserOutcome {
	if len(r.Outcomes) == 0 {
		return nil
	}
	var out map[string]UserOutcome
	if err := json.Unmarshal(r.Outcomes, &out); err != nil {
		return nil
	}
	return out
}
