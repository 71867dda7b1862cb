package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

// Trigger maps one cron expression to one artifact job.
type Trigger struct {
	Cron    string `yaml:"cron"`
	JobType string `yaml:"job_type"`
}

type Config struct {
	Triggers []Trigger `yaml:"triggers"`
}

// DefaultConfig spreads the six weekly artifact jobs across early-morning UTC
// slots on different days so no two heavy runs compete for the provider.
func DefaultConfig() Config {
	return Config{Triggers: []Trigger{
		{Cron: "0 3 * * 1", JobType: string(types.ArtifactStories)},
		{Cron: "0 3 * * 2", JobType: string(types.ArtifactPredictions)},
		{Cron: "0 3 * * 3", JobType: string(types.ArtifactInsights)},
		{Cron: "0 3 * * 4", JobType: string(types.ArtifactPatterns)},
		{Cron: "0 3 * * 5", JobType: string(types.ArtifactStrategies)},
		{Cron: "0 4 * * 0", JobType: string(types.ArtifactScores)},
	}}
}

// LoadConfig reads the trigger table from path. A missing file falls back to
// DefaultConfig; a present but invalid file is an error.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("read schedule config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse schedule config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Triggers) == 0 {
		return fmt.Errorf("schedule config has no triggers")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	seen := map[string]bool{}
	for i, t := range c.Triggers {
		if _, ok := types.ParseArtifactType(t.JobType); !ok {
			return fmt.Errorf("trigger %d: unknown job_type %q", i, t.JobType)
		}
		if _, err := parser.Parse(t.Cron); err != nil {
			return fmt.Errorf("trigger %d (%s): bad cron %q: %w", i, t.JobType, t.Cron, err)
		}
		if seen[t.JobType] {
			return fmt.Errorf("trigger %d: duplicate job_type %q", i, t.JobType)
		}
		seen[t.JobType] = true
	}
	return nil
}

// Dispatcher hands a triggered job off for execution. The in-process
// dispatcher runs it directly; the Temporal one starts a workflow.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobType types.ArtifactType) error
}

// DispatchFunc adapts a plain function into a Dispatcher.
type DispatchFunc func(ctx context.Context, jobType types.ArtifactType) error

func (f DispatchFunc) Dispatch(ctx context.Context, jobType types.ArtifactType) error {
	return f(ctx, jobType)
}

type Scheduler struct {
	log        *logger.Logger
	cron       *cron.Cron
	dispatcher Dispatcher
	cfg        Config
}

func New(log *logger.Logger, dispatcher Dispatcher, cfg Config) *Scheduler {
	return &Scheduler{
		log:        log.With("service", "Scheduler"),
		cron:       cron.New(cron.WithLocation(time.UTC)),
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

func (s *Scheduler) Start() error {
	for _, t := range s.cfg.Triggers {
		jobType, ok := types.ParseArtifactType(t.JobType)
		if !ok {
			return fmt.Errorf("unknown job_type %q in schedule", t.JobType)
		}
		spec := t.Cron
		if _, err := s.cron.AddFunc(spec, func() {
			ctx := context.Background()
			s.log.Info("cron trigger fired", "job_type", jobType, "cron", spec)
			if err := s.dispatcher.Dispatch(ctx, jobType); err != nil {
				s.log.Error("job dispatch failed", "job_type", jobType, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("register trigger %q (%s): %w", spec, jobType, err)
		}
	}
	s.cron.Start()
	s.log.Info("scheduler started", "triggers", len(s.cfg.Triggers))
	return nil
}

// Stop halts the trigger loop and waits for in-flight jobs up to ctx's
// deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs in flight")
	}
}
