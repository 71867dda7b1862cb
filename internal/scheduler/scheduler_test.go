package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if got := len(DefaultConfig().Triggers); got != 6 {
		t.Fatalf("default config covers %d job types, want 6", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "empty",
			cfg:     Config{},
			wantErr: "no triggers",
		},
		{
			name: "unknown_job_type",
			cfg: Config{Triggers: []Trigger{
				{Cron: "0 3 * * 1", JobType: "horoscopes"},
			}},
			wantErr: "unknown job_type",
		},
		{
			name: "bad_cron",
			cfg: Config{Triggers: []Trigger{
				{Cron: "not a cron", JobType: "stories"},
			}},
			wantErr: "bad cron",
		},
		{
			name: "six_field_cron_rejected",
			cfg: Config{Triggers: []Trigger{
				{Cron: "0 0 3 * * 1", JobType: "stories"},
			}},
			wantErr: "bad cron",
		},
		{
			name: "duplicate_job_type",
			cfg: Config{Triggers: []Trigger{
				{Cron: "0 3 * * 1", JobType: "stories"},
				{Cron: "0 4 * * 2", JobType: "stories"},
			}},
			wantErr: "duplicate job_type",
		},
		{
			name: "valid",
			cfg: Config{Triggers: []Trigger{
				{Cron: "0 3 * * 1", JobType: "stories"},
				{Cron: "30 4 * * 2", JobType: "insights"},
			}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadConfigMissingFileFallsBack(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Triggers) != len(DefaultConfig().Triggers) {
		t.Fatalf("missing file should yield the default schedule")
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	body := "triggers:\n  - cron: \"15 2 * * 3\"\n    job_type: patterns\n  - cron: \"45 5 * * 6\"\n    job_type: scores\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Triggers) != 2 {
		t.Fatalf("got %d triggers, want 2", len(cfg.Triggers))
	}
	if cfg.Triggers[0].Cron != "15 2 * * 3" || cfg.Triggers[0].JobType != "patterns" {
		t.Fatalf("unexpected first trigger: %+v", cfg.Triggers[0])
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	body := "triggers:\n  - cron: \"0 3 * * 1\"\n    job_type: not-a-real-job\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("invalid job type in a present file must be an error, not a fallback")
	}
}
