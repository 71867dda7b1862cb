package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/platform/httpx"
	"github.com/vitalloop/vitalloop-backend/internal/platform/openai"
	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/types"
	"github.com/vitalloop/vitalloop-backend/internal/utils"
)

// Generator is the single-attempt provider contract the chain drives.
// openai.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req openai.GenerateRequest) (*openai.GenerateResult, error)
}

// ChainRequest is one logical generation the chain shepherds through retries
// and model substitution. Model ids never appear here; they belong to the
// chain's configuration.
type ChainRequest struct {
	System     string
	User       string
	SchemaName string
	Schema     map[string]any

	// Attribution for the provider call audit log.
	CallType  string
	UserID    *uuid.UUID
	SessionID *uuid.UUID
}

// ChainGenerator is what callers of the fallback chain depend on.
type ChainGenerator interface {
	Generate(ctx context.Context, req ChainRequest) (*openai.GenerateResult, error)
}

type FallbackConfig struct {
	// Models is tried in order, primary first.
	Models []string
	// Backoff is the per-model retry schedule; its length caps attempts per
	// model. The index resets whenever the chain advances to the next model.
	Backoff []time.Duration
	// AttemptTimeout bounds each individual provider attempt, separate from
	// whatever deadline the caller put on the whole chain invocation.
	AttemptTimeout time.Duration
}

func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Models:         []string{"gpt-5.2", "gpt-5-mini", "gpt-4.1"},
		Backoff:        []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second},
		AttemptTimeout: 60 * time.Second,
	}
}

func LoadFallbackConfig(log *logger.Logger) FallbackConfig {
	cfg := DefaultFallbackConfig()

	if raw := strings.TrimSpace(utils.GetEnv("MODEL_CHAIN", "", log)); raw != "" {
		var models []string
		for _, m := range strings.Split(raw, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		if len(models) > 0 {
			cfg.Models = models
		}
	}

	if raw := strings.TrimSpace(utils.GetEnv("MODEL_BACKOFF_SECONDS", "", log)); raw != "" {
		var backoff []time.Duration
		for _, part := range strings.Split(raw, ",") {
			var n int
			if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &n); err == nil && n > 0 {
				backoff = append(backoff, time.Duration(n)*time.Second)
			}
		}
		if len(backoff) > 0 {
			cfg.Backoff = backoff
		}
	}

	if secs := utils.GetEnvAsInt("MODEL_ATTEMPT_TIMEOUT_SECONDS", 0, log); secs > 0 {
		cfg.AttemptTimeout = time.Duration(secs) * time.Second
	}

	return cfg
}

// FallbackChain wraps one logical generate call with ordered model
// substitution. Transient provider failures (rate limits, unavailability,
// timeouts) are retried on the same model through the backoff schedule, then
// the chain advances. Terminal failures (malformed request, auth) abort
// immediately without touching the rest of the chain. Requests are strictly
// sequential: at most one in-flight provider call per invocation.
type FallbackChain struct {
	log      *logger.Logger
	gen      Generator
	cfg      FallbackConfig
	db       *gorm.DB
	callLogs repos.AICallLogRepo

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFallbackChain(log *logger.Logger, gen Generator, cfg FallbackConfig, db *gorm.DB, callLogs repos.AICallLogRepo) *FallbackChain {
	return &FallbackChain{
		log:      log.With("service", "FallbackChain"),
		gen:      gen,
		cfg:      cfg,
		db:       db,
		callLogs: callLogs,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (fc *FallbackChain) Generate(ctx context.Context, req ChainRequest) (*openai.GenerateResult, error) {
	if len(fc.cfg.Models) == 0 {
		return nil, fmt.Errorf("fallback chain has no models configured")
	}
	attemptsPerModel := len(fc.cfg.Backoff)
	if attemptsPerModel == 0 {
		attemptsPerModel = 1
	}

	var lastErr error
	for _, model := range fc.cfg.Models {
		for attempt := 0; attempt < attemptsPerModel; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			result, err := fc.attempt(ctx, model, req)
			if err == nil {
				return result, nil
			}
			lastErr = err

			if !openai.IsTransient(err) {
				// Usage/auth errors won't heal by waiting or switching models.
				return nil, err
			}

			fc.log.Warn("Generation attempt failed, backing off",
				"model", model,
				"attempt", attempt+1,
				"attempts_per_model", attemptsPerModel,
				"call_type", req.CallType,
				"error", err.Error(),
			)

			if attempt < attemptsPerModel-1 && len(fc.cfg.Backoff) > 0 {
				wait := httpx.JitterSleep(fc.cfg.Backoff[attempt])
				if sErr := fc.sleep(ctx, wait); sErr != nil {
					return nil, sErr
				}
			}
		}
		// Next model starts its backoff schedule from the top.
	}

	return nil, fmt.Errorf("%w: %v", ErrAllModelsExhausted, lastErr)
}

func (fc *FallbackChain) attempt(ctx context.Context, model string, req ChainRequest) (*openai.GenerateResult, error) {
	attemptCtx := ctx
	if fc.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, fc.cfg.AttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := fc.gen.Generate(attemptCtx, openai.GenerateRequest{
		Model:      model,
		System:     req.System,
		User:       req.User,
		SchemaName: req.SchemaName,
		Schema:     req.Schema,
	})
	fc.recordCall(ctx, model, req, err, time.Since(start))
	return result, err
}

// recordCall is best-effort audit; a failed insert never fails the generation.
func (fc *FallbackChain) recordCall(ctx context.Context, model string, req ChainRequest, callErr error, latency time.Duration) {
	if fc.callLogs == nil {
		return
	}
	entry := &types.AICallLog{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		CallType:  req.CallType,
		Model:     model,
		Success:   callErr == nil,
		LatencyMs: latency.Milliseconds(),
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	if err := fc.callLogs.Create(context.WithoutCancel(ctx), fc.db, entry); err != nil {
		fc.log.Warn("Failed to record AI call log", "call_type", req.CallType, "model", model, "error", err)
	}
}
