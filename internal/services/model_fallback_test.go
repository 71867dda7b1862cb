package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/platform/openai"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

type scriptedGenerator struct {
	calls   []string
	respond func(call int, req openai.GenerateRequest) (*openai.GenerateResult, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, req openai.GenerateRequest) (*openai.GenerateResult, error) {
	call := len(g.calls)
	g.calls = append(g.calls, req.Model)
	return g.respond(call, req)
}

func testChain(t *testing.T, gen Generator, cfg FallbackConfig) *FallbackChain {
	t.Helper()
	fc := NewFallbackChain(testLogger(t), gen, cfg, nil, nil)
	fc.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return fc
}

func fallbackTestConfig() FallbackConfig {
	return FallbackConfig{
		Models:  []string{"model-a", "model-b", "model-c"},
		Backoff: []time.Duration{time.Second, 2 * time.Second},
	}
}

func TestFallbackChainExhaustsAllModels(t *testing.T) {
	transient := &openai.ProviderError{Kind: openai.ErrKindRateLimited, StatusCode: 429, Body: "slow down"}
	gen := &scriptedGenerator{
		respond: func(call int, req openai.GenerateRequest) (*openai.GenerateResult, error) {
			return nil, transient
		},
	}
	fc := testChain(t, gen, fallbackTestConfig())

	_, err := fc.Generate(context.Background(), ChainRequest{User: "hi"})
	if !errors.Is(err, ErrAllModelsExhausted) {
		t.Fatalf("expected ErrAllModelsExhausted, got %v", err)
	}

	// 3 models x 2 backoff slots each.
	if len(gen.calls) != 6 {
		t.Fatalf("expected 6 attempts, got %d (%v)", len(gen.calls), gen.calls)
	}
	want := []string{"model-a", "model-a", "model-b", "model-b", "model-c", "model-c"}
	for i, model := range want {
		if gen.calls[i] != model {
			t.Fatalf("attempt %d used %s, want %s (all: %v)", i, gen.calls[i], model, gen.calls)
		}
	}
}

func TestFallbackChainAdvancesToNextModel(t *testing.T) {
	transient := &openai.ProviderError{Kind: openai.ErrKindUnavailable, StatusCode: 503}
	gen := &scriptedGenerator{
		respond: func(call int, req openai.GenerateRequest) (*openai.GenerateResult, error) {
			if req.Model == "model-a" {
				return nil, transient
			}
			return &openai.GenerateResult{Text: "ok", Model: req.Model}, nil
		},
	}
	fc := testChain(t, gen, fallbackTestConfig())

	result, err := fc.Generate(context.Background(), ChainRequest{User: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Model != "model-b" {
		t.Fatalf("expected model-b to serve, got %s", result.Model)
	}
	if len(gen.calls) != 3 {
		t.Fatalf("expected 3 attempts (2 on model-a, 1 on model-b), got %d", len(gen.calls))
	}
}

func TestFallbackChainTerminalErrorAbortsImmediately(t *testing.T) {
	terminal := &openai.ProviderError{Kind: openai.ErrKindMalformed, StatusCode: 400, Body: "bad schema"}
	gen := &scriptedGenerator{
		respond: func(call int, req openai.GenerateRequest) (*openai.GenerateResult, error) {
			return nil, terminal
		},
	}
	fc := testChain(t, gen, fallbackTestConfig())

	_, err := fc.Generate(context.Background(), ChainRequest{User: "hi"})
	if errors.Is(err, ErrAllModelsExhausted) {
		t.Fatalf("terminal error must not be reported as exhaustion")
	}
	var pe *openai.ProviderError
	if !errors.As(err, &pe) || pe.Kind != openai.ErrKindMalformed {
		t.Fatalf("expected the malformed-request error back, got %v", err)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("terminal error should abort after 1 attempt, got %d", len(gen.calls))
	}
}

func TestFallbackChainHonorsCancellation(t *testing.T) {
	transient := &openai.ProviderError{Kind: openai.ErrKindTimeout, StatusCode: 408}
	ctx, cancel := context.WithCancel(context.Background())
	gen := &scriptedGenerator{
		respond: func(call int, req openai.GenerateRequest) (*openai.GenerateResult, error) {
			cancel()
			return nil, transient
		},
	}
	fc := testChain(t, gen, fallbackTestConfig())

	_, err := fc.Generate(ctx, ChainRequest{User: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("expected no attempts after cancellation, got %d", len(gen.calls))
	}
}
