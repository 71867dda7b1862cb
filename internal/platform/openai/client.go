package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/utils"
)

// GenerateRequest is a single generation call. Model selection lives with the
// caller: the fallback chain decides which model each attempt targets.
type GenerateRequest struct {
	Model  string
	System string
	User   string

	// Optional structured-output shape. When Schema is set the response is
	// parsed as JSON matching it.
	SchemaName string
	Schema     map[string]any
}

type GenerateResult struct {
	Text   string
	Fields map[string]any
	Usage  Usage
	// Model that produced the result. The client echoes the requested model;
	// the fallback chain relies on this to report which link served.
	Model string
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Confidence extracts the generator's self-reported confidence when the
// structured response carries one. Returns -1 when absent.
func (r *GenerateResult) Confidence() int {
	if r == nil || r.Fields == nil {
		return -1
	}
	switch v := r.Fields["confidence"].(type) {
	case float64:
		return clampConfidence(int(v))
	case int:
		return clampConfidence(v)
	default:
		return -1
	}
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Client is the generation provider contract the rest of the backend consumes.
// Implementations make exactly one provider attempt per call; retry, backoff
// and model substitution are the fallback chain's job.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com", log))
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 120, log)
	if timeoutSec <= 0 {
		timeoutSec = 120
	}

	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

type responsesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesFormat struct {
	Format map[string]any `json:"format"`
}

type responsesRequest struct {
	Model       string             `json:"model"`
	Input       []responsesMessage `json:"input"`
	Text        *responsesFormat   `json:"text,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   Usage  `json:"usage"`
}

func (c *client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, &ProviderError{Kind: ErrKindMalformed, Body: "model id required"}
	}

	body := responsesRequest{
		Model: model,
		Input: []responsesMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: 0.2,
	}
	if req.Schema != nil {
		if strings.TrimSpace(req.SchemaName) == "" {
			return nil, &ProviderError{Kind: ErrKindMalformed, Model: model, Body: "schemaName required with schema"}
		}
		body.Text = &responsesFormat{Format: map[string]any{
			"type":   "json_schema",
			"name":   req.SchemaName,
			"schema": req.Schema,
			"strict": true,
		}}
	}

	raw, err := c.doOnce(ctx, "POST", "/v1/responses", body, model)
	if err != nil {
		return nil, err
	}

	var resp responsesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("openai decode error: %w; raw=%s", err, string(raw))
	}
	if resp.Refusal != "" {
		return nil, &ProviderError{Kind: ErrKindMalformed, Model: model, Body: "model refused: " + resp.Refusal}
	}

	var text string
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, part := range item.Content {
				if part.Type == "output_text" && part.Text != "" {
					text += part.Text
				}
			}
		}
	}
	if text == "" {
		return nil, &ProviderError{Kind: ErrKindUnavailable, Model: model, Body: "no output_text in response"}
	}

	out := &GenerateResult{Text: text, Usage: resp.Usage, Model: model}
	if req.Schema != nil {
		var fields map[string]any
		if err := json.Unmarshal([]byte(text), &fields); err != nil {
			return nil, fmt.Errorf("failed to parse model JSON: %w; text=%s", err, text)
		}
		out.Fields = fields
	}
	return out, nil
}

// doOnce makes exactly one HTTP attempt and classifies any failure.
func (c *client) doOnce(ctx context.Context, method, path string, body any, model string) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyTransportError(err, model)
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, classifyTransportError(readErr, model)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Model:      model,
			Body:       truncateBody(string(raw)),
		}
	}
	return raw, nil
}

func truncateBody(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
