package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a failed provider attempt so callers can decide whether
// to retry, fall to the next model, or abort.
type ErrorKind string

const (
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindUnavailable ErrorKind = "unavailable"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindMalformed   ErrorKind = "malformed_request"
	ErrKindAuth        ErrorKind = "auth"
)

type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Model      string
	Body       string
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (model=%s http=%d): %s", e.Kind, e.Model, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("provider %s (model=%s): %s", e.Kind, e.Model, e.Body)
}

func (e *ProviderError) HTTPStatusCode() int { return e.StatusCode }

// Transient reports whether waiting and retrying the same model could help.
func (e *ProviderError) Transient() bool {
	switch e.Kind {
	case ErrKindRateLimited, ErrKindUnavailable, ErrKindTimeout:
		return true
	default:
		return false
	}
}

func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ErrKindRateLimited
}

func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrKindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrKindAuth
	case code == http.StatusRequestTimeout:
		return ErrKindTimeout
	case code >= 500:
		return ErrKindUnavailable
	default:
		return ErrKindMalformed
	}
}

// classifyTransportError maps client-side failures (no HTTP status) onto the
// same taxonomy. Caller cancellation is passed through untouched.
func classifyTransportError(err error, model string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: ErrKindTimeout, Model: model, Body: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Kind: ErrKindTimeout, Model: model, Body: err.Error()}
	}
	return &ProviderError{Kind: ErrKindUnavailable, Model: model, Body: err.Error()}
}
