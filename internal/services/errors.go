package services

import "errors"

var (
	// ErrInvalidStateTransition means an operation was attempted outside its
	// valid session state. Usage errors are surfaced immediately, never retried.
	ErrInvalidStateTransition = errors.New("invalid session state transition")

	// ErrInsufficientData means Complete was called before any question was asked.
	ErrInsufficientData = errors.New("insufficient data to complete session")

	// ErrAllModelsExhausted means every model in the fallback chain was tried to
	// the full extent of its backoff schedule without a successful response.
	ErrAllModelsExhausted = errors.New("all models in fallback chain exhausted")

	// ErrQuotaExceeded means the user's weekly manual refresh allowance is spent.
	ErrQuotaExceeded = errors.New("weekly refresh quota exceeded")
)
