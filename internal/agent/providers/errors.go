package providers

import (
	"errors"
	"fmt"
)

// ProviderError carries provider and model context for an upstream API
// failure.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%s): status %d: %s", e.Provider, e.Model, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s (%s): %s", e.Provider, e.Model, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is worth retrying. Only rate
// limits and server-side errors qualify; a misconfigured request will fail
// the same way every time.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}
