// Package provider holds the error taxonomy shared by the embedding and
// completion clients.
package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrConfiguration marks missing or invalid provider settings. It is raised
// at construction time, never per request.
var ErrConfiguration = errors.New("provider configuration error")

// ConfigurationError names the provider and the setting that is missing.
type ConfigurationError struct {
	Provider string
	Setting  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s is not configured", e.Provider, e.Setting)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ProviderError is returned for any non-success response from an upstream
// model provider. StatusCode is 0 when the failure happened below HTTP
// (SDK transport, decode).
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	detail := e.Body
	if e.Err != nil {
		detail = e.Err.Error()
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s request failed: %s", e.Provider, detail)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, truncate(detail, 300))
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same request may succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporary reports whether err wraps a temporary ProviderError.
func IsTemporary(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
