package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// statusHints maps fragments of SDK error messages to the HTTP status they
// most likely came from. SDK clients (langchaingo, AWS) often flatten the
// response status into the error text.
var statusHints = []struct {
	fragment string
	status   int
}{
	{"401", http.StatusUnauthorized},
	{"unauthorized", http.StatusUnauthorized},
	{"invalid api key", http.StatusUnauthorized},
	{"authentication failed", http.StatusUnauthorized},
	{"403", http.StatusForbidden},
	{"forbidden", http.StatusForbidden},
	{"credit balance", http.StatusPaymentRequired},
	{"billing", http.StatusPaymentRequired},
	{"quota exceeded", http.StatusTooManyRequests},
	{"rate limit", http.StatusTooManyRequests},
	{"429", http.StatusTooManyRequests},
	{"throttl", http.StatusTooManyRequests},
	{"503", http.StatusServiceUnavailable},
	{"502", http.StatusBadGateway},
	{"500", http.StatusInternalServerError},
}

// FromSDK wraps an SDK error as a ProviderError, inferring a status code
// from the message when one is recognisable. Context cancellation is
// returned untouched.
func FromSDK(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: name, StatusCode: inferStatus(err), Err: err}
}

// IsFatal reports whether err means the provider will keep refusing
// requests (credentials, billing), so retrying or continuing is pointless.
func IsFatal(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.StatusCode {
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden:
		return true
	}
	return false
}

func inferStatus(err error) int {
	msg := strings.ToLower(err.Error())
	for _, h := range statusHints {
		if strings.Contains(msg, h.fragment) {
			return h.status
		}
	}
	return 0
}
