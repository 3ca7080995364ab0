// Package auth issues and validates single-use OAuth state tokens. Code
// exchange and user sessions live outside this service.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/raphaelgruber/docrag/internal/models"
)

// ErrInvalidState is returned for unknown, expired or reused tokens.
var ErrInvalidState = errors.New("invalid state parameter")

// DefaultStateTTL is used when NewStateStore gets a non-positive TTL.
const DefaultStateTTL = 10 * time.Minute

// stateBackend is satisfied by db.Client and memstore.Store.
type stateBackend interface {
	QuerySaveState(ctx context.Context, token, redirect string, expiresAt time.Time) error
	QueryConsumeState(ctx context.Context, token string) (string, error)
	QueryPurgeExpiredStates(ctx context.Context) (int, error)
}

// StateStore hands out CSRF state tokens that validate at most once.
type StateStore struct {
	backend stateBackend
	ttl     time.Duration
	now     func() time.Time
}

// NewStateStore creates a StateStore over backend.
func NewStateStore(backend stateBackend, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{backend: backend, ttl: ttl, now: time.Now}
}

// TTL returns the token lifetime.
func (s *StateStore) TTL() time.Duration {
	return s.ttl
}

// Issue creates and stores a new token. redirect is handed back on
// Consume.
func (s *StateStore) Issue(ctx context.Context, redirect string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.backend.QuerySaveState(ctx, token, redirect, s.now().Add(s.ttl)); err != nil {
		return "", fmt.Errorf("issue state: %w", err)
	}
	return token, nil
}

// Consume validates and burns token.
func (s *StateStore) Consume(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidState
	}
	redirect, err := s.backend.QueryConsumeState(ctx, token)
	if errors.Is(err, models.ErrNotFound) {
		return "", ErrInvalidState
	}
	if err != nil {
		return "", fmt.Errorf("consume state: %w", err)
	}
	return redirect, nil
}

// Purge removes expired tokens.
func (s *StateStore) Purge(ctx context.Context) (int, error) {
	return s.backend.QueryPurgeExpiredStates(ctx)
}

// AuthorizationURL builds the provider redirect for the authorization
// code flow.
func AuthorizationURL(authorizeURL, clientID, callbackURL, state string) (string, error) {
	u, err := url.Parse(authorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", callbackURL)
	q.Set("scope", "openid profile email")
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// newToken returns 32 random bytes, URL-safe encoded.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
