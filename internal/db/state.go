package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// QuerySaveState stores a one-time OAuth state token.
func (c *Client) QuerySaveState(ctx context.Context, token, redirect string, expiresAt time.Time) error {
	sql := `
		CREATE type::record("oauth_state", $token) CONTENT {
			redirect: $redirect,
			created_at: time::now(),
			expires_at: <datetime>$expires
		}
	`
	vars := map[string]any{
		"token":    token,
		"redirect": redirect,
		"expires":  expiresAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("save state: %w", wrapQueryError(err))
	}
	return nil
}

// QueryConsumeState deletes a state token and returns its redirect. Unknown
// and expired tokens yield ErrNotFound; either way the token cannot be used
// twice.
func (c *Client) QueryConsumeState(ctx context.Context, token string) (string, error) {
	sql := `
		DELETE type::record("oauth_state", $token)
		WHERE expires_at > time::now()
		RETURN BEFORE
	`
	type stateRow struct {
		Redirect string `json:"redirect"`
	}
	results, err := surrealdb.Query[[]stateRow](ctx, c.db, sql, map[string]any{"token": token})
	if err != nil {
		return "", fmt.Errorf("consume state: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return "", fmt.Errorf("state token: %w", ErrNotFound)
	}
	return (*results)[0].Result[0].Redirect, nil
}

// QueryPurgeExpiredStates removes expired state tokens.
func (c *Client) QueryPurgeExpiredStates(ctx context.Context) (int, error) {
	sql := `DELETE oauth_state WHERE expires_at <= time::now() RETURN BEFORE`
	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, sql, nil)
	if err != nil {
		return 0, fmt.Errorf("purge states: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}
