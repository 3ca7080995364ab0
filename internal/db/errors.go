package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations. Check with errors.Is.
var (
	// ErrAlreadyExists indicates a record with the same ID already exists.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict is returned when concurrent writes touched the
	// same record. Job updates retry it; other callers may retry or skip.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound is shared with the in-memory store.
	ErrNotFound = models.ErrNotFound

	// ErrJobTerminal is returned when a completed or failed job is asked
	// to transition again.
	ErrJobTerminal = models.ErrJobTerminal
)

// queryErrorKinds maps fragments of SurrealDB error messages to sentinels.
var queryErrorKinds = []struct {
	fragment string
	sentinel error
}{
	{"already exists", ErrAlreadyExists},
	{"Transaction conflict", ErrTransactionConflict},
	{"This transaction can be retried", ErrTransactionConflict},
}

// wrapQueryError tags known SurrealDB query errors with a sentinel. Other
// errors pass through unchanged.
func wrapQueryError(err error) error {
	var queryErr *surrealdb.QueryError
	if !errors.As(err, &queryErr) {
		return err
	}
	for _, k := range queryErrorKinds {
		if strings.Contains(queryErr.Message, k.fragment) {
			return fmt.Errorf("%w: %s", k.sentinel, queryErr.Message)
		}
	}
	return err
}

// conflictRetries bounds how often a conflicting write is retried.
const conflictRetries = 5

// retryOnConflict runs fn again with a short exponential backoff while it
// fails with ErrTransactionConflict.
func retryOnConflict(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, conflictRetries), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !errors.Is(err, ErrTransactionConflict) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
