// Package models defines data structures for the docrag knowledge base.
package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Shared sentinels. Store implementations return these so callers can test
// with errors.Is regardless of backend.
var (
	ErrNotFound    = errors.New("not found")
	ErrJobTerminal = errors.New("job is in a terminal state")
)

// Table names.
const (
	TableDocument   = "document"
	TableChunk      = "chunk"
	TableIngestJob  = "ingest_job"
	TableOAuthState = "oauth_state"
)

// NewID returns a fresh record key.
func NewID() string {
	return uuid.NewString()
}

// NewRecordID builds a record id for table with the given string key.
func NewRecordID(table, id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(table, id)
}

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// MustRecordIDString extracts the string ID, panicking if not a string.
// Only for ids this package minted.
func MustRecordIDString(id surrealmodels.RecordID) string {
	s, err := RecordIDString(id)
	if err != nil {
		panic(err)
	}
	return s
}

// Slugify lowercases s, maps spaces and underscores to dashes and drops
// everything outside [a-z0-9-]. Used for blob object keys.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_':
			b.WriteByte('-')
		}
	}
	return b.String()
}
