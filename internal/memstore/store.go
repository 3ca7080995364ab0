// Package memstore is an in-memory implementation of the document, chunk,
// job and state store. It backs tests and single-process deployments
// without SurrealDB.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/docrag/internal/models"
)

type storedChunk struct {
	chunk models.Chunk
	seq   uint64
}

type stateEntry struct {
	redirect  string
	expiresAt time.Time
}

// Store keeps everything in maps guarded by one RWMutex. Vector search is
// a brute-force cosine scan.
type Store struct {
	mu     sync.RWMutex
	now    func() time.Time
	seq    uint64
	docs   map[string]*models.Document
	chunks map[string][]storedChunk // by document id
	jobs   map[string]*models.IngestJob
	states map[string]stateEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:    time.Now,
		docs:   make(map[string]*models.Document),
		chunks: make(map[string][]storedChunk),
		jobs:   make(map[string]*models.IngestJob),
		states: make(map[string]stateEntry),
	}
}

// WithClock overrides the time source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// =============================================================================
// DOCUMENTS
// =============================================================================

// QueryCreateDocument stores a new document.
func (s *Store) QueryCreateDocument(_ context.Context, input models.DocumentInput) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[input.ID]; ok {
		return nil, fmt.Errorf("create document %s: already exists", input.ID)
	}
	doc := &models.Document{
		ID:          models.NewRecordID(models.TableDocument, input.ID),
		Project:     input.Project,
		Name:        input.Name,
		FileType:    input.FileType,
		ContentType: input.ContentType,
		Size:        input.Size,
		Content:     append([]byte(nil), input.Content...),
		ContentKey:  input.ContentKey,
		JobID:       input.JobID,
		CreatedAt:   s.now(),
	}
	s.docs[input.ID] = doc
	cp := *doc
	return &cp, nil
}

// QueryGetDocument returns a document by id.
func (s *Store) QueryGetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	cp := *doc
	return &cp, nil
}

// QueryListDocuments lists a project's documents, newest first.
func (s *Store) QueryListDocuments(_ context.Context, project string) ([]models.DocumentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.DocumentSummary{}
	for id, doc := range s.docs {
		if doc.Project != project {
			continue
		}
		out = append(out, models.DocumentSummary{
			ID:         id,
			Name:       doc.Name,
			FileType:   doc.FileType,
			Size:       doc.Size,
			ChunkCount: len(s.chunks[id]),
			CreatedAt:  doc.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// QueryDeleteDocument removes a document and its chunks.
func (s *Store) QueryDeleteDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return doc, nil
}

// QueryCountDocuments returns the number of documents in a project.
func (s *Store) QueryCountDocuments(_ context.Context, project string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, doc := range s.docs {
		if doc.Project == project {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// CHUNKS
// =============================================================================

// QueryStoreChunks replaces the chunks of a document.
func (s *Store) QueryStoreChunks(_ context.Context, documentID, project string, chunks []models.ChunkInput) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[documentID]; !ok {
		return 0, fmt.Errorf("store chunks: document %s: %w", documentID, models.ErrNotFound)
	}
	now := s.now()
	docRef := models.NewRecordID(models.TableDocument, documentID)
	stored := make([]storedChunk, 0, len(chunks))
	for _, ch := range chunks {
		s.seq++
		stored = append(stored, storedChunk{
			seq: s.seq,
			chunk: models.Chunk{
				ID:        models.NewRecordID(models.TableChunk, models.NewID()),
				Document:  docRef,
				Project:   project,
				Content:   ch.Content,
				Position:  ch.Position,
				Overlap:   ch.Overlap,
				Embedding: append([]float32(nil), ch.Embedding...),
				CreatedAt: now,
			},
		})
	}
	s.chunks[documentID] = stored
	return len(stored), nil
}

// QuerySearchChunks returns the k nearest chunks of a project by cosine
// distance, ties broken by insertion order then position.
func (s *Store) QuerySearchChunks(_ context.Context, project string, embedding []float32, k int) ([]models.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		scored models.ScoredChunk
		seq    uint64
	}
	var hits []hit
	for docID, chunks := range s.chunks {
		doc := s.docs[docID]
		if doc == nil || doc.Project != project {
			continue
		}
		for _, sc := range chunks {
			hits = append(hits, hit{
				seq: sc.seq,
				scored: models.ScoredChunk{
					ID:           sc.chunk.ID,
					Document:     sc.chunk.Document,
					DocumentName: doc.Name,
					Content:      sc.chunk.Content,
					Position:     sc.chunk.Position,
					CreatedAt:    sc.chunk.CreatedAt,
					Distance:     1 - cosine(sc.chunk.Embedding, embedding),
				},
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.scored.Distance != b.scored.Distance {
			return a.scored.Distance < b.scored.Distance
		}
		if !a.scored.CreatedAt.Equal(b.scored.CreatedAt) {
			return a.scored.CreatedAt.Before(b.scored.CreatedAt)
		}
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return a.scored.Position < b.scored.Position
	})

	if k < 0 {
		k = 0
	}
	if k > len(hits) {
		k = len(hits)
	}
	out := make([]models.ScoredChunk, 0, k)
	for _, h := range hits[:k] {
		out = append(out, h.scored)
	}
	return out, nil
}

// QueryListChunks returns a document's chunks in position order.
func (s *Store) QueryListChunks(_ context.Context, documentID string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Chunk, 0, len(s.chunks[documentID]))
	for _, sc := range s.chunks[documentID] {
		out = append(out, sc.chunk)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// QueryCountChunks returns the number of chunks in a project.
func (s *Store) QueryCountChunks(_ context.Context, project string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for docID, chunks := range s.chunks {
		if doc := s.docs[docID]; doc != nil && doc.Project == project {
			n += len(chunks)
		}
	}
	return n, nil
}

// cosine returns the cosine similarity of a and b, 0 when either is zero.
func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
