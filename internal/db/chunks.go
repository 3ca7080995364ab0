package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// QueryStoreChunks replaces the chunks of a document. Existing chunks are
// removed in the same transaction so a retried file never duplicates.
func (c *Client) QueryStoreChunks(ctx context.Context, documentID, project string, chunks []models.ChunkInput) (int, error) {
	docRef := models.NewRecordID(models.TableDocument, documentID)

	rows := make([]map[string]any, 0, len(chunks))
	for _, ch := range chunks {
		rows = append(rows, map[string]any{
			"id":        models.NewRecordID(models.TableChunk, models.NewID()),
			"document":  docRef,
			"project":   project,
			"content":   ch.Content,
			"position":  ch.Position,
			"overlap":   ch.Overlap,
			"embedding": ch.Embedding,
		})
	}

	sql := `
		BEGIN TRANSACTION;
		DELETE chunk WHERE document = $doc RETURN NONE;
		INSERT INTO chunk $rows RETURN NONE;
		COMMIT TRANSACTION;
	`
	vars := map[string]any{"doc": docRef, "rows": rows}

	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return 0, fmt.Errorf("store chunks: %w", wrapQueryError(err))
	}
	return len(rows), nil
}

// QuerySearchChunks returns the k chunks of a project nearest to
// embedding by cosine distance. Ties are broken by creation time, then
// position. An empty project yields an empty slice.
func (c *Client) QuerySearchChunks(ctx context.Context, project string, embedding []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	defer c.metrics.Since(metrics.OpVectorSearch, time.Now())

	// Exact scan scoped by project; the HNSW index cannot pre-filter on
	// project so KNN would starve small projects sharing the table.
	sql := `
		SELECT
			id,
			document,
			document.name AS document_name,
			content,
			position,
			created_at,
			1 - vector::similarity::cosine(embedding, $emb) AS distance
		FROM chunk
		WHERE project = $project
		ORDER BY distance ASC, created_at ASC, position ASC
		LIMIT $k
	`
	vars := map[string]any{
		"project": project,
		"emb":     embedding,
		"k":       k,
	}

	results, err := surrealdb.Query[[]models.ScoredChunk](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.ScoredChunk{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryListChunks returns the chunks of a document in position order.
func (c *Client) QueryListChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	sql := `
		SELECT * FROM chunk
		WHERE document = type::record("document", $id)
		ORDER BY position ASC
	`
	results, err := surrealdb.Query[[]models.Chunk](ctx, c.db, sql, map[string]any{"id": documentID})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.Chunk{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryCountChunks returns the number of chunks in a project.
func (c *Client) QueryCountChunks(ctx context.Context, project string) (int, error) {
	sql := `SELECT count() AS c FROM chunk WHERE project = $project GROUP ALL`
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, sql, map[string]any{"project": project})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}
