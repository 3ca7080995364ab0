package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// QueryCreateDocument stores a new document record.
func (c *Client) QueryCreateDocument(ctx context.Context, input models.DocumentInput) (*models.Document, error) {
	// Optional fields are left out of the content map rather than sent as
	// NULL, which option<> fields reject.
	data := map[string]any{
		"project":      input.Project,
		"name":         input.Name,
		"file_type":    input.FileType,
		"content_type": input.ContentType,
		"size":         input.Size,
	}
	if len(input.Content) > 0 {
		data["content"] = input.Content
	}
	if input.ContentKey != nil {
		data["content_key"] = *input.ContentKey
	}
	if input.JobID != nil {
		data["job_id"] = *input.JobID
	}

	sql := `CREATE type::record("document", $id) CONTENT $data RETURN AFTER`
	vars := map[string]any{"id": input.ID, "data": data}

	results, err := surrealdb.Query[[]models.Document](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create document: no record returned")
	}
	return &(*results)[0].Result[0], nil
}

// QueryGetDocument retrieves a document by ID, including its content.
func (c *Client) QueryGetDocument(ctx context.Context, id string) (*models.Document, error) {
	sql := `SELECT * FROM type::record("document", $id)`
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// QueryListDocuments returns the documents of a project, newest first,
// with their chunk counts.
func (c *Client) QueryListDocuments(ctx context.Context, project string) ([]models.DocumentSummary, error) {
	sql := `
		SELECT
			record::id(id) AS id,
			name,
			file_type,
			size,
			created_at,
			count((SELECT id FROM chunk WHERE document = $parent.id)) AS chunk_count
		FROM document
		WHERE project = $project
		ORDER BY created_at DESC
	`
	results, err := surrealdb.Query[[]models.DocumentSummary](ctx, c.db, sql, map[string]any{"project": project})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.DocumentSummary{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryDeleteDocument removes a document and its chunks in one
// transaction. Returns the deleted document.
func (c *Client) QueryDeleteDocument(ctx context.Context, id string) (*models.Document, error) {
	sql := `
		BEGIN TRANSACTION;
		DELETE chunk WHERE document = type::record("document", $id) RETURN NONE;
		DELETE type::record("document", $id) RETURN BEFORE;
		COMMIT TRANSACTION;
	`
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("delete document: %w", wrapQueryError(err))
	}
	// Result index 1 is the document DELETE
	if results == nil || len(*results) < 2 || len((*results)[1].Result) == 0 {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &(*results)[1].Result[0], nil
}

// QueryCountDocuments returns the number of documents in a project.
func (c *Client) QueryCountDocuments(ctx context.Context, project string) (int, error) {
	sql := `SELECT count() AS c FROM document WHERE project = $project GROUP ALL`
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, sql, map[string]any{"project": project})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}
