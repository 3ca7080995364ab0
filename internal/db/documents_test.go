package db

import (
	"testing"

	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDocument(t *testing.T, project, name string) *models.Document {
	t.Helper()
	doc, err := testDB.QueryCreateDocument(t.Context(), models.DocumentInput{
		ID:          models.NewID(),
		Project:     project,
		Name:        name,
		FileType:    "txt",
		ContentType: "text/plain",
		Size:        5,
		Content:     []byte("hello"),
	})
	require.NoError(t, err)
	return doc
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := requireDB(t)

	doc := createTestDocument(t, "p1", "notes.txt")
	id := models.MustRecordIDString(doc.ID)
	assert.Equal(t, "notes.txt", doc.Name)
	assert.False(t, doc.CreatedAt.IsZero(), "created_at should default")

	got, err := testDB.QueryGetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Content)
	assert.Nil(t, got.ContentKey)

	_, err = testDB.QueryStoreChunks(ctx, id, "p1", []models.ChunkInput{
		{Content: "a", Position: 0, Embedding: unitEmbedding(0)},
		{Content: "b", Position: 1, Embedding: unitEmbedding(1)},
	})
	require.NoError(t, err)

	list, err := testDB.QueryListDocuments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, 2, list[0].ChunkCount)

	count, err := testDB.QueryCountDocuments(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	deleted, err := testDB.QueryDeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", deleted.Name)

	chunks, err := testDB.QueryCountChunks(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, chunks, "chunks are deleted with their document")

	_, err = testDB.QueryGetDocument(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = testDB.QueryDeleteDocument(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDocument_BlobKey(t *testing.T) {
	ctx := requireDB(t)

	key := "p1/abc/report.pdf"
	doc, err := testDB.QueryCreateDocument(ctx, models.DocumentInput{
		ID:          models.NewID(),
		Project:     "p1",
		Name:        "report.pdf",
		FileType:    "pdf",
		ContentType: "application/pdf",
		Size:        1024,
		ContentKey:  &key,
	})
	require.NoError(t, err)
	require.NotNil(t, doc.ContentKey)
	assert.Equal(t, key, *doc.ContentKey)
	assert.Empty(t, doc.Content)
}

func TestListDocuments_ScopedByProject(t *testing.T) {
	ctx := requireDB(t)

	createTestDocument(t, "p1", "a.txt")
	createTestDocument(t, "p2", "b.txt")

	list, err := testDB.QueryListDocuments(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b.txt", list[0].Name)

	empty, err := testDB.QueryListDocuments(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
