package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/docrag/internal/models"
)

// NoContextResponse is returned when retrieval finds nothing. The model
// is not called in that case.
const NoContextResponse = "I couldn't find any relevant information to answer your question."

const answerSystemPrompt = `You are a helpful assistant that answers questions based on the provided context.
Each passage in the context is labelled [Source N]. Reference the labels of the passages you used, for example [Source 2].
If the context does not contain the answer, say so.`

const snippetRunes = 200

// Source attributes part of an answer to a chunk.
type Source struct {
	Label        string  `json:"label"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkID      string  `json:"chunk_id"`
	Snippet      string  `json:"snippet"`
	Relevance    float64 `json:"relevance"`
}

// Answer is a generated response with its sources.
type Answer struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
}

// ChatService answers questions from retrieved context.
type ChatService struct {
	search    *SearchService
	completer Completer
}

// NewChatService creates a new chat service.
func NewChatService(search *SearchService, completer Completer) *ChatService {
	return &ChatService{search: search, completer: completer}
}

// Answer retrieves context for query within the project and asks the
// model to answer from it.
func (s *ChatService) Answer(ctx context.Context, projectID, query string) (*Answer, error) {
	candidates, err := s.search.Search(ctx, SearchOptions{ProjectID: projectID, Query: query})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &Answer{Response: NoContextResponse, Sources: []Source{}}, nil
	}

	contextText, sources := assembleContext(candidates)
	user := fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer:", contextText, strings.TrimSpace(query))

	response, err := s.completer.Complete(ctx, answerSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &Answer{Response: strings.TrimSpace(response), Sources: sources}, nil
}

// assembleContext labels each candidate [Source N], N from 1, and builds
// the matching attribution list. Unscored candidates are ranked by their
// position.
func assembleContext(candidates []models.Candidate) (string, []Source) {
	blocks := make([]string, 0, len(candidates))
	sources := make([]Source, 0, len(candidates))
	for i, c := range candidates {
		label := fmt.Sprintf("Source %d", i+1)
		blocks = append(blocks, fmt.Sprintf("[%s] %s\n%s", label, c.Chunk.DocumentName, c.Chunk.Content))

		score := c.Score
		if score.Kind == "" {
			score = models.PositionScore(i)
		}
		docID, _ := models.RecordIDString(c.Chunk.Document)
		chunkID, _ := models.RecordIDString(c.Chunk.ID)
		sources = append(sources, Source{
			Label:        label,
			DocumentID:   docID,
			DocumentName: c.Chunk.DocumentName,
			ChunkID:      chunkID,
			Snippet:      truncateRunes(c.Chunk.Content, snippetRunes),
			Relevance:    score.Relevance(),
		})
	}
	return strings.Join(blocks, "\n\n"), sources
}
