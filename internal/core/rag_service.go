package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/docuchat/docuchat/internal/store"
	"github.com/sirupsen/logrus"
)

// NumRelevantChunks is how many chunks ground one answer.
const NumRelevantChunks = 5

// Retriever finds the owner's most relevant chunks for a query.
// Implemented by KnowledgeService.
type Retriever interface {
	Search(ctx context.Context, query, username string, k int) ([]store.DocumentChunk, error)
}

// RAGService produces answers grounded in the requesting user's documents.
type RAGService struct {
	retriever Retriever
	generator Generator
}

func NewRAGService(retriever Retriever, generator Generator) *RAGService {
	return &RAGService{
		retriever: retriever,
		generator: generator,
	}
}

// Answer retrieves the owner's most relevant chunks, builds a grounding
// context and invokes the generator with context, history and question. Zero
// retrieved chunks degrade to an ungrounded answer; a generator failure is
// surfaced, never replaced with a placeholder.
func (s *RAGService) Answer(ctx context.Context, username, question string, history []store.Message) (string, error) {
	groundingContext := ""
	chunks, err := s.retriever.Search(ctx, question, username, NumRelevantChunks)
	if err != nil {
		// Retrieval is a read path: log and answer without context rather
		// than failing the whole question.
		logrus.Errorf("Failed to retrieve context for %s, answering ungrounded: %v", username, err)
	} else {
		groundingContext = buildContext(chunks)
	}

	answer, err := s.generator.Generate(ctx, groundingContext, history, question)
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return answer, nil
}

// buildContext concatenates the retrieved chunk texts, clearly separated.
func buildContext(chunks []store.DocumentChunk) string {
	var builder strings.Builder
	for _, chunk := range chunks {
		builder.WriteString(chunk.Content)
		builder.WriteString("\n\n")
	}
	return strings.TrimSpace(builder.String())
}
