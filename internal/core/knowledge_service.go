package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/docuchat/docuchat/internal/store"
	"github.com/docuchat/docuchat/internal/utils"
	"github.com/sirupsen/logrus"
)

// ChunkStore is the persistence surface the knowledge service needs.
// Implemented by store.SQLiteStore.
type ChunkStore interface {
	InsertChunks(chunks []store.DocumentChunk) error
	GetChunksByOwner(username string) ([]store.DocumentChunk, error)
	ListSources(username string) ([]string, error)
	DeleteSource(username, sourceFilename string) error
}

// KnowledgeService owns the per-user document knowledge base: it embeds and
// persists chunks and answers similarity queries scoped to a single owner.
type KnowledgeService struct {
	chunkStore ChunkStore
	embedder   Embedder
}

func NewKnowledgeService(chunkStore ChunkStore, embedder Embedder) *KnowledgeService {
	return &KnowledgeService{
		chunkStore: chunkStore,
		embedder:   embedder,
	}
}

// Add embeds every chunk and persists the whole batch. Empty input is a
// no-op. Any embedding or store failure aborts the batch and is surfaced to
// the caller: a partial write would corrupt retrieval results.
func (s *KnowledgeService) Add(ctx context.Context, chunks []store.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for i := range chunks {
		embedding, err := s.embedder.Embed(ctx, chunks[i].Content)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}
		chunks[i].Embedding = embedding
	}

	if err := s.chunkStore.InsertChunks(chunks); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}
	logrus.WithField("chunks", len(chunks)).Info("Added document chunks to knowledge base")
	return nil
}

type scoredChunk struct {
	chunk      store.DocumentChunk
	similarity float32
}

// Search embeds the query and ranks the owner's chunks by cosine similarity,
// returning up to k in descending order. Chunks of other owners are never
// considered: the store filters by owner and re-checks chunk metadata.
func (s *KnowledgeService) Search(ctx context.Context, query, username string, k int) ([]store.DocumentChunk, error) {
	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := s.chunkStore.GetChunksByOwner(username)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for search: %w", err)
	}

	scored := make([]scoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			logrus.Warnf("Skipping chunk %d due to missing embedding", chunk.ID)
			continue
		}
		similarity, err := utils.CosineSimilarity(queryEmbedding, chunk.Embedding)
		if err != nil {
			logrus.Warnf("Error calculating similarity for chunk %d: %v. Skipping.", chunk.ID, err)
			continue
		}
		scored = append(scored, scoredChunk{chunk: chunk, similarity: similarity})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].similarity > scored[j].similarity
	})

	if k > len(scored) {
		k = len(scored)
	}
	results := make([]store.DocumentChunk, 0, k)
	for i := 0; i < k; i++ {
		results = append(results, scored[i].chunk)
	}
	return results, nil
}

// ListSources returns the owner's distinct source filenames. A store failure
// degrades to an empty listing with the cause logged; the listing is cosmetic.
func (s *KnowledgeService) ListSources(username string) []string {
	sources, err := s.chunkStore.ListSources(username)
	if err != nil {
		logrus.Errorf("Failed to list document sources for %s: %v", username, err)
		return nil
	}
	return sources
}

// DeleteSource removes every chunk of the named source for the owner.
func (s *KnowledgeService) DeleteSource(username, sourceFilename string) error {
	if err := s.chunkStore.DeleteSource(username, sourceFilename); err != nil {
		return fmt.Errorf("failed to delete source %q: %w", sourceFilename, err)
	}
	return nil
}
