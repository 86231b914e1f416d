package sources

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mtwn105/decipher-research-agent/config"
	"github.com/mtwn105/decipher-research-agent/internal/agent/telemetry"
)

// probeText sizes the vector collection from a throwaway embedding before
// the first real upsert.
const probeText = "dimension probe"

// Embedder is the slice of the LLM provider the store needs.
type Embedder interface {
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

// SourceStore chunks scraped documents, embeds the chunks and indexes them
// for semantic and keyword retrieval, partitioned by notebook.
type SourceStore struct {
	cfg       config.SourceStoreConfig
	provider  Embedder
	vectors   VectorIndex
	keywords  *KeywordIndex
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	mu          sync.Mutex
	initialized bool
}

// NewSourceStore creates a store. keywords may be nil to disable keyword
// search.
func NewSourceStore(cfg config.SourceStoreConfig, provider Embedder, vectors VectorIndex, keywords *KeywordIndex, tele *telemetry.Telemetry) *SourceStore {
	return &SourceStore{
		cfg:       cfg,
		provider:  provider,
		vectors:   vectors,
		keywords:  keywords,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[SOURCES] ", log.LstdFlags),
	}
}

// AddSource chunks and indexes one scraped document. Empty content is a
// no-op. Returns the generated chunk ids.
func (s *SourceStore) AddSource(ctx context.Context, url, title, content, summary, notebookID string, metadata map[string]any) ([]string, error) {
	texts := chunkContent(content, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(texts) == 0 {
		return nil, nil
	}

	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	vectors, err := s.provider.Embed(ctx, s.cfg.EmbeddingModel, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks for %s: %w", len(texts), url, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(vectors))
	}

	chunks := make([]SourceChunk, len(texts))
	ids := make([]string, len(texts))
	for i, text := range texts {
		id := uuid.NewString()
		ids[i] = id
		chunks[i] = SourceChunk{
			ID:          id,
			URL:         url,
			PageTitle:   title,
			Content:     text,
			ChunkIndex:  i,
			TotalChunks: len(texts),
			Summary:     summary,
			NotebookID:  notebookID,
			Metadata:    metadata,
			Vector:      vectors[i],
		}
	}

	if err := s.vectors.Upsert(ctx, chunks); err != nil {
		return nil, err
	}
	if s.keywords != nil {
		for _, chunk := range chunks {
			if err := s.keywords.Add(chunk); err != nil {
				s.logger.Printf("keyword indexing %s: %v", chunk.ID, err)
			}
		}
	}
	s.telemetry.RecordChunksIndexed(len(chunks))
	s.logger.Printf("indexed %d chunks for %s (notebook %s)", len(chunks), url, notebookID)
	return ids, nil
}

// Search embeds the query and returns chunks by descending cosine
// similarity, optionally filtered to one notebook.
func (s *SourceStore) Search(ctx context.Context, query, notebookID string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	vectors, err := s.provider.Embed(ctx, s.cfg.EmbeddingModel, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.vectors.Search(ctx, vectors[0], notebookID, limit)
}

// KeywordSearch returns keyword matches over indexed chunk text.
func (s *SourceStore) KeywordSearch(query, notebookID string, limit int) ([]SearchResult, error) {
	if s.keywords == nil {
		return nil, fmt.Errorf("keyword search is not enabled")
	}
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	return s.keywords.Search(query, notebookID, limit)
}

// DeleteByNotebook removes all chunks for a notebook from both indexes and
// returns how many vector rows were deleted. Deleting an unknown notebook
// returns 0.
func (s *SourceStore) DeleteByNotebook(ctx context.Context, notebookID string) (int, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}
	n, err := s.vectors.DeleteByNotebook(ctx, notebookID)
	if err != nil {
		return 0, err
	}
	if s.keywords != nil {
		if _, kerr := s.keywords.DeleteByNotebook(notebookID); kerr != nil {
			s.logger.Printf("keyword delete for notebook %s: %v", notebookID, kerr)
		}
	}
	s.logger.Printf("deleted %d chunks for notebook %s", n, notebookID)
	return n, nil
}

func (s *SourceStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	vectors, err := s.provider.Embed(ctx, s.cfg.EmbeddingModel, []string{probeText})
	if err != nil {
		return fmt.Errorf("probing embedding dimension: %w", err)
	}
	if err := s.vectors.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

// chunkContent splits text into whitespace tokens and windows them. Full
// windows advance by size-overlap; a trailing remainder becomes one final
// short chunk. Empty content yields nothing.
func chunkContent(content string, size, overlap int) []string {
	tokens := strings.Fields(content)
	if len(tokens) == 0 {
		return nil
	}
	if size <= 0 {
		size = 512
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	if len(tokens) <= size {
		return []string{strings.Join(tokens, " ")}
	}
	stride := size - overlap
	var chunks []string
	start := 0
	for ; start+size <= len(tokens); start += stride {
		chunks = append(chunks, strings.Join(tokens[start:start+size], " "))
	}
	if start < len(tokens) {
		chunks = append(chunks, strings.Join(tokens[start:], " "))
	}
	return chunks
}
