package sources

import "context"

// SourceChunk is one embedded slice of a scraped document.
type SourceChunk struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	PageTitle   string         `json:"page_title"`
	Content     string         `json:"content_chunk"`
	ChunkIndex  int            `json:"chunk_index"`
	TotalChunks int            `json:"total_chunks"`
	Summary     string         `json:"summary,omitempty"`
	NotebookID  string         `json:"notebook_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Vector      []float32      `json:"-"`
}

// SearchResult is a chunk scored against a query.
type SearchResult struct {
	Chunk SourceChunk `json:"chunk"`
	Score float64     `json:"score"`
}

// VectorIndex stores and queries chunk vectors.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []SourceChunk) error
	Search(ctx context.Context, vector []float32, notebookID string, limit int) ([]SearchResult, error)
	DeleteByNotebook(ctx context.Context, notebookID string) (int, error)
}
