package sources

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PgVectorIndex stores chunk vectors in a pgvector-backed Postgres table.
// The table is created on first use, sized to the embedding dimension.
type PgVectorIndex struct {
	DB    *sql.DB
	Table string
}

// NewPgVectorIndex creates an index over the given table name.
func NewPgVectorIndex(db *sql.DB, table string) *PgVectorIndex {
	if table == "" {
		table = "source_chunks"
	}
	return &PgVectorIndex{DB: db, Table: table}
}

// EnsureCollection creates the chunk table and its notebook index if they
// do not exist. dimension sizes the vector column.
func (p *PgVectorIndex) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    notebook_id TEXT NOT NULL,
    url TEXT NOT NULL,
    page_title TEXT,
    content_chunk TEXT NOT NULL,
    chunk_index INT NOT NULL,
    total_chunks INT NOT NULL,
    summary TEXT,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    embedding vector(%d),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, p.Table, dimension)
	if _, err := p.DB.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("creating %s: %w", p.Table, err)
	}
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_notebook ON %s (notebook_id)`, p.Table, p.Table)
	if _, err := p.DB.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("indexing %s: %w", p.Table, err)
	}
	return nil
}

func (p *PgVectorIndex) Upsert(ctx context.Context, chunks []SourceChunk) error {
	for _, chunk := range chunks {
		literal, err := encodeVectorLiteral(chunk.Vector)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.ID, err)
		}
		meta := chunk.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		_, err = p.DB.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, notebook_id, url, page_title, content_chunk, chunk_index, total_chunks, summary, metadata, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::vector)
ON CONFLICT (id) DO UPDATE SET
  content_chunk = EXCLUDED.content_chunk,
  metadata = EXCLUDED.metadata,
  embedding = EXCLUDED.embedding`, p.Table),
			chunk.ID, chunk.NotebookID, chunk.URL, chunk.PageTitle, chunk.Content,
			chunk.ChunkIndex, chunk.TotalChunks, chunk.Summary, metaBytes, literal)
		if err != nil {
			return fmt.Errorf("upserting chunk %s: %w", chunk.ID, err)
		}
	}
	return nil
}

func (p *PgVectorIndex) Search(ctx context.Context, vector []float32, notebookID string, limit int) ([]SearchResult, error) {
	literal, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf(`
SELECT id, notebook_id, url, page_title, content_chunk, chunk_index, total_chunks, summary, metadata, embedding <=> $1::vector AS distance
FROM %s`, p.Table)
	args := []any{literal}
	if notebookID != "" {
		query += ` WHERE notebook_id = $2`
		args = append(args, notebookID)
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1::vector LIMIT %d`, limit)

	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			chunk     SourceChunk
			pageTitle sql.NullString
			summary   sql.NullString
			metaBytes []byte
			distance  float64
		)
		if err := rows.Scan(&chunk.ID, &chunk.NotebookID, &chunk.URL, &pageTitle, &chunk.Content,
			&chunk.ChunkIndex, &chunk.TotalChunks, &summary, &metaBytes, &distance); err != nil {
			return nil, err
		}
		chunk.PageTitle = pageTitle.String
		chunk.Summary = summary.String
		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &chunk.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for %s: %w", chunk.ID, err)
			}
		}
		out = append(out, SearchResult{Chunk: chunk, Score: 1 - distance})
	}
	return out, rows.Err()
}

func (p *PgVectorIndex) DeleteByNotebook(ctx context.Context, notebookID string) (int, error) {
	res, err := p.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE notebook_id = $1`, p.Table), notebookID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
