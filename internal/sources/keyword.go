package sources

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
)

// keywordDoc is the shape indexed for keyword search.
type keywordDoc struct {
	NotebookID string `json:"notebook_id"`
	URL        string `json:"url"`
	PageTitle  string `json:"page_title"`
	Content    string `json:"content_chunk"`
}

// KeywordIndex provides BM25-style keyword search over chunk text. It is
// memory-only and rebuilt from ingestion; the vector index remains the
// durable store.
type KeywordIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	docs  map[string]keywordDoc
}

func NewKeywordIndex() (*KeywordIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &KeywordIndex{index: index, docs: map[string]keywordDoc{}}, nil
}

// Add indexes a chunk for keyword retrieval.
func (k *KeywordIndex) Add(chunk SourceChunk) error {
	doc := keywordDoc{
		NotebookID: chunk.NotebookID,
		URL:        chunk.URL,
		PageTitle:  chunk.PageTitle,
		Content:    chunk.Content,
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.index.Index(chunk.ID, doc); err != nil {
		return err
	}
	k.docs[chunk.ID] = doc
	return nil
}

// Search returns the best keyword matches, optionally filtered by notebook.
func (k *KeywordIndex) Search(q, notebookID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, limit*3, 0, false)

	k.mu.RLock()
	defer k.mu.RUnlock()
	res, err := k.index.Search(searchReq)
	if err != nil {
		return nil, err
	}
	var out []SearchResult
	for _, hit := range res.Hits {
		doc, ok := k.docs[hit.ID]
		if !ok {
			continue
		}
		if notebookID != "" && doc.NotebookID != notebookID {
			continue
		}
		out = append(out, SearchResult{
			Chunk: SourceChunk{
				ID:         hit.ID,
				URL:        doc.URL,
				PageTitle:  doc.PageTitle,
				Content:    doc.Content,
				NotebookID: doc.NotebookID,
			},
			Score: hit.Score,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DeleteByNotebook removes all indexed chunks for a notebook and returns
// how many were removed.
func (k *KeywordIndex) DeleteByNotebook(notebookID string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var removed int
	for id, doc := range k.docs {
		if doc.NotebookID != notebookID {
			continue
		}
		if err := k.index.Delete(id); err != nil {
			return removed, fmt.Errorf("deleting %s: %w", id, err)
		}
		delete(k.docs, id)
		removed++
	}
	return removed, nil
}
