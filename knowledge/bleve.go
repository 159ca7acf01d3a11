package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/hupe1980/agentcoord/core"
)

// BleveStore is a full-text Store backed by a bleve index.
type BleveStore struct {
	index bleve.Index
}

type bleveDoc struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewBleveStore opens the index at path, creating it when it does not
// exist. An empty path keeps the index in memory.
func NewBleveStore(path string) (*BleveStore, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory index: %w", err)
		}
		return &BleveStore{index: idx}, nil
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &BleveStore{index: idx}, nil
}

// Add indexes documents in a single batch.
func (s *BleveStore) Add(_ context.Context, docs ...Document) error {
	prepared, err := prepare(docs)
	if err != nil {
		return err
	}
	batch := s.index.NewBatch()
	for _, d := range prepared {
		if err := batch.Index(d.ID, bleveDoc{Content: d.Content, Metadata: d.Metadata}); err != nil {
			return fmt.Errorf("index document %s: %w", d.ID, err)
		}
	}
	return s.index.Batch(batch)
}

// Search runs a match query over document content. An empty query matches
// all documents.
func (s *BleveStore) Search(ctx context.Context, text string, k int) ([]core.SearchResult, error) {
	var q query.Query
	if len(terms(text)) == 0 {
		q = bleve.NewMatchAllQuery()
	} else {
		mq := bleve.NewMatchQuery(text)
		mq.SetField("content")
		q = mq
	}

	req := bleve.NewSearchRequestOptions(q, topK(k), 0, false)
	req.Fields = []string{"content"}
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", text, err)
	}

	results := make([]core.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		content, _ := hit.Fields["content"].(string)
		results = append(results, core.SearchResult{
			ID:      hit.ID,
			Content: content,
			Score:   hit.Score,
		})
	}
	rank(results)
	return results, nil
}

// Len returns the number of indexed documents.
func (s *BleveStore) Len() (int, error) {
	n, err := s.index.DocCount()
	return int(n), err
}

// Close closes the underlying index.
func (s *BleveStore) Close() error {
	return s.index.Close()
}
