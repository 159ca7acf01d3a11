package knowledge

import (
	"context"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"

	"github.com/hupe1980/agentcoord/core"
)

// EmbeddingFunc turns text into a vector. It is supplied by the caller;
// agentcoord ships no embedding model.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// ChromemOptions configures a ChromemStore.
type ChromemOptions struct {
	// Collection is the chromem collection name.
	Collection string
	// Path persists the database when set. Empty keeps it in memory.
	Path string
	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// ChromemStore is a vector Store backed by a chromem-go collection.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemStore creates or opens a collection using embed for documents
// and queries.
func NewChromemStore(embed EmbeddingFunc, optFns ...func(o *ChromemOptions)) (*ChromemStore, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is required: %w", core.ErrInvalidArgument)
	}
	opts := ChromemOptions{Collection: "knowledge"}
	for _, fn := range optFns {
		fn(&opts)
	}

	db := chromem.NewDB()
	if opts.Path != "" {
		var err error
		if db, err = chromem.NewPersistentDB(opts.Path, opts.Compress); err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", opts.Path, err)
		}
	}

	c, err := db.GetOrCreateCollection(opts.Collection, nil, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", opts.Collection, err)
	}
	return &ChromemStore{db: db, collection: c}, nil
}

// Add embeds and stores documents. Metadata values are stored as strings.
func (s *ChromemStore) Add(ctx context.Context, docs ...Document) error {
	prepared, err := prepare(docs)
	if err != nil {
		return err
	}
	cdocs := make([]chromem.Document, 0, len(prepared))
	for _, d := range prepared {
		var md map[string]string
		if len(d.Metadata) > 0 {
			md = make(map[string]string, len(d.Metadata))
			for k, v := range d.Metadata {
				md[k] = fmt.Sprint(v)
			}
		}
		cdocs = append(cdocs, chromem.Document{ID: d.ID, Content: d.Content, Metadata: md})
	}
	return s.collection.AddDocuments(ctx, cdocs, runtime.NumCPU())
}

// Search returns the documents most similar to query. Similarity is the
// cosine similarity reported by chromem.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]core.SearchResult, error) {
	n := min(topK(k), s.collection.Count())
	if n == 0 {
		return []core.SearchResult{}, nil
	}
	res, err := s.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}

	results := make([]core.SearchResult, 0, len(res))
	for _, r := range res {
		var md map[string]any
		if len(r.Metadata) > 0 {
			md = make(map[string]any, len(r.Metadata))
			for k, v := range r.Metadata {
				md[k] = v
			}
		}
		results = append(results, core.SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: md,
			Score:    float64(r.Similarity),
		})
	}
	rank(results)
	return results, nil
}

// Len returns the number of stored documents.
func (s *ChromemStore) Len() int {
	return s.collection.Count()
}

// Close is a no-op; persisted databases are written on every Add.
func (s *ChromemStore) Close() error { return nil }
