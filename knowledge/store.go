package knowledge

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/hupe1980/agentcoord/core"
)

// DefaultTopK is used when a search asks for a non-positive number of hits.
const DefaultTopK = 3

// Document is a unit of knowledge added to a Store.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Store indexes documents and returns the most relevant ones for a query.
type Store interface {
	Add(ctx context.Context, docs ...Document) error
	Search(ctx context.Context, query string, topK int) ([]core.SearchResult, error)
	Close() error
}

// Snippets extracts the content of each result in order.
func Snippets(results []core.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Content)
	}
	return out
}

// prepare assigns missing ids and rejects empty documents.
func prepare(docs []Document) ([]Document, error) {
	out := make([]Document, 0, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			return nil, fmt.Errorf("document %d has no content: %w", i, core.ErrInvalidArgument)
		}
		if d.ID == "" {
			d.ID = core.NewID()
		}
		d.Metadata = maps.Clone(d.Metadata)
		out = append(out, d)
	}
	return out, nil
}

func topK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}

// terms lowercases s and splits it into distinct words.
func terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	slices.Sort(fields)
	return slices.Compact(fields)
}

// rank sorts by descending score with ties broken by id.
func rank(results []core.SearchResult) {
	slices.SortStableFunc(results, func(a, b core.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}
