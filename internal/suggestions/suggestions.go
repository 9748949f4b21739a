// Package suggestions implements the suggestion query extension: a small
// secondary index of indexed terms attached to a plain index's handle. Its
// data lives inside the index directory, so resetting or deleting the index
// removes it too.
package suggestions

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/indexkeeper/internal/engine"
)

// Index is a term-suggestion index for one field of one parent index.
type Index struct {
	mu     sync.RWMutex
	field  string
	idx    bleve.Index
	closed bool
}

// Open opens (or creates) the suggestion index for the given parent index
// directory and field. An empty parentDir builds an in-memory suggestion
// index for in-memory parents.
func Open(parentDir, field string) (*Index, error) {
	im := bleve.NewIndexMapping()

	var (
		idx bleve.Index
		err error
	)
	if parentDir == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		path := filepath.Join(parentDir, engine.SuggestionsDirName, field)
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open suggestion index for field %q: %w", field, err)
	}
	return &Index{field: field, idx: idx}, nil
}

// Name implements registry.Extension.
func (s *Index) Name() string {
	return "suggestions/" + s.field
}

// AddTerms indexes terms for later suggestion lookups.
func (s *Index) AddTerms(ctx context.Context, terms []string) error {
	if len(terms) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("suggestion index is closed")
	}

	batch := s.idx.NewBatch()
	for _, term := range terms {
		if err := batch.Index(term, map[string]interface{}{"term": term}); err != nil {
			return fmt.Errorf("failed to index term %q: %w", term, err)
		}
	}
	return s.idx.Batch(batch)
}

// Suggest returns up to limit terms similar to the input, fuzziest last.
func (s *Index) Suggest(ctx context.Context, term string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("suggestion index is closed")
	}

	q := bleve.NewFuzzyQuery(term)
	q.SetField("term")
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("suggestion lookup failed: %w", err)
	}

	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, hit.ID)
	}
	return out, nil
}

// Close implements registry.Extension.
func (s *Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.idx.Close()
}
