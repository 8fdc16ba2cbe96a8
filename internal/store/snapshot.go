package store

import (
	"context"
	"sync"

	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/collector"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
)

// Snapshot is an immutable point-in-time view of the index. Writes applied
// after it was opened are never visible through it.
type Snapshot struct {
	reader  index.IndexReader
	mapping mapping.IndexMapping

	once     sync.Once
	closeErr error
}

// Request describes one page of a snapshot search.
type Request struct {
	Query query.Query
	Size  int
	Skip  int
	// Sort defaults to descending score.
	Sort search.SortOrder
	// ConstantScore disables scoring; every hit scores 0.
	ConstantScore bool
}

// Hit is one matching document.
type Hit struct {
	ID    string
	Score float64
}

// Result is one page of hits plus whole-query statistics.
type Result struct {
	Hits     []Hit
	Total    uint64
	MaxScore float64
}

// StoredValue is a stored field value: a string for text fields, a float64
// for numeric fields.
type StoredValue any

// Search runs req against the snapshot.
func (s *Snapshot) Search(ctx context.Context, req Request) (*Result, error) {
	opts := search.SearcherOptions{}
	if req.ConstantScore {
		opts.Score = "none"
	}

	searcher, err := req.Query.Searcher(ctx, s.reader, s.mapping, opts)
	if err != nil {
		return nil, ixerrors.New(ixerrors.ErrCodeSearchFailed, "failed to build searcher", err)
	}
	defer func() { _ = searcher.Close() }()

	order := req.Sort
	if len(order) == 0 {
		order = search.SortOrder{&search.SortScore{Desc: true}}
	}

	coll := collector.NewTopNCollector(req.Size, req.Skip, order)
	if err := coll.Collect(ctx, searcher, s.reader); err != nil {
		return nil, ixerrors.New(ixerrors.ErrCodeSearchFailed, "search failed", err)
	}

	matches := coll.Results()
	out := &Result{
		Hits:     make([]Hit, 0, len(matches)),
		Total:    coll.Total(),
		MaxScore: coll.MaxScore(),
	}
	for _, m := range matches {
		id := m.ID
		if id == "" {
			if id, err = s.reader.ExternalID(m.IndexInternalID); err != nil {
				return nil, ixerrors.New(ixerrors.ErrCodeSearchFailed, "failed to resolve document id", err)
			}
		}
		out.Hits = append(out.Hits, Hit{ID: id, Score: m.Score})
	}
	return out, nil
}

// Count returns the number of documents matching q.
func (s *Snapshot) Count(ctx context.Context, q query.Query) (uint64, error) {
	res, err := s.Search(ctx, Request{Query: q, Size: 0, ConstantScore: true})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// DocCount returns the number of live documents in the snapshot.
func (s *Snapshot) DocCount() (uint64, error) {
	return s.reader.DocCount()
}

// StoredFields loads the stored fields of document id. Multi-valued fields
// keep their values in write order.
func (s *Snapshot) StoredFields(id string) (map[string][]StoredValue, error) {
	doc, err := s.reader.Document(id)
	if err != nil {
		return nil, ixerrors.New(ixerrors.ErrCodeSearchFailed, "failed to load document", err)
	}
	if doc == nil {
		return nil, nil
	}

	out := make(map[string][]StoredValue)
	doc.VisitFields(func(f index.Field) {
		switch v := f.(type) {
		case index.NumericField:
			if n, err := v.Number(); err == nil {
				out[f.Name()] = append(out[f.Name()], n)
			}
		case index.TextField:
			out[f.Name()] = append(out[f.Name()], v.Text())
		default:
			out[f.Name()] = append(out[f.Name()], string(f.Value()))
		}
	})
	return out, nil
}

// Close releases the reader. It is safe to call more than once.
func (s *Snapshot) Close() error {
	s.once.Do(func() {
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}
