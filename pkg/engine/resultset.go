package engine

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/nrtindex/internal/codec"
	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/facet"
	"github.com/Aman-CERP/nrtindex/internal/nrt"
	"github.com/Aman-CERP/nrtindex/internal/store"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

// ScoreContext is the hit context entry holding the relevance score.
const ScoreContext = "score"

// Hit is one match of a ResultSet.
type Hit struct {
	Identity keys.Identity
	// Key is the indexed key, set by cursors and ranges over indexes that
	// store their keys.
	Key     keys.Key
	Score   float64
	Context map[string]any
}

// ResultSet is a lazily paged, single-pass sequence of hits over one
// leased searcher. Ranging over All to the end, or calling Close, releases
// the searcher.
type ResultSet struct {
	searcher *nrt.Searcher
	req      store.Request
	first    *store.Result
	def      *keys.Definition

	warning error
	facets  []facet.DimCounts

	consumed atomic.Bool
	closed   atomic.Bool
	once     sync.Once
}

func emptyResultSet() *ResultSet { return &ResultSet{} }

// Total is the number of matching documents.
func (r *ResultSet) Total() uint64 {
	if r.first == nil {
		return 0
	}
	return r.first.Total
}

// Stale reports whether the results may miss writes this engine accepted.
func (r *ResultSet) Stale() bool { return r.warning != nil }

// Warning explains a stale result set, or is nil.
func (r *ResultSet) Warning() error { return r.warning }

// Facets returns the facet counts requested by the query options.
func (r *ResultSet) Facets() []facet.DimCounts { return r.facets }

// Close releases the searcher. It is safe to call more than once.
func (r *ResultSet) Close() {
	r.once.Do(func() {
		r.closed.Store(true)
		if r.searcher != nil {
			r.searcher.Release()
		}
	})
}

// All yields every hit in order. It can be ranged over once.
func (r *ResultSet) All(ctx context.Context) iter.Seq2[Hit, error] {
	return func(yield func(Hit, error) bool) {
		if !r.consumed.CompareAndSwap(false, true) {
			yield(Hit{}, ixerrors.EngineState("result set was already iterated"))
			return
		}
		if r.closed.Load() {
			yield(Hit{}, ixerrors.EngineState("result set is closed"))
			return
		}
		defer r.Close()
		if r.first == nil {
			return
		}

		page := r.first
		seen := 0
		for {
			for _, h := range page.Hits {
				hit, err := r.hit(h)
				if err != nil {
					yield(Hit{}, err)
					return
				}
				if !yield(hit, nil) {
					return
				}
			}
			seen += len(page.Hits)
			if len(page.Hits) == 0 || len(page.Hits) < r.req.Size || uint64(seen) >= page.Total {
				return
			}

			req := r.req
			req.Skip = seen
			next, err := r.searcher.Snapshot().Search(ctx, req)
			if err != nil {
				yield(Hit{}, err)
				return
			}
			page = next
		}
	}
}

func (r *ResultSet) hit(h store.Hit) (Hit, error) {
	hit := Hit{
		Identity: keys.IdentityFromDocID(h.ID),
		Score:    h.Score,
		Context:  map[string]any{ScoreContext: h.Score},
	}
	if r.def == nil {
		return hit, nil
	}
	fields, err := r.searcher.Snapshot().StoredFields(h.ID)
	if err != nil {
		return Hit{}, err
	}
	if key, _, ok := codec.Decode(fields, *r.def); ok {
		hit.Key = key
	}
	return hit, nil
}

// Identities drains the result set into a slice of identities.
func (r *ResultSet) Identities(ctx context.Context) ([]keys.Identity, error) {
	var out []keys.Identity
	for h, err := range r.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, h.Identity)
	}
	return out, nil
}
