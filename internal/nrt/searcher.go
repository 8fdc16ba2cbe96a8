package nrt

import (
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/nrtindex/internal/store"
	"github.com/Aman-CERP/nrtindex/internal/telemetry"
)

// view is a published snapshot shared by the controller and every searcher
// leased from it. The snapshot closes when the last holder releases it.
type view struct {
	snap *store.Snapshot
	gen  int64
	refs atomic.Int32
}

func newView(snap *store.Snapshot, gen int64) *view {
	v := &view{snap: snap, gen: gen}
	v.refs.Store(1)
	return v
}

func (v *view) acquire() { v.refs.Add(1) }

func (v *view) release() {
	if v.refs.Add(-1) == 0 {
		_ = v.snap.Close()
	}
}

// Searcher is a leased point-in-time view of the index.
// Release must be called once the caller is done with it.
type Searcher struct {
	view    *view
	gen     int64
	warning error
	metrics *telemetry.Metrics
	once    sync.Once
}

// Snapshot returns the view to search.
func (s *Searcher) Snapshot() *store.Snapshot { return s.view.snap }

// Generation is the last mutation generation the view reflects.
func (s *Searcher) Generation() int64 { return s.gen }

// Stale reports whether the view is older than the generation requested.
func (s *Searcher) Stale() bool { return s.warning != nil }

// Warning explains why the view is stale, or nil.
func (s *Searcher) Warning() error { return s.warning }

// Release returns the view. Only the first call has an effect.
func (s *Searcher) Release() {
	s.once.Do(func() {
		s.view.release()
		s.metrics.SearcherReleased()
	})
}
