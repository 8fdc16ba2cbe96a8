package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/blevesearch/bleve/v2/search"
	bq "github.com/blevesearch/bleve/v2/search/query"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/facet"
	"github.com/Aman-CERP/nrtindex/internal/nrt"
	"github.com/Aman-CERP/nrtindex/internal/store"
	"github.com/Aman-CERP/nrtindex/internal/telemetry"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

// Get returns the entries matching key: an exact match for scalar,
// composite and collection keys, a scored free-text search for a QueryKey.
func (e *Engine) Get(ctx context.Context, key keys.Key) (*ResultSet, error) {
	start := time.Now()
	live, err := e.current()
	if err != nil {
		return nil, err
	}

	kind := telemetry.QueryKindExact
	qk, isText := key.(keys.QueryKey)
	if isText {
		kind = telemetry.QueryKindFullText
	}

	rs, err := e.get(ctx, live, key)
	e.recordQuery(queryText(key), kind, start, rs, err)
	if err != nil {
		return nil, err
	}
	if isText && qk.Context != nil {
		qk.Context.SetVariable(TotalHitsVariable, rs.Total())
	}
	return rs, nil
}

func (e *Engine) get(ctx context.Context, live *openIndex, key keys.Key) (*ResultSet, error) {
	tr, err := live.translator().Translate(key)
	if err != nil {
		return nil, err
	}
	qc, err := live.facets.AugmentQuery(facet.QueryContext{Query: tr.Query}, key)
	if err != nil {
		return nil, err
	}

	s, err := e.acquire(ctx, live)
	if err != nil {
		return nil, err
	}
	rs, err := e.run(ctx, s, store.Request{Query: qc.Effective(), ConstantScore: tr.ConstantScore}, nil)
	if err != nil {
		return nil, err
	}

	if len(qc.Dims) > 0 {
		counts, err := live.facets.Counts(ctx, s.Snapshot(), qc, e.cfg.Engine.FacetTopN)
		if err != nil {
			rs.Close()
			return nil, err
		}
		rs.facets = counts
	}
	return rs, nil
}

// acquire leases a searcher covering every write this engine submitted.
func (e *Engine) acquire(ctx context.Context, live *openIndex) (*nrt.Searcher, error) {
	s, err := live.ctrl.Acquire(ctx, e.lastGen.Load())
	if err != nil {
		return nil, err
	}
	if s.Stale() {
		e.logger.Warn("engine_stale_read", ixerrors.LogArgs(s.Warning())...)
	}
	return s, nil
}

// run fetches the first page of req. The result set owns s from here on.
func (e *Engine) run(ctx context.Context, s *nrt.Searcher, req store.Request, def *keys.Definition) (*ResultSet, error) {
	req.Size = e.pageSize()
	first, err := s.Snapshot().Search(ctx, req)
	if err != nil {
		s.Release()
		return nil, err
	}
	return &ResultSet{searcher: s, req: req, first: first, def: def, warning: s.Warning()}, nil
}

func (e *Engine) pageSize() int {
	if n := e.cfg.Engine.PageSize; n > 0 {
		return n
	}
	return 100
}

func (e *Engine) recordQuery(text string, kind telemetry.QueryKind, start time.Time, rs *ResultSet, err error) {
	d := time.Since(start)
	var total uint64
	stale := false
	if rs != nil {
		total = rs.Total()
		stale = rs.Stale()
	}
	e.metrics.Query(kind, d, total, err)
	if err != nil {
		e.logger.Debug("engine_query_failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		return
	}
	e.stats.Record(telemetry.QueryEvent{
		Query:       text,
		Kind:        kind,
		ResultCount: total,
		Latency:     d,
		Stale:       stale,
	})
}

func queryText(key keys.Key) string {
	if s, ok := key.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}

// Contains reports whether any entry matches key.
func (e *Engine) Contains(ctx context.Context, key keys.Key) (bool, error) {
	live, err := e.current()
	if err != nil {
		return false, err
	}
	tr, err := live.translator().Translate(key)
	if err != nil {
		return false, err
	}
	s, err := e.acquire(ctx, live)
	if err != nil {
		return false, err
	}
	defer s.Release()

	n, err := s.Snapshot().Count(ctx, tr.Query)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Size returns the number of indexed entries, one per key and identity.
func (e *Engine) Size(ctx context.Context) (uint64, error) {
	live, err := e.current()
	if err != nil {
		return 0, err
	}
	s, err := e.acquire(ctx, live)
	if err != nil {
		return 0, err
	}
	defer s.Release()
	return s.Snapshot().DocCount()
}

// FirstKey is not applicable: a full-text index has no total key order.
func (e *Engine) FirstKey() (keys.Key, bool) { return nil, false }

// LastKey is not applicable: a full-text index has no total key order.
func (e *Engine) LastKey() (keys.Key, bool) { return nil, false }

// IterateBetween returns the entries between from and to. A free-text
// lower bound runs that query instead; otherwise the range applies to the
// first index field and results are sorted on it. A nil bound is open.
func (e *Engine) IterateBetween(ctx context.Context, from keys.Key, fromInclusive bool, to keys.Key, toInclusive bool, ascending bool) (*ResultSet, error) {
	if qk, ok := from.(keys.QueryKey); ok {
		return e.Get(ctx, qk)
	}

	start := time.Now()
	live, err := e.current()
	if err != nil {
		return nil, err
	}

	rs, err := e.iterateBetween(ctx, live, from, fromInclusive, to, toInclusive, ascending)
	e.recordQuery(rangeText(from, to), telemetry.QueryKindRange, start, rs, err)
	return rs, err
}

func (e *Engine) iterateBetween(ctx context.Context, live *openIndex, from keys.Key, fromInclusive bool, to keys.Key, toInclusive bool, ascending bool) (*ResultSet, error) {
	tr, err := live.translator().Range(from, to, fromInclusive, toInclusive, ascending)
	if err != nil {
		return nil, err
	}
	s, err := e.acquire(ctx, live)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, s, store.Request{Query: tr.Query, Sort: tr.Sort, ConstantScore: tr.ConstantScore}, e.keyDecoder())
}

// rangeText renders range bounds for query statistics.
func rangeText(from, to keys.Key) string {
	bound := func(k keys.Key) string {
		if k == nil {
			return "*"
		}
		return queryText(k)
	}
	return "[" + bound(from) + " TO " + bound(to) + "]"
}

// IterateMajor has no meaning for a full-text index and yields nothing.
func (e *Engine) IterateMajor(context.Context, keys.Key, bool, bool) (*ResultSet, error) {
	return emptyResultSet(), nil
}

// IterateMinor has no meaning for a full-text index and yields nothing.
func (e *Engine) IterateMinor(context.Context, keys.Key, bool, bool) (*ResultSet, error) {
	return emptyResultSet(), nil
}

// Cursor iterates every entry of an Exact index in ascending key order.
// Full-text indexes yield nothing.
func (e *Engine) Cursor(ctx context.Context) (*ResultSet, error) {
	if e.def.Type != keys.Exact {
		return emptyResultSet(), nil
	}
	live, err := e.current()
	if err != nil {
		return nil, err
	}

	var order search.SortOrder
	for _, f := range e.def.FieldsFor(1) {
		order = append(order, &search.SortField{Field: keys.ExactField(f), Type: search.SortFieldAuto})
	}
	order = append(order, &search.SortDocID{})

	s, err := e.acquire(ctx, live)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, s, store.Request{Query: bq.NewMatchAllQuery(), Sort: order, ConstantScore: true}, e.keyDecoder())
}

// DescCursor is not supported and yields nothing.
func (e *Engine) DescCursor(context.Context) (*ResultSet, error) {
	return emptyResultSet(), nil
}

func (e *Engine) keyDecoder() *keys.Definition {
	if e.def.Type != keys.Exact {
		return nil
	}
	def := e.def
	return &def
}
