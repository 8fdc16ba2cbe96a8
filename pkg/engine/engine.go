// Package engine is the near-real-time full-text index engine.
//
// An Engine manages one named index: its segment store, facet taxonomy,
// query translator and the reopen controller that publishes searchers.
// Writes return as soon as they are queued; reads made through the same
// Engine always observe the writes it has already accepted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/nrtindex/internal/config"
	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/facet"
	"github.com/Aman-CERP/nrtindex/internal/nrt"
	"github.com/Aman-CERP/nrtindex/internal/query"
	"github.com/Aman-CERP/nrtindex/internal/store"
	"github.com/Aman-CERP/nrtindex/internal/telemetry"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

// TotalHitsVariable is the execution-context variable set to a free-text
// query's total match count.
const TotalHitsVariable = "$totalHits"

// Metadata is the index-scoped configuration read at create and load time.
type Metadata struct {
	// Analyzer names the default analyzer. Empty uses the configured default.
	Analyzer string `yaml:"analyzer"`
	// Version is the caller's format version string. It is informational.
	Version string `yaml:"version"`
	// FacetFields lists the facet-enabled fields.
	FacetFields []string `yaml:"facet_fields,omitempty"`
	// Parser holds index-wide parser option defaults.
	Parser map[string]string `yaml:"parser,omitempty"`
}

// Engine is one named index.
type Engine struct {
	name     string
	def      keys.Definition
	cfg      *config.Config
	logger   *slog.Logger
	path     string
	inMemory bool
	reg      prometheus.Registerer
	metrics  *telemetry.Metrics
	stats    *telemetry.QueryStats

	mu      sync.RWMutex
	live    *openIndex
	meta    Metadata
	deleted bool

	// lastGen is the highest generation this engine has submitted.
	lastGen atomic.Int64

	stageMu sync.Mutex
	staged  map[string][]store.Document
	order   []string
}

// openIndex holds the components that exist while the index is open.
type openIndex struct {
	store  *store.Store
	ctrl   *nrt.Controller
	facets facet.Subsystem
	// tr is swapped by SetIndexMetadata while readers hold the index.
	tr atomic.Pointer[query.Translator]
}

func (o *openIndex) translator() *query.Translator { return o.tr.Load() }

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. Defaults to config.NewConfig().
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegisterer registers the engine's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.reg = reg }
}

// WithDir places the index at dir instead of under the configured base directory.
func WithDir(dir string) Option {
	return func(e *Engine) { e.path = dir }
}

// WithInMemory keeps the index in memory. Nothing is persisted.
func WithInMemory() Option {
	return func(e *Engine) { e.inMemory = true }
}

// New creates a closed engine for the index name described by def.
// Call Create or Load before use.
func New(name string, def keys.Definition, opts ...Option) (*Engine, error) {
	if name == "" {
		return nil, ixerrors.ValidationError("index name must not be empty", nil)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{name: name, def: def.Clone(), staged: make(map[string][]store.Document)}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		e.cfg = config.NewConfig()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slog.String("index", name))

	switch {
	case e.inMemory:
		e.path = ""
	case e.path == "" && e.cfg.Storage.BaseDir != "":
		e.path = filepath.Join(e.cfg.Storage.BaseDir, name)
	}

	e.metrics = telemetry.NewCollectors(e.reg).For(name)
	e.stats = telemetry.NewQueryStats(telemetry.DefaultQueryStatsConfig())
	return e, nil
}

// Name returns the index name.
func (e *Engine) Name() string { return e.name }

// Definition returns a copy of the index definition.
func (e *Engine) Definition() keys.Definition { return e.def.Clone() }

// Path returns the index directory, or "" for an in-memory index.
func (e *Engine) Path() string { return e.path }

// Version is the serialized key-ordering version. Full-text indexes have none.
func (e *Engine) Version() int { return 0 }

// HasRangeQuerySupport reports whether keys can be read back in order.
func (e *Engine) HasRangeQuerySupport() bool { return e.def.Type == keys.Exact }

// Metadata returns the metadata the index was opened with.
func (e *Engine) Metadata() Metadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta
}

// SetIndexMetadata replaces the index metadata. Parser defaults apply to
// queries made after the call; the analyzer and facet fields take effect
// at the next Create or Load.
func (e *Engine) SetIndexMetadata(meta Metadata) error {
	base, err := e.parserDefaults(meta)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.meta = meta
	if e.live == nil {
		return nil
	}
	tr, err := query.NewTranslator(e.def, e.cfg.Engine.QueryCacheSize,
		query.WithParserDefaults(base),
		query.WithAnalyzer(e.live.store.TextAnalyzer()),
		query.WithFacets(e.live.facets))
	if err != nil {
		return err
	}
	e.live.tr.Store(tr)
	return nil
}

// Create opens the index, creating it when it does not exist yet.
func (e *Engine) Create(ctx context.Context, meta Metadata) error {
	return e.open(ctx, meta, true)
}

// Load opens an existing index.
func (e *Engine) Load(ctx context.Context, meta Metadata) error {
	return e.open(ctx, meta, false)
}

func (e *Engine) open(ctx context.Context, meta Metadata, create bool) error {
	base, err := e.parserDefaults(meta)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live != nil {
		return ixerrors.EngineState(fmt.Sprintf("index %q is already open", e.name))
	}

	analyzer := meta.Analyzer
	if analyzer == "" {
		analyzer = e.cfg.Storage.Analyzer
	}
	openStore := store.Open
	if create {
		openStore = store.Create
	}
	st, err := openStore(ctx, e.path, store.Options{
		Analyzer:    analyzer,
		LockTimeout: e.cfg.LockTimeout(),
		Logger:      e.logger,
	})
	if err != nil {
		return err
	}

	facets, err := facet.New(facet.Config{Fields: meta.FacetFields}, taxonomyPath(e.path), e.logger)
	if err != nil {
		_ = st.Close()
		return ixerrors.EngineInit("failed to open facet taxonomy", err)
	}

	tr, err := query.NewTranslator(e.def, e.cfg.Engine.QueryCacheSize,
		query.WithParserDefaults(base),
		query.WithAnalyzer(st.TextAnalyzer()),
		query.WithFacets(facets))
	if err != nil {
		_ = facets.Close()
		_ = st.Close()
		return err
	}

	ctrl := nrt.New(nrt.Options{
		MaxStale:       e.cfg.MaxStale(),
		MinInterval:    e.cfg.MinInterval(),
		AcquireTimeout: e.cfg.AcquireTimeout(),
		Logger:         e.logger,
		Metrics:        e.metrics,
	})
	if err := ctrl.Open(st); err != nil {
		_ = facets.Close()
		_ = st.Close()
		return err
	}

	live := &openIndex{store: st, ctrl: ctrl, facets: facets}
	live.tr.Store(tr)
	e.live = live
	e.meta = meta
	e.deleted = false
	e.lastGen.Store(0)

	e.logger.Info("engine_opened",
		slog.String("path", e.path),
		slog.String("analyzer", st.Analyzer()),
		slog.String("type", e.def.Type.String()),
		slog.Bool("automatic", e.def.Automatic),
		slog.Bool("created", create))
	return nil
}

func (e *Engine) parserDefaults(meta Metadata) (query.ParserOptions, error) {
	base, err := query.ParseOptions(query.StringOptions(e.cfg.Parser), query.DefaultParserOptions())
	if err != nil {
		return query.ParserOptions{}, err
	}
	return query.ParseOptions(query.StringOptions(meta.Parser), base)
}

func (e *Engine) current() (*openIndex, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.live == nil {
		return nil, ixerrors.EngineState(fmt.Sprintf("index %q is not open", e.name))
	}
	return e.live, nil
}

// Close makes pending writes durable and releases the index. Staged
// manual-index writes that were never committed are discarded.
func (e *Engine) Close() error {
	e.mu.Lock()
	live := e.live
	e.live = nil
	e.mu.Unlock()
	if live == nil {
		return ixerrors.EngineState(fmt.Sprintf("index %q is not open", e.name))
	}

	if n := e.discardStaged(); n > 0 {
		e.logger.Warn("engine_staged_writes_discarded", slog.Int("keys", n))
	}
	err := e.teardown(live)
	e.logger.Info("engine_closed")
	return err
}

func (e *Engine) teardown(live *openIndex) error {
	var errs []error
	if err := live.ctrl.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := live.facets.Commit(); err != nil {
		e.logger.Error("engine_facet_commit_failed", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := live.facets.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Delete closes the index if it is open and removes it from disk.
// Deleting an already deleted index does nothing.
func (e *Engine) Delete() error {
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		e.logger.Debug("engine_delete_skipped", slog.String("reason", "already deleted"))
		return nil
	}
	live := e.live
	e.live = nil
	e.deleted = true
	e.mu.Unlock()

	e.discardStaged()
	if live != nil {
		if err := e.teardown(live); err != nil {
			e.logger.Warn("engine_close_before_delete_failed", ixerrors.LogArgs(err)...)
		}
	}
	return e.destroy()
}

// DeleteWithoutLoad removes the index from disk without opening it.
func (e *Engine) DeleteWithoutLoad() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live != nil {
		return ixerrors.EngineState(fmt.Sprintf("index %q is open; use Delete", e.name))
	}
	e.deleted = true
	return e.destroy()
}

func (e *Engine) destroy() error {
	if err := store.Destroy(e.path); err != nil {
		return ixerrors.New(ixerrors.ErrCodeInternal, "failed to delete index", err)
	}
	if err := facet.Destroy(taxonomyPath(e.path)); err != nil {
		return ixerrors.New(ixerrors.ErrCodeInternal, "failed to delete facet taxonomy", err)
	}
	e.logger.Info("engine_deleted", slog.String("path", e.path))
	return nil
}

func taxonomyPath(indexPath string) string {
	if indexPath == "" {
		return ""
	}
	return indexPath + ".taxonomy.db"
}

// QueryStats returns the per-index query statistics collected so far.
func (e *Engine) QueryStats() *telemetry.QueryStatsSnapshot { return e.stats.Snapshot() }

// advance records gen as submitted by this engine.
func (e *Engine) advance(gen int64) {
	for {
		cur := e.lastGen.Load()
		if gen <= cur || e.lastGen.CompareAndSwap(cur, gen) {
			return
		}
	}
}
