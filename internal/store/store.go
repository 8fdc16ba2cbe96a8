// Package store is the segment store under the NRT engine: a single bleve
// index per engine with one writer and point-in-time snapshot readers.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
)

// Internal keys written next to the documents.
var (
	commitKey   = []byte("_nrt_commit")
	analyzerKey = []byte("_nrt_analyzer")
)

// FormatVersion is the on-disk layout version recorded at creation.
const FormatVersion = 1

// Options configures Create and Open.
type Options struct {
	// Analyzer is the default analyzer name, resolved by ResolveAnalyzer.
	Analyzer string
	// LockTimeout bounds the wait for the directory lock.
	LockTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store owns the bleve index and its directory lock.
type Store struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	lock   *dirLock
	closed bool

	analyzer        string
	textAnalyzer    analysis.Analyzer
	keywordAnalyzer analysis.Analyzer
	logger          *slog.Logger
}

// CommitInfo is the last commit marker written by Commit.
type CommitInfo struct {
	Generation int64     `json:"generation"`
	Time       time.Time `json:"time"`
	Version    int       `json:"version"`
}

// Create opens the index at path, creating it when missing. An empty path
// creates an in-memory index.
func Create(ctx context.Context, path string, opts Options) (*Store, error) {
	return open(ctx, path, opts, true)
}

// Open opens an existing index at path. An empty path creates an in-memory index.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	return open(ctx, path, opts, false)
}

func open(ctx context.Context, path string, opts Options, create bool) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	analyzerName, err := ResolveAnalyzer(opts.Analyzer)
	if err != nil {
		return nil, err
	}
	im, err := buildMapping(analyzerName)
	if err != nil {
		return nil, ixerrors.EngineInit("failed to create index mapping", err)
	}

	s := &Store{path: path, analyzer: analyzerName, logger: logger}

	if path == "" {
		s.index, err = bleve.NewMemOnly(im)
		if err != nil {
			return nil, ixerrors.EngineInit("failed to create in-memory index", err)
		}
		return s.init()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ixerrors.EngineInit(fmt.Sprintf("failed to create directory %s", filepath.Dir(path)), err)
	}

	s.lock = newDirLock(path)
	if err := s.lock.acquire(ctx, opts.LockTimeout); err != nil {
		if ie, ok := ixerrors.As(err); ok && ie.Code == ixerrors.ErrCodeIndexLocked {
			return nil, err
		}
		return nil, ixerrors.EngineInit("failed to lock index directory", err)
	}

	s.index, err = openOrCreate(path, im, create, logger)
	if err != nil {
		_ = s.lock.release()
		return nil, err
	}
	return s.init()
}

func (s *Store) init() (*Store, error) {
	// Persisted indexes keep their creation mapping; the analyzer recorded
	// there wins over the requested one.
	if stored, err := s.index.GetInternal(analyzerKey); err == nil && len(stored) > 0 {
		s.analyzer = string(stored)
	} else if err := s.index.SetInternal(analyzerKey, []byte(s.analyzer)); err != nil {
		_ = s.Close()
		return nil, ixerrors.EngineInit("failed to record analyzer", err)
	}

	m := s.index.Mapping()
	s.textAnalyzer = m.AnalyzerNamed(s.analyzer)
	s.keywordAnalyzer = m.AnalyzerNamed(keyword.Name)
	if s.textAnalyzer == nil {
		_ = s.Close()
		return nil, ixerrors.EngineInit(fmt.Sprintf("analyzer %q is not available", s.analyzer), nil)
	}
	return s, nil
}

// openOrCreate validates integrity before opening; corrupted indexes are
// cleared and recreated since their contents can be rebuilt from records.
func openOrCreate(path string, im *mapping.IndexMappingImpl, create bool, logger *slog.Logger) (bleve.Index, error) {
	if validErr := validateIndexIntegrity(path); validErr != nil {
		logger.Warn("store_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, ixerrors.New(ixerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("index corrupted at %s and cannot be removed", path), err)
		}
		logger.Info("store_index_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, rebuild required"))
	}

	idx, err := bleve.Open(path)
	switch {
	case err == nil:
		return idx, nil
	case err == bleve.ErrorIndexPathDoesNotExist:
		if !create {
			return nil, ixerrors.New(ixerrors.ErrCodeIndexNotFound, "index does not exist: "+path, err)
		}
		idx, err = bleve.New(path, im)
	case isCorruptionError(err):
		logger.Warn("store_index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, ixerrors.New(ixerrors.ErrCodeCorruptIndex, "index corrupted and cannot be cleared", removeErr)
		}
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, ixerrors.EngineInit("failed to create/open index at "+path, err)
	}
	return idx, nil
}

// validateIndexIntegrity checks a bleve index directory before opening.
// A missing directory is valid: it will be created.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return err == bleve.ErrorIndexMetaCorrupt ||
		strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

// Path returns the index directory, or "" for in-memory indexes.
func (s *Store) Path() string { return s.path }

// Analyzer returns the resolved default analyzer name.
func (s *Store) Analyzer() string { return s.analyzer }

// TextAnalyzer returns the analyzer applied to text fields.
func (s *Store) TextAnalyzer() analysis.Analyzer { return s.textAnalyzer }

// Apply writes b in one bleve batch.
func (s *Store) Apply(ctx context.Context, b *Batch) error {
	if b.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ixerrors.EngineState("store is closed")
	}

	batch := s.index.NewBatch()
	for _, d := range b.Index {
		if err := batch.IndexAdvanced(toBleve(d, s.textAnalyzer, s.keywordAnalyzer)); err != nil {
			return ixerrors.New(ixerrors.ErrCodeIndexFailed, "failed to index document "+strconv.Quote(d.ID), err)
		}
	}
	for _, id := range b.Delete {
		batch.Delete(id)
	}
	if err := s.index.Batch(batch); err != nil {
		return ixerrors.New(ixerrors.ErrCodeIndexFailed, "failed to execute batch", err)
	}
	return nil
}

// MatchingIDs returns the ids of every live document matching q, including
// writes applied but not yet visible to any snapshot.
func (s *Store) MatchingIDs(ctx context.Context, q query.Query) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ixerrors.EngineState("store is closed")
	}

	count, err := s.index.DocCount()
	if err != nil {
		return nil, ixerrors.New(ixerrors.ErrCodeSearchFailed, "failed to count documents", err)
	}
	if count == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(q, int(count), 0, false)
	req.Fields = nil
	req.Score = "none"
	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ixerrors.New(ixerrors.ErrCodeSearchFailed, "failed to resolve delete query", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Snapshot opens a point-in-time reader over everything applied so far.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ixerrors.EngineState("store is closed")
	}

	adv, err := s.index.Advanced()
	if err != nil {
		return nil, ixerrors.InternalError("failed to access index internals", err)
	}
	reader, err := adv.Reader()
	if err != nil {
		return nil, ixerrors.InternalError("failed to open snapshot reader", err)
	}
	return &Snapshot{reader: reader, mapping: s.index.Mapping()}, nil
}

// Commit records a durable commit marker for generation.
func (s *Store) Commit(generation int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ixerrors.EngineState("store is closed")
	}

	data, err := json.Marshal(CommitInfo{Generation: generation, Time: time.Now().UTC(), Version: FormatVersion})
	if err != nil {
		return err
	}
	if err := s.index.SetInternal(commitKey, data); err != nil {
		return ixerrors.New(ixerrors.ErrCodeIndexFailed, "failed to write commit marker", err)
	}
	return nil
}

// LastCommit returns the last commit marker, if any.
func (s *Store) LastCommit() (CommitInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return CommitInfo{}, false, ixerrors.EngineState("store is closed")
	}

	data, err := s.index.GetInternal(commitKey)
	if err != nil || len(data) == 0 {
		return CommitInfo{}, false, err
	}
	var info CommitInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return CommitInfo{}, false, fmt.Errorf("failed to decode commit marker: %w", err)
	}
	return info, true, nil
}

// Close closes the index and releases the directory lock. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.index != nil {
		err = s.index.Close()
	}
	if s.lock != nil {
		if lerr := s.lock.release(); lerr != nil && err == nil {
			err = lerr
		}
	}
	return err
}

// Destroy removes an index directory and its lock file. The index must not be open.
func Destroy(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove index %s: %w", path, err)
	}
	if err := os.Remove(lockPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
