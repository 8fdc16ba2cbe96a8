package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryKind classifies a query by the key shape that produced it.
type QueryKind string

const (
	QueryKindFullText QueryKind = "fulltext"
	QueryKindExact    QueryKind = "exact"
	QueryKindRange    QueryKind = "range"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one executed query.
type QueryEvent struct {
	Query       string
	Kind        QueryKind
	ResultCount uint64
	Latency     time.Duration
	Stale       bool
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms returns the lowercased words of a free-text query that carry
// meaning: field prefixes, operators and words shorter than 3 bytes are dropped.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if i := strings.LastIndexByte(w, ':'); i >= 0 {
			w = w[i+1:]
		}
		w = strings.Trim(w, `+-!()"^~*?[]{}`)
		switch w {
		case "and", "or", "not", "to":
			continue
		}
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryStatsSnapshot is an immutable copy of the collected statistics.
type QueryStatsSnapshot struct {
	KindCounts          map[QueryKind]int64     `json:"kind_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	StaleCount          int64                   `json:"stale_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *QueryStatsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// QueryStatsConfig configures a QueryStats collector.
type QueryStatsConfig struct {
	TopTermsCapacity      int // default: 100
	ZeroResultsCapacity   int // default: 100
	RecentQueriesCapacity int // default: 500
}

// DefaultQueryStatsConfig returns the default capacities.
func DefaultQueryStatsConfig() QueryStatsConfig {
	return QueryStatsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
	}
}

// QueryStats collects per-index query statistics in memory.
// Thread-safe for concurrent access.
type QueryStats struct {
	mu sync.Mutex

	kinds           map[QueryKind]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	staleCount      int64
	startTime       time.Time

	recentQueries    *lru.Cache[string, struct{}]
	exactRepeatCount int64
}

// NewQueryStats creates a collector; zero capacities take their defaults.
func NewQueryStats(cfg QueryStatsConfig) *QueryStats {
	def := DefaultQueryStatsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	return &QueryStats{
		kinds:         make(map[QueryKind]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:     make(map[LatencyBucket]int64),
		startTime:     time.Now(),
		recentQueries: recent,
	}
}

// Record captures one query.
func (s *QueryStats) Record(event QueryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kinds[event.Kind]++
	s.totalQueries++
	s.latencies[LatencyToBucket(event.Latency)]++
	if event.Stale {
		s.staleCount++
	}

	if event.Kind == QueryKindFullText {
		for _, term := range ExtractTerms(event.Query) {
			count, _ := s.topTerms.Get(term)
			s.topTerms.Add(term, count+1)
		}
	}
	if event.IsZeroResult() {
		s.zeroResults.Add(event.Query)
		s.zeroResultCount++
	}

	h := hashQuery(event.Query)
	if _, seen := s.recentQueries.Get(h); seen {
		s.exactRepeatCount++
	}
	s.recentQueries.Add(h, struct{}{})
}

// hashQuery creates a normalized hash of the query for repetition detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns the current statistics.
func (s *QueryStats) Snapshot() *QueryStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make(map[QueryKind]int64, len(s.kinds))
	for k, v := range s.kinds {
		kinds[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(s.latencies))
	for k, v := range s.latencies {
		latencies[k] = v
	}

	var top []TermCount
	for _, term := range s.topTerms.Keys() {
		if count, ok := s.topTerms.Peek(term); ok {
			top = append(top, TermCount{Term: term, Count: count})
		}
	}
	slices.SortStableFunc(top, func(a, b TermCount) int {
		if a.Count != b.Count {
			return int(b.Count - a.Count)
		}
		return strings.Compare(a.Term, b.Term)
	})

	var repeatRate float64
	if s.totalQueries > 0 {
		repeatRate = float64(s.exactRepeatCount) / float64(s.totalQueries)
	}

	return &QueryStatsSnapshot{
		KindCounts:          kinds,
		TopTerms:            top,
		ZeroResultQueries:   s.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        s.totalQueries,
		ZeroResultCount:     s.zeroResultCount,
		StaleCount:          s.staleCount,
		ExactRepeatCount:    s.exactRepeatCount,
		ExactRepeatRate:     repeatRate,
		Since:               s.startTime,
	}
}
