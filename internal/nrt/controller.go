// Package nrt owns the index writer and publishes near-real-time searchers.
//
// Every accepted mutation gets a generation. A background loop drains
// pending mutations into the writer and publishes a new point-in-time
// searcher; Acquire waits until the published generation covers the one
// the caller asked for.
package nrt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/time/rate"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/store"
	"github.com/Aman-CERP/nrtindex/internal/telemetry"
)

// Default timings.
const (
	DefaultMaxStale       = 60 * time.Second
	DefaultMinInterval    = 100 * time.Millisecond
	DefaultAcquireTimeout = 10 * time.Second
)

// Writer is the storage the controller owns exclusively once opened.
// *store.Store implements it.
type Writer interface {
	Apply(ctx context.Context, b *store.Batch) error
	MatchingIDs(ctx context.Context, q query.Query) ([]string, error)
	Snapshot() (*store.Snapshot, error)
	Commit(generation int64) error
	Close() error
}

// Mutation is one accepted write. Within a mutation, deletions apply
// before additions.
type Mutation struct {
	Index     []store.Document
	DeleteIDs []string
	// DeleteQuery is resolved against the writer's latest state when the
	// mutation is drained.
	DeleteQuery query.Query
}

// Options configures a Controller.
type Options struct {
	// MaxStale bounds how long a mutation can stay invisible without a reader asking for it.
	MaxStale time.Duration
	// MinInterval is the minimum time between reopens triggered by waiting readers.
	MinInterval time.Duration
	// AcquireTimeout bounds Acquire's wait; zero means ctx alone bounds it.
	AcquireTimeout time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

type state int

const (
	stateNew state = iota
	stateOpen
	stateClosing
	stateClosed
)

type pending struct {
	gen int64
	m   Mutation
}

// Controller is the single owner of the writer and the published view.
type Controller struct {
	opts    Options
	logger  *slog.Logger
	metrics *telemetry.Metrics
	limiter *rate.Limiter

	mu        sync.Mutex
	state     state
	writer    Writer
	queue     []pending
	nextGen   int64
	applied   int64
	published int64
	current   *view
	publishCh chan struct{}

	// reopenMu serializes drains.
	reopenMu sync.Mutex

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a closed controller. Zero timings take their defaults.
func New(opts Options) *Controller {
	if opts.MaxStale <= 0 {
		opts.MaxStale = DefaultMaxStale
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Discard()
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &Controller{
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		limiter:   rate.NewLimiter(limit, 1),
		publishCh: make(chan struct{}),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Open takes ownership of w, publishes its current state as generation 0
// and starts the reopen loop. On failure the controller stays closed and w
// is left to the caller.
func (c *Controller) Open(w Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateNew {
		return ixerrors.EngineState("reopen controller was already opened")
	}

	snap, err := w.Snapshot()
	if err != nil {
		c.logger.Error("nrt_open_failed", slog.String("error", err.Error()))
		return ixerrors.EngineInit("failed to open initial searcher", err)
	}

	c.writer = w
	c.current = newView(snap, 0)
	c.state = stateOpen
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.loop()

	c.logger.Debug("nrt_opened",
		slog.Duration("max_stale", c.opts.MaxStale),
		slog.Duration("min_interval", c.opts.MinInterval))
	return nil
}

// Submit queues m and returns its generation. It never waits for a reopen.
func (c *Controller) Submit(m Mutation) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return 0, ixerrors.EngineState("reopen controller is not open")
	}
	c.nextGen++
	c.queue = append(c.queue, pending{gen: c.nextGen, m: m})
	return c.nextGen, nil
}

// Generation returns the last generation handed out by Submit.
func (c *Controller) Generation() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextGen
}

// Published returns the generation of the current searcher.
func (c *Controller) Published() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}

// Acquire returns a searcher that reflects every mutation up to minGen.
// When the wait is cut short by ctx or the acquire timeout, the latest
// searcher is returned instead, flagged stale with a warning. Closing the
// controller interrupts the wait with an error.
func (c *Controller) Acquire(ctx context.Context, minGen int64) (*Searcher, error) {
	if c.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.AcquireTimeout)
		defer cancel()
	}

	for {
		c.mu.Lock()
		if c.state != stateOpen {
			c.mu.Unlock()
			return nil, ixerrors.EngineState("reopen controller is not open")
		}
		if minGen > c.nextGen {
			minGen = c.nextGen
		}
		if c.published >= minGen {
			s := c.leaseLocked()
			c.mu.Unlock()
			return s, nil
		}
		ch := c.publishCh
		c.mu.Unlock()

		c.requestReopen()

		select {
		case <-ch:
		case <-c.done:
			return nil, ixerrors.EngineState("reopen controller closed while waiting for a searcher")
		case <-ctx.Done():
			return c.staleLease(minGen, ctx.Err())
		}
	}
}

func (c *Controller) staleLease(minGen int64, cause error) (*Searcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return nil, ixerrors.EngineState("reopen controller is not open")
	}
	s := c.leaseLocked()
	if s.gen >= minGen {
		return s, nil
	}
	s.warning = ixerrors.StaleRead(minGen, s.gen, cause)
	c.metrics.StaleRead()
	c.logger.Warn("nrt_stale_read",
		slog.Int64("requested", minGen),
		slog.Int64("published", s.gen),
		slog.String("cause", cause.Error()))
	return s, nil
}

func (c *Controller) leaseLocked() *Searcher {
	v := c.current
	v.acquire()
	c.metrics.SearcherAcquired()
	return &Searcher{view: v, gen: v.gen, metrics: c.metrics}
}

func (c *Controller) requestReopen() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Refresh drains pending mutations and publishes a new searcher now.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.reopen(ctx)
}

// Commit publishes every pending mutation and makes it durable.
func (c *Controller) Commit(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.reopen(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	gen := c.published
	c.mu.Unlock()
	if err := c.writer.Commit(gen); err != nil {
		return ixerrors.New(ixerrors.ErrCodeIndexFailed, "failed to commit index", err)
	}
	return nil
}

func (c *Controller) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return ixerrors.EngineState("reopen controller is not open")
	}
	return nil
}

// Close stops the reopen loop, applies what is still pending, releases the
// published searcher and commits and closes the writer. Teardown continues
// past failures; they are joined into the returned error. A second Close
// fails.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return ixerrors.EngineState("reopen controller is not open")
	}
	c.state = stateClosing
	close(c.done)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	var errs []error
	if err := c.reopen(context.Background()); err != nil {
		c.logger.Error("nrt_close_drain_failed", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	c.mu.Lock()
	v := c.current
	c.current = nil
	gen := c.applied
	c.state = stateClosed
	c.mu.Unlock()
	if v != nil {
		v.release()
	}

	if err := c.writer.Commit(gen); err != nil {
		c.logger.Error("nrt_close_commit_failed", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := c.writer.Close(); err != nil {
		c.logger.Error("nrt_close_writer_failed", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Controller) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.MaxStale)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		case <-c.wake:
			if err := c.limiter.Wait(c.ctx); err != nil {
				return
			}
		}
		if err := c.reopen(c.ctx); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("nrt_reopen_failed", ixerrors.LogArgs(err)...)
		}
	}
}

// reopen drains the queue into the writer and publishes a searcher at the
// last drained generation. Failed drains are requeued; every mutation is
// idempotent, so reapplying a partially applied drain is safe.
func (c *Controller) reopen(ctx context.Context) error {
	c.reopenMu.Lock()
	defer c.reopenMu.Unlock()

	c.mu.Lock()
	batch := c.queue
	c.queue = nil
	target := c.nextGen
	upToDate := len(batch) == 0 && c.applied == c.published
	c.mu.Unlock()
	if upToDate {
		return nil
	}

	start := time.Now()
	if err := c.drain(ctx, batch); err != nil {
		c.mu.Lock()
		c.queue = append(batch, c.queue...)
		c.mu.Unlock()
		c.metrics.ReopenDone(time.Since(start), err)
		return err
	}
	c.mu.Lock()
	c.applied = target
	c.mu.Unlock()

	snap, err := c.writer.Snapshot()
	if err != nil {
		c.metrics.ReopenDone(time.Since(start), err)
		return ixerrors.New(ixerrors.ErrCodeSearchFailed, "failed to open searcher", err)
	}

	v := newView(snap, target)
	c.mu.Lock()
	old := c.current
	if c.state == stateClosed {
		c.mu.Unlock()
		v.release()
		return nil
	}
	c.current = v
	c.published = target
	close(c.publishCh)
	c.publishCh = make(chan struct{})
	c.mu.Unlock()
	if old != nil {
		old.release()
	}

	c.metrics.ReopenDone(time.Since(start), nil)
	c.metrics.Published(target)
	c.logger.Debug("nrt_published",
		slog.Int64("generation", target),
		slog.Int("mutations", len(batch)),
		slog.Duration("took", time.Since(start)))
	return nil
}

// drain applies mutations in order. A batch applies its additions before
// its deletions, so it is flushed before any addition that follows a
// deletion and before resolving a delete query.
func (c *Controller) drain(ctx context.Context, muts []pending) error {
	var b store.Batch
	flush := func() error {
		if b.Empty() {
			return nil
		}
		err := c.writer.Apply(ctx, &b)
		b = store.Batch{}
		return err
	}

	for _, p := range muts {
		m := p.m
		if m.DeleteQuery != nil {
			if err := flush(); err != nil {
				return err
			}
			ids, err := c.writer.MatchingIDs(ctx, m.DeleteQuery)
			if err != nil {
				return err
			}
			b.Delete = append(b.Delete, ids...)
		}
		b.Delete = append(b.Delete, m.DeleteIDs...)
		if len(m.Index) > 0 && len(b.Delete) > 0 {
			if err := flush(); err != nil {
				return err
			}
		}
		b.Index = append(b.Index, m.Index...)
	}
	return flush()
}
