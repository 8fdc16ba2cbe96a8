package nrt

import (
	"context"
	"fmt"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/logging"
	"github.com/Aman-CERP/nrtindex/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Create(context.Background(), "", store.Options{Logger: logging.Discard()})
	require.NoError(t, err)
	return s
}

func openController(t *testing.T, w Writer, opts Options) *Controller {
	t.Helper()
	opts.Logger = logging.Discard()
	c := New(opts)
	require.NoError(t, c.Open(w))
	return c
}

func doc(id, tag string) store.Document {
	return store.Document{ID: id, Fields: []store.Field{
		{Name: "tag", Kind: store.FieldKeyword, Text: tag, Index: true, Store: true},
	}}
}

func tagQuery(tag string) query.Query {
	q := query.NewTermQuery(tag)
	q.SetField("tag")
	return q
}

func docCount(t *testing.T, s *Searcher) uint64 {
	t.Helper()
	n, err := s.Snapshot().DocCount()
	require.NoError(t, err)
	return n
}

func TestController_GenerationsIncrease(t *testing.T) {
	c := openController(t, newStore(t), Options{})
	defer func() { _ = c.Close() }()

	// Given a sequence of mutations
	var last int64
	for i := range 5 {
		// When each is submitted
		gen, err := c.Submit(Mutation{Index: []store.Document{doc(fmt.Sprint(i), "a")}})

		// Then generations strictly increase
		require.NoError(t, err)
		assert.Greater(t, gen, last)
		last = gen
	}
	assert.Equal(t, last, c.Generation())
}

func TestController_ReadYourWrites(t *testing.T) {
	c := openController(t, newStore(t), Options{MaxStale: time.Hour})
	defer func() { _ = c.Close() }()

	// Given a submitted mutation
	gen, err := c.Submit(Mutation{Index: []store.Document{doc("1", "a")}})
	require.NoError(t, err)

	// When a searcher is acquired at its generation
	s, err := c.Acquire(context.Background(), gen)
	require.NoError(t, err)
	defer s.Release()

	// Then the write is visible without waiting for the periodic reopen
	assert.False(t, s.Stale())
	assert.GreaterOrEqual(t, s.Generation(), gen)
	assert.Equal(t, uint64(1), docCount(t, s))
}

func TestController_SearcherIsPointInTime(t *testing.T) {
	c := openController(t, newStore(t), Options{MaxStale: time.Hour})
	defer func() { _ = c.Close() }()

	gen, err := c.Submit(Mutation{Index: []store.Document{doc("1", "a")}})
	require.NoError(t, err)
	old, err := c.Acquire(context.Background(), gen)
	require.NoError(t, err)
	defer old.Release()

	// When more writes are published after the lease
	gen, err = c.Submit(Mutation{Index: []store.Document{doc("2", "a")}})
	require.NoError(t, err)
	fresh, err := c.Acquire(context.Background(), gen)
	require.NoError(t, err)
	defer fresh.Release()

	// Then the older lease still sees its own state
	assert.Equal(t, uint64(1), docCount(t, old))
	assert.Equal(t, uint64(2), docCount(t, fresh))
}

func TestController_ConcurrentSubmits(t *testing.T) {
	c := openController(t, newStore(t), Options{MinInterval: time.Millisecond})
	defer func() { _ = c.Close() }()

	// Given 8 callers sharing 100 mutations
	var (
		mu      sync.Mutex
		seen    = make(map[int64]bool)
		highest int64
	)
	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			for i := w; i < 100; i += 8 {
				gen, err := c.Submit(Mutation{Index: []store.Document{doc(fmt.Sprint(i), "a")}})
				if err != nil {
					return err
				}
				mu.Lock()
				if seen[gen] {
					mu.Unlock()
					return fmt.Errorf("generation %d handed out twice", gen)
				}
				seen[gen] = true
				if gen > highest {
					highest = gen
				}
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// When a searcher is acquired at the highest generation
	s, err := c.Acquire(context.Background(), highest)
	require.NoError(t, err)
	defer s.Release()

	// Then every mutation is visible
	assert.Equal(t, int64(100), highest)
	assert.Equal(t, uint64(100), docCount(t, s))
}

func TestController_DeleteQuerySeesEarlierWrites(t *testing.T) {
	c := openController(t, newStore(t), Options{MaxStale: time.Hour})
	defer func() { _ = c.Close() }()

	// Given an add and a delete-by-query drained together
	_, err := c.Submit(Mutation{Index: []store.Document{doc("1", "gone"), doc("2", "kept")}})
	require.NoError(t, err)
	gen, err := c.Submit(Mutation{DeleteQuery: tagQuery("gone")})
	require.NoError(t, err)

	// When both are published
	s, err := c.Acquire(context.Background(), gen)
	require.NoError(t, err)
	defer s.Release()

	// Then the delete resolved against the add
	assert.Equal(t, uint64(1), docCount(t, s))
}

func TestController_ReaddAfterDelete(t *testing.T) {
	c := openController(t, newStore(t), Options{MaxStale: time.Hour})
	defer func() { _ = c.Close() }()

	_, err := c.Submit(Mutation{Index: []store.Document{doc("1", "a")}})
	require.NoError(t, err)
	_, err = c.Submit(Mutation{DeleteIDs: []string{"1"}})
	require.NoError(t, err)
	gen, err := c.Submit(Mutation{Index: []store.Document{doc("1", "b")}})
	require.NoError(t, err)

	s, err := c.Acquire(context.Background(), gen)
	require.NoError(t, err)
	defer s.Release()

	n, err := s.Snapshot().Count(context.Background(), tagQuery("b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

// blockingWriter stalls the first Apply until its context ends.
type blockingWriter struct {
	*store.Store
	once    sync.Once
	entered chan struct{}
}

func (w *blockingWriter) Apply(ctx context.Context, b *store.Batch) error {
	blocked := false
	w.once.Do(func() { blocked = true })
	if blocked {
		close(w.entered)
		<-ctx.Done()
		return ctx.Err()
	}
	return w.Store.Apply(ctx, b)
}

// failingWriter fails its first failures Apply calls.
type failingWriter struct {
	*store.Store
	failures int32
	calls    atomic.Int32
}

func (w *failingWriter) Apply(ctx context.Context, b *store.Batch) error {
	if w.calls.Add(1) <= w.failures {
		return errors.New("disk unavailable")
	}
	return w.Store.Apply(ctx, b)
}

func TestController_FailedReopenIsRetried(t *testing.T) {
	// Given a writer whose first two applies fail
	w := &failingWriter{Store: newStore(t), failures: 2}
	c := openController(t, w, Options{MaxStale: 50 * time.Millisecond})
	defer func() { _ = c.Close() }()

	gen, err := c.Submit(Mutation{Index: []store.Document{doc("1", "a")}})
	require.NoError(t, err)

	// When a reader waits for that write
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := c.Acquire(ctx, gen)
	require.NoError(t, err)
	defer s.Release()

	// Then the background loop kept going and published it on a later tick
	assert.False(t, s.Stale())
	assert.GreaterOrEqual(t, s.Generation(), gen)
	assert.Equal(t, uint64(1), docCount(t, s))
	assert.Greater(t, w.calls.Load(), int32(2))
}

func TestController_StaleReadOnTimeout(t *testing.T) {
	w := &blockingWriter{Store: newStore(t), entered: make(chan struct{})}
	c := openController(t, w, Options{MaxStale: time.Hour})

	gen, err := c.Submit(Mutation{Index: []store.Document{doc("1", "a")}})
	require.NoError(t, err)

	// When the wait is cut short
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s, err := c.Acquire(ctx, gen)

	// Then the latest view is returned flagged stale
	require.NoError(t, err)
	assert.True(t, s.Stale())
	assert.ErrorIs(t, s.Warning(), ixerrors.ErrStaleRead)
	assert.Equal(t, int64(0), s.Generation())
	s.Release()
	s.Release()

	// And Close still drains the pending write
	require.NoError(t, c.Close())
}

func TestController_CloseInterruptsWaiter(t *testing.T) {
	w := &blockingWriter{Store: newStore(t), entered: make(chan struct{})}
	c := openController(t, w, Options{MaxStale: time.Hour})

	gen, err := c.Submit(Mutation{Index: []store.Document{doc("1", "a")}})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Acquire(context.Background(), gen)
		errCh <- err
	}()
	<-w.entered

	// When the controller closes mid-wait
	require.NoError(t, c.Close())

	// Then the waiter gets an error instead of hanging
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ixerrors.ErrEngineState)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not interrupted")
	}
}

func TestController_LifecycleErrors(t *testing.T) {
	c := New(Options{Logger: logging.Discard()})

	_, err := c.Submit(Mutation{})
	assert.ErrorIs(t, err, ixerrors.ErrEngineState)
	_, err = c.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, ixerrors.ErrEngineState)

	require.NoError(t, c.Open(newStore(t)))
	assert.ErrorIs(t, c.Open(newStore(t)), ixerrors.ErrEngineState)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ixerrors.ErrEngineState)
	_, err = c.Submit(Mutation{})
	assert.ErrorIs(t, err, ixerrors.ErrEngineState)
}

func TestController_CommitPublishesAndPersists(t *testing.T) {
	s := newStore(t)
	c := openController(t, s, Options{MaxStale: time.Hour})
	defer func() { _ = c.Close() }()

	gen, err := c.Submit(Mutation{Index: []store.Document{doc("1", "a")}})
	require.NoError(t, err)

	require.NoError(t, c.Commit(context.Background()))

	assert.Equal(t, gen, c.Published())
	info, ok, err := s.LastCommit()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, gen, info.Generation)
}

func TestController_OpenFailureLeavesControllerClosed(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())

	c := New(Options{Logger: logging.Discard()})
	err := c.Open(s)

	assert.ErrorIs(t, err, ixerrors.ErrEngineInit)
	_, err = c.Submit(Mutation{})
	assert.ErrorIs(t, err, ixerrors.ErrEngineState)
}
