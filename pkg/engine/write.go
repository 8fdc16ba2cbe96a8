package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	bq "github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/nrtindex/internal/codec"
	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/nrt"
	"github.com/Aman-CERP/nrtindex/internal/store"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

// Entry is one key and the records it belongs to.
type Entry struct {
	Key        keys.Key
	Identities []keys.Identity
}

// Put indexes key for every identity in ids. Automatic indexes queue the
// write immediately; manual indexes stage it until Commit.
func (e *Engine) Put(ctx context.Context, key keys.Key, ids ...keys.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	live, err := e.current()
	if err != nil {
		return err
	}
	docs, err := encode(live, e.def, key, ids)
	if err != nil {
		return err
	}

	if !e.def.Automatic {
		e.stage(stageKey(key), docs)
		e.metrics.Mutation("put")
		return nil
	}
	if err := e.submit(live, nrt.Mutation{Index: docs}); err != nil {
		return err
	}
	e.metrics.Mutation("put")
	return nil
}

func encode(live *openIndex, def keys.Definition, key keys.Key, ids []keys.Identity) ([]store.Document, error) {
	records, err := codec.Encode(key, ids, def, live.facets)
	if err != nil {
		return nil, err
	}
	docs := make([]store.Document, len(records))
	for i, r := range records {
		if docs[i], err = r.Document(live.facets); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// Remove deletes every entry written with exactly key.
func (e *Engine) Remove(ctx context.Context, key keys.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	live, err := e.current()
	if err != nil {
		return err
	}
	if _, ok := key.(keys.QueryKey); ok {
		return ixerrors.Unsupported("removing entries by free-text query")
	}
	q, err := live.translator().Exact(key)
	if err != nil {
		return err
	}

	e.unstage(stageKey(key), "")
	if err := e.submit(live, nrt.Mutation{DeleteQuery: q}); err != nil {
		return err
	}
	e.metrics.Mutation("remove")
	return nil
}

// RemoveEntry deletes the entry written for key and id.
func (e *Engine) RemoveEntry(ctx context.Context, key keys.Key, id keys.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	live, err := e.current()
	if err != nil {
		return err
	}
	q, err := live.translator().DeleteQuery(key, id)
	if err != nil {
		return err
	}

	e.unstage(stageKey(key), id)
	if err := e.submit(live, nrt.Mutation{DeleteQuery: q}); err != nil {
		return err
	}
	e.metrics.Mutation("remove")
	return nil
}

// Clear removes every entry from the index.
func (e *Engine) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	live, err := e.current()
	if err != nil {
		return err
	}
	e.discardStaged()
	if err := e.submit(live, nrt.Mutation{DeleteQuery: bq.NewMatchAllQuery()}); err != nil {
		return err
	}
	e.metrics.Mutation("clear")
	e.logger.Info("engine_cleared")
	return nil
}

// Commit makes staged manual-index writes visible and waits until they
// are. Automatic indexes have nothing staged; for them Commit does nothing.
func (e *Engine) Commit(ctx context.Context) error {
	live, err := e.current()
	if err != nil {
		return err
	}
	if e.def.Automatic {
		return nil
	}

	docs := e.takeStaged()
	if len(docs) > 0 {
		if err := e.submit(live, nrt.Mutation{Index: docs}); err != nil {
			return err
		}
	}
	s, err := live.ctrl.Acquire(ctx, e.lastGen.Load())
	if err != nil {
		return err
	}
	s.Release()
	return live.facets.Commit()
}

// Flush publishes and durably commits everything queued so far.
func (e *Engine) Flush(ctx context.Context) error {
	live, err := e.current()
	if err != nil {
		return err
	}
	if err := live.ctrl.Commit(ctx); err != nil {
		return err
	}
	return live.facets.Commit()
}

// Rebuild replaces the index contents with entries and waits until the new
// contents are visible. Entries are encoded concurrently.
func (e *Engine) Rebuild(ctx context.Context, entries []Entry) error {
	live, err := e.current()
	if err != nil {
		return err
	}

	encoded := make([][]store.Document, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, en := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			docs, err := encode(live, e.def, en.Key, en.Identities)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			encoded[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var docs []store.Document
	for _, d := range encoded {
		docs = append(docs, d...)
	}
	e.discardStaged()
	if err := e.submit(live, nrt.Mutation{DeleteQuery: bq.NewMatchAllQuery(), Index: docs}); err != nil {
		return err
	}

	s, err := live.ctrl.Acquire(ctx, e.lastGen.Load())
	if err != nil {
		return err
	}
	defer s.Release()
	if s.Stale() {
		return s.Warning()
	}

	e.metrics.Mutation("rebuild")
	e.logger.Info("engine_rebuilt", slog.Int("entries", len(entries)), slog.Int("documents", len(docs)))
	return live.facets.Commit()
}

func (e *Engine) submit(live *openIndex, m nrt.Mutation) error {
	gen, err := live.ctrl.Submit(m)
	if err != nil {
		return err
	}
	e.advance(gen)
	return nil
}

func stageKey(key keys.Key) string {
	return fmt.Sprintf("%T:%v", key, key)
}

func (e *Engine) stage(k string, docs []store.Document) {
	e.stageMu.Lock()
	defer e.stageMu.Unlock()
	if _, ok := e.staged[k]; !ok {
		e.order = append(e.order, k)
	}
	e.staged[k] = append(e.staged[k], docs...)
}

// unstage drops staged documents of k, only those owned by id when id is set.
func (e *Engine) unstage(k string, id keys.Identity) {
	e.stageMu.Lock()
	defer e.stageMu.Unlock()
	docs, ok := e.staged[k]
	if !ok {
		return
	}
	if id == "" {
		e.staged[k] = nil
		return
	}
	kept := docs[:0]
	for _, d := range docs {
		if keys.IdentityFromDocID(d.ID) != id {
			kept = append(kept, d)
		}
	}
	e.staged[k] = kept
}

func (e *Engine) takeStaged() []store.Document {
	e.stageMu.Lock()
	defer e.stageMu.Unlock()
	var docs []store.Document
	for _, k := range e.order {
		docs = append(docs, e.staged[k]...)
	}
	clear(e.staged)
	e.order = nil
	return docs
}

func (e *Engine) discardStaged() int {
	e.stageMu.Lock()
	defer e.stageMu.Unlock()
	n := len(e.staged)
	clear(e.staged)
	e.order = nil
	return n
}
