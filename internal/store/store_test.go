package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/logging"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Create(context.Background(), "", Options{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func song(id, title string, year float64) Document {
	return Document{ID: id, Fields: []Field{
		{Name: "rid", Kind: FieldKeyword, Text: id, Index: true, Store: true},
		{Name: "title", Kind: FieldText, Text: title, Index: true, InAll: true},
		{Name: "title_stored", Kind: FieldKeyword, Text: title, Index: true, Store: true, DocValues: true},
		{Name: "year", Kind: FieldNumeric, Number: year, Index: true, Store: true, DocValues: true},
	}}
}

func termQuery(field, term string) query.Query {
	q := query.NewTermQuery(term)
	q.SetField(field)
	return q
}

func TestSnapshot_IsPointInTime(t *testing.T) {
	// Given: a store with two documents and an open snapshot
	s := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, &Batch{Index: []Document{song("#1:1", "Blue Mountain", 1999), song("#1:2", "Red River", 2005)}}))
	before, err := s.Snapshot()
	require.NoError(t, err)
	defer before.Close()

	// When: another document is applied
	require.NoError(t, s.Apply(ctx, &Batch{Index: []Document{song("#1:3", "Green Valley", 2010)}}))
	after, err := s.Snapshot()
	require.NoError(t, err)
	defer after.Close()

	// Then: the old snapshot does not see it, the new one does
	n, err := before.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	n, err = after.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestSnapshot_SearchAnalyzedAndExact(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, &Batch{Index: []Document{song("#1:1", "Blue Mountain", 1999), song("#1:2", "Red River", 2005)}}))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	// Analyzed field matches a lowercased token
	match := query.NewMatchQuery("mountain")
	match.SetField("title")
	res, err := snap.Search(ctx, Request{Query: match, Size: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "#1:1", res.Hits[0].ID)
	assert.Greater(t, res.Hits[0].Score, 0.0)

	// Exact copy is case-sensitive
	n, err := snap.Count(ctx, termQuery("title_stored", "Blue Mountain"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	n, err = snap.Count(ctx, termQuery("title_stored", "blue mountain"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	// Unqualified match searches the catch-all field
	res, err = snap.Search(ctx, Request{Query: query.NewMatchQuery("river"), Size: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "#1:2", res.Hits[0].ID)
}

func TestSnapshot_NumericRangeAndSort(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, &Batch{Index: []Document{
		song("#1:1", "a", 1999), song("#1:2", "b", 2005), song("#1:3", "c", 2010),
	}}))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	lo, hi := 2000.0, 2010.0
	incl := true
	rq := query.NewNumericRangeInclusiveQuery(&lo, &hi, &incl, &incl)
	rq.SetField("year")

	res, err := snap.Search(ctx, Request{
		Query: rq,
		Size:  10,
		Sort:  search.SortOrder{&search.SortField{Field: "year", Type: search.SortFieldAsNumber, Desc: true}},
	})

	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "#1:3", res.Hits[0].ID)
	assert.Equal(t, "#1:2", res.Hits[1].ID)
	assert.Equal(t, uint64(2), res.Total)
}

func TestSnapshot_StoredFields(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, &Batch{Index: []Document{song("#1:1", "Blue Mountain", 1999)}}))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	fields, err := snap.StoredFields("#1:1")

	require.NoError(t, err)
	assert.Equal(t, []StoredValue{"Blue Mountain"}, fields["title_stored"])
	assert.Equal(t, []StoredValue{1999.0}, fields["year"])
	assert.NotContains(t, fields, "title")
}

func TestStore_MatchingIDsSeesUnpublishedWrites(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, &Batch{Index: []Document{song("#1:1", "x", 1), song("#1:2", "y", 2)}}))

	ids, err := s.MatchingIDs(ctx, termQuery("rid", "#1:2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"#1:2"}, ids)

	require.NoError(t, s.Apply(ctx, &Batch{Delete: ids}))
	ids, err = s.MatchingIDs(ctx, query.NewMatchAllQuery())
	require.NoError(t, err)
	assert.Equal(t, []string{"#1:1"}, ids)
}

func TestStore_ClosedRejectsWrites(t *testing.T) {
	s := newMemStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Apply(context.Background(), &Batch{Delete: []string{"x"}})
	assert.ErrorIs(t, err, ixerrors.ErrEngineState)
	_, err = s.Snapshot()
	assert.ErrorIs(t, err, ixerrors.ErrEngineState)
}

func TestStore_OnDiskReopenKeepsDocumentsAndCommit(t *testing.T) {
	// Given: an on-disk index with one committed document
	path := filepath.Join(t.TempDir(), "songs")
	ctx := context.Background()
	s, err := Create(ctx, path, Options{Analyzer: "en", Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, &Batch{Index: []Document{song("#1:1", "Running", 1)}}))
	require.NoError(t, s.Commit(7))
	require.NoError(t, s.Close())

	// When: reopening with a different requested analyzer
	s, err = Open(ctx, path, Options{Analyzer: "simple", Logger: logging.Discard()})
	require.NoError(t, err)
	defer s.Close()

	// Then: the creation analyzer and the data survive
	assert.Equal(t, "en", s.Analyzer())
	info, ok, err := s.LastCommit()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), info.Generation)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	n, err := snap.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestStore_OpenMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "none"), Options{Logger: logging.Discard()})
	assert.ErrorIs(t, err, ixerrors.ErrIndexMissing)
}

func TestStore_SecondWriterIsLockedOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked")
	ctx := context.Background()
	first, err := Create(ctx, path, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer first.Close()

	_, err = Create(ctx, path, Options{LockTimeout: 120 * time.Millisecond, Logger: logging.Discard()})

	assert.ErrorIs(t, err, ixerrors.ErrIndexLocked)
}

func TestStore_RecoversCorruptedIndex(t *testing.T) {
	// Given: a directory whose index_meta.json is garbage
	path := filepath.Join(t.TempDir(), "broken")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{not json"), 0o644))

	// When: creating over it
	s, err := Create(context.Background(), path, Options{Logger: logging.Discard()})

	// Then: a fresh empty index is available
	require.NoError(t, err)
	defer s.Close()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	n, err := snap.DocCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDestroy_RemovesDirectoryAndLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone")
	s, err := Create(context.Background(), path, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, Destroy(path))

	assert.NoDirExists(t, path)
	assert.NoFileExists(t, lockPath(path))
	assert.NoError(t, Destroy(""))
}
