package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/conceptstore/pkg/common"
	"github.com/beam-cloud/conceptstore/pkg/content"
	"github.com/beam-cloud/conceptstore/pkg/index"
	"github.com/beam-cloud/conceptstore/pkg/metrics"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

var testTarget = content.Target{Owner: "octo", Repo: "notes", Token: "t"}

type fixedRand struct{ n int }

func (f fixedRand) IntN(int) int { return f.n }

func newTestService(t *testing.T, opts ...ConceptServiceOption) (*ConceptService, content.Store) {
	t.Helper()
	opener := content.NewMemoryOpener()
	store, err := opener.Open(context.Background(), testTarget)
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	opts = append([]ConceptServiceOption{WithServiceClock(clock)}, opts...)
	return NewConceptService(opener, types.IndexConfig{}, opts...), store
}

func readIndex(t *testing.T, store content.Store, indexPath string) *index.Document {
	t.Helper()
	doc, _, err := index.Load(context.Background(), store, indexPath)
	require.NoError(t, err)
	return doc
}

func TestConceptService_AddUpdateDelete(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.OnObjectAdded(ctx, testTarget, "people/a.json", []byte(`{"key":"k1","object_type":"Person"}`), WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "people/a.json", res.Path)
	require.NotNil(t, res.Index)
	assert.Equal(t, "people/index.json", res.Index.IndexPath)

	doc := readIndex(t, store, "people/index.json")
	assert.Equal(t, []string{"a.json"}, doc.FilesByKey("k1"))
	assert.Equal(t, []string{"a.json"}, doc.FilesByType("Person"))

	res, err = svc.OnObjectUpdated(ctx, testTarget, "people/a.json", []byte(`{"key":"k2","object_type":"Person"}`), res.Revision, WriteOptions{})
	require.NoError(t, err)
	doc = readIndex(t, store, "people/index.json")
	assert.Empty(t, doc.FilesByKey("k1"))
	assert.Equal(t, []string{"a.json"}, doc.FilesByKey("k2"))

	_, err = svc.OnObjectDeleted(ctx, testTarget, "people/a.json", res.Revision, WriteOptions{})
	require.NoError(t, err)
	doc = readIndex(t, store, "people/index.json")
	assert.Empty(t, doc.Files)
	assert.Empty(t, doc.Search.ByType)

	_, err = store.Get(ctx, "people/a.json")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestConceptService_AddExistingConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.OnObjectAdded(ctx, testTarget, "a.json", []byte(`{"key":"k1"}`), WriteOptions{})
	require.NoError(t, err)

	_, err = svc.OnObjectAdded(ctx, testTarget, "a.json", []byte(`{"key":"k1"}`), WriteOptions{})
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestConceptService_UpdateWithoutRevisionUsesCurrent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.OnObjectAdded(ctx, testTarget, "a.json", []byte(`{"key":"k1"}`), WriteOptions{})
	require.NoError(t, err)
	_, err = svc.OnObjectUpdated(ctx, testTarget, "a.json", []byte(`{"key":"k9"}`), "", WriteOptions{})
	require.NoError(t, err)

	doc := readIndex(t, store, "index.json")
	assert.Equal(t, []string{"a.json"}, doc.FilesByKey("k9"))
}

func TestConceptService_ReservedFilesSkipIndex(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	for _, p := range []string{"people/.gitkeep", "people/config.json", "people/notes.txt"} {
		res, err := svc.OnObjectAdded(ctx, testTarget, p, []byte(`{}`), WriteOptions{})
		require.NoError(t, err, p)
		assert.Nil(t, res.Index, p)
	}

	_, err := store.Get(ctx, "people/index.json")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestConceptService_MalformedObjectIndexedWithEmptyFields(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.OnObjectAdded(context.Background(), testTarget, "x/bad.json", []byte(`not json`), WriteOptions{})
	require.NoError(t, err)

	doc := readIndex(t, store, "x/index.json")
	require.Contains(t, doc.Files, "bad.json")
	assert.Empty(t, doc.Search.ByKey)
	assert.Empty(t, doc.Search.ByType)
}

func TestConceptService_TypedIndexTracksKeyOnly(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.OnObjectAdded(context.Background(), testTarget, "people/a.json",
		[]byte(`{"key":"k1","object_type":"Person"}`), WriteOptions{IndexName: "Person"})
	require.NoError(t, err)

	doc := readIndex(t, store, "people/Person.json")
	assert.Equal(t, []string{"a.json"}, doc.FilesByKey("k1"))
	assert.Empty(t, doc.Search.ByType)
}

func TestConceptService_CreateConceptAllocatesId(t *testing.T) {
	alloc := index.NewAllocator(index.WithRandSource(fixedRand{n: 23456789}))
	svc, store := newTestService(t, WithAllocator(alloc))
	ctx := context.Background()

	res, err := svc.CreateConcept(ctx, testTarget, "people", []byte(`{"object_type":"Person","name":"Ada"}`), WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "people/123456789.json", res.Path)
	assert.Equal(t, "123456789", res.Key)

	blob, err := store.Get(ctx, res.Path)
	require.NoError(t, err)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(blob.Content, &obj))
	assert.Equal(t, "123456789", obj["key"])
	assert.Equal(t, "Ada", obj["name"])

	_, err = svc.CreateConcept(ctx, testTarget, "people", []byte(`{}`), WriteOptions{})
	assert.ErrorIs(t, err, types.ErrAllocationExhausted)

	_, err = svc.CreateConcept(ctx, testTarget, "people", []byte(`[1]`), WriteOptions{})
	assert.ErrorIs(t, err, types.ErrMalformedPayload)
}

func TestConceptService_Lookup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for p, body := range map[string]string{
		"people/a.json": `{"key":"k1","object_type":"Person"}`,
		"people/b.json": `{"key":"k1","object_type":"Place"}`,
		"people/c.json": `{"key":"k2","object_type":"Person"}`,
	} {
		_, err := svc.OnObjectAdded(ctx, testTarget, p, []byte(body), WriteOptions{})
		require.NoError(t, err)
	}

	res, err := svc.Lookup(ctx, testTarget, "people", "", "k1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, res.Files)

	res, err = svc.Lookup(ctx, testTarget, "people", "", "", "Person")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "c.json"}, res.Files)

	res, err = svc.Lookup(ctx, testTarget, "people", "", "k1", "Person")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json"}, res.Files)

	res, err = svc.Lookup(ctx, testTarget, "missing", "", "k1", "")
	require.NoError(t, err)
	assert.Empty(t, res.Files)

	_, err = svc.Lookup(ctx, testTarget, "people", "", "", "")
	assert.ErrorIs(t, err, types.ErrMalformedPayload)
}

func TestConceptService_RebuildRecordsHistoryAndMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	svc, store := newTestService(t, WithMetrics(m))
	ctx := context.Background()

	for p, body := range map[string]string{
		"people/a.json": `{"key":"k1","object_type":"Person"}`,
		"people/b.json": `{"key":"k2","object_type":"Person"}`,
		"people/c.json": `{oops`,
	} {
		_, err := store.Put(ctx, p, []byte(body), "seed", "")
		require.NoError(t, err)
	}

	report, err := svc.OnRebuildRequested(ctx, testTarget, index.RebuildRequest{Dir: "people"}, "octocat")
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesProcessed)
	assert.Len(t, report.Errors, 1)
	assert.Equal(t, map[string]int{"Person": 2}, report.ByTypeCounts)

	runs, err := svc.RebuildHistory(ctx, testTarget, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "people/index.json", runs[0].IndexPath)
	assert.Equal(t, 1, runs[0].ErrorCount)
	assert.Equal(t, "octocat", runs[0].RequestedBy)
}

func TestConceptService_RebuildAlreadyRunning(t *testing.T) {
	locker := common.NewLocalLock()
	svc, _ := newTestService(t, WithLocker(locker))
	ctx := context.Background()

	key := common.Keys.IndexRebuildLock("octo", "notes", "people/index.json")
	token, err := locker.Acquire(ctx, key, common.RedisLockOptions{TtlS: 60})
	require.NoError(t, err)

	_, err = svc.OnRebuildRequested(ctx, testTarget, index.RebuildRequest{Dir: "people"}, "")
	assert.ErrorIs(t, err, types.ErrConflict)

	require.NoError(t, locker.Release(key, token))
	_, err = svc.OnRebuildRequested(ctx, testTarget, index.RebuildRequest{Dir: "people"}, "")
	assert.NoError(t, err)
}

func TestConceptService_Config(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.GetConfig(ctx, testTarget, false)
	require.NoError(t, err)
	assert.True(t, res.Bootstrapped)
	assert.Empty(t, res.Revision)

	var schema index.Schema
	require.NoError(t, json.Unmarshal(res.Config, &schema))
	assert.Len(t, schema.Types, 5)

	_, err = store.Get(ctx, index.ConfigFileName)
	assert.ErrorIs(t, err, types.ErrNotFound)

	res, err = svc.GetConfig(ctx, testTarget, true)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Revision)

	updated, err := svc.PutConfig(ctx, testTarget, []byte(`{"version":"3","types":[]}`), res.Revision)
	require.NoError(t, err)

	res, err = svc.GetConfig(ctx, testTarget, false)
	require.NoError(t, err)
	assert.False(t, res.Bootstrapped)
	assert.Equal(t, updated.Revision, res.Revision)
	assert.JSONEq(t, `{"version":"3","types":[]}`, string(res.Config))

	_, err = svc.PutConfig(ctx, testTarget, []byte(`[]`), res.Revision)
	assert.ErrorIs(t, err, types.ErrMalformedPayload)
}

func TestConceptService_RequiresRepository(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetObject(context.Background(), content.Target{Owner: "octo"}, "a.json")
	assert.ErrorIs(t, err, types.ErrMalformedPayload)
}
