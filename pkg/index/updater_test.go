package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/conceptstore/pkg/content"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func loadDoc(t *testing.T, store content.Store, indexPath string) *Document {
	t.Helper()
	doc, _, err := Load(context.Background(), store, indexPath)
	require.NoError(t, err)
	return doc
}

// countingStore counts writes so tests can assert no-op paths
type countingStore struct {
	content.Store
	puts atomic.Int32
}

func (c *countingStore) Put(ctx context.Context, p string, data []byte, message, revision string) (string, error) {
	c.puts.Add(1)
	return c.Store.Put(ctx, p, data, message, revision)
}

func TestUpdater_CreatesIndexOnFirstWrite(t *testing.T) {
	store := content.NewMemoryStore()
	u := NewUpdater(store, WithClock(func() time.Time { return fixedNow }))

	res, err := u.Apply(context.Background(), "people/index.json", "a.json", Upsert("k1", "Person"))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.NotEmpty(t, res.Revision)

	doc := loadDoc(t, store, "people/index.json")
	assert.Equal(t, map[string]FileEntry{"a.json": {Key: "k1", ObjectType: "Person"}}, doc.Files)
	assert.Equal(t, fixedNow, doc.Metadata.LastUpdated)
	assert.Equal(t, CurrentVersion, doc.Metadata.Version)
	assertConsistent(t, doc)
}

func TestUpdater_RemoveOnMissingIndexIsNoop(t *testing.T) {
	store := &countingStore{Store: content.NewMemoryStore()}
	u := NewUpdater(store)

	res, err := u.Apply(context.Background(), "people/index.json", "a.json", Remove())
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Zero(t, store.puts.Load())
}

func TestUpdater_UnchangedSkipsWrite(t *testing.T) {
	store := &countingStore{Store: content.NewMemoryStore()}
	u := NewUpdater(store)
	ctx := context.Background()

	_, err := u.Apply(ctx, "index.json", "a.json", Upsert("k", "Person"))
	require.NoError(t, err)

	res, err := u.Apply(ctx, "index.json", "a.json", Upsert("k", "Person"))
	require.NoError(t, err)
	assert.False(t, res.Changed)

	res, err = u.Apply(ctx, "index.json", "zzz.json", Remove())
	require.NoError(t, err)
	assert.False(t, res.Changed)

	assert.EqualValues(t, 1, store.puts.Load())
}

func TestUpdater_RemovePrunesBuckets(t *testing.T) {
	store := content.NewMemoryStore()
	u := NewUpdater(store)
	ctx := context.Background()

	_, err := u.Apply(ctx, "index.json", "a.json", Upsert("k", "Person"))
	require.NoError(t, err)
	_, err = u.Apply(ctx, "index.json", "b.json", Upsert("k2", "Person"))
	require.NoError(t, err)
	_, err = u.Apply(ctx, "index.json", "a.json", Remove())
	require.NoError(t, err)

	doc := loadDoc(t, store, "index.json")
	assert.NotContains(t, doc.Search.ByKey, "k")
	assert.Equal(t, []string{"b.json"}, doc.FilesByType("Person"))
	assert.Equal(t, 1, doc.Metadata.TotalFiles)
}

func TestUpdater_MigratesLegacyIndex(t *testing.T) {
	store := content.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, "index.json", []byte(`{"a.json":"keyA"}`), "", "")
	require.NoError(t, err)

	_, err = NewUpdater(store).Apply(ctx, "index.json", "b.json", Upsert("keyB", "Place"))
	require.NoError(t, err)

	blob, err := store.Get(ctx, "index.json")
	require.NoError(t, err)
	assert.Contains(t, string(blob.Content), `"version": "2.0"`)

	doc := loadDoc(t, store, "index.json")
	assert.Equal(t, map[string]FileEntry{
		"a.json": {Key: "keyA"},
		"b.json": {Key: "keyB", ObjectType: "Place"},
	}, doc.Files)
}

func TestUpdater_MalformedIndexIsReplaced(t *testing.T) {
	store := content.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, "index.json", []byte(`{not json`), "", "")
	require.NoError(t, err)

	res, err := NewUpdater(store).Apply(ctx, "index.json", "a.json", Upsert("k", ""))
	require.NoError(t, err)
	assert.True(t, res.Changed)

	doc := loadDoc(t, store, "index.json")
	assert.Equal(t, map[string]FileEntry{"a.json": {Key: "k"}}, doc.Files)
}

// racingStore lets a second writer commit between the updater's read and
// its write to the index
type racingStore struct {
	*content.MemoryStore
	indexPath string
	race      func()
	raced     bool
}

func (r *racingStore) Put(ctx context.Context, p string, data []byte, message, revision string) (string, error) {
	if p == r.indexPath && !r.raced {
		r.raced = true
		r.race()
	}
	return r.MemoryStore.Put(ctx, p, data, message, revision)
}

func TestUpdater_ConflictOnStaleRevision(t *testing.T) {
	inner := content.NewMemoryStore()
	ctx := context.Background()

	_, err := NewUpdater(inner).Apply(ctx, "index.json", "seed.json", Upsert("s", "Person"))
	require.NoError(t, err)

	store := &racingStore{MemoryStore: inner, indexPath: "index.json"}
	store.race = func() {
		_, err := NewUpdater(inner).Apply(ctx, "index.json", "first.json", Upsert("f", "Place"))
		require.NoError(t, err)
	}

	_, err = NewUpdater(store).Apply(ctx, "index.json", "second.json", Upsert("x", "Event"))
	assert.ErrorIs(t, err, types.ErrConflict)

	doc := loadDoc(t, inner, "index.json")
	assert.Contains(t, doc.Files, "first.json")
	assert.NotContains(t, doc.Files, "second.json")
	assertConsistent(t, doc)
}

func TestUpdater_PropagatesStoreErrors(t *testing.T) {
	store := &failingStore{err: types.ErrRateLimited}

	_, err := NewUpdater(store).Apply(context.Background(), "index.json", "a.json", Upsert("k", ""))
	assert.ErrorIs(t, err, types.ErrRateLimited)
}

type failingStore struct {
	content.Store
	err error
}

func (f *failingStore) Get(ctx context.Context, p string) (*types.Blob, error) {
	return nil, f.err
}

func TestUpdater_KeepsEntriesOfLargeGitHubIndex(t *testing.T) {
	existing := []byte(`{"metadata":{"version":"1.0"},"files":{"ada.json":{"key":"1","objectType":"Person"}}}`)

	var written []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/octo/notes/contents/people/index.json" && r.Method == http.MethodGet:
			w.Write([]byte(`{"type":"file","path":"people/index.json","sha":"abc","content":"","encoding":"none"}`))
		case r.URL.Path == "/repos/octo/notes/git/blobs/abc":
			json.NewEncoder(w).Encode(map[string]any{"sha": "abc", "encoding": "base64", "content": content.EncodeBase64(existing)})
		case r.URL.Path == "/repos/octo/notes/contents/people/index.json" && r.Method == http.MethodPut:
			var body struct {
				Content string `json:"content"`
				Sha     string `json:"sha"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "abc", body.Sha)
			written, _ = content.DecodeBase64(body.Content)
			w.Write([]byte(`{"content":{"sha":"def","path":"people/index.json"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := content.NewGitHubClient(types.GitHubConfig{APIBaseURL: srv.URL, Branch: "main"})
	store, err := client.Open(context.Background(), content.Target{Owner: "octo", Repo: "notes", Token: "tok"})
	require.NoError(t, err)

	_, err = NewUpdater(store).Apply(context.Background(), "people/index.json", "new.json", Upsert("k", "Person"))
	require.NoError(t, err)

	doc, err := Parse(written)
	require.NoError(t, err)
	assert.Equal(t, map[string]FileEntry{
		"ada.json": {Key: "1", ObjectType: "Person"},
		"new.json": {Key: "k", ObjectType: "Person"},
	}, doc.Files)
}
