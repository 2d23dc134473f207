package content

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

type memoryBlob struct {
	content  []byte
	revision string
}

// MemoryStore is an in-process Store. Revisions are random UUIDs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

// NewMemoryOpener returns an Opener that keeps one MemoryStore per repository
func NewMemoryOpener() Opener {
	var mu sync.Mutex
	stores := make(map[string]*MemoryStore)

	return OpenerFunc(func(ctx context.Context, target Target) (Store, error) {
		mu.Lock()
		defer mu.Unlock()

		s, ok := stores[target.String()]
		if !ok {
			s = NewMemoryStore()
			stores[target.String()] = s
		}
		return s, nil
	})
}

func (m *MemoryStore) Get(ctx context.Context, p string) (*types.Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[cleanPath(p)]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", p, types.ErrNotFound)
	}

	return &types.Blob{
		Path:     cleanPath(p),
		Content:  bytes.Clone(b.content),
		Revision: b.revision,
	}, nil
}

func (m *MemoryStore) Put(ctx context.Context, p string, content []byte, message, revision string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = cleanPath(p)
	existing, ok := m.blobs[p]
	switch {
	case ok && existing.revision != revision:
		return "", fmt.Errorf("put %s: %w", p, types.ErrConflict)
	case !ok && revision != "":
		return "", fmt.Errorf("put %s: %w", p, types.ErrConflict)
	}

	rev := uuid.NewString()
	m.blobs[p] = memoryBlob{content: bytes.Clone(content), revision: rev}
	return rev, nil
}

func (m *MemoryStore) Delete(ctx context.Context, p, revision, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = cleanPath(p)
	existing, ok := m.blobs[p]
	if !ok {
		return fmt.Errorf("delete %s: %w", p, types.ErrNotFound)
	}
	if existing.revision != revision {
		return fmt.Errorf("delete %s: %w", p, types.ErrConflict)
	}

	delete(m.blobs, p)
	return nil
}

// ListTree ignores ref; the memory store has a single line of history
func (m *MemoryStore) ListTree(ctx context.Context, ref string, recursive bool) ([]types.TreeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dirs := make(map[string]struct{})
	entries := make([]types.TreeEntry, 0, len(m.blobs))
	for p, b := range m.blobs {
		if !recursive && strings.Contains(p, "/") {
			dirs[strings.SplitN(p, "/", 2)[0]] = struct{}{}
			continue
		}
		entries = append(entries, types.TreeEntry{Path: p, Kind: types.TreeEntryBlob, Revision: b.revision})
		for dir := path.Dir(p); dir != "." && recursive; dir = path.Dir(dir) {
			dirs[dir] = struct{}{}
		}
	}
	for dir := range dirs {
		entries = append(entries, types.TreeEntry{Path: dir, Kind: types.TreeEntryTree})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Search matches query against paths and contents, restricted to paths
// under scope when scope is set
func (m *MemoryStore) Search(ctx context.Context, query, scope string) (*types.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scope = cleanPath(scope)
	result := &types.SearchResult{Items: []types.SearchItem{}}
	for p, b := range m.blobs {
		if scope != "" && !strings.HasPrefix(p, scope+"/") {
			continue
		}
		switch {
		case strings.Contains(p, query):
			result.Items = append(result.Items, types.SearchItem{Path: p, Score: 2})
		case bytes.Contains(b.content, []byte(query)):
			result.Items = append(result.Items, types.SearchItem{Path: p, Score: 1})
		}
	}

	sort.Slice(result.Items, func(i, j int) bool {
		if result.Items[i].Score != result.Items[j].Score {
			return result.Items[i].Score > result.Items[j].Score
		}
		return result.Items[i].Path < result.Items[j].Path
	})
	result.TotalCount = len(result.Items)
	return result, nil
}

func cleanPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
