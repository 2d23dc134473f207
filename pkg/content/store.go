package content

import (
	"context"
	"fmt"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

// Store is a revisioned blob store addressed by path. Every write to an
// existing path must carry the revision returned by the last Get; a stale
// revision fails with types.ErrConflict.
type Store interface {
	Get(ctx context.Context, path string) (*types.Blob, error)
	// Put creates the blob when revision is empty and returns the new revision
	Put(ctx context.Context, path string, content []byte, message, revision string) (string, error)
	Delete(ctx context.Context, path, revision, message string) error
	ListTree(ctx context.Context, ref string, recursive bool) ([]types.TreeEntry, error)
	Search(ctx context.Context, query, scope string) (*types.SearchResult, error)
}

// RefReader is implemented by stores that keep history and can read a
// blob as it was at a branch, tag or commit.
type RefReader interface {
	GetAt(ctx context.Context, path, ref string) (*types.Blob, error)
}

// DirLister is implemented by stores that can list one directory without
// walking the whole tree.
type DirLister interface {
	ListDir(ctx context.Context, ref, dir string) ([]types.TreeEntry, error)
}

// GetAt reads path at ref when the store keeps history. Stores without
// history, and an empty ref, read the current revision.
func GetAt(ctx context.Context, store Store, path, ref string) (*types.Blob, error) {
	if r, ok := store.(RefReader); ok && ref != "" {
		return r.GetAt(ctx, path, ref)
	}
	return store.Get(ctx, path)
}

// ListDir returns entries covering at least the direct children of dir
func ListDir(ctx context.Context, store Store, ref, dir string) ([]types.TreeEntry, error) {
	if l, ok := store.(DirLister); ok {
		return l.ListDir(ctx, ref, dir)
	}
	return store.ListTree(ctx, ref, true)
}

// Target names the repository a request operates on. Token is the
// caller's bearer token and is only used by the GitHub backend.
type Target struct {
	Owner  string
	Repo   string
	Branch string
	Token  string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Owner, t.Repo)
}

// Opener hands out a Store scoped to one repository
type Opener interface {
	Open(ctx context.Context, target Target) (Store, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(ctx context.Context, target Target) (Store, error)

func (f OpenerFunc) Open(ctx context.Context, target Target) (Store, error) {
	return f(ctx, target)
}
