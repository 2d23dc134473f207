package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/content"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

// Result describes one incremental index update
type Result struct {
	IndexPath string    `json:"index_path"`
	Revision  string    `json:"revision,omitempty"`
	Changed   bool      `json:"changed"`
	Document  *Document `json:"-"`
}

// Updater applies single-file mutations to a directory index with a
// read-modify-write cycle. The write carries the revision read in the
// same cycle; a concurrent writer makes it fail with types.ErrConflict.
// Nothing is retried here.
type Updater struct {
	store content.Store
	now   func() time.Time
}

type UpdaterOption func(*Updater)

func WithClock(now func() time.Time) UpdaterOption {
	return func(u *Updater) {
		u.now = now
	}
}

func NewUpdater(store content.Store, opts ...UpdaterOption) *Updater {
	u := &Updater{store: store, now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Updater) Apply(ctx context.Context, indexPath, fileName string, m Mutation) (*Result, error) {
	result := &Result{IndexPath: indexPath}

	doc, revision, err := Load(ctx, u.store, indexPath)
	switch {
	case errors.Is(err, types.ErrNotFound):
		if m.Kind == MutationRemove {
			return result, nil
		}
		doc = NewDocument()
	case errors.Is(err, types.ErrMalformedPayload):
		log.Warn().Err(err).Str("index", indexPath).Msg("existing index unreadable, starting from empty")
		doc = NewDocument()
	case err != nil:
		return nil, err
	}

	result.Document = doc
	result.Revision = revision

	if !doc.Apply(fileName, m) && doc.Format == FormatCurrent && revision != "" {
		return result, nil
	}

	doc.Touch(u.now())
	data, err := doc.Marshal()
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Update %s: %s %s", indexPath, m.Kind, fileName)
	newRevision, err := u.store.Put(ctx, indexPath, data, message, revision)
	if err != nil {
		return nil, fmt.Errorf("write index %s: %w", indexPath, err)
	}

	log.Debug().
		Str("index", indexPath).
		Str("file", fileName).
		Str("op", m.Kind.String()).
		Int("total_files", doc.Metadata.TotalFiles).
		Msg("index updated")

	result.Revision = newRevision
	result.Changed = true
	return result, nil
}

// Load reads and parses an index. On a parse failure the revision is
// still returned so the caller can overwrite the unreadable blob.
func Load(ctx context.Context, store content.Store, indexPath string) (*Document, string, error) {
	blob, err := store.Get(ctx, indexPath)
	if err != nil {
		return nil, "", err
	}

	doc, err := Parse(blob.Content)
	if err != nil {
		return nil, blob.Revision, fmt.Errorf("parse index %s: %w", indexPath, err)
	}
	return doc, blob.Revision, nil
}
