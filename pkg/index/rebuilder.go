package index

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/beam-cloud/conceptstore/pkg/content"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

const DefaultBatchSize = 10

type RebuildRequest struct {
	Ref       string `json:"ref"`
	Dir       string `json:"dir"`
	IndexName string `json:"index_name"`
}

type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// RebuildReport is returned even when individual files failed
type RebuildReport struct {
	IndexPath      string         `json:"index_path"`
	Revision       string         `json:"revision"`
	FilesProcessed int            `json:"files_processed"`
	ByTypeCounts   map[string]int `json:"by_type_counts"`
	Errors         []FileError    `json:"errors"`
}

// Rebuilder derives a directory index from scratch by scanning the tree.
// Batches run one after another; files inside a batch are fetched
// concurrently.
type Rebuilder struct {
	store     content.Store
	batchSize int
	now       func() time.Time
}

type RebuilderOption func(*Rebuilder)

func WithBatchSize(n int) RebuilderOption {
	return func(r *Rebuilder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithRebuildClock(now func() time.Time) RebuilderOption {
	return func(r *Rebuilder) {
		r.now = now
	}
}

func NewRebuilder(store content.Store, opts ...RebuilderOption) *Rebuilder {
	r := &Rebuilder{store: store, batchSize: DefaultBatchSize, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type fetched struct {
	name   string
	fields content.ObjectFields
	err    error
}

func (r *Rebuilder) Rebuild(ctx context.Context, req RebuildRequest) (*RebuildReport, error) {
	if req.IndexName == "" {
		req.IndexName = DefaultIndexName
	}
	dir := strings.Trim(req.Dir, "/")
	indexPath := IndexPath(dir, req.IndexName)

	entries, err := content.ListDir(ctx, r.store, req.Ref, dir)
	if err != nil {
		return nil, fmt.Errorf("list tree: %w", err)
	}

	files := selectObjects(entries, dir, req.IndexName)
	log.Info().
		Str("index", indexPath).
		Str("ref", req.Ref).
		Int("files", len(files)).
		Int("batch_size", r.batchSize).
		Msg("rebuilding index")

	results := make([]fetched, 0, len(files))
	for start := 0; start < len(files); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+r.batchSize, len(files))
		results = append(results, r.fetchBatch(ctx, req.Ref, files[start:end])...)
	}

	fields := FieldsFor(req.IndexName)
	doc := NewDocument()
	report := &RebuildReport{IndexPath: indexPath, Errors: []FileError{}}
	for _, res := range results {
		_, name := SplitPath(res.name)
		if res.err != nil {
			report.Errors = append(report.Errors, FileError{File: res.name, Error: res.err.Error()})
			continue
		}
		doc.Apply(name, Upsert(res.fields.Key, res.fields.ObjectType).WithFields(fields))
		report.FilesProcessed++
	}

	// The prior revision is read just before the commit; edits that raced
	// the scan are superseded.
	var revision string
	if blob, err := r.store.Get(ctx, indexPath); err == nil {
		revision = blob.Revision
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("read index %s: %w", indexPath, err)
	}

	doc.Touch(r.now())
	data, err := doc.Marshal()
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Rebuild %s (%d files)", indexPath, report.FilesProcessed)
	report.Revision, err = r.store.Put(ctx, indexPath, data, message, revision)
	if err != nil {
		return nil, fmt.Errorf("write index %s: %w", indexPath, err)
	}

	report.ByTypeCounts = doc.TypeCounts()

	log.Info().
		Str("index", indexPath).
		Int("processed", report.FilesProcessed).
		Int("errors", len(report.Errors)).
		Msg("index rebuilt")

	return report, nil
}

// fetchBatch fetches and parses every file at ref concurrently. Per-file
// errors are captured in the result rather than cancelling the group.
func (r *Rebuilder) fetchBatch(ctx context.Context, ref string, batch []string) []fetched {
	out := make([]fetched, len(batch))

	var g errgroup.Group
	for i, p := range batch {
		g.Go(func() error {
			out[i] = fetched{name: p}

			blob, err := content.GetAt(ctx, r.store, p, ref)
			if err != nil {
				out[i].err = err
				return nil
			}

			out[i].fields, out[i].err = content.ParseObject(blob.Content)
			return nil
		})
	}
	g.Wait()

	return out
}

// selectObjects returns the sorted object paths directly inside dir
func selectObjects(entries []types.TreeEntry, dir, indexName string) []string {
	var files []string
	for _, e := range entries {
		if e.Kind != types.TreeEntryBlob {
			continue
		}

		entryDir := path.Dir(e.Path)
		if entryDir == "." {
			entryDir = ""
		}
		if entryDir != dir {
			continue
		}

		if IsObjectFile(path.Base(e.Path), indexName) {
			files = append(files, e.Path)
		}
	}

	sort.Strings(files)
	return files
}
