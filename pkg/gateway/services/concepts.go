package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/common"
	"github.com/beam-cloud/conceptstore/pkg/content"
	"github.com/beam-cloud/conceptstore/pkg/index"
	"github.com/beam-cloud/conceptstore/pkg/metrics"
	"github.com/beam-cloud/conceptstore/pkg/repository"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

const rebuildLockTtlS = 300

// ConceptService writes concept objects and keeps each directory's index
// in step with them. Object writes always complete before the index is
// touched; a failed index update leaves the object written.
type ConceptService struct {
	opener    content.Opener
	config    types.IndexConfig
	allocator *index.Allocator
	locker    common.Locker
	rebuilds  repository.RebuildRepository
	metrics   *metrics.Metrics
	now       func() time.Time
}

type ConceptServiceOption func(*ConceptService)

// WithLocker serializes rebuilds of the same index across replicas
func WithLocker(locker common.Locker) ConceptServiceOption {
	return func(s *ConceptService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithRebuildRepository(repo repository.RebuildRepository) ConceptServiceOption {
	return func(s *ConceptService) {
		if repo != nil {
			s.rebuilds = repo
		}
	}
}

func WithMetrics(m *metrics.Metrics) ConceptServiceOption {
	return func(s *ConceptService) {
		s.metrics = m
	}
}

func WithAllocator(a *index.Allocator) ConceptServiceOption {
	return func(s *ConceptService) {
		s.allocator = a
	}
}

func WithServiceClock(now func() time.Time) ConceptServiceOption {
	return func(s *ConceptService) {
		s.now = now
	}
}

func NewConceptService(opener content.Opener, config types.IndexConfig, opts ...ConceptServiceOption) *ConceptService {
	if config.DefaultIndexName == "" {
		config.DefaultIndexName = index.DefaultIndexName
	}
	if config.BatchSize <= 0 {
		config.BatchSize = index.DefaultBatchSize
	}

	s := &ConceptService{
		opener:    opener,
		config:    config,
		allocator: index.NewAllocator(index.WithMaxAttempts(config.MaxAllocAttempts)),
		locker:    common.NewLocalLock(),
		rebuilds:  repository.NewRebuildMemoryRepository(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WriteOptions are the optional parts of an object write
type WriteOptions struct {
	IndexName string
	Message   string
}

// ObjectResult describes a completed object write and its index update
type ObjectResult struct {
	Path       string        `json:"path"`
	Revision   string        `json:"sha,omitempty"`
	Key        string        `json:"key,omitempty"`
	ObjectType string        `json:"object_type,omitempty"`
	Index      *index.Result `json:"index,omitempty"`
}

// LookupResult lists the files an index maps to a key and/or type
type LookupResult struct {
	IndexPath string   `json:"index_path"`
	Key       string   `json:"key,omitempty"`
	Type      string   `json:"type,omitempty"`
	Files     []string `json:"files"`
}

// ConfigResult is the repository schema and whether it was synthesized
type ConfigResult struct {
	Path         string          `json:"path"`
	Revision     string          `json:"sha,omitempty"`
	Bootstrapped bool            `json:"bootstrapped"`
	Config       json.RawMessage `json:"config"`
}

func (s *ConceptService) indexName(name string) string {
	if name == "" {
		return s.config.DefaultIndexName
	}
	return name
}

func (s *ConceptService) open(ctx context.Context, target content.Target) (content.Store, error) {
	if target.Owner == "" || target.Repo == "" {
		return nil, fmt.Errorf("%w: owner and repo are required", types.ErrMalformedPayload)
	}
	return s.opener.Open(ctx, target)
}

func cleanObjectPath(p string) (string, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", types.ErrMalformedPayload)
	}
	return p, nil
}

func (s *ConceptService) GetObject(ctx context.Context, target content.Target, objectPath string) (*types.Blob, error) {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}
	store, err := s.open(ctx, target)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, p)
}

// OnObjectAdded creates a new object and adds it to its directory index
func (s *ConceptService) OnObjectAdded(ctx context.Context, target content.Target, objectPath string, raw []byte, opts WriteOptions) (*ObjectResult, error) {
	return s.writeObject(ctx, target, objectPath, raw, "", opts, "Add")
}

// OnObjectUpdated replaces an object and refreshes its index entry. An
// empty revision writes over whatever revision is current.
func (s *ConceptService) OnObjectUpdated(ctx context.Context, target content.Target, objectPath string, raw []byte, revision string, opts WriteOptions) (*ObjectResult, error) {
	if revision == "" {
		store, err := s.open(ctx, target)
		if err != nil {
			return nil, err
		}
		p, err := cleanObjectPath(objectPath)
		if err != nil {
			return nil, err
		}
		blob, err := store.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		revision = blob.Revision
	}
	return s.writeObject(ctx, target, objectPath, raw, revision, opts, "Update")
}

func (s *ConceptService) writeObject(ctx context.Context, target content.Target, objectPath string, raw []byte, revision string, opts WriteOptions, verb string) (*ObjectResult, error) {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}
	store, err := s.open(ctx, target)
	if err != nil {
		return nil, err
	}

	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("%s %s", verb, p)
	}

	newRevision, err := store.Put(ctx, p, raw, message, revision)
	if err != nil {
		return nil, err
	}
	result := &ObjectResult{Path: p, Revision: newRevision}

	indexName := s.indexName(opts.IndexName)
	_, name := index.SplitPath(p)
	if !index.IsObjectFile(name, indexName) {
		return result, nil
	}

	// Unparseable objects are still indexed, with empty fields
	fields, err := content.ParseObject(raw)
	if err != nil {
		log.Warn().Err(err).Str("path", p).Msg("object is not a JSON object, indexing without key or type")
	}
	result.Key = fields.Key
	result.ObjectType = fields.ObjectType

	m := index.Upsert(fields.Key, fields.ObjectType).WithFields(index.FieldsFor(indexName))
	result.Index, err = s.applyIndex(ctx, store, p, name, indexName, m)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// OnObjectDeleted removes an object and drops it from its directory index
func (s *ConceptService) OnObjectDeleted(ctx context.Context, target content.Target, objectPath, revision string, opts WriteOptions) (*ObjectResult, error) {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}
	store, err := s.open(ctx, target)
	if err != nil {
		return nil, err
	}

	if revision == "" {
		blob, err := store.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		revision = blob.Revision
	}

	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("Delete %s", p)
	}
	if err := store.Delete(ctx, p, revision, message); err != nil {
		return nil, err
	}
	result := &ObjectResult{Path: p}

	indexName := s.indexName(opts.IndexName)
	_, name := index.SplitPath(p)
	if !index.IsObjectFile(name, indexName) {
		return result, nil
	}

	m := index.Remove().WithFields(index.FieldsFor(indexName))
	result.Index, err = s.applyIndex(ctx, store, p, name, indexName, m)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ConceptService) applyIndex(ctx context.Context, store content.Store, objectPath, name, indexName string, m index.Mutation) (*index.Result, error) {
	indexPath := index.IndexPathFor(objectPath, indexName)
	updater := index.NewUpdater(store, index.WithClock(s.now))

	res, err := updater.Apply(ctx, indexPath, name, m)
	s.metrics.RecordIndexUpdate(m.Kind.String(), err)
	if err != nil {
		log.Error().Err(err).Str("path", objectPath).Str("index", indexPath).Msg("object written but index update failed")
		return nil, fmt.Errorf("update index for %s: %w", objectPath, err)
	}
	return res, nil
}

// CreateConcept allocates a fresh identifier in dir and adds the body as
// <dir>/<id>.json with key set to the identifier
func (s *ConceptService) CreateConcept(ctx context.Context, target content.Target, dir string, body []byte, opts WriteOptions) (*ObjectResult, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}
	if obj == nil {
		obj = map[string]any{}
	}

	store, err := s.open(ctx, target)
	if err != nil {
		return nil, err
	}

	dir = strings.Trim(dir, "/")
	indexPath := index.IndexPath(dir, s.indexName(opts.IndexName))

	existing := map[string]struct{}{}
	doc, _, err := index.Load(ctx, store, indexPath)
	switch {
	case err == nil:
		existing = doc.KeySet()
	case errors.Is(err, types.ErrNotFound):
	case errors.Is(err, types.ErrMalformedPayload):
		log.Warn().Err(err).Str("index", indexPath).Msg("allocating against unreadable index")
	default:
		return nil, err
	}

	id, err := s.allocator.Allocate(existing)
	if err != nil {
		return nil, err
	}
	key := strconv.Itoa(id)
	obj["key"] = key

	raw, err := content.MarshalObject(obj)
	if err != nil {
		return nil, err
	}

	return s.OnObjectAdded(ctx, target, path.Join(dir, key+index.ObjectSuffix), raw, opts)
}

func (s *ConceptService) GetIndex(ctx context.Context, target content.Target, dir, indexName string) (*index.Document, string, error) {
	store, err := s.open(ctx, target)
	if err != nil {
		return nil, "", err
	}
	return index.Load(ctx, store, index.IndexPath(dir, s.indexName(indexName)))
}

// Lookup answers key and type queries from the directory index. When both
// are given the result is their intersection. A missing index matches
// nothing.
func (s *ConceptService) Lookup(ctx context.Context, target content.Target, dir, indexName, key, objectType string) (*LookupResult, error) {
	if key == "" && objectType == "" {
		return nil, fmt.Errorf("%w: key or type is required", types.ErrMalformedPayload)
	}

	result := &LookupResult{
		IndexPath: index.IndexPath(dir, s.indexName(indexName)),
		Key:       key,
		Type:      objectType,
		Files:     []string{},
	}

	doc, _, err := s.GetIndex(ctx, target, dir, indexName)
	if errors.Is(err, types.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	switch {
	case key != "" && objectType != "":
		byType := map[string]struct{}{}
		for _, f := range doc.FilesByType(objectType) {
			byType[f] = struct{}{}
		}
		for _, f := range doc.FilesByKey(key) {
			if _, ok := byType[f]; ok {
				files = append(files, f)
			}
		}
	case key != "":
		files = doc.FilesByKey(key)
	default:
		files = doc.FilesByType(objectType)
	}

	result.Files = append(result.Files, files...)
	sort.Strings(result.Files)
	return result, nil
}

// OnRebuildRequested rebuilds one directory index synchronously. Only one
// rebuild of a given index runs at a time; a second request fails with
// types.ErrConflict.
func (s *ConceptService) OnRebuildRequested(ctx context.Context, target content.Target, req index.RebuildRequest, requestedBy string) (*index.RebuildReport, error) {
	store, err := s.open(ctx, target)
	if err != nil {
		return nil, err
	}

	req.IndexName = s.indexName(req.IndexName)
	req.Dir = strings.Trim(req.Dir, "/")
	indexPath := index.IndexPath(req.Dir, req.IndexName)

	lockKey := common.Keys.IndexRebuildLock(target.Owner, target.Repo, indexPath)
	lockToken, err := s.locker.Acquire(ctx, lockKey, common.RedisLockOptions{TtlS: rebuildLockTtlS, Retries: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: rebuild of %s already running: %w", types.ErrConflict, indexPath, err)
	}
	defer func() {
		if err := s.locker.Release(lockKey, lockToken); err != nil {
			log.Error().Err(err).Str("lock_key", lockKey).Msg("failed to release rebuild lock")
		}
	}()

	start := s.now()
	rebuilder := index.NewRebuilder(store,
		index.WithBatchSize(s.config.BatchSize),
		index.WithRebuildClock(s.now),
	)

	report, err := rebuilder.Rebuild(ctx, req)
	if err != nil {
		s.metrics.RecordRebuild(start, 0, 0, err)
		return nil, err
	}
	s.metrics.RecordRebuild(start, report.FilesProcessed, len(report.Errors), nil)

	run := &types.RebuildRun{
		Owner:          target.Owner,
		Repo:           target.Repo,
		Ref:            req.Ref,
		IndexPath:      report.IndexPath,
		FilesProcessed: report.FilesProcessed,
		ErrorCount:     len(report.Errors),
		ByTypeCounts:   report.ByTypeCounts,
		RequestedBy:    requestedBy,
		StartedAt:      start,
		FinishedAt:     s.now(),
	}
	if err := s.rebuilds.RecordRebuild(ctx, run); err != nil {
		log.Warn().Err(err).Str("index", indexPath).Msg("failed to record rebuild history")
	}

	return report, nil
}

func (s *ConceptService) RebuildHistory(ctx context.Context, target content.Target, limit int) ([]types.RebuildRun, error) {
	return s.rebuilds.ListRebuilds(ctx, target.Owner, target.Repo, limit)
}

func (s *ConceptService) Search(ctx context.Context, target content.Target, query, scope string) (*types.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrMalformedPayload)
	}
	store, err := s.open(ctx, target)
	if err != nil {
		return nil, err
	}
	return store.Search(ctx, query, scope)
}

// PutFile writes a raw file without touching any index
func (s *ConceptService) PutFile(ctx context.Context, target content.Target, filePath string, raw []byte, message, revision string) (string, error) {
	p, err := cleanObjectPath(filePath)
	if err != nil {
		return "", err
	}
	store, err := s.open(ctx, target)
	if err != nil {
		return "", err
	}
	if message == "" {
		message = fmt.Sprintf("Create %s", p)
	}
	return store.Put(ctx, p, raw, message, revision)
}

// GetConfig returns config.json, falling back to the built-in schema when
// the repository has none. With bootstrap set the fallback is committed.
func (s *ConceptService) GetConfig(ctx context.Context, target content.Target, bootstrap bool) (*ConfigResult, error) {
	store, err := s.open(ctx, target)
	if err != nil {
		return nil, err
	}

	result := &ConfigResult{Path: index.ConfigFileName}
	blob, err := store.Get(ctx, index.ConfigFileName)
	if err == nil {
		result.Revision = blob.Revision
		result.Config = json.RawMessage(blob.Content)
		return result, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	schema, err := index.DefaultSchema()
	if err != nil {
		return nil, err
	}
	raw, err := content.MarshalObject(schema)
	if err != nil {
		return nil, err
	}
	result.Config = json.RawMessage(raw)
	result.Bootstrapped = true

	if bootstrap {
		result.Revision, err = store.Put(ctx, index.ConfigFileName, raw, "Bootstrap default config", "")
		if err != nil {
			return nil, err
		}
		log.Info().Str("repo", target.String()).Msg("bootstrapped default config")
	}
	return result, nil
}

// PutConfig stores a caller-supplied config.json. The schema is opaque;
// it only has to be a JSON object.
func (s *ConceptService) PutConfig(ctx context.Context, target content.Target, raw []byte, revision string) (*ConfigResult, error) {
	if _, err := content.ParseObject(raw); err != nil {
		return nil, err
	}
	store, err := s.open(ctx, target)
	if err != nil {
		return nil, err
	}

	newRevision, err := store.Put(ctx, index.ConfigFileName, raw, "Update config", revision)
	if err != nil {
		return nil, err
	}
	return &ConfigResult{Path: index.ConfigFileName, Revision: newRevision, Config: json.RawMessage(raw)}, nil
}
