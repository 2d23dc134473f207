package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/clients"
	"github.com/beam-cloud/conceptstore/pkg/common"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

const s3WriteLockTtlS = 10

// S3API is the subset of *s3.Client the S3 backend uses
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Opener stores each repository under <prefix>/<owner>/<repo>/ in one
// bucket. ETags serve as revisions; the compare step of compare-and-put
// is guarded by a per-object lock.
type S3Opener struct {
	client S3API
	bucket string
	prefix string
	locker common.Locker
}

func NewS3Opener(client S3API, cfg types.S3Config, locker common.Locker) *S3Opener {
	if locker == nil {
		locker = common.NewLocalLock()
	}
	return &S3Opener{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		locker: locker,
	}
}

func (o *S3Opener) Open(ctx context.Context, target Target) (Store, error) {
	root := path.Join(o.prefix, target.Owner, target.Repo)
	return &S3Store{opener: o, root: root + "/"}, nil
}

type S3Store struct {
	opener *S3Opener
	root   string
}

func (s *S3Store) key(p string) string {
	return s.root + cleanPath(p)
}

func (s *S3Store) Get(ctx context.Context, p string) (*types.Blob, error) {
	out, err := s.opener.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opener.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return nil, s3Error("get", p, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("get %s: read body: %w", p, err)
	}

	return &types.Blob{Path: cleanPath(p), Content: data, Revision: etag(out.ETag)}, nil
}

func (s *S3Store) Put(ctx context.Context, p string, content []byte, message, revision string) (string, error) {
	key := s.key(p)
	lockKey := common.Keys.ContentWriteLock(s.opener.bucket + "/" + key)
	lockToken, err := s.opener.locker.Acquire(ctx, lockKey, common.RedisLockOptions{TtlS: s3WriteLockTtlS, Retries: 20})
	if err != nil {
		return "", fmt.Errorf("put %s: %w: %w", p, types.ErrConflict, err)
	}
	defer s.opener.locker.Release(lockKey, lockToken)

	if err := s.checkRevision(ctx, p, revision); err != nil {
		return "", err
	}

	out, err := s.opener.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opener.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", s3Error("put", p, err)
	}

	log.Debug().Str("bucket", s.opener.bucket).Str("key", key).Str("message", message).Msg("wrote blob")
	return etag(out.ETag), nil
}

func (s *S3Store) Delete(ctx context.Context, p, revision, message string) error {
	key := s.key(p)
	lockKey := common.Keys.ContentWriteLock(s.opener.bucket + "/" + key)
	lockToken, err := s.opener.locker.Acquire(ctx, lockKey, common.RedisLockOptions{TtlS: s3WriteLockTtlS, Retries: 20})
	if err != nil {
		return fmt.Errorf("delete %s: %w: %w", p, types.ErrConflict, err)
	}
	defer s.opener.locker.Release(lockKey, lockToken)

	head, err := s.head(ctx, p)
	if err != nil {
		return err
	}
	if head != revision {
		return fmt.Errorf("delete %s: %w", p, types.ErrConflict)
	}

	if _, err := s.opener.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opener.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return s3Error("delete", p, err)
	}
	return nil
}

// checkRevision enforces create-only for an empty revision and an exact
// ETag match otherwise
func (s *S3Store) checkRevision(ctx context.Context, p, revision string) error {
	current, err := s.head(ctx, p)
	if types.IsNotFound(err) {
		if revision != "" {
			return fmt.Errorf("put %s: %w", p, types.ErrConflict)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if current != revision {
		return fmt.Errorf("put %s: %w", p, types.ErrConflict)
	}
	return nil
}

func (s *S3Store) head(ctx context.Context, p string) (string, error) {
	out, err := s.opener.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opener.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return "", s3Error("head", p, err)
	}
	return etag(out.ETag), nil
}

// ListTree ignores ref; S3 has no history
func (s *S3Store) ListTree(ctx context.Context, ref string, recursive bool) ([]types.TreeEntry, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opener.bucket),
		Prefix: aws.String(s.root),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	dirs := make(map[string]struct{})
	var entries []types.TreeEntry

	paginator := s3.NewListObjectsV2Paginator(s.opener.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s3Error("list", s.root, err)
		}

		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), s.root)
			if rel == "" {
				continue
			}
			entries = append(entries, types.TreeEntry{Path: rel, Kind: types.TreeEntryBlob, Revision: etag(obj.ETag)})
			for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
				dirs[dir] = struct{}{}
			}
		}
		for _, cp := range page.CommonPrefixes {
			dirs[strings.Trim(strings.TrimPrefix(aws.ToString(cp.Prefix), s.root), "/")] = struct{}{}
		}
	}

	for dir := range dirs {
		entries = append(entries, types.TreeEntry{Path: dir, Kind: types.TreeEntryTree})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Search matches query against object paths under scope
func (s *S3Store) Search(ctx context.Context, query, scope string) (*types.SearchResult, error) {
	entries, err := s.ListTree(ctx, "", true)
	if err != nil {
		return nil, err
	}

	scope = cleanPath(scope)
	result := &types.SearchResult{Items: []types.SearchItem{}}
	for _, e := range entries {
		if e.Kind != types.TreeEntryBlob {
			continue
		}
		if scope != "" && !strings.HasPrefix(e.Path, scope+"/") {
			continue
		}
		if strings.Contains(e.Path, query) {
			result.Items = append(result.Items, types.SearchItem{Path: e.Path, Score: 1})
		}
	}
	result.TotalCount = len(result.Items)
	return result, nil
}

func s3Error(op, p string, err error) error {
	switch {
	case clients.IsS3NotFound(err):
		return fmt.Errorf("%s %s: %w", op, p, types.ErrNotFound)
	case clients.IsS3AccessDenied(err):
		return fmt.Errorf("%s %s: %w", op, p, types.ErrForbidden)
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}

func etag(v *string) string {
	return strings.Trim(aws.ToString(v), `"`)
}
