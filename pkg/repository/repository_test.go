package repository

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

func TestStateRedisRepository(t *testing.T) {
	rdb, s, err := NewRedisClientForTest()
	require.NoError(t, err)
	defer s.Close()

	repo := NewStateRedisRepository(rdb)
	ctx := context.Background()

	require.NoError(t, repo.SaveState(ctx, "n1", time.Minute))
	require.NoError(t, repo.SaveState(ctx, "n2", time.Minute))

	ok, err := repo.ConsumeState(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ConsumeState(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok, "nonce is single use")

	s.FastForward(2 * time.Minute)
	ok, err = repo.ConsumeState(ctx, "n2")
	require.NoError(t, err)
	assert.False(t, ok, "nonce expired")
}

func TestStateMemoryRepository(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &StateMemoryRepository{nonces: make(map[string]time.Time), now: func() time.Time { return now }}
	ctx := context.Background()

	require.NoError(t, repo.SaveState(ctx, "n1", time.Minute))
	require.NoError(t, repo.SaveState(ctx, "n2", time.Minute))

	ok, _ := repo.ConsumeState(ctx, "n1")
	assert.True(t, ok)
	ok, _ = repo.ConsumeState(ctx, "n1")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = repo.ConsumeState(ctx, "n2")
	assert.False(t, ok)
}

func TestRebuildMemoryRepository(t *testing.T) {
	repo := NewRebuildMemoryRepository()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		run := &types.RebuildRun{
			Owner:          "octo",
			Repo:           "notes",
			IndexPath:      "people/index.json",
			FilesProcessed: i,
			StartedAt:      base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, repo.RecordRebuild(ctx, run))
		assert.NotEmpty(t, run.ExternalId)
	}
	require.NoError(t, repo.RecordRebuild(ctx, &types.RebuildRun{Owner: "octo", Repo: "other", StartedAt: base}))

	runs, err := repo.ListRebuilds(ctx, "octo", "notes", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].FilesProcessed)
	assert.Equal(t, 1, runs[1].FilesProcessed)

	runs, err = repo.ListRebuilds(ctx, "octo", "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPostgresDSN(t *testing.T) {
	cfg := withPostgresDefaults(types.PostgresConfig{
		Host:     "db.internal",
		User:     "concept",
		Password: "p@ss word'",
	})

	dsn, err := url.Parse(postgresDSN(cfg))
	require.NoError(t, err)

	assert.Equal(t, "postgres", dsn.Scheme)
	assert.Equal(t, "db.internal:5432", dsn.Host)
	assert.Equal(t, "/conceptstore", dsn.Path)
	assert.Equal(t, "concept", dsn.User.Username())
	password, _ := dsn.User.Password()
	assert.Equal(t, "p@ss word'", password)
	assert.Equal(t, "disable", dsn.Query().Get("sslmode"))
	assert.Equal(t, postgresApplicationName, dsn.Query().Get("application_name"))
}

func TestNewPostgresBackend_RequiresHost(t *testing.T) {
	_, err := NewPostgresBackend(context.Background(), types.PostgresConfig{})
	assert.Error(t, err)
}
