package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

// RebuildMemoryRepository implements RebuildRepository in memory.
// This is used when Postgres is not configured.
type RebuildMemoryRepository struct {
	mu     sync.RWMutex
	nextId uint
	runs   []types.RebuildRun
}

func NewRebuildMemoryRepository() RebuildRepository {
	return &RebuildMemoryRepository{}
}

func (r *RebuildMemoryRepository) RecordRebuild(ctx context.Context, run *types.RebuildRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextId++
	run.Id = r.nextId
	run.ExternalId = uuid.NewString()
	r.runs = append(r.runs, *run)
	return nil
}

func (r *RebuildMemoryRepository) ListRebuilds(ctx context.Context, owner, repo string, limit int) ([]types.RebuildRun, error) {
	if limit <= 0 {
		limit = DefaultRebuildListLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := []types.RebuildRun{}
	for _, run := range r.runs {
		if run.Owner == owner && run.Repo == repo {
			runs = append(runs, run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
