package repository

import (
	"context"
	"time"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

// RebuildRepository records completed index rebuilds
type RebuildRepository interface {
	RecordRebuild(ctx context.Context, run *types.RebuildRun) error
	ListRebuilds(ctx context.Context, owner, repo string, limit int) ([]types.RebuildRun, error)
}

// StateRepository holds single-use OAuth state nonces
type StateRepository interface {
	SaveState(ctx context.Context, nonce string, ttl time.Duration) error
	// ConsumeState deletes the nonce and reports whether it was present
	ConsumeState(ctx context.Context, nonce string) (bool, error)
}

const DefaultRebuildListLimit = 50
