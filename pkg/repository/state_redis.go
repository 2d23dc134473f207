package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/beam-cloud/conceptstore/pkg/common"
)

// StateRedisRepository stores OAuth state nonces as expiring redis keys
type StateRedisRepository struct {
	rdb *common.RedisClient
}

func NewStateRedisRepository(rdb *common.RedisClient) StateRepository {
	return &StateRedisRepository{rdb: rdb}
}

func (r *StateRedisRepository) SaveState(ctx context.Context, nonce string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, common.Keys.OAuthStateNonce(nonce), 1, ttl).Err(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (r *StateRedisRepository) ConsumeState(ctx context.Context, nonce string) (bool, error) {
	n, err := r.rdb.Del(ctx, common.Keys.OAuthStateNonce(nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("consume state: %w", err)
	}
	return n == 1, nil
}
