package repository

import (
	"github.com/alicebob/miniredis/v2"

	"github.com/beam-cloud/conceptstore/pkg/common"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

// NewRedisClientForTest creates a Redis client backed by miniredis for testing.
// The returned server can be used to fast-forward TTLs.
func NewRedisClientForTest() (*common.RedisClient, *miniredis.Miniredis, error) {
	s, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}

	rdb, err := common.NewRedisClient(types.RedisConfig{
		Addrs: []string{s.Addr()},
		Mode:  types.RedisModeSingle,
	})
	if err != nil {
		s.Close()
		return nil, nil, err
	}

	return rdb, s, nil
}
