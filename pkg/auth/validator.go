package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/beam-cloud/conceptstore/pkg/common"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

const (
	defaultUserCacheSize = 1024
	defaultUserCacheTTL  = 5 * time.Minute
)

// UserSource resolves a bearer token to its GitHub account.
// content.GitHubClient implements it.
type UserSource interface {
	User(ctx context.Context, token string) (*types.GitHubUser, error)
}

// UserResolver caches token lookups so each request does not cost a
// GitHub round trip. Tokens are only kept as hashes.
type UserResolver struct {
	source UserSource
	cache  *expirable.LRU[string, *types.GitHubUser]
	group  singleflight.Group
	bus    *common.EventBus
}

func NewUserResolver(source UserSource, config types.AuthConfig) *UserResolver {
	size := config.UserCacheSize
	if size <= 0 {
		size = defaultUserCacheSize
	}
	ttl := config.UserCacheTTL
	if ttl <= 0 {
		ttl = defaultUserCacheTTL
	}

	return &UserResolver{
		source: source,
		cache:  expirable.NewLRU[string, *types.GitHubUser](size, nil, ttl),
	}
}

func (r *UserResolver) Resolve(ctx context.Context, token string) (*types.GitHubUser, error) {
	if token == "" {
		return nil, types.ErrUnauthorized
	}

	key := tokenHash(token)
	if user, ok := r.cache.Get(key); ok {
		return user, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if user, ok := r.cache.Get(key); ok {
			return user, nil
		}
		user, err := r.source.User(ctx, token)
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, user)
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.GitHubUser), nil
}

// Forget drops a cached token on this replica only
func (r *UserResolver) Forget(token string) {
	r.cache.Remove(tokenHash(token))
}

// Subscribe makes the resolver honor revocations from other replicas
func (r *UserResolver) Subscribe(bus *common.EventBus) {
	r.bus = bus
	bus.On(common.EventTokenRevoked, func(e common.Event) {
		if key, ok := e.Data["token_hash"].(string); ok {
			r.cache.Remove(key)
		}
	})
}

// Revoke forgets a token GitHub rejected after it was cached, on every
// replica sharing the bus
func (r *UserResolver) Revoke(token string) {
	key := tokenHash(token)
	r.cache.Remove(key)
	if r.bus != nil {
		r.bus.Emit(common.Event{Type: common.EventTokenRevoked, Data: map[string]any{"token_hash": key}})
	}
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
