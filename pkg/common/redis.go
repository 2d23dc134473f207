package common

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

// RedisClient wraps a universal redis client so callers work the same
// against a single node or a cluster.
type RedisClient struct {
	redis.UniversalClient
}

// RedisOption mutates the universal options before the client is built
type RedisOption func(*redis.UniversalOptions)

func WithClientName(name string) RedisOption {
	return func(opts *redis.UniversalOptions) {
		opts.ClientName = name
	}
}

func NewRedisClient(config types.RedisConfig, options ...RedisOption) (*RedisClient, error) {
	if !config.IsConfigured() {
		return nil, errors.New("redis: no addresses configured")
	}

	opts := &redis.UniversalOptions{
		Addrs:           config.Addrs,
		Username:        config.Username,
		Password:        config.Password,
		ClientName:      config.ClientName,
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		MaxIdleConns:    config.MaxIdleConns,
		ConnMaxIdleTime: config.ConnMaxIdleTime,
		ConnMaxLifetime: config.ConnMaxLifetime,
		DialTimeout:     config.DialTimeout,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		MaxRedirects:    config.MaxRedirects,
		MaxRetries:      config.MaxRetries,
		RouteByLatency:  config.RouteByLatency,
	}

	if config.EnableTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: config.InsecureSkipVerify,
		}
	}

	for _, opt := range options {
		opt(opts)
	}

	var client redis.UniversalClient
	if config.Mode == types.RedisModeCluster {
		client = redis.NewClusterClient(opts.Cluster())
	} else {
		client = redis.NewClient(opts.Simple())
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Debug().Strs("addrs", config.Addrs).Str("mode", string(config.Mode)).Msg("connected to redis")

	return &RedisClient{UniversalClient: client}, nil
}

// Subscribe wraps PubSub so callers get a message channel plus an error
// channel that receives once the subscription drops
func (r *RedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan *redis.Message, <-chan error) {
	errs := make(chan error, 1)
	out := make(chan *redis.Message)

	pubsub := r.UniversalClient.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		errs <- err
		close(out)
		_ = pubsub.Close()
		return out, errs
	}

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case msg, ok := <-msgs:
				if !ok {
					errs <- errors.New("redis: subscription closed")
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
	}()

	return out, errs
}
