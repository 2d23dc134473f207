package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
)

// ErrLockNotObtained is returned when a lock is held by someone else
// and the configured retries are exhausted.
var ErrLockNotObtained = errors.New("lock not obtained")

type RedisLockOptions struct {
	TtlS    int
	Retries int
}

// Locker is implemented by RedisLock and LocalLock. Acquire returns an
// owner token; Release only frees the lock while that token still owns it,
// so a holder whose TTL ran out cannot release a lock taken since.
type Locker interface {
	Acquire(ctx context.Context, key string, opts RedisLockOptions) (string, error)
	Release(key, token string) error
}

// RedisLock hands out named distributed locks backed by redislock.
type RedisLock struct {
	client *redislock.Client
	mu     sync.Mutex
	locks  map[string]*redislock.Lock
}

func NewRedisLock(client *RedisClient) *RedisLock {
	return &RedisLock{
		client: redislock.New(client.UniversalClient),
		locks:  make(map[string]*redislock.Lock),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, opts RedisLockOptions) (string, error) {
	ttl := time.Duration(opts.TtlS) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	retry := redislock.NoRetry()
	if opts.Retries > 0 {
		retry = redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), opts.Retries)
	}

	lock, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: retry})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return "", fmt.Errorf("%w: %s", ErrLockNotObtained, key)
		}
		return "", err
	}

	l.mu.Lock()
	l.locks[lock.Token()] = lock
	l.mu.Unlock()
	return lock.Token(), nil
}

func (l *RedisLock) Release(key, token string) error {
	l.mu.Lock()
	lock, ok := l.locks[token]
	if ok && lock.Key() == key {
		delete(l.locks, token)
	}
	l.mu.Unlock()

	if !ok || lock.Key() != key {
		return nil
	}
	// redislock only deletes the key while it still carries our token
	if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}
	return nil
}

type localHold struct {
	token   string
	expires time.Time
}

// LocalLock is the in-process Locker used when redis is not configured.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]localHold
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]localHold)}
}

func (l *LocalLock) Acquire(ctx context.Context, key string, opts RedisLockOptions) (string, error) {
	ttl := time.Duration(opts.TtlS) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	for attempt := 0; ; attempt++ {
		l.mu.Lock()
		hold, ok := l.held[key]
		if !ok || time.Now().After(hold.expires) {
			token := uuid.NewString()
			l.held[key] = localHold{token: token, expires: time.Now().Add(ttl)}
			l.mu.Unlock()
			return token, nil
		}
		l.mu.Unlock()

		if attempt >= opts.Retries {
			return "", fmt.Errorf("%w: %s", ErrLockNotObtained, key)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (l *LocalLock) Release(key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hold, ok := l.held[key]; ok && hold.token == token {
		delete(l.held, key)
	}
	return nil
}
