package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/simsync/internal/core"
)

// DefaultLockKey is the Redis key every server replica locks on.
const DefaultLockKey = "simsync:commit"

// RedisConfig describes the Redis connection and lock timings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	Key string

	// TTL bounds how long a crashed holder keeps the lock. A live holder
	// refreshes it at TTL/2.
	TTL time.Duration

	// MaxWait is how long Acquire retries before giving up.
	MaxWait time.Duration
}

// RedisCommitLock serializes commits across server replicas.
type RedisCommitLock struct {
	client  *redislock.Client
	key     string
	ttl     time.Duration
	maxWait time.Duration
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewRedisCommitLock builds a lock over an existing client.
func NewRedisCommitLock(rdb redis.UniversalClient, cfg RedisConfig) *RedisCommitLock {
	l := &RedisCommitLock{
		client:  redislock.New(rdb),
		key:     cfg.Key,
		ttl:     cfg.TTL,
		maxWait: cfg.MaxWait,
	}
	if l.key == "" {
		l.key = DefaultLockKey
	}
	if l.ttl <= 0 {
		l.ttl = time.Minute
	}
	if l.maxWait <= 0 {
		l.maxWait = core.DefaultCommitWait
	}
	return l
}

// Acquire obtains the lock, retrying until MaxWait. The returned release
// function is safe to call more than once.
func (l *RedisCommitLock) Acquire(ctx context.Context) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	lock, err := l.client.Obtain(waitCtx, l.key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(100 * time.Millisecond),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, core.ErrCommitBusy
		}
		return nil, fmt.Errorf("obtain commit lock: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lock, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() { l.release(lock, stop, done) })
	}, nil
}

func (l *RedisCommitLock) release(lock *redislock.Lock, stop chan<- struct{}, done <-chan struct{}) {
	close(stop)
	<-done
	if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		slog.Warn("release commit lock", "key", l.key, "error", err)
	}
}

func (l *RedisCommitLock) keepAlive(lock *redislock.Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lock.Refresh(context.Background(), l.ttl, nil); err != nil {
				slog.Error("refresh commit lock", "key", l.key, "error", err)
				return
			}
		}
	}
}
