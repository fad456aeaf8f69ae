package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// LockStore is the subset of the cache used for distributed locks.
type LockStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	CompareAndExpire(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
}

const (
	lockKeyPrefix    = "reputation:lock:"
	lockRetryInitial = 5 * time.Millisecond
	lockRetryMax     = 100 * time.Millisecond
)

// RedisLocker serializes across processes with a SET NX lock per key. Waiters in
// the same process queue on a local KeyedMutex first. The lease is renewed every
// third of its TTL while held, so a slow holder keeps exclusion; the TTL only
// bounds how long a crashed process blocks others.
type RedisLocker struct {
	store LockStore
	local *KeyedMutex
	ttl   time.Duration
	wait  time.Duration
	log   *logger.Logger
}

// NewRedisLocker creates a distributed locker. ttl bounds how long a crashed holder
// can block others; wait bounds how long Lock retries.
func NewRedisLocker(store LockStore, ttl, wait time.Duration, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		store: store,
		local: NewKeyedMutex(),
		ttl:   ttl,
		wait:  wait,
		log:   log,
	}
}

// Lock acquires the local lock and then the Redis lock for key.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if r.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.wait)
		defer cancel()
	}

	unlockLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := lockKeyPrefix + key
	token := uuid.NewString()
	backoff := lockRetryInitial

	for {
		ok, err := r.store.SetNX(ctx, redisKey, token, r.ttl)
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > lockRetryMax {
			backoff = lockRetryMax
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go r.renew(redisKey, token, stop, stopped)

	return func() {
		close(stop)
		<-stopped

		// Released on a fresh context so a cancelled request still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		released, err := r.store.CompareAndDelete(releaseCtx, redisKey, token)
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("Failed to release award lock")
		} else if !released {
			r.log.Warn().Str("key", key).Msg("Award lock expired before release")
		}
		unlockLocal()
	}, nil
}

// renew extends the lease until stop is closed or the lease is lost.
func (r *RedisLocker) renew(redisKey, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := r.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		extended, err := r.store.CompareAndExpire(ctx, redisKey, token, r.ttl)
		cancel()
		switch {
		case err != nil:
			r.log.Warn().Err(err).Str("key", redisKey).Msg("Failed to renew award lock")
		case !extended:
			r.log.Warn().Str("key", redisKey).Msg("Award lock lost before renewal")
			return
		}
	}
}
