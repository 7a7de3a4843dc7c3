package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 10 * time.Minute

// ErrLockLost is returned when the cycle lock expired and another worker
// took it over.
var ErrLockLost = errors.New("cron lock lost")

// Lock coordinates exclusive cron cycles across worker instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	// Refresh extends a held lock. It reports false when the lock is no
	// longer ours.
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type ownerScopedStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndExpire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, owner string) (bool, error)
}

// RedisLock is a TTL lock whose value is a per-acquire owner token. Refresh
// and Release only act while the token still matches, so a worker whose lock
// lapsed mid-cycle cannot touch a successor's lock.
type RedisLock struct {
	store ownerScopedStore
	key   string
	ttl   time.Duration
	owner string
}

func NewRedisLock(store ownerScopedStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

func (l *RedisLock) Refresh(ctx context.Context) (bool, error) {
	if l.owner == "" {
		return false, nil
	}
	ok, err := l.store.CompareAndExpire(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", l.key, err)
	}
	if !ok {
		l.owner = ""
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.owner = ""
	return nil
}
