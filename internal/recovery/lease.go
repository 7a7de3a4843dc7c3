package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const leaseScope = "obligation"

// Lease is an exclusive claim on one obligation.
type Lease interface {
	Release(ctx context.Context) error
}

// Leaser grants at most one live lease per obligation. Acquire never blocks:
// it returns ok=false when another holder owns the obligation.
type Leaser interface {
	Acquire(ctx context.Context, obligationID uuid.UUID) (Lease, bool, error)
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, owner string) (bool, error)
	LeaseKey(scope, id string) string
}

// RedisLeaser implements Leaser with SET NX PX and an owner token so a holder
// whose TTL lapsed cannot release someone else's lease.
type RedisLeaser struct {
	store leaseStore
	ttl   time.Duration
}

// NewRedisLeaser builds a Redis-backed leaser. ttl must exceed the gateway timeout.
func NewRedisLeaser(store leaseStore, ttl time.Duration) (*RedisLeaser, error) {
	if store == nil {
		return nil, errors.New("redis store required for lease")
	}
	if ttl <= 0 {
		return nil, errors.New("lease ttl must be positive")
	}
	return &RedisLeaser{store: store, ttl: ttl}, nil
}

func (l *RedisLeaser) Acquire(ctx context.Context, obligationID uuid.UUID) (Lease, bool, error) {
	key := l.store.LeaseKey(leaseScope, obligationID.String())
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{store: l.store, key: key, owner: owner}, true, nil
}

type redisLease struct {
	store leaseStore
	key   string
	owner string
}

func (l *redisLease) Release(ctx context.Context) error {
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// LocalLeaser is an in-process Leaser for single-instance deployments and tests.
type LocalLeaser struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{held: make(map[uuid.UUID]struct{})}
}

func (l *LocalLeaser) Acquire(_ context.Context, obligationID uuid.UUID) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[obligationID]; busy {
		return nil, false, nil
	}
	l.held[obligationID] = struct{}{}
	return &localLease{parent: l, id: obligationID}, true, nil
}

type localLease struct {
	parent *LocalLeaser
	id     uuid.UUID
	once   sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.parent.mu.Lock()
		delete(l.parent.held, l.id)
		l.parent.mu.Unlock()
	})
	return nil
}
