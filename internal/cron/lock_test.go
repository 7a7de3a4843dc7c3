package cron

import (
	"context"
	"testing"
	"time"
)

type memoryLockStore struct {
	values  map[string]string
	renewed int
}

func (m *memoryLockStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) CompareAndExpire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if m.values[key] != owner {
		return false, nil
	}
	m.renewed++
	return true, nil
}

func (m *memoryLockStore) CompareAndDelete(ctx context.Context, key, owner string) (bool, error) {
	if m.values[key] != owner {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockReleaseIsOwnerScoped(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	ctx := context.Background()

	first, err := NewRedisLock(store, "ks:cron:lock", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first acquire, got %v %v", ok, err)
	}

	second, _ := NewRedisLock(store, "ks:cron:lock", time.Minute)
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second acquire should fail while held")
	}

	// simulate expiry and takeover
	delete(store.values, "ks:cron:lock")
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("second acquire should succeed after expiry")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := store.values["ks:cron:lock"]; !held {
		t.Fatal("stale owner must not release the successor's lock")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := store.values["ks:cron:lock"]; held {
		t.Fatal("owner release should clear the lock")
	}
}

func TestRedisLockRefresh(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	ctx := context.Background()
	lock, _ := NewRedisLock(store, "ks:cron:lock", time.Minute)

	if ok, _ := lock.Refresh(ctx); ok {
		t.Fatal("refresh without acquire should report not held")
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}
	if ok, err := lock.Refresh(ctx); err != nil || !ok || store.renewed != 1 {
		t.Fatalf("expected refresh, ok=%v err=%v renewed=%d", ok, err, store.renewed)
	}

	store.values["ks:cron:lock"] = "someone-else"
	if ok, _ := lock.Refresh(ctx); ok {
		t.Fatal("refresh must fail after takeover")
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release after loss: %v", err)
	}
	if store.values["ks:cron:lock"] != "someone-else" {
		t.Fatal("lost lock must not release the new owner")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", time.Minute); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewRedisLock(&memoryLockStore{values: map[string]string{}}, "", time.Minute); err == nil {
		t.Fatal("expected error for empty key")
	}
}
