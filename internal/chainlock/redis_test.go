package chainlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLock(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, time.Second, WithRetryInterval(5*time.Millisecond)), mr
}

func TestRedis_AcquireRelease(t *testing.T) {
	l, mr := newRedisLock(t)

	unlock, err := l.Lock(context.Background(), "c1/abc")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists("coc:lock:c1/abc") {
		t.Fatalf("expected lock key")
	}
	unlock()
	if mr.Exists("coc:lock:c1/abc") {
		t.Fatalf("expected lock key removed")
	}
}

func TestRedis_SecondWriterWaits(t *testing.T) {
	l, _ := newRedisLock(t)

	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), "k")
		if err == nil {
			u()
		}
		close(acquired)
	}()
	time.Sleep(20 * time.Millisecond)
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("expected waiter to acquire after release")
	}
}

func TestRedis_ReleaseDoesNotStealExpiredLock(t *testing.T) {
	l, mr := newRedisLock(t)

	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	mr.FastForward(2 * time.Second)

	other, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock after expiry: %v", err)
	}
	unlock()
	if !mr.Exists("coc:lock:k") {
		t.Fatalf("stale holder must not release the new lock")
	}
	other()
}

func TestRedis_HolderKeepsLeaseAlive(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedis(rdb, 100*time.Millisecond, WithRetryInterval(5*time.Millisecond))

	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	mr.SetTTL("coc:lock:k", 10*time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for mr.TTL("coc:lock:k") <= 10*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatalf("expected lease to be refreshed, ttl=%v", mr.TTL("coc:lock:k"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
