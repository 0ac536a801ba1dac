package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestLockScriptsCompile(t *testing.T) {
	if lockReleaseScript == nil || lockRefreshScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestTryLockAndUnlock(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb, err := OpenRedis(ctx, RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()

	ok, err := TryLock(ctx, rdb, "k", "owner-a", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first lock, got %v %v", ok, err)
	}
	ok, _ = TryLock(ctx, rdb, "k", "owner-b", time.Second)
	if ok {
		t.Fatalf("expected second lock to fail")
	}

	released, err := Unlock(ctx, rdb, "k", "owner-b")
	if err != nil || released {
		t.Fatalf("expected foreign unlock to be refused")
	}
	refreshed, err := RefreshLock(ctx, rdb, "k", "owner-a", 2*time.Second)
	if err != nil || !refreshed {
		t.Fatalf("expected refresh by owner")
	}
	released, err = Unlock(ctx, rdb, "k", "owner-a")
	if err != nil || !released {
		t.Fatalf("expected owner unlock")
	}
	if mr.Exists("k") {
		t.Fatalf("expected key removed")
	}
}

func TestTryLock_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb, err := OpenRedis(ctx, RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()

	if ok, _ := TryLock(ctx, rdb, "k", "a", 100*time.Millisecond); !ok {
		t.Fatalf("expected lock")
	}
	mr.FastForward(200 * time.Millisecond)
	if ok, _ := TryLock(ctx, rdb, "k", "b", time.Second); !ok {
		t.Fatalf("expected lock after ttl")
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
