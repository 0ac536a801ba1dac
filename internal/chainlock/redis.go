package chainlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"casevault/pkg/logger"
	"casevault/pkg/utils"
)

var ErrLockTimeout = errors.New("chainlock: timed out waiting for chain lock")

// Redis is a cross-process lock: SET NX PX to acquire, compare-and-delete to release.
// TTL bounds how long a crashed writer can block a chain; a live holder
// keeps extending its lease until it unlocks.
type Redis struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

type RedisOption func(*Redis)

func WithRetryInterval(d time.Duration) RedisOption { return func(r *Redis) { r.retry = d } }
func WithKeyPrefix(p string) RedisOption            { return func(r *Redis) { r.prefix = p } }

func NewRedis(rdb redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{rdb: rdb, ttl: ttl, retry: 20 * time.Millisecond, prefix: "coc:lock:"}
	if r.ttl <= 0 {
		r.ttl = 5 * time.Second
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := utils.TryLock(ctx, r.rdb, k, token, r.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockTimeout, ctx.Err())
			}
			return nil, err
		}
		if ok {
			break
		}
		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-t.C:
		}
	}

	log := logger.From(ctx)
	stop := make(chan struct{})
	go r.keepAlive(context.WithoutCancel(ctx), k, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			// Release even if the request context is already gone.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			held, err := utils.Unlock(rctx, r.rdb, k, token)
			if err != nil {
				log.Warn("chain lock release failed", "key", k, "error", err.Error())
				return
			}
			if !held {
				log.Warn("chain lock expired before release", "key", k, "ttl", r.ttl.String())
			}
		})
	}, nil
}

// keepAlive extends the lease every ttl/2 until stop is closed or the lease is lost.
func (r *Redis) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}) {
	t := time.NewTicker(r.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			rctx, cancel := context.WithTimeout(ctx, r.ttl/2)
			ok, err := utils.RefreshLock(rctx, r.rdb, key, token, r.ttl)
			cancel()
			if err != nil || !ok {
				logger.From(ctx).Warn("chain lock lease lost", "key", key, "error", fmt.Sprint(err))
				return
			}
		}
	}
}
