package guard

import (
	"context"
	"fmt"
	"time"

	"freelancehub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript 只删除自己持有的租约，避免误删其他实例的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease extends a local guard with a Redis lease so that instances that
// share the database also share the critical section. The lease has a TTL, so
// the store's version check still backs it up if a holder stalls past expiry.
type RedisLease struct {
	local    Guard
	rdb      *redis.Client
	ttl      time.Duration
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewRedisLease(local Guard, rdb *redis.Client, ttl, timeout time.Duration, logger *zap.Logger) *RedisLease {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisLease{
		local:    local,
		rdb:      rdb,
		ttl:      ttl,
		timeout:  timeout,
		interval: 25 * time.Millisecond,
		logger:   logger,
	}
}

func leaseKey(projectID string) string {
	return fmt.Sprintf("lock:project:%s", projectID)
}

func (g *RedisLease) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context) error) error {
	return g.local.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		token := uuid.NewString()
		key := leaseKey(projectID)
		if err := g.obtain(ctx, key, token); err != nil {
			return err
		}
		defer g.release(key, token, projectID)
		return fn(ctx)
	})
}

func (g *RedisLease) obtain(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(g.timeout)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperror.Wrap(err, apperror.CodeUnavailable, "lock service unavailable")
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// release uses a fresh context: the caller's may already be cancelled and the
// lease must still be returned.
func (g *RedisLease) release(key, token, projectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, g.rdb, []string{key}, token).Err(); err != nil {
		g.logger.Warn("Failed to release project lease, it will expire",
			zap.String("project_id", projectID),
			zap.Duration("ttl", g.ttl),
			zap.Error(err),
		)
	}
}
