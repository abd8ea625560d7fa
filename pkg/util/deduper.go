package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 用 Redis SETNX 保证同一个 key 在 ttl 内只处理一次
type Deduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewDeduper(rdb redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{rdb: rdb, ttl: ttl, prefix: prefix, logger: logger}
}

// AcquireOnce 第一次见到 id 时返回 true；重复返回 false。
// Redis 不可用时放行（返回 true），重复处理由下游幂等兜底
func (d *Deduper) AcquireOnce(ctx context.Context, id string) bool {
	key := "dedup:" + d.prefix + ":" + id

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
		return true
	}
	if !ok {
		d.logger.Info("Skipped duplicated event", zap.String("dedup_key", key))
	}
	return ok
}

// Release 删除去重标记，用于处理失败后允许重试
func (d *Deduper) Release(ctx context.Context, id string) {
	if err := d.rdb.Del(ctx, "dedup:"+d.prefix+":"+id).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key", zap.String("id", id), zap.Error(err))
	}
}
