package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sharp-job-service/internal/entity"
)

// RedisLog keeps the newest cap completion timestamps (unix millis) in a
// Redis list, plus an all-time counter under key+":total".
type RedisLog struct {
	rdb *redis.Client
	key string
	cap int64
}

func NewRedisLog(rdb *redis.Client, key string, cap int) *RedisLog {
	if cap < 1 {
		cap = 1
	}
	return &RedisLog{rdb: rdb, key: key, cap: int64(cap)}
}

func (l *RedisLog) totalKey() string {
	return l.key + ":total"
}

func (l *RedisLog) Append(ctx context.Context, t time.Time) error {
	pipe := l.rdb.TxPipeline()
	pipe.LPush(ctx, l.key, strconv.FormatInt(t.UnixMilli(), 10))
	pipe.LTrim(ctx, l.key, 0, l.cap-1)
	pipe.Incr(ctx, l.totalKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append completion: %w: %w", entity.ErrStoreUnavailable, err)
	}
	return nil
}

// Load returns the retained timestamps, newest first, and the all-time count.
func (l *RedisLog) Load(ctx context.Context) ([]time.Time, int64, error) {
	raw, err := l.rdb.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load completions: %w: %w", entity.ErrStoreUnavailable, err)
	}
	total, err := l.rdb.Get(ctx, l.totalKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("load completion total: %w: %w", entity.ErrStoreUnavailable, err)
	}

	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, time.UnixMilli(ms))
	}
	return out, total, nil
}

func (l *RedisLog) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}
