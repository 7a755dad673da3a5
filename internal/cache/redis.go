// 包 cache：最近展示广告记录的缓存实现（Redis 与进程内 LRU）
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wifi-ad-beacon/internal/metrics"
)

// 文档注释：基于 Redis 的最近展示记录
// 背景：值为 JSON 数组字符串，整条记录随每次写入重置 TTL；多实例部署时共享频控状态。
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, timeout: 2 * time.Second}
}

// GetIDs：键不存在返回空；值损坏视为空并计数
func (r *Redis) GetIDs(ctx context.Context, key string) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		metrics.RecencyCacheErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		metrics.RecencyCacheErrorsTotal.WithLabelValues("decode").Inc()
		return nil, nil
	}
	return ids, nil
}

func (r *Redis) SetIDs(ctx context.Context, key string, ids []int64, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		metrics.RecencyCacheErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
