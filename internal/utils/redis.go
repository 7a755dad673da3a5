package utils

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"wifi-ad-beacon/internal/config"
	"wifi-ad-beacon/internal/logger"
)

// OpenRedis：REDIS_ENABLE=false 时返回 nil
func OpenRedis(c *config.Config) *redis.Client {
	if !c.Redis.Enable {
		return nil
	}
	logger.L().Debug("redis_env", "addr", c.RedisAddr(), "db", c.Redis.DB)
	return redis.NewClient(&redis.Options{Addr: c.RedisAddr(), Password: c.Redis.Password, DB: c.Redis.DB})
}

// PingRedis：启动时探测；失败由调用方决定是否降级
func PingRedis(ctx context.Context, rc *redis.Client) error {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rc.Ping(pctx).Err()
}
