// 包 utils：Postgres 与 Redis 连接工具，参数来自 config
package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"wifi-ad-beacon/internal/config"
	"wifi-ad-beacon/internal/logger"
)

// OpenPostgres：按配置打开连接池并做一次连通性检查
// 约束：Ping 失败时关闭连接池并返回错误
func OpenPostgres(ctx context.Context, c *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.PostgresDSN())
	if err != nil {
		return nil, err
	}
	maxOpen, maxIdle := c.PG.MaxOpenConns, c.PG.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 50
	}
	if maxIdle < 0 {
		maxIdle = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping %s:%s/%s: %w", c.PG.Host, c.PG.Port, c.PG.DB, err)
	}
	logger.L().Debug("db_pool", "max_open", maxOpen, "max_idle", maxIdle)
	return db, nil
}
