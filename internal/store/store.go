// 包 store: 提供与 PostgreSQL 的数据访问层，覆盖场所、广告、分段状态、Portal 会话与统计
package store

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSegmentClosed：试图修改已关闭（不可变）的分段
	ErrSegmentClosed = errors.New("segment already closed")
)

// Store: 数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// IncrStats: 递增累计与当日计数；kind 为 model.StatPing / model.StatImpression
// 约束：尽力而为，失败只记录日志
func (s *Store) IncrStats(ctx context.Context, kind string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO beacon_stats_total(kind, total) VALUES($1, 1)
        ON CONFLICT (kind) DO UPDATE SET total=beacon_stats_total.total+1`, kind); err != nil {
		logger.L().Debug("stats_incr_failed", "kind", kind, "err", err)
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO beacon_stats_daily(day, kind, count) VALUES(current_date, $1, 1)
        ON CONFLICT (day, kind) DO UPDATE SET count=beacon_stats_daily.count+1`, kind); err != nil {
		logger.L().Debug("stats_incr_failed", "kind", kind, "err", err)
		return err
	}
	return nil
}

// GetTotals: 读取累计与当日计数，用于接口返回
func (s *Store) GetTotals(ctx context.Context) (*model.Totals, error) {
	var t model.Totals
	rows, err := s.db.QueryContext(ctx, `SELECT t.kind, t.total, COALESCE(d.count, 0)
        FROM beacon_stats_total t
        LEFT JOIN beacon_stats_daily d ON d.kind = t.kind AND d.day = current_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var total, today int64
		if err := rows.Scan(&kind, &total, &today); err != nil {
			return nil, err
		}
		switch kind {
		case model.StatPing:
			t.Pings, t.TodayPings = total, today
		case model.StatImpression:
			t.Impressions, t.TodayImpressions = total, today
		}
	}
	logger.L().Debug("stats_totals", "pings", t.Pings, "impressions", t.Impressions)
	return &t, rows.Err()
}
