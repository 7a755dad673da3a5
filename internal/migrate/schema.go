// 包 migrate：启动时幂等建表
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"wifi-ad-beacon/internal/logger"
)

// 背景：首次运行自动创建所需表与索引，保障后续导入与查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；每设备至多一个打开分段由部分唯一索引兜底
var stmts = []string{
	`CREATE TABLE IF NOT EXISTS venues (
        id BIGSERIAL PRIMARY KEY,
        source TEXT NOT NULL,
        external_id TEXT NOT NULL,
        name TEXT NOT NULL,
        category TEXT NOT NULL DEFAULT 'OTHER',
        latitude DOUBLE PRECISION NOT NULL,
        longitude DOUBLE PRECISION NOT NULL,
        address TEXT NOT NULL DEFAULT '',
        is_active BOOLEAN NOT NULL DEFAULT TRUE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (source, external_id)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_venues_active_lat_lon ON venues(is_active, latitude, longitude)`,
	`CREATE TABLE IF NOT EXISTS advertisements (
        id BIGSERIAL PRIMARY KEY,
        title TEXT NOT NULL UNIQUE,
        image_url TEXT NOT NULL DEFAULT '',
        target_url TEXT NOT NULL DEFAULT '',
        click_count BIGINT NOT NULL DEFAULT 0,
        is_active BOOLEAN NOT NULL DEFAULT TRUE,
        active_hour_start INT NOT NULL DEFAULT 0 CHECK (active_hour_start BETWEEN 0 AND 23),
        active_hour_end INT NOT NULL DEFAULT 23 CHECK (active_hour_end BETWEEN 0 AND 23),
        target_os TEXT NOT NULL DEFAULT 'all',
        target_lat DOUBLE PRECISION,
        target_lon DOUBLE PRECISION,
        radius_meters INT CHECK (radius_meters IS NULL OR radius_meters > 0),
        is_generic BOOLEAN NOT NULL DEFAULT FALSE,
        weight DOUBLE PRECISION NOT NULL DEFAULT 1 CHECK (weight >= 0),
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_ads_active_hours ON advertisements(is_active, active_hour_start, active_hour_end)`,
	`CREATE INDEX IF NOT EXISTS idx_ads_active_geo ON advertisements(is_active, target_lat, target_lon)`,
	`CREATE TABLE IF NOT EXISTS visit_segments (
        id BIGSERIAL PRIMARY KEY,
        device_key TEXT NOT NULL,
        venue_id BIGINT REFERENCES venues(id) ON DELETE SET NULL,
        source TEXT NOT NULL DEFAULT 'UNK',
        start_at TIMESTAMPTZ NOT NULL,
        end_at TIMESTAMPTZ NOT NULL,
        is_open BOOLEAN NOT NULL DEFAULT TRUE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        CHECK (start_at <= end_at)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_segments_device_start ON visit_segments(device_key, start_at)`,
	`CREATE INDEX IF NOT EXISTS idx_segments_venue_start ON visit_segments(venue_id, start_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_segments_device_open ON visit_segments(device_key) WHERE is_open`,
	`CREATE TABLE IF NOT EXISTS device_visit_states (
        device_key TEXT PRIMARY KEY,
        current_segment_id BIGINT REFERENCES visit_segments(id) ON DELETE SET NULL,
        current_venue_id BIGINT REFERENCES venues(id) ON DELETE SET NULL,
        pending_venue_id BIGINT REFERENCES venues(id) ON DELETE SET NULL,
        pending_count INT NOT NULL DEFAULT 0 CHECK (pending_count >= 0),
        last_ping_at TIMESTAMPTZ,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_device_states_last_ping ON device_visit_states(last_ping_at)`,
	`CREATE TABLE IF NOT EXISTS client_sessions (
        id BIGSERIAL PRIMARY KEY,
        ip_address TEXT NOT NULL UNIQUE,
        mac_address TEXT NOT NULL DEFAULT '',
        user_agent TEXT NOT NULL DEFAULT '',
        is_authenticated BOOLEAN NOT NULL DEFAULT FALSE,
        first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
        last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
        latitude DOUBLE PRECISION,
        longitude DOUBLE PRECISION,
        location_accuracy_m INT,
        venue_id BIGINT REFERENCES venues(id) ON DELETE SET NULL,
        venue_distance_m INT,
        location_updated_at TIMESTAMPTZ
    )`,
	`CREATE TABLE IF NOT EXISTS beacon_stats_total (
        kind TEXT PRIMARY KEY,
        total BIGINT NOT NULL DEFAULT 0
    )`,
	`CREATE TABLE IF NOT EXISTS beacon_stats_daily (
        day DATE NOT NULL,
        kind TEXT NOT NULL,
        count BIGINT NOT NULL DEFAULT 0,
        PRIMARY KEY (day, kind)
    )`,
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("schema stmt %d: %w", i, err)
		}
	}
	logger.L().Debug("schema_done", "stmts", len(stmts))
	return nil
}
