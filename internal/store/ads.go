package store

import (
	"context"
	"fmt"

	"wifi-ad-beacon/internal/ads"
	"wifi-ad-beacon/internal/model"
)

const adColumns = `id, title, image_url, target_url, click_count, is_active, active_hour_start, active_hour_end,
    target_os, target_lat, target_lon, radius_meters, is_generic, weight`

// 文档注释：读取当前小时、设备系统下可投放的广告
// 背景：时段谓词与内存判定 ads.InWindow 等价，由 ads.WindowClause 生成，保证两处语义一致。
func (s *Store) EligibleAds(ctx context.Context, hour int, os model.DeviceOS) ([]model.Advertisement, error) {
	q := `SELECT ` + adColumns + ` FROM advertisements
        WHERE is_active = TRUE AND ` + ads.WindowClause("active_hour_start", "active_hour_end", "$1") + `
          AND (target_os = 'all' OR target_os = $2)
        ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, hour, os)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Advertisement
	for rows.Next() {
		var a model.Advertisement
		if err := rows.Scan(&a.ID, &a.Title, &a.ImageURL, &a.TargetURL, &a.ClickCount, &a.IsActive, &a.ActiveHourStart, &a.ActiveHourEnd,
			&a.TargetOS, &a.TargetLat, &a.TargetLon, &a.RadiusMeters, &a.IsGeneric, &a.Weight); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAdByTitle: 以标题为键插入或更新广告（click_count 保留），返回是否新建
func (s *Store) UpsertAdByTitle(ctx context.Context, a model.Advertisement) (bool, error) {
	var created bool
	err := s.db.QueryRowContext(ctx, `INSERT INTO advertisements(title, image_url, target_url, is_active, active_hour_start, active_hour_end,
            target_os, target_lat, target_lon, radius_meters, is_generic, weight)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (title) DO UPDATE SET image_url=EXCLUDED.image_url, target_url=EXCLUDED.target_url,
            is_active=EXCLUDED.is_active, active_hour_start=EXCLUDED.active_hour_start, active_hour_end=EXCLUDED.active_hour_end,
            target_os=EXCLUDED.target_os, target_lat=EXCLUDED.target_lat, target_lon=EXCLUDED.target_lon,
            radius_meters=EXCLUDED.radius_meters, is_generic=EXCLUDED.is_generic, weight=EXCLUDED.weight, updated_at=now()
        RETURNING (xmax = 0)`,
		a.Title, a.ImageURL, a.TargetURL, a.IsActive, a.ActiveHourStart, a.ActiveHourEnd,
		a.TargetOS, a.TargetLat, a.TargetLon, a.RadiusMeters, a.IsGeneric, a.Weight,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert ad %q: %w", a.Title, err)
	}
	return created, nil
}
