package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"wifi-ad-beacon/internal/geo"
	"wifi-ad-beacon/internal/model"
)

const venueColumns = `id, source, external_id, name, category, latitude, longitude, address, is_active`

// ActiveVenuesInBox: 按 is_active 与包围盒读取候选场所，精确距离由调用方计算
func (s *Store) ActiveVenuesInBox(ctx context.Context, box geo.BBox) ([]model.Venue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+venueColumns+` FROM venues
        WHERE is_active = TRUE AND latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4
        ORDER BY id`, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Venue
	for rows.Next() {
		var v model.Venue
		if err := rows.Scan(&v.ID, &v.Source, &v.ExternalID, &v.Name, &v.Category, &v.Latitude, &v.Longitude, &v.Address, &v.IsActive); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// 文档注释：按 (source, external_id) 插入或更新场所
// 返回：是否新建（xmax=0 表示本次为插入）
func (s *Store) UpsertVenue(ctx context.Context, v model.Venue) (bool, error) {
	var created bool
	err := s.db.QueryRowContext(ctx, `INSERT INTO venues(source, external_id, name, category, latitude, longitude, address, is_active)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (source, external_id) DO UPDATE SET name=EXCLUDED.name, category=EXCLUDED.category,
            latitude=EXCLUDED.latitude, longitude=EXCLUDED.longitude, address=EXCLUDED.address,
            is_active=EXCLUDED.is_active, updated_at=now()
        RETURNING (xmax = 0)`,
		v.Source, v.ExternalID, v.Name, v.Category, v.Latitude, v.Longitude, v.Address, v.IsActive,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert venue %s/%s: %w", v.Source, v.ExternalID, err)
	}
	return created, nil
}

// DeactivateMissing: 将该来源下本次未出现的场所置为不活跃
func (s *Store) DeactivateMissing(ctx context.Context, source model.VenueSource, keep []string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE venues SET is_active=FALSE, updated_at=now()
        WHERE source=$1 AND is_active=TRUE AND NOT (external_id = ANY($2))`, source, pq.Array(keep))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeSource: 删除该来源的全部场所；引用它们的分段与状态置空场所
func (s *Store) PurgeSource(ctx context.Context, source model.VenueSource) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM venues WHERE source=$1`, source)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
