package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"wifi-ad-beacon/internal/model"
)

const sessionColumns = `id, ip_address, mac_address, user_agent, is_authenticated, first_seen, last_seen,
    latitude, longitude, location_accuracy_m, venue_id, venue_distance_m, location_updated_at`

func scanSession(r rowScanner) (model.ClientSession, error) {
	var cs model.ClientSession
	err := r.Scan(&cs.ID, &cs.IPAddress, &cs.MACAddress, &cs.UserAgent, &cs.IsAuthenticated, &cs.FirstSeen, &cs.LastSeen,
		&cs.Latitude, &cs.Longitude, &cs.AccuracyMeters, &cs.VenueID, &cs.VenueDistanceM, &cs.LocationUpdateAt)
	return cs, err
}

// 文档注释：按 IP get-or-create 会话并标记为已认证
// 约束：userAgent/mac 为空时保留原值。
func (s *Store) MarkAuthenticated(ctx context.Context, ip, userAgent, mac string, now time.Time) (model.ClientSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, `INSERT INTO client_sessions(ip_address, user_agent, mac_address, is_authenticated, first_seen, last_seen)
        VALUES($1, $2, $3, TRUE, $4, $4)
        ON CONFLICT (ip_address) DO UPDATE SET is_authenticated=TRUE, last_seen=EXCLUDED.last_seen,
            user_agent=CASE WHEN EXCLUDED.user_agent <> '' THEN EXCLUDED.user_agent ELSE client_sessions.user_agent END,
            mac_address=CASE WHEN EXCLUDED.mac_address <> '' THEN EXCLUDED.mac_address ELSE client_sessions.mac_address END
        RETURNING `+sessionColumns, ip, userAgent, strings.ToLower(mac), now))
}

// SetSessionLocation: 写回定位与场所匹配结果；venue 为空时保留原场所
func (s *Store) SetSessionLocation(ctx context.Context, ip string, loc model.SessionLocation, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE client_sessions SET latitude=$2, longitude=$3, location_accuracy_m=$4,
            venue_id=COALESCE($5, venue_id),
            venue_distance_m=CASE WHEN $5::BIGINT IS NULL THEN venue_distance_m ELSE $6 END,
            location_updated_at=$7
        WHERE ip_address=$1`, ip, loc.Latitude, loc.Longitude, loc.AccuracyMeters, loc.VenueID, loc.VenueDistanceM, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSessionLocation: 心跳时 get-or-create 会话并刷新 last_seen 与定位
func (s *Store) TouchSessionLocation(ctx context.Context, ip, userAgent string, lat, lon float64, accuracy *int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO client_sessions(ip_address, user_agent, first_seen, last_seen, latitude, longitude, location_accuracy_m, location_updated_at)
        VALUES($1, $2, $3, $3, $4, $5, $6, $3)
        ON CONFLICT (ip_address) DO UPDATE SET last_seen=EXCLUDED.last_seen, latitude=EXCLUDED.latitude, longitude=EXCLUDED.longitude,
            location_accuracy_m=EXCLUDED.location_accuracy_m, location_updated_at=EXCLUDED.location_updated_at,
            user_agent=CASE WHEN EXCLUDED.user_agent <> '' THEN EXCLUDED.user_agent ELSE client_sessions.user_agent END`,
		ip, userAgent, now, lat, lon, accuracy)
	return err
}

func (s *Store) Session(ctx context.Context, ip string) (model.ClientSession, error) {
	cs, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM client_sessions WHERE ip_address=$1`, ip))
	if errors.Is(err, sql.ErrNoRows) {
		return cs, ErrNotFound
	}
	return cs, err
}
