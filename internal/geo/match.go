package geo

import (
	"context"
	"fmt"

	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/model"
)

// Match：命中的场所与距离（米）
type Match struct {
	Venue          model.Venue
	DistanceMeters float64
}

// 文档注释：在候选场所中选出最近的一个
// 约束：仅考虑 IsActive；距离 <= maxDistanceMeters；同距离取 ID 最小；maxDistanceMeters<=0 恒为未命中（返回 nil）。
func Nearest(lat, lon float64, venues []model.Venue, maxDistanceMeters float64) *Match {
	if maxDistanceMeters <= 0 {
		return nil
	}
	box := BoundingBox(lat, lon, maxDistanceMeters)
	var best *Match
	for i := range venues {
		v := venues[i]
		if !v.IsActive || !box.Contains(v.Latitude, v.Longitude) {
			continue
		}
		d := Distance(lat, lon, v.Latitude, v.Longitude)
		if d > maxDistanceMeters {
			continue
		}
		if best == nil || d < best.DistanceMeters || (d == best.DistanceMeters && v.ID < best.Venue.ID) {
			best = &Match{Venue: v, DistanceMeters: d}
		}
	}
	return best
}

// VenueFinder：场所存储的只读契约（按 is_active 与近似包围盒查询）
type VenueFinder interface {
	ActiveVenuesInBox(ctx context.Context, box BBox) ([]model.Venue, error)
}

// 文档注释：基于存储的最近场所匹配器
// 背景：先用包围盒下推到存储减少候选，再在内存中计算精确距离。
type Matcher struct {
	finder      VenueFinder
	maxDistance float64
}

func NewMatcher(finder VenueFinder, maxDistanceMeters float64) *Matcher {
	return &Matcher{finder: finder, maxDistance: maxDistanceMeters}
}

// Match：返回最近场所；未命中返回 (nil, nil)；存储错误直接返回
func (m *Matcher) Match(ctx context.Context, lat, lon float64) (*Match, error) {
	if m.maxDistance <= 0 {
		return nil, nil
	}
	venues, err := m.finder.ActiveVenuesInBox(ctx, BoundingBox(lat, lon, m.maxDistance))
	if err != nil {
		return nil, fmt.Errorf("query venues: %w", err)
	}
	best := Nearest(lat, lon, venues, m.maxDistance)
	if best != nil {
		logger.L().Debug("venue_match_hit", "venue_id", best.Venue.ID, "candidates", len(venues), "distance_m", int(best.DistanceMeters))
	} else {
		logger.L().Debug("venue_match_miss", "candidates", len(venues))
	}
	return best, nil
}
