// 包 ads：广告投放时段判定、频控与按时间/设备/位置的选择管线
package ads

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"wifi-ad-beacon/internal/geo"
	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/metrics"
	"wifi-ad-beacon/internal/model"
)

// AdFinder：广告存储的只读契约
// 约束：实现方应下推 is_active、时段与 OS 谓词；选择器仍会在内存中复核。
type AdFinder interface {
	EligibleAds(ctx context.Context, hour int, os model.DeviceOS) ([]model.Advertisement, error)
}

// 文档注释：选择器参数
// 背景：权重系数与地理搜索半径沿用历史经验值（10 / 5 / 2000m），作为可配置默认值而非固定语义。
type SelectorConfig struct {
	SearchRadiusMeters float64
	WeightFactor       float64
	DistanceFactor     float64
	// Location 用于请求未携带本地小时时换算服务器当前小时
	Location *time.Location
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{SearchRadiusMeters: 2000, WeightFactor: 10, DistanceFactor: 5, Location: time.Local}
}

// Request：一次广告请求
type Request struct {
	Now       time.Time
	Latitude  *float64
	Longitude *float64
	// LocalHour 为调用方提供的本地小时（0-23），为空时由 Now 换算
	LocalHour *int
	OS        model.DeviceOS
	ClientKey string
}

// Selector：组合时段、设备、位置评分与频控选出一条广告
type Selector struct {
	finder AdFinder
	freq   *FrequencyCap
	cfg    SelectorConfig
}

func NewSelector(finder AdFinder, freq *FrequencyCap, cfg SelectorConfig) *Selector {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Selector{finder: finder, freq: freq, cfg: cfg}
}

// Hour：请求对应的小时
func (s *Selector) Hour(req Request) int {
	if req.LocalHour != nil {
		return *req.LocalHour
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	return now.In(s.cfg.Location).Hour()
}

// 文档注释：选出一条最匹配的广告
// 背景：有定位时优先地理定向广告（权重为主、距离为辅）；否则或无地理命中时走通用/无围栏广告池（按权重）。
// 返回：无可投放广告时返回 (nil, nil)，调用方按“无内容”处理；存储错误直接返回。
func (s *Selector) Select(ctx context.Context, req Request) (*model.Advertisement, error) {
	hour := s.Hour(req)
	all, err := s.finder.EligibleAds(ctx, hour, req.OS)
	if err != nil {
		return nil, fmt.Errorf("query ads: %w", err)
	}
	candidates := make([]model.Advertisement, 0, len(all))
	for _, ad := range all {
		if !ad.IsActive || !InWindow(hour, ad.ActiveHourStart, ad.ActiveHourEnd) || !MatchesOS(ad.TargetOS, req.OS) {
			continue
		}
		candidates = append(candidates, ad)
	}
	if len(candidates) == 0 {
		metrics.AdNoContentTotal.Inc()
		logger.L().Debug("ad_select_none", "hour", hour, "os", req.OS, "stage", "time_os")
		return nil, nil
	}

	recent, err := s.freq.Recent(ctx, req.ClientKey)
	if err != nil {
		logger.L().Warn("freqcap_read_error", "err", err)
		recent = nil
	}
	candidates = excludeRecent(candidates, recent)

	var chosen *model.Advertisement
	pool := "generic"
	if req.Latitude != nil && req.Longitude != nil {
		chosen = s.bestGeo(candidates, *req.Latitude, *req.Longitude)
		if chosen != nil {
			pool = "geo"
		}
	}
	if chosen == nil {
		chosen = bestGeneric(candidates)
	}
	if chosen == nil {
		metrics.AdNoContentTotal.Inc()
		logger.L().Debug("ad_select_none", "hour", hour, "os", req.OS, "stage", "pool")
		return nil, nil
	}
	if err := s.freq.Record(ctx, req.ClientKey, chosen.ID); err != nil {
		logger.L().Warn("freqcap_write_error", "ad_id", chosen.ID, "err", err)
	}
	metrics.AdSelectedTotal.WithLabelValues(pool).Inc()
	logger.L().Debug("ad_selected", "ad_id", chosen.ID, "pool", pool, "hour", hour, "os", req.OS, "recent", len(recent))
	return chosen, nil
}

// excludeRecent：剔除最近展示过的广告；若剔除后为空则回退到原集合
func excludeRecent(candidates []model.Advertisement, recent []int64) []model.Advertisement {
	if len(recent) == 0 {
		return candidates
	}
	skip := make(map[int64]struct{}, len(recent))
	for _, id := range recent {
		skip[id] = struct{}{}
	}
	out := make([]model.Advertisement, 0, len(candidates))
	for _, ad := range candidates {
		if _, ok := skip[ad.ID]; !ok {
			out = append(out, ad)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// Score：地理定向广告的综合评分；distanceNorm 在目标点为 1，半径边缘为 0
func (s *Selector) Score(weight, distance, radius float64) float64 {
	norm := 0.0
	if radius > 0 {
		norm = math.Max(0, 1-distance/radius)
	}
	return weight*s.cfg.WeightFactor + norm*s.cfg.DistanceFactor
}

func (s *Selector) bestGeo(candidates []model.Advertisement, lat, lon float64) *model.Advertisement {
	box := geo.BoundingBox(lat, lon, s.cfg.SearchRadiusMeters)
	var best *model.Advertisement
	bestScore := math.Inf(-1)
	for i := range candidates {
		ad := &candidates[i]
		if !ad.HasGeoTarget() || !box.Contains(*ad.TargetLat, *ad.TargetLon) {
			continue
		}
		radius := float64(*ad.RadiusMeters)
		d := geo.Distance(lat, lon, *ad.TargetLat, *ad.TargetLon)
		if d > radius {
			continue
		}
		score := s.Score(ad.Weight, d, radius)
		if best == nil || score > bestScore || (score == bestScore && ad.ID < best.ID) {
			best = ad
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// bestGeneric：通用或无完整围栏的广告中权重最高者，同权重取 ID 最小
func bestGeneric(candidates []model.Advertisement) *model.Advertisement {
	var pool []model.Advertisement
	for _, ad := range candidates {
		if ad.IsGeneric || !ad.HasGeoTarget() {
			pool = append(pool, ad)
		}
	}
	if len(pool) == 0 {
		return nil
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Weight != pool[j].Weight {
			return pool[i].Weight > pool[j].Weight
		}
		return pool[i].ID < pool[j].ID
	})
	out := pool[0]
	return &out
}
