package api

import (
	"time"

	"wifi-ad-beacon/internal/geo"
)

// 文档注释：定位字段（心跳、广告、认证共用）
// 约束：经纬度须同时出现或同时缺省；coord_sys 缺省为 WGS84，入参在进入服务前统一转为 WGS84。
type locationFields struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	AccuracyMeters *int     `json:"accuracy_m"`
	CoordSys       string   `json:"coord_sys"`
}

// normalize：校验并返回 WGS84 坐标；无坐标时返回 nil, nil
func (l locationFields) normalize() (*float64, *float64, error) {
	if l.AccuracyMeters != nil && *l.AccuracyMeters < 0 {
		return nil, nil, invalid("accuracy_m", "must be >= 0")
	}
	cs, err := geo.ParseCoordSys(l.CoordSys)
	if err != nil {
		return nil, nil, invalid("coord_sys", "must be one of WGS84, GCJ-02, BD-09")
	}
	if (l.Latitude == nil) != (l.Longitude == nil) {
		return nil, nil, invalid("latitude", "latitude and longitude must be provided together")
	}
	if l.Latitude == nil {
		return nil, nil, nil
	}
	if *l.Latitude < -90 || *l.Latitude > 90 {
		return nil, nil, invalid("latitude", "out of range")
	}
	if *l.Longitude < -180 || *l.Longitude > 180 {
		return nil, nil, invalid("longitude", "out of range")
	}
	lat, lon := cs.ToWGS84(*l.Latitude, *l.Longitude)
	return &lat, &lon, nil
}

type pingRequest struct {
	locationFields
	Event *string `json:"event"`
}

// pingResponse：pending_count 仅在存在待确认候选时输出，此时缺省 pending_venue 表示候选为未知场所；switched 仅在非 leave 时输出
type pingResponse struct {
	OK           bool    `json:"ok"`
	DeviceKey    string  `json:"device_key"`
	Event        string  `json:"event"`
	Venue        *string `json:"venue"`
	VenueID      *int64  `json:"venue_id"`
	DistanceM    *int    `json:"distance_m"`
	SegmentID    *int64  `json:"segment_id"`
	PendingVenue *string `json:"pending_venue,omitempty"`
	PendingCount *int    `json:"pending_count,omitempty"`
	Switched     *bool   `json:"switched,omitempty"`
}

type adRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	CoordSys  string   `json:"coord_sys"`
	UserAgent string   `json:"user_agent"`
	LocalTime *int     `json:"local_time"`
}

type adResponse struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	ImageURL   string `json:"image_url"`
	TargetURL  string `json:"target_url"`
	ClickCount int64  `json:"click_count"`
}

type acceptRequest struct {
	locationFields
}

type acceptResponse struct {
	IPAddress       string    `json:"ip_address"`
	IsAuthenticated bool      `json:"is_authenticated"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	Venue           *string   `json:"venue,omitempty"`
	VenueID         *int64    `json:"venue_id,omitempty"`
	VenueDistanceM  *int      `json:"venue_distance_m,omitempty"`
	VenueMatchError string    `json:"venue_match_error,omitempty"`
}

type segmentResponse struct {
	ID      int64     `json:"id"`
	VenueID *int64    `json:"venue_id"`
	Source  string    `json:"source"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	IsOpen  bool      `json:"is_open"`
	// DurationSec 为 end_at - start_at 的秒数
	DurationSec int64 `json:"duration_sec"`
}

type statsResponse struct {
	Pings            int64 `json:"pings"`
	Impressions      int64 `json:"impressions"`
	TodayPings       int64 `json:"today_pings"`
	TodayImpressions int64 `json:"today_impressions"`
}
