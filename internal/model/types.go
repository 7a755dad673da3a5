// 包 model：核心数据结构与封闭枚举，供匹配、分段状态机与广告选择共享
package model

import (
	"fmt"
	"strings"
	"time"
)

// VenueCategory：场所类别（封闭枚举）
type VenueCategory string

const (
	CategoryShop  VenueCategory = "SHOP"
	CategoryFood  VenueCategory = "FOOD"
	CategoryHotel VenueCategory = "HOTEL"
	CategoryOther VenueCategory = "OTHER"
)

func (c VenueCategory) Valid() bool {
	switch c {
	case CategoryShop, CategoryFood, CategoryHotel, CategoryOther:
		return true
	}
	return false
}

// ParseVenueCategory：大小写不敏感解析；未知值返回错误
func ParseVenueCategory(s string) (VenueCategory, error) {
	c := VenueCategory(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown venue category %q", s)
	}
	return c, nil
}

// VenueSource：场所数据来源
type VenueSource string

const (
	SourceOverpass VenueSource = "OVERPASS"
	SourceAMap     VenueSource = "AMAP"
)

func (s VenueSource) Valid() bool {
	switch s {
	case SourceOverpass, SourceAMap:
		return true
	}
	return false
}

func ParseVenueSource(s string) (VenueSource, error) {
	v := VenueSource(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown venue source %q", s)
	}
	return v, nil
}

// DeviceOS：广告定向的设备系统；DeviceAll 同时表示“未识别”
type DeviceOS string

const (
	DeviceAll     DeviceOS = "all"
	DeviceIOS     DeviceOS = "ios"
	DeviceAndroid DeviceOS = "android"
	DeviceWindows DeviceOS = "windows"
)

func (o DeviceOS) Valid() bool {
	switch o {
	case DeviceAll, DeviceIOS, DeviceAndroid, DeviceWindows:
		return true
	}
	return false
}

func ParseDeviceOS(s string) (DeviceOS, error) {
	o := DeviceOS(strings.ToLower(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", fmt.Errorf("unknown device os %q", s)
	}
	return o, nil
}

// VisitSource：分段的定位来源
type VisitSource string

const (
	VisitGeolocation VisitSource = "GEO"
	VisitUnknown     VisitSource = "UNK"
)

func (s VisitSource) Valid() bool {
	switch s {
	case VisitGeolocation, VisitUnknown:
		return true
	}
	return false
}

func ParseVisitSource(s string) (VisitSource, error) {
	v := VisitSource(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown visit source %q", s)
	}
	return v, nil
}

// 文档注释：本地缓存的周边场所
// 背景：由离线预处理写入，在线阶段只读；(Source, ExternalID) 唯一。
type Venue struct {
	ID         int64
	Source     VenueSource
	ExternalID string
	Name       string
	Category   VenueCategory
	Latitude   float64
	Longitude  float64
	Address    string
	IsActive   bool
}

// 文档注释：广告
// 约束：TargetLat/TargetLon/RadiusMeters 三者同时存在才视为地理定向；小时为闭区间，Start>End 表示跨天。
type Advertisement struct {
	ID              int64
	Title           string
	ImageURL        string
	TargetURL       string
	ClickCount      int64
	IsActive        bool
	ActiveHourStart int
	ActiveHourEnd   int
	TargetOS        DeviceOS
	TargetLat       *float64
	TargetLon       *float64
	RadiusMeters    *int
	IsGeneric       bool
	Weight          float64
}

// HasGeoTarget：是否配置了完整的地理围栏
func (a *Advertisement) HasGeoTarget() bool {
	return a.TargetLat != nil && a.TargetLon != nil && a.RadiusMeters != nil
}

// 文档注释：一段连续停留
// 约束：StartAt <= EndAt；IsOpen=false 后不再修改；VenueID 为空表示未知场所。
type VisitSegment struct {
	ID        int64
	DeviceKey string
	VenueID   *int64
	Source    VisitSource
	StartAt   time.Time
	EndAt     time.Time
	IsOpen    bool
}

// DeviceVisitState：状态机的持久化行，每个设备一行
type DeviceVisitState struct {
	DeviceKey        string
	CurrentSegmentID *int64
	CurrentVenueID   *int64
	PendingVenueID   *int64
	PendingCount     int
	LastPingAt       *time.Time
}

// ClientSession：Portal 认证会话（按 IP 唯一）
type ClientSession struct {
	ID               int64
	IPAddress        string
	MACAddress       string
	UserAgent        string
	IsAuthenticated  bool
	FirstSeen        time.Time
	LastSeen         time.Time
	Latitude         *float64
	Longitude        *float64
	AccuracyMeters   *int
	VenueID          *int64
	VenueDistanceM   *int
	LocationUpdateAt *time.Time
}

// SessionLocation：写回会话的定位与匹配结果
type SessionLocation struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters *int
	VenueID        *int64
	VenueDistanceM *int
}

// Totals：累计与当日计数（心跳、广告曝光）
type Totals struct {
	Pings            int64
	Impressions      int64
	TodayPings       int64
	TodayImpressions int64
}

// 统计种类
const (
	StatPing       = "ping"
	StatImpression = "impression"
)
