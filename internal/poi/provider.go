// 包 poi：周边场所（POI）预处理，供离线导入本地场所缓存
package poi

import (
	"context"
	"strings"

	"wifi-ad-beacon/internal/model"
)

// Item：数据源返回的单个场所，坐标统一为 WGS84
type Item struct {
	ExternalID string
	Name       string
	Category   model.VenueCategory
	Latitude   float64
	Longitude  float64
	Address    string
}

// Venue：转为本地缓存的场所行
func (it Item) Venue(source model.VenueSource) model.Venue {
	return model.Venue{
		Source:     source,
		ExternalID: it.ExternalID,
		Name:       it.Name,
		Category:   it.Category,
		Latitude:   it.Latitude,
		Longitude:  it.Longitude,
		Address:    it.Address,
		IsActive:   true,
	}
}

// Provider：以 (lat, lon) 为圆心、radius 米为半径拉取周边场所
type Provider interface {
	Source() model.VenueSource
	Fetch(ctx context.Context, lat, lon float64, radius int) ([]Item, error)
}

var foodAmenities = map[string]bool{"restaurant": true, "cafe": true, "fast_food": true, "bar": true, "pub": true}
var hotelTourism = map[string]bool{"hotel": true, "hostel": true, "motel": true, "guest_house": true}

// InferCategory：按 OSM 标签推断类别，shop 优先，其次餐饮，再次住宿
func InferCategory(tags map[string]string) model.VenueCategory {
	if strings.TrimSpace(tags["shop"]) != "" {
		return model.CategoryShop
	}
	if foodAmenities[tags["amenity"]] {
		return model.CategoryFood
	}
	if hotelTourism[tags["tourism"]] {
		return model.CategoryHotel
	}
	return model.CategoryOther
}

// joinAddress：非空片段以空格拼接
func joinAddress(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
