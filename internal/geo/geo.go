// 包 geo：坐标距离、包围盒粗过滤与最近场所匹配
package geo

import "math"

// EarthRadiusMeters：球面地球半径（米）
const EarthRadiusMeters = 6371000.0

// 每纬度约 111111 米
const metersPerDegree = 111111.0

// 经度换算时 cos(lat) 的下限，避免极点附近除零
const minCosLat = 1e-6

// Distance：球面距离（Haversine），输入为度，返回米
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// BBox：经纬度包围盒（闭区间）
type BBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// 文档注释：以 (lat, lon) 为中心、半径 meters 构造包围盒
// 约束：保证半径内任意点都落在盒内；经度跨度按 cos(lat) 放大，cos 下限为 1e-6。
func BoundingBox(lat, lon, meters float64) BBox {
	dLat := meters / metersPerDegree
	dLon := meters / (metersPerDegree * math.Max(math.Cos(lat*math.Pi/180), minCosLat))
	return BBox{MinLat: lat - dLat, MaxLat: lat + dLat, MinLon: lon - dLon, MaxLon: lon + dLon}
}

// Contains：快速包围盒判定
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}
