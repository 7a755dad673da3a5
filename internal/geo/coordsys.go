package geo

import (
	"fmt"
	"math"
	"strings"
)

// CoordSys：输入坐标系
type CoordSys string

const (
	WGS84 CoordSys = "WGS84"
	GCJ02 CoordSys = "GCJ-02"
	BD09  CoordSys = "BD-09"
)

// ParseCoordSys：空串视为 WGS84；大小写与连字符不敏感
func ParseCoordSys(s string) (CoordSys, error) {
	switch strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "") {
	case "", "WGS84":
		return WGS84, nil
	case "GCJ02":
		return GCJ02, nil
	case "BD09":
		return BD09, nil
	}
	return "", fmt.Errorf("unknown coordinate system %q", s)
}

// ToWGS84：将 c 坐标系下的点转换为 WGS84
func (c CoordSys) ToWGS84(lat, lon float64) (float64, float64) {
	switch c {
	case GCJ02:
		return GCJ02ToWGS84(lat, lon)
	case BD09:
		return BD09ToWGS84(lat, lon)
	}
	return lat, lon
}

// 文档注释：坐标系转换（GCJ-02/BD-09 → WGS84）
// 背景：国内地图服务（高德、微信定位）返回 GCJ-02，场所库统一存 WGS84。
// 约束：简化实现，误差在数米级；境外坐标原样返回。
func GCJ02ToWGS84(lat, lon float64) (float64, float64) {
	glat, glon := WGS84ToGCJ02(lat, lon)
	return lat*2 - glat, lon*2 - glon
}

func BD09ToWGS84(lat, lon float64) (float64, float64) {
	x := lon - 0.0065
	y := lat - 0.006
	z := math.Sqrt(x*x+y*y) - 0.00002*math.Sin(y*math.Pi)
	theta := math.Atan2(y, x) - 0.000003*math.Cos(x*math.Pi)
	return GCJ02ToWGS84(z*math.Sin(theta), z*math.Cos(theta))
}

// WGS84ToGCJ02：正向偏移；反向转换用一次迭代近似
func WGS84ToGCJ02(lat, lon float64) (float64, float64) {
	if outOfChina(lat, lon) {
		return lat, lon
	}
	const a = 6378245.0
	const ee = 0.00669342162296594323
	dLat := transformLat(lon-105.0, lat-35.0)
	dLon := transformLon(lon-105.0, lat-35.0)
	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - ee*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = (dLat * 180.0) / ((a * (1 - ee)) / (magic * sqrtMagic) * math.Pi)
	dLon = (dLon * 180.0) / (a / sqrtMagic * math.Cos(radLat) * math.Pi)
	return lat + dLat, lon + dLon
}

func outOfChina(lat, lon float64) bool {
	return lon < 72.004 || lon > 137.8347 || lat < 0.8293 || lat > 55.8271
}

func transformLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func transformLon(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}
