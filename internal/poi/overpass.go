package poi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/metrics"
	"wifi-ad-beacon/internal/model"
)

const (
	DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"
	userAgent               = "WIFI-Ad-Beacon/1.0 (POI preload)"
)

// Overpass：OSM Overpass API 数据源，无需密钥
type Overpass struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

func NewOverpass(endpoint string, timeout time.Duration) *Overpass {
	if endpoint == "" {
		endpoint = DefaultOverpassEndpoint
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &Overpass{Endpoint: endpoint, Timeout: timeout, Client: &http.Client{Timeout: timeout + 5*time.Second}}
}

func (o *Overpass) Source() model.VenueSource { return model.SourceOverpass }

// 文档注释：构造 Overpass QL 查询
// 背景：拉取 node/way/relation 三类元素；way/relation 用 out center 取中心点。
func BuildOverpassQuery(lat, lon float64, radius int, timeoutSec int) string {
	around := fmt.Sprintf("(around:%d,%g,%g)", radius, lat, lon)
	filters := []string{
		`[amenity~"^(restaurant|cafe|fast_food|bar|pub)$"]`,
		`[shop]`,
		`[tourism~"^(hotel|hostel|motel|guest_house)$"]`,
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", timeoutSec)
	for _, f := range filters {
		for _, kind := range []string{"node", "way", "relation"} {
			fmt.Fprintf(&b, "  %s%s%s;\n", kind, around, f)
		}
	}
	b.WriteString(");\nout tags center;")
	return b.String()
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	ID     *int64            `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *overpassCenter   `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type overpassCenter struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Fetch：POST data=<query>，解析 elements
func (o *Overpass) Fetch(ctx context.Context, lat, lon float64, radius int) ([]Item, error) {
	query := BuildOverpassQuery(lat, lon, radius, int(o.Timeout/time.Second))
	body := "data=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("User-Agent", userAgent)

	provider := string(model.SourceOverpass)
	t0 := time.Now()
	metrics.PoiRequestsTotal.WithLabelValues(provider).Inc()
	logger.L().Debug("overpass_req", "endpoint", o.Endpoint, "radius", radius)
	resp, err := o.Client.Do(req)
	if err != nil {
		metrics.PoiFailTotal.WithLabelValues(provider).Inc()
		logger.L().Error("overpass_http_error", "err", err)
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.PoiFailTotal.WithLabelValues(provider).Inc()
		return nil, fmt.Errorf("overpass status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var r overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		metrics.PoiFailTotal.WithLabelValues(provider).Inc()
		logger.L().Error("overpass_decode_error", "err", err)
		return nil, fmt.Errorf("overpass decode: %w", err)
	}
	dur := time.Since(t0).Milliseconds()
	metrics.PoiDurationMs.WithLabelValues(provider).Observe(float64(dur))
	items := parseElements(r.Elements)
	logger.L().Info("overpass_resp", "elements", len(r.Elements), "items", len(items), "duration_ms", dur)
	return items, nil
}

// parseElements：node 取自身坐标，way/relation 取 center；缺坐标或缺 type/id 的跳过
func parseElements(elements []overpassElement) []Item {
	items := make([]Item, 0, len(elements))
	for _, el := range elements {
		if el.Type == "" || el.ID == nil {
			continue
		}
		lat, lon := el.Lat, el.Lon
		if (lat == nil || lon == nil) && el.Center != nil {
			lat, lon = el.Center.Lat, el.Center.Lon
		}
		if lat == nil || lon == nil {
			continue
		}
		name := strings.TrimSpace(el.Tags["name"])
		if name == "" {
			name = fmt.Sprintf("%s:%d", el.Type, *el.ID)
		}
		items = append(items, Item{
			ExternalID: fmt.Sprintf("%s/%d", el.Type, *el.ID),
			Name:       name,
			Category:   InferCategory(el.Tags),
			Latitude:   *lat,
			Longitude:  *lon,
			Address:    joinAddress(el.Tags["addr:city"], el.Tags["addr:district"], el.Tags["addr:street"], el.Tags["addr:housenumber"]),
		})
	}
	return items
}
