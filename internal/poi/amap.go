package poi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"wifi-ad-beacon/internal/geo"
	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/metrics"
	"wifi-ad-beacon/internal/model"
)

const (
	DefaultAMapBase = "https://restapi.amap.com"
	// 餐饮|购物|住宿
	amapTypes = "050000|060000|100000"
)

// 文档注释：高德周边搜索数据源
// 背景：高德坐标为 GCJ-02，请求前把圆心转为 GCJ-02，入库前把结果转回 WGS84。
// 约束：按页串行拉取并限速，避免触发 QPS 配额；status!="1" 视为失败。
type AMap struct {
	Key      string
	BaseURL  string
	Client   *http.Client
	PageSize int
	MaxPages int
	limiter  *rate.Limiter
}

// NewAMap：qps<=0 时默认 3
func NewAMap(key string, qps float64) *AMap {
	if qps <= 0 {
		qps = 3
	}
	return &AMap{
		Key:      key,
		BaseURL:  DefaultAMapBase,
		Client:   &http.Client{Timeout: 5 * time.Second},
		PageSize: 25,
		MaxPages: 40,
		limiter:  rate.NewLimiter(rate.Limit(qps), 1),
	}
}

func (a *AMap) Source() model.VenueSource { return model.SourceAMap }

// amapText：高德在字段为空时返回 []，其余情况为字符串
type amapText string

func (t *amapText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = amapText(s)
		return nil
	}
	*t = ""
	return nil
}

type amapAroundResponse struct {
	Status   string    `json:"status"`
	Info     string    `json:"info"`
	Infocode string    `json:"infocode"`
	Count    string    `json:"count"`
	Pois     []amapPOI `json:"pois"`
}

type amapPOI struct {
	ID       string   `json:"id"`
	Name     amapText `json:"name"`
	Typecode amapText `json:"typecode"`
	Address  amapText `json:"address"`
	Location amapText `json:"location"`
	CityName amapText `json:"cityname"`
	AdName   amapText `json:"adname"`
}

// Fetch：分页拉取 /v3/place/around，直到页不满、达到 count 或页数上限
func (a *AMap) Fetch(ctx context.Context, lat, lon float64, radius int) ([]Item, error) {
	if a.Key == "" {
		return nil, errors.New("missing amap key")
	}
	glat, glon := geo.WGS84ToGCJ02(lat, lon)
	var items []Item
	seen := make(map[string]struct{})
	for page := 1; page <= a.MaxPages; page++ {
		r, err := a.page(ctx, glat, glon, radius, page)
		if err != nil {
			return nil, err
		}
		for _, p := range r.Pois {
			it, ok := amapItem(p)
			if !ok {
				continue
			}
			if _, dup := seen[it.ExternalID]; dup {
				continue
			}
			seen[it.ExternalID] = struct{}{}
			items = append(items, it)
		}
		total, _ := strconv.Atoi(r.Count)
		if len(r.Pois) < a.PageSize || page*a.PageSize >= total {
			break
		}
	}
	logger.L().Info("amap_around_done", "items", len(items))
	return items, nil
}

func (a *AMap) page(ctx context.Context, glat, glon float64, radius, page int) (*amapAroundResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("key", a.Key)
	q.Set("location", fmt.Sprintf("%.6f,%.6f", glon, glat))
	q.Set("radius", strconv.Itoa(radius))
	q.Set("types", amapTypes)
	q.Set("offset", strconv.Itoa(a.PageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("extensions", "base")
	u := strings.TrimRight(a.BaseURL, "/") + "/v3/place/around?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	provider := string(model.SourceAMap)
	t0 := time.Now()
	metrics.PoiRequestsTotal.WithLabelValues(provider).Inc()
	resp, err := a.Client.Do(req)
	if err != nil {
		metrics.PoiFailTotal.WithLabelValues(provider).Inc()
		logger.L().Error("amap_http_error", "page", page, "err", err)
		return nil, fmt.Errorf("amap request: %w", err)
	}
	defer resp.Body.Close()
	var r amapAroundResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		metrics.PoiFailTotal.WithLabelValues(provider).Inc()
		logger.L().Error("amap_decode_error", "page", page, "err", err)
		return nil, fmt.Errorf("amap decode: %w", err)
	}
	dur := time.Since(t0).Milliseconds()
	metrics.PoiDurationMs.WithLabelValues(provider).Observe(float64(dur))
	logger.L().Debug("amap_resp", "page", page, "status", r.Status, "infocode", r.Infocode, "count", r.Count, "pois", len(r.Pois), "duration_ms", dur)
	if r.Status != "1" {
		metrics.PoiFailTotal.WithLabelValues(provider).Inc()
		return nil, fmt.Errorf("amap error: %s (%s)", r.Info, r.Infocode)
	}
	return &r, nil
}

// amapCategory：typecode 前两位 05 餐饮 / 06 购物 / 10 住宿
func amapCategory(typecode string) model.VenueCategory {
	// typecode 可能是 "050100|060101" 形式，取第一个
	code, _, _ := strings.Cut(typecode, "|")
	switch {
	case strings.HasPrefix(code, "05"):
		return model.CategoryFood
	case strings.HasPrefix(code, "06"):
		return model.CategoryShop
	case strings.HasPrefix(code, "10"):
		return model.CategoryHotel
	}
	return model.CategoryOther
}

func amapItem(p amapPOI) (Item, bool) {
	if p.ID == "" {
		return Item{}, false
	}
	lonText, latText, ok := strings.Cut(string(p.Location), ",")
	if !ok {
		return Item{}, false
	}
	glon, err1 := strconv.ParseFloat(strings.TrimSpace(lonText), 64)
	glat, err2 := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err1 != nil || err2 != nil {
		return Item{}, false
	}
	lat, lon := geo.GCJ02ToWGS84(glat, glon)
	name := strings.TrimSpace(string(p.Name))
	if name == "" {
		name = "amap:" + p.ID
	}
	return Item{
		ExternalID: p.ID,
		Name:       name,
		Category:   amapCategory(string(p.Typecode)),
		Latitude:   lat,
		Longitude:  lon,
		Address:    joinAddress(string(p.CityName), string(p.AdName), string(p.Address)),
	}, true
}
