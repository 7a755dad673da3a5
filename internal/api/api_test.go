package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-ad-beacon/internal/ads"
	"wifi-ad-beacon/internal/cache"
	"wifi-ad-beacon/internal/devicekey"
	"wifi-ad-beacon/internal/geo"
	"wifi-ad-beacon/internal/middleware"
	"wifi-ad-beacon/internal/model"
	"wifi-ad-beacon/internal/portal"
	"wifi-ad-beacon/internal/store/memstore"
	"wifi-ad-beacon/internal/visit"
)

const (
	siteLat = 31.2304
	siteLon = 121.4737
)

type ipKeys struct{}

func (ipKeys) DeviceKey(_ context.Context, ip string) string { return devicekey.FromIP(ip) }

type failingHealth struct{}

func (failingHealth) Ping(context.Context) error { return errors.New("db down") }

type fixture struct {
	st      *memstore.Store
	h       *Handlers
	handler http.Handler
	venue   model.Venue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	_, err := st.UpsertVenue(ctx, model.Venue{Source: model.SourceOverpass, ExternalID: "node/1", Name: "Cafe A", Category: model.CategoryFood, Latitude: siteLat, Longitude: siteLon, IsActive: true})
	require.NoError(t, err)
	radius := 800
	lat, lon := siteLat, siteLon
	_, err = st.UpsertAdByTitle(ctx, model.Advertisement{Title: "geo", ImageURL: "https://img/g.png", TargetURL: "https://t/g", IsActive: true, ActiveHourStart: 0, ActiveHourEnd: 23, TargetOS: model.DeviceAll, TargetLat: &lat, TargetLon: &lon, RadiusMeters: &radius, Weight: 5})
	require.NoError(t, err)
	_, err = st.UpsertAdByTitle(ctx, model.Advertisement{Title: "generic", IsActive: true, ActiveHourStart: 0, ActiveHourEnd: 23, TargetOS: model.DeviceAll, IsGeneric: true, Weight: 1})
	require.NoError(t, err)

	matcher := geo.NewMatcher(st, 120)
	h := &Handlers{
		Visits: visit.NewService(st, matcher, st, visit.DefaultConfig()),
		Ads:    ads.NewSelector(st, ads.NewFrequencyCap(cache.NewLRU(0), 10*time.Minute, 3), ads.DefaultSelectorConfig()),
		Portal: portal.NewService(st, matcher, nil, ""),
		Keys:   ipKeys{},
		Stats:  st,
		Health: st,
	}
	return &fixture{st: st, h: h, handler: NewRouter("/api", h), venue: st.Venues()[0]}
}

func (f *fixture) do(t *testing.T, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "192.168.4.20:50000"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestPingFlow(t *testing.T) {
	f := newFixture(t)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.h.Now = func() time.Time { return clock }

	rec := f.do(t, http.MethodPost, "/api/v1/portal/ping/", `{"latitude":31.2305,"longitude":121.4737,"accuracy_m":15}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode(t, rec)
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, "ip:192.168.4.20", m["device_key"])
	assert.Equal(t, "ping", m["event"])
	assert.Equal(t, "Cafe A", m["venue"])
	assert.EqualValues(t, f.venue.ID, m["venue_id"])
	assert.InDelta(t, 11, m["distance_m"], 1)
	assert.NotNil(t, m["segment_id"])
	assert.Equal(t, false, m["switched"])
	assert.NotContains(t, m, "pending_count")
	segID := m["segment_id"]

	// 无定位：未知场所成为候选，尚未切段
	clock = clock.Add(60 * time.Second)
	m = decode(t, f.do(t, http.MethodPost, "/api/v1/portal/ping", `{}`, nil))
	assert.Equal(t, "Cafe A", m["venue"])
	assert.Nil(t, m["distance_m"])
	assert.EqualValues(t, 1, m["pending_count"])
	assert.NotContains(t, m, "pending_venue")
	assert.Equal(t, segID, m["segment_id"])

	clock = clock.Add(60 * time.Second)
	m = decode(t, f.do(t, http.MethodPost, "/api/v1/portal/ping/", "", nil))
	assert.Nil(t, m["venue"])
	assert.Equal(t, true, m["switched"])
	assert.NotEqual(t, segID, m["segment_id"])

	clock = clock.Add(10 * time.Second)
	m = decode(t, f.do(t, http.MethodPost, "/api/v1/portal/ping/", `{"event":"leave"}`, nil))
	assert.Equal(t, "leave", m["event"])
	assert.Nil(t, m["segment_id"])
	assert.NotContains(t, m, "switched")

	rec = f.do(t, http.MethodGet, "/api/v1/devices/ip:192.168.4.20/segments", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tl struct {
		DeviceKey string            `json:"device_key"`
		Segments  []segmentResponse `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tl))
	assert.Equal(t, "ip:192.168.4.20", tl.DeviceKey)
	require.Len(t, tl.Segments, 2)
	assert.False(t, tl.Segments[0].IsOpen)
	assert.Nil(t, tl.Segments[0].VenueID)
	assert.Equal(t, int64(10), tl.Segments[0].DurationSec)
	assert.Equal(t, int64(120), tl.Segments[1].DurationSec)

	m = decode(t, f.do(t, http.MethodGet, "/api/v1/stats", "", nil))
	assert.EqualValues(t, 4, m["pings"])
	assert.EqualValues(t, 0, m["impressions"])

	sess, err := f.st.Session(context.Background(), "192.168.4.20")
	require.NoError(t, err)
	require.NotNil(t, sess.AccuracyMeters)
	assert.Equal(t, 15, *sess.AccuracyMeters)
}

func TestPingValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		body  string
		field string
	}{
		{`{"latitude":31.2}`, "latitude"},
		{`{"longitude":121.4}`, "latitude"},
		{`{"latitude":91,"longitude":121.4}`, "latitude"},
		{`{"latitude":31.2,"longitude":-181}`, "longitude"},
		{`{"event":"jump"}`, "event"},
		{`{"accuracy_m":-1}`, "accuracy_m"},
		{`{"latitude":31.2,"longitude":121.4,"coord_sys":"mars"}`, "coord_sys"},
		{`{"latitude":`, ""},
	}
	for _, c := range cases {
		rec := f.do(t, http.MethodPost, "/api/v1/portal/ping/", c.body, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, c.body)
		m := decode(t, rec)
		if c.field == "" {
			assert.NotContains(t, m, "field")
		} else {
			assert.Equal(t, c.field, m["field"], c.body)
		}
	}
	_, ok := f.st.DeviceState("ip:192.168.4.20")
	assert.False(t, ok)
}

func TestPingGCJ02Input(t *testing.T) {
	f := newFixture(t)
	glat, glon := geo.WGS84ToGCJ02(siteLat, siteLon)
	body, _ := json.Marshal(map[string]any{"latitude": glat, "longitude": glon, "coord_sys": "GCJ-02"})
	m := decode(t, f.do(t, http.MethodPost, "/api/v1/portal/ping/", string(body), nil))
	assert.Equal(t, "Cafe A", m["venue"])
	assert.InDelta(t, 0, m["distance_m"], 10)
}

func TestAdRecommend(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/ad-recommend/", `{"latitude":31.2304,"longitude":121.4737,"user_agent":"Mozilla/5.0 (iPhone)","local_time":9}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode(t, rec)
	assert.Equal(t, "geo", m["title"])
	assert.Equal(t, "https://img/g.png", m["image_url"])
	assert.Equal(t, "https://t/g", m["target_url"])
	assert.EqualValues(t, 0, m["click_count"])

	// 无坐标：地理广告不参与，走通用池
	m = decode(t, f.do(t, http.MethodPost, "/api/v1/ad-recommend/", `{"user_agent":"Mozilla/5.0 (Linux; Android 14)"}`, nil))
	assert.Equal(t, "generic", m["title"])

	// 只有纬度时忽略坐标
	m = decode(t, f.do(t, http.MethodPost, "/api/v1/ad-recommend/", `{"latitude":31.2304,"user_agent":"curl"}`, nil))
	assert.Equal(t, "generic", m["title"])

	m = decode(t, f.do(t, http.MethodGet, "/api/v1/stats", "", nil))
	assert.EqualValues(t, 3, m["impressions"])
	assert.EqualValues(t, 3, m["today_impressions"])
}

func TestAdRecommendValidationAndNoContent(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/ad-recommend/", `{"local_time":9}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user_agent", decode(t, rec)["field"])

	rec = f.do(t, http.MethodPost, "/api/v1/ad-recommend/", `{"user_agent":"x","local_time":24}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "local_time", decode(t, rec)["field"])

	empty := newFixture(t)
	empty.h.Ads = ads.NewSelector(memstore.New(), nil, ads.DefaultSelectorConfig())
	rec = empty.do(t, http.MethodPost, "/api/v1/ad-recommend/", `{"user_agent":"x","local_time":3}`, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestPortalAccept(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/portal/accept/", `{"latitude":31.2305,"longitude":121.4737,"accuracy_m":20}`,
		map[string]string{"User-Agent": "Mozilla/5.0 (iPhone)", "X-Forwarded-For": "10.0.0.8, 172.16.0.1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode(t, rec)
	assert.Equal(t, "10.0.0.8", m["ip_address"])
	assert.Equal(t, true, m["is_authenticated"])
	assert.NotEmpty(t, m["first_seen"])
	assert.Equal(t, "Cafe A", m["venue"])
	assert.InDelta(t, 11, m["venue_distance_m"], 1)
	assert.NotContains(t, m, "venue_match_error")

	sess, err := f.st.Session(context.Background(), "10.0.0.8")
	require.NoError(t, err)
	assert.True(t, sess.IsAuthenticated)
	assert.Equal(t, "Mozilla/5.0 (iPhone)", sess.UserAgent)

	m = decode(t, f.do(t, http.MethodPost, "/api/v1/portal/accept/", "", nil))
	assert.Equal(t, "192.168.4.20", m["ip_address"])
	assert.NotContains(t, m, "venue")
}

type brokenFinder struct{}

func (brokenFinder) ActiveVenuesInBox(context.Context, geo.BBox) ([]model.Venue, error) {
	return nil, errors.New("db down")
}

func TestPortalAcceptVenueFailureIsSecondary(t *testing.T) {
	f := newFixture(t)
	f.h.Portal = portal.NewService(f.st, geo.NewMatcher(brokenFinder{}, 120), nil, "")
	rec := f.do(t, http.MethodPost, "/api/v1/portal/accept/", `{"latitude":31.2305,"longitude":121.4737}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, true, m["is_authenticated"])
	assert.Equal(t, "venue match failed", m["venue_match_error"])
}

func TestSegmentsValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/devices/ip:1.2.3.4/segments?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/devices/ip%3A1.2.3.4/segments", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, "ip:1.2.3.4", m["device_key"])
	assert.Empty(t, m["segments"])
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	f.h.Health = failingHealth{}
	rec = f.do(t, http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "beacon_ad_requests_total")
}

func TestAdminAllowList(t *testing.T) {
	f := newFixture(t)
	allow, err := middleware.NewAllowList([]string{"127.0.0.1"})
	require.NoError(t, err)
	f.h.Admin = allow
	f.handler = NewRouter("/api", f.h)

	// fixture 的 RemoteAddr 为 192.168.4.20
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/stats", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/metrics", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/devices/ip:1.2.3.4/segments", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/portal/ping/", "{}", nil).Code)
}

func TestRouterBaseVariants(t *testing.T) {
	f := newFixture(t)
	for _, base := range []string{"", "/", "/portal-api/"} {
		h := NewRouter(base, f.h)
		path := strings.TrimRight("/"+strings.Trim(base, "/"), "/") + "/healthz"
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, base)
	}
}
