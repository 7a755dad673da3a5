package ads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-ad-beacon/internal/model"
)

type fakeAds struct {
	ads      []model.Advertisement
	err      error
	lastHour int
	lastOS   model.DeviceOS
}

func (f *fakeAds) EligibleAds(_ context.Context, hour int, os model.DeviceOS) ([]model.Advertisement, error) {
	f.lastHour = hour
	f.lastOS = os
	return f.ads, f.err
}

func genericAd(id int64, weight float64) model.Advertisement {
	return model.Advertisement{ID: id, Title: "g", IsActive: true, ActiveHourStart: 0, ActiveHourEnd: 23, TargetOS: model.DeviceAll, IsGeneric: true, Weight: weight}
}

func geoAd(id int64, weight float64, lat, lon float64, radius int) model.Advertisement {
	return model.Advertisement{ID: id, Title: "geo", IsActive: true, ActiveHourStart: 0, ActiveHourEnd: 23, TargetOS: model.DeviceAll,
		TargetLat: &lat, TargetLon: &lon, RadiusMeters: &radius, Weight: weight}
}

func hourPtr(h int) *int { return &h }

func newTestSelector(ads []model.Advertisement) (*Selector, *fakeAds, *mapCache) {
	f := &fakeAds{ads: ads}
	c := newMapCache()
	s := NewSelector(f, NewFrequencyCap(c, 10*time.Minute, 3), DefaultSelectorConfig())
	return s, f, c
}

func TestSelectGenericByWeightWithFrequencyCap(t *testing.T) {
	iosOnly := genericAd(2, 10)
	iosOnly.IsGeneric = false
	iosOnly.TargetOS = model.DeviceIOS
	s, f, _ := newTestSelector([]model.Advertisement{iosOnly, genericAd(1, 100)})
	ctx := context.Background()
	req := Request{LocalHour: hourPtr(9), OS: DetectOS("Mozilla/5.0 (iPhone)"), ClientKey: ClientKey("10.0.0.9", "iPhone")}

	ad, err := s.Select(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, ad)
	assert.Equal(t, int64(1), ad.ID)
	assert.Equal(t, 9, f.lastHour)
	assert.Equal(t, model.DeviceIOS, f.lastOS)

	// 最近展示过的被排除，仍有替代
	ad, err = s.Select(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ad.ID)

	// 全部都在最近列表中：回退到未过滤集合
	ad, err = s.Select(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ad.ID)
}

func TestSelectFiltersTimeAndOS(t *testing.T) {
	androidOnly := genericAd(1, 50)
	androidOnly.TargetOS = model.DeviceAndroid
	night := genericAd(2, 40)
	night.ActiveHourStart, night.ActiveHourEnd = 18, 2
	inactive := genericAd(3, 90)
	inactive.IsActive = false
	s, _, _ := newTestSelector([]model.Advertisement{androidOnly, night, inactive})
	ctx := context.Background()

	ad, err := s.Select(ctx, Request{LocalHour: hourPtr(12), OS: model.DeviceIOS, ClientKey: "k"})
	require.NoError(t, err)
	assert.Nil(t, ad)

	ad, err = s.Select(ctx, Request{LocalHour: hourPtr(1), OS: model.DeviceIOS, ClientKey: "k"})
	require.NoError(t, err)
	require.NotNil(t, ad)
	assert.Equal(t, int64(2), ad.ID)
}

func TestSelectGeoPrefersScore(t *testing.T) {
	lat, lon := 31.2304, 121.4737
	heavy := geoAd(5, 10, lat+0.003, lon, 800) // ~333m 内，高权重
	light := geoAd(4, 5, lat, lon, 800)        // 正中心，低权重
	s, _, _ := newTestSelector([]model.Advertisement{light, heavy, genericAd(1, 1000)})

	ad, err := s.Select(context.Background(), Request{Latitude: &lat, Longitude: &lon, LocalHour: hourPtr(9), OS: model.DeviceAll, ClientKey: "a"})
	require.NoError(t, err)
	require.NotNil(t, ad)
	// 10*10 + ~0.58*5 > 5*10 + 5
	assert.Equal(t, int64(5), ad.ID)
}

func TestSelectGeoTieBreaksOnLowestID(t *testing.T) {
	lat, lon := 31.2304, 121.4737
	s, _, _ := newTestSelector([]model.Advertisement{geoAd(8, 3, lat, lon, 500), geoAd(6, 3, lat, lon, 500)})
	ad, err := s.Select(context.Background(), Request{Latitude: &lat, Longitude: &lon, LocalHour: hourPtr(9), OS: model.DeviceAll, ClientKey: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), ad.ID)
}

func TestSelectGeoOutOfRadiusFallsBackToGeneric(t *testing.T) {
	lat, lon := 31.2304, 121.4737
	farAd := geoAd(5, 10, lat+0.01, lon, 500) // ~1.1km，超出半径
	s, _, _ := newTestSelector([]model.Advertisement{farAd, genericAd(2, 1)})

	ad, err := s.Select(context.Background(), Request{Latitude: &lat, Longitude: &lon, LocalHour: hourPtr(9), OS: model.DeviceAll, ClientKey: "a"})
	require.NoError(t, err)
	require.NotNil(t, ad)
	assert.Equal(t, int64(2), ad.ID)

	// 无坐标时地理广告不进入通用池
	s2, _, _ := newTestSelector([]model.Advertisement{farAd})
	ad, err = s2.Select(context.Background(), Request{LocalHour: hourPtr(9), OS: model.DeviceAll, ClientKey: "a"})
	require.NoError(t, err)
	assert.Nil(t, ad)
}

func TestSelectGeoAdMarkedGenericJoinsGenericPool(t *testing.T) {
	lat, lon := 31.2304, 121.4737
	both := geoAd(3, 7, lat, lon, 500)
	both.IsGeneric = true
	s, _, _ := newTestSelector([]model.Advertisement{both, genericAd(2, 1)})
	ad, err := s.Select(context.Background(), Request{LocalHour: hourPtr(9), OS: model.DeviceAll, ClientKey: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ad.ID)
}

func TestSelectStoreErrorPropagates(t *testing.T) {
	s, f, _ := newTestSelector(nil)
	f.err = errors.New("db down")
	_, err := s.Select(context.Background(), Request{LocalHour: hourPtr(9), ClientKey: "a"})
	assert.ErrorContains(t, err, "db down")
}

func TestSelectCacheErrorDegrades(t *testing.T) {
	s, _, c := newTestSelector([]model.Advertisement{genericAd(1, 1)})
	c.getErr = errCache
	ad, err := s.Select(context.Background(), Request{LocalHour: hourPtr(9), OS: model.DeviceAll, ClientKey: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ad.ID)
}

func TestSelectorHourFromLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	s := NewSelector(&fakeAds{}, nil, SelectorConfig{Location: loc})
	now := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, 7, s.Hour(Request{Now: now}))
	assert.Equal(t, 3, s.Hour(Request{Now: now, LocalHour: hourPtr(3)}))
}

func TestScore(t *testing.T) {
	s := NewSelector(&fakeAds{}, nil, DefaultSelectorConfig())
	assert.InDelta(t, 15.0, s.Score(1, 0, 100), 1e-9)
	assert.InDelta(t, 10.0, s.Score(1, 100, 100), 1e-9)
	assert.InDelta(t, 12.5, s.Score(1, 50, 100), 1e-9)
}
