// 包 api：HTTP 接口层，负责解析与校验请求、调用服务并序列化结果
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"wifi-ad-beacon/internal/ads"
	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/metrics"
	"wifi-ad-beacon/internal/middleware"
	"wifi-ad-beacon/internal/model"
	"wifi-ad-beacon/internal/portal"
	"wifi-ad-beacon/internal/visit"
)

// DeviceKeyer：由客户端 IP 推导设备键
type DeviceKeyer interface {
	DeviceKey(ctx context.Context, ip string) string
}

// Stats：请求计数（累计与按日）
type Stats interface {
	IncrStats(ctx context.Context, kind string) error
	GetTotals(ctx context.Context) (*model.Totals, error)
}

// Pinger：健康检查依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers：接口依赖集合，由主入口装配
type Handlers struct {
	Visits *visit.Service
	Ads    *ads.Selector
	Portal *portal.Service
	Keys   DeviceKeyer
	Stats  Stats
	Health Pinger
	// Admin 为空时管理接口不限来源
	Admin *middleware.AllowList
	Now   func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// count：统计失败不影响主流程
func (h *Handlers) count(ctx context.Context, kind string) {
	if h.Stats == nil {
		return
	}
	if err := h.Stats.IncrStats(ctx, kind); err != nil {
		logger.L().Warn("stats_incr_error", "kind", kind, "err", err)
	}
}

// 文档注释：POST /v1/portal/ping/
// 背景：前端每 60 秒上报一次；event=leave 用于页面关闭时尽量收口当前分段。
func (h *Handlers) ping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lat, lon, err := req.normalize()
	if err != nil {
		writeError(w, err)
		return
	}
	ev := visit.EventPing
	if req.Event != nil {
		if ev, err = visit.ParseEvent(*req.Event); err != nil {
			writeError(w, invalid("event", "must be ping or leave"))
			return
		}
	}
	ip := middleware.ClientIP(r)
	if ip == "" {
		writeError(w, invalid("", "client ip unavailable"))
		return
	}
	key := h.Keys.DeviceKey(ctx, ip)
	res, err := h.Visits.Ping(ctx, visit.PingRequest{
		DeviceKey:      key,
		IPAddress:      ip,
		UserAgent:      r.UserAgent(),
		Latitude:       lat,
		Longitude:      lon,
		AccuracyMeters: req.AccuracyMeters,
		Event:          ev,
		Now:            h.now(),
	})
	if err != nil {
		logger.L().Error("ping_failed", "device_key", key, "err", err)
		writeError(w, err)
		return
	}
	h.count(ctx, model.StatPing)
	writeJSON(w, http.StatusOK, toPingResponse(res))
}

func toPingResponse(res visit.Result) pingResponse {
	out := pingResponse{OK: true, DeviceKey: res.DeviceKey, Event: string(res.Event), DistanceM: res.DistanceMeters, SegmentID: res.SegmentID}
	if res.Venue != nil {
		name, id := res.Venue.Name, res.Venue.ID
		out.Venue, out.VenueID = &name, &id
	}
	if res.Event == visit.EventLeave {
		return out
	}
	switched := res.Switched
	out.Switched = &switched
	if res.Pending {
		n := res.PendingCount
		out.PendingCount = &n
		if res.PendingVenue != nil {
			name := res.PendingVenue.Name
			out.PendingVenue = &name
		}
	}
	return out
}

// 文档注释：POST /v1/ad-recommend/
// 约束：user_agent 必填；local_time 须在 0-23；经纬度仅在两者都给出时参与地理定向；无广告返回 204。
func (h *Handlers) recommend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metrics.AdRequestsTotal.Inc()
	var req adRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserAgent == "" {
		writeError(w, invalid("user_agent", "required"))
		return
	}
	if req.LocalTime != nil && (*req.LocalTime < 0 || *req.LocalTime > 23) {
		writeError(w, invalid("local_time", "must be between 0 and 23"))
		return
	}
	var lat, lon *float64
	if req.Latitude != nil && req.Longitude != nil {
		var err error
		lat, lon, err = locationFields{Latitude: req.Latitude, Longitude: req.Longitude, CoordSys: req.CoordSys}.normalize()
		if err != nil {
			writeError(w, err)
			return
		}
	}
	ip := middleware.ClientIP(r)
	ad, err := h.Ads.Select(ctx, ads.Request{
		Now:       h.now(),
		Latitude:  lat,
		Longitude: lon,
		LocalHour: req.LocalTime,
		OS:        ads.DetectOS(req.UserAgent),
		ClientKey: ads.ClientKey(ip, req.UserAgent),
	})
	if err != nil {
		logger.L().Error("ad_select_failed", "err", err)
		writeError(w, err)
		return
	}
	if ad == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.count(ctx, model.StatImpression)
	writeJSON(w, http.StatusOK, adResponse{ID: ad.ID, Title: ad.Title, ImageURL: ad.ImageURL, TargetURL: ad.TargetURL, ClickCount: ad.ClickCount})
}

// 文档注释：POST /v1/portal/accept/
// 返回：会话写入成功即 200；场所匹配失败只在 venue_match_error 中体现。
func (h *Handlers) accept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lat, lon, err := req.normalize()
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Portal.Accept(r.Context(), portal.AcceptRequest{
		IPAddress:      middleware.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Latitude:       lat,
		Longitude:      lon,
		AccuracyMeters: req.AccuracyMeters,
		Now:            h.now(),
	})
	if errors.Is(err, portal.ErrNoClientIP) {
		writeError(w, invalid("", "client ip unavailable"))
		return
	}
	if err != nil {
		logger.L().Error("portal_accept_failed", "err", err)
		writeError(w, err)
		return
	}
	s := res.Session
	out := acceptResponse{IPAddress: s.IPAddress, IsAuthenticated: s.IsAuthenticated, FirstSeen: s.FirstSeen, LastSeen: s.LastSeen}
	if v := res.Venue.Venue; v != nil {
		name, id := v.Name, v.ID
		out.Venue, out.VenueID, out.VenueDistanceM = &name, &id, res.Venue.Distance
	}
	if res.Venue.Err != nil {
		out.VenueMatchError = "venue match failed"
	}
	writeJSON(w, http.StatusOK, out)
}

// segments：GET /v1/devices/{deviceKey}/segments?limit=N
func (h *Handlers) segments(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "deviceKey"))
	if err != nil || key == "" {
		writeError(w, invalid("deviceKey", "invalid"))
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			writeError(w, invalid("limit", "must be a non-negative integer"))
			return
		}
	}
	segs, err := h.Visits.Timeline(r.Context(), key, limit)
	if err != nil {
		logger.L().Error("timeline_failed", "device_key", key, "err", err)
		writeError(w, err)
		return
	}
	out := make([]segmentResponse, 0, len(segs))
	for _, s := range segs {
		out = append(out, segmentResponse{
			ID: s.ID, VenueID: s.VenueID, Source: string(s.Source),
			StartAt: s.StartAt, EndAt: s.EndAt, IsOpen: s.IsOpen,
			DurationSec: int64(s.EndAt.Sub(s.StartAt) / time.Second),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_key": key, "segments": out})
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	t, err := h.Stats.GetTotals(r.Context())
	if err != nil {
		logger.L().Error("stats_read_error", "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Pings: t.Pings, Impressions: t.Impressions, TodayPings: t.TodayPings, TodayImpressions: t.TodayImpressions})
}

func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			logger.L().Warn("health_check_failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
