package visit

import (
	"context"
	"fmt"
	"time"

	"wifi-ad-beacon/internal/geo"
	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/metrics"
	"wifi-ad-beacon/internal/model"
)

// DeviceTx：单个设备在一次串行化区间内可用的读写操作
type DeviceTx interface {
	// Load 读取（不存在则创建）设备状态，Current/CurrentVenue/PendingVenue 已解析
	Load(ctx context.Context) (State, error)
	CreateSegment(ctx context.Context, seg model.VisitSegment) (int64, error)
	ExtendSegment(ctx context.Context, seg model.VisitSegment) error
	CloseSegment(ctx context.Context, seg model.VisitSegment) error
	SaveState(ctx context.Context, st State) error
}

// 文档注释：设备/分段存储契约
// 约束：WithDevice 对同一 deviceKey 互斥执行 fn；fn 返回错误时其写入全部回滚。
type Store interface {
	WithDevice(ctx context.Context, deviceKey string, fn func(tx DeviceTx) error) error
	// IdleDevices 返回持有打开分段且 LastPingAt 早于 cutoff 的设备
	IdleDevices(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	SegmentsForDevice(ctx context.Context, deviceKey string, limit int) ([]model.VisitSegment, error)
}

// VenueMatcher：按坐标匹配最近场所
type VenueMatcher interface {
	Match(ctx context.Context, lat, lon float64) (*geo.Match, error)
}

// SessionRecorder：心跳时顺带刷新 Portal 会话（尽力而为）
type SessionRecorder interface {
	TouchSessionLocation(ctx context.Context, ip, userAgent string, lat, lon float64, accuracy *int, now time.Time) error
}

// PingRequest：一次心跳输入
type PingRequest struct {
	DeviceKey      string
	IPAddress      string
	UserAgent      string
	Latitude       *float64
	Longitude      *float64
	AccuracyMeters *int
	Event          Event
	Now            time.Time
}

// 文档注释：心跳的可观测结果
// 约束：仅供观测；Pending 为 true 时 PendingVenue/PendingCount 有意义（PendingVenue 为 nil 表示候选为未知场所）。
type Result struct {
	DeviceKey      string
	Event          Event
	Venue          *VenueRef
	DistanceMeters *int
	SegmentID      *int64
	Pending        bool
	PendingVenue   *VenueRef
	PendingCount   int
	Switched       bool
}

// Service：匹配 → 串行化 → 状态机 → 写回
type Service struct {
	store    Store
	matcher  VenueMatcher
	sessions SessionRecorder
	cfg      Config
	now      func() time.Time
}

func NewService(store Store, matcher VenueMatcher, sessions SessionRecorder, cfg Config) *Service {
	return &Service{store: store, matcher: matcher, sessions: sessions, cfg: cfg, now: time.Now}
}

// 文档注释：处理一次心跳
// 背景：场所匹配在设备锁外完成，锁内只做状态读改写，缩短持锁时间。
// 返回：匹配或存储失败时整体返回错误，不做内部重试。
func (s *Service) Ping(ctx context.Context, req PingRequest) (Result, error) {
	start := time.Now()
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}
	if req.Event == "" {
		req.Event = EventPing
	}
	in := Input{Now: now, Event: req.Event, Source: model.VisitUnknown}
	if req.Latitude != nil && req.Longitude != nil {
		in.Source = model.VisitGeolocation
		if s.matcher != nil {
			m, err := s.matcher.Match(ctx, *req.Latitude, *req.Longitude)
			if err != nil {
				metrics.VenueMatchTotal.WithLabelValues("error").Inc()
				return Result{}, fmt.Errorf("match venue: %w", err)
			}
			if m != nil {
				metrics.VenueMatchTotal.WithLabelValues("hit").Inc()
				in.Venue = &VenueRef{ID: m.Venue.ID, Name: m.Venue.Name}
				d := m.DistanceMeters
				in.Distance = &d
			} else {
				metrics.VenueMatchTotal.WithLabelValues("miss").Inc()
			}
		}
		if s.sessions != nil && req.IPAddress != "" {
			if err := s.sessions.TouchSessionLocation(ctx, req.IPAddress, req.UserAgent, *req.Latitude, *req.Longitude, req.AccuracyMeters, now); err != nil {
				logger.L().Warn("ping_session_touch_failed", "ip", req.IPAddress, "err", err)
			}
		}
	}

	var res Result
	err := s.store.WithDevice(ctx, req.DeviceKey, func(tx DeviceTx) error {
		st, err := tx.Load(ctx)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		st.DeviceKey = req.DeviceKey
		next, out := Step(s.cfg, st, in)
		if err := persist(ctx, tx, &next, out); err != nil {
			return err
		}
		res = buildResult(next, out, in)
		if out.Reaped {
			metrics.SegmentReapedTotal.WithLabelValues("ping").Inc()
		}
		if out.Switched {
			metrics.SegmentSwitchTotal.Inc()
		}
		if out.Opened != nil {
			metrics.SegmentOpenedTotal.Inc()
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	metrics.PingsTotal.WithLabelValues(string(req.Event)).Inc()
	metrics.PingDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	logger.L().Debug("ping_done", "device_key", req.DeviceKey, "event", req.Event, "switched", res.Switched, "pending", res.PendingCount)
	return res, nil
}

// persist：先关闭再开段，保证任意时刻至多一个打开分段
func persist(ctx context.Context, tx DeviceTx, next *State, out Outcome) error {
	for _, seg := range out.Closed {
		if err := tx.CloseSegment(ctx, seg); err != nil {
			return fmt.Errorf("close segment %d: %w", seg.ID, err)
		}
	}
	if out.Extended != nil {
		if err := tx.ExtendSegment(ctx, *out.Extended); err != nil {
			return fmt.Errorf("extend segment %d: %w", out.Extended.ID, err)
		}
	}
	if out.Opened != nil {
		id, err := tx.CreateSegment(ctx, *out.Opened)
		if err != nil {
			return fmt.Errorf("create segment: %w", err)
		}
		next.Current.ID = id
	}
	if err := tx.SaveState(ctx, *next); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func buildResult(next State, out Outcome, in Input) Result {
	res := Result{DeviceKey: next.DeviceKey, Event: in.Event, Switched: out.Switched}
	if out.Left {
		return res
	}
	res.Venue = next.CurrentVenue
	if in.Distance != nil {
		d := int(*in.Distance)
		res.DistanceMeters = &d
	}
	if next.Current != nil {
		id := next.Current.ID
		res.SegmentID = &id
	}
	if next.PendingCount > 0 {
		res.Pending = true
		res.PendingVenue = next.PendingVenue
		res.PendingCount = next.PendingCount
	}
	return res
}

// Timeline：设备最近的分段，新到旧
func (s *Service) Timeline(ctx context.Context, deviceKey string, limit int) ([]model.VisitSegment, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}
	segs, err := s.store.SegmentsForDevice(ctx, deviceKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	return segs, nil
}
