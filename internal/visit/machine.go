// 包 visit：设备停留分段状态机（防抖切段、超时闭段）及其持久化编排
package visit

import (
	"fmt"
	"strings"
	"time"

	"wifi-ad-beacon/internal/model"
)

// Event：心跳事件类型
type Event string

const (
	EventPing  Event = "ping"
	EventLeave Event = "leave"
)

// ParseEvent：空串视为 ping；其他未知值返回错误
func ParseEvent(s string) (Event, error) {
	switch Event(strings.ToLower(strings.TrimSpace(s))) {
	case "", EventPing:
		return EventPing, nil
	case EventLeave:
		return EventLeave, nil
	}
	return "", fmt.Errorf("unknown event %q", s)
}

// Config：状态机参数
type Config struct {
	// SwitchConfirmations 为切段所需的连续命中次数，小于 1 时按 1 处理
	SwitchConfirmations int
	InactivityTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{SwitchConfirmations: 2, InactivityTimeout: 150 * time.Second}
}

func (c Config) confirmations() int {
	if c.SwitchConfirmations < 1 {
		return 1
	}
	return c.SwitchConfirmations
}

// VenueRef：状态中引用的场所；nil 表示未知场所
type VenueRef struct {
	ID   int64
	Name string
}

// sameVenue：两者皆为 nil 也视为相同
func sameVenue(a, b *VenueRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

// 文档注释：单个设备的状态机状态
// 约束：Current 非空时必为打开的分段；PendingCount>0 时 PendingVenue 为正在确认的候选（可为 nil 表示未知场所）。
type State struct {
	DeviceKey    string
	Current      *model.VisitSegment
	CurrentVenue *VenueRef
	PendingVenue *VenueRef
	PendingCount int
	LastPingAt   *time.Time
}

// Phase：NoSegment / Stable / PendingSwitch
func (s State) Phase() string {
	switch {
	case s.Current == nil:
		return "no_segment"
	case s.PendingCount > 0:
		return "pending_switch"
	}
	return "stable"
}

func (s State) clone() State {
	out := s
	if s.Current != nil {
		seg := *s.Current
		out.Current = &seg
	}
	return out
}

func (s *State) reset() {
	s.Current = nil
	s.CurrentVenue = nil
	s.PendingVenue = nil
	s.PendingCount = 0
}

// Input：一次心跳
type Input struct {
	Now      time.Time
	Venue    *VenueRef
	Distance *float64
	Source   model.VisitSource
	Event    Event
}

// 文档注释：一步转移产生的副作用与可观测结果
// 约束：Closed 中的分段已置 IsOpen=false；Opened 尚未持久化（ID 为 0），写回后由调用方回填到新状态的 Current。
type Outcome struct {
	Closed   []model.VisitSegment
	Extended *model.VisitSegment
	Opened   *model.VisitSegment
	Reaped   bool
	Switched bool
	Left     bool
}

// 文档注释：超时闭段
// 背景：距上次心跳超过阈值时，用 LastPingAt 而非 now 收口，避免把空档计入停留。
// 返回：是否发生了重置；有打开分段时附带被关闭的分段。
func Reap(cfg Config, st State, now time.Time) (State, *model.VisitSegment, bool) {
	if st.LastPingAt == nil || now.Sub(*st.LastPingAt) <= cfg.InactivityTimeout {
		return st, nil, false
	}
	next := st.clone()
	var closed *model.VisitSegment
	if next.Current != nil && next.Current.IsOpen {
		seg := *next.Current
		closeSegment(&seg, *st.LastPingAt)
		closed = &seg
	}
	next.reset()
	return next, closed, true
}

// 文档注释：状态机单步转移（纯函数）
// 约束：规则按顺序求值：超时闭段 → leave → 无分段开段 → 同场所延长 → 不同场所防抖/切段。
func Step(cfg Config, st State, in Input) (State, Outcome) {
	var out Outcome
	next, reaped, ok := Reap(cfg, st, in.Now)
	if ok {
		out.Reaped = true
		if reaped != nil {
			out.Closed = append(out.Closed, *reaped)
		}
	} else {
		next = st.clone()
	}
	now := in.Now

	if in.Event == EventLeave {
		if next.Current != nil && next.Current.IsOpen {
			seg := *next.Current
			closeSegment(&seg, now)
			out.Closed = append(out.Closed, seg)
		}
		next.reset()
		next.LastPingAt = &now
		out.Left = true
		return next, out
	}

	if next.Current == nil || !next.Current.IsOpen {
		seg := newSegment(next.DeviceKey, in, now)
		out.Opened = &seg
		opened := seg
		next.Current = &opened
		next.CurrentVenue = in.Venue
		next.PendingVenue = nil
		next.PendingCount = 0
		next.LastPingAt = &now
		return next, out
	}

	extendSegment(next.Current, now)
	next.LastPingAt = &now

	if sameVenue(next.CurrentVenue, in.Venue) {
		ext := *next.Current
		out.Extended = &ext
		next.PendingVenue = nil
		next.PendingCount = 0
		return next, out
	}

	if next.PendingCount > 0 && sameVenue(next.PendingVenue, in.Venue) {
		next.PendingCount++
	} else {
		next.PendingVenue = in.Venue
		next.PendingCount = 1
	}

	if next.PendingCount < cfg.confirmations() {
		ext := *next.Current
		out.Extended = &ext
		return next, out
	}

	old := *next.Current
	closeSegment(&old, now)
	out.Closed = append(out.Closed, old)
	seg := newSegment(next.DeviceKey, in, now)
	out.Opened = &seg
	opened := seg
	next.Current = &opened
	next.CurrentVenue = in.Venue
	next.PendingVenue = nil
	next.PendingCount = 0
	out.Switched = true
	return next, out
}

func newSegment(deviceKey string, in Input, now time.Time) model.VisitSegment {
	seg := model.VisitSegment{DeviceKey: deviceKey, Source: in.Source, StartAt: now, EndAt: now, IsOpen: true}
	if seg.Source == "" {
		seg.Source = model.VisitUnknown
	}
	if in.Venue != nil {
		id := in.Venue.ID
		seg.VenueID = &id
	}
	return seg
}

// extendSegment：EndAt 只前进不后退，保证 StartAt <= EndAt
func extendSegment(seg *model.VisitSegment, now time.Time) {
	if now.After(seg.EndAt) {
		seg.EndAt = now
	}
}

func closeSegment(seg *model.VisitSegment, end time.Time) {
	if end.Before(seg.StartAt) {
		end = seg.StartAt
	}
	seg.EndAt = end
	seg.IsOpen = false
}

// Row：转换为持久化行
func (s State) Row() model.DeviceVisitState {
	row := model.DeviceVisitState{DeviceKey: s.DeviceKey, PendingCount: s.PendingCount, LastPingAt: s.LastPingAt}
	if s.Current != nil {
		id := s.Current.ID
		row.CurrentSegmentID = &id
	}
	if s.CurrentVenue != nil {
		id := s.CurrentVenue.ID
		row.CurrentVenueID = &id
	}
	if s.PendingVenue != nil {
		id := s.PendingVenue.ID
		row.PendingVenueID = &id
	}
	return row
}
