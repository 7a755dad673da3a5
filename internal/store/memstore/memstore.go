// 包 memstore：各存储契约的进程内实现，用于测试与 STORE_DRIVER=memory 的演示部署
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"wifi-ad-beacon/internal/ads"
	"wifi-ad-beacon/internal/geo"
	"wifi-ad-beacon/internal/model"
	"wifi-ad-beacon/internal/store"
	"wifi-ad-beacon/internal/visit"
)

type venueKey struct {
	source model.VenueSource
	extID  string
}

// Store：全部数据保存在内存，重启即丢失
type Store struct {
	mu sync.Mutex

	venues      map[int64]model.Venue
	venueByKey  map[venueKey]int64
	ads         map[int64]model.Advertisement
	segments    map[int64]model.VisitSegment
	states      map[string]model.DeviceVisitState
	sessions    map[string]model.ClientSession
	deviceLocks map[string]*sync.Mutex
	daily       map[string]map[string]int64
	totals      map[string]int64

	nextVenue, nextAd, nextSeg, nextSession int64
	now                                     func() time.Time
}

func New() *Store {
	return &Store{
		venues:      map[int64]model.Venue{},
		venueByKey:  map[venueKey]int64{},
		ads:         map[int64]model.Advertisement{},
		segments:    map[int64]model.VisitSegment{},
		states:      map[string]model.DeviceVisitState{},
		sessions:    map[string]model.ClientSession{},
		deviceLocks: map[string]*sync.Mutex{},
		daily:       map[string]map[string]int64{},
		totals:      map[string]int64{},
		now:         time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// ---- venues ----

func (s *Store) ActiveVenuesInBox(_ context.Context, box geo.BBox) ([]model.Venue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Venue
	for _, v := range s.venues {
		if v.IsActive && box.Contains(v.Latitude, v.Longitude) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertVenue：按 (Source, ExternalID) 插入或更新，返回是否新建
func (s *Store) UpsertVenue(_ context.Context, v model.Venue) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := venueKey{v.Source, v.ExternalID}
	if id, ok := s.venueByKey[k]; ok {
		v.ID = id
		s.venues[id] = v
		return false, nil
	}
	s.nextVenue++
	v.ID = s.nextVenue
	s.venues[v.ID] = v
	s.venueByKey[k] = v.ID
	return true, nil
}

func (s *Store) DeactivateMissing(_ context.Context, source model.VenueSource, keep []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		seen[id] = struct{}{}
	}
	var n int64
	for id, v := range s.venues {
		if v.Source != source || !v.IsActive {
			continue
		}
		if _, ok := seen[v.ExternalID]; ok {
			continue
		}
		v.IsActive = false
		s.venues[id] = v
		n++
	}
	return n, nil
}

func (s *Store) PurgeSource(_ context.Context, source model.VenueSource) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, v := range s.venues {
		if v.Source == source {
			delete(s.venues, id)
			delete(s.venueByKey, venueKey{v.Source, v.ExternalID})
			n++
		}
	}
	return n, nil
}

// Venues：全部场所，按 ID 升序
func (s *Store) Venues() []model.Venue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Venue, 0, len(s.venues))
	for _, v := range s.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- advertisements ----

func (s *Store) EligibleAds(_ context.Context, hour int, os model.DeviceOS) ([]model.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Advertisement
	for _, ad := range s.ads {
		if ad.IsActive && ads.InWindow(hour, ad.ActiveHourStart, ad.ActiveHourEnd) && ads.MatchesOS(ad.TargetOS, os) {
			out = append(out, ad)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertAdByTitle：按标题插入或更新，返回是否新建
func (s *Store) UpsertAdByTitle(_ context.Context, ad model.Advertisement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cur := range s.ads {
		if cur.Title == ad.Title {
			ad.ID = id
			ad.ClickCount = cur.ClickCount
			s.ads[id] = ad
			return false, nil
		}
	}
	s.nextAd++
	ad.ID = s.nextAd
	s.ads[ad.ID] = ad
	return true, nil
}

// ---- visit segments / device state ----

func (s *Store) deviceLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.deviceLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.deviceLocks[key] = m
	}
	return m
}

// WithDevice：同一设备键串行执行；fn 出错时丢弃暂存写入
func (s *Store) WithDevice(ctx context.Context, deviceKey string, fn func(tx visit.DeviceTx) error) error {
	m := s.deviceLock(deviceKey)
	m.Lock()
	defer m.Unlock()
	tx := &deviceTx{s: s, key: deviceKey, segs: map[int64]model.VisitSegment{}}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, seg := range tx.segs {
		s.segments[id] = seg
	}
	if tx.state != nil {
		s.states[deviceKey] = *tx.state
	}
	return nil
}

type deviceTx struct {
	s     *Store
	key   string
	segs  map[int64]model.VisitSegment
	state *model.DeviceVisitState
}

func (t *deviceTx) Load(_ context.Context) (visit.State, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.states[t.key]
	if !ok {
		row = model.DeviceVisitState{DeviceKey: t.key}
	}
	st := visit.State{DeviceKey: t.key, PendingCount: row.PendingCount, LastPingAt: row.LastPingAt}
	if row.CurrentSegmentID != nil {
		if seg, ok := s.segments[*row.CurrentSegmentID]; ok {
			st.Current = &seg
		}
	}
	st.CurrentVenue = s.venueRef(row.CurrentVenueID)
	st.PendingVenue = s.venueRef(row.PendingVenueID)
	return st, nil
}

func (s *Store) venueRef(id *int64) *visit.VenueRef {
	if id == nil {
		return nil
	}
	ref := &visit.VenueRef{ID: *id}
	if v, ok := s.venues[*id]; ok {
		ref.Name = v.Name
	}
	return ref
}

func (t *deviceTx) CreateSegment(_ context.Context, seg model.VisitSegment) (int64, error) {
	t.s.mu.Lock()
	t.s.nextSeg++
	seg.ID = t.s.nextSeg
	t.s.mu.Unlock()
	seg.DeviceKey = t.key
	t.segs[seg.ID] = seg
	return seg.ID, nil
}

func (t *deviceTx) current(id int64) (model.VisitSegment, error) {
	if seg, ok := t.segs[id]; ok {
		return seg, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	seg, ok := t.s.segments[id]
	if !ok {
		return model.VisitSegment{}, store.ErrNotFound
	}
	return seg, nil
}

func (t *deviceTx) ExtendSegment(_ context.Context, seg model.VisitSegment) error {
	cur, err := t.current(seg.ID)
	if err != nil {
		return err
	}
	if !cur.IsOpen {
		return store.ErrSegmentClosed
	}
	cur.EndAt = seg.EndAt
	t.segs[seg.ID] = cur
	return nil
}

func (t *deviceTx) CloseSegment(_ context.Context, seg model.VisitSegment) error {
	cur, err := t.current(seg.ID)
	if err != nil {
		return err
	}
	if !cur.IsOpen {
		return store.ErrSegmentClosed
	}
	cur.EndAt = seg.EndAt
	cur.IsOpen = false
	t.segs[seg.ID] = cur
	return nil
}

func (t *deviceTx) SaveState(_ context.Context, st visit.State) error {
	row := st.Row()
	row.DeviceKey = t.key
	t.state = &row
	return nil
}

func (s *Store) IdleDevices(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key, row := range s.states {
		if row.CurrentSegmentID == nil || row.LastPingAt == nil || !row.LastPingAt.Before(cutoff) {
			continue
		}
		if seg, ok := s.segments[*row.CurrentSegmentID]; !ok || !seg.IsOpen {
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SegmentsForDevice(_ context.Context, deviceKey string, limit int) ([]model.VisitSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.VisitSegment
	for _, seg := range s.segments {
		if seg.DeviceKey == deviceKey {
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.After(out[j].StartAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeviceState：读取设备状态行（测试观测用）
func (s *Store) DeviceState(deviceKey string) (model.DeviceVisitState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.states[deviceKey]
	return row, ok
}

// ---- client sessions ----

func (s *Store) sessionLocked(ip, userAgent string, now time.Time) model.ClientSession {
	cs, ok := s.sessions[ip]
	if !ok {
		s.nextSession++
		cs = model.ClientSession{ID: s.nextSession, IPAddress: ip, UserAgent: userAgent, FirstSeen: now}
	}
	if userAgent != "" {
		cs.UserAgent = userAgent
	}
	cs.LastSeen = now
	return cs
}

func (s *Store) MarkAuthenticated(_ context.Context, ip, userAgent, mac string, now time.Time) (model.ClientSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.sessionLocked(ip, userAgent, now)
	cs.IsAuthenticated = true
	if mac != "" {
		cs.MACAddress = strings.ToLower(mac)
	}
	s.sessions[ip] = cs
	return cs, nil
}

func (s *Store) SetSessionLocation(_ context.Context, ip string, loc model.SessionLocation, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[ip]
	if !ok {
		return store.ErrNotFound
	}
	applyLocation(&cs, loc, now)
	s.sessions[ip] = cs
	return nil
}

func (s *Store) TouchSessionLocation(_ context.Context, ip, userAgent string, lat, lon float64, accuracy *int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.sessionLocked(ip, userAgent, now)
	applyLocation(&cs, model.SessionLocation{Latitude: lat, Longitude: lon, AccuracyMeters: accuracy}, now)
	s.sessions[ip] = cs
	return nil
}

func applyLocation(cs *model.ClientSession, loc model.SessionLocation, now time.Time) {
	lat, lon := loc.Latitude, loc.Longitude
	cs.Latitude, cs.Longitude = &lat, &lon
	cs.AccuracyMeters = loc.AccuracyMeters
	if loc.VenueID != nil {
		cs.VenueID = loc.VenueID
		cs.VenueDistanceM = loc.VenueDistanceM
	}
	cs.LocationUpdateAt = &now
}

func (s *Store) Session(_ context.Context, ip string) (model.ClientSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[ip]
	if !ok {
		return model.ClientSession{}, store.ErrNotFound
	}
	return cs, nil
}

// ---- stats ----

func (s *Store) IncrStats(_ context.Context, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := s.now().Format("2006-01-02")
	if s.daily[day] == nil {
		s.daily[day] = map[string]int64{}
	}
	s.daily[day][kind]++
	s.totals[kind]++
	return nil
}

func (s *Store) GetTotals(_ context.Context) (*model.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := s.daily[s.now().Format("2006-01-02")]
	return &model.Totals{
		Pings:            s.totals[model.StatPing],
		Impressions:      s.totals[model.StatImpression],
		TodayPings:       today[model.StatPing],
		TodayImpressions: today[model.StatImpression],
	}, nil
}
