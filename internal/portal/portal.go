// 包 portal：Portal 认证（同意上网）流程
package portal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"wifi-ad-beacon/internal/geo"
	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/metrics"
	"wifi-ad-beacon/internal/model"
)

// SessionStore：会话读写契约
type SessionStore interface {
	MarkAuthenticated(ctx context.Context, ip, userAgent, mac string, now time.Time) (model.ClientSession, error)
	SetSessionLocation(ctx context.Context, ip string, loc model.SessionLocation, now time.Time) error
}

type VenueMatcher interface {
	Match(ctx context.Context, lat, lon float64) (*geo.Match, error)
}

type MACResolver interface {
	ResolveMAC(ctx context.Context, ip string) string
}

// ScriptRunner：执行放行脚本 `<script> <ip>`
type ScriptRunner func(ctx context.Context, script, ip string) error

func runScript(ctx context.Context, script, ip string) error {
	out, err := exec.CommandContext(ctx, script, ip).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

// AcceptRequest：一次同意上网请求
type AcceptRequest struct {
	IPAddress      string
	UserAgent      string
	Latitude       *float64
	Longitude      *float64
	AccuracyMeters *int
	Now            time.Time
}

// VenueOutcome：场所匹配的次要结果，与认证结果独立报告
type VenueOutcome struct {
	Attempted bool
	Venue     *model.Venue
	Distance  *int
	Err       error
}

// 文档注释：认证结果
// 约束：Session 为主结果；Venue 与 ScriptErr 为次要结果，失败不影响主结果。
type AcceptResult struct {
	Session   model.ClientSession
	Venue     VenueOutcome
	ScriptRan bool
	ScriptErr error
}

// Service：标记认证、尽力匹配场所、执行放行脚本
type Service struct {
	sessions SessionStore
	matcher  VenueMatcher
	macs     MACResolver
	script   string
	run      ScriptRunner
	timeout  time.Duration
}

func NewService(sessions SessionStore, matcher VenueMatcher, macs MACResolver, allowScript string) *Service {
	return &Service{sessions: sessions, matcher: matcher, macs: macs, script: allowScript, run: runScript, timeout: 10 * time.Second}
}

// WithScriptRunner：替换脚本执行方式
func (s *Service) WithScriptRunner(r ScriptRunner) *Service {
	s.run = r
	return s
}

var ErrNoClientIP = errors.New("client ip unavailable")

// 文档注释：同意上网
// 返回：仅当会话写入失败时返回错误；场所匹配与放行脚本的失败记录在结果中。
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (AcceptResult, error) {
	if req.IPAddress == "" {
		return AcceptResult{}, ErrNoClientIP
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	l := logger.L()
	mac := ""
	if s.macs != nil {
		mac = s.macs.ResolveMAC(ctx, req.IPAddress)
	}
	sess, err := s.sessions.MarkAuthenticated(ctx, req.IPAddress, req.UserAgent, mac, now)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("mark authenticated: %w", err)
	}
	metrics.PortalAcceptTotal.Inc()
	res := AcceptResult{Session: sess}

	if req.Latitude != nil && req.Longitude != nil && s.matcher != nil {
		res.Venue = s.matchVenue(ctx, req, now)
		if res.Venue.Err != nil {
			l.Warn("venue_match_failed", "ip", req.IPAddress, "err", res.Venue.Err)
		}
	}

	if s.script != "" {
		if st, err := os.Stat(s.script); err == nil && !st.IsDir() {
			sctx, cancel := context.WithTimeout(ctx, s.timeout)
			res.ScriptRan = true
			res.ScriptErr = s.run(sctx, s.script, req.IPAddress)
			cancel()
			if res.ScriptErr != nil {
				l.Error("allow_script_failed", "ip", req.IPAddress, "err", res.ScriptErr)
			}
		}
	}
	l.Info("portal_accept", "ip", req.IPAddress, "mac", mac, "venue_matched", res.Venue.Venue != nil, "script", res.ScriptRan)
	return res, nil
}

func (s *Service) matchVenue(ctx context.Context, req AcceptRequest, now time.Time) VenueOutcome {
	out := VenueOutcome{Attempted: true}
	m, err := s.matcher.Match(ctx, *req.Latitude, *req.Longitude)
	if err != nil {
		out.Err = err
		return out
	}
	loc := model.SessionLocation{Latitude: *req.Latitude, Longitude: *req.Longitude, AccuracyMeters: req.AccuracyMeters}
	if m != nil {
		v := m.Venue
		d := int(m.DistanceMeters)
		out.Venue, out.Distance = &v, &d
		loc.VenueID, loc.VenueDistanceM = &v.ID, &d
	}
	if err := s.sessions.SetSessionLocation(ctx, req.IPAddress, loc, now); err != nil {
		out.Err = fmt.Errorf("save session location: %w", err)
	}
	return out
}
