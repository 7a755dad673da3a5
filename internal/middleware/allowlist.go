package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"wifi-ad-beacon/internal/logger"
)

// 文档注释：管理接口的来源白名单（单 IP 或 CIDR，支持 v4/v6）
// 背景：设备轨迹与统计只面向网关管理网段开放，Portal 客户端不应能查询他人轨迹。
// 约束：只认 RemoteAddr，不信任转发头；列表为空表示不限制。
type AllowList struct {
	nets []*net.IPNet
}

// NewAllowList：解析条目，任一条目非法即报错
func NewAllowList(entries []string) (*AllowList, error) {
	a := &AllowList{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid allow entry %q", e)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			a.nets = append(a.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allow entry %q: %w", e, err)
		}
		a.nets = append(a.nets, n)
	}
	return a, nil
}

// Allowed：nil 或空列表放行全部
func (a *AllowList) Allowed(ip net.IP) bool {
	if a == nil || len(a.nets) == 0 {
		return true
	}
	if ip == nil {
		return false
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Wrap：不在白名单内返回 403
func (a *AllowList) Wrap(next http.Handler) http.Handler {
	if a == nil || len(a.nets) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.RemoteAddr
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if ip := net.ParseIP(host); !a.Allowed(ip) {
			logger.L().Debug("admin_allowlist_block", "ip", host, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
