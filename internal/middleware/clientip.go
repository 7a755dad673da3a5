package middleware

import (
	"net"
	"net/http"
	"strings"
)

// 文档注释：获取访问者 IP
// 背景：网关前可能有一层反向代理；依次取 X-Forwarded-For 首跳、X-Real-IP、Forwarded for=，最后回退远端地址。
// 约束：头部可被伪造，部署时代理需覆盖这些头。
func ClientIP(r *http.Request) string {
	h := r.Header
	if x := h.Get("X-Forwarded-For"); x != "" {
		if ip := strings.TrimSpace(strings.Split(x, ",")[0]); ip != "" {
			return ip
		}
	}
	if x := strings.TrimSpace(h.Get("X-Real-IP")); x != "" {
		return x
	}
	if x := h.Get("Forwarded"); x != "" {
		i := strings.Index(strings.ToLower(x), "for=")
		if i >= 0 {
			y := strings.Trim(x[i+4:], "\" ")
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			if y = strings.Trim(y, "\" []"); y != "" {
				return y
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
