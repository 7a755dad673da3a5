// 包 middleware：入口限流与客户端 IP 解析
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"wifi-ad-beacon/internal/logger"
)

// RateLimitConfig：按客户端 IP 的滑动窗口限流
type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
}

// 文档注释：限流中间件
// 背景：Portal 前端每 60 秒心跳一次，正常客户端远低于阈值；超限直接返回 429，不排队。
// 约束：Enabled=false 或 PerMinute<=0 时原样返回 next。
func Wrap(next http.Handler, cfg RateLimitConfig) http.Handler {
	if !cfg.Enabled || cfg.PerMinute <= 0 {
		return next
	}
	window := time.Minute
	return httprate.Limit(
		cfg.PerMinute,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) { return ClientIP(r), nil }),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.L().Warn("rate_limited", "ip", ClientIP(r), "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)(next)
}
