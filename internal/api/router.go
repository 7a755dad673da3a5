package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"wifi-ad-beacon/internal/metrics"
)

// 文档注释：构建路由
// 背景：所有接口挂在 base（默认 /api）之下；末尾斜杠可有可无，兼容旧前端的 `/ping/` 写法。
func NewRouter(base string, h *Handlers) http.Handler {
	base = "/" + strings.Trim(base, "/")
	r := chi.NewRouter()
	r.Use(chimw.StripSlashes)
	r.Use(chimw.Recoverer)
	r.Route(base, func(r chi.Router) {
		r.Get("/healthz", h.healthz)
		r.Post("/v1/portal/ping", h.ping)
		r.Post("/v1/portal/accept", h.accept)
		r.Post("/v1/ad-recommend", h.recommend)

		// 管理接口：设备轨迹、统计与指标
		r.Group(func(r chi.Router) {
			r.Use(h.Admin.Wrap)
			r.Handle("/metrics", metrics.Handler())
			r.Get("/v1/devices/{deviceKey}/segments", h.segments)
			r.Get("/v1/stats", h.stats)
		})
	})
	return r
}
