package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_pings_total",
		Help: "Total location pings handled, by event",
	}, []string{"event"})
	PingDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beacon_ping_duration_ms",
		Help:    "Ping handling duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	VenueMatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_venue_match_total",
		Help: "Venue match attempts by result (hit, miss, error)",
	}, []string{"result"})
	SegmentSwitchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_segment_switch_total",
		Help: "Confirmed venue switches",
	})
	SegmentOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_segment_opened_total",
		Help: "Visit segments opened",
	})
	SegmentReapedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_segment_reaped_total",
		Help: "Visit segments closed by inactivity, by trigger (ping, sweep)",
	}, []string{"trigger"})
	AdRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_ad_requests_total",
		Help: "Total ad recommendation requests",
	})
	AdSelectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_ad_selected_total",
		Help: "Ads selected, by pool (geo, generic)",
	}, []string{"pool"})
	AdNoContentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_ad_no_content_total",
		Help: "Ad requests with no eligible advertisement",
	})
	RecencyCacheErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_recency_cache_errors_total",
		Help: "Recency cache errors by op",
	}, []string{"op"})
	PortalAcceptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_portal_accept_total",
		Help: "Portal accept (authentication) requests",
	})
	PoiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_poi_requests_total",
		Help: "POI provider HTTP requests, by provider",
	}, []string{"provider"})
	PoiFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_poi_fail_total",
		Help: "Failed POI provider requests, by provider",
	}, []string{"provider"})
	PoiDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beacon_poi_duration_ms",
		Help:    "POI provider request duration in milliseconds",
		Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(PingsTotal)
	prometheus.MustRegister(PingDurationMs)
	prometheus.MustRegister(VenueMatchTotal)
	prometheus.MustRegister(SegmentSwitchTotal)
	prometheus.MustRegister(SegmentOpenedTotal)
	prometheus.MustRegister(SegmentReapedTotal)
	prometheus.MustRegister(AdRequestsTotal)
	prometheus.MustRegister(AdSelectedTotal)
	prometheus.MustRegister(AdNoContentTotal)
	prometheus.MustRegister(RecencyCacheErrorsTotal)
	prometheus.MustRegister(PortalAcceptTotal)
	prometheus.MustRegister(PoiRequestsTotal)
	prometheus.MustRegister(PoiFailTotal)
	prometheus.MustRegister(PoiDurationMs)
}

// 文档注释：返回 Prometheus 指标处理器，在主入口挂载到 {API_BASE}/metrics
func Handler() http.Handler { return promhttp.Handler() }
