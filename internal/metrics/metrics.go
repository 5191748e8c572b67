package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	GatewayCalls    *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec
	Fallbacks       *prometheus.CounterVec
	GuardRedirects  *prometheus.CounterVec
	SessionEvents   *prometheus.CounterVec
	UpdatesTotal    prometheus.Counter
	RateLimitedChat prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ikasa",
				Name:      "gateway_calls_total",
				Help:      "Remote gateway calls by operation and result",
			}, []string{"op", "result"}),
			GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ikasa",
				Name:      "gateway_call_seconds",
				Help:      "Remote gateway call latency",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ikasa",
				Name:      "fallback_total",
				Help:      "Demo fallbacks used after a gateway failure",
			}, []string{"kind"}),
			GuardRedirects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ikasa",
				Name:      "guard_redirects_total",
				Help:      "Navigation attempts redirected by route guards",
			}, []string{"from", "to"}),
			SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ikasa",
				Name:      "session_events_total",
				Help:      "Session events published and consumed",
			}, []string{"kind", "result"}),
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ikasa",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
			RateLimitedChat: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ikasa",
				Name:      "chat_rate_limited_total",
				Help:      "Chat sends rejected by the hourly quota",
			}),
		}
		prometheus.MustRegister(
			global.GatewayCalls,
			global.GatewayLatency,
			global.Fallbacks,
			global.GuardRedirects,
			global.SessionEvents,
			global.UpdatesTotal,
			global.RateLimitedChat,
		)
	})
	return global
}
