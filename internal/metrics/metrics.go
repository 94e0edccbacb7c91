// Package metrics 导出请求重放的 Prometheus 指标。
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdpproxy/internal/replay"
)

// Metrics 重放指标，同时作为 replay.Recorder 使用
type Metrics struct {
	registry *prometheus.Registry

	ReplaysTotal   *prometheus.CounterVec
	ReplayDuration *prometheus.HistogramVec
	UpstreamStatus *prometheus.CounterVec
}

// New 在独立的 Registry 上创建指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ReplaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdpproxy_replays_total",
				Help: "Total number of intercepted requests by outcome",
			},
			[]string{"outcome"},
		),
		ReplayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cdpproxy_replay_duration_seconds",
				Help:    "Time spent handling an intercepted request",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		UpstreamStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdpproxy_upstream_responses_total",
				Help: "Replayed responses by status class",
			},
			[]string{"class"},
		),
	}
}

// Record 实现 replay.Recorder
func (m *Metrics) Record(_ context.Context, e replay.Entry) {
	outcome := string(e.Outcome)
	m.ReplaysTotal.WithLabelValues(outcome).Inc()
	m.ReplayDuration.WithLabelValues(outcome).Observe(e.Duration.Seconds())
	if e.StatusCode > 0 {
		m.UpstreamStatus.WithLabelValues(statusClass(e.StatusCode)).Inc()
	}
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
