// Package metrics holds the Prometheus collectors of the courier.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telegram_news/internal/domain"
)

const MetricsNamespace = "courier"

// Send outcomes recorded by the publisher.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      *prometheus.HistogramVec
	ItemsPosted        *prometheus.CounterVec
	ItemsAlreadyPosted *prometheus.CounterVec
	ItemsFailed        *prometheus.CounterVec
	LedgerTrimmed      *prometheus.CounterVec
	SendsTotal         *prometheus.CounterVec
	RetryAfterSeconds  prometheus.Counter

	registry *prometheus.Registry
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "cycles_total",
			Help:      "Poll cycles by feed and result (modified, unmodified, error)",
		}, []string{"feed", "result"}),
		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one poll cycle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"feed"}),
		ItemsPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "items_posted_total",
			Help:      "Items delivered to at least one destination",
		}, []string{"feed"}),
		ItemsAlreadyPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "items_already_posted_total",
			Help:      "List items skipped because the ledger already holds them",
		}, []string{"feed"}),
		ItemsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "items_failed_total",
			Help:      "Items that reached no destination",
		}, []string{"feed"}),
		LedgerTrimmed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "ledger_trimmed_rows_total",
			Help:      "Ledger rows removed by trimming",
		}, []string{"feed"}),
		SendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "sends_total",
			Help:      "Bot API send attempts by method and outcome",
		}, []string{"method", "outcome"}),
		RetryAfterSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "retry_after_seconds_total",
			Help:      "Seconds slept on server-requested backoff",
		}),
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveCycle(stats *domain.CycleStats, err error) {
	if m == nil || stats == nil {
		return
	}
	result := "modified"
	switch {
	case err != nil:
		result = "error"
	case stats.Unmodified:
		result = "unmodified"
	}
	m.CyclesTotal.WithLabelValues(stats.Feed, result).Inc()
	m.CycleDuration.WithLabelValues(stats.Feed).Observe(stats.Duration.Seconds())
	m.ItemsPosted.WithLabelValues(stats.Feed).Add(float64(stats.Posted))
	m.ItemsAlreadyPosted.WithLabelValues(stats.Feed).Add(float64(stats.AlreadyPosted))
	m.ItemsFailed.WithLabelValues(stats.Feed).Add(float64(stats.Failed))
	m.LedgerTrimmed.WithLabelValues(stats.Feed).Add(float64(stats.Trimmed))
}

func (m *Metrics) ObserveSend(method, outcome string) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ObserveRetryAfter(d time.Duration) {
	if m == nil {
		return
	}
	m.RetryAfterSeconds.Add(d.Seconds())
}
