// Package metrics exports poolwatch Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/storage"
)

const namespace = "poolwatch"

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	poolFetches       *prometheus.CounterVec
	poolFetchDuration *prometheus.HistogramVec
	poolHealthy       *prometheus.GaugeVec

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram

	walletHashrate    *prometheus.GaugeVec
	walletWorkers     *prometheus.GaugeVec
	walletBalanceUSD  *prometheus.GaugeVec
	walletEarningsUSD *prometheus.GaugeVec
	walletStale       *prometheus.GaugeVec

	alertsTotal *prometheus.CounterVec

	priceRequests        *prometheus.CounterVec
	priceRequestDuration prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		poolFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "fetches_total",
			Help:      "Pool stats requests by pool and result.",
		}, []string{"pool", "result"}),
		poolFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "fetch_duration_seconds",
			Help:      "Pool stats request latency, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pool"}),
		poolHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "healthy",
			Help:      "1 if the pool API is healthy, 0 after repeated failures.",
		}, []string{"pool"}),

		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Completed polling cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full polling cycle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		walletHashrate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "hashrate",
			Help:      "Current wallet hashrate in H/s.",
		}, []string{"wallet", "pool", "coin"}),
		walletWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "workers",
			Help:      "Wallet workers by state.",
		}, []string{"wallet", "state"}),
		walletBalanceUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "balance_usd",
			Help:      "Unpaid balance in USD.",
		}, []string{"wallet"}),
		walletEarningsUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "earnings_24h_usd",
			Help:      "Earnings over the last 24 hours in USD.",
		}, []string{"wallet"}),
		walletStale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "stale",
			Help:      "1 if the wallet's last share is older than the stale threshold.",
		}, []string{"wallet"}),

		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert events raised by kind.",
		}, []string{"kind"}),

		priceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "requests_total",
			Help:      "Price API requests by result.",
		}, []string{"result"}),
		priceRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "request_duration_seconds",
			Help:      "Price API request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.poolFetches,
		m.poolFetchDuration,
		m.poolHealthy,
		m.cycles,
		m.cycleDuration,
		m.walletHashrate,
		m.walletWorkers,
		m.walletBalanceUSD,
		m.walletEarningsUSD,
		m.walletStale,
		m.alertsTotal,
		m.priceRequests,
		m.priceRequestDuration,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ObservePoolFetch records one pool request.
func (m *Metrics) ObservePoolFetch(pool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.poolFetches.WithLabelValues(pool, result(err)).Inc()
	m.poolFetchDuration.WithLabelValues(pool).Observe(d.Seconds())
}

// SetPoolHealth records the health flag of a pool.
func (m *Metrics) SetPoolHealth(pool string, healthy bool) {
	if m == nil {
		return
	}
	m.poolHealthy.WithLabelValues(pool).Set(boolValue(healthy))
}

// ObserveCycle records a finished polling cycle. A cycle in which any
// wallet failed counts as partial.
func (m *Metrics) ObserveCycle(d time.Duration, failed int) {
	if m == nil {
		return
	}
	res := "ok"
	if failed > 0 {
		res = "partial"
	}
	m.cycles.WithLabelValues(res).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// SetWallet updates the per-wallet gauges from a snapshot. Failed
// snapshots leave the previous values in place.
func (m *Metrics) SetWallet(snap *storage.WalletSnapshot) {
	if m == nil || snap == nil || snap.Error != "" {
		return
	}
	id := snap.WalletID
	m.walletHashrate.WithLabelValues(id, snap.Pool, snap.Coin).Set(snap.Stats.Hashrate)
	m.walletWorkers.WithLabelValues(id, "online").Set(float64(snap.Stats.WorkersOnline))
	m.walletWorkers.WithLabelValues(id, "offline").Set(float64(snap.Stats.WorkersOffline()))
	m.walletBalanceUSD.WithLabelValues(id).Set(snap.BalanceUSD)
	m.walletEarningsUSD.WithLabelValues(id).Set(snap.Earnings24hUSD)
	m.walletStale.WithLabelValues(id).Set(boolValue(snap.Stale))
}

// RecordAlerts counts raised events by kind.
func (m *Metrics) RecordAlerts(events []alerts.Event) {
	if m == nil {
		return
	}
	for _, ev := range events {
		m.alertsTotal.WithLabelValues(string(ev.Kind)).Inc()
	}
}

// ObservePriceRequest records one price API request. Its signature matches
// prices.Cache.OnRequest.
func (m *Metrics) ObservePriceRequest(ids int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.priceRequests.WithLabelValues(result(err)).Inc()
	m.priceRequestDuration.Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
