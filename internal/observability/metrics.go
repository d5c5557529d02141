// Package observability provides Prometheus metrics for the trading agent.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the agent.
type Metrics struct {
	// Scan loop
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	CyclesSkipped   prometheus.Counter
	PricesMissing   prometheus.Counter
	LastCycleFinish prometheus.Gauge

	// Trading
	TradesTotal    *prometheus.CounterVec
	OpenPositions  prometheus.Gauge
	DisabledTokens prometheus.Gauge
	GroupSize      *prometheus.GaugeVec

	// Gas
	GasPriceGwei   prometheus.Gauge
	GasRoundTripUS prometheus.Histogram
	GasRegime      *prometheus.GaugeVec

	// Universe
	UniverseRefreshes *prometheus.CounterVec
	UniverseSize      prometheus.Gauge

	// Latency
	RPCCallLatency *prometheus.HistogramVec
	HTTPLatency    *prometheus.HistogramVec

	// Database
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered with the default registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dex_trade_agent"
	}

	return &Metrics{
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Scan cycles by terminal status",
		}, []string{"status"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Scan cycle duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		CyclesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_skipped_total",
			Help:      "Ticks dropped because a cycle was still in flight",
		}),
		PricesMissing: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "prices_missing_total",
			Help:      "Symbols skipped for a cycle because no price was available",
		}),
		LastCycleFinish: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_cycle_timestamp",
			Help:      "Unix timestamp of the last completed scan cycle",
		}),

		TradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trades_total",
			Help:      "Trade intents by action, outcome and reason",
		}, []string{"action", "outcome", "reason", "simulated"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
		DisabledTokens: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "universe",
			Name:      "disabled_tokens",
			Help:      "Tokens currently disabled by the circuit breaker",
		}),
		GroupSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "universe",
			Name:      "group_size",
			Help:      "Members per universe group",
		}, []string{"group"}),

		GasPriceGwei: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gas",
			Name:      "price_gwei",
			Help:      "Gas price used for the last trade check",
		}),
		GasRoundTripUS: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gas",
			Name:      "round_trip_usd",
			Help:      "Estimated round-trip gas cost in USD",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 25, 50},
		}),
		GasRegime: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gas",
			Name:      "regime",
			Help:      "1 for the current gas regime, 0 otherwise",
		}, []string{"regime"}),

		UniverseRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "universe",
			Name:      "refreshes_total",
			Help:      "Universe refreshes by source (discovery, cache, skipped)",
		}, []string{"source"}),
		UniverseSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "universe",
			Name:      "tokens",
			Help:      "Tokens in the ranked universe",
		}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "Chain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "http_latency_seconds",
			Help:      "Market data HTTP latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCycle records a finished scan cycle.
func RecordCycle(status string, d time.Duration) {
	DefaultMetrics.CyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(d.Seconds())
	DefaultMetrics.LastCycleFinish.SetToCurrentTime()
}

// RecordCycleSkipped counts a tick dropped by the single-flight guard.
func RecordCycleSkipped() {
	DefaultMetrics.CyclesSkipped.Inc()
}

// RecordMissingPrices counts symbols skipped for lack of a price.
func RecordMissingPrices(n int) {
	DefaultMetrics.PricesMissing.Add(float64(n))
}

// RecordTrade counts one trade outcome.
func RecordTrade(action, outcome, reason string, simulated bool) {
	sim := "false"
	if simulated {
		sim = "true"
	}
	DefaultMetrics.TradesTotal.WithLabelValues(action, outcome, reason, sim).Inc()
}

// UpdatePositions sets the open position gauge.
func UpdatePositions(n int) {
	DefaultMetrics.OpenPositions.Set(float64(n))
}

// UpdateGroups sets group size and disabled token gauges.
func UpdateGroups(hot, watch, disabled int) {
	DefaultMetrics.GroupSize.WithLabelValues("hot").Set(float64(hot))
	DefaultMetrics.GroupSize.WithLabelValues("watch").Set(float64(watch))
	DefaultMetrics.DisabledTokens.Set(float64(disabled))
}

// UpdateGasPrice sets the gas price gauge.
func UpdateGasPrice(gwei float64) {
	DefaultMetrics.GasPriceGwei.Set(gwei)
}

// RecordGasRoundTrip observes a round-trip gas estimate and marks the regime.
func RecordGasRoundTrip(usd float64, regime string) {
	DefaultMetrics.GasRoundTripUS.Observe(usd)
	for _, r := range []string{"quiet", "normal", "busy"} {
		v := 0.0
		if r == regime {
			v = 1
		}
		DefaultMetrics.GasRegime.WithLabelValues(r).Set(v)
	}
}

// RecordUniverseRefresh counts a refresh and sets the universe size.
func RecordUniverseRefresh(source string, size int) {
	DefaultMetrics.UniverseRefreshes.WithLabelValues(source).Inc()
	DefaultMetrics.UniverseSize.Set(float64(size))
}

// RecordRPCLatency records chain RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordHTTPLatency records market data HTTP latency.
func RecordHTTPLatency(endpoint string, seconds float64) {
	DefaultMetrics.HTTPLatency.WithLabelValues(endpoint).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
