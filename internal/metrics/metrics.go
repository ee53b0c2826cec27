// Package metrics exposes the Prometheus metrics mirrorbot updates during
// operation, served at /metrics by the HTTP server the orchestrator starts
// in Run.
//
// Grounded on the teacher pack's chidi150c-coinbase/metrics.go
// (package-level CounterVec/GaugeVec vars registered in init(), small
// typed setter helpers) — the metric names and labels are new, scoped to
// the copy-trading/endgame domain instead of that file's single-strategy
// bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TradesEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrorbot_trades_evaluated_total",
			Help: "Leader trades and endgame candidates passed to the risk gate.",
		},
		[]string{"source"}, // COPY|ENDGAME
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrorbot_rejections_total",
			Help: "Risk gate rejections by reason.",
		},
		[]string{"reason"},
	)

	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrorbot_orders_placed_total",
			Help: "Orders placed by source and status.",
		},
		[]string{"source", "status"},
	)

	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrorbot_positions_closed_total",
			Help: "Positions closed by reason.",
		},
		[]string{"reason"},
	)

	CircuitBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrorbot_circuit_breaker_trips_total",
			Help: "Circuit breaker trips by reason.",
		},
		[]string{"reason"},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirrorbot_open_positions",
			Help: "Current count of non-terminal positions.",
		},
	)

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mirrorbot_cache_entries",
			Help: "Current entry count per named cache.",
		},
		[]string{"cache"},
	)

	CacheEvictions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mirrorbot_cache_evictions_total",
			Help: "Cumulative evictions per named cache, as last reported by its own Stats() counter.",
		},
		[]string{"cache"},
	)

	RateLimiterWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirrorbot_rate_limiter_wait_seconds",
			Help:    "Time callers spent blocked on the rate limiter's Wait.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(TradesEvaluated, Rejections, OrdersPlaced, PositionsClosed)
	prometheus.MustRegister(CircuitBreakerTrips, OpenPositions)
	prometheus.MustRegister(CacheEntries, CacheEvictions, RateLimiterWaitSeconds)
}

// IncRejection records a single risk-gate rejection by reason.
func IncRejection(reason string) { Rejections.WithLabelValues(reason).Inc() }

// IncOrderPlaced records an order placement outcome.
func IncOrderPlaced(source, status string) { OrdersPlaced.WithLabelValues(source, status).Inc() }

// IncPositionClosed records a position closure by reason.
func IncPositionClosed(reason string) { PositionsClosed.WithLabelValues(reason).Inc() }

// IncCircuitBreakerTrip records an automatic or manual trip by reason.
func IncCircuitBreakerTrip(reason string) { CircuitBreakerTrips.WithLabelValues(reason).Inc() }

// SetOpenPositions sets the current open-position gauge.
func SetOpenPositions(n int) { OpenPositions.Set(float64(n)) }

// SetCacheStats records a named cache's current entries and cumulative
// evictions, for the orchestrator's periodic maintenance pass.
func SetCacheStats(name string, entries int, evictions int64) {
	CacheEntries.WithLabelValues(name).Set(float64(entries))
	CacheEvictions.WithLabelValues(name).Set(float64(evictions))
}

// Handler returns the standard Prometheus text-exposition HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }
