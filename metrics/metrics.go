// Package metrics provides Prometheus instrumentation for the lot ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FillsTotal counts processed fills, partitioned by pair and side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridledger_fills_total",
		Help: "Total number of fills recorded",
	}, []string{"pair", "side"})

	// UnmatchedSellsTotal counts sells recorded with an unmatched quantity.
	UnmatchedSellsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridledger_unmatched_sells_total",
		Help: "Sells that could not be fully matched to a lot",
	}, []string{"pair"})

	// FillErrorsTotal counts fills rejected by the book.
	FillErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridledger_fill_errors_total",
		Help: "Fills rejected by the book",
	}, []string{"pair"})

	// DriftFindingsTotal counts reconciliation findings by drift class.
	DriftFindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridledger_drift_findings_total",
		Help: "Reconciliation findings by drift class",
	}, []string{"pair", "class", "repairable"})

	// CorrectionsAppliedTotal counts corrections committed by reports.
	CorrectionsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridledger_corrections_applied_total",
		Help: "Reconciliation corrections applied",
	}, []string{"pair", "kind"})

	// ReconcileDuration tracks the duration of reconciliation runs.
	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridledger_reconcile_duration_seconds",
		Help:    "Reconciliation duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"pair"})

	// OpenLots tracks the number of open lots per pair.
	OpenLots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridledger_open_lots",
		Help: "Number of open lots",
	}, []string{"pair"})

	// RemainingQuantity tracks the sum of the remaining quantity of open lots.
	RemainingQuantity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridledger_remaining_quantity",
		Help: "Sum of the remaining base quantity of open lots",
	}, []string{"pair"})

	// RealizedProfit tracks the ledger total profit in quote currency.
	RealizedProfit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridledger_realized_profit",
		Help: "Ledger total realized profit in quote currency",
	}, []string{"pair"})
)

// ObserveBook publishes the state gauges of a pair.
func ObserveBook(pair string, openLots int, remaining, profit float64) {
	OpenLots.WithLabelValues(pair).Set(float64(openLots))
	RemainingQuantity.WithLabelValues(pair).Set(remaining)
	RealizedProfit.WithLabelValues(pair).Set(profit)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
