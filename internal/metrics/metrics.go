// Package metrics holds the Prometheus collectors shared by the solver and
// its transports.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsTotal counts solver actions by action and result.
	// Result is one of "ok", "inconsistent", "invalid", "not_found", "error".
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clue_solver_actions_total",
		Help: "Solver actions by action and result",
	}, []string{"action", "result"})

	ActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clue_solver_action_duration_seconds",
		Help:    "Solver action latency",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 20},
	}, []string{"action"})

	SimulationTrials = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clue_simulation_trials",
		Help:    "Deals attempted per simulation",
		Buckets: []float64{10, 100, 500, 1000, 2000, 5000},
	})

	SimulationAcceptance = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clue_simulation_acceptance_ratio",
		Help:    "Fraction of attempted deals that were consistent",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	InconsistentStates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clue_inconsistent_states_total",
		Help: "Actions that left a game with contradictory beliefs",
	})

	GRPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clue_grpc_requests_total",
		Help: "gRPC requests by method and status code",
	}, []string{"method", "code"})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clue_websocket_clients",
		Help: "Connected websocket subscribers",
	})
)

// ObserveAction records one finished action.
func ObserveAction(action, result string, start time.Time) {
	ActionsTotal.WithLabelValues(action, result).Inc()
	ActionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// ObserveSimulation records the size and yield of a simulation.
func ObserveSimulation(attempted, consistent int) {
	SimulationTrials.Observe(float64(attempted))
	if attempted > 0 {
		SimulationAcceptance.Observe(float64(consistent) / float64(attempted))
	}
}
