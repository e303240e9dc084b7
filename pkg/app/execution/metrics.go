package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommitsTotal counts trade commitments by result.
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predikt_commits_total",
			Help: "Trade commitments by result",
		},
		[]string{"result"},
	)

	// TradesTotal counts trades by kind (trade, short_sell) and result.
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predikt_trades_total",
			Help: "Trades sent to settlement by kind and result",
		},
		[]string{"kind", "result"},
	)

	// ExecutionsTotal counts finished executions by final state.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predikt_executions_total",
			Help: "Finished executions by final state",
		},
		[]string{"kind", "state"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predikt_execution_duration_seconds",
			Help:    "Wall time of an execution from first round to completion",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	ExecutionRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "predikt_execution_rounds",
			Help:    "Commit/trade rounds per execution",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)
)

const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultError    = "error"
)
