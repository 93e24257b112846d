package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	ScenarioOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_scenarios_total",
		Help: "Scenario runs by name and outcome",
	}, []string{"scenario", "outcome"})

	ScenarioDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harness_scenario_seconds",
		Help:    "Wall time of a scenario from submission to final assertion",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. 512s
	}, []string{"scenario"})

	PollIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_poll_iterations_total",
		Help: "Number of fetches performed by reconciliation waits",
	}, []string{"wait"})

	PollTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_poll_timeouts_total",
		Help: "Number of reconciliation waits that hit their deadline",
	}, []string{"wait"})

	WaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harness_wait_seconds",
		Help:    "Time until a reconciliation wait was satisfied or gave up",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"wait", "result"})

	RetriesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_retries_decoded_total",
		Help: "Pending retry payloads decoded, by record kind",
	}, []string{"chain_id", "kind"})

	RPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_rpc_errors_total",
		Help: "Ledger RPC failures by chain and operation",
	}, []string{"chain_id", "op"})

	GasUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harness_gas_used",
		Help:    "Gas used by submitted transactions",
		Buckets: prometheus.ExponentialBuckets(21000, 2, 10), // Start at 21000 with 10 buckets doubling in size
	}, []string{"chain_id", "method"})

	EventsObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_events_observed_total",
		Help: "Contract events delivered to watch handlers",
	}, []string{"chain_id", "event"})

	CircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harness_circuit_open",
		Help: "1 when scheduling against the chain is suspended",
	}, []string{"chain_id"})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_sink_errors_total",
		Help: "Result sink write failures",
	}, []string{"sink"})
)
