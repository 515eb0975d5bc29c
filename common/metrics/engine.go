// Package metrics exposes the engine's Prometheus collectors. A nil *Engine
// is a valid no-op, so callers never guard their instrumentation calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine bundles the execution engine's collectors.
type Engine struct {
	executionsStarted *prometheus.CounterVec
	executionsSettled *prometheus.CounterVec
	executionDuration prometheus.Histogram

	nodesSettled *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec

	creditsConsumed prometheus.Counter
	broadcastDrops  prometheus.Counter

	stepsRun      prometheus.Counter
	stepsReplayed prometheus.Counter
}

// NewEngine builds and registers the engine collectors. Registration
// panics on duplicate registration, same as prometheus.MustRegister;
// construct once per process.
func NewEngine(reg prometheus.Registerer) *Engine {
	e := &Engine{
		executionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_executions_started_total",
			Help: "Workflow executions that passed the credit pre-check and started.",
		}, []string{"trigger"}),
		executionsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_executions_settled_total",
			Help: "Workflow executions that reached a terminal status.",
		}, []string{"status"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_execution_duration_seconds",
			Help:    "Wall time of whole workflow executions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 12),
		}),
		nodesSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_nodes_settled_total",
			Help: "Node outcomes by status.",
		}, []string{"type", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_node_duration_seconds",
			Help:    "Wall time of individual node invocations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2.5, 12),
		}, []string{"type"}),
		creditsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_credits_consumed_total",
			Help: "Compute credits recorded against organizations.",
		}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_broadcast_drops_total",
			Help: "Monitoring snapshots that could not be delivered.",
		}),
		stepsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_steps_run_total",
			Help: "Durable steps executed for the first time.",
		}),
		stepsReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_steps_replayed_total",
			Help: "Durable steps answered from the replay cache.",
		}),
	}

	reg.MustRegister(
		e.executionsStarted,
		e.executionsSettled,
		e.executionDuration,
		e.nodesSettled,
		e.nodeDuration,
		e.creditsConsumed,
		e.broadcastDrops,
		e.stepsRun,
		e.stepsReplayed,
	)
	return e
}

// ExecutionStarted counts a run entering its first level.
func (e *Engine) ExecutionStarted(trigger string) {
	if e == nil {
		return
	}
	if trigger == "" {
		trigger = "manual"
	}
	e.executionsStarted.WithLabelValues(trigger).Inc()
}

// ExecutionSettled counts a run reaching a terminal status.
func (e *Engine) ExecutionSettled(status string, d time.Duration) {
	if e == nil {
		return
	}
	e.executionsSettled.WithLabelValues(status).Inc()
	e.executionDuration.Observe(d.Seconds())
}

// NodeSettled counts one node outcome and observes its duration.
func (e *Engine) NodeSettled(nodeType, status string, d time.Duration) {
	if e == nil {
		return
	}
	e.nodesSettled.WithLabelValues(nodeType, status).Inc()
	e.nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}

// CreditsConsumed adds recorded usage.
func (e *Engine) CreditsConsumed(usage int64) {
	if e == nil || usage <= 0 {
		return
	}
	e.creditsConsumed.Add(float64(usage))
}

// BroadcastDropped counts an undeliverable monitoring snapshot.
func (e *Engine) BroadcastDropped() {
	if e == nil {
		return
	}
	e.broadcastDrops.Inc()
}

// StepRun counts a step executed for the first time.
func (e *Engine) StepRun() {
	if e == nil {
		return
	}
	e.stepsRun.Inc()
}

// StepReplayed counts a step answered from the replay cache.
func (e *Engine) StepReplayed() {
	if e == nil {
		return
	}
	e.stepsReplayed.Inc()
}
