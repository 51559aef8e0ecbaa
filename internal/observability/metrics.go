package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters the orchestration core reports. Constructed
// against an injected registerer so tests can use a fresh registry.
type Metrics struct {
	RunsStarted     prometheus.Counter
	RunsCompleted   *prometheus.CounterVec
	RunsRejected    prometheus.Counter
	ActiveRuns      prometheus.Gauge
	ExecutorSteps   prometheus.Counter
	SubtasksTotal   *prometheus.CounterVec
	DeviceBusyTotal prometheus.Counter
	ModelFailures   prometheus.Counter
}

// NewMetrics registers the core metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "droid_runs_started_total",
			Help: "Planner runs accepted and started.",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "droid_runs_completed_total",
			Help: "Planner runs finished, by terminal state.",
		}, []string{"state"}),
		RunsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "droid_runs_rejected_total",
			Help: "Task requests rejected because a run was already active.",
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "droid_active_runs",
			Help: "Planner runs currently in flight.",
		}),
		ExecutorSteps: factory.NewCounter(prometheus.CounterOpts{
			Name: "droid_executor_steps_total",
			Help: "Perception-action steps executed across all sub-tasks.",
		}),
		SubtasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "droid_subtasks_total",
			Help: "Sub-task delegations, by outcome.",
		}, []string{"outcome"}),
		DeviceBusyTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "droid_device_busy_total",
			Help: "Delegations that found the device lock held.",
		}),
		ModelFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "droid_model_failures_total",
			Help: "Model calls that failed after local retry.",
		}),
	}
}
