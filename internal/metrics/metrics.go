// Package metrics counts what the loop recovers from silently. A Collector
// subscribes to the event bus, so counting never changes a loop decision.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Iron-Ham/patchloop/internal/event"
)

const namespace = "patchloop"

// Collector holds the run counters in its own registry.
type Collector struct {
	registry *prometheus.Registry

	attempts         prometheus.Counter
	unusable         *prometheus.CounterVec
	changesApplied   prometheus.Counter
	changesSkipped   *prometheus.CounterVec
	linesChanged     *prometheus.CounterVec
	verifyCommands   *prometheus.CounterVec
	verifyDuration   prometheus.Histogram
	milestones       *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		// attempts counts patch attempts across all milestones.
		attempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total patch attempts",
		}),

		// unusable counts responses that held no usable object.
		// Labels: phase (plan, patch)
		unusable: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unusable_responses_total",
			Help:      "Total model responses without a usable object",
		}, []string{"phase"}),

		changesApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apply",
			Name:      "changes_applied_total",
			Help:      "Total proposed changes applied",
		}),

		// Labels: reason (empty, unsafe_path, over_limit, tool_failed, tool_error)
		changesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apply",
			Name:      "changes_skipped_total",
			Help:      "Total proposed changes skipped",
		}, []string{"reason"}),

		// Labels: kind (added, deleted)
		linesChanged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apply",
			Name:      "lines_total",
			Help:      "Diff lines in applied changes",
		}, []string{"kind"}),

		// Labels: result (pass, fail, timeout)
		verifyCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "commands_total",
			Help:      "Total verification commands run",
		}, []string{"result"}),

		verifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "command_duration_seconds",
			Help:      "Verification command duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		// Labels: outcome (passed, failed), stop_reason
		milestones: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestones_total",
			Help:      "Total milestones finished",
		}, []string{"outcome", "stop_reason"}),

		// Labels: state (the state entered)
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total loop state transitions",
		}, []string{"state"}),
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Attach subscribes the collector to bus and returns the subscription IDs.
func (c *Collector) Attach(bus *event.Bus) []string {
	return []string{
		bus.Subscribe(event.TypeStateChanged, func(e event.Event) {
			if ev, ok := e.(event.StateChangedEvent); ok {
				c.stateTransitions.WithLabelValues(ev.To).Inc()
			}
		}),
		bus.Subscribe(event.TypeAttemptStarted, func(event.Event) {
			c.attempts.Inc()
		}),
		bus.Subscribe(event.TypeResponseUnusable, func(e event.Event) {
			if ev, ok := e.(event.ResponseUnusableEvent); ok {
				c.unusable.WithLabelValues(ev.Phase).Inc()
			}
		}),
		bus.Subscribe(event.TypeChangeApplied, func(e event.Event) {
			ev, ok := e.(event.ChangeAppliedEvent)
			if !ok {
				return
			}
			c.changesApplied.Inc()
			c.linesChanged.WithLabelValues("added").Add(float64(ev.LinesAdded))
			c.linesChanged.WithLabelValues("deleted").Add(float64(ev.LinesDeleted))
		}),
		bus.Subscribe(event.TypeChangeSkipped, func(e event.Event) {
			if ev, ok := e.(event.ChangeSkippedEvent); ok {
				c.changesSkipped.WithLabelValues(ev.Reason).Inc()
			}
		}),
		bus.Subscribe(event.TypeVerifyCommand, func(e event.Event) {
			ev, ok := e.(event.VerifyCommandEvent)
			if !ok {
				return
			}
			result := "fail"
			switch {
			case ev.TimedOut:
				result = "timeout"
			case ev.Passed:
				result = "pass"
			}
			c.verifyCommands.WithLabelValues(result).Inc()
			c.verifyDuration.Observe(ev.Duration.Seconds())
		}),
		bus.Subscribe(event.TypeMilestoneFinished, func(e event.Event) {
			ev, ok := e.(event.MilestoneFinishedEvent)
			if !ok {
				return
			}
			outcome := "failed"
			if ev.Passed {
				outcome = "passed"
			}
			c.milestones.WithLabelValues(outcome, ev.StopReason).Inc()
		}),
	}
}

// WriteToTextfile writes the current metrics in the text exposition format,
// for node_exporter's textfile collector.
func (c *Collector) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
