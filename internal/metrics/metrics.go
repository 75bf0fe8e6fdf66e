// Package metrics holds the Prometheus collectors shared by the pool client components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "andyhost"

var (
	membershipState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "state",
			Help:      "1 for the current membership state, 0 otherwise",
		},
		[]string{"state"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "transitions_total",
			Help:      "Membership state transitions",
		},
		[]string{"from", "to"},
	)

	heartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent by outcome (ack, unknown, error)",
		},
		[]string{"outcome"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Work polls by outcome (work, empty, unknown, error)",
		},
		[]string{"outcome"},
	)

	workTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "work_items_total",
			Help:      "Work items executed by task type and outcome",
		},
		[]string{"task_type", "outcome"},
	)

	workDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "work_duration_seconds",
			Help:      "Duration of work item execution against the backend",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"task_type"},
	)

	workInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "inflight",
			Help:      "Work items currently executing",
		},
	)

	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "submissions_total",
			Help:      "Result submissions by outcome (ok, error)",
		},
		[]string{"outcome"},
	)

	catalogFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "fetches_total",
			Help:      "Backend model list fetches by outcome (ok, error)",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		membershipState,
		transitionsTotal,
		heartbeatsTotal,
		pollsTotal,
		workTotal,
		workDuration,
		workInflight,
		submissionsTotal,
		catalogFetchesTotal,
	)
}

// States lists every membership state label so the gauge is exhaustive.
var States = []string{"unregistered", "registering", "verifying", "registered", "degraded"}

// SetMembershipState flips the state gauge to the given state.
func SetMembershipState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		membershipState.WithLabelValues(s).Set(v)
	}
}

// Transition records a state change.
func Transition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
	SetMembershipState(to)
}

func Heartbeat(outcome string) { heartbeatsTotal.WithLabelValues(outcome).Inc() }

func Poll(outcome string) { pollsTotal.WithLabelValues(outcome).Inc() }

// WorkDone records one finished work item. outcome is success, busy,
// rejected or failure.
func WorkDone(taskType, outcome string, dur time.Duration) {
	workTotal.WithLabelValues(taskType, outcome).Inc()
	workDuration.WithLabelValues(taskType).Observe(dur.Seconds())
}

func WorkStarted()  { workInflight.Inc() }
func WorkFinished() { workInflight.Dec() }

func Submission(ok bool) {
	if ok {
		submissionsTotal.WithLabelValues("ok").Inc()
		return
	}
	submissionsTotal.WithLabelValues("error").Inc()
}

func CatalogFetch(ok bool) {
	if ok {
		catalogFetchesTotal.WithLabelValues("ok").Inc()
		return
	}
	catalogFetchesTotal.WithLabelValues("error").Inc()
}
