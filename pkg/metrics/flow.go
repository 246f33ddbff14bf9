package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the flow counters.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeReplayed  = "replayed"
	OutcomeTimeout   = "timeout"
	OutcomeStale     = "stale"
	OutcomeCancelled = "cancelled"
)

// FlowMetrics records commit, capture and resolver activity. A nil receiver
// or one built without a registerer is a no-op.
type FlowMetrics struct {
	commits        *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	captures       *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	resets         *prometheus.CounterVec
}

// NewFlowMetrics registers the flow metrics on the provided registerer.
func NewFlowMetrics(reg prometheus.Registerer) *FlowMetrics {
	if reg == nil {
		return &FlowMetrics{}
	}
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posflow_commits_total",
		Help: "Commit attempts by flow kind and outcome.",
	}, []string{"kind", "outcome"})
	commitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posflow_commit_duration_seconds",
		Help:    "Duration of commit calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	captures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posflow_capture_total",
		Help: "Camera capture attempts by outcome.",
	}, []string{"outcome"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posflow_resolver_total",
		Help: "Entity resolutions by flow kind and outcome.",
	}, []string{"kind", "outcome"})
	resets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posflow_flow_resets_total",
		Help: "Flow resets by flow kind and reason.",
	}, []string{"kind", "reason"})
	reg.MustRegister(commits, commitDuration, captures, resolutions, resets)
	return &FlowMetrics{
		commits:        commits,
		commitDuration: commitDuration,
		captures:       captures,
		resolutions:    resolutions,
		resets:         resets,
	}
}

// ObserveCommit records one commit attempt and how long it took.
func (m *FlowMetrics) ObserveCommit(kind, outcome string, duration time.Duration) {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
	m.commitDuration.WithLabelValues(normalizeLabel(kind)).Observe(duration.Seconds())
}

func (m *FlowMetrics) IncCapture(outcome string) {
	if m == nil || m.captures == nil {
		return
	}
	m.captures.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *FlowMetrics) IncResolution(kind, outcome string) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// IncReset counts a flow reset. reason is "commit" or "cancel".
func (m *FlowMetrics) IncReset(kind, reason string) {
	if m == nil || m.resets == nil {
		return
	}
	m.resets.WithLabelValues(normalizeLabel(kind), normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
