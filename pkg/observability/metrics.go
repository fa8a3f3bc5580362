package observability

import (
	"context"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors fed by the lifecycle hooks.
type Metrics struct {
	Started     *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Responses   *prometheus.CounterVec
	Completed   *prometheus.CounterVec
	Abandoned   *prometheus.CounterVec
	Resets      *prometheus.CounterVec
	Degraded    *prometheus.CounterVec
	Conflicts   *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		Started:     counter("sessions_started_total", "Playbooks started.", "playbook_id"),
		Transitions: counter("transitions_total", "Navigation requests by outcome.", "playbook_id", "op", "outcome"),
		Responses:   counter("responses_total", "Item responses accepted.", "playbook_id", "item_id"),
		Completed:   counter("sessions_completed_total", "Playbooks completed.", "playbook_id"),
		Abandoned:   counter("sessions_abandoned_total", "Playbooks abandoned.", "playbook_id"),
		Resets:      counter("sessions_reset_total", "Playbooks reset.", "playbook_id"),
		Degraded:    counter("degraded_operations_total", "Operations only held by the recovery cache.", "op"),
		Conflicts:   counter("recovery_conflicts_total", "Recovery conflicts detected.", "playbook_id"),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "journey",
			Name:      "completion_duration_seconds",
			Help:      "Time from start to completion of a playbook.",
			Buckets:   prometheus.ExponentialBuckets(60, 4, 8),
		}, []string{"playbook_id"}),
	}

	for _, c := range []prometheus.Collector{
		m.Started, m.Transitions, m.Responses, m.Completed, m.Abandoned,
		m.Resets, m.Degraded, m.Conflicts, m.Duration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks recording into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStart: func(_ context.Context, e *domain.ProgressEvent) {
			m.Started.WithLabelValues(e.Key.PlaybookID).Inc()
		},
		OnTransition: func(_ context.Context, e *domain.ProgressEvent) {
			m.Transitions.WithLabelValues(e.Key.PlaybookID, e.Op, string(e.Outcome)).Inc()
		},
		OnResponse: func(_ context.Context, e *domain.ProgressEvent) {
			m.Responses.WithLabelValues(e.Key.PlaybookID, e.ItemID).Inc()
		},
		OnComplete: func(_ context.Context, e *domain.ProgressEvent) {
			m.Completed.WithLabelValues(e.Key.PlaybookID).Inc()
			if p := e.Progress; p != nil && !p.StartedAt.IsZero() && !p.CompletedAt.IsZero() {
				m.Duration.WithLabelValues(e.Key.PlaybookID).Observe(p.CompletedAt.Sub(p.StartedAt).Seconds())
			}
		},
		OnAbandon: func(_ context.Context, e *domain.ProgressEvent) {
			m.Abandoned.WithLabelValues(e.Key.PlaybookID).Inc()
		},
		OnReset: func(_ context.Context, e *domain.ProgressEvent) {
			m.Resets.WithLabelValues(e.Key.PlaybookID).Inc()
		},
		OnDegraded: func(_ context.Context, e *domain.DegradedEvent) {
			m.Degraded.WithLabelValues(e.Op).Inc()
		},
		OnConflict: func(_ context.Context, e *domain.ConflictEvent) {
			m.Conflicts.WithLabelValues(e.Key.PlaybookID).Inc()
		},
	}
}
