package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(op string, outcome domain.Outcome) *domain.ProgressEvent {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &domain.ProgressEvent{
		EventBase: domain.EventBase{Type: domain.EventTransition, Key: domain.NewSessionKey("ana", "onboarding"), Op: op},
		Progress: &domain.Progress{
			UserID: "ana", PlaybookID: "onboarding", Status: domain.StatusCompleted,
			StartedAt: start, CompletedAt: start.Add(10 * time.Minute),
		},
		Outcome: outcome,
	}
}

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	hooks := m.Hooks()
	ctx := context.Background()
	hooks.OnStart(ctx, event("start", domain.OutcomeApplied))
	hooks.OnTransition(ctx, event("next", domain.OutcomeApplied))
	hooks.OnTransition(ctx, event("next", domain.OutcomeApplied))
	hooks.OnTransition(ctx, event("next", domain.OutcomeBlocked))
	hooks.OnComplete(ctx, event("next", domain.OutcomeCompleted))
	hooks.OnDegraded(ctx, &domain.DegradedEvent{EventBase: domain.EventBase{Op: "respond"}, Err: errors.New("down")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Started.WithLabelValues("onboarding")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("onboarding", "next", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("onboarding", "next", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Completed.WithLabelValues("onboarding")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Degraded.WithLabelValues("respond")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Duration))

	_, err = observability.NewMetrics(reg)
	assert.Error(t, err, "collectors cannot be registered twice")
}

func TestLogHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hooks := domain.CombineHooks(observability.LogHooks(logger))
	hooks.OnTransition(context.Background(), event("jump", domain.OutcomeApplied))
	hooks.OnConflict(context.Background(), &domain.ConflictEvent{EventBase: domain.EventBase{Key: domain.NewSessionKey("ana", "onboarding")}})

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG msg=transition")
	assert.Contains(t, out, "op=jump")
	assert.Contains(t, out, "outcome=applied")
	assert.Contains(t, out, "level=WARN msg=recovery_conflict")
}
