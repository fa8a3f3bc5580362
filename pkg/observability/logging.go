package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/journey/pkg/domain"
)

// LogHooks returns lifecycle hooks writing one structured record per event.
// Cursor moves are logged at Debug, degraded writes and conflicts at Warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	progress := func(level slog.Level, msg string) func(context.Context, *domain.ProgressEvent) {
		return func(ctx context.Context, e *domain.ProgressEvent) {
			attrs := []any{
				"user_id", e.Key.UserID,
				"playbook_id", e.Key.PlaybookID,
				"op", e.Op,
				"from", string(e.From),
			}
			if e.Progress != nil {
				attrs = append(attrs, "status", string(e.Progress.Status), "index", e.Progress.CurrentIndex)
			}
			if e.Outcome != "" {
				attrs = append(attrs, "outcome", string(e.Outcome))
			}
			if e.ItemID != "" {
				attrs = append(attrs, "item_id", e.ItemID)
			}
			logger.Log(ctx, level, msg, attrs...)
		}
	}

	return domain.LifecycleHooks{
		OnStart:      progress(slog.LevelInfo, "playbook_started"),
		OnTransition: progress(slog.LevelDebug, "transition"),
		OnResponse:   progress(slog.LevelInfo, "response_saved"),
		OnComplete:   progress(slog.LevelInfo, "playbook_completed"),
		OnAbandon:    progress(slog.LevelInfo, "playbook_abandoned"),
		OnReset:      progress(slog.LevelInfo, "playbook_reset"),
		OnDegraded: func(ctx context.Context, e *domain.DegradedEvent) {
			logger.WarnContext(ctx, "degraded",
				"user_id", e.Key.UserID, "playbook_id", e.Key.PlaybookID, "op", e.Op, "err", e.Err)
		},
		OnConflict: func(ctx context.Context, e *domain.ConflictEvent) {
			logger.WarnContext(ctx, "recovery_conflict",
				"user_id", e.Key.UserID, "playbook_id", e.Key.PlaybookID,
				"durable_at", e.DurableAt, "cached_at", e.CachedAt)
		},
	}
}
