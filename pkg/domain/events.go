package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStarted    EventType = "started"
	EventTransition EventType = "transition"
	EventResponse   EventType = "response"
	EventCompleted  EventType = "completed"
	EventAbandoned  EventType = "abandoned"
	EventReset      EventType = "reset"
	EventDegraded   EventType = "degraded"
	EventConflict   EventType = "conflict"
)

// Outcome describes what a navigation request did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeCompleted Outcome = "completed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeUnchanged Outcome = "unchanged"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time  `json:"timestamp"`
	Type      EventType  `json:"type"`
	Key       SessionKey `json:"key"`
	Op        string     `json:"op"`
}

// ProgressEvent reports a change of a session's progress.
type ProgressEvent struct {
	EventBase
	From     Status    `json:"from"`
	Progress *Progress `json:"progress"`
	Outcome  Outcome   `json:"outcome,omitempty"`
	ItemID   string    `json:"item_id,omitempty"`
}

// DegradedEvent reports an operation that only reached the Recovery Cache.
type DegradedEvent struct {
	EventBase
	Err error `json:"-"`
}

// ConflictEvent reports a detected recovery conflict.
type ConflictEvent struct {
	EventBase
	DurableAt time.Time `json:"durable_at,omitzero"`
	CachedAt  time.Time `json:"cached_at"`
}

// LifecycleHooks defines callbacks for engine observability and integration.
// OnComplete is the completion callback the host uses to notify external systems.
type LifecycleHooks struct {
	OnStart      func(context.Context, *ProgressEvent)
	OnTransition func(context.Context, *ProgressEvent)
	OnResponse   func(context.Context, *ProgressEvent)
	OnComplete   func(context.Context, *ProgressEvent)
	OnAbandon    func(context.Context, *ProgressEvent)
	OnReset      func(context.Context, *ProgressEvent)
	OnDegraded   func(context.Context, *DegradedEvent)
	OnConflict   func(context.Context, *ConflictEvent)
}

// CombineHooks fans every callback out to each of hooks in order.
func CombineHooks(hooks ...LifecycleHooks) LifecycleHooks {
	progress := func(pick func(LifecycleHooks) func(context.Context, *ProgressEvent)) func(context.Context, *ProgressEvent) {
		var fns []func(context.Context, *ProgressEvent)
		for _, h := range hooks {
			if fn := pick(h); fn != nil {
				fns = append(fns, fn)
			}
		}
		if len(fns) == 0 {
			return nil
		}
		return func(ctx context.Context, e *ProgressEvent) {
			for _, fn := range fns {
				fn(ctx, e)
			}
		}
	}

	var degraded []func(context.Context, *DegradedEvent)
	var conflict []func(context.Context, *ConflictEvent)
	for _, h := range hooks {
		if h.OnDegraded != nil {
			degraded = append(degraded, h.OnDegraded)
		}
		if h.OnConflict != nil {
			conflict = append(conflict, h.OnConflict)
		}
	}

	out := LifecycleHooks{
		OnStart:      progress(func(h LifecycleHooks) func(context.Context, *ProgressEvent) { return h.OnStart }),
		OnTransition: progress(func(h LifecycleHooks) func(context.Context, *ProgressEvent) { return h.OnTransition }),
		OnResponse:   progress(func(h LifecycleHooks) func(context.Context, *ProgressEvent) { return h.OnResponse }),
		OnComplete:   progress(func(h LifecycleHooks) func(context.Context, *ProgressEvent) { return h.OnComplete }),
		OnAbandon:    progress(func(h LifecycleHooks) func(context.Context, *ProgressEvent) { return h.OnAbandon }),
		OnReset:      progress(func(h LifecycleHooks) func(context.Context, *ProgressEvent) { return h.OnReset }),
	}
	if len(degraded) > 0 {
		out.OnDegraded = func(ctx context.Context, e *DegradedEvent) {
			for _, fn := range degraded {
				fn(ctx, e)
			}
		}
	}
	if len(conflict) > 0 {
		out.OnConflict = func(ctx context.Context, e *ConflictEvent) {
			for _, fn := range conflict {
				fn(ctx, e)
			}
		}
	}
	return out
}
