package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/journey/internal/logging"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

// DefaultTimeout bounds every durable store call.
const DefaultTimeout = 5 * time.Second

// Locker serializes operations on one session. *session.Manager satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key domain.SessionKey, fn func(context.Context) error) error
}

// SessionContext carries the collaborators one coordinator call works against.
type SessionContext struct {
	Key         domain.SessionKey
	Definitions ports.DefinitionStore
	Store       ports.DurableStore
	Cache       ports.RecoveryCache
}

// Validate ensures every collaborator is present.
func (sc SessionContext) Validate() error {
	if err := sc.Key.Validate(); err != nil {
		return err
	}
	switch {
	case sc.Definitions == nil:
		return errors.New("definition store is required")
	case sc.Store == nil:
		return errors.New("durable store is required")
	case sc.Cache == nil:
		return errors.New("recovery cache is required")
	}
	return nil
}

// Engine implements the Session Coordinator: it applies tracker transitions and
// writes the outcome through the durable store and the recovery cache.
type Engine struct {
	locker  Locker
	timeout time.Duration
	now     func() time.Time
	ids     *idGenerator
	hooks   domain.LifecycleHooks
	logger  *slog.Logger
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTimeout sets the deadline applied to each durable store call.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLocker serializes operations per session.
func WithLocker(l Locker) EngineOption {
	return func(e *Engine) {
		e.locker = l
	}
}

// NewEngine creates an engine. Without WithLocker calls are not serialized.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		timeout: DefaultTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		ids:     newIDGenerator(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func (e *Engine) locked(ctx context.Context, sc SessionContext, fn func(context.Context) error) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if e.locker == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx)
	}
	return e.locker.WithLock(ctx, sc.Key, fn)
}

// durable runs one durable store call under the engine timeout. Not-found and
// stale-write results pass through; any other failure becomes a PersistenceError.
func (e *Engine) durable(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := fn(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrStaleWrite):
		return err
	default:
		return &domain.PersistenceError{Op: op, Err: err}
	}
}

// definition loads the playbook and its items.
func (e *Engine) definition(ctx context.Context, sc SessionContext) (domain.Playbook, *Tracker, error) {
	pb, err := sc.Definitions.GetPlaybook(ctx, sc.Key.PlaybookID)
	if err != nil {
		return domain.Playbook{}, nil, err
	}
	items, err := sc.Definitions.GetItems(ctx, sc.Key.PlaybookID)
	if err != nil {
		return domain.Playbook{}, nil, err
	}
	if len(items) == 0 {
		return domain.Playbook{}, nil, &domain.DefinitionError{PlaybookID: pb.ID, Problems: []string{"playbook has no items"}}
	}
	return pb, NewTracker(items, e.clock), nil
}

func (e *Engine) findItem(ctx context.Context, sc SessionContext, itemID string) (domain.Item, int, error) {
	items, err := sc.Definitions.GetItems(ctx, sc.Key.PlaybookID)
	if err != nil {
		return domain.Item{}, 0, err
	}
	for idx, item := range items {
		if item.ID == itemID {
			return item, idx, nil
		}
	}
	return domain.Item{}, 0, fmt.Errorf("%w: %s in playbook %s", domain.ErrItemNotFound, itemID, sc.Key.PlaybookID)
}

func (e *Engine) progressEvent(typ domain.EventType, op string, from domain.Status, p domain.Progress) *domain.ProgressEvent {
	return &domain.ProgressEvent{
		EventBase: domain.EventBase{
			Timestamp: e.clock(),
			Type:      typ,
			Key:       p.Key(),
			Op:        op,
		},
		From:     from,
		Progress: &p,
	}
}

func (e *Engine) emit(ctx context.Context, fn func(context.Context, *domain.ProgressEvent), ev *domain.ProgressEvent) {
	if fn != nil {
		fn(ctx, ev)
	}
}

func (e *Engine) emitDegraded(ctx context.Context, key domain.SessionKey, op string, err error) {
	e.logger.Warn("durable store unavailable, serving from recovery cache",
		"user_id", key.UserID, "playbook_id", key.PlaybookID, "op", op, "error", err)
	if e.hooks.OnDegraded != nil {
		e.hooks.OnDegraded(ctx, &domain.DegradedEvent{
			EventBase: domain.EventBase{Timestamp: e.clock(), Type: domain.EventDegraded, Key: key, Op: op},
			Err:       err,
		})
	}
}
