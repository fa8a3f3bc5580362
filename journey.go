package journey

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aretw0/journey/internal/runtime"
	loamAdapter "github.com/aretw0/journey/pkg/adapters/loam"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/aretw0/journey/pkg/session"
	"github.com/aretw0/loam"
)

var _ ports.Coordinator = (*Engine)(nil)

// Engine is the high-level entry point for the Journey library.
// It binds the Session Coordinator to a definition store, a durable store and a
// recovery cache, and orders calls per session.
type Engine struct {
	runtime     *runtime.Engine
	definitions ports.DefinitionStore
	store       ports.DurableStore
	cache       ports.RecoveryCache
	sessions    *session.Manager
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	notifiers   []ports.CompletionNotifier
	hooks       domain.LifecycleHooks
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
	Name        string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithDefinitions injects a DefinitionStore, bypassing the default Loam initialization.
func WithDefinitions(defs ports.DefinitionStore) Option {
	return func(e *Engine) {
		e.definitions = defs
	}
}

// WithStore sets the durable layer. Defaults to an in-memory store.
func WithStore(store ports.DurableStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithCache sets the recovery cache. Defaults to an in-memory cache.
func WithCache(cache ports.RecoveryCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithLifecycleHooks registers observability hooks.
// It can be given several times; hooks run in registration order.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = domain.CombineHooks(e.hooks, hooks)
	}
}

// WithCompletionNotifier calls n whenever a session is durably completed.
func WithCompletionNotifier(n ports.CompletionNotifier) Option {
	return func(e *Engine) {
		e.notifiers = append(e.notifiers, n)
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTimeout bounds each durable store call (default runtime.DefaultTimeout).
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithDistributedLocker orders calls on the same session across replicas.
func WithDistributedLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithLockTTL bounds how long a distributed lock outlives a crashed holder.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New initializes a new Journey Engine.
// By default, playbooks are read from a Loam repository at repoPath.
// If WithDefinitions is provided, repoPath can be empty and Loam is skipped.
func New(repoPath string, opts ...Option) (*Engine, error) {
	eng := &Engine{}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.definitions == nil {
		if repoPath == "" {
			return nil, fmt.Errorf("repoPath is required when no definition store is provided")
		}

		absPath, err := filepath.Abs(repoPath)
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		eng.Name = filepath.Base(absPath)

		// Strict mode hands numbers over as json.Number; read-only keeps Loam
		// from creating a sandbox, the engine never writes definitions.
		repo, err := loam.Init(absPath,
			loam.WithStrict(true),
			loam.WithReadOnly(true),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize loam: %w", err)
		}
		eng.definitions = loamAdapter.New(loam.NewTypedRepository[map[string]any](repo))
	} else if repoPath != "" {
		eng.Name = filepath.Base(repoPath)
	}

	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.cache == nil {
		eng.cache = memory.NewCache()
	}
	if eng.logger == nil {
		eng.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if eng.Name != "" {
		eng.logger = eng.logger.With("catalog", eng.Name)
	}

	if len(eng.notifiers) > 0 {
		eng.hooks = domain.CombineHooks(eng.hooks, domain.LifecycleHooks{OnComplete: eng.notifyCompletion})
	}

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker))
	}
	if eng.lockTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithLockTTL(eng.lockTTL))
	}
	eng.sessions = session.NewManager(sessionOpts...)

	eng.runtime = runtime.NewEngine(
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLocker(eng.sessions),
		runtime.WithTimeout(eng.timeout),
		runtime.WithClock(eng.now),
	)
	return eng, nil
}

func (e *Engine) notifyCompletion(ctx context.Context, ev *domain.ProgressEvent) {
	for _, n := range e.notifiers {
		if err := n.NotifyCompletion(ctx, *ev.Progress); err != nil {
			e.logger.Warn("completion notification failed",
				"user_id", ev.Key.UserID, "playbook_id", ev.Key.PlaybookID, "err", err)
		}
	}
}

func (e *Engine) context(key domain.SessionKey) runtime.SessionContext {
	return runtime.SessionContext{
		Key:         key,
		Definitions: e.definitions,
		Store:       e.store,
		Cache:       e.cache,
	}
}

// StartPlaybook begins a playbook for a user. Starting an already started
// session returns its current state unchanged.
func (e *Engine) StartPlaybook(ctx context.Context, key domain.SessionKey, externalRef string) (domain.Result, error) {
	return e.runtime.Start(ctx, e.context(key), externalRef)
}

// GetStatus returns the reconciled state of a session. It is the resume entry point.
func (e *Engine) GetStatus(ctx context.Context, key domain.SessionKey) (domain.Result, error) {
	return e.runtime.Status(ctx, e.context(key))
}

// SaveItemResponse validates and stores a response. It never moves the cursor.
func (e *Engine) SaveItemResponse(ctx context.Context, key domain.SessionKey, itemID string, payload map[string]any) (domain.Result, error) {
	return e.runtime.SaveResponse(ctx, e.context(key), itemID, payload)
}

// MoveNext advances to the next item or completes the playbook.
func (e *Engine) MoveNext(ctx context.Context, key domain.SessionKey) (domain.Result, error) {
	return e.runtime.Advance(ctx, e.context(key))
}

// MovePrevious goes back one item.
func (e *Engine) MovePrevious(ctx context.Context, key domain.SessionKey) (domain.Result, error) {
	return e.runtime.Rewind(ctx, e.context(key))
}

// JumpTo moves to an already reached item, or the one right after the frontier.
func (e *Engine) JumpTo(ctx context.Context, key domain.SessionKey, index int) (domain.Result, error) {
	return e.runtime.JumpTo(ctx, e.context(key), index)
}

// AbandonPlaybook terminates a session in progress.
func (e *Engine) AbandonPlaybook(ctx context.Context, key domain.SessionKey) (domain.Result, error) {
	return e.runtime.Abandon(ctx, e.context(key))
}

// ResetPlaybook discards progress and responses in both layers.
func (e *Engine) ResetPlaybook(ctx context.Context, key domain.SessionKey) (domain.Result, error) {
	return e.runtime.Reset(ctx, e.context(key))
}

// ResolveConflict settles a domain.RecoveryConflictError.
func (e *Engine) ResolveConflict(ctx context.Context, key domain.SessionKey, keep domain.Resolution) (domain.Result, error) {
	return e.runtime.ResolveConflict(ctx, e.context(key), keep)
}

// Definitions returns the playbook catalogue.
func (e *Engine) Definitions() ports.DefinitionStore {
	return e.definitions
}

// Store returns the durable layer.
func (e *Engine) Store() ports.DurableStore {
	return e.store
}

// Cache returns the recovery cache.
func (e *Engine) Cache() ports.RecoveryCache {
	return e.cache
}

// PendingRecoveries lists the sessions that still hold a local snapshot.
func (e *Engine) PendingRecoveries() ([]domain.SessionKey, error) {
	return e.cache.List()
}

// Watch returns a channel that signals when playbook definitions change.
// Returns error if the definition store does not support watching.
func (e *Engine) Watch(ctx context.Context) (<-chan string, error) {
	if w, ok := e.definitions.(interface {
		Watch(context.Context) (<-chan string, error)
	}); ok {
		return w.Watch(ctx)
	}
	return nil, fmt.Errorf("current definition store does not support watching")
}

// Session returns a handle bound to one (user, playbook) pair.
func (e *Engine) Session(userID, playbookID string) *Session {
	return &Session{engine: e, Key: domain.NewSessionKey(userID, playbookID)}
}

// Session is a convenience handle over the Engine for a single session.
type Session struct {
	engine *Engine
	Key    domain.SessionKey
}

func (s *Session) Start(ctx context.Context, externalRef string) (domain.Result, error) {
	return s.engine.StartPlaybook(ctx, s.Key, externalRef)
}

func (s *Session) Status(ctx context.Context) (domain.Result, error) {
	return s.engine.GetStatus(ctx, s.Key)
}

func (s *Session) Respond(ctx context.Context, itemID string, payload map[string]any) (domain.Result, error) {
	return s.engine.SaveItemResponse(ctx, s.Key, itemID, payload)
}

func (s *Session) Next(ctx context.Context) (domain.Result, error) {
	return s.engine.MoveNext(ctx, s.Key)
}

func (s *Session) Previous(ctx context.Context) (domain.Result, error) {
	return s.engine.MovePrevious(ctx, s.Key)
}

func (s *Session) JumpTo(ctx context.Context, index int) (domain.Result, error) {
	return s.engine.JumpTo(ctx, s.Key, index)
}

func (s *Session) Abandon(ctx context.Context) (domain.Result, error) {
	return s.engine.AbandonPlaybook(ctx, s.Key)
}

func (s *Session) Reset(ctx context.Context) (domain.Result, error) {
	return s.engine.ResetPlaybook(ctx, s.Key)
}

func (s *Session) Resolve(ctx context.Context, keep domain.Resolution) (domain.Result, error) {
	return s.engine.ResolveConflict(ctx, s.Key, keep)
}
