package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/aretw0/journey/pkg/domain"
)

// loaded is the session state an operation starts from.
type loaded struct {
	progress  domain.Progress
	responses map[string]domain.Response
	source    domain.Source

	// durableErr is set when the durable store was unreachable and the state
	// came from the recovery cache.
	durableErr error
}

// load reads the durable state and reconciles it with the recovery cache.
//
//   - durable reachable, cache absent or not newer: durable wins; an older cache is refreshed.
//   - durable reachable, cache strictly newer: RecoveryConflictError.
//   - durable has no record but the cache has one: RecoveryConflictError.
//   - durable unreachable: the cached snapshot is served (degraded), or the PersistenceError
//     is returned when nothing is cached.
func (e *Engine) load(ctx context.Context, sc SessionContext, op string) (loaded, error) {
	key := sc.Key

	var p domain.Progress
	var responses map[string]domain.Response
	derr := e.durable(ctx, "load", func(ctx context.Context) error {
		var err error
		if p, err = sc.Store.LoadProgress(ctx, key); err != nil {
			return err
		}
		responses, err = sc.Store.GetResponses(ctx, key)
		return err
	})

	snap, cerr := sc.Cache.Read(key)
	cached := cerr == nil
	if cerr != nil && !errors.Is(cerr, domain.ErrSnapshotAbsent) {
		e.logger.Warn("recovery cache unreadable, ignoring it", "user_id", key.UserID, "playbook_id", key.PlaybookID, "error", cerr)
	}

	switch {
	case derr == nil:
		if responses == nil {
			responses = map[string]domain.Response{}
		}
		marker := domain.Marker(p, responses)
		if cached && snap.LastSavedAt.After(marker) {
			return loaded{}, e.conflict(ctx, key, op, &p, snap)
		}
		if cached && snap.LastSavedAt.Before(marker) {
			if err := sc.Cache.Write(key, domain.NewSnapshot(p, responses)); err != nil {
				e.logger.Warn("failed to refresh recovery cache", "user_id", key.UserID, "playbook_id", key.PlaybookID, "error", err)
			}
		}
		return loaded{progress: p, responses: responses, source: domain.SourceDurable}, nil

	case errors.Is(derr, domain.ErrNotFound):
		if cached {
			return loaded{}, e.conflict(ctx, key, op, nil, snap)
		}
		return loaded{}, fmt.Errorf("%w: %s", domain.ErrProgressNotFound, key)

	default:
		if !cached {
			return loaded{}, derr
		}
		e.emitDegraded(ctx, key, op, derr)
		return loaded{
			progress:   snap.Progress,
			responses:  snap.ResponseMap(),
			source:     domain.SourceCache,
			durableErr: derr,
		}, nil
	}
}

func (e *Engine) conflict(ctx context.Context, key domain.SessionKey, op string, durable *domain.Progress, snap domain.RecoverySnapshot) error {
	ev := &domain.ConflictEvent{
		EventBase: domain.EventBase{Timestamp: e.clock(), Type: domain.EventConflict, Key: key, Op: op},
		CachedAt:  snap.LastSavedAt,
	}
	if durable != nil {
		ev.DurableAt = durable.UpdatedAt
	}
	e.logger.Warn("recovery conflict detected", "user_id", key.UserID, "playbook_id", key.PlaybookID, "op", op, "cached_at", snap.LastSavedAt)
	if e.hooks.OnConflict != nil {
		e.hooks.OnConflict(ctx, ev)
	}
	return &domain.RecoveryConflictError{Key: key, Durable: durable, Cached: &snap}
}

// commit writes a new progress through both layers: durable first, then the
// cache regardless of the durable outcome. A session that was served from the
// cache is not written durably; it stays local until a load reaches the
// durable store and the conflict is resolved.
func (e *Engine) commit(ctx context.Context, sc SessionContext, op string, prev loaded, next domain.Progress) (domain.Result, error) {
	derr := prev.durableErr
	if prev.source == domain.SourceDurable {
		derr = e.durable(ctx, "save progress", func(ctx context.Context) error {
			return sc.Store.SaveProgress(ctx, next, prev.progress.Revision)
		})
		if errors.Is(derr, domain.ErrStaleWrite) {
			return domain.Result{}, derr
		}
	}

	var cerr error
	if derr == nil && next.Status == domain.StatusCompleted {
		cerr = sc.Cache.Clear(sc.Key)
	} else {
		cerr = sc.Cache.Write(sc.Key, domain.NewSnapshot(next, prev.responses))
	}
	return e.settle(ctx, sc.Key, op, next, prev.responses, derr, cerr, prev.source == domain.SourceDurable)
}

// settle turns the outcome of both layers into a Result. Failure of both is an error.
// attempted tells whether derr comes from this write rather than from the load.
func (e *Engine) settle(ctx context.Context, key domain.SessionKey, op string, p domain.Progress, responses map[string]domain.Response, derr, cerr error, attempted bool) (domain.Result, error) {
	if cerr != nil {
		cerr = &domain.CacheError{Op: op, Err: cerr}
		e.logger.Warn("recovery cache write failed", "user_id", key.UserID, "playbook_id", key.PlaybookID, "op", op, "error", cerr)
	}
	if derr != nil && cerr != nil {
		return domain.Result{}, errors.Join(derr, cerr)
	}

	res := domain.Result{
		Progress:  p,
		Responses: maps.Clone(responses),
		Source:    domain.SourceDurable,
		Durable:   derr,
		Cache:     cerr,
	}
	if derr != nil {
		res.Source = domain.SourceCache
		if attempted {
			e.emitDegraded(ctx, key, op, derr)
		}
	}
	return res, nil
}

func resultOf(st loaded) domain.Result {
	return domain.Result{
		Progress:  st.progress,
		Responses: maps.Clone(st.responses),
		Source:    st.source,
		Durable:   st.durableErr,
	}
}
