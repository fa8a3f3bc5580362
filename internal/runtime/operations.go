package runtime

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/aretw0/journey/pkg/domain"
)

// Start begins the playbook for the session. It is idempotent: a session that
// was already started is returned unchanged.
func (e *Engine) Start(ctx context.Context, sc SessionContext, externalRef string) (domain.Result, error) {
	var res domain.Result
	err := e.locked(ctx, sc, func(ctx context.Context) error {
		pb, tracker, err := e.definition(ctx, sc)
		if err != nil {
			return err
		}

		st, err := e.load(ctx, sc, "start")
		var persistErr *domain.PersistenceError
		switch {
		case err == nil:
			if st.progress.Status != domain.StatusNotStarted {
				res = resultOf(st)
				res.Outcome = domain.OutcomeUnchanged
				return nil
			}
		case errors.Is(err, domain.ErrNotFound), errors.As(err, &persistErr):
			// Nothing durable and nothing cached: the create is attempted durably
			// and degrades to the cache if the store is still unreachable.
			st = loaded{
				progress:  domain.NewProgress(sc.Key, externalRef),
				responses: map[string]domain.Response{},
				source:    domain.SourceDurable,
			}
		default:
			return err
		}

		if externalRef != "" {
			st.progress.ExternalRef = externalRef
		}
		step, err := tracker.Start(st.progress, pb.Version)
		if err != nil {
			return err
		}
		step.Progress.ID = st.progress.ID
		if step.Progress.ID == "" {
			step.Progress.ID = e.ids.New(step.Progress.StartedAt)
		}

		res, err = e.commit(ctx, sc, "start", st, step.Progress)
		if errors.Is(err, domain.ErrStaleWrite) {
			// Another writer created the session first.
			st, err = e.load(ctx, sc, "start")
			if err != nil {
				return err
			}
			res = resultOf(st)
			res.Outcome = domain.OutcomeUnchanged
			return nil
		}
		if err != nil {
			return err
		}

		res.Outcome = step.Outcome
		e.logger.Info("playbook started", "user_id", sc.Key.UserID, "playbook_id", sc.Key.PlaybookID, "version", pb.Version, "degraded", res.Degraded())
		e.emit(ctx, e.hooks.OnStart, e.progressEvent(domain.EventStarted, "start", domain.StatusNotStarted, res.Progress))
		return nil
	})
	return res, err
}

// Status returns the reconciled state of the session without mutating it.
func (e *Engine) Status(ctx context.Context, sc SessionContext) (domain.Result, error) {
	var res domain.Result
	err := e.locked(ctx, sc, func(ctx context.Context) error {
		st, err := e.load(ctx, sc, "status")
		if err != nil {
			return err
		}
		res = resultOf(st)
		return nil
	})
	return res, err
}

// SaveResponse validates and upserts the response for itemID. Validation runs
// before any I/O; an invalid payload is never stored.
func (e *Engine) SaveResponse(ctx context.Context, sc SessionContext, itemID string, payload map[string]any) (domain.Result, error) {
	if err := sc.Validate(); err != nil {
		return domain.Result{}, err
	}
	item, idx, err := e.findItem(ctx, sc, itemID)
	if err != nil {
		return domain.Result{}, err
	}
	canonical, err := domain.CanonicalPayload(payload)
	if err != nil {
		return domain.Result{}, &domain.ValidationError{ItemID: itemID, Err: err}
	}
	if err := Validate(item, canonical); err != nil {
		return domain.Result{}, err
	}

	var res domain.Result
	err = e.locked(ctx, sc, func(ctx context.Context) error {
		st, err := e.load(ctx, sc, "save response")
		if err != nil {
			return err
		}
		if st.progress.Status != domain.StatusInProgress {
			return &domain.TransitionError{Op: "save response", From: st.progress.Status}
		}
		if idx > st.progress.FrontierIndex {
			return &domain.ItemNotReachedError{ItemID: itemID, Index: idx, Frontier: st.progress.FrontierIndex}
		}

		now := e.clock()
		if marker := domain.Marker(st.progress, st.responses); !now.After(marker) {
			now = marker.Add(time.Nanosecond)
		}
		r := domain.Response{
			UserID:      sc.Key.UserID,
			PlaybookID:  sc.Key.PlaybookID,
			ItemID:      itemID,
			Payload:     canonical,
			CompletedAt: now,
			UpdatedAt:   now,
		}
		if existing, ok := st.responses[itemID]; ok {
			r = existing.Merge(r)
		} else {
			r.ID = e.ids.New(now)
		}

		derr := st.durableErr
		if st.source == domain.SourceDurable {
			derr = e.durable(ctx, "save response", func(ctx context.Context) error {
				stored, err := sc.Store.SaveResponse(ctx, r)
				if err == nil {
					r = stored
				}
				return err
			})
		}

		responses := maps.Clone(st.responses)
		responses[itemID] = r
		cerr := sc.Cache.Write(sc.Key, domain.NewSnapshot(st.progress, responses))

		res, err = e.settle(ctx, sc.Key, "save response", st.progress, responses, derr, cerr, st.source == domain.SourceDurable)
		if err != nil {
			return err
		}
		res.Outcome = domain.OutcomeApplied

		ev := e.progressEvent(domain.EventResponse, "save response", st.progress.Status, st.progress)
		ev.ItemID = itemID
		e.emit(ctx, e.hooks.OnResponse, ev)
		return nil
	})
	return res, err
}

// Advance moves to the next item or completes the playbook.
func (e *Engine) Advance(ctx context.Context, sc SessionContext) (domain.Result, error) {
	return e.navigate(ctx, sc, "advance", func(t *Tracker, st loaded) (Step, error) {
		return t.Advance(st.progress, answeredBy(st.responses))
	})
}

// Rewind moves to the previous item.
func (e *Engine) Rewind(ctx context.Context, sc SessionContext) (domain.Result, error) {
	return e.navigate(ctx, sc, "rewind", func(t *Tracker, st loaded) (Step, error) {
		return t.Rewind(st.progress)
	})
}

// JumpTo moves to index, which must lie within the reached frontier plus one.
func (e *Engine) JumpTo(ctx context.Context, sc SessionContext, index int) (domain.Result, error) {
	return e.navigate(ctx, sc, "jump", func(t *Tracker, st loaded) (Step, error) {
		return t.JumpTo(st.progress, index)
	})
}

// Abandon ends the run without completing it.
func (e *Engine) Abandon(ctx context.Context, sc SessionContext) (domain.Result, error) {
	return e.navigate(ctx, sc, "abandon", func(t *Tracker, st loaded) (Step, error) {
		return t.Abandon(st.progress)
	})
}

func (e *Engine) navigate(ctx context.Context, sc SessionContext, op string, fn func(*Tracker, loaded) (Step, error)) (domain.Result, error) {
	var res domain.Result
	err := e.locked(ctx, sc, func(ctx context.Context) error {
		_, tracker, err := e.definition(ctx, sc)
		if err != nil {
			return err
		}
		st, err := e.load(ctx, sc, op)
		if err != nil {
			return err
		}

		step, err := fn(tracker, st)
		if err != nil {
			return err
		}
		if step.Outcome == domain.OutcomeBlocked || step.Outcome == domain.OutcomeUnchanged {
			res = resultOf(st)
			res.Outcome = step.Outcome
			res.Blocking = step.Blocking
			if step.Outcome == domain.OutcomeBlocked {
				e.logger.Debug("transition blocked by validation", "user_id", sc.Key.UserID, "playbook_id", sc.Key.PlaybookID, "op", op, "blocking", step.Blocking)
			}
			return nil
		}

		from := st.progress.Status
		res, err = e.commit(ctx, sc, op, st, step.Progress)
		if err != nil {
			return err
		}
		res.Outcome = step.Outcome

		ev := e.progressEvent(domain.EventTransition, op, from, res.Progress)
		ev.Outcome = step.Outcome
		e.emit(ctx, e.hooks.OnTransition, ev)

		switch res.Progress.Status {
		case domain.StatusCompleted:
			// Completion is only announced once the durable store confirmed it.
			if !res.Degraded() {
				e.logger.Info("playbook completed", "user_id", sc.Key.UserID, "playbook_id", sc.Key.PlaybookID)
				e.emit(ctx, e.hooks.OnComplete, e.progressEvent(domain.EventCompleted, op, from, res.Progress))
			}
		case domain.StatusAbandoned:
			e.logger.Info("playbook abandoned", "user_id", sc.Key.UserID, "playbook_id", sc.Key.PlaybookID)
			e.emit(ctx, e.hooks.OnAbandon, e.progressEvent(domain.EventAbandoned, op, from, res.Progress))
		}
		return nil
	})
	return res, err
}

// Reset clears durable progress, responses and the cached snapshot.
//
// Unlike the other mutations, Reset does not write the cache when the durable
// store is unreachable: it returns the PersistenceError and leaves the snapshot
// in place. Clearing only the cache would let the next load serve durable state
// the caller asked to discard.
func (e *Engine) Reset(ctx context.Context, sc SessionContext) (domain.Result, error) {
	var res domain.Result
	err := e.locked(ctx, sc, func(ctx context.Context) error {
		var from domain.Status
		err := e.durable(ctx, "reset", func(ctx context.Context) error {
			p, err := sc.Store.LoadProgress(ctx, sc.Key)
			switch {
			case err == nil:
				from = p.Status
			case errors.Is(err, domain.ErrNotFound):
				from = domain.StatusNotStarted
			default:
				return err
			}
			if err := sc.Store.DeleteResponses(ctx, sc.Key); err != nil {
				return err
			}
			return sc.Store.DeleteProgress(ctx, sc.Key)
		})
		if err != nil {
			return err
		}

		var cerr error
		if err := sc.Cache.Clear(sc.Key); err != nil {
			cerr = &domain.CacheError{Op: "reset", Err: err}
			e.logger.Warn("failed to clear recovery cache", "user_id", sc.Key.UserID, "playbook_id", sc.Key.PlaybookID, "error", err)
		}

		res = domain.Result{
			Progress:  domain.NewProgress(sc.Key, ""),
			Responses: map[string]domain.Response{},
			Outcome:   domain.OutcomeApplied,
			Source:    domain.SourceDurable,
			Cache:     cerr,
		}
		e.logger.Info("playbook reset", "user_id", sc.Key.UserID, "playbook_id", sc.Key.PlaybookID)
		e.emit(ctx, e.hooks.OnReset, e.progressEvent(domain.EventReset, "reset", from, res.Progress))
		return nil
	})
	return res, err
}

// ResolveConflict settles a RecoveryConflictError by the caller's choice.
// KeepDurable discards the local snapshot; KeepLocal pushes it to the durable store.
func (e *Engine) ResolveConflict(ctx context.Context, sc SessionContext, keep domain.Resolution) (domain.Result, error) {
	var res domain.Result
	err := e.locked(ctx, sc, func(ctx context.Context) error {
		var err error
		switch keep {
		case domain.KeepDurable:
			res, err = e.keepDurable(ctx, sc)
		case domain.KeepLocal:
			res, err = e.keepLocal(ctx, sc)
		default:
			_, err = domain.ParseResolution(string(keep))
		}
		if err == nil {
			e.logger.Info("recovery conflict resolved", "user_id", sc.Key.UserID, "playbook_id", sc.Key.PlaybookID, "keep", string(keep))
		}
		return err
	})
	return res, err
}

func (e *Engine) keepDurable(ctx context.Context, sc SessionContext) (domain.Result, error) {
	var p domain.Progress
	var responses map[string]domain.Response
	err := e.durable(ctx, "resolve", func(ctx context.Context) error {
		var err error
		if p, err = sc.Store.LoadProgress(ctx, sc.Key); err != nil {
			return err
		}
		responses, err = sc.Store.GetResponses(ctx, sc.Key)
		return err
	})

	switch {
	case err == nil:
		if responses == nil {
			responses = map[string]domain.Response{}
		}
		var cerr error
		if p.Status == domain.StatusCompleted {
			cerr = sc.Cache.Clear(sc.Key)
		} else {
			cerr = sc.Cache.Write(sc.Key, domain.NewSnapshot(p, responses))
		}
		return e.settle(ctx, sc.Key, "resolve", p, responses, nil, cerr, true)

	case errors.Is(err, domain.ErrNotFound):
		if cerr := sc.Cache.Clear(sc.Key); cerr != nil {
			return domain.Result{}, &domain.CacheError{Op: "resolve", Err: cerr}
		}
		return domain.Result{
			Progress:  domain.NewProgress(sc.Key, ""),
			Responses: map[string]domain.Response{},
			Source:    domain.SourceDurable,
		}, nil

	default:
		return domain.Result{}, err
	}
}

func (e *Engine) keepLocal(ctx context.Context, sc SessionContext) (domain.Result, error) {
	snap, err := sc.Cache.Read(sc.Key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Result{}, err
		}
		return domain.Result{}, &domain.CacheError{Op: "resolve", Err: err}
	}

	next := snap.Progress
	next.Touch(e.clock())
	responses := snap.ResponseMap()

	// Re-stamped before any durable write: an interrupted resolve still reads as a conflict.
	if err := sc.Cache.Write(sc.Key, domain.NewSnapshot(next, responses)); err != nil {
		e.logger.Warn("failed to re-stamp recovery snapshot", "user_id", sc.Key.UserID, "playbook_id", sc.Key.PlaybookID, "error", err)
	}

	err = e.durable(ctx, "resolve", func(ctx context.Context) error {
		var expected int64
		current, err := sc.Store.LoadProgress(ctx, sc.Key)
		switch {
		case err == nil:
			expected = current.Revision
		case errors.Is(err, domain.ErrNotFound):
		default:
			return err
		}
		stored, err := sc.Store.GetResponses(ctx, sc.Key)
		if err != nil {
			return err
		}

		// Durable responses missing locally are dropped; deletion is per session.
		stale := false
		for id := range stored {
			if _, ok := responses[id]; !ok {
				stale = true
				break
			}
		}
		if stale {
			if err := sc.Store.DeleteResponses(ctx, sc.Key); err != nil {
				return err
			}
		}
		for id, r := range responses {
			saved, err := sc.Store.SaveResponse(ctx, r)
			if err != nil {
				return err
			}
			responses[id] = saved
		}

		// The progress marker moves last, once every response has landed.
		next.Revision = expected + 1
		return sc.Store.SaveProgress(ctx, next, expected)
	})
	if err != nil {
		return domain.Result{}, err
	}

	var cerr error
	if next.Status == domain.StatusCompleted {
		cerr = sc.Cache.Clear(sc.Key)
	} else {
		cerr = sc.Cache.Write(sc.Key, domain.NewSnapshot(next, responses))
	}
	res, err := e.settle(ctx, sc.Key, "resolve", next, responses, nil, cerr, true)
	if err != nil {
		return res, err
	}
	if next.Status == domain.StatusCompleted {
		e.emit(ctx, e.hooks.OnComplete, e.progressEvent(domain.EventCompleted, "resolve", snap.Progress.Status, next))
	}
	return res, nil
}
