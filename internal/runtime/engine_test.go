package runtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/journey/internal/runtime"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEngine_OnboardingFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Start(ctx, f.sc, "TICKET-42")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.False(t, res.Degraded())

	status, err := f.engine.Status(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, status.Progress.Status)
	assert.Equal(t, 0, status.Progress.CurrentIndex)
	assert.Equal(t, "TICKET-42", status.Progress.ExternalRef)
	assert.Equal(t, 3, status.Progress.PlaybookVersion)
	assert.NotEmpty(t, status.Progress.ID)

	res, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Progress.CurrentIndex)

	res, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeBlocked, res.Outcome)
	assert.Equal(t, []string{"profile"}, res.Blocking)
	assert.Equal(t, 1, res.Progress.CurrentIndex)

	_, err = f.engine.SaveResponse(ctx, f.sc, "profile", map[string]any{"name": 7})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	stored, err := f.store.GetResponses(ctx, f.sc.Key)
	require.NoError(t, err)
	assert.Empty(t, stored, "invalid payloads are never persisted")

	res, err = f.engine.SaveResponse(ctx, f.sc, "profile", validProfile)
	require.NoError(t, err)
	require.Contains(t, res.Responses, "profile")
	assert.Equal(t, json.Number("5"), res.Responses["profile"].Payload["seats"])

	res, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Progress.CurrentIndex)

	_, err = f.engine.SaveResponse(ctx, f.sc, "setup", map[string]any{"checked": []string{"email", "calendar"}})
	require.NoError(t, err)

	res, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Progress.CurrentIndex)

	res, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
	assert.Equal(t, domain.StatusCompleted, res.Progress.Status)
	assert.False(t, res.Progress.CompletedAt.IsZero())

	_, err = f.cache.Read(f.sc.Key)
	assert.ErrorIs(t, err, domain.ErrSnapshotAbsent, "snapshot is discarded on confirmed completion")

	_, err = f.engine.Advance(ctx, f.sc)
	var te *domain.TransitionError
	assert.ErrorAs(t, err, &te)
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	second, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeUnchanged, second.Outcome)
	assert.Equal(t, first.Progress, second.Progress)
}

func TestEngine_SaveResponseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	_, err = f.engine.JumpTo(ctx, f.sc, 1)
	require.NoError(t, err)

	first, err := f.engine.SaveResponse(ctx, f.sc, "profile", validProfile)
	require.NoError(t, err)
	second, err := f.engine.SaveResponse(ctx, f.sc, "profile", validProfile)
	require.NoError(t, err)

	a, b := first.Responses["profile"], second.Responses["profile"]
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.CompletedAt, b.CompletedAt)
	assert.True(t, b.UpdatedAt.After(a.UpdatedAt))

	stored, err := f.store.GetResponses(ctx, f.sc.Key)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, b, stored["profile"])
}

func TestEngine_SaveResponseRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SaveResponse(ctx, f.sc, "welcome", nil)
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)

	_, err = f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)

	_, err = f.engine.SaveResponse(ctx, f.sc, "setup", map[string]any{"checked": []any{"email"}})
	var nr *domain.ItemNotReachedError
	assert.ErrorAs(t, err, &nr)

	_, err = f.engine.SaveResponse(ctx, f.sc, "nope", nil)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err := f.engine.SaveResponse(ctx, f.sc, "welcome", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, res.Responses["welcome"].Payload)
}

func TestEngine_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sc := f.sc
	sc.Key = domain.NewSessionKey("ana", "offboarding")
	_, err := f.engine.Start(ctx, sc, "")
	assert.ErrorIs(t, err, domain.ErrPlaybookNotFound)

	_, err = f.engine.Advance(ctx, f.sc)
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)

	_, err = f.engine.Status(ctx, f.sc)
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)
}

func TestEngine_InvalidSessionContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sc := f.sc
	sc.Key.UserID = ""
	_, err := f.engine.Status(ctx, sc)
	assert.Error(t, err)

	sc = f.sc
	sc.Cache = nil
	_, err = f.engine.Start(ctx, sc, "")
	assert.Error(t, err)
}

func TestEngine_DegradedWriteThenKeepLocal(t *testing.T) {
	var degraded, conflicts int
	f := newFixture(t, runtime.WithLifecycleHooks(domain.LifecycleHooks{
		OnDegraded: func(context.Context, *domain.DegradedEvent) { degraded++ },
		OnConflict: func(context.Context, *domain.ConflictEvent) { conflicts++ },
	}))
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	_, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)

	f.store.down.Store(true)

	res, err := f.engine.SaveResponse(ctx, f.sc, "profile", validProfile)
	require.NoError(t, err, "the cache keeps the user unblocked")
	assert.True(t, res.Degraded())
	assert.Equal(t, domain.SourceCache, res.Source)
	var pe *domain.PersistenceError
	assert.ErrorAs(t, res.Durable, &pe)
	assert.Equal(t, 1, degraded)

	res, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Progress.CurrentIndex)
	assert.True(t, res.Degraded())

	snap, err := f.cache.Read(f.sc.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Progress.CurrentIndex)
	assert.Len(t, snap.Responses, 1)

	f.store.down.Store(false)

	_, err = f.engine.Status(ctx, f.sc)
	var rc *domain.RecoveryConflictError
	require.ErrorAs(t, err, &rc)
	require.NotNil(t, rc.Durable)
	assert.Equal(t, 1, rc.Durable.CurrentIndex)
	assert.Equal(t, 2, rc.Cached.Progress.CurrentIndex)
	assert.Equal(t, 1, conflicts)

	_, err = f.engine.Advance(ctx, f.sc)
	assert.ErrorAs(t, err, &rc, "conflicts are never resolved implicitly")

	res, err = f.engine.ResolveConflict(ctx, f.sc, domain.KeepLocal)
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	assert.Equal(t, 2, res.Progress.CurrentIndex)

	durable, err := f.store.LoadProgress(ctx, f.sc.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, durable.CurrentIndex)
	responses, err := f.store.GetResponses(ctx, f.sc.Key)
	require.NoError(t, err)
	assert.Contains(t, responses, "profile")

	status, err := f.engine.Status(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDurable, status.Source)
	assert.Equal(t, 2, status.Progress.CurrentIndex)
}

func TestEngine_InterruptedKeepLocalKeepsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	_, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)

	f.store.down.Store(true)
	_, err = f.engine.SaveResponse(ctx, f.sc, "profile", validProfile)
	require.NoError(t, err)
	f.store.down.Store(false)

	var rc *domain.RecoveryConflictError
	_, err = f.engine.Status(ctx, f.sc)
	require.ErrorAs(t, err, &rc)

	before, err := f.store.LoadProgress(ctx, f.sc.Key)
	require.NoError(t, err)

	f.store.rejectResponses.Store(true)
	_, err = f.engine.ResolveConflict(ctx, f.sc, domain.KeepLocal)
	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)

	after, err := f.store.LoadProgress(ctx, f.sc.Key)
	require.NoError(t, err)
	assert.Equal(t, before, after, "progress is written after the responses")

	_, err = f.engine.Status(ctx, f.sc)
	require.ErrorAs(t, err, &rc, "a failed resolve is not settled by the next read")
	snap, err := f.cache.Read(f.sc.Key)
	require.NoError(t, err)
	assert.Contains(t, snap.ResponseMap(), "profile")

	f.store.rejectResponses.Store(false)
	res, err := f.engine.ResolveConflict(ctx, f.sc, domain.KeepLocal)
	require.NoError(t, err)
	assert.Contains(t, res.Responses, "profile")

	status, err := f.engine.Status(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDurable, status.Source)
	assert.Contains(t, status.Responses, "profile")
}

func TestEngine_KeepLocalDropsResponsesMissingLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	_, err = f.engine.SaveResponse(ctx, f.sc, "welcome", map[string]any{"seen": true})
	require.NoError(t, err)

	// A local copy that never saw the welcome response but answered the profile.
	snap, err := f.cache.Read(f.sc.Key)
	require.NoError(t, err)
	local := snap.Progress
	local.CurrentIndex, local.FrontierIndex = 1, 1
	local.Touch(snap.LastSavedAt.Add(time.Minute))
	profile := domain.Response{
		ID: "r-profile", UserID: "ana", PlaybookID: "onboarding", ItemID: "profile",
		Payload:   validProfile,
		UpdatedAt: local.UpdatedAt,
	}
	require.NoError(t, f.cache.Write(f.sc.Key, domain.NewSnapshot(local, map[string]domain.Response{"profile": profile})))

	f.store.rejectResponses.Store(true)
	_, err = f.engine.ResolveConflict(ctx, f.sc, domain.KeepLocal)
	require.Error(t, err)

	var rc *domain.RecoveryConflictError
	_, err = f.engine.Status(ctx, f.sc)
	require.ErrorAs(t, err, &rc)

	f.store.rejectResponses.Store(false)
	res, err := f.engine.ResolveConflict(ctx, f.sc, domain.KeepLocal)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Progress.CurrentIndex)

	responses, err := f.store.GetResponses(ctx, f.sc.Key)
	require.NoError(t, err)
	assert.Contains(t, responses, "profile")
	assert.NotContains(t, responses, "welcome")
}

func TestEngine_ResumePrefersNewerDurable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	old, err := f.cache.Read(f.sc.Key)
	require.NoError(t, err)

	// Another device moved on; this device's snapshot is left behind.
	_, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	require.NoError(t, f.cache.Write(f.sc.Key, old))

	res, err := f.engine.Status(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDurable, res.Source)
	assert.Equal(t, 1, res.Progress.CurrentIndex)

	snap, err := f.cache.Read(f.sc.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Progress.CurrentIndex, "the stale snapshot is refreshed")
	assert.True(t, snap.LastSavedAt.After(old.LastSavedAt))
}

func TestEngine_KeepDurableDiscardsLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)

	f.store.down.Store(true)
	_, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	f.store.down.Store(false)

	res, err := f.engine.ResolveConflict(ctx, f.sc, domain.KeepDurable)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Progress.CurrentIndex)

	status, err := f.engine.Status(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Progress.CurrentIndex)

	_, err = f.engine.ResolveConflict(ctx, f.sc, domain.Resolution("both"))
	assert.Error(t, err)
}

func TestEngine_OrphanSnapshotConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteProgress(ctx, f.sc.Key))

	_, err = f.engine.Status(ctx, f.sc)
	var rc *domain.RecoveryConflictError
	require.ErrorAs(t, err, &rc)
	assert.Nil(t, rc.Durable)

	res, err := f.engine.ResolveConflict(ctx, f.sc, domain.KeepDurable)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotStarted, res.Progress.Status)
	_, err = f.cache.Read(f.sc.Key)
	assert.ErrorIs(t, err, domain.ErrSnapshotAbsent)
}

func TestEngine_DurableUnreachableWithoutCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.down.Store(true)

	_, err := f.engine.Status(ctx, f.sc)
	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)

	res, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err, "a start degrades to the cache")
	assert.True(t, res.Degraded())
	assert.Equal(t, domain.StatusInProgress, res.Progress.Status)

	_, err = f.cache.Read(f.sc.Key)
	assert.NoError(t, err)
}

func TestEngine_BothLayersFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.down.Store(true)

	_, err := f.engine.Start(ctx, f.withCache(brokenCache{memory.NewCache()}), "")
	var pe *domain.PersistenceError
	var ce *domain.CacheError
	assert.ErrorAs(t, err, &pe)
	assert.ErrorAs(t, err, &ce)
}

func TestEngine_CacheFailureIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Start(ctx, f.withCache(brokenCache{memory.NewCache()}), "")
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	var ce *domain.CacheError
	assert.ErrorAs(t, res.Cache, &ce)
}

func TestEngine_DurableTimeout(t *testing.T) {
	f := newFixture(t, runtime.WithTimeout(20*time.Millisecond))
	ctx := context.Background()
	f.store.slow = 500 * time.Millisecond

	res, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	require.True(t, res.Degraded())

	var pe *domain.PersistenceError
	require.ErrorAs(t, res.Durable, &pe)
	assert.True(t, pe.Timeout())
}

func TestEngine_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	_, err = f.engine.SaveResponse(ctx, f.sc, "welcome", map[string]any{"seen": true})
	require.NoError(t, err)

	f.store.down.Store(true)
	_, err = f.engine.Reset(ctx, f.sc)
	require.Error(t, err)
	_, err = f.cache.Read(f.sc.Key)
	require.NoError(t, err, "a failed reset leaves the cache alone")
	f.store.down.Store(false)

	res, err := f.engine.Reset(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotStarted, res.Progress.Status)

	_, err = f.engine.Status(ctx, f.sc)
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)
	_, err = f.cache.Read(f.sc.Key)
	assert.ErrorIs(t, err, domain.ErrSnapshotAbsent)

	res, err = f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.Empty(t, res.Responses)
}

func TestEngine_Abandon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Abandon(ctx, f.sc)
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)

	_, err = f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	res, err := f.engine.Abandon(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, res.Progress.Status)

	_, err = f.engine.SaveResponse(ctx, f.sc, "welcome", nil)
	var te *domain.TransitionError
	assert.ErrorAs(t, err, &te)
}

type hookRecorder struct {
	mock.Mock
}

func (h *hookRecorder) Event(typ domain.EventType) {
	h.Called(typ)
}

func (h *hookRecorder) hooks() domain.LifecycleHooks {
	progress := func(_ context.Context, e *domain.ProgressEvent) { h.Event(e.Type) }
	return domain.LifecycleHooks{
		OnStart:      progress,
		OnTransition: progress,
		OnResponse:   progress,
		OnComplete:   progress,
		OnAbandon:    progress,
		OnReset:      progress,
	}
}

func TestEngine_LifecycleHooks(t *testing.T) {
	rec := &hookRecorder{}
	rec.On("Event", domain.EventStarted).Once()
	rec.On("Event", domain.EventTransition).Times(4)
	rec.On("Event", domain.EventResponse).Times(2)
	rec.On("Event", domain.EventCompleted).Once()

	f := newFixture(t, runtime.WithLifecycleHooks(rec.hooks()))
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	_, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	_, err = f.engine.SaveResponse(ctx, f.sc, "profile", validProfile)
	require.NoError(t, err)
	_, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	_, err = f.engine.SaveResponse(ctx, f.sc, "setup", map[string]any{"checked": []any{}})
	require.NoError(t, err)
	_, err = f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)

	// Blocked and unchanged moves emit nothing.
	_, err = f.engine.JumpTo(ctx, f.sc, 3)
	require.NoError(t, err)

	res, err := f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCompleted, res.Outcome)

	rec.AssertExpectations(t)
}

func TestEngine_CompletionNotAnnouncedWhenDegraded(t *testing.T) {
	completed := 0
	f := newFixture(t, runtime.WithLifecycleHooks(domain.LifecycleHooks{
		OnComplete: func(context.Context, *domain.ProgressEvent) { completed++ },
	}))
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)
	_, err = f.engine.JumpTo(ctx, f.sc, 1)
	require.NoError(t, err)
	_, err = f.engine.SaveResponse(ctx, f.sc, "profile", validProfile)
	require.NoError(t, err)
	_, err = f.engine.JumpTo(ctx, f.sc, 2)
	require.NoError(t, err)
	_, err = f.engine.SaveResponse(ctx, f.sc, "setup", map[string]any{"checked": []any{"email"}})
	require.NoError(t, err)
	_, err = f.engine.JumpTo(ctx, f.sc, 3)
	require.NoError(t, err)

	f.store.down.Store(true)
	res, err := f.engine.Advance(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Progress.Status)
	assert.Zero(t, completed)

	_, err = f.cache.Read(f.sc.Key)
	assert.NoError(t, err, "an unconfirmed completion stays cached")

	f.store.down.Store(false)
	_, err = f.engine.ResolveConflict(ctx, f.sc, domain.KeepLocal)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	_, err = f.cache.Read(f.sc.Key)
	assert.ErrorIs(t, err, domain.ErrSnapshotAbsent)
}

func TestEngine_ConcurrentResponsesWithLocker(t *testing.T) {
	mgr := session.NewManager()
	f := newFixture(t, runtime.WithLocker(mgr))
	ctx := context.Background()

	_, err := f.engine.Start(ctx, f.sc, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.SaveResponse(ctx, f.sc, "welcome", map[string]any{"n": i})
			if err != nil {
				errs <- fmt.Errorf("save %d: %w", i, err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	stored, err := f.store.GetResponses(ctx, f.sc.Key)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Zero(t, mgr.ActiveLocks())

	status, err := f.engine.Status(ctx, f.sc)
	require.NoError(t, err)
	assert.Equal(t, stored["welcome"], status.Responses["welcome"])
}
