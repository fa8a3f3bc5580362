package runtime_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/journey/internal/runtime"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/aretw0/journey/pkg/schema"
	"github.com/stretchr/testify/require"
)

var errUnreachable = errors.New("connection refused")

// onboarding is a four item playbook: an optional welcome, a required profile
// form, a required checklist and a closing milestone.
func onboarding(t *testing.T) *memory.Definitions {
	t.Helper()
	defs, err := memory.NewFromPlaybook(
		domain.Playbook{ID: "onboarding", Name: "Customer onboarding", Version: 3},
		domain.Item{ID: "welcome", Order: 0, Kind: domain.KindStep},
		domain.Item{ID: "profile", Order: 1, Kind: domain.KindTask, Required: true, Schema: schema.Schema{
			"name": schema.String(),
			"plan": schema.Enum("basic", "pro"),
			"seats": schema.Optional(schema.Int()),
		}},
		domain.Item{ID: "setup", Order: 2, Kind: domain.KindChecklist, Required: true, Entries: []string{"email", "calendar"}},
		domain.Item{ID: "done", Order: 3, Kind: domain.KindMilestone},
	)
	require.NoError(t, err)
	return defs
}

// flakyStore is a durable store that can be switched off. rejectResponses
// fails response writes only.
type flakyStore struct {
	*memory.Store
	down            atomic.Bool
	rejectResponses atomic.Bool
	slow            time.Duration
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.NewStore()}
}

func (s *flakyStore) check(ctx context.Context) error {
	if s.slow > 0 {
		select {
		case <-time.After(s.slow):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.down.Load() {
		return errUnreachable
	}
	return nil
}

func (s *flakyStore) LoadProgress(ctx context.Context, key domain.SessionKey) (domain.Progress, error) {
	if err := s.check(ctx); err != nil {
		return domain.Progress{}, err
	}
	return s.Store.LoadProgress(ctx, key)
}

func (s *flakyStore) SaveProgress(ctx context.Context, p domain.Progress, expected int64) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.Store.SaveProgress(ctx, p, expected)
}

func (s *flakyStore) DeleteProgress(ctx context.Context, key domain.SessionKey) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.Store.DeleteProgress(ctx, key)
}

func (s *flakyStore) SaveResponse(ctx context.Context, r domain.Response) (domain.Response, error) {
	if err := s.check(ctx); err != nil {
		return domain.Response{}, err
	}
	if s.rejectResponses.Load() {
		return domain.Response{}, errUnreachable
	}
	return s.Store.SaveResponse(ctx, r)
}

func (s *flakyStore) GetResponses(ctx context.Context, key domain.SessionKey) (map[string]domain.Response, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.Store.GetResponses(ctx, key)
}

func (s *flakyStore) DeleteResponses(ctx context.Context, key domain.SessionKey) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.Store.DeleteResponses(ctx, key)
}

// brokenCache fails every write.
type brokenCache struct {
	*memory.Cache
}

func (brokenCache) Write(domain.SessionKey, domain.RecoverySnapshot) error {
	return errors.New("disk full")
}

// ticker is a deterministic clock advancing one second per call.
func ticker() func() time.Time {
	var n atomic.Int64
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

type fixture struct {
	engine *runtime.Engine
	store  *flakyStore
	cache  *memory.Cache
	sc     runtime.SessionContext
}

func newFixture(t *testing.T, opts ...runtime.EngineOption) *fixture {
	t.Helper()
	store := newFlakyStore()
	cache := memory.NewCache()
	opts = append([]runtime.EngineOption{runtime.WithClock(ticker())}, opts...)
	return &fixture{
		engine: runtime.NewEngine(opts...),
		store:  store,
		cache:  cache,
		sc: runtime.SessionContext{
			Key:         domain.NewSessionKey("ana", "onboarding"),
			Definitions: onboarding(t),
			Store:       store,
			Cache:       cache,
		},
	}
}

func (f *fixture) withCache(c ports.RecoveryCache) runtime.SessionContext {
	sc := f.sc
	sc.Cache = c
	return sc
}

var validProfile = map[string]any{"name": "Ana", "plan": "pro", "seats": 5}
