package ports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDurableStoreContract runs a suite of tests to verify that a DurableStore
// implementation adheres to the defined interface contract.
func RunDurableStoreContract(t *testing.T, store DurableStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	base := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)

	newProgress := func(key domain.SessionKey, rev int64) domain.Progress {
		return domain.Progress{
			ID:            "progress-" + key.UserID,
			UserID:        key.UserID,
			PlaybookID:    key.PlaybookID,
			Status:        domain.StatusInProgress,
			CurrentIndex:  int(rev - 1),
			FrontierIndex: int(rev - 1),
			StartedAt:     base,
			UpdatedAt:     base.Add(time.Duration(rev) * time.Second),
			Revision:      rev,
			ExternalRef:   "ref-1",
		}
	}

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadProgress(ctx, domain.NewSessionKey("ghost-"+suffix, "p"))
		assert.ErrorIs(t, err, domain.ErrProgressNotFound)
	})

	t.Run("Save and Load Progress", func(t *testing.T) {
		key := domain.NewSessionKey("user-save-"+suffix, "onboarding")
		p := newProgress(key, 1)

		require.NoError(t, store.SaveProgress(ctx, p, 0))

		loaded, err := store.LoadProgress(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, p, loaded)

		p2 := newProgress(key, 2)
		p2.Status = domain.StatusCompleted
		p2.CompletedAt = base.Add(time.Hour)
		require.NoError(t, store.SaveProgress(ctx, p2, 1))

		loaded, err = store.LoadProgress(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, p2, loaded)
	})

	t.Run("Stale Write", func(t *testing.T) {
		key := domain.NewSessionKey("user-stale-"+suffix, "onboarding")
		require.NoError(t, store.SaveProgress(ctx, newProgress(key, 1), 0))

		err := store.SaveProgress(ctx, newProgress(key, 1), 0)
		assert.ErrorIs(t, err, domain.ErrStaleWrite, "create over an existing record")

		require.NoError(t, store.SaveProgress(ctx, newProgress(key, 2), 1))

		err = store.SaveProgress(ctx, newProgress(key, 2), 1)
		assert.ErrorIs(t, err, domain.ErrStaleWrite, "update based on an outdated revision")

		loaded, err := store.LoadProgress(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Revision)
	})

	t.Run("Response Upsert", func(t *testing.T) {
		key := domain.NewSessionKey("user-resp-"+suffix, "onboarding")
		first := domain.Response{
			ID:          "resp-1",
			UserID:      key.UserID,
			PlaybookID:  key.PlaybookID,
			ItemID:      "goal",
			Payload:     map[string]any{"company": "Acme", "seats": json.Number("12")},
			CompletedAt: base,
			UpdatedAt:   base,
		}

		stored, err := store.SaveResponse(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, first, stored)

		// Identical retry does not duplicate.
		_, err = store.SaveResponse(ctx, first)
		require.NoError(t, err)

		second := first
		second.ID = "resp-2"
		second.Payload = map[string]any{"company": "Acme Corp", "tags": []any{"b2b"}}
		second.CompletedAt = base.Add(time.Minute)
		second.UpdatedAt = base.Add(time.Minute)

		stored, err = store.SaveResponse(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, "resp-1", stored.ID, "ID of the first submission is kept")
		assert.Equal(t, base, stored.CompletedAt, "CompletedAt of the first submission is kept")
		assert.True(t, stored.UpdatedAt.After(base))

		all, err := store.GetResponses(ctx, key)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, stored, all["goal"])
		assert.Equal(t, second.Payload, all["goal"].Payload)
	})

	t.Run("Responses Are Scoped", func(t *testing.T) {
		a := domain.NewSessionKey("user-scope-a-"+suffix, "onboarding")
		b := domain.NewSessionKey("user-scope-b-"+suffix, "onboarding")

		_, err := store.SaveResponse(ctx, domain.Response{
			ID: "r-a", UserID: a.UserID, PlaybookID: a.PlaybookID, ItemID: "goal",
			Payload: map[string]any{"x": "1"}, CompletedAt: base, UpdatedAt: base,
		})
		require.NoError(t, err)

		got, err := store.GetResponses(ctx, b)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NotNil(t, got)
	})

	t.Run("Delete", func(t *testing.T) {
		key := domain.NewSessionKey("user-del-"+suffix, "onboarding")
		require.NoError(t, store.SaveProgress(ctx, newProgress(key, 1), 0))
		_, err := store.SaveResponse(ctx, domain.Response{
			ID: "r", UserID: key.UserID, PlaybookID: key.PlaybookID, ItemID: "goal",
			Payload: map[string]any{}, CompletedAt: base, UpdatedAt: base,
		})
		require.NoError(t, err)

		require.NoError(t, store.DeleteResponses(ctx, key))
		require.NoError(t, store.DeleteProgress(ctx, key))

		_, err = store.LoadProgress(ctx, key)
		assert.ErrorIs(t, err, domain.ErrProgressNotFound, "Load after Delete should return ErrProgressNotFound")

		got, err := store.GetResponses(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, got)

		// Recreating after a delete starts from revision 0 again.
		require.NoError(t, store.SaveProgress(ctx, newProgress(key, 1), 0))

		assert.NoError(t, store.DeleteProgress(ctx, domain.NewSessionKey("ghost-"+suffix, "p")))
		assert.NoError(t, store.DeleteResponses(ctx, domain.NewSessionKey("ghost-"+suffix, "p")))
	})

	if lister, ok := store.(SessionLister); ok {
		t.Run("List Sessions", func(t *testing.T) {
			k1 := domain.NewSessionKey("user-list-1-"+suffix, "onboarding")
			k2 := domain.NewSessionKey("user-list-2-"+suffix, "onboarding")
			require.NoError(t, store.SaveProgress(ctx, newProgress(k1, 1), 0))
			require.NoError(t, store.SaveProgress(ctx, newProgress(k2, 1), 0))

			keys, err := lister.ListSessions(ctx)
			require.NoError(t, err)
			assert.Contains(t, keys, k1)
			assert.Contains(t, keys, k2)
		})
	}
}

// RunRecoveryCacheContract verifies that a RecoveryCache implementation
// adheres to the defined interface contract.
func RunRecoveryCacheContract(t *testing.T, cache RecoveryCache) {
	saved := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)

	snapshotFor := func(key domain.SessionKey, index int) domain.RecoverySnapshot {
		p := domain.Progress{
			ID:            "p-" + key.UserID,
			UserID:        key.UserID,
			PlaybookID:    key.PlaybookID,
			Status:        domain.StatusInProgress,
			CurrentIndex:  index,
			FrontierIndex: index,
			StartedAt:     saved,
			UpdatedAt:     saved.Add(time.Duration(index) * time.Second),
			Revision:      int64(index + 1),
		}
		responses := map[string]domain.Response{
			"goal": {
				ID: "r1", UserID: key.UserID, PlaybookID: key.PlaybookID, ItemID: "goal",
				Payload:     map[string]any{"company": "Acme", "seats": json.Number("3"), "nested": map[string]any{"ok": true}},
				CompletedAt: saved, UpdatedAt: saved,
			},
		}
		return domain.NewSnapshot(p, responses)
	}

	t.Run("Read Absent", func(t *testing.T) {
		_, err := cache.Read(domain.NewSessionKey("nobody", "nothing"))
		assert.ErrorIs(t, err, domain.ErrSnapshotAbsent)
	})

	t.Run("Write and Read", func(t *testing.T) {
		key := domain.NewSessionKey("user-1", "onboarding")
		snap := snapshotFor(key, 1)

		require.NoError(t, cache.Write(key, snap))
		got, err := cache.Read(key)
		require.NoError(t, err)
		assert.Equal(t, snap, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		key := domain.NewSessionKey("user-2", "onboarding")
		require.NoError(t, cache.Write(key, snapshotFor(key, 0)))
		latest := snapshotFor(key, 2)
		require.NoError(t, cache.Write(key, latest))

		got, err := cache.Read(key)
		require.NoError(t, err)
		assert.Equal(t, latest, got)
	})

	t.Run("Unusual Keys", func(t *testing.T) {
		key := domain.NewSessionKey("ana.maría@example.com", "sales/onboarding v2")
		other := domain.NewSessionKey("ana.maría@example.com", "sales")
		require.NoError(t, cache.Write(key, snapshotFor(key, 1)))
		require.NoError(t, cache.Write(other, snapshotFor(other, 0)))

		got, err := cache.Read(key)
		require.NoError(t, err)
		assert.Equal(t, key, got.Key())

		got, err = cache.Read(other)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Progress.CurrentIndex)
	})

	t.Run("List", func(t *testing.T) {
		key := domain.NewSessionKey("user-list", "onboarding")
		require.NoError(t, cache.Write(key, snapshotFor(key, 0)))

		keys, err := cache.List()
		require.NoError(t, err)
		assert.Contains(t, keys, key)
	})

	t.Run("Clear", func(t *testing.T) {
		key := domain.NewSessionKey("user-clear", "onboarding")
		require.NoError(t, cache.Write(key, snapshotFor(key, 0)))
		require.NoError(t, cache.Clear(key))

		_, err := cache.Read(key)
		assert.ErrorIs(t, err, domain.ErrSnapshotAbsent)

		keys, err := cache.List()
		require.NoError(t, err)
		assert.NotContains(t, keys, key)

		assert.NoError(t, cache.Clear(key), "clearing twice is not an error")
	})
}
