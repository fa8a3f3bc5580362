package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

// DefinitionStoreContractTest is a reusable test suite that verifies if an adapter complies with ports.DefinitionStore.
// expected holds the definitions the adapter was set up with.
func DefinitionStoreContractTest(t *testing.T, store ports.DefinitionStore, expected []domain.Definition) {
	t.Helper()
	ctx := context.Background()

	// 1. GetPlaybook (Success)
	t.Run("GetPlaybook_Success", func(t *testing.T) {
		for _, def := range expected {
			pb, err := store.GetPlaybook(ctx, def.Playbook.ID)
			if err != nil {
				t.Fatalf("unexpected error getting playbook %s: %v", def.Playbook.ID, err)
			}
			if pb.ID != def.Playbook.ID || pb.Version != def.Playbook.Version {
				t.Errorf("playbook mismatch: got %s@v%d, want %s@v%d", pb.ID, pb.Version, def.Playbook.ID, def.Playbook.Version)
			}
			if len(pb.ItemIDs) != len(def.Items) {
				t.Errorf("playbook %s lists %d items, want %d", pb.ID, len(pb.ItemIDs), len(def.Items))
			}
		}
	})

	// 2. GetPlaybook (NotFound)
	t.Run("GetPlaybook_NotFound", func(t *testing.T) {
		_, err := store.GetPlaybook(ctx, "non-existent-playbook")
		if !errors.Is(err, domain.ErrPlaybookNotFound) {
			t.Errorf("expected ErrPlaybookNotFound, got %v", err)
		}
		_, err = store.GetItems(ctx, "non-existent-playbook")
		if !errors.Is(err, domain.ErrPlaybookNotFound) {
			t.Errorf("expected ErrPlaybookNotFound from GetItems, got %v", err)
		}
	})

	// 3. GetItems ordering
	t.Run("GetItems_Ordered", func(t *testing.T) {
		for _, def := range expected {
			items, err := store.GetItems(ctx, def.Playbook.ID)
			if err != nil {
				t.Fatalf("unexpected error getting items of %s: %v", def.Playbook.ID, err)
			}
			if len(items) != len(def.Items) {
				t.Fatalf("expected %d items, got %d", len(def.Items), len(items))
			}
			for i, it := range items {
				if it.Order != i {
					t.Errorf("item %s has order %d at position %d", it.ID, it.Order, i)
				}
				if it.ID != def.Items[i].ID {
					t.Errorf("position %d: got item %s, want %s", i, it.ID, def.Items[i].ID)
				}
				if it.Required != def.Items[i].Required {
					t.Errorf("item %s: required = %v, want %v", it.ID, it.Required, def.Items[i].Required)
				}
			}
		}
	})

	// 4. ListPlaybooks
	t.Run("ListPlaybooks", func(t *testing.T) {
		list, err := store.ListPlaybooks(ctx)
		if err != nil {
			t.Fatalf("unexpected error listing playbooks: %v", err)
		}

		if len(list) != len(expected) {
			t.Errorf("expected %d playbooks, got %d", len(expected), len(list))
		}

		lookup := make(map[string]bool)
		for _, pb := range list {
			lookup[pb.ID] = true
		}

		for _, def := range expected {
			if !lookup[def.Playbook.ID] {
				t.Errorf("playbook %s missing from list", def.Playbook.ID)
			}
		}
	})
}
