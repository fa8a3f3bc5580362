package domain

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/aretw0/journey/pkg/schema"
)

// ItemKind tags the variant of an item. The engine only cares about the kind
// and the validation schema; rendering is the host's concern.
type ItemKind string

const (
	KindStep      ItemKind = "step"
	KindTask      ItemKind = "task"
	KindMilestone ItemKind = "milestone"
	KindChecklist ItemKind = "checklist"
)

// ChecklistField is the payload key a checklist response reports its ticked entries under.
const ChecklistField = "checked"

// Valid reports whether k is one of the known kinds.
func (k ItemKind) Valid() bool {
	switch k {
	case KindStep, KindTask, KindMilestone, KindChecklist:
		return true
	}
	return false
}

// ParseItemKind converts a declared kind. An empty string defaults to KindStep.
func ParseItemKind(s string) (ItemKind, error) {
	if s == "" {
		return KindStep, nil
	}
	k := ItemKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown item kind %q", s)
	}
	return k, nil
}

// Playbook is an immutable, versioned definition of an ordered sequence of items.
type Playbook struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Version     int      `json:"version" yaml:"version"`
	ItemIDs     []string `json:"item_ids" yaml:"item_ids"`
}

// Item is a single unit of work inside a playbook.
type Item struct {
	ID                string        `json:"id" yaml:"id"`
	PlaybookID        string        `json:"playbook_id" yaml:"playbook_id"`
	Order             int           `json:"order" yaml:"order"`
	Kind              ItemKind      `json:"kind" yaml:"kind"`
	Title             string        `json:"title,omitempty" yaml:"title,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	Required          bool          `json:"required" yaml:"required"`
	Schema            schema.Schema `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Entries lists the checklist lines of a KindChecklist item.
	Entries []string `json:"entries,omitempty" yaml:"entries,omitempty"`
}

// EffectiveSchema returns the schema responses to this item are validated against.
// Checklist items without an explicit "checked" field get one constrained to Entries.
func (i Item) EffectiveSchema() schema.Schema {
	if i.Kind != KindChecklist || len(i.Entries) == 0 {
		return i.Schema
	}
	if _, declared := i.Schema[ChecklistField]; declared {
		return i.Schema
	}
	out := make(schema.Schema, len(i.Schema)+1)
	for k, v := range i.Schema {
		out[k] = v
	}
	out[ChecklistField] = schema.Slice(schema.Enum(i.Entries...))
	return out
}

// Definition bundles a playbook with its ordered items.
type Definition struct {
	Playbook Playbook `json:"playbook"`
	Items    []Item   `json:"items"`
}

// NewDefinition normalizes and validates a playbook and its items.
// Items are sorted by Order, stamped with the playbook id, and ItemIDs is
// derived from the items when left empty.
func NewDefinition(pb Playbook, items []Item) (Definition, error) {
	sorted := slices.Clone(items)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Order < sorted[b].Order })
	for i := range sorted {
		if sorted[i].PlaybookID == "" {
			sorted[i].PlaybookID = pb.ID
		}
		if sorted[i].Kind == "" {
			sorted[i].Kind = KindStep
		}
	}
	if len(pb.ItemIDs) == 0 {
		pb.ItemIDs = make([]string, len(sorted))
		for i, it := range sorted {
			pb.ItemIDs[i] = it.ID
		}
	}
	if pb.Version == 0 {
		pb.Version = 1
	}
	if err := ValidateDefinition(pb, sorted); err != nil {
		return Definition{}, err
	}
	return Definition{Playbook: pb, Items: sorted}, nil
}

// ValidateDefinition checks the structural guarantees every Definition Store must uphold:
// unique item ids, orders contiguous from zero, known kinds, and an ItemIDs list
// matching the item order.
func ValidateDefinition(pb Playbook, items []Item) error {
	var problems []string
	if pb.ID == "" {
		problems = append(problems, "playbook id is empty")
	}
	if len(items) == 0 {
		problems = append(problems, "playbook has no items")
	}

	seen := make(map[string]bool, len(items))
	for idx, it := range items {
		if it.ID == "" {
			problems = append(problems, fmt.Sprintf("item at position %d has no id", idx))
		} else if seen[it.ID] {
			problems = append(problems, fmt.Sprintf("duplicate item id %q", it.ID))
		}
		seen[it.ID] = true

		if it.Order != idx {
			problems = append(problems, fmt.Sprintf("item %q has order %d, expected %d", it.ID, it.Order, idx))
		}
		if !it.Kind.Valid() {
			problems = append(problems, fmt.Sprintf("item %q has unknown kind %q", it.ID, it.Kind))
		}
		if it.PlaybookID != pb.ID {
			problems = append(problems, fmt.Sprintf("item %q belongs to playbook %q", it.ID, it.PlaybookID))
		}
		if it.Kind == KindChecklist && len(it.Entries) == 0 {
			if _, ok := it.Schema[ChecklistField]; !ok {
				problems = append(problems, fmt.Sprintf("checklist item %q has no entries", it.ID))
			}
		}
	}

	if len(pb.ItemIDs) != len(items) {
		problems = append(problems, fmt.Sprintf("playbook lists %d items, found %d", len(pb.ItemIDs), len(items)))
	} else {
		for i, id := range pb.ItemIDs {
			if items[i].ID != id {
				problems = append(problems, fmt.Sprintf("item_ids[%d] is %q, item at that order is %q", i, id, items[i].ID))
			}
		}
	}

	if len(problems) > 0 {
		return &DefinitionError{PlaybookID: pb.ID, Problems: problems}
	}
	return nil
}

// IndexOf returns the position of itemID in the definition.
func (d Definition) IndexOf(itemID string) (int, bool) {
	for i, it := range d.Items {
		if it.ID == itemID {
			return i, true
		}
	}
	return -1, false
}
