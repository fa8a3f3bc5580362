package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

var _ ports.DefinitionStore = (*Definitions)(nil)

// Definitions implements ports.DefinitionStore using an in-memory map.
type Definitions struct {
	defs map[string]domain.Definition
}

// NewDefinitions creates a store from already-built definitions.
func NewDefinitions(defs ...domain.Definition) (*Definitions, error) {
	m := make(map[string]domain.Definition, len(defs))
	for _, d := range defs {
		if err := domain.ValidateDefinition(d.Playbook, d.Items); err != nil {
			return nil, err
		}
		if _, dup := m[d.Playbook.ID]; dup {
			return nil, fmt.Errorf("duplicate playbook %q", d.Playbook.ID)
		}
		m[d.Playbook.ID] = d
	}
	return &Definitions{defs: m}, nil
}

// NewFromPlaybook builds a single-playbook store, normalizing the items.
// This improves DX for tests and embedded hosts.
func NewFromPlaybook(pb domain.Playbook, items ...domain.Item) (*Definitions, error) {
	def, err := domain.NewDefinition(pb, items)
	if err != nil {
		return nil, err
	}
	return NewDefinitions(def)
}

// GetPlaybook returns the playbook definition.
func (d *Definitions) GetPlaybook(ctx context.Context, id string) (domain.Playbook, error) {
	def, ok := d.defs[id]
	if !ok {
		return domain.Playbook{}, fmt.Errorf("%w: %s", domain.ErrPlaybookNotFound, id)
	}
	pb := def.Playbook
	pb.ItemIDs = slices.Clone(pb.ItemIDs)
	return pb, nil
}

// GetItems returns a copy of the ordered items.
func (d *Definitions) GetItems(ctx context.Context, playbookID string) ([]domain.Item, error) {
	def, ok := d.defs[playbookID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlaybookNotFound, playbookID)
	}
	return slices.Clone(def.Items), nil
}

// ListPlaybooks returns all playbooks sorted by id.
func (d *Definitions) ListPlaybooks(ctx context.Context) ([]domain.Playbook, error) {
	out := make([]domain.Playbook, 0, len(d.defs))
	for _, def := range d.defs {
		out = append(out, def.Playbook)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID }) // Deterministic order
	return out, nil
}
