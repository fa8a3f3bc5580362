package dto

import (
	"fmt"
	"time"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/schema"
	"github.com/mitchellh/mapstructure"
)

// PlaybookMetadata is the on-disk shape of a playbook (YAML/JSON file or Markdown frontmatter).
// It uses "mapstructure" tags to match standard Frontmatter/YAML keys.
type PlaybookMetadata struct {
	ID          string         `json:"id" mapstructure:"id"`
	Name        string         `json:"name" mapstructure:"name"`
	Description string         `json:"description" mapstructure:"description"`
	Version     int            `json:"version" mapstructure:"version"`
	Items       []ItemMetadata `json:"items" mapstructure:"items"`
}

// ItemMetadata declares one item. Its position in the list is its order.
type ItemMetadata struct {
	ID       string   `json:"id" mapstructure:"id"`
	Kind     string   `json:"kind" mapstructure:"kind"`
	Title    string   `json:"title" mapstructure:"title"`
	Required bool     `json:"required" mapstructure:"required"`
	Estimate string   `json:"estimate" mapstructure:"estimate"` // e.g. "15m"
	Entries  []string `json:"entries" mapstructure:"entries"`

	// Schema is the field declaration accepted by schema.FromMap.
	Schema map[string]any `json:"schema" mapstructure:"schema"`
}

// Decode converts a generic document (decoded YAML, JSON or frontmatter) into metadata.
// Strict-mode sources hand numbers over as json.Number, which mapstructure converts natively.
func Decode(raw any) (PlaybookMetadata, error) {
	var meta PlaybookMetadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return meta, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return meta, fmt.Errorf("failed to decode playbook metadata: %w", err)
	}
	return meta, nil
}

// ToDefinition builds and validates the domain definition.
// fallbackID is used when the metadata carries no id (e.g. the file name).
func (m PlaybookMetadata) ToDefinition(fallbackID string) (domain.Definition, error) {
	id := m.ID
	if id == "" {
		id = fallbackID
	}
	name := m.Name
	if name == "" {
		name = id
	}

	items := make([]domain.Item, 0, len(m.Items))
	for idx, im := range m.Items {
		kind, err := domain.ParseItemKind(im.Kind)
		if err != nil {
			return domain.Definition{}, fmt.Errorf("playbook %s, item %s: %w", id, im.ID, err)
		}

		var estimate time.Duration
		if im.Estimate != "" {
			estimate, err = time.ParseDuration(im.Estimate)
			if err != nil {
				return domain.Definition{}, fmt.Errorf("playbook %s, item %s: invalid estimate: %w", id, im.ID, err)
			}
		}

		s, err := schema.FromMap(im.Schema)
		if err != nil {
			return domain.Definition{}, fmt.Errorf("playbook %s, item %s: invalid schema: %w", id, im.ID, err)
		}

		items = append(items, domain.Item{
			ID:                im.ID,
			PlaybookID:        id,
			Order:             idx,
			Kind:              kind,
			Title:             im.Title,
			EstimatedDuration: estimate,
			Required:          im.Required,
			Schema:            s,
			Entries:           im.Entries,
		})
	}

	return domain.NewDefinition(domain.Playbook{
		ID:          id,
		Name:        name,
		Description: m.Description,
		Version:     m.Version,
	}, items)
}
