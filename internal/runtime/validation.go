package runtime

import (
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/schema"
)

// Validate checks a payload against the item's schema. It is pure: the same
// inputs always give the same verdict and nothing is persisted.
func Validate(item domain.Item, payload map[string]any) error {
	if err := schema.Validate(item.EffectiveSchema(), payload); err != nil {
		return &domain.ValidationError{ItemID: item.ID, Err: err}
	}
	return nil
}

// answeredBy builds the predicate the tracker uses: the item has a stored
// response that still satisfies the item's schema.
func answeredBy(responses map[string]domain.Response) Answered {
	return func(item domain.Item) bool {
		r, ok := responses[item.ID]
		if !ok {
			return false
		}
		return Validate(item, r.Payload) == nil
	}
}
