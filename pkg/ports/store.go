package ports

import (
	"context"

	"github.com/aretw0/journey/pkg/domain"
)

// DefinitionStore provides read-only access to playbook definitions.
type DefinitionStore interface {
	// GetPlaybook returns domain.ErrPlaybookNotFound for unknown ids.
	GetPlaybook(ctx context.Context, id string) (domain.Playbook, error)

	// GetItems returns the items of a playbook ordered by Order, indices contiguous from 0.
	GetItems(ctx context.Context, playbookID string) ([]domain.Item, error)

	// ListPlaybooks returns every known playbook, sorted by id.
	ListPlaybooks(ctx context.Context) ([]domain.Playbook, error)
}

// ProgressStore persists progress records durably.
type ProgressStore interface {
	// LoadProgress returns domain.ErrProgressNotFound if no record exists.
	LoadProgress(ctx context.Context, key domain.SessionKey) (domain.Progress, error)

	// SaveProgress writes p if the stored revision equals expectedRevision
	// (0 meaning "no record yet"); otherwise it returns domain.ErrStaleWrite.
	SaveProgress(ctx context.Context, p domain.Progress, expectedRevision int64) error

	// DeleteProgress removes the record. Deleting a missing record is not an error.
	DeleteProgress(ctx context.Context, key domain.SessionKey) error
}

// ResponseStore persists item responses durably.
type ResponseStore interface {
	// SaveResponse upserts by (user, playbook, item) and returns the stored value.
	// An existing response keeps its ID and CompletedAt; UpdatedAt is refreshed.
	SaveResponse(ctx context.Context, r domain.Response) (domain.Response, error)

	// GetResponses returns the responses of a session keyed by item id.
	// A session without responses yields an empty map, not an error.
	GetResponses(ctx context.Context, key domain.SessionKey) (map[string]domain.Response, error)

	// DeleteResponses removes every response of the session.
	DeleteResponses(ctx context.Context, key domain.SessionKey) error
}

// DurableStore is the durable layer the Session Coordinator writes through.
type DurableStore interface {
	ProgressStore
	ResponseStore
}

// SessionLister is implemented by durable stores able to enumerate sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]domain.SessionKey, error)
}
