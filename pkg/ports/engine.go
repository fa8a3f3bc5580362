package ports

import (
	"context"

	"github.com/aretw0/journey/pkg/domain"
)

// Coordinator is the interface used by driving adapters (HTTP, MCP, CLI).
// Every call is scoped to one (user, playbook) session.
type Coordinator interface {
	StartPlaybook(ctx context.Context, key domain.SessionKey, externalRef string) (domain.Result, error)
	GetStatus(ctx context.Context, key domain.SessionKey) (domain.Result, error)
	SaveItemResponse(ctx context.Context, key domain.SessionKey, itemID string, payload map[string]any) (domain.Result, error)
	MoveNext(ctx context.Context, key domain.SessionKey) (domain.Result, error)
	MovePrevious(ctx context.Context, key domain.SessionKey) (domain.Result, error)
	JumpTo(ctx context.Context, key domain.SessionKey, index int) (domain.Result, error)
	AbandonPlaybook(ctx context.Context, key domain.SessionKey) (domain.Result, error)
	ResetPlaybook(ctx context.Context, key domain.SessionKey) (domain.Result, error)
	ResolveConflict(ctx context.Context, key domain.SessionKey, keep domain.Resolution) (domain.Result, error)

	// Definitions exposes the playbook catalogue for listing and introspection.
	Definitions() DefinitionStore
}

// CompletionNotifier is told when a session reaches StatusCompleted.
// Hosts use it to trigger external side effects such as webhooks.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, p domain.Progress) error
}
