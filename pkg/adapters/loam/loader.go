package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/journey/internal/dto"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/aretw0/loam"
)

var _ ports.DefinitionStore = (*Loader)(nil)

// Loader adapts a Loam repository of Markdown playbooks to ports.DefinitionStore.
// Each document declares one playbook in its frontmatter; the body becomes the
// description when the frontmatter has none. Documents without an "items" key
// (READMEs, notes) are ignored.
type Loader struct {
	Repo *loam.TypedRepository[map[string]any]

	mu      sync.RWMutex
	catalog *memory.Definitions
}

// New creates a new Loam adapter.
func New(repo *loam.TypedRepository[map[string]any]) *Loader {
	return &Loader{
		Repo: repo,
	}
}

// GetPlaybook returns the playbook declared in the repository.
func (l *Loader) GetPlaybook(ctx context.Context, id string) (domain.Playbook, error) {
	catalog, err := l.load(ctx)
	if err != nil {
		return domain.Playbook{}, err
	}
	return catalog.GetPlaybook(ctx, id)
}

// GetItems returns the ordered items of a playbook.
func (l *Loader) GetItems(ctx context.Context, playbookID string) ([]domain.Item, error) {
	catalog, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.GetItems(ctx, playbookID)
}

// ListPlaybooks lists all playbooks in the repository.
func (l *Loader) ListPlaybooks(ctx context.Context) ([]domain.Playbook, error) {
	catalog, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.ListPlaybooks(ctx)
}

// Reload drops the parsed catalog; the next call re-reads the repository.
func (l *Loader) Reload() {
	l.mu.Lock()
	l.catalog = nil
	l.mu.Unlock()
}

func (l *Loader) load(ctx context.Context) (*memory.Definitions, error) {
	l.mu.RLock()
	catalog := l.catalog
	l.mu.RUnlock()
	if catalog != nil {
		return catalog, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.catalog != nil {
		return l.catalog, nil
	}

	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	defs := make([]domain.Definition, 0, len(docs))
	for _, doc := range docs {
		if _, ok := doc.Data["items"]; !ok {
			continue
		}
		meta, err := dto.Decode(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		if meta.Description == "" {
			meta.Description = strings.TrimSpace(doc.Content)
		}
		def, err := meta.ToDefinition(trimExtension(doc.ID))
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}

		// Collision Detection
		if existingPath, ok := seen[def.Playbook.ID]; ok {
			return nil, fmt.Errorf("collision detected: playbook '%s' is defined in both '%s' and '%s'", def.Playbook.ID, existingPath, doc.ID)
		}
		seen[def.Playbook.ID] = doc.ID
		defs = append(defs, def)
	}

	catalog, err = memory.NewDefinitions(defs...)
	if err != nil {
		return nil, err
	}
	l.catalog = catalog
	return catalog, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

// Watch reports the ids of changed documents and invalidates the parsed catalog
// before each notification.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	events, err := l.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				l.Reload()
				select {
				case ch <- trimExtension(evt.ID):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
