package loam

import (
	"context"
	"testing"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"

	"github.com/aretw0/journey/internal/testutils"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports/tests"
	"github.com/aretw0/journey/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onboardingDoc = `---
id: onboarding
name: Customer onboarding
version: 2
items:
  - id: welcome
    title: Welcome
  - id: profile
    kind: task
    required: true
    schema:
      name: string
      plan: enum(basic|pro)
  - id: done
    kind: milestone
---
Walks a new customer through setup.`

func TestLoader_Contract(t *testing.T) {
	_, repo := testutils.SetupTestRepo(t, nil)
	ctx := context.Background()

	docs := []core.Document{
		{ID: "onboarding.md", Content: onboardingDoc},
		{ID: "offboarding.md", Content: `---
items:
  - id: export
    kind: task
  - id: goodbye
---
`},
	}
	for _, doc := range docs {
		require.NoError(t, repo.Save(ctx, doc))
	}

	expected := []domain.Definition{
		mustDefinition(t, domain.Playbook{ID: "offboarding", Name: "offboarding"},
			domain.Item{ID: "export", Order: 0, Kind: domain.KindTask},
			domain.Item{ID: "goodbye", Order: 1},
		),
		mustDefinition(t, domain.Playbook{ID: "onboarding", Name: "Customer onboarding", Version: 2},
			domain.Item{ID: "welcome", Order: 0, Title: "Welcome"},
			domain.Item{ID: "profile", Order: 1, Kind: domain.KindTask, Required: true, Schema: schema.Schema{
				"name": schema.String(),
				"plan": schema.Enum("basic", "pro"),
			}},
			domain.Item{ID: "done", Order: 2, Kind: domain.KindMilestone},
		),
	}

	loader := New(loam.NewTypedRepository[map[string]any](repo))
	tests.DefinitionStoreContractTest(t, loader, expected)
}

func mustDefinition(t *testing.T, pb domain.Playbook, items ...domain.Item) domain.Definition {
	t.Helper()
	def, err := domain.NewDefinition(pb, items)
	require.NoError(t, err)
	return def
}

func TestLoader_DescriptionFromBody(t *testing.T) {
	tmpDir, repo := testutils.SetupTestRepo(t, nil)
	testutils.WritePlaybook(t, tmpDir, "onboarding.md", onboardingDoc)
	testutils.WritePlaybook(t, tmpDir, "README.md", "# Playbooks\n")

	loader := New(loam.NewTypedRepository[map[string]any](repo))
	pbs, err := loader.ListPlaybooks(context.Background())
	require.NoError(t, err)
	require.Len(t, pbs, 1, "documents without items are ignored")
	assert.Equal(t, "Walks a new customer through setup.", pbs[0].Description)

	items, err := loader.GetItems(context.Background(), "onboarding")
	require.NoError(t, err)
	assert.Equal(t, "enum(basic|pro)", items[1].Schema["plan"].Name())
}

func TestLoader_IDFromFilename(t *testing.T) {
	_, repo := testutils.SetupTestRepo(t, map[string]string{
		"implicit.json": `{"items": [{"id": "only"}]}`,
	})

	loader := New(loam.NewTypedRepository[map[string]any](repo))
	pb, err := loader.GetPlaybook(context.Background(), "implicit")
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, pb.ItemIDs)
	assert.Equal(t, 1, pb.Version)
}

func TestLoader_DetectsCollisions(t *testing.T) {
	files := map[string]string{
		"foo.md": `---
id: foo
items:
  - id: a
---
Explicit ID`,
		"foo.json": `{"id": "foo", "items": [{"id": "b"}]}`,
	}
	_, repo := testutils.SetupTestRepo(t, files)

	loader := New(loam.NewTypedRepository[map[string]any](repo))
	_, err := loader.ListPlaybooks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision detected")
	assert.Contains(t, err.Error(), "foo")
}

func TestLoader_RejectsInvalidPlaybook(t *testing.T) {
	tmpDir, repo := testutils.SetupTestRepo(t, nil)
	content := `---
id: broken
items:
  - id: a
  - id: a
---
`
	testutils.WritePlaybook(t, tmpDir, "broken.md", content)

	loader := New(loam.NewTypedRepository[map[string]any](repo))
	_, err := loader.GetPlaybook(context.Background(), "broken")
	var de *domain.DefinitionError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Error(), "duplicate item id")
}

func TestLoader_Reload(t *testing.T) {
	tmpDir, repo := testutils.SetupTestRepo(t, nil)
	loader := New(loam.NewTypedRepository[map[string]any](repo))

	_, err := loader.GetPlaybook(context.Background(), "onboarding")
	require.ErrorIs(t, err, domain.ErrPlaybookNotFound)

	testutils.WritePlaybook(t, tmpDir, "onboarding.md", onboardingDoc)
	_, err = loader.GetPlaybook(context.Background(), "onboarding")
	require.ErrorIs(t, err, domain.ErrPlaybookNotFound, "the catalog is parsed once")

	loader.Reload()
	_, err = loader.GetPlaybook(context.Background(), "onboarding")
	assert.NoError(t, err)
}
