package graph_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aretw0/journey/internal/presentation/graph"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func definition() domain.Definition {
	return domain.Definition{
		Playbook: domain.Playbook{ID: "onboarding"},
		Items: []domain.Item{
			{ID: "welcome", Kind: domain.KindStep, Title: `Say "hi"`},
			{ID: "profile-form", Kind: domain.KindTask, Required: true, EstimatedDuration: 30 * time.Minute},
			{ID: "setup", Kind: domain.KindChecklist},
			{ID: "done", Kind: domain.KindMilestone},
		},
	}
}

func TestGenerateMermaid(t *testing.T) {
	out := graph.GenerateMermaid(definition(), nil)

	for _, want := range []string{
		"graph TD\n",
		`welcome["Say 'hi'"]`,
		`profile_form[/"profile-form * <br/> ⏱️ 30m0s"/]`,
		`setup[["setup"]]`,
		`done(("done"))`,
		"welcome --> profile_form",
		"profile_form --> setup",
		"setup --> done",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "classDef")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	p := domain.Progress{Status: domain.StatusInProgress, CurrentIndex: 1, FrontierIndex: 2}
	overlay := graph.NewOverlay(p, map[string]domain.Response{"profile-form": {}})

	out := graph.GenerateMermaid(definition(), overlay)

	assert.Contains(t, out, "class welcome reached;")
	assert.Contains(t, out, "class profile_form current;", "the cursor wins over answered")
	assert.Contains(t, out, "class setup reached;")
	assert.NotContains(t, out, "class done", "items past the frontier are not styled")
	assert.Equal(t, 1, strings.Count(out, "current;"))
}

func TestGenerateMermaid_CompletedOverlay(t *testing.T) {
	p := domain.Progress{Status: domain.StatusCompleted, CurrentIndex: 3, FrontierIndex: 3}
	out := graph.GenerateMermaid(definition(), graph.NewOverlay(p, map[string]domain.Response{"profile-form": {}}))

	assert.Contains(t, out, "class done reached;")
	assert.Contains(t, out, "class profile_form answered;")
	assert.NotContains(t, out, "current;")
}
