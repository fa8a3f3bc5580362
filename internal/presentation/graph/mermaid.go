package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
)

// Overlay contains the progress of one user to visualize on the graph.
type Overlay struct {
	CurrentIndex  int
	FrontierIndex int
	Status        domain.Status
	Answered      map[string]bool
}

// NewOverlay builds an overlay from a progress record and its responses.
func NewOverlay(p domain.Progress, responses map[string]domain.Response) *Overlay {
	answered := make(map[string]bool, len(responses))
	for id := range responses {
		answered[id] = true
	}
	return &Overlay{
		CurrentIndex:  p.CurrentIndex,
		FrontierIndex: p.FrontierIndex,
		Status:        p.Status,
		Answered:      answered,
	}
}

// GenerateMermaid produces a Mermaid flowchart of a playbook.
// Shapes follow the item kind:
// - Step: [Rectangle]
// - Task: [/Parallelogram/] (expects input)
// - Checklist: [[Subroutine]]
// - Milestone: ((Circle))
// Required items are marked with an asterisk.
func GenerateMermaid(def domain.Definition, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	var prev string
	for _, item := range def.Items {
		safeID := sanitizeMermaidID(item.ID)

		opener, closer := "[", "]"
		switch item.Kind {
		case domain.KindTask:
			opener, closer = "[/", "/]"
		case domain.KindChecklist:
			opener, closer = "[[", "]]"
		case domain.KindMilestone:
			opener, closer = "((", "))"
		}

		label := item.ID
		if item.Title != "" {
			label = item.Title
		}
		label = strings.ReplaceAll(label, "\"", "'")
		if item.Required {
			label += " *"
		}
		if item.EstimatedDuration > 0 {
			label = fmt.Sprintf("%s <br/> ⏱️ %s", label, item.EstimatedDuration)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)

		if prev != "" {
			fmt.Fprintf(&sb, "    %s --> %s\n", prev, safeID)
		}
		prev = safeID
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef reached fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef answered fill:#c8e6c9,stroke:#2e7d32,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		for i, item := range def.Items {
			if i > overlay.FrontierIndex && overlay.Status != domain.StatusCompleted {
				break
			}
			class := "reached"
			if overlay.Answered[item.ID] {
				class = "answered"
			}
			if i == overlay.CurrentIndex && overlay.Status == domain.StatusInProgress {
				class = "current"
			}
			fmt.Fprintf(&sb, "    class %s %s;\n", sanitizeMermaidID(item.ID), class)
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
