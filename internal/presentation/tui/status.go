package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
)

// StatusMarkdown describes a session as a markdown checklist.
func StatusMarkdown(def domain.Definition, res domain.Result) string {
	var sb strings.Builder

	title := def.Playbook.Name
	if title == "" {
		title = def.Playbook.ID
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if def.Playbook.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", def.Playbook.Description)
	}

	p := res.Progress
	fmt.Fprintf(&sb, "**Status:** %s", p.Status)
	if p.Status == domain.StatusInProgress && len(def.Items) > 0 {
		fmt.Fprintf(&sb, " (item %d of %d)", p.CurrentIndex+1, len(def.Items))
	}
	sb.WriteString("\n\n")

	for i, item := range def.Items {
		mark := " "
		if _, ok := res.Responses[item.ID]; ok {
			mark = "x"
		}
		label := item.ID
		if item.Title != "" {
			label = fmt.Sprintf("%s (`%s`)", item.Title, item.ID)
		}
		if item.Required {
			label += " *required*"
		}
		if p.Status == domain.StatusInProgress && i == p.CurrentIndex {
			label = "**" + label + "** ←"
		}
		fmt.Fprintf(&sb, "- [%s] %d. %s\n", mark, i, label)
	}

	if res.Outcome == domain.OutcomeBlocked && len(res.Blocking) > 0 {
		fmt.Fprintf(&sb, "\n> Blocked: answer %s first.\n", strings.Join(res.Blocking, ", "))
	}
	if res.Degraded() {
		fmt.Fprintf(&sb, "\n> Saved locally only: %v\n", res.Durable)
	}
	if res.Source == domain.SourceCache {
		sb.WriteString("\n> Showing the local recovery copy.\n")
	}
	return sb.String()
}

// ResponsesMarkdown lists stored responses, sorted by item id.
func ResponsesMarkdown(responses map[string]domain.Response) string {
	if len(responses) == 0 {
		return ""
	}
	ids := make([]string, 0, len(responses))
	for id := range responses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("\n## Responses\n\n")
	for _, id := range ids {
		r := responses[id]
		keys := make([]string, 0, len(r.Payload))
		for k := range r.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&sb, "- `%s`", id)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, r.Payload[k])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
