package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

// Severity grades a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one problem of a playbook.
type Finding struct {
	PlaybookID string   `json:"playbook_id"`
	ItemID     string   `json:"item_id,omitempty"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
}

func (f Finding) String() string {
	where := f.PlaybookID
	if f.ItemID != "" {
		where += "/" + f.ItemID
	}
	return fmt.Sprintf("%s: %s: %s", f.Severity, where, f.Message)
}

// Report collects the findings of a validation run.
type Report struct {
	Playbooks int       `json:"playbooks"`
	Findings  []Finding `json:"findings"`
}

// Errors returns the number of error findings.
func (r Report) Errors() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Err summarizes the error findings, or returns nil when there are none.
func (r Report) Err() error {
	var lines []string
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			lines = append(lines, f.String())
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return fmt.Errorf("found %d errors:\n- %s", len(lines), strings.Join(lines, "\n- "))
}

// Validate checks every playbook of the store. Structural problems are already
// rejected by the store itself and come back as the returned error; the report
// carries the findings that still load but would stall a user.
func Validate(ctx context.Context, defs ports.DefinitionStore) (Report, error) {
	playbooks, err := defs.ListPlaybooks(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Playbooks: len(playbooks)}
	for _, pb := range playbooks {
		items, err := defs.GetItems(ctx, pb.ID)
		if err != nil {
			return Report{}, fmt.Errorf("playbook %s: %w", pb.ID, err)
		}
		report.Findings = append(report.Findings, Lint(pb, items)...)
	}
	return report, nil
}

// Lint inspects one playbook.
func Lint(pb domain.Playbook, items []domain.Item) []Finding {
	var findings []Finding
	add := func(itemID string, sev Severity, format string, args ...any) {
		findings = append(findings, Finding{
			PlaybookID: pb.ID,
			ItemID:     itemID,
			Severity:   sev,
			Message:    fmt.Sprintf(format, args...),
		})
	}

	if err := domain.ValidateDefinition(pb, items); err != nil {
		add("", SeverityError, "%v", err)
	}
	if pb.Name == "" {
		add("", SeverityWarning, "playbook has no name")
	}

	required := 0
	for _, item := range items {
		if item.Required {
			required++
		}
		switch item.Kind {
		case domain.KindChecklist:
			seen := make(map[string]bool, len(item.Entries))
			for _, e := range item.Entries {
				if seen[e] {
					add(item.ID, SeverityError, "duplicate checklist entry %q", e)
				}
				seen[e] = true
			}
		case domain.KindTask:
			if item.Required && len(item.Schema) == 0 {
				add(item.ID, SeverityWarning, "required task accepts any payload; declare a schema")
			}
		case domain.KindMilestone:
			if len(item.Schema) > 0 {
				add(item.ID, SeverityWarning, "milestone declares a schema; milestones are usually acknowledged without input")
			}
		}
		for name := range item.Schema {
			if strings.TrimSpace(name) == "" {
				add(item.ID, SeverityError, "schema has an empty field name")
			}
		}
	}
	if required == 0 && len(items) > 0 {
		add("", SeverityWarning, "no required items; the playbook completes without any response")
	}
	return findings
}
