package runtime

import (
	"fmt"
	"time"

	"github.com/aretw0/journey/pkg/domain"
)

// Answered reports whether an item has a valid response.
type Answered func(item domain.Item) bool

// Step is the result of applying one transition.
type Step struct {
	Progress domain.Progress
	Outcome  domain.Outcome
	Blocking []string
}

// Tracker is the progress state machine of one playbook. It is pure: it never
// performs I/O and only returns the next progress record.
type Tracker struct {
	items []domain.Item
	now   func() time.Time
}

// NewTracker creates a tracker for the ordered items of a playbook.
func NewTracker(items []domain.Item, now func() time.Time) *Tracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{items: items, now: now}
}

// Len returns the number of items.
func (t *Tracker) Len() int { return len(t.items) }

// Start moves a NotStarted record to InProgress at the first item.
func (t *Tracker) Start(p domain.Progress, version int) (Step, error) {
	if p.Status != domain.StatusNotStarted {
		return Step{}, &domain.TransitionError{Op: "start", From: p.Status}
	}
	if len(t.items) == 0 {
		return Step{}, fmt.Errorf("playbook %s has no items", p.PlaybookID)
	}

	now := t.now().UTC()
	p.Status = domain.StatusInProgress
	p.PlaybookVersion = version
	p.CurrentIndex = 0
	p.FrontierIndex = 0
	p.StartedAt = now
	p.CompletedAt = time.Time{}
	p.Touch(now)
	return Step{Progress: p, Outcome: domain.OutcomeApplied}, nil
}

// Advance moves to the next item, or completes the playbook at the last one.
// A required current item without a valid response blocks the move; completion
// additionally requires every required item to be answered.
func (t *Tracker) Advance(p domain.Progress, answered Answered) (Step, error) {
	if err := t.requireInProgress(p, "advance"); err != nil {
		return Step{}, err
	}
	p = t.clamp(p)

	current := t.items[p.CurrentIndex]
	if current.Required && !answered(current) {
		return Step{Progress: p, Outcome: domain.OutcomeBlocked, Blocking: []string{current.ID}}, nil
	}

	now := t.now().UTC()
	if p.CurrentIndex == len(t.items)-1 {
		if missing := t.Missing(p.CurrentIndex, answered); len(missing) > 0 {
			return Step{Progress: p, Outcome: domain.OutcomeBlocked, Blocking: missing}, nil
		}
		p.Status = domain.StatusCompleted
		p.CompletedAt = now
		p.Touch(now)
		return Step{Progress: p, Outcome: domain.OutcomeCompleted}, nil
	}

	p.CurrentIndex++
	p.FrontierIndex = max(p.FrontierIndex, p.CurrentIndex)
	p.Touch(now)
	return Step{Progress: p, Outcome: domain.OutcomeApplied}, nil
}

// Rewind moves to the previous item; at the first item nothing changes.
func (t *Tracker) Rewind(p domain.Progress) (Step, error) {
	if err := t.requireInProgress(p, "rewind"); err != nil {
		return Step{}, err
	}
	p = t.clamp(p)
	if p.CurrentIndex == 0 {
		return Step{Progress: p, Outcome: domain.OutcomeUnchanged}, nil
	}
	p.CurrentIndex--
	p.Touch(t.now())
	return Step{Progress: p, Outcome: domain.OutcomeApplied}, nil
}

// JumpTo moves to any index in 0..frontier+1. Skipping ahead is allowed by
// navigation; completion still checks every required item.
func (t *Tracker) JumpTo(p domain.Progress, index int) (Step, error) {
	if err := t.requireInProgress(p, "jump"); err != nil {
		return Step{}, err
	}
	p = t.clamp(p)
	if index < 0 || index >= len(t.items) || index > p.FrontierIndex+1 {
		return Step{}, &domain.JumpRejectedError{Index: index, Frontier: p.FrontierIndex, Count: len(t.items)}
	}
	if index == p.CurrentIndex {
		return Step{Progress: p, Outcome: domain.OutcomeUnchanged}, nil
	}
	p.CurrentIndex = index
	p.FrontierIndex = max(p.FrontierIndex, index)
	p.Touch(t.now())
	return Step{Progress: p, Outcome: domain.OutcomeApplied}, nil
}

// Abandon terminates a run in progress.
func (t *Tracker) Abandon(p domain.Progress) (Step, error) {
	if p.Status != domain.StatusInProgress {
		return Step{}, &domain.TransitionError{Op: "abandon", From: p.Status}
	}
	p.Status = domain.StatusAbandoned
	p.Touch(t.now())
	return Step{Progress: p, Outcome: domain.OutcomeApplied}, nil
}

// Reset returns a NotStarted record for the same session.
func (t *Tracker) Reset(p domain.Progress) domain.Progress {
	return domain.NewProgress(p.Key(), p.ExternalRef)
}

// Missing lists the required items up to and including index that lack a valid response.
func (t *Tracker) Missing(index int, answered Answered) []string {
	var missing []string
	for i := 0; i <= index && i < len(t.items); i++ {
		if t.items[i].Required && !answered(t.items[i]) {
			missing = append(missing, t.items[i].ID)
		}
	}
	return missing
}

func (t *Tracker) requireInProgress(p domain.Progress, op string) error {
	if p.Status != domain.StatusInProgress {
		return &domain.TransitionError{Op: op, From: p.Status}
	}
	if len(t.items) == 0 {
		return fmt.Errorf("playbook %s has no items", p.PlaybookID)
	}
	return nil
}

// clamp keeps indices inside the current definition, which may have shrunk
// since the record was written.
func (t *Tracker) clamp(p domain.Progress) domain.Progress {
	last := len(t.items) - 1
	p.CurrentIndex = min(max(p.CurrentIndex, 0), last)
	p.FrontierIndex = min(max(p.FrontierIndex, p.CurrentIndex), last)
	return p
}
