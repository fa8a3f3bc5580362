package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a user's progress through a playbook.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Terminal reports whether no further navigation is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// SessionKey identifies one user's run of one playbook.
type SessionKey struct {
	UserID     string `json:"user_id"`
	PlaybookID string `json:"playbook_id"`
}

// NewSessionKey builds a key.
func NewSessionKey(userID, playbookID string) SessionKey {
	return SessionKey{UserID: userID, PlaybookID: playbookID}
}

func (k SessionKey) String() string {
	return k.UserID + "/" + k.PlaybookID
}

// Validate rejects keys with empty components.
func (k SessionKey) Validate() error {
	if k.UserID == "" {
		return errors.New("user id is required")
	}
	if k.PlaybookID == "" {
		return errors.New("playbook id is required")
	}
	return nil
}

// Progress is the per-(user, playbook) navigation record.
//
// CurrentIndex is where the user is; FrontierIndex is the furthest index the user
// has legitimately reached. UpdatedAt strictly increases on every mutation and
// Revision counts them, providing the version marker used by reconciliation and
// optimistic concurrency.
type Progress struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	PlaybookID      string    `json:"playbook_id"`
	PlaybookVersion int       `json:"playbook_version,omitempty"`
	Status          Status    `json:"status"`
	CurrentIndex    int       `json:"current_index"`
	FrontierIndex   int       `json:"frontier_index"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	CompletedAt     time.Time `json:"completed_at,omitzero"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
	Revision        int64     `json:"revision"`
	ExternalRef     string    `json:"external_ref,omitempty"`
}

// NewProgress returns an unstarted record for key.
func NewProgress(key SessionKey, externalRef string) Progress {
	return Progress{
		UserID:      key.UserID,
		PlaybookID:  key.PlaybookID,
		Status:      StatusNotStarted,
		ExternalRef: externalRef,
	}
}

// Key returns the session key of the record.
func (p Progress) Key() SessionKey {
	return SessionKey{UserID: p.UserID, PlaybookID: p.PlaybookID}
}

// Touch stamps a mutation: UpdatedAt moves to now, or one nanosecond past the
// previous value when the clock did not advance, and Revision increments.
func (p *Progress) Touch(now time.Time) {
	now = now.UTC()
	if !now.After(p.UpdatedAt) {
		now = p.UpdatedAt.Add(time.Nanosecond)
	}
	p.UpdatedAt = now
	p.Revision++
}
