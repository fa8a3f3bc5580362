package domain

import (
	"sort"
	"time"
)

// RecoverySnapshot is the locally cached copy of a session's progress and
// responses, written through on every mutation.
type RecoverySnapshot struct {
	UserID      string     `json:"user_id"`
	PlaybookID  string     `json:"playbook_id"`
	Progress    Progress   `json:"progress"`
	Responses   []Response `json:"responses"`
	LastSavedAt time.Time  `json:"last_saved_at"`
}

// NewSnapshot captures progress and responses. LastSavedAt is the state marker,
// so a snapshot and the durable state it was copied from compare equal.
func NewSnapshot(p Progress, responses map[string]Response) RecoverySnapshot {
	list := make([]Response, 0, len(responses))
	for _, r := range responses {
		list = append(list, r)
	}
	sort.Slice(list, func(a, b int) bool { return list[a].ItemID < list[b].ItemID })
	return RecoverySnapshot{
		UserID:      p.UserID,
		PlaybookID:  p.PlaybookID,
		Progress:    p,
		Responses:   list,
		LastSavedAt: Marker(p, responses),
	}
}

// Key returns the session key of the snapshot.
func (s RecoverySnapshot) Key() SessionKey {
	return SessionKey{UserID: s.UserID, PlaybookID: s.PlaybookID}
}

// ResponseMap indexes the snapshot responses by item id.
func (s RecoverySnapshot) ResponseMap() map[string]Response {
	out := make(map[string]Response, len(s.Responses))
	for _, r := range s.Responses {
		out[r.ItemID] = r
	}
	return out
}

// Marker is the version marker of a session: the latest of the progress and
// response modification times.
func Marker(p Progress, responses map[string]Response) time.Time {
	m := p.UpdatedAt
	for _, r := range responses {
		if r.UpdatedAt.After(m) {
			m = r.UpdatedAt
		}
	}
	return m
}
