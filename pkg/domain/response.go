package domain

import "time"

// Response is the captured, validated payload for one item.
// There is at most one per (user, playbook, item); resubmission replaces the
// payload and refreshes UpdatedAt while ID and CompletedAt keep their first values.
type Response struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	PlaybookID  string         `json:"playbook_id"`
	ItemID      string         `json:"item_id"`
	Payload     map[string]any `json:"payload"`
	CompletedAt time.Time      `json:"completed_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Key returns the session key of the response.
func (r Response) Key() SessionKey {
	return SessionKey{UserID: r.UserID, PlaybookID: r.PlaybookID}
}

// Merge applies an upsert of next onto an existing stored response.
func (r Response) Merge(next Response) Response {
	next.ID = r.ID
	next.CompletedAt = r.CompletedAt
	if !next.UpdatedAt.After(r.UpdatedAt) {
		next.UpdatedAt = r.UpdatedAt.Add(time.Nanosecond)
	}
	return next
}
