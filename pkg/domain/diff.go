package domain

// ProgressDiff represents the changes between two progress records.
// It is designed to be serialized to JSON for partial updates on the client.
type ProgressDiff struct {
	// UserID and PlaybookID are always present to identify the target.
	UserID     string `json:"user_id"`
	PlaybookID string `json:"playbook_id"`

	Status        *Status `json:"status,omitempty"`
	CurrentIndex  *int    `json:"current_index,omitempty"`
	FrontierIndex *int    `json:"frontier_index,omitempty"`
	Revision      int64   `json:"revision"`

	// Answered lists item ids whose response changed with this update.
	Answered []string `json:"answered,omitempty"`
}

// Diff calculates the difference between oldProgress and newProgress.
// If oldProgress is nil, it returns a diff representing the entire newProgress (initial load).
func Diff(oldProgress, newProgress *Progress) *ProgressDiff {
	if newProgress == nil {
		return nil
	}

	diff := &ProgressDiff{
		UserID:     newProgress.UserID,
		PlaybookID: newProgress.PlaybookID,
		Revision:   newProgress.Revision,
	}

	if oldProgress == nil || oldProgress.Status != newProgress.Status {
		diff.Status = &newProgress.Status
	}
	if oldProgress == nil || oldProgress.CurrentIndex != newProgress.CurrentIndex {
		diff.CurrentIndex = &newProgress.CurrentIndex
	}
	if oldProgress == nil || oldProgress.FrontierIndex != newProgress.FrontierIndex {
		diff.FrontierIndex = &newProgress.FrontierIndex
	}

	return diff
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *ProgressDiff) IsEmpty() bool {
	return d.Status == nil &&
		d.CurrentIndex == nil &&
		d.FrontierIndex == nil &&
		len(d.Answered) == 0
}
