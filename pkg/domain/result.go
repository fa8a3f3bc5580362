package domain

import "fmt"

// Source tells where the state in a Result was read from.
type Source string

const (
	SourceDurable Source = "durable"
	SourceCache   Source = "cache"
)

// Resolution is the caller's choice when settling a RecoveryConflictError.
type Resolution string

const (
	KeepDurable Resolution = "durable"
	KeepLocal   Resolution = "local"
)

// ParseResolution validates a resolution name.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case KeepDurable, KeepLocal:
		return r, nil
	}
	return "", fmt.Errorf("unknown resolution %q (want %q or %q)", s, KeepDurable, KeepLocal)
}

// Result is the composite outcome of a coordinator operation: the resulting
// state plus the status of each storage layer. A non-nil Durable error with a
// nil Cache error means the operation is only held locally (degraded).
type Result struct {
	Progress  Progress            `json:"progress"`
	Responses map[string]Response `json:"responses"`
	Outcome   Outcome             `json:"outcome,omitempty"`
	Blocking  []string            `json:"blocking,omitempty"`
	Source    Source              `json:"source"`
	Durable   error               `json:"-"`
	Cache     error               `json:"-"`
}

// Degraded reports whether the durable layer did not confirm the operation.
func (r Result) Degraded() bool {
	return r.Durable != nil
}
