package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/journey/pkg/schema"
)

// ErrNotFound is the root of every "does not exist" error.
var ErrNotFound = errors.New("not found")

var (
	// ErrPlaybookNotFound is returned when a playbook id is unknown to the Definition Store.
	ErrPlaybookNotFound = fmt.Errorf("playbook %w", ErrNotFound)
	// ErrItemNotFound is returned when an item id is not part of the playbook.
	ErrItemNotFound = fmt.Errorf("item %w", ErrNotFound)
	// ErrProgressNotFound is returned when no progress exists for a session key.
	ErrProgressNotFound = fmt.Errorf("progress %w", ErrNotFound)
	// ErrSnapshotAbsent is returned by a Recovery Cache with no snapshot for the key.
	ErrSnapshotAbsent = fmt.Errorf("recovery snapshot %w", ErrNotFound)
)

// ErrStaleWrite is returned by a progress store when the stored revision no
// longer matches the revision the caller read.
var ErrStaleWrite = errors.New("stale write: progress was modified concurrently")

// DefinitionError lists the structural problems of a playbook definition.
type DefinitionError struct {
	PlaybookID string
	Problems   []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid playbook %q: %s", e.PlaybookID, strings.Join(e.Problems, "; "))
}

// ValidationError reports a response payload rejected by its item schema.
// It is raised synchronously and nothing is persisted.
type ValidationError struct {
	ItemID string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid response for item %q: %v", e.ItemID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Fields returns the field-level failures.
func (e *ValidationError) Fields() []*schema.ValidationError {
	return schema.FieldErrors(e.Err)
}

// PersistenceError wraps a failure of the durable store, including timeouts.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("durable store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Timeout reports whether the durable call exceeded its deadline.
func (e *PersistenceError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// CacheError wraps a failure of the local Recovery Cache.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("recovery cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// RecoveryConflictError is returned when the local snapshot is newer than the
// durable state (or the durable state is gone). It is never resolved automatically.
type RecoveryConflictError struct {
	Key     SessionKey
	Durable *Progress
	Cached  *RecoverySnapshot
}

func (e *RecoveryConflictError) Error() string {
	cachedAt := time.Time{}
	if e.Cached != nil {
		cachedAt = e.Cached.LastSavedAt
	}
	if e.Durable == nil {
		return fmt.Sprintf("recovery conflict for %s: local snapshot from %s has no durable counterpart",
			e.Key, cachedAt.Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("recovery conflict for %s: local snapshot from %s is newer than durable revision %d",
		e.Key, cachedAt.Format(time.RFC3339Nano), e.Durable.Revision)
}

// TransitionError is returned when an operation is not allowed from the current status.
type TransitionError struct {
	Op   string
	From Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s: progress is %s", e.Op, e.From)
}

// JumpRejectedError is returned when a jump target lies beyond the reachable range.
type JumpRejectedError struct {
	Index    int
	Frontier int
	Count    int
}

func (e *JumpRejectedError) Error() string {
	return fmt.Sprintf("cannot jump to item %d: reachable range is 0..%d of %d items",
		e.Index, min(e.Frontier+1, e.Count-1), e.Count)
}

// ItemNotReachedError is returned when a response targets an item the user has not reached.
type ItemNotReachedError struct {
	ItemID   string
	Index    int
	Frontier int
}

func (e *ItemNotReachedError) Error() string {
	return fmt.Sprintf("item %q (index %d) has not been reached; frontier is %d", e.ItemID, e.Index, e.Frontier)
}
