package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

var (
	_ ports.DurableStore  = (*Store)(nil)
	_ ports.SessionLister = (*Store)(nil)
)

// Store implements ports.DurableStore in memory.
// Safe for concurrent use.
type Store struct {
	progress  map[domain.SessionKey]domain.Progress
	responses map[domain.SessionKey]map[string]domain.Response
	mu        sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		progress:  make(map[domain.SessionKey]domain.Progress),
		responses: make(map[domain.SessionKey]map[string]domain.Response),
	}
}

// LoadProgress retrieves the progress record.
func (s *Store) LoadProgress(ctx context.Context, key domain.SessionKey) (domain.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[key]
	if !ok {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	return p, nil
}

// SaveProgress stores p when the current revision matches expectedRevision.
func (s *Store) SaveProgress(ctx context.Context, p domain.Progress, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	current, exists := s.progress[key]
	switch {
	case !exists && expectedRevision != 0:
		return domain.ErrStaleWrite
	case exists && current.Revision != expectedRevision:
		return domain.ErrStaleWrite
	}
	s.progress[key] = p
	return nil
}

// DeleteProgress removes the progress record.
func (s *Store) DeleteProgress(ctx context.Context, key domain.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress, key)
	return nil
}

// SaveResponse upserts a response. The payload is copied in its canonical
// JSON form, the same shape every other store hands back.
func (s *Store) SaveResponse(ctx context.Context, r domain.Response) (domain.Response, error) {
	payload, err := domain.CanonicalPayload(r.Payload)
	if err != nil {
		return domain.Response{}, err
	}
	r.Payload = payload

	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Key()
	bucket, ok := s.responses[key]
	if !ok {
		bucket = make(map[string]domain.Response)
		s.responses[key] = bucket
	}
	if existing, ok := bucket[r.ItemID]; ok {
		r = existing.Merge(r)
	}
	bucket[r.ItemID] = r
	return copyResponse(r), nil
}

// GetResponses returns copies of the stored responses.
func (s *Store) GetResponses(ctx context.Context, key domain.SessionKey) (map[string]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Response, len(s.responses[key]))
	for id, r := range s.responses[key] {
		out[id] = copyResponse(r)
	}
	return out, nil
}

// DeleteResponses removes every response of the session.
func (s *Store) DeleteResponses(ctx context.Context, key domain.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.responses, key)
	return nil
}

// ListSessions returns the sessions with a progress record.
func (s *Store) ListSessions(ctx context.Context) ([]domain.SessionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]domain.SessionKey, 0, len(s.progress))
	for k := range s.progress {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}

// copyResponse returns r with a payload the caller may mutate freely.
func copyResponse(r domain.Response) domain.Response {
	if cp, err := domain.CanonicalPayload(r.Payload); err == nil {
		r.Payload = cp
	}
	return r
}

func sortKeys(keys []domain.SessionKey) {
	sort.Slice(keys, func(a, b int) bool {
		return keys[a].String() < keys[b].String()
	})
}
