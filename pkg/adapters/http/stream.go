package http

import (
	"log/slog"
	"sync"

	"github.com/aretw0/journey/pkg/domain"
)

// StreamManager fans progress diffs out to SSE subscribers of a session.
// It remembers the last progress it saw per session so each publish carries
// only what changed.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[domain.SessionKey]map[chan *domain.ProgressDiff]struct{}
	last        map[domain.SessionKey]domain.Progress
	logger      *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamManager{
		subscribers: make(map[domain.SessionKey]map[chan *domain.ProgressDiff]struct{}),
		last:        make(map[domain.SessionKey]domain.Progress),
		logger:      logger,
	}
}

// Subscribe registers a listener for key. The returned func unsubscribes and
// closes the channel.
func (sm *StreamManager) Subscribe(key domain.SessionKey) (<-chan *domain.ProgressDiff, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan *domain.ProgressDiff, 10)
	if _, ok := sm.subscribers[key]; !ok {
		sm.subscribers[key] = make(map[chan *domain.ProgressDiff]struct{})
	}
	sm.subscribers[key][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[key]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, key)
					delete(sm.last, key)
				}
			}
		})
	}
}

// Publish computes the diff against the last known progress of key and
// broadcasts it when something changed.
func (sm *StreamManager) Publish(key domain.SessionKey, p domain.Progress, answered ...string) {
	sm.mu.Lock()
	if _, watched := sm.subscribers[key]; !watched {
		sm.mu.Unlock()
		return
	}
	var prev *domain.Progress
	if old, ok := sm.last[key]; ok {
		prev = &old
	}
	sm.last[key] = p
	sm.mu.Unlock()

	diff := domain.Diff(prev, &p)
	if diff == nil {
		return
	}
	diff.Answered = answered
	if diff.IsEmpty() {
		return
	}
	sm.Broadcast(key, diff)
}

// Broadcast sends diff to every subscriber of key, dropping it for slow clients.
func (sm *StreamManager) Broadcast(key domain.SessionKey, diff *domain.ProgressDiff) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[key] {
		select {
		case ch <- diff:
		default:
			sm.logger.Warn("SSE: Client buffer full, dropping message",
				"user_id", key.UserID, "playbook_id", key.PlaybookID)
		}
	}
}
