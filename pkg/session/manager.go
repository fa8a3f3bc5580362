package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/journey/internal/logging"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orders operations on the same (user, playbook) session.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger // Logger for internal events (like deferred errors)
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL requested from the distributed locker.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Session Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// ActiveLocks returns the number of sessions currently holding or waiting for a lock.
func (m *Manager) ActiveLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// WithLock executes fn while holding the lock for the session.
// Operations on different sessions never wait for each other.
func (m *Manager) WithLock(ctx context.Context, key domain.SessionKey, fn func(context.Context) error) error {
	id := key.String()
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, "journey:lock:"+id, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"user_id", key.UserID,
					"playbook_id", key.PlaybookID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
