package memory

import (
	"sync"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

var _ ports.RecoveryCache = (*Cache)(nil)

// Cache implements ports.RecoveryCache in memory. Snapshots are stored
// encoded, so readers never share state with writers.
type Cache struct {
	data map[domain.SessionKey][]byte
	mu   sync.RWMutex
}

// NewCache creates an empty in-memory recovery cache.
func NewCache() *Cache {
	return &Cache{data: make(map[domain.SessionKey][]byte)}
}

func (c *Cache) Write(key domain.SessionKey, snapshot domain.RecoverySnapshot) error {
	data, err := domain.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
	return nil
}

func (c *Cache) Read(key domain.SessionKey) (domain.RecoverySnapshot, error) {
	c.mu.RLock()
	data, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return domain.RecoverySnapshot{}, domain.ErrSnapshotAbsent
	}
	return domain.DecodeSnapshot(data)
}

func (c *Cache) Clear(key domain.SessionKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *Cache) List() ([]domain.SessionKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]domain.SessionKey, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}
