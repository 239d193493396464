// Package cache holds the process-wide accelerator in front of the machine
// store. Entries are copies: callers may mutate what they get back.
package cache

import (
	"context"
	"sync"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
)

type Cache interface {
	Get(ctx context.Context, id string) (*models.Machine, bool, error)
	Put(ctx context.Context, id string, m *models.Machine) error
}

// MemoryCache is an unbounded map guarded by a RWMutex.
type MemoryCache struct {
	mu       sync.RWMutex
	machines map[string]*models.Machine
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{machines: make(map[string]*models.Machine)}
}

func (c *MemoryCache) Get(_ context.Context, id string) (*models.Machine, bool, error) {
	c.mu.RLock()
	m, ok := c.machines[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return m.Clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, id string, m *models.Machine) error {
	c.mu.Lock()
	c.machines[id] = m.Clone()
	c.mu.Unlock()
	return nil
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RistrettoCache)(nil)
)
