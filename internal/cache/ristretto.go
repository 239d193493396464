package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
)

// ErrRejected is returned when ristretto's admission policy drops a Put.
var ErrRejected = errors.New("cache entry rejected")

// RistrettoCache is a bounded cache. Each machine costs 1, so MaxCost is the
// number of machines kept.
type RistrettoCache struct {
	c *ristretto.Cache[string, *models.Machine]
}

func NewRistrettoCache(maxCost, numCounters int64) (*RistrettoCache, error) {
	if maxCost <= 0 {
		maxCost = 10_000
	}
	if numCounters <= 0 {
		numCounters = maxCost * 10
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *models.Machine]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
		// cost is a machine count, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &RistrettoCache{c: c}, nil
}

func (r *RistrettoCache) Get(_ context.Context, id string) (*models.Machine, bool, error) {
	m, ok := r.c.Get(id)
	if !ok {
		return nil, false, nil
	}
	return m.Clone(), true, nil
}

// Put waits for the write buffers so a following Get observes the entry.
func (r *RistrettoCache) Put(_ context.Context, id string, m *models.Machine) error {
	if !r.c.Set(id, m.Clone(), 1) {
		return ErrRejected
	}
	r.c.Wait()
	return nil
}

func (r *RistrettoCache) Close() {
	r.c.Close()
}
