package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/devghori1264/aerophoenix/laundromat/internal/cache"
	"github.com/devghori1264/aerophoenix/laundromat/internal/hardware"
	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
	"github.com/devghori1264/aerophoenix/laundromat/internal/storage"
)

// memStore is an in-memory storage.Store that counts calls.
type memStore struct {
	mu       sync.Mutex
	order    []string
	machines map[string]*models.Machine

	gets, lists, writes int
	jobErr              error
}

func newMemStore(ms ...*models.Machine) *memStore {
	s := &memStore{machines: map[string]*models.Machine{}}
	for _, m := range ms {
		_ = s.PutMachine(context.Background(), m)
	}
	return s
}

func (s *memStore) ListMachinesAtLocation(_ context.Context, locationID string) ([]*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	out := []*models.Machine{}
	for _, id := range s.order {
		if m := s.machines[id]; m.LocationID == locationID {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *memStore) GetMachine(_ context.Context, id string) (*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	m, ok := s.machines[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *memStore) UpdateMachineStatus(_ context.Context, id string, status models.Status) error {
	return s.mutate(id, func(m *models.Machine) error { m.Status = status; return nil })
}

func (s *memStore) UpdateMachineJobID(_ context.Context, id string, jobID string) error {
	if s.jobErr != nil {
		return s.jobErr
	}
	return s.mutate(id, func(m *models.Machine) error { m.CurrentJobID = jobID; return nil })
}

func (s *memStore) CompareAndSwapStatus(_ context.Context, id string, from, to models.Status) error {
	return s.mutate(id, func(m *models.Machine) error {
		if m.Status != from {
			return fmt.Errorf("%w: %s", storage.ErrConditionFailed, m.Status)
		}
		m.Status = to
		return nil
	})
}

func (s *memStore) PutMachine(_ context.Context, m *models.Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.machines[m.ID]; !ok {
		s.order = append(s.order, m.ID)
	}
	s.machines[m.ID] = m.Clone()
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) mutate(id string, fn func(m *models.Machine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return storage.ErrNotFound
	}
	if err := fn(m); err != nil {
		return err
	}
	m.Version++
	s.writes++
	return nil
}

// set overwrites a record behind the server's back.
func (s *memStore) set(id string, status models.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[id].Status = status
}

// remove deletes a record behind the server's back.
func (s *memStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.machines, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *memStore) counts() (gets, lists, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.lists, s.writes
}

// racingStore lets a test change records between the server's reads and its
// conditional writes, as another process sharing the store would.
type racingStore struct {
	*memStore
	afterList func()
	beforeCAS func(id string)
}

func (s *racingStore) ListMachinesAtLocation(ctx context.Context, locationID string) ([]*models.Machine, error) {
	ms, err := s.memStore.ListMachinesAtLocation(ctx, locationID)
	if s.afterList != nil {
		s.afterList()
	}
	return ms, err
}

func (s *racingStore) CompareAndSwapStatus(ctx context.Context, id string, from, to models.Status) error {
	if s.beforeCAS != nil {
		s.beforeCAS(id)
	}
	return s.memStore.CompareAndSwapStatus(ctx, id, from, to)
}

// brokenCache fails every call.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (*models.Machine, bool, error) {
	return nil, false, errors.New("cache down")
}

func (brokenCache) Put(context.Context, string, *models.Machine) error {
	return errors.New("cache down")
}

// recordingPublisher keeps every event it is handed.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) PublishMachineEvent(_ context.Context, ev models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []models.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventKind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	store *memStore
	cache *cache.MemoryCache
	hw    *hardware.Simulator
	srv   *Server
}

func newFixture(t *testing.T, opts []Option, ms ...*models.Machine) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(ms...),
		cache: cache.NewMemoryCache(),
		hw:    hardware.NewSimulator(0),
	}
	f.srv = New(f.store, f.cache, f.hw, opts...)
	return f
}

func (f *fixture) stored(t *testing.T, id string) *models.Machine {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	m, ok := f.store.machines[id]
	if !ok {
		t.Fatalf("machine %s not in store", id)
	}
	return m.Clone()
}

func (f *fixture) cached(t *testing.T, id string) *models.Machine {
	t.Helper()
	m, ok, err := f.cache.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("machine %s not in cache (err=%v)", id, err)
	}
	return m
}

func available(id, location string) *models.Machine {
	return &models.Machine{ID: id, LocationID: location, Status: models.StatusAvailable}
}
