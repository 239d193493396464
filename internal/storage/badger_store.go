package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
	badger "github.com/dgraph-io/badger/v4"
)

// conflictRetries bounds how often a mutation is replayed after badger reports
// a transaction conflict.
const conflictRetries = 3

// BadgerStore implements Store with Badger DB. Machines are stored as JSON under
// machine:<id>; location:<location>:<id> keys index them by location, so listing
// order is lexicographic by machine id.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil                         // badger logs are noise next to zap output
	opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func machineKey(id string) []byte {
	return []byte("machine:" + id)
}

func locationPrefix(locationID string) []byte {
	return []byte("location:" + locationID + ":")
}

func locationKey(locationID, id string) []byte {
	return append(locationPrefix(locationID), id...)
}

func (s *BadgerStore) PutMachine(ctx context.Context, m *models.Machine) error {
	if m == nil || m.ID == "" {
		return errors.New("machine id required")
	}
	return s.update(func(txn *badger.Txn) error {
		prev, err := readMachine(txn, m.ID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case prev.LocationID != m.LocationID:
			if err := txn.Delete(locationKey(prev.LocationID, prev.ID)); err != nil {
				return err
			}
		}
		rec := m.Clone()
		if prev != nil {
			rec.Version = prev.Version + 1
		}
		rec.UpdatedAt = time.Now().UTC()
		if err := writeMachine(txn, rec); err != nil {
			return err
		}
		return txn.Set(locationKey(rec.LocationID, rec.ID), []byte{})
	})
}

func (s *BadgerStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	var out *models.Machine
	err := s.db.View(func(txn *badger.Txn) error {
		m, err := readMachine(txn, id)
		out = m
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) ListMachinesAtLocation(ctx context.Context, locationID string) ([]*models.Machine, error) {
	out := []*models.Machine{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := locationPrefix(locationID)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			m, err := readMachine(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue // dangling index entry
			}
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) UpdateMachineStatus(ctx context.Context, id string, status models.Status) error {
	return s.mutate(id, func(m *models.Machine) error {
		m.Status = status
		return nil
	})
}

func (s *BadgerStore) UpdateMachineJobID(ctx context.Context, id string, jobID string) error {
	return s.mutate(id, func(m *models.Machine) error {
		m.CurrentJobID = jobID
		return nil
	})
}

func (s *BadgerStore) CompareAndSwapStatus(ctx context.Context, id string, from, to models.Status) error {
	return s.mutate(id, func(m *models.Machine) error {
		if m.Status != from {
			return fmt.Errorf("%w: machine %s is %s, expected %s", ErrConditionFailed, id, m.Status, from)
		}
		m.Status = to
		return nil
	})
}

// mutate applies fn to the stored record inside a read-write transaction.
func (s *BadgerStore) mutate(id string, fn func(m *models.Machine) error) error {
	return s.update(func(txn *badger.Txn) error {
		m, err := readMachine(txn, id)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		m.Version++
		m.UpdatedAt = time.Now().UTC()
		return writeMachine(txn, m)
	})
}

func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readMachine(txn *badger.Txn, id string) (*models.Machine, error) {
	item, err := txn.Get(machineKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var out models.Machine
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &out)
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

func writeMachine(txn *badger.Txn, m *models.Machine) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return txn.Set(machineKey(m.ID), data)
}
