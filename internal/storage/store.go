package storage

import (
	"context"
	"errors"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConditionFailed is returned by CompareAndSwapStatus when the stored
	// status differs from the expected one.
	ErrConditionFailed = errors.New("condition failed")
)

// Store is the durable state table for machines. It is the source of truth;
// every implementation is immediately consistent for single-record reads.
type Store interface {
	// ListMachinesAtLocation returns every machine at the location in the
	// store's listing order. An unknown location yields an empty slice.
	ListMachinesAtLocation(ctx context.Context, locationID string) ([]*models.Machine, error)
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	UpdateMachineStatus(ctx context.Context, id string, status models.Status) error
	UpdateMachineJobID(ctx context.Context, id string, jobID string) error
	// CompareAndSwapStatus sets status to `to` only if it is currently `from`.
	CompareAndSwapStatus(ctx context.Context, id string, from, to models.Status) error
	// PutMachine creates or replaces a record. Used by provisioning only.
	PutMachine(ctx context.Context, m *models.Machine) error
	Close() error
}

var (
	_ Store = (*BadgerStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*DynamoDBStore)(nil)
)
