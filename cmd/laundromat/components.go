package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/laundromat/internal/cache"
	"github.com/devghori1264/aerophoenix/laundromat/internal/config"
	"github.com/devghori1264/aerophoenix/laundromat/internal/hardware"
	"github.com/devghori1264/aerophoenix/laundromat/internal/identity"
	natsclient "github.com/devghori1264/aerophoenix/laundromat/internal/nats"
	"github.com/devghori1264/aerophoenix/laundromat/internal/storage"
)

func openStore(ctx context.Context, cfg config.Store, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.StoreBadger:
		return storage.NewBadgerStore(cfg.Badger.Path)
	case config.StoreSQLite:
		return storage.OpenSQLiteStore(cfg.SQLite.Path)
	case config.StoreDynamoDB:
		s, err := storage.OpenDynamoDBStore(ctx, storage.DynamoDBConfig{
			Endpoint: cfg.DynamoDB.Endpoint,
			Profile:  cfg.DynamoDB.Profile,
			Region:   cfg.DynamoDB.Region,
			Table:    cfg.DynamoDB.Table,
		}, logger)
		if err != nil {
			return nil, err
		}
		// DynamoDB Local may still be starting
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = time.Minute
		if err := backoff.Retry(func() error { return s.EnsureTable(ctx) }, backoff.WithContext(b, ctx)); err != nil {
			return nil, fmt.Errorf("ensure table %s: %w", cfg.DynamoDB.Table, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openCache(cfg config.Cache) (cache.Cache, func(), error) {
	switch cfg.Driver {
	case config.CacheMemory:
		return cache.NewMemoryCache(), func() {}, nil
	case config.CacheRistretto:
		c, err := cache.NewRistrettoCache(cfg.MaxCost, cfg.NumCounters)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// openHardware returns the hardware client. The simulator is also returned
// so the admin listener can inject faults; it is nil for the NATS driver.
func openHardware(ctx context.Context, cfg config.Hardware, logger *zap.Logger) (hardware.Client, *hardware.Simulator, func(), error) {
	switch cfg.Driver {
	case config.HardwareSimulator:
		sim := hardware.NewSimulator(cfg.StartDelay)
		return sim, sim, func() {}, nil
	case config.HardwareNATS:
		nc, err := natsclient.Connect(ctx, cfg.NATSURL, "laundromat-hardware", logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			_ = nc.Drain()
		}
		return hardware.NewNATSClient(nc, cfg.SubjectPrefix, cfg.RequestTimeout), nil, closeFn, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown hardware driver %q", cfg.Driver)
	}
}

func newValidator(cfg config.Identity) identity.Validator {
	if cfg.IntrospectionURL != "" {
		return identity.NewIntrospectionValidator(cfg.IntrospectionURL, 0)
	}
	return identity.NewStaticValidator(cfg.Tokens...)
}
