package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
	"github.com/devghori1264/aerophoenix/laundromat/internal/storage"
)

type seedFile struct {
	Machines []*models.Machine `yaml:"machines"`
}

func seedCmd(gf *globalFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision machine records into the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(gf)
			if err != nil {
				return err
			}
			defer logger.Sync()

			machines, err := readSeedFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			return provision(ctx, store, machines, logger)
		},
	}
	cmd.Flags().StringVar(&file, "file", "machines.yaml", "YAML file listing machines")
	return cmd
}

// provision writes each machine to the store. A status the service never
// moves a machine out of is stored as given but flagged.
func provision(ctx context.Context, store storage.Store, machines []*models.Machine, logger *zap.Logger) error {
	for _, m := range machines {
		if !m.Status.Known() {
			logger.Warn("machine seeded with a status the service will not transition",
				zap.String("machine_id", m.ID),
				zap.String("status", m.Status.String()),
			)
		}
		if err := store.PutMachine(ctx, m); err != nil {
			return fmt.Errorf("put %s: %w", m.ID, err)
		}
		logger.Info("machine provisioned",
			zap.String("machine_id", m.ID),
			zap.String("location_id", m.LocationID),
			zap.String("status", m.Status.String()),
		)
	}
	return nil
}

func readSeedFile(path string) ([]*models.Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, m := range sf.Machines {
		if m == nil || m.ID == "" || m.LocationID == "" {
			return nil, fmt.Errorf("machine %d: id and location are required", i)
		}
		if m.Status == "" {
			m.Status = models.StatusAvailable
		}
		if _, err := models.ParseStatus(string(m.Status)); err != nil {
			return nil, fmt.Errorf("machine %s: %w", m.ID, err)
		}
	}
	return sf.Machines, nil
}
