package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/laundromat/internal/config"
	"github.com/devghori1264/aerophoenix/laundromat/internal/logging"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	var gf globalFlags

	root := &cobra.Command{
		Use:           "laundromat",
		Short:         "Reserve and start shared machines",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&gf.configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(serveCmd(&gf))
	root.AddCommand(seedCmd(&gf))
	root.AddCommand(agentCmd(&gf))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// load resolves the config and builds the logger every subcommand needs.
func load(gf *globalFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return nil, nil, err
	}
	if gf.logLevel != "" {
		cfg.Log.Level = gf.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
