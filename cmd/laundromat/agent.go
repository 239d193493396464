package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/laundromat/internal/hardware"
	natsclient "github.com/devghori1264/aerophoenix/laundromat/internal/nats"
)

func agentCmd(gf *globalFlags) *cobra.Command {
	var startDelay time.Duration

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Answer start-cycle requests over NATS with the hardware simulator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(gf)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			nc, err := natsclient.Connect(ctx, cfg.Hardware.NATSURL, "laundromat-agent", logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			if !cmd.Flags().Changed("start-delay") {
				startDelay = cfg.Hardware.StartDelay
			}
			agent := hardware.NewAgent(nc, cfg.Hardware.SubjectPrefix, hardware.NewSimulator(startDelay), logger)
			if err := agent.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("agent stopping", zap.String("url", cfg.Hardware.NATSURL))
			return agent.Stop()
		},
	}
	cmd.Flags().DurationVar(&startDelay, "start-delay", 0, "Simulated time to start a cycle")
	return cmd
}
