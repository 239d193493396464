package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devghori1264/aerophoenix/laundromat/internal/api"
	natsclient "github.com/devghori1264/aerophoenix/laundromat/internal/nats"
	"github.com/devghori1264/aerophoenix/laundromat/internal/rpc"
	"github.com/devghori1264/aerophoenix/laundromat/internal/server"
	"github.com/devghori1264/aerophoenix/laundromat/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(gf *globalFlags) *cobra.Command {
	var httpAddr, grpcAddr, adminAddr, storeDriver string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, gRPC and admin listeners",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(gf)
			if err != nil {
				return err
			}
			defer logger.Sync()

			flags := cmd.Flags()
			if flags.Changed("http-addr") {
				cfg.HTTPAddr = httpAddr
			}
			if flags.Changed("grpc-addr") {
				cfg.GRPCAddr = grpcAddr
			}
			if flags.Changed("admin-addr") {
				cfg.AdminAddr = adminAddr
			}
			if flags.Changed("store") {
				cfg.Store.Driver = storeDriver
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tp, shutdownTracing, err := telemetry.Setup(cfg.Tracing.Enabled, "laundromat", os.Stderr)
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())

			store, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			c, closeCache, err := openCache(cfg.Cache)
			if err != nil {
				return err
			}
			defer closeCache()

			hw, sim, closeHW, err := openHardware(ctx, cfg.Hardware, logger)
			if err != nil {
				return err
			}
			defer closeHW()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			opts := []server.Option{
				server.WithLogger(logger),
				server.WithTracerProvider(tp),
				server.WithMetrics(server.NewMetrics(reg)),
			}
			if cfg.Events.NATSURL != "" {
				pub, err := natsclient.NewPublisher(ctx, cfg.Events.NATSURL, cfg.Events.Subject, logger)
				if err != nil {
					return err
				}
				defer pub.Close()
				opts = append(opts, server.WithEventPublisher(pub))
			}
			srv := server.New(store, c, hw, opts...)
			validator := newValidator(cfg.Identity)

			httpServer := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           api.NewHTTPHandler(srv, validator, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			grpcServer, healthServer := rpc.NewServer(srv, validator, logger)

			adminMux := http.NewServeMux()
			api.RegisterPing(adminMux)
			api.RegisterMetrics(adminMux, reg)
			if sim != nil {
				api.RegisterChaos(adminMux, sim, logger)
			}
			adminServer := &http.Server{Addr: cfg.AdminAddr, Handler: adminMux, ReadHeaderTimeout: 10 * time.Second}

			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
				return grpcServer.Serve(lis)
			})
			g.Go(func() error {
				logger.Info("HTTP router listening", zap.String("addr", cfg.HTTPAddr))
				return listen(httpServer)
			})
			g.Go(func() error {
				logger.Info("admin listener up", zap.String("addr", cfg.AdminAddr))
				return listen(adminServer)
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutdown initiated")

				healthServer.Shutdown()
				grpcServer.GracefulStop()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := httpServer.Shutdown(sctx); err != nil {
					logger.Warn("http server shutdown error", zap.Error(err))
				}
				if err := adminServer.Shutdown(sctx); err != nil {
					logger.Warn("admin server shutdown error", zap.Error(err))
				}
				return nil
			})

			err = g.Wait()
			logger.Info("shutdown complete")
			return err
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP router listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", ":50051", "gRPC listen address")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", ":9090", "Ping, metrics and chaos listen address")
	cmd.Flags().StringVar(&storeDriver, "store", "badger", "Store driver (badger, sqlite, dynamodb)")
	return cmd
}

func listen(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
