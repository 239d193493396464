package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
	"github.com/devghori1264/aerophoenix/laundromat/internal/rpc"
	"github.com/devghori1264/aerophoenix/laundromat/internal/server"
)

type options struct {
	server  string
	admin   string
	token   string
	useGRPC bool
	timeout time.Duration
	verbose bool
}

// client is what every subcommand talks to, over HTTP or gRPC.
type client interface {
	server.Service
	Ping(ctx context.Context) (string, error)
	Close() error
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:           "laundroctl",
		Short:         "Reserve and start machines from the command line",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", "", "Server address (default http://localhost:8080, or localhost:50051 with --grpc)")
	root.PersistentFlags().StringVar(&opts.admin, "admin", "http://localhost:9090", "Admin address used by ping over HTTP")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("LAUNDROMAT_TOKEN"), "Bearer token (default $LAUNDROMAT_TOKEN)")
	root.PersistentFlags().BoolVar(&opts.useGRPC, "grpc", false, "Use the gRPC API instead of HTTP")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 45*time.Second, "Request timeout")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log requests")

	root.AddCommand(pingCmd(opts), reserveCmd(opts), getCmd(opts), startCmd(opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (o *options) connect() (client, *zap.Logger, error) {
	logger := zap.NewNop()
	if o.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, nil, err
		}
		logger = l
	}

	if o.useGRPC {
		target := o.server
		if target == "" {
			target = "localhost:50051"
		}
		logger.Debug("dialing gRPC", zap.String("target", target))
		c, err := rpc.Dial(target, o.token)
		if err != nil {
			return nil, nil, err
		}
		return c, logger, nil
	}

	base := o.server
	if base == "" {
		base = "http://localhost:8080"
	}
	return newHTTPClient(base, o.admin, o.token, logger), logger, nil
}

// run connects, calls fn and prints the result. A non-OK result is an error.
func (o *options) run(cmd *cobra.Command, fn func(ctx context.Context, c client) (models.Result, error)) error {
	c, logger, err := o.connect()
	if err != nil {
		return err
	}
	defer c.Close()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	res, err := fn(ctx, c)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if res.Code != models.CodeOK {
		return fmt.Errorf("request failed: %s", res.Code)
	}
	return nil
}

func pingCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the server is up",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := o.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			msg, err := c.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func reserveCmd(o *options) *cobra.Command {
	var location, job string
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Reserve an available machine at a location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if job == "" {
				job = uuid.NewString()
			}
			return o.run(cmd, func(ctx context.Context, c client) (models.Result, error) {
				return c.RequestMachine(ctx, location, job)
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "Location id")
	cmd.Flags().StringVar(&job, "job", "", "Job id (generated when empty)")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func getCmd(o *options) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a machine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, c client) (models.Result, error) {
				return c.GetMachine(ctx, id)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Machine id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func startCmd(o *options) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the cycle of a reserved machine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, c client) (models.Result, error) {
				return c.StartMachine(ctx, id)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Machine id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
