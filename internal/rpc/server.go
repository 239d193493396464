package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/devghori1264/aerophoenix/laundromat/internal/identity"
	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
	"github.com/devghori1264/aerophoenix/laundromat/internal/server"
)

// NewServer builds a gRPC server exposing svc, the standard health service and
// an authentication interceptor backed by v.
func NewServer(svc server.Service, v identity.Validator, logger *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("grpc")

	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(authInterceptor(v, logger)),
	}, opts...)
	gs := grpc.NewServer(opts...)

	RegisterMachineServiceServer(gs, &machineServer{svc: svc, logger: logger})

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}

// authInterceptor rejects calls without a valid token before they reach the
// service. Ping and health checks are open.
func authInterceptor(v identity.Validator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info.FullMethod == fullMethod("Ping") || strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		if err := identity.Check(ctx, v, tokenFromMetadata(ctx)); err != nil {
			logger.Info("rejected call", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid or missing token")
		}
		return handler(ctx, req)
	}
}

func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	if token, ok := identity.BearerToken(vals[0]); ok {
		return token
	}
	return strings.TrimSpace(vals[0])
}

var _ server.Service = (*Client)(nil)

type machineServer struct {
	svc    server.Service
	logger *zap.Logger
}

func (s *machineServer) RequestMachine(ctx context.Context, in *ReserveRequest) (*models.Result, error) {
	res, err := s.svc.RequestMachine(ctx, in.LocationID, in.JobID)
	return s.reply(ctx, "RequestMachine", res, err)
}

func (s *machineServer) GetMachine(ctx context.Context, in *MachineRequest) (*models.Result, error) {
	res, err := s.svc.GetMachine(ctx, in.MachineID)
	return s.reply(ctx, "GetMachine", res, err)
}

func (s *machineServer) StartMachine(ctx context.Context, in *MachineRequest) (*models.Result, error) {
	res, err := s.svc.StartMachine(ctx, in.MachineID)
	return s.reply(ctx, "StartMachine", res, err)
}

func (s *machineServer) Ping(context.Context, *PingRequest) (*PingReply, error) {
	return &PingReply{Msg: "pong from laundromat"}, nil
}

// reply turns a non-OK result into a status error. The result code and, for
// BAD_REQUEST, the unmutated record travel in the trailer.
func (s *machineServer) reply(ctx context.Context, method string, res models.Result, err error) (*models.Result, error) {
	if err != nil {
		s.logger.Error("operation failed", zap.String("method", method), zap.Error(err))
		res = models.InternalError("internal error")
	}
	if res.Code == models.CodeOK {
		return &res, nil
	}

	md := metadata.Pairs(codeTrailer, string(res.Code))
	if res.Machine != nil {
		if b, merr := json.Marshal(res.Machine); merr == nil {
			md.Append(machineTrailer, string(b))
		}
	}
	if terr := grpc.SetTrailer(ctx, md); terr != nil {
		s.logger.Warn("set trailer failed", zap.String("method", method), zap.Error(terr))
	}
	return nil, status.Error(GRPCCode(res.Code), res.Message)
}

// GRPCCode maps a result code to its gRPC status code.
func GRPCCode(code models.Code) codes.Code {
	switch code {
	case models.CodeOK:
		return codes.OK
	case models.CodeNotFound:
		return codes.NotFound
	case models.CodeBadRequest:
		return codes.FailedPrecondition
	case models.CodeHardwareError:
		return codes.Unavailable
	case models.CodeUnauthorized:
		return codes.Unauthenticated
	default:
		return codes.Internal
	}
}
