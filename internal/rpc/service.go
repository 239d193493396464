// Package rpc exposes the machine operations over gRPC. Messages are plain Go
// structs carried by a JSON codec, so the service descriptor is written by hand.
package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
)

const ServiceName = "laundromat.v1.MachineService"

// Trailer keys set on non-OK results.
const (
	codeTrailer    = "laundromat-code"
	machineTrailer = "laundromat-machine-bin"
)

type ReserveRequest struct {
	LocationID string `json:"locationId"`
	JobID      string `json:"jobId"`
}

type MachineRequest struct {
	MachineID string `json:"machineId"`
}

type PingRequest struct{}

type PingReply struct {
	Msg string `json:"msg"`
}

// MachineServiceServer is the server API for the machine service.
type MachineServiceServer interface {
	RequestMachine(context.Context, *ReserveRequest) (*models.Result, error)
	GetMachine(context.Context, *MachineRequest) (*models.Result, error)
	StartMachine(context.Context, *MachineRequest) (*models.Result, error)
	Ping(context.Context, *PingRequest) (*PingReply, error)
}

func RegisterMachineServiceServer(s grpc.ServiceRegistrar, srv MachineServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MachineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestMachine", Handler: requestMachineHandler},
		{MethodName: "GetMachine", Handler: getMachineHandler},
		{MethodName: "StartMachine", Handler: startMachineHandler},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func requestMachineHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReserveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MachineServiceServer).RequestMachine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("RequestMachine")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MachineServiceServer).RequestMachine(ctx, req.(*ReserveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getMachineHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MachineRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MachineServiceServer).GetMachine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetMachine")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MachineServiceServer).GetMachine(ctx, req.(*MachineRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func startMachineHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MachineRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MachineServiceServer).StartMachine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("StartMachine")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MachineServiceServer).StartMachine(ctx, req.(*MachineRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MachineServiceServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Ping")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MachineServiceServer).Ping(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}
