// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"google.golang.org/grpc"

	"github.com/admire-eurohpc/cargo/proto"
)

// MasterService is the control-RPC surface the coordinator exposes.
type MasterService interface {
	Ping(ctx context.Context, req *proto.PingRequest) (*proto.PingResponse, error)
	TransferDatasets(ctx context.Context, req *proto.TransferDatasetsRequest) (*proto.TransferDatasetsResponse, error)
	TransferStatus(ctx context.Context, req *proto.TransferStatusRequest) (*proto.TransferStatusResponse, error)
	TransferStatuses(ctx context.Context, req *proto.TransferStatusesRequest) (*proto.TransferStatusesResponse, error)
	BWControl(ctx context.Context, req *proto.BWControlRequest) (*proto.BWControlResponse, error)
	FTIO(ctx context.Context, req *proto.FTIORequest) (*proto.FTIOResponse, error)
	Shutdown(ctx context.Context, req *proto.ShutdownRequest) (*proto.ShutdownResponse, error)
}

const serviceName = "cargo.Master"

func methodPath(method string) string {
	return "/" + serviceName + "/" + method
}

func unaryHandler(method string, newReq func() interface{},
	invoke func(MasterService, context.Context, interface{}) (interface{}, error)) func(
	interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {

	return func(srv interface{}, ctx context.Context, dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return invoke(srv.(MasterService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPath(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return invoke(srv.(MasterService), ctx, req)
		})
	}
}

var masterServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MasterService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ping",
			Handler: unaryHandler("Ping",
				func() interface{} { return new(proto.PingRequest) },
				func(s MasterService, ctx context.Context, req interface{}) (interface{}, error) {
					return s.Ping(ctx, req.(*proto.PingRequest))
				}),
		},
		{
			MethodName: "TransferDatasets",
			Handler: unaryHandler("TransferDatasets",
				func() interface{} { return new(proto.TransferDatasetsRequest) },
				func(s MasterService, ctx context.Context, req interface{}) (interface{}, error) {
					return s.TransferDatasets(ctx, req.(*proto.TransferDatasetsRequest))
				}),
		},
		{
			MethodName: "TransferStatus",
			Handler: unaryHandler("TransferStatus",
				func() interface{} { return new(proto.TransferStatusRequest) },
				func(s MasterService, ctx context.Context, req interface{}) (interface{}, error) {
					return s.TransferStatus(ctx, req.(*proto.TransferStatusRequest))
				}),
		},
		{
			MethodName: "TransferStatuses",
			Handler: unaryHandler("TransferStatuses",
				func() interface{} { return new(proto.TransferStatusesRequest) },
				func(s MasterService, ctx context.Context, req interface{}) (interface{}, error) {
					return s.TransferStatuses(ctx, req.(*proto.TransferStatusesRequest))
				}),
		},
		{
			MethodName: "BWControl",
			Handler: unaryHandler("BWControl",
				func() interface{} { return new(proto.BWControlRequest) },
				func(s MasterService, ctx context.Context, req interface{}) (interface{}, error) {
					return s.BWControl(ctx, req.(*proto.BWControlRequest))
				}),
		},
		{
			MethodName: "FTIO",
			Handler: unaryHandler("FTIO",
				func() interface{} { return new(proto.FTIORequest) },
				func(s MasterService, ctx context.Context, req interface{}) (interface{}, error) {
					return s.FTIO(ctx, req.(*proto.FTIORequest))
				}),
		},
		{
			MethodName: "Shutdown",
			Handler: unaryHandler("Shutdown",
				func() interface{} { return new(proto.ShutdownRequest) },
				func(s MasterService, ctx context.Context, req interface{}) (interface{}, error) {
					return s.Shutdown(ctx, req.(*proto.ShutdownRequest))
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cargo",
}

// NewServer returns a gRPC server with the master service registered.
func NewServer(svc MasterService) *grpc.Server {
	srv := grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	srv.RegisterService(&masterServiceDesc, svc)
	return srv
}

// Listen opens the daemon's control listener for a cargo address. The
// protocol token selects the provider in transports that honour one; this
// binding always listens on TCP.
func Listen(address string) (net.Listener, error) {
	_, host, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	sock, err := net.Listen("tcp", host)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", host)
	}
	return sock, nil
}
