package adminapi

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the fully-qualified service name used in FullMethod
// strings and interceptor dispatch.
const serviceName = "adminapi.AdminAPI"

// Server is the interface the Daemon implements to answer admin RPCs.
// Exported so handlers.go's concrete implementation and any test double
// satisfy the same contract the hand-rolled ServiceDesc dispatches to.
type Server interface {
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
	Workspaces(ctx context.Context, req *WorkspacesRequest) (*WorkspacesResponse, error)
	Gc(ctx context.Context, req *GcRequest) (*GcResponse, error)
	Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Status"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func workspacesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(WorkspacesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Workspaces(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Workspaces"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Workspaces(ctx, req.(*WorkspacesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func gcHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GcRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Gc(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Gc"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Gc(ctx, req.(*GcRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func verifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(VerifyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Verify"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Verify(ctx, req.(*VerifyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-constructed grpc.ServiceDesc standing in for a
// protoc-generated one, registering the four admin RPCs against the Server
// interface.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Workspaces", Handler: workspacesHandler},
		{MethodName: "Gc", Handler: gcHandler},
		{MethodName: "Verify", Handler: verifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adminapi.proto",
}

// RegisterServer registers impl against s using the hand-rolled
// serviceDesc, the admin-surface equivalent of generated code's
// RegisterAdminAPIServer.
func RegisterServer(s grpc.ServiceRegistrar, impl Server) {
	s.RegisterService(&serviceDesc, impl)
}
