package adminapi

import (
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// NewGRPCServer constructs a *grpc.Server with the json codec and
// ReadOnlyInterceptor wired in, and registers impl against it.
func NewGRPCServer(impl Server) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(ReadOnlyInterceptor()),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	RegisterServer(s, impl)
	return s
}

// Listen creates (or replaces) the admin Unix socket at socketPath.
func Listen(socketPath string) (net.Listener, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("adminapi: remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("adminapi: listen on %q: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		lis.Close() //nolint:errcheck
		return nil, fmt.Errorf("adminapi: chmod socket: %w", err)
	}
	return lis, nil
}
