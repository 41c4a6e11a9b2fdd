package adminapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/velo-sh/rift/internal/logging"
)

// ReadOnlyInterceptor restricts the admin socket to Status/Workspaces/
// Verify unconditionally; Gc, the one mutating method this socket exposes,
// is let through only when the request itself carries Confirm=true, and
// every admitted Gc call is logged at Warn.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	log := logging.WithComponent("adminapi")
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		switch methodName(info.FullMethod) {
		case "Status", "Workspaces", "Verify":
			return handler(ctx, req)
		case "Gc":
			gcReq, ok := req.(*GcRequest)
			if !ok || !gcReq.Confirm {
				return nil, status.Error(codes.PermissionDenied, "Gc requires confirm=true")
			}
			log.Warn().Msg("adminapi: Gc invoked")
			return handler(ctx, req)
		default:
			return nil, status.Errorf(codes.PermissionDenied, "unknown admin method %q", info.FullMethod)
		}
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}
