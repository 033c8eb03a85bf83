package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCRecoveryInterceptor turns panics in unary handlers into Internal.
func GRPCRecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.ErrorContext(ctx, "GRPC PANIC RECOVERED",
					"error", fmt.Sprintf("%v", rec),
					"method", info.FullMethod,
					"stack", string(debug.Stack()),
				)
				err = status.Error(codes.Internal, "Internal error.")
			}
		}()
		return handler(ctx, req)
	}
}
