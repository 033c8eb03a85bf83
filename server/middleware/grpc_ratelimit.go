package middleware

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// GRPCRateLimitInterceptor applies the same GCRA limit as
// RateLimitMiddleware to unary calls.
func GRPCRateLimitInterceptor(rdb redis.Scripter, cfg RateLimitConfig) grpc.UnaryServerInterceptor {
	l := limiter{rdb: rdb, cfg: cfg}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		addr := "unknown"
		if p, ok := peer.FromContext(ctx); ok {
			addr = p.Addr.String()
		}

		ok, retryAfter := l.allow(ctx, identity(ctx, addr))
		if !ok {
			_ = grpc.SetHeader(ctx, metadata.Pairs(
				"x-retry-after", strconv.Itoa(retryAfter),
				"x-ratelimit-limit", strconv.Itoa(cfg.Rate),
			))
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %d seconds", retryAfter)
		}
		return handler(ctx, req)
	}
}
