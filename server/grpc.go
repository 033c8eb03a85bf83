package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/godamri/helix-triggers/pkg/contextx"
	"github.com/godamri/helix-triggers/server/middleware"
	"github.com/godamri/helix-triggers/trigger"
)

// JSONCodecName is the content subtype callers select with
// grpc.CallContentSubtype. Messages are plain JSON.
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const invokeMethod = "/helix.triggers.v1.Callable/Invoke"

type InvokeRequest struct {
	Name           string         `json:"name"`
	Data           map[string]any `json:"data"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

type InvokeResponse struct {
	Result any `json:"result"`
}

type CallableServer interface {
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error)
}

var CallableServiceDesc = grpc.ServiceDesc{
	ServiceName: "helix.triggers.v1.Callable",
	HandlerType: (*CallableServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "helix/triggers/v1/callable.proto",
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InvokeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CallableServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CallableServer).Invoke(ctx, req.(*InvokeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CallableClient calls the service over a connection that uses the JSON
// codec.
type CallableClient struct {
	cc grpc.ClientConnInterface
}

func NewCallableClient(cc grpc.ClientConnInterface) *CallableClient {
	return &CallableClient{cc: cc}
}

func (c *CallableClient) Invoke(ctx context.Context, in *InvokeRequest, opts ...grpc.CallOption) (*InvokeResponse, error) {
	out := new(InvokeResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, invokeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// callableService adapts an Invoker to CallableServer.
type callableService struct {
	invoker Invoker
}

func (s *callableService) Invoke(ctx context.Context, in *InvokeRequest) (*InvokeResponse, error) {
	result, err := s.invoker.Invoke(ctx, trigger.InvocationRequest{
		ID:             contextx.GetRequestID(ctx),
		CallerID:       contextx.GetAuthPrincipalID(ctx),
		Name:           in.Name,
		Payload:        in.Data,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		f := trigger.AsFailure(err)
		return nil, status.Error(GRPCCode(f.Code), f.Message)
	}
	return &InvokeResponse{Result: result}, nil
}

// GRPCCode maps a failure code onto the gRPC status space.
func GRPCCode(code string) codes.Code {
	switch code {
	case trigger.CodePermissionDenied:
		return codes.PermissionDenied
	case trigger.CodeInvalidArgument:
		return codes.InvalidArgument
	case trigger.CodeNotFound:
		return codes.NotFound
	case trigger.CodeUnauthenticated:
		return codes.Unauthenticated
	case trigger.CodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

type GRPCDeps struct {
	Logger    *slog.Logger
	Invoker   Invoker
	Auth      *middleware.AuthMiddleware
	Redis     redis.UniversalClient
	RateLimit middleware.RateLimitConfig
}

// NewGRPCServer builds a server with the callable service registered.
// Interceptors run outermost first: trace, recovery, metrics, auth, rate
// limit.
func NewGRPCServer(d GRPCDeps, opts ...grpc.ServerOption) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{
		middleware.GRPCTraceInterceptor,
		middleware.GRPCRecoveryInterceptor(d.Logger),
		middleware.GRPCMetricsInterceptor,
	}
	if d.Auth != nil {
		chain = append(chain, d.Auth.GRPCUnaryInterceptor)
	}
	if d.Redis != nil && d.RateLimit.Enabled() {
		chain = append(chain, middleware.GRPCRateLimitInterceptor(d.Redis, d.RateLimit))
	}

	srv := grpc.NewServer(append(opts, grpc.ChainUnaryInterceptor(chain...))...)
	srv.RegisterService(&CallableServiceDesc, &callableService{invoker: d.Invoker})
	return srv
}
