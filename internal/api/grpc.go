package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
)

// CodecName is the gRPC content subtype of the JSON codec. Clients select it
// with grpc.CallContentSubtype(CodecName).
const CodecName = "json"

// jsonCodec carries plain Go structs over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ---------------------------------------------------------------------------
// Service definition
// ---------------------------------------------------------------------------

// BrokerServiceServer is the server API of brokerhub.v1.BrokerService.
type BrokerServiceServer interface {
	ListBrokers(context.Context, *ListBrokersRequest) (*ListBrokersResponse, error)
	GetStats(context.Context, *GetStatsRequest) (*domain.RegistryStats, error)
	Compare(context.Context, *CompareRequest) (*domain.Comparison, error)
}

const serviceName = "brokerhub.v1.BrokerService"

// BrokerServiceDesc describes brokerhub.v1.BrokerService for grpc.Server.
var BrokerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BrokerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListBrokers", Handler: unaryHandler("ListBrokers", BrokerServiceServer.ListBrokers)},
		{MethodName: "GetStats", Handler: unaryHandler("GetStats", BrokerServiceServer.GetStats)},
		{MethodName: "Compare", Handler: unaryHandler("Compare", BrokerServiceServer.Compare)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "brokerhub/v1/broker_service",
}

// unaryHandler adapts a typed method to grpc's method handler signature.
func unaryHandler[Req, Resp any](method string, call func(BrokerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BrokerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BrokerServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// grpcService implements BrokerServiceServer over a Service.
type grpcService struct {
	svc *Service
}

var _ BrokerServiceServer = (*grpcService)(nil)

func (g *grpcService) ListBrokers(context.Context, *ListBrokersRequest) (*ListBrokersResponse, error) {
	return &ListBrokersResponse{Brokers: g.svc.reg.List()}, nil
}

func (g *grpcService) GetStats(context.Context, *GetStatsRequest) (*domain.RegistryStats, error) {
	st := g.svc.reg.Stats()
	return &st, nil
}

func (g *grpcService) Compare(ctx context.Context, req *CompareRequest) (*domain.Comparison, error) {
	cmp, err := g.svc.Compare(ctx, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	return cmp, nil
}

// NewGRPCServer creates a grpc.Server with BrokerService registered.
func NewGRPCServer(svc *Service, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoveryInterceptor(logger),
		loggingInterceptor(logger),
	))
	gs.RegisterService(&BrokerServiceDesc, &grpcService{svc: svc})
	return gs
}

// grpcError converts err into a status carrying the error kind.
func grpcError(err error) error {
	kind := errorKind(err)
	var code codes.Code
	switch broker.ErrorKind(kind) {
	case broker.KindValidation, broker.KindConfiguration:
		code = codes.InvalidArgument
	case broker.KindUnknownBroker:
		code = codes.NotFound
	case broker.KindSymbolNotSupported, broker.KindRejected, broker.KindMarketClosed:
		code = codes.FailedPrecondition
	case broker.KindRateLimited:
		code = codes.ResourceExhausted
	case broker.KindAuthentication, broker.KindNotAuthenticated:
		code = codes.Unauthenticated
	case broker.KindNetwork, broker.KindBrokerUnavailable:
		code = codes.Unavailable
	default:
		switch kind {
		case "unknown_account":
			code = codes.NotFound
		case "no_viable_brokers":
			code = codes.Unavailable
		default:
			code = codes.Internal
		}
	}
	return status.Errorf(code, "%s: %v", kind, err)
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []any{
			"method", info.FullMethod,
			"duration", time.Since(start),
		}
		if err != nil {
			fields = append(fields, "error", err.Error())
			logger.Warn("grpc request failed", fields...)
		} else {
			logger.Info("grpc request completed", fields...)
		}
		return resp, err
	}
}

func recoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", "method", info.FullMethod, "panic", r)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// BrokerServiceClient calls brokerhub.v1.BrokerService.
type BrokerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBrokerServiceClient wraps cc. Calls use the JSON codec.
func NewBrokerServiceClient(cc grpc.ClientConnInterface) *BrokerServiceClient {
	return &BrokerServiceClient{cc: cc}
}

func (c *BrokerServiceClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *BrokerServiceClient) ListBrokers(ctx context.Context, in *ListBrokersRequest, opts ...grpc.CallOption) (*ListBrokersResponse, error) {
	out := new(ListBrokersResponse)
	if err := c.invoke(ctx, "ListBrokers", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BrokerServiceClient) GetStats(ctx context.Context, in *GetStatsRequest, opts ...grpc.CallOption) (*domain.RegistryStats, error) {
	out := new(domain.RegistryStats)
	if err := c.invoke(ctx, "GetStats", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BrokerServiceClient) Compare(ctx context.Context, in *CompareRequest, opts ...grpc.CallOption) (*domain.Comparison, error) {
	out := new(domain.Comparison)
	if err := c.invoke(ctx, "Compare", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
