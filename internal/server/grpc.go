package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cluesolver/clue-server-go/internal/solver"
)

const (
	ServiceName = "cluesolver.v1.ClueSolver"
	doMethod    = "/" + ServiceName + "/Do"
)

// ClueSolverServer is the RPC surface. Requests and responses use the same
// field names as the JSON API, carried in a google.protobuf.Struct.
type ClueSolverServer interface {
	Do(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ClueSolverServiceDesc describes the service for grpc.Server.RegisterService.
var ClueSolverServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClueSolverServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Do", Handler: doHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cluesolver/v1/solver.proto",
}

func doHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClueSolverServer).Do(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: doMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClueSolverServer).Do(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterClueSolverServer registers srv with s.
func RegisterClueSolverServer(s grpc.ServiceRegistrar, srv ClueSolverServer) {
	s.RegisterService(&ClueSolverServiceDesc, srv)
}

// ClueSolverClient calls a remote solver.
type ClueSolverClient struct {
	cc grpc.ClientConnInterface
}

func NewClueSolverClient(cc grpc.ClientConnInterface) *ClueSolverClient {
	return &ClueSolverClient{cc: cc}
}

func (c *ClueSolverClient) Do(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, doMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// solverServer adapts solver.Service to ClueSolverServer.
type solverServer struct {
	svc    *solver.Service
	logger *zap.Logger
}

// NewGRPCServer returns the RPC implementation backed by svc.
func NewGRPCServer(svc *solver.Service, logger *zap.Logger) ClueSolverServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &solverServer{svc: svc, logger: logger}
}

func (s *solverServer) Do(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}

	resp, err := s.svc.Do(ctx, req)
	var out *structpb.Struct
	if resp != nil {
		var convErr error
		if out, convErr = structFromResponse(resp); convErr != nil {
			s.logger.Error("failed to encode response", zap.Error(convErr))
			return nil, status.Error(codes.Internal, "failed to encode response")
		}
	}
	if err != nil {
		return nil, grpcError(err, out)
	}
	return out, nil
}

// grpcError maps a solver error to a status. An inconsistent game still
// carries the response as a status detail.
func grpcError(err error, resp *structpb.Struct) error {
	var code codes.Code
	switch solver.Classify(err) {
	case solver.ResultInvalid:
		code = codes.InvalidArgument
	case solver.ResultNotFound:
		code = codes.NotFound
	case solver.ResultInconsistent:
		code = codes.FailedPrecondition
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			code = codes.DeadlineExceeded
		} else if errors.Is(err, context.Canceled) {
			code = codes.Canceled
		} else {
			code = codes.Internal
		}
	}

	st := status.New(code, err.Error())
	if resp != nil {
		if detailed, detailErr := st.WithDetails(resp); detailErr == nil {
			st = detailed
		}
	}
	return st.Err()
}

func requestFromStruct(in *structpb.Struct) (*solver.Request, error) {
	data, err := protojson.Marshal(in)
	if err != nil {
		return nil, err
	}
	var req solver.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func structFromResponse(resp *solver.Response) (*structpb.Struct, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return out, nil
}

// ResponseFromStatus recovers the response attached to an inconsistent-game
// error, if any.
func ResponseFromStatus(err error) (*structpb.Struct, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, d := range st.Details() {
		if s, ok := d.(*structpb.Struct); ok {
			return s, true
		}
	}
	return nil, false
}

// extractHostFromContext returns the caller's host.
func extractHostFromContext(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != net.Addr(nil) {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
