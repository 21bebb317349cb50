// Package grpcserver serves run history over gRPC. Messages are protobuf
// well-known types, so the service needs no generated code.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sharpscale/internal/storage"
)

const (
	serviceName      = "sharpscale.v1.History"
	listRunsMethod   = "/" + serviceName + "/ListRuns"
	getRunMethod     = "/" + serviceName + "/GetRun"
	defaultListLimit = 20
	maxListLimit     = 500
)

// HistoryServer is the server API for the History service.
type HistoryServer interface {
	ListRuns(ctx context.Context, limit *wrapperspb.Int32Value) (*structpb.Struct, error)
	GetRun(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
}

var historyServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*HistoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRuns", Handler: listRunsHandler},
		{MethodName: "GetRun", Handler: getRunHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sharpscale/v1/history.proto",
}

// RegisterHistoryServer attaches srv to s.
func RegisterHistoryServer(s grpc.ServiceRegistrar, srv HistoryServer) {
	s.RegisterService(&historyServiceDesc, srv)
}

func listRunsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HistoryServer).ListRuns(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listRunsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HistoryServer).ListRuns(ctx, req.(*wrapperspb.Int32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func getRunHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HistoryServer).GetRun(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getRunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HistoryServer).GetRun(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Service answers History calls from the run store.
type Service struct {
	store *storage.Store
	log   *slog.Logger
}

// NewService wraps store. A nil store answers Unavailable.
func NewService(store *storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger}
}

func (s *Service) ListRuns(ctx context.Context, in *wrapperspb.Int32Value) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "run history is disabled")
	}
	limit := int(in.GetValue())
	switch {
	case limit < 0:
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	runs, err := s.store.RecentRuns(limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list runs: %v", err)
	}
	return toStruct(map[string]any{"runs": runs})
}

func (s *Service) GetRun(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "run history is disabled")
	}
	id := in.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "run id is required")
	}
	run, err := s.store.Run(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "run %s not found", id)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get run: %v", err)
	}
	files, err := s.store.RunFiles(id)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get run files: %v", err)
	}
	return toStruct(map[string]any{"run": run, "files": files})
}

// toStruct converts JSON-tagged values into a protobuf Struct.
func toStruct(v map[string]any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

// Server runs the History service on a TCP address.
type Server struct {
	addr string
	grpc *grpc.Server
	log  *slog.Logger
}

// New creates a gRPC server exposing store.
func New(addr string, store *storage.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer()
	RegisterHistoryServer(gs, NewService(store, logger))
	return &Server{addr: addr, grpc: gs, log: logger}
}

// Start serves until ctx is cancelled, then stops gracefully.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down grpc server")
		s.grpc.GracefulStop()
	}()
	s.log.Info("grpc server starting", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}
