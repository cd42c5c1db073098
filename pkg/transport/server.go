package transport

import (
	"context"
	"errors"
	"net"

	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server exposes a storage.Backend over gRPC.
type Server struct {
	backend storage.Backend
	logger  *zap.Logger

	server   *grpc.Server
	listener net.Listener
}

func NewServer(backend storage.Backend, logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		backend: backend,
		logger:  logger,
		server:  grpc.NewServer(opts...),
	}
	RegisterStorageServer(s.server, s)
	return s
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.Serve(lis)
	s.logger.Info("Storage server started", zap.String("address", lis.Addr().String()))
	return nil
}

// Serve serves on an existing listener in the background.
func (s *Server) Serve(lis net.Listener) {
	s.listener = lis
	go func() {
		if err := s.server.Serve(lis); err != nil {
			s.logger.Error("Storage server stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stop() {
	s.server.GracefulStop()
}

func (s *Server) Write(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	owner, path, err := objectFromIncoming(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Write(ctx, types.Identity(owner), path, req.GetValue()); err != nil {
		return nil, s.toStatus("write", owner, path, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Read(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	owner, path, err := objectFromIncoming(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Read(ctx, types.Identity(owner), path)
	if err != nil {
		return nil, s.toStatus("read", owner, path, err)
	}
	return wrapperspb.Bytes(data), nil
}

func (s *Server) Erase(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	owner, path, err := objectFromIncoming(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Erase(ctx, types.Identity(owner), path); err != nil {
		return nil, s.toStatus("erase", owner, path, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Keys(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	owner, prefix, err := objectFromIncoming(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := s.backend.Keys(ctx, types.Identity(owner), prefix)
	if err != nil {
		return nil, s.toStatus("keys", owner, prefix, err)
	}
	values := make([]*structpb.Value, len(keys))
	for i, k := range keys {
		values[i] = structpb.NewStringValue(k)
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *Server) toStatus(op, owner, path string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidPath):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error("Storage operation failed",
		zap.String("op", op),
		zap.String("owner", owner),
		zap.String("path", path),
		zap.Error(err))
	return status.Error(codes.Internal, err.Error())
}
