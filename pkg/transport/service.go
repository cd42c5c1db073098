// Package transport carries storage.Backend calls over gRPC so several wiki
// clients can share one storage server. Messages are protobuf well-known
// types; the object owner and path travel in request metadata.
package transport

import (
	"context"
	"fmt"
	"net/url"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "forkwiki.storage.v1.Storage"

	ownerKey = "x-forkwiki-owner"
	pathKey  = "x-forkwiki-path"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// StorageServer is the server-side contract registered with grpc.
type StorageServer interface {
	Write(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Read(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BytesValue, error)
	Erase(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
	Keys(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
}

// RegisterStorageServer attaches srv to s.
func RegisterStorageServer(s grpc.ServiceRegistrar, srv StorageServer) {
	s.RegisterService(&storageServiceDesc, srv)
}

var storageServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Write", Handler: writeHandler},
		{MethodName: "Read", Handler: readHandler},
		{MethodName: "Erase", Handler: eraseHandler},
		{MethodName: "Keys", Handler: keysHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "forkwiki/storage.proto",
}

func writeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageServer).Write(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Write")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageServer).Write(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func readHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Read")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageServer).Read(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func eraseHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageServer).Erase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Erase")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageServer).Erase(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func keysHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageServer).Keys(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Keys")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StorageServer).Keys(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// objectFromIncoming pulls owner and path out of request metadata.
func objectFromIncoming(ctx context.Context) (string, string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", "", status.Error(codes.InvalidArgument, "missing request metadata")
	}
	owners := md.Get(ownerKey)
	paths := md.Get(pathKey)
	if len(owners) != 1 || owners[0] == "" {
		return "", "", status.Error(codes.InvalidArgument, fmt.Sprintf("missing %s", ownerKey))
	}
	if len(paths) != 1 || paths[0] == "" {
		return "", "", status.Error(codes.InvalidArgument, fmt.Sprintf("missing %s", pathKey))
	}
	owner, err := url.PathUnescape(owners[0])
	if err != nil {
		return "", "", status.Error(codes.InvalidArgument, fmt.Sprintf("bad %s: %v", ownerKey, err))
	}
	path, err := url.PathUnescape(paths[0])
	if err != nil {
		return "", "", status.Error(codes.InvalidArgument, fmt.Sprintf("bad %s: %v", pathKey, err))
	}
	return owner, path, nil
}

// withObject escapes owner and path so non-ASCII ids survive metadata.
func withObject(ctx context.Context, owner, path string) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		ownerKey, url.PathEscape(owner),
		pathKey, url.PathEscape(path))
}
