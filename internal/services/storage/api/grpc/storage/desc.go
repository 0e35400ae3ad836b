package storage

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name. The runtime also
// reports it on the health service once the local tiers are ready.
const ServiceName = "tierstore.v1.StorageService"

// Method names of ServiceName.
const (
	MethodGet      = "Get"
	MethodSet      = "Set"
	MethodDelete   = "Delete"
	MethodListKeys = "ListKeys"
)

// StorageServer is the server API of ServiceName.
type StorageServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Set(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListKeys(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes ServiceName for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodGet, Handler: unaryHandler(MethodGet, StorageServer.Get)},
		{MethodName: MethodSet, Handler: unaryHandler(MethodSet, StorageServer.Set)},
		{MethodName: MethodDelete, Handler: unaryHandler(MethodDelete, StorageServer.Delete)},
		{MethodName: MethodListKeys, Handler: unaryHandler(MethodListKeys, StorageServer.ListKeys)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tierstore/v1/storage.proto",
}

// RegisterStorageServer registers srv on s.
func RegisterStorageServer(s grpc.ServiceRegistrar, srv StorageServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string, call func(StorageServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	name := fullMethod(method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(StorageServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: name}, handler)
	}
}
