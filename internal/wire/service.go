package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Handler serves every action of the sync service. The body is the JSON
// request wrapped by Pack; the reply is wrapped the same way.
type Handler interface {
	Handle(ctx context.Context, action string, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// ServiceDesc describes the sync service without generated stubs. Each
// action is a unary method taking and returning a BytesValue.
func ServiceDesc() *grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(Actions))
	for _, action := range Actions {
		methods = append(methods, grpc.MethodDesc{
			MethodName: action,
			Handler:    methodHandler(action),
		})
	}
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Handler)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "gophsync/v1/sync",
	}
}

// Register adds h to s under ServiceName.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(ServiceDesc(), h)
}

func methodHandler(action string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(Handler)
		if interceptor == nil {
			return h.Handle(ctx, action, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(action)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h.Handle(ctx, action, req.(*wrapperspb.BytesValue))
		})
	}
}
