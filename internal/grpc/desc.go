package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages on this service are google.protobuf.Struct values shaped like the
// OpenAI JSON bodies, so no generated code is needed on either side.
const (
	ServiceName = "mockopenai.v1.Completions"

	Completions_Complete_FullMethodName       = "/mockopenai.v1.Completions/Complete"
	Completions_CompleteStream_FullMethodName = "/mockopenai.v1.Completions/CompleteStream"
)

// CompletionsServer is the server API for the Completions service.
type CompletionsServer interface {
	Complete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteStream(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterCompletionsServer registers srv on s.
func RegisterCompletionsServer(s grpc.ServiceRegistrar, srv CompletionsServer) {
	s.RegisterService(&Completions_ServiceDesc, srv)
}

func _Completions_Complete_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompletionsServer).Complete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Completions_Complete_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompletionsServer).Complete(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Completions_CompleteStream_Handler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(CompletionsServer).CompleteStream(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Completions_ServiceDesc is the grpc.ServiceDesc for the Completions service.
var Completions_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CompletionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Complete",
			Handler:    _Completions_Complete_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "CompleteStream",
			Handler:       _Completions_CompleteStream_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "mockopenai/v1/completions.proto",
}

// CompletionsClient is the client API for the Completions service.
type CompletionsClient struct {
	cc grpc.ClientConnInterface
}

func NewCompletionsClient(cc grpc.ClientConnInterface) *CompletionsClient {
	return &CompletionsClient{cc: cc}
}

func (c *CompletionsClient) Complete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Completions_Complete_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CompletionsClient) CompleteStream(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &Completions_ServiceDesc.Streams[0], Completions_CompleteStream_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
