// Package chatrpc exposes the relay over a bidirectional gRPC stream.
//
// The service is described by hand instead of generated from a .proto file:
// messages are chat.Message values carried with the JSON codec registered by
// this package.
package chatrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/Tyrowin/roomrelay/internal/chat"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "chat.ChatService"
	// JoinChatMethod is the full method name of the chat stream.
	JoinChatMethod = "/chat.ChatService/JoinChat"
)

// ChatServiceServer is implemented by the relay's gRPC front end.
type ChatServiceServer interface {
	JoinChat(grpc.BidiStreamingServer[chat.Message, chat.Message]) error
}

// ChatServiceClient opens chat streams.
type ChatServiceClient interface {
	JoinChat(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[chat.Message, chat.Message], error)
}

func joinChatHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ChatServiceServer).JoinChat(&grpc.GenericServerStream[chat.Message, chat.Message]{ServerStream: stream})
}

// ServiceDesc describes chat.ChatService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "JoinChat",
			Handler:       joinChatHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "chat.proto",
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type chatServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewChatServiceClient returns a client that speaks the JSON content subtype.
func NewChatServiceClient(cc grpc.ClientConnInterface) ChatServiceClient {
	return &chatServiceClient{cc: cc}
}

func (c *chatServiceClient) JoinChat(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[chat.Message, chat.Message], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], JoinChatMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[chat.Message, chat.Message]{ClientStream: stream}, nil
}
