// Package lobbyv1 defines the lobby.v1.SessionService gRPC contract. The service
// has a single bidirectional stream, Join, whose messages are
// google.protobuf.Struct values tagged with a "type" field.
package lobbyv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified service name, also used for health checks.
	ServiceName = "lobby.v1.SessionService"
	// JoinMethod is the full method name of the Join stream.
	JoinMethod = "/" + ServiceName + "/Join"
)

// JoinServer is the host side of a Join stream.
type JoinServer = grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]

// JoinClient is the peer side of a Join stream.
type JoinClient = grpc.BidiStreamingClient[structpb.Struct, structpb.Struct]

// SessionServiceServer is implemented by the session host.
type SessionServiceServer interface {
	// Join carries one peer's join request, the host's decision, and then the
	// replicated roster mutations until either side closes the stream.
	Join(stream JoinServer) error
}

func joinHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SessionServiceServer).Join(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes SessionService for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Join",
			Handler:       joinHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "lobby/v1/session.proto",
}

// RegisterSessionServiceServer registers srv with s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SessionServiceClient is the peer-side API.
type SessionServiceClient interface {
	Join(ctx context.Context, opts ...grpc.CallOption) (JoinClient, error)
}

type sessionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionServiceClient creates a client bound to cc.
func NewSessionServiceClient(cc grpc.ClientConnInterface) SessionServiceClient {
	return &sessionServiceClient{cc: cc}
}

func (c *sessionServiceClient) Join(ctx context.Context, opts ...grpc.CallOption) (JoinClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], JoinMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}
