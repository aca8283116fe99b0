// Package accessservice hand-wires the AccessService gRPC contract: the
// client-facing surface (SignIn, SignOut, SendMsg, PullData, HeartBeat,
// GetMsgs, GetFriends, GetGroups, GetGroupMembers, Stream) and the
// sibling-node ingress (SendToAccess). It is written the way a
// protoc-gen-go-grpc output would be, by hand, because this build has no
// buf/protoc pipeline to generate it from a .proto file — the wire types
// it carries (internal/wire) ride the JSON codec registered in
// internal/rpc/codec instead of protobuf's binary wire format.
package accessservice

import (
	"context"

	"google.golang.org/grpc"

	"github.com/tinyim/access-node/internal/wire"
)

const serviceName = "tinyim.access.AccessService"

// Server is the business-logic contract the access node implements.
// internal/access.Server satisfies it.
type Server interface {
	SignIn(context.Context, *wire.SigninData) (*wire.Pong, error)
	SignOut(context.Context, *wire.UserIDMsg) (*wire.Empty, error)
	SendMsg(context.Context, *wire.NewMsg) (*wire.MsgReply, error)
	PullData(context.Context, *wire.Ping) (*wire.Msgs, error)
	HeartBeat(context.Context, *wire.Ping) (*wire.Pong, error)
	GetMsgs(context.Context, *wire.MsgIDRange) (*wire.Msgs, error)
	GetFriends(context.Context, *wire.UserIDMsg) (*wire.UserInfos, error)
	GetGroups(context.Context, *wire.UserIDMsg) (*wire.GroupInfos, error)
	GetGroupMembers(context.Context, *wire.GroupIDMsg) (*wire.UserInfos, error)
	SendToAccess(context.Context, *wire.Msg) (*wire.Empty, error)
	Stream(*wire.Ping, StreamServer) error
}

// StreamServer is the server-side handle for the permanently-parked
// streaming surface (spec.md §9's streaming Open Question).
type StreamServer interface {
	Send(*wire.Msgs) error
	Context() context.Context
}

type streamServer struct {
	grpc.ServerStream
}

func (s *streamServer) Send(m *wire.Msgs) error { return s.ServerStream.SendMsg(m) }

func unaryHandler[Req, Resp any](call func(Server, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(Server)
		if interceptor == nil {
			return call(s, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// ServiceDesc is the grpc.ServiceDesc a generated _grpc.pb.go would emit.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SignIn", Handler: unaryHandler(Server.SignIn)},
		{MethodName: "SignOut", Handler: unaryHandler(Server.SignOut)},
		{MethodName: "SendMsg", Handler: unaryHandler(Server.SendMsg)},
		{MethodName: "PullData", Handler: unaryHandler(Server.PullData)},
		{MethodName: "HeartBeat", Handler: unaryHandler(Server.HeartBeat)},
		{MethodName: "GetMsgs", Handler: unaryHandler(Server.GetMsgs)},
		{MethodName: "GetFriends", Handler: unaryHandler(Server.GetFriends)},
		{MethodName: "GetGroups", Handler: unaryHandler(Server.GetGroups)},
		{MethodName: "GetGroupMembers", Handler: unaryHandler(Server.GetGroupMembers)},
		{MethodName: "SendToAccess", Handler: unaryHandler(Server.SendToAccess)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := new(wire.Ping)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(Server).Stream(req, &streamServer{stream})
			},
		},
	},
}

// RegisterServer attaches srv to s under the AccessService contract.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}
