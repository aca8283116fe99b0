package accessservice

import (
	"context"

	"google.golang.org/grpc"

	"github.com/tinyim/access-node/internal/rpc/codec"
	"github.com/tinyim/access-node/internal/wire"
)

// Client is a thin AccessService caller covering the whole RPC surface,
// including a sibling access node's SendToAccess ingress. Nothing in this
// node's own process wiring constructs one.
type Client struct {
	cc *grpc.ClientConn
}

func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, req, reply, grpc.CallContentSubtype(codec.Name))
}

func (c *Client) SignIn(ctx context.Context, req *wire.SigninData) (*wire.Pong, error) {
	reply := new(wire.Pong)
	return reply, c.invoke(ctx, "SignIn", req, reply)
}

func (c *Client) SignOut(ctx context.Context, req *wire.UserIDMsg) (*wire.Empty, error) {
	reply := new(wire.Empty)
	return reply, c.invoke(ctx, "SignOut", req, reply)
}

func (c *Client) SendMsg(ctx context.Context, req *wire.NewMsg) (*wire.MsgReply, error) {
	reply := new(wire.MsgReply)
	return reply, c.invoke(ctx, "SendMsg", req, reply)
}

func (c *Client) PullData(ctx context.Context, req *wire.Ping) (*wire.Msgs, error) {
	reply := new(wire.Msgs)
	return reply, c.invoke(ctx, "PullData", req, reply)
}

func (c *Client) HeartBeat(ctx context.Context, req *wire.Ping) (*wire.Pong, error) {
	reply := new(wire.Pong)
	return reply, c.invoke(ctx, "HeartBeat", req, reply)
}

func (c *Client) GetMsgs(ctx context.Context, req *wire.MsgIDRange) (*wire.Msgs, error) {
	reply := new(wire.Msgs)
	return reply, c.invoke(ctx, "GetMsgs", req, reply)
}

func (c *Client) GetFriends(ctx context.Context, req *wire.UserIDMsg) (*wire.UserInfos, error) {
	reply := new(wire.UserInfos)
	return reply, c.invoke(ctx, "GetFriends", req, reply)
}

func (c *Client) GetGroups(ctx context.Context, req *wire.UserIDMsg) (*wire.GroupInfos, error) {
	reply := new(wire.GroupInfos)
	return reply, c.invoke(ctx, "GetGroups", req, reply)
}

func (c *Client) GetGroupMembers(ctx context.Context, req *wire.GroupIDMsg) (*wire.UserInfos, error) {
	reply := new(wire.UserInfos)
	return reply, c.invoke(ctx, "GetGroupMembers", req, reply)
}

// SendToAccess is the inter-access ingress call (C6): a peer's logic
// node resolved that the peer is attached to this node and hands the
// message across directly.
func (c *Client) SendToAccess(ctx context.Context, req *wire.Msg) (*wire.Empty, error) {
	reply := new(wire.Empty)
	return reply, c.invoke(ctx, "SendToAccess", req, reply)
}
