// Package downstream holds the access node's two outbound gRPC clients:
// the logic tier (message fan-out, roster queries) and the dbproxy tier
// (authentication, session persistence). Both ride the same hand-wired
// JSON codec as the AccessService surface (internal/rpc/codec); routing
// by request_code is layered on separately in internal/routing since the
// logic tier's consistent-hash routing only applies to some calls.
package downstream

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/tinyim/access-node/config"
	"github.com/tinyim/access-node/internal/rpc/codec"
	"github.com/tinyim/access-node/internal/wire"
)

const (
	logicServiceName   = "tinyim.logic.LogicService"
	dbproxyServiceName = "tinyim.dbproxy.DbproxyService"
)

// requestCodeKey is a metadata key carrying the consistent-hash routing
// code a real brpc Controller would set via set_request_code; grpc-go has
// no built-in request-code concept, so it rides as outgoing metadata for
// any load balancer/interceptor downstream that wants to shard on it.
const requestCodeKey = "x-tinyim-request-code"

// LogicClient calls the logic tier: message delivery fan-out and roster
// reads, both originally routed by Hash(id) as the brpc request code.
type LogicClient struct {
	cc  *grpc.ClientConn
	cfg *config.Config
}

func NewLogicClient(cc *grpc.ClientConn, cfg *config.Config) *LogicClient {
	return &LogicClient{cc: cc, cfg: cfg}
}

func (c *LogicClient) invoke(ctx context.Context, code uint32, method string, req, reply any) error {
	ctx = withRequestCode(ctx, code)
	return callWithBudget(ctx, c.cfg, func(ctx context.Context) error {
		return c.cc.Invoke(ctx, "/"+logicServiceName+"/"+method, req, reply, grpc.CallContentSubtype(codec.Name))
	})
}

func (c *LogicClient) SendMsg(ctx context.Context, code uint32, req *wire.NewMsg) (*wire.MsgReply, error) {
	reply := new(wire.MsgReply)
	return reply, c.invoke(ctx, code, "SendMsg", req, reply)
}

func (c *LogicClient) GetMsgs(ctx context.Context, code uint32, req *wire.MsgIDRange) (*wire.Msgs, error) {
	reply := new(wire.Msgs)
	return reply, c.invoke(ctx, code, "GetMsgs", req, reply)
}

func (c *LogicClient) GetFriends(ctx context.Context, code uint32, req *wire.UserIDMsg) (*wire.UserInfos, error) {
	reply := new(wire.UserInfos)
	return reply, c.invoke(ctx, code, "GetFriends", req, reply)
}

func (c *LogicClient) GetGroups(ctx context.Context, code uint32, req *wire.UserIDMsg) (*wire.GroupInfos, error) {
	reply := new(wire.GroupInfos)
	return reply, c.invoke(ctx, code, "GetGroups", req, reply)
}

func (c *LogicClient) GetGroupMembers(ctx context.Context, code uint32, req *wire.GroupIDMsg) (*wire.UserInfos, error) {
	reply := new(wire.UserInfos)
	return reply, c.invoke(ctx, code, "GetGroupMembers", req, reply)
}

// DbproxyClient calls the dbproxy tier: authentication plus session
// persistence, neither of which is routed by request code in the
// original (every access node talks to the same dbproxy).
type DbproxyClient struct {
	cc  *grpc.ClientConn
	cfg *config.Config
}

func NewDbproxyClient(cc *grpc.ClientConn, cfg *config.Config) *DbproxyClient {
	return &DbproxyClient{cc: cc, cfg: cfg}
}

func (c *DbproxyClient) invoke(ctx context.Context, method string, req, reply any) error {
	return callWithBudget(ctx, c.cfg, func(ctx context.Context) error {
		return c.cc.Invoke(ctx, "/"+dbproxyServiceName+"/"+method, req, reply, grpc.CallContentSubtype(codec.Name))
	})
}

// AuthAndSaveSession checks the signed-in user's password and records
// this access node's address against their session, mirroring the
// original SignIn handler's call into DbproxyService.
func (c *DbproxyClient) AuthAndSaveSession(ctx context.Context, req *wire.SigninData) (*wire.Pong, error) {
	reply := new(wire.Pong)
	return reply, c.invoke(ctx, "AuthAndSaveSession", req, reply)
}

// ClearSession removes the persisted access-node binding for a user at
// sign-out. Heartbeat expiry does not call it.
func (c *DbproxyClient) ClearSession(ctx context.Context, req *wire.UserIDMsg) (*wire.Empty, error) {
	reply := new(wire.Empty)
	return reply, c.invoke(ctx, "ClearSession", req, reply)
}

func withRequestCode(ctx context.Context, code uint32) context.Context {
	return metadata.AppendToOutgoingContext(ctx, requestCodeKey, fmt.Sprintf("%d", code))
}

// callWithBudget applies config's timeout_ms/max_retry knobs (SPEC_FULL.md
// §4.9's C10) to a single downstream RPC: each attempt gets its own
// timeout_ms deadline, and the call is retried up to max_retry times on
// failure, matching the original brpc Controller's per-call timeout and
// retry policy rather than grpc-go's connection-wide service config, since
// both knobs are meant to hot-reload between calls on the same connection.
func callWithBudget(ctx context.Context, cfg *config.Config, call func(ctx context.Context) error) error {
	attempts := cfg.MaxRetry() + 1
	var err error
	for i := int64(0); i < attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs())*time.Millisecond)
		err = call(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
