// Package access implements the access node's client- and peer-facing
// RPC surface: Session Lifecycle (C7, SignIn/SignOut), Inter-Access
// Ingress (C6, SendToAccess), and Shutdown Drain (C8). It is the
// composition root for the core components: Session Table, Timer
// Service, Heartbeat Supervisor, Long-Poll Delivery Engine, and Routing
// Facade all meet here, behind the accessservice.Server contract.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinyim/access-node/internal/heartbeat"
	"github.com/tinyim/access-node/internal/longpoll"
	"github.com/tinyim/access-node/internal/rpc/accessservice"
	"github.com/tinyim/access-node/internal/routing"
	"github.com/tinyim/access-node/internal/sessiontable"
	"github.com/tinyim/access-node/internal/wire"
)

// ErrUnknownUser is returned by SendToAccess when the target user has no
// slot at all (spec.md §4.4's "no slot" failure, distinct from NoListener).
var ErrUnknownUser = errors.New("access: unknown user")

// ErrNoListener is returned by SendToAccess when the target user has a
// slot but no parked reply; the message is not buffered on this node.
var ErrNoListener = errors.New("access: no listener")

// Auditor receives lifecycle notifications (sign-in, sign-out, expiry,
// no-listener push) for the audit bus (C11). Implementations must not
// block the caller; internal/audit's watermill-backed publisher returns
// immediately by design.
type Auditor interface {
	Publish(event string, userID int64)
}

type noopAuditor struct{}

func (noopAuditor) Publish(string, int64) {}

// DbproxyClient is the subset of the dbproxy tier SignIn/SignOut call
// through to. internal/rpc/downstream.DbproxyClient satisfies it.
type DbproxyClient interface {
	AuthAndSaveSession(ctx context.Context, req *wire.SigninData) (*wire.Pong, error)
	ClearSession(ctx context.Context, req *wire.UserIDMsg) (*wire.Empty, error)
}

// Server implements accessservice.Server.
type Server struct {
	table   *sessiontable.Table
	hb      *heartbeat.Supervisor
	lp      *longpoll.Engine
	routing *routing.Facade
	dbproxy DbproxyClient
	address string // this node's own listen address, attached to sign-in payloads
	audit   Auditor
}

// Deps bundles Server's collaborators; all are required except Audit.
type Deps struct {
	Table    *sessiontable.Table
	Heart    *heartbeat.Supervisor
	LongPoll *longpoll.Engine
	Routing  *routing.Facade
	Dbproxy  DbproxyClient
	Address  string
	Audit    Auditor
}

func NewServer(d Deps) *Server {
	audit := d.Audit
	if audit == nil {
		audit = noopAuditor{}
	}
	return &Server{
		table:   d.Table,
		hb:      d.Heart,
		lp:      d.LongPoll,
		routing: d.Routing,
		dbproxy: d.Dbproxy,
		address: d.Address,
		audit:   audit,
	}
}

var _ accessservice.Server = (*Server)(nil)

// SignIn authenticates via dbproxy, attaching this node's own address so
// dbproxy can record where the user is now attached, then establishes
// the session slot and its first heartbeat deadline.
func (s *Server) SignIn(ctx context.Context, req *wire.SigninData) (*wire.Pong, error) {
	signin := *req
	signin.AccessAddr = s.address

	reply, err := s.dbproxy.AuthAndSaveSession(ctx, &signin)
	if err != nil {
		return nil, fmt.Errorf("access: sign in user %d: %w", req.UserID, err)
	}

	s.hb.Reset(sessiontable.UserID(req.UserID))
	s.audit.Publish("signin", req.UserID)
	return reply, nil
}

// SignOut forwards to dbproxy and destroys the local slot, completing any
// outstanding parked reply and cancelling any live heartbeat timer.
func (s *Server) SignOut(ctx context.Context, req *wire.UserIDMsg) (*wire.Empty, error) {
	if _, err := s.dbproxy.ClearSession(ctx, req); err != nil {
		return nil, fmt.Errorf("access: sign out user %d: %w", req.UserID, err)
	}

	if slot, ok := s.table.Remove(sessiontable.UserID(req.UserID)); ok {
		s.hb.TeardownSlot(slot)
	}
	s.routing.InvalidateUser(req.UserID)
	s.audit.Publish("signout", req.UserID)
	return &wire.Empty{}, nil
}

// SendMsg routes to the logic tier by the recipient's id and resets the
// sender's heartbeat, so an active conversation never idles out mid-chat.
func (s *Server) SendMsg(ctx context.Context, req *wire.NewMsg) (*wire.MsgReply, error) {
	s.hb.Reset(sessiontable.UserID(req.UserID))
	reply, err := s.routing.SendMsg(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("access: send msg user %d -> %d: %w", req.UserID, req.PeerID, err)
	}
	return reply, nil
}

// PullData parks the caller until Wake, heartbeat expiry, shutdown drain,
// or the client's own context is cancelled.
func (s *Server) PullData(ctx context.Context, req *wire.Ping) (*wire.Msgs, error) {
	user := sessiontable.UserID(req.UserID)
	reply := s.lp.Park(user, false)

	select {
	case msgs, ok := <-reply.C():
		if !ok || msgs == nil {
			return &wire.Msgs{}, nil
		}
		return msgs, nil
	case <-ctx.Done():
		s.lp.Unpark(user, reply)
		return nil, ctx.Err()
	}
}

// Stream is the permanently-parked streaming alternative to PullData
// (spec.md §9's streaming Open Question): each Wake appends a push rather
// than completing a single reply, so the same call keeps delivering
// messages until the client disconnects or the session is torn down.
func (s *Server) Stream(req *wire.Ping, stream accessservice.StreamServer) error {
	user := sessiontable.UserID(req.UserID)
	reply := s.lp.Park(user, true)
	ctx := stream.Context()

	for {
		select {
		case msgs, ok := <-reply.C():
			if !ok {
				return nil
			}
			if msgs == nil {
				continue
			}
			if err := stream.Send(msgs); err != nil {
				s.lp.Unpark(user, reply)
				return err
			}
		case <-ctx.Done():
			s.lp.Unpark(user, reply)
			return ctx.Err()
		}
	}
}

// HeartBeat resets the user's inactivity deadline and nothing else.
func (s *Server) HeartBeat(ctx context.Context, req *wire.Ping) (*wire.Pong, error) {
	s.hb.Reset(sessiontable.UserID(req.UserID))
	return &wire.Pong{}, nil
}

// GetMsgs reads through to the logic tier; per spec.md §9's resolved Open
// Question, read paths do not reset the heartbeat.
func (s *Server) GetMsgs(ctx context.Context, req *wire.MsgIDRange) (*wire.Msgs, error) {
	reply, err := s.routing.GetMsgs(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("access: get msgs user %d: %w", req.UserID, err)
	}
	return reply, nil
}

func (s *Server) GetFriends(ctx context.Context, req *wire.UserIDMsg) (*wire.UserInfos, error) {
	reply, err := s.routing.GetFriends(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("access: get friends user %d: %w", req.UserID, err)
	}
	return reply, nil
}

func (s *Server) GetGroups(ctx context.Context, req *wire.UserIDMsg) (*wire.GroupInfos, error) {
	reply, err := s.routing.GetGroups(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("access: get groups user %d: %w", req.UserID, err)
	}
	return reply, nil
}

func (s *Server) GetGroupMembers(ctx context.Context, req *wire.GroupIDMsg) (*wire.UserInfos, error) {
	reply, err := s.routing.GetGroupMembers(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("access: get group members group %d: %w", req.GroupID, err)
	}
	return reply, nil
}

// SendToAccess is the Inter-Access Ingress (C6): a sibling access node (or
// this node's own logic-tier client, resolving that a peer lives here)
// hands a message directly to Wake.
func (s *Server) SendToAccess(ctx context.Context, req *wire.Msg) (*wire.Empty, error) {
	user := sessiontable.UserID(req.UserID)
	outcome := s.lp.Wake(user, &wire.Msgs{Msg: []*wire.Msg{req}})

	switch outcome {
	case longpoll.UnknownUser:
		s.audit.Publish("push_unknown_user", req.UserID)
		return nil, fmt.Errorf("%w: %d", ErrUnknownUser, req.UserID)
	case longpoll.NoListener:
		s.audit.Publish("push_no_listener", req.UserID)
		return nil, fmt.Errorf("%w: %d", ErrNoListener, req.UserID)
	default:
		return &wire.Empty{}, nil
	}
}

// Drain implements Shutdown Drain (C8): every shard is locked and
// unlocked serially (never in parallel, so no two shards are ever
// mid-teardown at once), and every slot found is removed and torn down
// the same way heartbeat expiry or sign-out would. Concurrent RPCs
// arriving mid-drain observe a missing slot once their shard has been
// visited and get the ordinary unknown-user/no-listener treatment.
func (s *Server) Drain() {
	for shard := 0; shard < s.table.ShardCount(); shard++ {
		s.drainShard(shard)
	}
}

func (s *Server) drainShard(shard int) {
	for {
		user, slot, ok := s.table.RemoveOneInShard(shard)
		if !ok {
			return
		}
		s.hb.TeardownSlot(slot)
		s.audit.Publish("drain", int64(user))
	}
}
