// Package routing implements the Routing Facade (C5): deriving the
// consistent-hash request code the logic tier uses to route by id, and
// wrapping calls to the downstream logic tier with circuit breaking
// (dbproxy calls do not pass through this facade) and a bounded read-through cache for the read-mostly roster
// RPCs (GetFriends, GetGroups, GetGroupMembers).
package routing

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/tinyim/access-node/internal/wire"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Hash reproduces the original access node's Hash(id) request-code
// helper (butil::crc32c::Value over the id's raw little-endian bytes),
// so routing continues to land on the same logic-tier shard for a given
// id regardless of which language computes it.
func Hash(id int64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return crc32.Checksum(buf[:], castagnoli)
}

// LogicClient is the subset of the logic tier's RPC surface the routing
// facade calls through to. internal/rpc/downstream provides the concrete
// implementation over the JSON-coded grpc client.
type LogicClient interface {
	SendMsg(ctx context.Context, code uint32, req *wire.NewMsg) (*wire.MsgReply, error)
	GetMsgs(ctx context.Context, code uint32, req *wire.MsgIDRange) (*wire.Msgs, error)
	GetFriends(ctx context.Context, code uint32, req *wire.UserIDMsg) (*wire.UserInfos, error)
	GetGroups(ctx context.Context, code uint32, req *wire.UserIDMsg) (*wire.GroupInfos, error)
	GetGroupMembers(ctx context.Context, code uint32, req *wire.GroupIDMsg) (*wire.UserInfos, error)
}

// Facade wraps a LogicClient with the circuit breaker and cache.
type Facade struct {
	logic   LogicClient
	breaker *gobreaker.CircuitBreaker

	friendsCache *lru.Cache[int64, *wire.UserInfos]
	groupsCache  *lru.Cache[int64, *wire.GroupInfos]
	membersCache *lru.Cache[int64, *wire.UserInfos]
}

// Config controls breaker trip thresholds and cache sizing.
type Config struct {
	CacheSize        int
	BreakerName      string
	ConsecutiveTrips uint32
	OpenTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{CacheSize: 4096, BreakerName: "logic-tier", ConsecutiveTrips: 5, OpenTimeout: 10 * time.Second}
}

func NewFacade(logic LogicClient, cfg Config) (*Facade, error) {
	friends, err := lru.New[int64, *wire.UserInfos](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("routing: friends cache: %w", err)
	}
	groups, err := lru.New[int64, *wire.GroupInfos](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("routing: groups cache: %w", err)
	}
	members, err := lru.New[int64, *wire.UserInfos](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("routing: members cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.BreakerName,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveTrips
		},
	})

	return &Facade{
		logic:        logic,
		breaker:      breaker,
		friendsCache: friends,
		groupsCache:  groups,
		membersCache: members,
	}, nil
}

// SendMsg routes by the recipient's peer id, per the original handler's
// set_request_code(Hash(new_msg->peer_id())).
func (f *Facade) SendMsg(ctx context.Context, req *wire.NewMsg) (*wire.MsgReply, error) {
	code := Hash(req.PeerID)
	v, err := f.breaker.Execute(func() (any, error) {
		return f.logic.SendMsg(ctx, code, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*wire.MsgReply), nil
}

// GetMsgs routes by user id and is never cached: message ranges are not
// read-mostly roster data and must always reflect the latest store.
func (f *Facade) GetMsgs(ctx context.Context, req *wire.MsgIDRange) (*wire.Msgs, error) {
	code := Hash(req.UserID)
	v, err := f.breaker.Execute(func() (any, error) {
		return f.logic.GetMsgs(ctx, code, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*wire.Msgs), nil
}

// GetFriends is read-through cached: roster data changes rarely relative
// to how often it's read.
func (f *Facade) GetFriends(ctx context.Context, req *wire.UserIDMsg) (*wire.UserInfos, error) {
	if v, ok := f.friendsCache.Get(req.UserID); ok {
		return v, nil
	}
	code := Hash(req.UserID)
	v, err := f.breaker.Execute(func() (any, error) {
		return f.logic.GetFriends(ctx, code, req)
	})
	if err != nil {
		return nil, err
	}
	out := v.(*wire.UserInfos)
	f.friendsCache.Add(req.UserID, out)
	return out, nil
}

func (f *Facade) GetGroups(ctx context.Context, req *wire.UserIDMsg) (*wire.GroupInfos, error) {
	if v, ok := f.groupsCache.Get(req.UserID); ok {
		return v, nil
	}
	code := Hash(req.UserID)
	v, err := f.breaker.Execute(func() (any, error) {
		return f.logic.GetGroups(ctx, code, req)
	})
	if err != nil {
		return nil, err
	}
	out := v.(*wire.GroupInfos)
	f.groupsCache.Add(req.UserID, out)
	return out, nil
}

func (f *Facade) GetGroupMembers(ctx context.Context, req *wire.GroupIDMsg) (*wire.UserInfos, error) {
	if v, ok := f.membersCache.Get(req.GroupID); ok {
		return v, nil
	}
	code := Hash(req.GroupID)
	v, err := f.breaker.Execute(func() (any, error) {
		return f.logic.GetGroupMembers(ctx, code, req)
	})
	if err != nil {
		return nil, err
	}
	out := v.(*wire.UserInfos)
	f.membersCache.Add(req.GroupID, out)
	return out, nil
}

// InvalidateUser drops the friends and groups cache entries keyed by
// user, called on SignOut so a stale roster entry can't outlive the
// session it was read for. membersCache is keyed by group id, not user
// id, so a per-user sign-out cannot invalidate it directly; it only ever
// expires by LRU eviction or cache-size pressure.
func (f *Facade) InvalidateUser(userID int64) {
	f.friendsCache.Remove(userID)
	f.groupsCache.Remove(userID)
}
