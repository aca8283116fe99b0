package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyim/access-node/internal/wire"
)

// TestHashIsPureFunctionOfID covers Testable Property 5: two calls with
// the same id yield the same code.
func TestHashIsPureFunctionOfID(t *testing.T) {
	assert.Equal(t, Hash(5678), Hash(5678))
	assert.NotEqual(t, Hash(5678), Hash(8765))
}

type stubLogic struct {
	lastCode uint32
	friends  *wire.UserInfos
	calls    int
}

func (s *stubLogic) SendMsg(ctx context.Context, code uint32, req *wire.NewMsg) (*wire.MsgReply, error) {
	s.lastCode = code
	return &wire.MsgReply{MsgID: 1}, nil
}
func (s *stubLogic) GetMsgs(ctx context.Context, code uint32, req *wire.MsgIDRange) (*wire.Msgs, error) {
	s.lastCode = code
	return &wire.Msgs{}, nil
}
func (s *stubLogic) GetFriends(ctx context.Context, code uint32, req *wire.UserIDMsg) (*wire.UserInfos, error) {
	s.lastCode = code
	s.calls++
	return s.friends, nil
}
func (s *stubLogic) GetGroups(ctx context.Context, code uint32, req *wire.UserIDMsg) (*wire.GroupInfos, error) {
	return &wire.GroupInfos{}, nil
}
func (s *stubLogic) GetGroupMembers(ctx context.Context, code uint32, req *wire.GroupIDMsg) (*wire.UserInfos, error) {
	return &wire.UserInfos{}, nil
}

// TestSendMsgRoutesByPeerID covers E1: request_code = CRC32C(peer id LE).
func TestSendMsgRoutesByPeerID(t *testing.T) {
	stub := &stubLogic{}
	f, err := NewFacade(stub, DefaultConfig())
	require.NoError(t, err)

	_, err = f.SendMsg(context.Background(), &wire.NewMsg{UserID: 1234, PeerID: 5678})
	require.NoError(t, err)
	assert.Equal(t, Hash(5678), stub.lastCode)
}

func TestGetFriendsCachesAfterFirstCall(t *testing.T) {
	stub := &stubLogic{friends: &wire.UserInfos{UserInfo: []*wire.UserInfo{{UserID: 2}}}}
	f, err := NewFacade(stub, DefaultConfig())
	require.NoError(t, err)

	_, err = f.GetFriends(context.Background(), &wire.UserIDMsg{UserID: 1})
	require.NoError(t, err)
	_, err = f.GetFriends(context.Background(), &wire.UserIDMsg{UserID: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, stub.calls, "second GetFriends for the same user must hit the cache, not the logic tier")
}

func TestInvalidateUserDropsCacheEntry(t *testing.T) {
	stub := &stubLogic{friends: &wire.UserInfos{}}
	f, err := NewFacade(stub, DefaultConfig())
	require.NoError(t, err)

	_, _ = f.GetFriends(context.Background(), &wire.UserIDMsg{UserID: 1})
	f.InvalidateUser(1)
	_, _ = f.GetFriends(context.Background(), &wire.UserIDMsg{UserID: 1})

	assert.Equal(t, 2, stub.calls)
}
