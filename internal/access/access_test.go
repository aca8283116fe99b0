package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyim/access-node/internal/heartbeat"
	"github.com/tinyim/access-node/internal/longpoll"
	"github.com/tinyim/access-node/internal/routing"
	"github.com/tinyim/access-node/internal/sessiontable"
	"github.com/tinyim/access-node/internal/timer"
	"github.com/tinyim/access-node/internal/wire"
)

type stubDbproxy struct {
	lastSignin *wire.SigninData
}

func (s *stubDbproxy) AuthAndSaveSession(ctx context.Context, req *wire.SigninData) (*wire.Pong, error) {
	s.lastSignin = req
	return &wire.Pong{LastMsgID: 99}, nil
}
func (s *stubDbproxy) ClearSession(ctx context.Context, req *wire.UserIDMsg) (*wire.Empty, error) {
	return &wire.Empty{}, nil
}

type stubLogic struct {
	lastSendCode uint32
	sendMsgID    int64
}

func (s *stubLogic) SendMsg(ctx context.Context, code uint32, req *wire.NewMsg) (*wire.MsgReply, error) {
	s.lastSendCode = code
	s.sendMsgID++
	return &wire.MsgReply{MsgID: s.sendMsgID}, nil
}
func (s *stubLogic) GetMsgs(ctx context.Context, code uint32, req *wire.MsgIDRange) (*wire.Msgs, error) {
	return &wire.Msgs{}, nil
}
func (s *stubLogic) GetFriends(ctx context.Context, code uint32, req *wire.UserIDMsg) (*wire.UserInfos, error) {
	return &wire.UserInfos{}, nil
}
func (s *stubLogic) GetGroups(ctx context.Context, code uint32, req *wire.UserIDMsg) (*wire.GroupInfos, error) {
	return &wire.GroupInfos{}, nil
}
func (s *stubLogic) GetGroupMembers(ctx context.Context, code uint32, req *wire.GroupIDMsg) (*wire.UserInfos, error) {
	return &wire.UserInfos{}, nil
}

type testRig struct {
	srv     *Server
	table   *sessiontable.Table
	ts      *timer.Service
	db      *stubDbproxy
	logic   *stubLogic
}

func newRig(t *testing.T, idle time.Duration) *testRig {
	t.Helper()
	ts := timer.NewService()
	t.Cleanup(ts.Stop)
	tbl := sessiontable.New(4)
	hb := heartbeat.NewSupervisor(tbl, ts, idle, nil, nil)
	lp := longpoll.NewEngine(tbl, hb)
	logic := &stubLogic{}
	facade, err := routing.NewFacade(logic, routing.DefaultConfig())
	require.NoError(t, err)
	db := &stubDbproxy{}

	srv := NewServer(Deps{
		Table: tbl, Heart: hb, LongPoll: lp, Routing: facade, Dbproxy: db, Address: "127.0.0.1:7000",
	})
	return &testRig{srv: srv, table: tbl, ts: ts, db: db, logic: logic}
}

// TestSignInEstablishesSlot covers the establish-slot half of C7.
func TestSignInEstablishesSlot(t *testing.T) {
	rig := newRig(t, time.Hour)
	reply, err := rig.srv.SignIn(context.Background(), &wire.SigninData{UserID: 1234, Password: "pw"})
	require.NoError(t, err)
	assert.EqualValues(t, 99, reply.LastMsgID)
	assert.Equal(t, int64(1234), rig.db.lastSignin.UserID)
	assert.Equal(t, "127.0.0.1:7000", rig.db.lastSignin.AccessAddr)

	rig.table.WithSlot(1234, false, func(slot *sessiontable.SessionSlot, existed bool) {
		require.True(t, existed)
		assert.NotNil(t, slot.HeartbeatHandle)
	})
}

// TestE1HappyPathSend: SignIn then SendMsg, msg_id > 0, routed by peer id.
func TestE1HappyPathSend(t *testing.T) {
	rig := newRig(t, time.Hour)
	_, err := rig.srv.SignIn(context.Background(), &wire.SigninData{UserID: 1234})
	require.NoError(t, err)

	reply, err := rig.srv.SendMsg(context.Background(), &wire.NewMsg{UserID: 1234, PeerID: 5678, Message: "hi"})
	require.NoError(t, err)
	assert.Greater(t, reply.MsgID, int64(0))
	assert.Equal(t, routing.Hash(5678), rig.logic.lastSendCode)
}

// TestE2LongPollDelivery: a parked PullData receives a push via SendToAccess.
func TestE2LongPollDelivery(t *testing.T) {
	rig := newRig(t, time.Hour)
	_, err := rig.srv.SignIn(context.Background(), &wire.SigninData{UserID: 1234})
	require.NoError(t, err)

	pullDone := make(chan *wire.Msgs, 1)
	go func() {
		msgs, err := rig.srv.PullData(context.Background(), &wire.Ping{UserID: 1234})
		require.NoError(t, err)
		pullDone <- msgs
	}()

	time.Sleep(20 * time.Millisecond) // let PullData park
	_, err = rig.srv.SendToAccess(context.Background(), &wire.Msg{UserID: 1234, Message: "hi"})
	require.NoError(t, err)

	select {
	case msgs := <-pullDone:
		require.Len(t, msgs.Msg, 1)
		assert.Equal(t, "hi", msgs.Msg[0].Message)
	case <-time.After(time.Second):
		t.Fatal("PullData never returned within 1s")
	}
}

// TestE3HeartbeatExpiry: a parked PullData completes empty when idle too long.
func TestE3HeartbeatExpiry(t *testing.T) {
	rig := newRig(t, 20*time.Millisecond)
	_, err := rig.srv.SignIn(context.Background(), &wire.SigninData{UserID: 1234})
	require.NoError(t, err)

	msgs, err := rig.srv.PullData(context.Background(), &wire.Ping{UserID: 1234})
	require.NoError(t, err)
	assert.Empty(t, msgs.Msg)

	rig.table.WithSlot(1234, false, func(slot *sessiontable.SessionSlot, existed bool) {
		assert.False(t, existed, "expired user's slot must be gone")
	})
}

// TestE5NoListenerPush: SendToAccess for an unknown user errors, no crash.
func TestE5NoListenerPush(t *testing.T) {
	rig := newRig(t, time.Hour)
	_, err := rig.srv.SendToAccess(context.Background(), &wire.Msg{UserID: 9999})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownUser))
}

// TestE6SendResetsHeartbeat: an active sender's parked pull survives past
// the original deadline because SendMsg resets it.
func TestE6SendResetsHeartbeat(t *testing.T) {
	rig := newRig(t, 60*time.Millisecond)
	_, err := rig.srv.SignIn(context.Background(), &wire.SigninData{UserID: 1234})
	require.NoError(t, err)

	pullDone := make(chan *wire.Msgs, 1)
	go func() {
		msgs, _ := rig.srv.PullData(context.Background(), &wire.Ping{UserID: 1234})
		pullDone <- msgs
	}()
	time.Sleep(40 * time.Millisecond)

	_, err = rig.srv.SendMsg(context.Background(), &wire.NewMsg{UserID: 1234, PeerID: 1})
	require.NoError(t, err)

	// Original deadline would have been ~60ms from park; by ~80ms it should
	// still be parked because SendMsg reset it at ~40ms (new deadline ~100ms).
	select {
	case <-pullDone:
		t.Fatal("parked pull completed before the reset heartbeat deadline")
	case <-time.After(40 * time.Millisecond):
	}
}

func TestSignOutRemovesSlot(t *testing.T) {
	rig := newRig(t, time.Hour)
	_, err := rig.srv.SignIn(context.Background(), &wire.SigninData{UserID: 1234})
	require.NoError(t, err)

	_, err = rig.srv.SignOut(context.Background(), &wire.UserIDMsg{UserID: 1234})
	require.NoError(t, err)

	rig.table.WithSlot(1234, false, func(slot *sessiontable.SessionSlot, existed bool) {
		assert.False(t, existed)
	})
}

func TestDrainTearsDownEverySlot(t *testing.T) {
	rig := newRig(t, time.Hour)
	for _, u := range []int64{1, 2, 3} {
		_, err := rig.srv.SignIn(context.Background(), &wire.SigninData{UserID: u})
		require.NoError(t, err)
	}

	rig.srv.Drain()

	for _, u := range []sessiontable.UserID{1, 2, 3} {
		rig.table.WithSlot(u, false, func(slot *sessiontable.SessionSlot, existed bool) {
			assert.False(t, existed)
		})
	}
}
