package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyim/access-node/internal/sessiontable"
	"github.com/tinyim/access-node/internal/timer"
)

func TestResetEstablishesFirstDeadline(t *testing.T) {
	ts := timer.NewService()
	defer ts.Stop()
	tbl := sessiontable.New(4)
	sup := NewSupervisor(tbl, ts, time.Hour, nil, nil)

	sup.Reset(1)

	tbl.WithSlot(1, false, func(slot *sessiontable.SessionSlot, existed bool) {
		require.True(t, existed)
		assert.NotNil(t, slot.HeartbeatHandle)
	})
}

func TestResetReplacesPriorTimer(t *testing.T) {
	ts := timer.NewService()
	defer ts.Stop()
	tbl := sessiontable.New(4)
	sup := NewSupervisor(tbl, ts, time.Hour, nil, nil)

	sup.Reset(1)
	var first *timer.Handle
	tbl.WithSlot(1, false, func(slot *sessiontable.SessionSlot, existed bool) {
		first = slot.HeartbeatHandle
	})

	sup.Reset(1)
	var second *timer.Handle
	tbl.WithSlot(1, false, func(slot *sessiontable.SessionSlot, existed bool) {
		second = slot.HeartbeatHandle
	})

	assert.NotSame(t, first, second)
}

func TestExpiryTearsDownSlotAndCompletesParked(t *testing.T) {
	ts := timer.NewService()
	defer ts.Stop()
	tbl := sessiontable.New(4)

	expired := make(chan sessiontable.UserID, 1)
	sup := NewSupervisor(tbl, ts, 10*time.Millisecond, func(user sessiontable.UserID) {
		expired <- user
	}, nil)

	var reply *sessiontable.ParkedReply
	tbl.WithSlot(42, true, func(slot *sessiontable.SessionSlot, existed bool) {
		reply = sessiontable.NewParkedReply()
		slot.Parked = reply
	})
	sup.Reset(42)

	select {
	case u := <-expired:
		assert.EqualValues(t, 42, u)
	case <-time.After(time.Second):
		t.Fatal("heartbeat never expired")
	}

	tbl.WithSlot(42, false, func(slot *sessiontable.SessionSlot, existed bool) {
		assert.False(t, existed, "slot must be removed on expiry")
	})

	_, ok := <-reply.C()
	assert.False(t, ok, "parked reply must be torn down (channel closed) on expiry")
}

func TestTeardownSlotCancelsLiveTimer(t *testing.T) {
	ts := timer.NewService()
	defer ts.Stop()
	tbl := sessiontable.New(4)

	expired := make(chan sessiontable.UserID, 1)
	sup := NewSupervisor(tbl, ts, 30*time.Millisecond, func(user sessiontable.UserID) {
		expired <- user
	}, nil)

	sup.Reset(7)
	slot, ok := tbl.Remove(7)
	require.True(t, ok)
	sup.TeardownSlot(slot)

	select {
	case <-expired:
		t.Fatal("a slot torn down via SignOut/Drain must not also fire heartbeat expiry")
	case <-time.After(100 * time.Millisecond):
	}
}
