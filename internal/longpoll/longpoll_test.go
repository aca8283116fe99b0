package longpoll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyim/access-node/internal/heartbeat"
	"github.com/tinyim/access-node/internal/sessiontable"
	"github.com/tinyim/access-node/internal/timer"
	"github.com/tinyim/access-node/internal/wire"
)

func newTestEngine(t *testing.T) (*Engine, *sessiontable.Table) {
	t.Helper()
	ts := timer.NewService()
	t.Cleanup(ts.Stop)
	tbl := sessiontable.New(4)
	hb := heartbeat.NewSupervisor(tbl, ts, time.Hour, nil, nil)
	return NewEngine(tbl, hb), tbl
}

// TestWakeUnknownUser covers E5: a push for a user with no slot at all.
func TestWakeUnknownUser(t *testing.T) {
	eng, _ := newTestEngine(t)
	outcome := eng.Wake(9999, &wire.Msgs{})
	assert.Equal(t, UnknownUser, outcome)
}

func TestWakeNoListener(t *testing.T) {
	eng, tbl := newTestEngine(t)
	tbl.WithSlot(1, true, func(slot *sessiontable.SessionSlot, existed bool) {})

	outcome := eng.Wake(1, &wire.Msgs{})
	assert.Equal(t, NoListener, outcome)
}

// TestParkThenWakeDelivers covers E2: a parked pull receiving a push.
func TestParkThenWakeDelivers(t *testing.T) {
	eng, _ := newTestEngine(t)
	reply := eng.Park(1, false)

	msgs := &wire.Msgs{Msg: []*wire.Msg{{UserID: 1, Message: "hi"}}}
	outcome := eng.Wake(1, msgs)
	require.Equal(t, Delivered, outcome)

	got := <-reply.C()
	require.Len(t, got.Msg, 1)
	assert.Equal(t, "hi", got.Msg[0].Message)
}

// TestSecondParkSupersedesFirst covers E4: a second PullData before any
// Wake completes the first immediately with an empty payload.
func TestSecondParkSupersedesFirst(t *testing.T) {
	eng, _ := newTestEngine(t)
	first := eng.Park(1, false)
	second := eng.Park(1, false)

	got := <-first.C()
	require.NotNil(t, got)
	assert.Empty(t, got.Msg)

	// second is still parked; only a Wake (or teardown) completes it.
	select {
	case <-second.C():
		t.Fatal("second parked reply must remain outstanding")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWakeAfterSingleShotConsumedReportsNoListener(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.Park(1, false)

	first := eng.Wake(1, &wire.Msgs{Msg: []*wire.Msg{{UserID: 1}}})
	require.Equal(t, Delivered, first)

	second := eng.Wake(1, &wire.Msgs{Msg: []*wire.Msg{{UserID: 1}}})
	assert.Equal(t, NoListener, second, "a consumed single-shot reply must not receive a second push")
}

func TestStreamingParkAppendsAcrossWakes(t *testing.T) {
	eng, _ := newTestEngine(t)
	reply := eng.Park(1, true)

	require.Equal(t, Delivered, eng.Wake(1, &wire.Msgs{Msg: []*wire.Msg{{Message: "a"}}}))
	require.Equal(t, Delivered, eng.Wake(1, &wire.Msgs{Msg: []*wire.Msg{{Message: "b"}}}))

	first := <-reply.C()
	second := <-reply.C()
	assert.Equal(t, "a", first.Msg[0].Message)
	assert.Equal(t, "b", second.Msg[0].Message)
}

// TestParkSupersedesStreamingTearsDownOldReply covers the review fix: a
// new Park over an existing streaming reply must close the old reply's
// channel rather than leaving its Stream goroutine blocked forever.
func TestParkSupersedesStreamingTearsDownOldReply(t *testing.T) {
	eng, _ := newTestEngine(t)
	first := eng.Park(1, true)

	second := eng.Park(1, true)
	require.NotSame(t, first, second)

	_, ok := <-first.C()
	assert.False(t, ok, "superseded streaming reply must be torn down (channel closed), not left dangling")
}

func TestUnparkDetachesOnlyIfStillInstalled(t *testing.T) {
	eng, tbl := newTestEngine(t)
	reply := eng.Park(1, false)
	eng.Unpark(1, reply)

	tbl.WithSlot(1, false, func(slot *sessiontable.SessionSlot, existed bool) {
		require.True(t, existed)
		assert.Nil(t, slot.Parked)
	})
}
