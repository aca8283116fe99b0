// Package sessiontable implements the access node's Session Table (C1):
// a fixed array of N shards, each a plain map guarded by its own mutex.
// It is the only shared mutable state in the access node. No operation
// in this package ever blocks, issues an RPC, or holds more than one
// shard's lock at a time — callers allocate before locking and defer any
// blocking completion work until after the lock is released.
//
// Shard assignment is an explicit, fixed `user mod N` array rather than a
// dynamically-growing concurrent map, so that the shard a user belongs to
// is a pure function of their id for the lifetime of the process (see
// DESIGN.md).
package sessiontable

import (
	"sync"

	"github.com/tinyim/access-node/internal/timer"
	"github.com/tinyim/access-node/internal/wire"
)

// UserID is the 64-bit stable identity of a connected client.
type UserID int64

// ParkedReply is a client pull (PullData or Stream) currently blocked
// server-side, waiting for Wake or teardown to complete it. Sending on
// the channel IS invoking the completion callback: it is what wakes the
// blocked RPC handler goroutine and lets it return a response.
type ParkedReply struct {
	ch        chan *wire.Msgs
	streaming bool
}

// NewParkedReply creates a single-shot parked reply for a unary PullData
// call: Wake consumes it, detaching it from the slot.
func NewParkedReply() *ParkedReply {
	return &ParkedReply{ch: make(chan *wire.Msgs, 1)}
}

// NewStreamingParkedReply creates a permanently-parked reply for the
// Stream surface (spec.md §9's streaming Open Question): Wake appends to
// it rather than consuming it, so the slot keeps the same listener
// across many pushes.
func NewStreamingParkedReply() *ParkedReply {
	return &ParkedReply{ch: make(chan *wire.Msgs, 64), streaming: true}
}

// C is the channel the parked RPC handler blocks on.
func (p *ParkedReply) C() <-chan *wire.Msgs { return p.ch }

// Streaming reports whether this parked reply is the permanently-parked
// (append, don't consume) kind.
func (p *ParkedReply) Streaming() bool { return p.streaming }

// complete delivers a non-empty payload. For a single-shot reply this is
// always the first and only send, so it never blocks. For a streaming
// reply a full buffer means a slow consumer; the push is dropped rather
// than stalling the caller (the same backpressure trade-off the
// teacher's Connector.Send makes for slow sessions).
func (p *ParkedReply) complete(msgs *wire.Msgs) {
	select {
	case p.ch <- msgs:
	default:
	}
}

// teardown ends the parked reply with no payload: the handler blocked on
// C() observes the channel close and returns an empty reply (unary
// PullData) or ends the call (Stream). Only ever called by whoever holds
// exclusive ownership of this ParkedReply after detaching it from its
// slot, so it never races with complete.
func (p *ParkedReply) teardown() {
	close(p.ch)
}

// SessionSlot is the per-attached-user state described in spec.md §3.
type SessionSlot struct {
	// Parked is the outstanding client pull, or nil if the user is
	// attached but not currently polling (Invariant 3).
	Parked *ParkedReply
	// HeartbeatHandle is the live Timer Service handle for this user's
	// inactivity deadline, or nil.
	HeartbeatHandle *timer.Handle
}

type shard struct {
	mu    sync.Mutex
	slots map[UserID]*SessionSlot
}

// Table is the Session Table (C1).
type Table struct {
	shards []*shard
}

// New builds a Table with the given shard count (a small power of two;
// spec.md defaults to 16).
func New(shardCount int) *Table {
	if shardCount <= 0 {
		shardCount = 16
	}
	t := &Table{shards: make([]*shard, shardCount)}
	for i := range t.shards {
		t.shards[i] = &shard{slots: make(map[UserID]*SessionSlot)}
	}
	return t
}

// ShardCount returns N.
func (t *Table) ShardCount() int { return len(t.shards) }

func (t *Table) shardFor(u UserID) *shard {
	n := uint64(len(t.shards))
	// UserID can be negative in principle; normalize before the modulo
	// so routing is a pure, always-in-range function of the id.
	uu := uint64(u)
	return t.shards[uu%n]
}

// WithSlot acquires the shard lock owning user u and invokes fn with the
// slot and whether it already existed. If create is true and no slot
// exists, an empty one is inserted first and existed is reported false.
// fn must be O(1) and allocation-free: no blocking, no RPC, no more than
// this one shard's lock. Any deferred work (completing a parked reply,
// running a callback) must happen after WithSlot returns.
func (t *Table) WithSlot(u UserID, create bool, fn func(slot *SessionSlot, existed bool)) {
	sh := t.shardFor(u)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	slot, existed := sh.slots[u]
	if !existed {
		if !create {
			fn(nil, false)
			return
		}
		slot = &SessionSlot{}
		sh.slots[u] = slot
	}
	fn(slot, existed)
}

// Remove atomically unlinks u's slot and returns its former contents so
// the caller can complete any parked reply and cancel any heartbeat
// timer outside the lock (Invariant 5). ok is false if no slot existed.
func (t *Table) Remove(u UserID) (slot SessionSlot, ok bool) {
	sh := t.shardFor(u)
	sh.mu.Lock()
	s, existed := sh.slots[u]
	if existed {
		delete(sh.slots, u)
	}
	sh.mu.Unlock()

	if !existed {
		return SessionSlot{}, false
	}
	return *s, true
}

// RemoveOneInShard removes and returns an arbitrary slot from shard i, for
// Shutdown Drain (C8): it lets the caller empty one shard entirely, one
// slot at a time, each removal independently atomic, without ever holding
// the shard lock across the teardown work that follows.
func (t *Table) RemoveOneInShard(i int) (user UserID, slot SessionSlot, ok bool) {
	sh := t.shards[i]
	sh.mu.Lock()
	for u, s := range sh.slots {
		delete(sh.slots, u)
		sh.mu.Unlock()
		return u, *s, true
	}
	sh.mu.Unlock()
	return 0, SessionSlot{}, false
}

// ShardStats is a snapshot of one shard's occupancy, for the admin HTTP
// surface (C12).
type ShardStats struct {
	ShardID    int
	UserCount  int
	ParkedCount int
}

// Stats snapshots every shard's occupancy. It locks and unlocks one
// shard at a time, never more than one at once, same as every other
// Table operation.
func (t *Table) Stats() []ShardStats {
	out := make([]ShardStats, len(t.shards))
	for i, sh := range t.shards {
		sh.mu.Lock()
		parked := 0
		for _, s := range sh.slots {
			if s.Parked != nil {
				parked++
			}
		}
		out[i] = ShardStats{ShardID: i, UserCount: len(sh.slots), ParkedCount: parked}
		sh.mu.Unlock()
	}
	return out
}

// CompleteParked is a small helper so callers outside this package (Wake)
// can complete a detached parked reply without reaching into its
// unexported fields.
func CompleteParked(p *ParkedReply, msgs *wire.Msgs) {
	if p == nil {
		return
	}
	p.complete(msgs)
}

// TeardownParked ends a detached parked reply with no payload: the
// handler blocked on C() sees the channel close and returns an empty
// reply or ends its call. Used by the heartbeat supervisor and shutdown
// drain when a slot is torn down rather than woken with new messages.
func TeardownParked(p *ParkedReply) {
	if p == nil {
		return
	}
	p.teardown()
}
