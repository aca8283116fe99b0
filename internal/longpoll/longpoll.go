// Package longpoll implements the Long-Poll Delivery Engine (C4): the
// Park and Wake operations that give PullData and Stream their
// request-response shape over an inherently asynchronous delivery path.
//
// The retrieved registry/hub.go rendition of this idea gives every
// session its own mailbox channel read by an actor goroutine. This
// system's Park/Wake contract is narrower and more explicit: at most one
// (or, for the streaming surface, exactly one permanently-installed)
// parked reply lives in a user's slot at a time, and Wake must report
// which of three outcomes happened — unknown user, no listener, or
// delivered — so the caller one hop further up (the inter-access
// ingress) can decide whether to keep retrying, queue, or
// give up. Modeling the parked RPC as a channel held in the slot is the
// idiomatic Go equivalent of brpc's release-then-complete-later closure:
// the blocked grpc-go handler goroutine is the continuation.
package longpoll

import (
	"github.com/tinyim/access-node/internal/heartbeat"
	"github.com/tinyim/access-node/internal/sessiontable"
	"github.com/tinyim/access-node/internal/wire"
)

// WakeOutcome is the three-way result of a Wake call.
type WakeOutcome int

const (
	// UnknownUser means the slot does not exist at all: the user was
	// never signed in here, or has since been torn down.
	UnknownUser WakeOutcome = iota
	// NoListener means the slot exists but nobody is currently parked;
	// the caller owns deciding whether to queue, retry, or drop.
	NoListener
	// Delivered means a parked reply received the message.
	Delivered
)

// Engine ties the Session Table to the Heartbeat Supervisor so that
// parking a pull always resets the inactivity deadline, per spec.md §4.3.
type Engine struct {
	table *sessiontable.Table
	hb    *heartbeat.Supervisor
}

func NewEngine(table *sessiontable.Table, hb *heartbeat.Supervisor) *Engine {
	return &Engine{table: table, hb: hb}
}

// Park installs a new parked reply for user and returns it for the
// caller (the PullData or Stream handler) to block on. Any prior parked
// reply in the slot — single-shot or streaming — is superseded: a
// single-shot one is completed with an empty payload so its PullData
// returns normally, and a streaming one is torn down (channel closed, no
// payload) so its Stream call ends instead of blocking forever on a
// channel nothing will ever write to again. A second concurrent poll for
// the same user supersedes, rather than queues behind, the first
// (Invariant 2: at most one outstanding poll per user). Parking counts as
// activity, so Reset is called after the slot is updated.
func (e *Engine) Park(user sessiontable.UserID, streaming bool) *sessiontable.ParkedReply {
	var fresh *sessiontable.ParkedReply
	if streaming {
		fresh = sessiontable.NewStreamingParkedReply()
	} else {
		fresh = sessiontable.NewParkedReply()
	}

	var superseded *sessiontable.ParkedReply
	e.table.WithSlot(user, true, func(slot *sessiontable.SessionSlot, existed bool) {
		superseded = slot.Parked
		slot.Parked = fresh
	})
	if superseded != nil {
		if superseded.Streaming() {
			sessiontable.TeardownParked(superseded)
		} else {
			sessiontable.CompleteParked(superseded, &wire.Msgs{})
		}
	}

	e.hb.Reset(user)
	return fresh
}

// Unpark detaches reply from user's slot if it is still the one
// installed, so a client that abandons the long poll (context cancelled)
// doesn't leave a stale parked reply blocking future sends into a dead
// channel. Wake will simply report NoListener afterward.
func (e *Engine) Unpark(user sessiontable.UserID, reply *sessiontable.ParkedReply) {
	e.table.WithSlot(user, false, func(slot *sessiontable.SessionSlot, existed bool) {
		if existed && slot.Parked == reply {
			slot.Parked = nil
		}
	})
}

// Wake delivers msgs to user's outstanding poll, if any, detaching a
// single-shot reply or appending to a streaming one. See WakeOutcome.
func (e *Engine) Wake(user sessiontable.UserID, msgs *wire.Msgs) WakeOutcome {
	var delivered *sessiontable.ParkedReply
	outcome := UnknownUser

	e.table.WithSlot(user, false, func(slot *sessiontable.SessionSlot, existed bool) {
		if !existed {
			outcome = UnknownUser
			return
		}
		if slot.Parked == nil {
			outcome = NoListener
			return
		}
		delivered = slot.Parked
		if !delivered.Streaming() {
			slot.Parked = nil // single-shot: detach, caller consumes once
		}
		outcome = Delivered
	})

	if delivered != nil {
		sessiontable.CompleteParked(delivered, msgs)
	}
	return outcome
}
