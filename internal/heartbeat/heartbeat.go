// Package heartbeat implements the Heartbeat Supervisor (C3): the per-user
// inactivity timer that rides on top of the Timer Service and Session
// Table. Every signed-in user has at most one live heartbeat timer; any
// activity that counts as a heartbeat (SignIn, HeartBeat, PullData,
// SendMsg; read paths such as GetMsgs do not) resets it, and if it ever fires the user is torn
// down as if they had signed out.
package heartbeat

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyim/access-node/internal/sessiontable"
	"github.com/tinyim/access-node/internal/timer"
)

// ExpiredFunc is called after a user's heartbeat has fired and their slot
// has already been torn down. It receives only the user id, so the caller
// can log or audit the expiry; the supervisor has already torn down any
// parked reply (closing any blocked poll).
type ExpiredFunc func(user sessiontable.UserID)

// Supervisor owns the single reset/expire algorithm described in spec.md
// §4.3. It holds no locks of its own: all synchronization happens through
// the Table's shard locks and the Timer Service's own mutex.
type Supervisor struct {
	table   *sessiontable.Table
	timers  *timer.Service
	idle    atomic.Int64 // time.Duration, hot-reloadable via SetIdleTimeout
	onExpire ExpiredFunc
	log     *slog.Logger
}

// NewSupervisor builds a Supervisor with the given initial idle timeout.
// onExpire may be nil.
func NewSupervisor(table *sessiontable.Table, timers *timer.Service, idleTimeout time.Duration, onExpire ExpiredFunc, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{table: table, timers: timers, onExpire: onExpire, log: log}
	s.idle.Store(int64(idleTimeout))
	return s
}

// IdleTimeout returns the current inactivity deadline duration.
func (s *Supervisor) IdleTimeout() time.Duration {
	return time.Duration(s.idle.Load())
}

// SetIdleTimeout updates the inactivity deadline used by future Reset
// calls. Existing live timers keep their already-scheduled deadline;
// config hot-reload (C9) only affects subsequently-reset users. This
// matches spec.md's choice to exclude shard_count and listen address from
// hot reload but allow scalar timeouts to change live.
func (s *Supervisor) SetIdleTimeout(d time.Duration) {
	s.idle.Store(int64(d))
}

type expiryArg struct {
	sup  *Supervisor
	user sessiontable.UserID
}

// Reset implements the heartbeat reset algorithm: allocate the next
// expiry's argument block before taking any lock, then under the owning
// shard's lock cancel the prior timer (if any) and install the new one.
// The user's slot is created if it does not already exist, since Reset is
// also how SignIn establishes the first heartbeat deadline.
func (s *Supervisor) Reset(user sessiontable.UserID) {
	deadline := time.Now().Add(s.IdleTimeout())
	arg := &expiryArg{sup: s, user: user}

	s.table.WithSlot(user, true, func(slot *sessiontable.SessionSlot, existed bool) {
		if slot.HeartbeatHandle != nil {
			// Cancelled: the old argument block is now ours to drop (the
			// GC reclaims it; nothing to explicitly free). AlreadyFired:
			// the expiry callback already owns it and is either running
			// concurrently or has already torn this slot down — either
			// way we must not inspect or reuse the old handle again, only
			// overwrite it with the new one below.
			s.timers.Cancel(slot.HeartbeatHandle)
		}
		slot.HeartbeatHandle = s.timers.Schedule(deadline, s.fire, arg)
	})
}

// TeardownSlot cancels a removed slot's heartbeat timer, if still live,
// and completes its parked reply, if any, with an empty payload. Used by
// SignOut and Shutdown Drain, which remove a slot themselves and must
// finish the same cleanup the expiry callback would have done.
func (s *Supervisor) TeardownSlot(slot sessiontable.SessionSlot) {
	if slot.HeartbeatHandle != nil {
		s.timers.Cancel(slot.HeartbeatHandle)
	}
	if slot.Parked != nil {
		sessiontable.TeardownParked(slot.Parked)
	}
}

func (s *Supervisor) fire(argAny any) {
	arg := argAny.(*expiryArg)
	arg.sup.expire(arg.user)
}

// expire is the Timer Service callback: it tears the user's slot down
// exactly like an implicit sign-out; Invariant 5 only promises the
// eventual teardown, not a synchronous completion before this returns.
func (s *Supervisor) expire(user sessiontable.UserID) {
	slot, ok := s.table.Remove(user)
	if !ok {
		// Already removed by a concurrent SignOut or shutdown drain that
		// won the race to detach the slot; nothing left to tear down.
		return
	}
	if slot.Parked != nil {
		sessiontable.TeardownParked(slot.Parked)
	}
	s.log.Info("heartbeat expired", "user", int64(user))
	if s.onExpire != nil {
		s.onExpire(user)
	}
}
