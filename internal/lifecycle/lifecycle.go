// Package lifecycle implements the acquire/release/disconnect protocol
// shared by every long-lived object in the bus graph (namespace, bus,
// endpoint, connection).
//
// disconnect is split out from release so that external references can
// remain valid for readout during teardown while new lookups already fail:
// a lookup takes a lock, checks Disconnected, and backs off rather than
// returning a half-torn-down object.
package lifecycle

import "sync/atomic"

// State is the embeddable refcount/disconnect state for one graph object.
// The zero value is not usable; construct with New.
type State struct {
	refcount     atomic.Int64
	disconnected atomic.Bool
}

// New returns a State with an initial refcount of one, matching the
// implicit reference held by whoever constructs the object.
func New() *State {
	s := &State{}
	s.refcount.Store(1)
	return s
}

// Acquire increments the refcount. Safe to call from any goroutine holding
// any lock in the outer-to-inner order (subsystem, namespace, bus,
// connection).
func (s *State) Acquire() {
	s.refcount.Add(1)
}

// Release decrements the refcount and reports whether it just reached
// zero. The caller that observes true must run Disconnect (if not already
// run) followed by freeing owned resources, exactly once.
func (s *State) Release() bool {
	return s.refcount.Add(-1) == 0
}

// Disconnected reports whether disconnect has already run.
func (s *State) Disconnected() bool {
	return s.disconnected.Load()
}

// markDisconnected atomically transitions false -> true and reports
// whether this call performed the transition.
func (s *State) markDisconnected() bool {
	return s.disconnected.CompareAndSwap(false, true)
}

// Disconnect runs unlink and teardown exactly once, the first time it is
// called for this object. Subsequent calls (concurrent or sequential)
// return immediately. unlink removes the object from its parent's list
// under the parent's lock; teardown releases a local snapshot of owned
// children and performs any logging. Both must be safe to call with no
// locks of this object held, since unlink itself acquires the parent's
// (outer) lock.
func Disconnect(s *State, unlink func(), teardown func()) {
	if !s.markDisconnected() {
		return
	}
	if unlink != nil {
		unlink()
	}
	if teardown != nil {
		teardown()
	}
}

// Release decrements s's refcount and, the first time it reaches zero,
// disconnects (idempotently, via disconnect) and then frees owned storage
// via free.
func Release(s *State, disconnect func(), free func()) {
	if !s.Release() {
		return
	}
	if disconnect != nil {
		disconnect()
	}
	if free != nil {
		free()
	}
}
