// Package siggate implements the engine's critical-section primitive: an
// atomic block/unblock pair that holds back action on the preemption signal
// for the duration of a scheduler-mutating call.
//
// Because at most one Thread goroutine is ever unparked at a time (every
// other Thread sits blocked on its own ctxbuf.Buffer), no mutex is needed
// to protect scheduler state itself — the single currently-running Thread
// is always the sole writer. What the gate protects is narrower and
// cheaper: whether a pending preemption request is allowed to be acted on
// right now, or must wait. This mirrors the teacher's use of atomic.Bool
// for single-writer-at-a-time process state (sparkos/kernel/panic.go).
package siggate

import "sync/atomic"

// Gate is not nestable: a second Block before an intervening Unblock is a
// caller bug, matching spec §4.4's note that the design relies on strict
// non-nesting in the API surface.
type Gate struct {
	blocked   atomic.Bool
	preempted atomic.Bool
}

// Block closes the gate: RequestPreempt calls are still recorded, but
// TakePreempt reports false until Unblock.
func (g *Gate) Block() {
	g.blocked.Store(true)
}

// Unblock opens the gate.
func (g *Gate) Unblock() {
	g.blocked.Store(false)
}

// Blocked reports whether the gate is currently closed.
func (g *Gate) Blocked() bool {
	return g.blocked.Load()
}

// RequestPreempt records that the virtual-timer signal fired. It performs
// no allocation and touches nothing but a single atomic flag, so it is
// safe to call directly from the SIGVTALRM handler goroutine.
func (g *Gate) RequestPreempt() {
	g.preempted.Store(true)
}

// TakePreempt reports whether a preemption is pending and the gate is open,
// and in that case clears the request atomically. If the gate is closed it
// returns false and leaves the request pending for a later call once the
// gate reopens.
func (g *Gate) TakePreempt() bool {
	if g.blocked.Load() {
		return false
	}
	return g.preempted.CompareAndSwap(true, false)
}
