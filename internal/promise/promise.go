// Package promise implements the single-assignment synchronization slot
// every record field and scope slot is built from, plus the evaluator's LIFO
// work stack. A promise is observed with Await and resolved with Fulfill;
// resolving schedules every waiter onto a Queue in one atomic step from the
// evaluator's point of view (the evaluator is single-threaded, so "atomic"
// here means "before Fulfill returns control").
package promise

import (
	"fmt"

	"wakerun/internal/heap"
)

// Work is scheduled onto a Queue and later popped and executed by the
// evaluator's outer loop. It is the runtime's stand-in for a continuation;
// internal/eval's fulfillWork is one.
type Work interface {
	Execute() error
}

// Queue is the evaluator's explicit work stack — LIFO, as specified: the
// most recently scheduled continuation runs next. Modeling it as a plain
// slice (rather than a stackful coroutine) is the design this spec's §9
// notes recommend.
type Queue struct {
	stack []Work
}

// Schedule pushes w onto the queue.
func (q *Queue) Schedule(w Work) { q.stack = append(q.stack, w) }

// Pop removes and returns the most recently scheduled item, or nil if the
// queue is empty.
func (q *Queue) Pop() Work {
	if len(q.stack) == 0 {
		return nil
	}
	n := len(q.stack) - 1
	w := q.stack[n]
	q.stack = q.stack[:n]
	return w
}

// Len reports how many items are pending.
func (q *Queue) Len() int { return len(q.stack) }

// continuation is a Work closure used by Promise.Await when the waiter is a
// plain callback rather than a full evaluator continuation object.
type continuation func() error

func (c continuation) Execute() error { return c() }

// value is the narrow interface a fulfilled promise's payload must satisfy;
// internal/value.Value implements it. Kept local to avoid an import cycle
// (internal/value depends on this package for Record/Scope slots).
type value interface {
	heap.Object
}

// Promise is a write-once, read-many cell. It starts empty (holding a chain
// of waiting continuations) and transitions to fulfilled exactly once.
type Promise struct {
	fulfilled bool
	val       value
	waiters   []Work
}

// New returns an empty promise.
func New() *Promise { return &Promise{} }

// Fulfilled reports the promise's current value, if any — used by
// internal/value's Explore so GC and hashing only descend into settled
// slots.
func (p *Promise) Fulfilled() (value, bool) {
	if p.fulfilled {
		return p.val, true
	}
	return nil, false
}

// Await schedules cont to run once the promise is fulfilled: immediately,
// onto q, if already fulfilled; otherwise appended to the waiter chain for
// Fulfill to drain later.
func (p *Promise) Await(q *Queue, cont func(value) error) {
	if p.fulfilled {
		val := p.val
		q.Schedule(continuation(func() error { return cont(val) }))
		return
	}
	p.waiters = append(p.waiters, continuation(func() error { return cont(p.val) }))
}

// Fulfill stores val and, if there were waiters, pushes every one of them
// onto q in enqueue order; LIFO pop then runs them in reverse, the most
// recently registered waiter first.
//
// Fulfilling an already-fulfilled promise is a programmer invariant
// violation: it can only happen if the compiler emitted two writers to the
// same SSA definition, so it panics rather than returning an error (see
// spec §7, category 1).
func (p *Promise) Fulfill(q *Queue, val value) {
	if p.fulfilled {
		panic(fmt.Sprintf("promise: double fulfillment with %v", val))
	}
	p.fulfilled = true
	p.val = val
	for _, w := range p.waiters {
		q.Schedule(w)
	}
	p.waiters = nil
}

// InstantFulfill sets val without checking for or running waiters. It is
// only valid while the enclosing record/scope is still under construction
// and therefore provably has no waiters yet — e.g. the evaluator populating
// a freshly materialized Scope's argument slots.
func (p *Promise) InstantFulfill(val value) {
	p.fulfilled = true
	p.val = val
}

// Pads/Descend/ShallowHash satisfy heap.Object so a Promise can itself be
// GC-scanned as part of its owning Record/Scope. A promise counts as one
// pad; it holds its value as a Go value rather than through a heap.Ref, so
// Descend exposes nothing to the Cheney scan.
func (p *Promise) Pads() int { return 1 }
func (p *Promise) Descend() []*heap.Ref {
	return nil // promises hold Go-level values directly; see DESIGN.md
}
func (p *Promise) ShallowHash() [32]byte {
	if !p.fulfilled {
		return [32]byte{} // distinguishing unfulfilled promises by identity, not content
	}
	return p.val.ShallowHash()
}
