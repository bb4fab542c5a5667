package promise

import (
	"testing"

	"wakerun/internal/heap"
)

// intVal is a minimal stand-in for internal/value.Int, used so this package
// can test Promise without importing internal/value (which itself imports
// this package for Record/Scope slots).
type intVal struct{ n int }

func (intVal) Pads() int             { return 1 }
func (intVal) Descend() []*heap.Ref  { return nil }
func (v intVal) ShallowHash() [32]byte {
	var h [32]byte
	h[0] = byte(v.n)
	return h
}

// TestFulfillRunsWaitersInReverseEnqueueOrder reproduces a 100-awaiter
// fan-out against a single promise: register 100 Await callbacks in order,
// fulfill once, and drain the queue. Because the queue is LIFO, the order
// continuations actually execute in is the reverse of registration order.
func TestFulfillRunsWaitersInReverseEnqueueOrder(t *testing.T) {
	p := New()
	q := &Queue{}

	const n = 100
	var order []int
	for i := 0; i < n; i++ {
		i := i
		p.Await(q, func(v value) error {
			order = append(order, i)
			return nil
		})
	}

	if q.Len() != 0 {
		t.Fatalf("awaiting an unfulfilled promise must not schedule work yet, got %d", q.Len())
	}

	p.Fulfill(q, intVal{n: 7})

	if q.Len() != n {
		t.Fatalf("expected %d scheduled continuations, got %d", n, q.Len())
	}

	for q.Len() > 0 {
		w := q.Pop()
		if err := w.Execute(); err != nil {
			t.Fatalf("continuation failed: %v", err)
		}
	}

	if len(order) != n {
		t.Fatalf("expected %d continuations to run, got %d", n, len(order))
	}
	for i, got := range order {
		want := n - 1 - i
		if got != want {
			t.Fatalf("continuation %d ran out of order: got waiter %d, want %d", i, got, want)
		}
	}
}

// TestAwaitAfterFulfillRunsImmediately checks that registering a new waiter
// on an already-settled promise schedules it right away rather than hanging
// forever in a dead waiter chain.
func TestAwaitAfterFulfillRunsImmediately(t *testing.T) {
	p := New()
	q := &Queue{}
	p.Fulfill(q, intVal{n: 1})

	ran := false
	p.Await(q, func(v value) error {
		ran = true
		iv, ok := v.(intVal)
		if !ok || iv.n != 1 {
			t.Fatalf("expected fulfilled value intVal{1}, got %v", v)
		}
		return nil
	})

	if q.Len() != 1 {
		t.Fatalf("expected 1 scheduled continuation, got %d", q.Len())
	}
	if err := q.Pop().Execute(); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("continuation never ran")
	}
}

// TestDoubleFulfillPanics asserts that fulfilling a promise twice is treated
// as a programmer invariant violation, not a recoverable error.
func TestDoubleFulfillPanics(t *testing.T) {
	p := New()
	q := &Queue{}
	p.Fulfill(q, intVal{n: 1})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double fulfillment")
		}
	}()
	p.Fulfill(q, intVal{n: 2})
}

// TestInstantFulfillSkipsWaiterBookkeeping exercises the fast path used when
// populating a freshly materialized scope's argument slots.
func TestInstantFulfillSkipsWaiterBookkeeping(t *testing.T) {
	p := New()
	p.InstantFulfill(intVal{n: 9})

	v, ok := p.Fulfilled()
	if !ok {
		t.Fatal("expected promise to report fulfilled")
	}
	if iv, ok := v.(intVal); !ok || iv.n != 9 {
		t.Fatalf("unexpected fulfilled value: %v", v)
	}
}
