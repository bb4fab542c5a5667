// Package eval implements the single-threaded evaluator: it interprets a
// scoped ssa.Term tree, building closures, materializing scopes, and
// draining the promise.Queue work stack until the program's result promise
// is fulfilled. It is the one package that imports heap, value, promise,
// and ssa together — every one of those packages was deliberately written
// with narrow interfaces (value.FunctionRef, value.Slot) precisely so this
// package could wire the concrete types without an import cycle.
package eval

import (
	"errors"
	"fmt"

	"wakerun/internal/heap"
	"wakerun/internal/promise"
	"wakerun/internal/ssa"
	"wakerun/internal/value"
)

// funRef adapts an *ssa.Term of Kind Fun to value.FunctionRef.
type funRef struct {
	fn *ssa.Term
}

func (f funRef) ArgCount() int {
	n := 0
	for _, t := range f.fn.Body {
		if t.Kind == ssa.Arg {
			n++
		} else {
			break
		}
	}
	return n
}

// slot adapts *promise.Promise to value.Slot, the contract Record and Scope
// fields are declared against.
type slot struct {
	p *promise.Promise
}

func newSlot() slot { return slot{p: promise.New()} }

func (s slot) Pads() int             { return s.p.Pads() }
func (s slot) Descend() []*heap.Ref  { return s.p.Descend() }
func (s slot) ShallowHash() [32]byte { return s.p.ShallowHash() }
func (s slot) Fulfilled() (value.Value, bool) {
	v, ok := s.p.Fulfilled()
	if !ok {
		return nil, false
	}
	return v.(value.Value), true
}

// Evaluator owns the heap, the work queue, the primitive registry, and the
// interned-literal table a running program needs.
type Evaluator struct {
	Heap     *heap.Heap
	Queue    *promise.Queue
	Registry *Registry
	literal  map[int]value.Value // root offset -> interned value, populated as Lit terms are encountered
}

func New(h *heap.Heap) *Evaluator {
	return &Evaluator{
		Heap:     h,
		Queue:    &promise.Queue{},
		Registry: NewRegistry(),
		literal:  map[int]value.Value{},
	}
}

// LitHash exposes the interned-literal table to internal/optimize's content
// hashing and constant pool, matching the ssa.ContentHash litHash contract.
func (e *Evaluator) LitHash(root int) [32]byte {
	v, ok := e.literal[root]
	if !ok {
		return [32]byte{}
	}
	return v.ShallowHash()
}

// InternLiteral registers v under a fresh root offset for later Lit terms to
// reference, returning that offset.
func (e *Evaluator) InternLiteral(v value.Value) int {
	off := len(e.literal)
	e.literal[off] = v
	return off
}

// Eval interprets fn's body against parent (the lexical environment fn was
// defined in, nil for a top-level program) and schedules result's
// fulfillment with the value its `output` term produces. Errors returned
// here are evaluator-fatal (e.g. a *heap.NeedsGC escaping past where the
// caller could handle it); primitive failures are expected to be modeled
// as ordinary values, not Go errors.
func (e *Evaluator) Eval(fn *ssa.Term, parent *value.Scope, result *promise.Promise) error {
	frame, root, err := e.newFrame(fn, parent, nil)
	if err != nil {
		return err
	}
	defer e.Heap.DropRoot(root)
	out, tail, err := e.evalBody(fn, frame)
	if err != nil {
		return err
	}
	if tail != nil {
		out, err = e.applySaturated(tail)
		if err != nil {
			return err
		}
	}
	e.Queue.Schedule(fulfillWork{q: e.Queue, p: result, v: out})
	return nil
}

// allocValue accounts v in the heap: reserve, collecting on the NeedsGC
// back-edge and retrying once, then claim and install. The reservation
// completes before any reference to the fresh cell exists, which is what
// makes taking the back-edge here safe.
func (e *Evaluator) allocValue(v value.Value) (heap.Address, error) {
	n := v.Pads()
	if err := e.Heap.Reserve(n); err != nil {
		var need *heap.NeedsGC
		if !errors.As(err, &need) {
			return heap.Address{}, err
		}
		e.Heap.GC(need.Requested)
		if err := e.Heap.Reserve(n); err != nil {
			return heap.Address{}, fmt.Errorf("eval: out of memory after collection: %w", err)
		}
	}
	return e.Heap.Put(e.Heap.Claim(n), v), nil
}

// newFrame materializes the runtime Scope for one activation of fn: one
// slot per body term (the target scope made concrete, which is what lets a
// nested closure capture any term of an enclosing function by
// (depth, offset)), with the leading argument slots instant-fulfilled from
// args — valid because a freshly built frame cannot have waiters yet. The
// frame is rooted for the duration of its activation; the caller drops the
// returned handle when the activation ends.
func (e *Evaluator) newFrame(fn *ssa.Term, parent *value.Scope, args []value.Value) (*value.Scope, *heap.RootHandle, error) {
	slots := make([]value.Slot, len(fn.Body))
	for i := range slots {
		slots[i] = newSlot()
	}
	for i, a := range args {
		slots[i].(slot).p.InstantFulfill(a)
	}
	frame := &value.Scope{Slots: slots, Parent: parent}
	addr, err := e.allocValue(frame)
	if err != nil {
		return nil, nil, err
	}
	return frame, e.Heap.Root(addr), nil
}

// evalBody interprets every term of fn's body in order, filling frame's
// slots as values settle. If the output term is an App or Des the scope
// pass marked tail-call-ok and it resolves to a saturated closure, the
// closure is returned unapplied so the caller can reuse its own frame
// (applySaturated's loop) instead of chaining another recursive
// application.
func (e *Evaluator) evalBody(fn *ssa.Term, frame *value.Scope) (value.Value, *value.Closure, error) {
	values := make([]value.Value, len(fn.Body))

	resolve := func(r ssa.Ref) (value.Value, error) {
		if r.Depth == 0 {
			if r.Offset < 0 || r.Offset >= len(values) || values[r.Offset] == nil {
				return nil, fmt.Errorf("eval: term %d used before definition", r.Offset)
			}
			return values[r.Offset], nil
		}
		s := frame.At(r.Depth)
		if s == nil || r.Offset >= len(s.Slots) {
			return nil, fmt.Errorf("eval: captured reference (%d,%d) out of scope", r.Depth, r.Offset)
		}
		fulfilled, ok := s.Slots[r.Offset].Fulfilled()
		if !ok {
			return nil, fmt.Errorf("eval: captured slot (%d,%d) not yet fulfilled", r.Depth, r.Offset)
		}
		return fulfilled, nil
	}

	for i, t := range fn.Body {
		if i == fn.Output && t.Flags.Has(ssa.FlagTailCallOk) && (t.Kind == ssa.App || t.Kind == ssa.Des) {
			var closure *value.Closure
			var err error
			if t.Kind == ssa.App {
				closure, err = e.buildApp(t, resolve)
			} else {
				closure, err = e.buildDes(t, resolve)
			}
			if err != nil {
				return nil, nil, err
			}
			if closure.Saturated() {
				return nil, closure, nil
			}
			return closure, nil, nil // a partial application is itself the result
		}
		v, err := e.evalTerm(t, frame, resolve)
		if err != nil {
			return nil, nil, err
		}
		values[i] = v
		if sl, ok := frame.Slots[i].(slot); ok {
			if _, done := sl.p.Fulfilled(); !done {
				sl.p.InstantFulfill(v)
			}
		}
	}

	return values[fn.Output], nil, nil
}

// buildDes resolves a Des term's handler for the scrutinee's case and
// applies the scrutinee's fields to it, without invoking the resulting
// closure even when saturated.
func (e *Evaluator) buildDes(t *ssa.Term, resolve func(ssa.Ref) (value.Value, error)) (*value.Closure, error) {
	scrutinee, err := resolve(t.Scrutinee())
	if err != nil {
		return nil, err
	}
	rec, ok := scrutinee.(*value.Record)
	if !ok {
		return nil, fmt.Errorf("eval: Des scrutinee is not a record")
	}
	handlers := t.Handlers()
	if rec.CaseIndex < 0 || rec.CaseIndex >= len(handlers) {
		return nil, fmt.Errorf("eval: Des has %d handlers but scrutinee %q is case %d", len(handlers), rec.Constructor, rec.CaseIndex)
	}
	handlerVal, err := resolve(handlers[rec.CaseIndex])
	if err != nil {
		return nil, err
	}
	closure, ok := handlerVal.(*value.Closure)
	if !ok {
		return nil, fmt.Errorf("eval: Des handler is not a closure")
	}
	for _, field := range rec.Fields {
		fv, ok := field.Fulfilled()
		if !ok {
			return nil, fmt.Errorf("eval: Des scrutinee field not yet fulfilled")
		}
		closure = closure.Apply(fv)
	}
	return closure, nil
}

// buildApp resolves an App term's function and arguments into a closure
// without invoking it even when saturated.
func (e *Evaluator) buildApp(t *ssa.Term, resolve func(ssa.Ref) (value.Value, error)) (*value.Closure, error) {
	fnVal, err := resolve(t.Args[0])
	if err != nil {
		return nil, err
	}
	closure, ok := fnVal.(*value.Closure)
	if !ok {
		return nil, fmt.Errorf("eval: App target is not a closure")
	}
	for _, argRef := range t.Args[1:] {
		argVal, err := resolve(argRef)
		if err != nil {
			return nil, err
		}
		closure = closure.Apply(argVal)
	}
	return closure, nil
}

// evalTerm interprets a single term, given the already-computed values of
// its predecessors in the same body (via resolve) and the enclosing scope
// for captured references.
func (e *Evaluator) evalTerm(t *ssa.Term, scope *value.Scope, resolve func(ssa.Ref) (value.Value, error)) (value.Value, error) {
	switch t.Kind {
	case ssa.Arg:
		fulfilled, ok := scope.Slots[t.ArgIndex].Fulfilled()
		if !ok {
			return nil, fmt.Errorf("eval: arg slot %d not yet fulfilled", t.ArgIndex)
		}
		return fulfilled, nil

	case ssa.Lit:
		v, ok := e.literal[t.LitRoot]
		if !ok {
			return nil, fmt.Errorf("eval: unknown literal root %d", t.LitRoot)
		}
		return v, nil

	case ssa.Fun:
		closure := &value.Closure{Fn: funRef{fn: t}, Captured: scope}
		if _, err := e.allocValue(closure); err != nil {
			return nil, err
		}
		return closure, nil

	case ssa.App:
		closure, err := e.buildApp(t, resolve)
		if err != nil {
			return nil, err
		}
		if !closure.Saturated() {
			return closure, nil
		}
		return e.applySaturated(closure)

	case ssa.Prim:
		args := make([]value.Value, len(t.Args))
		for i, r := range t.Args {
			v, err := resolve(r)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return e.Registry.Call(t.PrimName, args)

	case ssa.Get:
		target, err := resolve(t.Args[0])
		if err != nil {
			return nil, err
		}
		rec, ok := target.(*value.Record)
		if !ok {
			return nil, fmt.Errorf("eval: Get target is not a record")
		}
		fulfilled, ok := rec.Fields[t.FieldIndex].Fulfilled()
		if !ok {
			return nil, fmt.Errorf("eval: Get field %d not yet fulfilled", t.FieldIndex)
		}
		return fulfilled, nil

	case ssa.Des:
		closure, err := e.buildDes(t, resolve)
		if err != nil {
			return nil, err
		}
		if !closure.Saturated() {
			return closure, nil
		}
		return e.applySaturated(closure)

	case ssa.Con:
		fields := make([]value.Slot, len(t.Args))
		for i, r := range t.Args {
			v, err := resolve(r)
			if err != nil {
				return nil, err
			}
			s := newSlot()
			s.p.InstantFulfill(v)
			fields[i] = s
		}
		rec := &value.Record{Constructor: t.Constructor, CaseIndex: t.CaseIndex, Fields: fields}
		if _, err := e.allocValue(rec); err != nil {
			return nil, err
		}
		return rec, nil

	default:
		return nil, fmt.Errorf("eval: unknown term kind %v", t.Kind)
	}
}

// applySaturated materializes a new Scope for closure's function, binds its
// arguments and captured parent, and interprets the body, returning its
// output value. When the body ends in a tail-call-ok App of another
// saturated closure, the loop rebinds and continues in the same Go frame
// rather than recursing — the spec's "reuse the caller's continuation"
// expressed as frame reuse, so mutually tail-recursive wake functions run
// in constant Go stack.
//
// Each iteration drains its own private work queue rather than e.Queue: a
// nested application must not drain work items an enclosing call scheduled
// for later, or evaluation order would scramble across nesting levels.
func (e *Evaluator) applySaturated(closure *value.Closure) (value.Value, error) {
	for {
		fnRef, ok := closure.Fn.(funRef)
		if !ok {
			return nil, fmt.Errorf("eval: closure's function is not an ssa.Term")
		}
		fn := fnRef.fn
		frame, root, err := e.newFrame(fn, closure.Captured, closure.Applied)
		if err != nil {
			return nil, err
		}

		savedQueue := e.Queue
		localQueue := &promise.Queue{}
		e.Queue = localQueue
		var out value.Value
		var tail *value.Closure
		out, tail, err = e.evalBody(fn, frame)
		if err == nil {
			for localQueue.Len() > 0 {
				w := localQueue.Pop()
				if werr := w.Execute(); werr != nil {
					err = werr
					break
				}
			}
		}
		e.Queue = savedQueue
		e.Heap.DropRoot(root)
		if err != nil {
			return nil, err
		}

		if tail != nil {
			closure = tail
			continue
		}
		return out, nil
	}
}

// fulfillWork is the Work item that completes a promise once its value is
// known; scheduling it (rather than fulfilling inline) keeps fulfillment on
// the evaluator's own work stack so Fulfill's LIFO waiter ordering applies
// uniformly regardless of who produced the value.
type fulfillWork struct {
	q *promise.Queue
	p *promise.Promise
	v value.Value
}

func (w fulfillWork) Execute() error {
	w.p.Fulfill(w.q, w.v)
	return nil
}
