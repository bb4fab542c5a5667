// Package value implements wakerun's tagged value model: the immutable,
// heap-resident values the evaluator produces and consumes. Every value
// exposes the heap.Object capabilities (Pads, Descend, ShallowHash) plus a
// structural "Explore" operator used uniformly by GC, hashing, and printing,
// mirroring how the teacher dispatches over a closed set of shapes by type
// switch rather than a virtual table (see kanso/internal/ir.Instruction).
package value

import (
	"math"
	"math/big"
	"regexp"

	"wakerun/internal/heap"
)

// Value is implemented by every runtime value kind: Str, Int, Double, Regex,
// Closure, Record, Scope, and JobValue (which wraps internal/job's *Record;
// that type lives in package job to avoid an import cycle).
type Value interface {
	heap.Object
	// Explore invokes fn for each value this one structurally contains,
	// breadth-first from the caller's perspective (callers compose a queue).
	// Leaf values call fn zero times.
	Explore(fn func(Value))
	isValue()
}

// Str is an immutable byte string, compared lexicographically as unsigned
// bytes (Go's native string ordering already does this).
type Str struct {
	S string
}

func (*Str) isValue()                {}
func (s *Str) Pads() int             { return 1 }
func (s *Str) Descend() []*heap.Ref  { return nil }
func (s *Str) Explore(func(Value))   {}
func (s *Str) ShallowHash() [32]byte { return digest(tagStr, []byte(s.S)) }

// Int is an arbitrary-precision integer backed by math/big — the standard
// library already supplies a well-tested bignum; see DESIGN.md for why no
// third-party bigint package from the pack was wired in its place.
type Int struct {
	V *big.Int
}

func (*Int) isValue()                {}
func (i *Int) Pads() int             { return 1 + (len(i.V.Bits())+1)/2 }
func (i *Int) Descend() []*heap.Ref  { return nil }
func (i *Int) Explore(func(Value))   {}
func (i *Int) ShallowHash() [32]byte { return digest(tagInt, i.V.Bytes()) }

// Double is an IEEE-754 64-bit float.
type Double struct {
	V float64
}

func (*Double) isValue()               {}
func (d *Double) Pads() int            { return 1 }
func (d *Double) Descend() []*heap.Ref { return nil }
func (d *Double) Explore(func(Value))  {}
func (d *Double) ShallowHash() [32]byte {
	bits := make([]byte, 8)
	u := math.Float64bits(d.V)
	for i := 0; i < 8; i++ {
		bits[i] = byte(u >> (8 * i))
	}
	return digest(tagDouble, bits)
}

// Regex wraps a compiled matcher and implements heap.Destroyable (Destroy
// drops the matcher); "dot matches newline" is modeled by always compiling with
// the (?s) flag prefixed, matching the spec's required matcher semantics.
type Regex struct {
	Source  string
	Matcher *regexp.Regexp
}

func NewRegex(source string) (*Regex, error) {
	re, err := regexp.Compile("(?s)" + source)
	if err != nil {
		return nil, err
	}
	return &Regex{Source: source, Matcher: re}, nil
}

func (*Regex) isValue()                {}
func (r *Regex) Pads() int             { return 1 }
func (r *Regex) Descend() []*heap.Ref  { return nil }
func (r *Regex) Explore(func(Value))   {}
func (r *Regex) ShallowHash() [32]byte { return digest(tagRegex, []byte(r.Source)) }
func (r *Regex) Destroy()              { r.Matcher = nil }

// FunctionRef is the compile-time description a Closure points at: how many
// arguments it expects and an opaque handle the evaluator uses to find the
// function's SSA body. Kept minimal here to avoid an import cycle with
// internal/ssa; the evaluator supplies the concrete type.
type FunctionRef interface {
	ArgCount() int
}

// Closure pairs a function with the arguments applied so far and the scope
// it closed over. It is fully applied when len(Applied) == Fn.ArgCount().
type Closure struct {
	Fn       FunctionRef
	Applied  []Value
	Captured *Scope
}

func (*Closure) isValue() {}
func (c *Closure) Pads() int {
	return 2 + len(c.Applied)
}
func (c *Closure) Descend() []*heap.Ref { return nil }
func (c *Closure) Explore(fn func(Value)) {
	for _, a := range c.Applied {
		fn(a)
	}
	if c.Captured != nil {
		fn(c.Captured)
	}
}
func (c *Closure) ShallowHash() [32]byte {
	return digest(tagClosure, []byte{byte(len(c.Applied))})
}

// Saturated reports whether the closure has received all of its arguments.
func (c *Closure) Saturated() bool { return len(c.Applied) >= c.Fn.ArgCount() }

// Apply returns a new closure with arg appended, never mutating c — closures
// are immutable like every other value.
func (c *Closure) Apply(arg Value) *Closure {
	applied := make([]Value, len(c.Applied)+1)
	copy(applied, c.Applied)
	applied[len(c.Applied)] = arg
	return &Closure{Fn: c.Fn, Applied: applied, Captured: c.Captured}
}

// Record is (constructor, arity) plus arity promise slots, fulfilled and
// awaited slot by slot. Slot is the narrow view of a promise that Record
// needs to enumerate and hash its fields; it is an interface here rather
// than internal/promise's *Promise to avoid an import cycle — the
// evaluator wires the concrete type.
type Slot interface {
	heap.Object
	Fulfilled() (Value, bool)
}

type Record struct {
	Constructor string
	CaseIndex   int // ordinal of Constructor within its type's case list
	Fields      []Slot
}

func (*Record) isValue()               {}
func (r *Record) Pads() int            { return 1 + len(r.Fields) }
func (r *Record) Descend() []*heap.Ref { return nil }
func (r *Record) Explore(fn func(Value)) {
	for _, s := range r.Fields {
		if v, ok := s.Fulfilled(); ok {
			fn(v)
		}
	}
}
func (r *Record) ShallowHash() [32]byte {
	return digest(tagRecord, []byte(r.Constructor))
}

// Scope is a Record-shaped runtime environment plus a parent link, forming
// the spaghetti stack that (depth, offset) references walk.
type Scope struct {
	Slots  []Slot
	Parent *Scope
}

func (*Scope) isValue()               {}
func (s *Scope) Pads() int            { return 1 + len(s.Slots) }
func (s *Scope) Descend() []*heap.Ref { return nil }
func (s *Scope) Explore(fn func(Value)) {
	for _, slot := range s.Slots {
		if v, ok := slot.Fulfilled(); ok {
			fn(v)
		}
	}
}
func (s *Scope) ShallowHash() [32]byte {
	return digest(tagScope, []byte{byte(len(s.Slots))})
}

// At walks depth parent links, returning nil if the chain runs out first.
func (s *Scope) At(depth int) *Scope {
	cur := s
	for i := 0; i < depth && cur != nil; i++ {
		cur = cur.Parent
	}
	return cur
}

// Seal supplies the unexported isValue marker to a type that embeds it
// rather than declaring the method itself; JobValue is the one embedder.
type Seal struct{}

func (Seal) isValue() {}

// JobRef is the narrow view internal/job.Record exposes so this package's
// Value interface can be satisfied without internal/value importing
// internal/job (which in turn imports this package for Slot/Value).
type JobRef interface {
	heap.Object
	Explore(fn func(Value))
}

// JobValue adapts a JobRef into a Value. internal/job constructs one of
// these around its *Record so a launched job can flow through Closures,
// Records, and Scopes exactly like any other value.
type JobValue struct {
	Seal
	Job JobRef
}

func (j *JobValue) Pads() int              { return j.Job.Pads() }
func (j *JobValue) Descend() []*heap.Ref   { return j.Job.Descend() }
func (j *JobValue) ShallowHash() [32]byte  { return j.Job.ShallowHash() }
func (j *JobValue) Explore(fn func(Value)) { j.Job.Explore(fn) }
