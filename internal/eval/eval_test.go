package eval

import (
	"math/big"
	"testing"

	"wakerun/internal/heap"
	"wakerun/internal/ssa"
	"wakerun/internal/value"
)

func newEvaluator() *Evaluator {
	e := New(heap.New(64))
	e.Registry.Register("int_add", func(args []value.Value) (value.Value, error) {
		a := args[0].(*value.Int).V
		b := args[1].(*value.Int).V
		return &value.Int{V: new(big.Int).Add(a, b)}, nil
	})
	e.Registry.Register("int_inc", func(args []value.Value) (value.Value, error) {
		a := args[0].(*value.Int).V
		return &value.Int{V: new(big.Int).Add(a, big.NewInt(1))}, nil
	})
	return e
}

func asInt(t *testing.T, v value.Value) int64 {
	t.Helper()
	i, ok := v.(*value.Int)
	if !ok {
		t.Fatalf("expected *value.Int, got %T", v)
	}
	return i.V.Int64()
}

func TestEvalLiteralIdentity(t *testing.T) {
	e := newEvaluator()
	root := e.InternLiteral(&value.Int{V: big.NewInt(5)})
	program := ssa.NewFun("main", []*ssa.Term{
		ssa.NewLit("five", root),
	}, 0)

	v, err := e.Run(program)
	if err != nil {
		t.Fatal(err)
	}
	if got := asInt(t, v); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestEvalPrimDispatch(t *testing.T) {
	e := newEvaluator()
	r3 := e.InternLiteral(&value.Int{V: big.NewInt(3)})
	r4 := e.InternLiteral(&value.Int{V: big.NewInt(4)})
	program := ssa.NewFun("main", []*ssa.Term{
		ssa.NewLit("three", r3),
		ssa.NewLit("four", r4),
		ssa.NewPrim("sum", "int_add", false, ssa.Ref{Offset: 0}, ssa.Ref{Offset: 1}),
	}, 2)

	v, err := e.Run(program)
	if err != nil {
		t.Fatal(err)
	}
	if got := asInt(t, v); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestEvalConGetRoundtrip(t *testing.T) {
	e := newEvaluator()
	r1 := e.InternLiteral(&value.Int{V: big.NewInt(1)})
	r2 := e.InternLiteral(&value.Int{V: big.NewInt(2)})
	program := ssa.NewFun("main", []*ssa.Term{
		ssa.NewLit("one", r1),
		ssa.NewLit("two", r2),
		ssa.NewCon("pair", "Pair", ssa.Ref{Offset: 0}, ssa.Ref{Offset: 1}),
		ssa.NewGet("second", ssa.Ref{Offset: 2}, 1),
	}, 3)

	v, err := e.Run(program)
	if err != nil {
		t.Fatal(err)
	}
	if got := asInt(t, v); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

// TestEvalClosureApplication defines a one-argument closure (increment) as
// a nested Fun literal, then applies it to a literal argument through App.
func TestEvalClosureApplication(t *testing.T) {
	e := newEvaluator()
	incArg := ssa.NewArg("a", 0)
	incBody := ssa.NewPrim("bumped", "int_inc", false, ssa.Ref{Offset: 0})
	inc := ssa.NewFun("inc", []*ssa.Term{incArg, incBody}, 1)

	r10 := e.InternLiteral(&value.Int{V: big.NewInt(10)})
	program := ssa.NewFun("main", []*ssa.Term{
		inc,
		ssa.NewLit("ten", r10),
		ssa.NewApp("call", ssa.Ref{Offset: 0}, ssa.Ref{Offset: 1}),
	}, 2)

	v, err := e.Run(program)
	if err != nil {
		t.Fatal(err)
	}
	if got := asInt(t, v); got != 11 {
		t.Fatalf("expected 11, got %d", got)
	}
}

// TestEvalPartialApplicationReturnsClosure checks that applying fewer
// arguments than a function's arity yields a still-unsaturated closure
// rather than invoking the body.
func TestEvalPartialApplicationReturnsClosure(t *testing.T) {
	e := newEvaluator()
	addA := ssa.NewArg("a", 0)
	addB := ssa.NewArg("b", 1)
	addBody := ssa.NewPrim("sum", "int_add", false, ssa.Ref{Offset: 0}, ssa.Ref{Offset: 1})
	add := ssa.NewFun("add", []*ssa.Term{addA, addB, addBody}, 2)

	r1 := e.InternLiteral(&value.Int{V: big.NewInt(1)})
	program := ssa.NewFun("main", []*ssa.Term{
		add,
		ssa.NewLit("one", r1),
		ssa.NewApp("partial", ssa.Ref{Offset: 0}, ssa.Ref{Offset: 1}),
	}, 2)

	v, err := e.Run(program)
	if err != nil {
		t.Fatal(err)
	}
	closure, ok := v.(*value.Closure)
	if !ok {
		t.Fatalf("expected a partially-applied closure, got %T", v)
	}
	if closure.Saturated() {
		t.Fatal("expected closure not yet saturated after one of two args")
	}
}
