package optimize

import (
	"math/big"
	"testing"

	"wakerun/internal/eval"
	"wakerun/internal/heap"
	"wakerun/internal/ssa"
	"wakerun/internal/value"
)

func fakeLitHash(root int) [32]byte {
	var h [32]byte
	h[0] = byte(root)
	return h
}

// TestPurityUsageSweepRemovesDeadPureTerm builds Arg x; inc(x) [dead,
// pure]; print(x) [effectful, kept for its side effect but whose result is
// otherwise unused]; output x. After purity+usage+sweep, inc must be gone
// and print must survive even though nothing reads its result.
func TestPurityUsageSweepRemovesDeadPureTerm(t *testing.T) {
	x := ssa.NewArg("x", 0)
	inc := ssa.NewPrim("inc", "int_inc", false, ssa.Ref{Offset: 0})
	print := ssa.NewPrim("print", "io_print", true, ssa.Ref{Offset: 0})
	fn := ssa.NewFun("f", []*ssa.Term{x, inc, print}, 0)

	purity := &PurityPass{}
	usage := &UsagePass{}
	sweep := &SweepPass{}

	purity.Apply(fn)
	usage.Apply(fn)
	if changed := sweep.Apply(fn); !changed {
		t.Fatal("expected sweep to remove the dead inc term")
	}

	if len(fn.Body) != 2 {
		t.Fatalf("expected 2 surviving terms, got %d", len(fn.Body))
	}
	for _, surv := range fn.Body {
		if surv.Label == "inc" {
			t.Fatal("pure, unused term should have been swept")
		}
	}
	if fn.Body[0].Label != "x" {
		t.Fatalf("expected x to survive first, got %s", fn.Body[0].Label)
	}
	if fn.Body[1].Label != "print" {
		t.Fatalf("expected print to survive, got %s", fn.Body[1].Label)
	}
	if fn.Output != 0 {
		t.Fatalf("expected rewritten output to still point at x (0), got %d", fn.Output)
	}
}

// TestInlineSubstitutesSingletonClosure builds an outer function that
// defines a one-argument helper `double` and calls it exactly once; since
// it has exactly one call site, InlinePass must move (not clone) its body
// into the call site and drop the standalone declaration.
func TestInlineSubstitutesSingletonClosure(t *testing.T) {
	innerArg := ssa.NewArg("m", 0)
	mul := ssa.NewPrim("mul", "int_mul", false, ssa.Ref{Offset: 0}, ssa.Ref{Offset: 0})
	double := ssa.NewFun("double", []*ssa.Term{innerArg, mul}, 1)

	outerArg := ssa.NewArg("a", 0)
	call := ssa.NewApp("call_double", ssa.Ref{Offset: 1}, ssa.Ref{Offset: 0})
	fn := ssa.NewFun("f", []*ssa.Term{outerArg, double, call}, 2)

	pass := &InlinePass{Threshold: 20, litHash: fakeLitHash}
	if changed := pass.Apply(fn); !changed {
		t.Fatal("expected inline pass to fire on a fully-applied singleton")
	}

	if len(fn.Body) != 2 {
		t.Fatalf("expected double's body moved into 2 terms total, got %d", len(fn.Body))
	}
	for _, surv := range fn.Body {
		if surv.Kind == ssa.Fun {
			t.Fatal("singleton helper declaration should not survive inlining")
		}
	}
	if fn.Output != 1 {
		t.Fatalf("expected output to point at the inlined mul, got %d", fn.Output)
	}
	result := fn.Body[fn.Output]
	if result.Kind != ssa.Prim || result.PrimName != "int_mul" {
		t.Fatalf("expected output term to be the inlined mul, got %+v", result)
	}
	for _, arg := range result.Args {
		if arg != (ssa.Ref{Depth: 0, Offset: 0}) {
			t.Fatalf("expected inlined mul's operands to reference outer arg a, got %v", arg)
		}
	}
}

// TestScopePassRecordsEscapesOneLevelShallow builds an outer function with
// a nested closure that reads the outer's only argument. After the scope
// pass, the inner function's Escapes must name that argument relative to
// its own immediate parent, and the outer function (having nothing further
// to close over) must have no escapes at all.
func TestScopePassRecordsEscapesOneLevelShallow(t *testing.T) {
	innerArg := ssa.NewArg("m", 0)
	add := ssa.NewPrim("add", "int_add", false, ssa.Ref{Offset: 0}, ssa.Ref{Depth: 1, Offset: 0})
	inner := ssa.NewFun("inner", []*ssa.Term{innerArg, add}, 1)

	outerArg := ssa.NewArg("n", 0)
	outer := ssa.NewFun("outer", []*ssa.Term{outerArg, inner}, 1)

	pass := &ScopePass{litHash: fakeLitHash}
	pass.Apply(outer)

	if len(inner.Escapes) != 1 || inner.Escapes[0] != (ssa.Ref{Depth: 0, Offset: 0}) {
		t.Fatalf("expected inner to escape outer's arg at (0,0), got %v", inner.Escapes)
	}
	if len(outer.Escapes) != 0 {
		t.Fatalf("expected outer (outermost function) to have no escapes, got %v", outer.Escapes)
	}
	var zero [32]byte
	if inner.Hash == zero || outer.Hash == zero {
		t.Fatal("expected both functions to receive a nonzero content hash")
	}
}

// TestCSEPassDeduplicatesRedundantPrim checks that two structurally
// identical, pure Prim calls collapse into one, with the second becoming an
// alias of the first.
func TestCSEPassDeduplicatesRedundantPrim(t *testing.T) {
	x := ssa.NewArg("x", 0)
	first := ssa.NewPrim("h1", "hash", false, ssa.Ref{Offset: 0})
	second := ssa.NewPrim("h2", "hash", false, ssa.Ref{Offset: 0})
	fn := ssa.NewFun("f", []*ssa.Term{x, first, second}, 2)

	pass := &CSEPass{litHash: fakeLitHash}
	if changed := pass.Apply(fn); !changed {
		t.Fatal("expected CSE to collapse the redundant hash call")
	}
	if len(fn.Body) != 2 {
		t.Fatalf("expected 2 surviving terms after CSE, got %d", len(fn.Body))
	}
	if fn.Output != 1 {
		t.Fatalf("expected output aliased to the first hash call (1), got %d", fn.Output)
	}
}

// TestIgnoredParameterSurvivesPipeline guards the arity invariant: a
// function that never reads its parameter (\x. k) must keep its leading
// Arg term through usage+sweep — deleting it would change ArgCount, so
// every call site would saturate one argument early and then try to apply
// a value to a non-function.
func TestIgnoredParameterSurvivesPipeline(t *testing.T) {
	e := eval.New(heap.New(256))
	five := e.InternLiteral(&value.Int{V: big.NewInt(5)})
	seven := e.InternLiteral(&value.Int{V: big.NewInt(7)})

	f := ssa.NewFun("const5", []*ssa.Term{
		ssa.NewArg("x", 0),
		ssa.NewLit("five", five),
	}, 1)
	main := ssa.NewFun("main", []*ssa.Term{
		f,
		ssa.NewLit("seven", seven),
		ssa.NewApp("call", ssa.Ref{Offset: 0}, ssa.Ref{Offset: 1}),
	}, 2)

	NewDefaultPipeline(e.LitHash).Run(main)

	v, err := e.Run(main)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.(*value.Int).V.Int64(); got != 5 {
		t.Fatalf("expected (\\x. 5) 7 == 5 after optimization, got %d", got)
	}
}

// TestIgnoredParameterKeepsArityWhenNotInlined pins the surviving
// declaration's shape: a recursive-flagged \x. k is never inlined, so its
// Arg term must still be present — and its call still evaluate — after the
// full pipeline.
func TestIgnoredParameterKeepsArityWhenNotInlined(t *testing.T) {
	e := eval.New(heap.New(256))
	five := e.InternLiteral(&value.Int{V: big.NewInt(5)})
	seven := e.InternLiteral(&value.Int{V: big.NewInt(7)})

	f := ssa.NewFun("const5", []*ssa.Term{
		ssa.NewArg("x", 0),
		ssa.NewLit("five", five),
	}, 1)
	f.Flags |= ssa.FlagRecursive
	main := ssa.NewFun("main", []*ssa.Term{
		f,
		ssa.NewLit("seven", seven),
		ssa.NewApp("call", ssa.Ref{Offset: 0}, ssa.Ref{Offset: 1}),
	}, 2)

	NewDefaultPipeline(e.LitHash).Run(main)

	var survivor *ssa.Term
	for _, term := range main.Body {
		if term.Kind == ssa.Fun {
			survivor = term
		}
	}
	if survivor == nil {
		t.Fatal("expected the recursive function declaration to survive")
	}
	if got := argCount(survivor); got != 1 {
		t.Fatalf("expected arity 1 after optimization, got %d", got)
	}

	v, err := e.Run(main)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.(*value.Int).V.Int64(); got != 5 {
		t.Fatalf("expected (\\x. 5) 7 == 5 after optimization, got %d", got)
	}
}

// TestDefaultPipelineIsIdempotentOnCleanInput runs the canonical pipeline
// twice over an already-optimal function and checks the second pass
// produces no further changes, i.e. the pipeline reaches a fixed point
// rather than oscillating.
func TestDefaultPipelineIsIdempotentOnCleanInput(t *testing.T) {
	x := ssa.NewArg("x", 0)
	fn := ssa.NewFun("f", []*ssa.Term{x}, 0)

	p1 := NewDefaultPipeline(fakeLitHash)
	p1.Run(fn)
	bodyLenAfterFirst := len(fn.Body)

	p2 := NewDefaultPipeline(fakeLitHash)
	changed := p2.Run(fn)
	if changed {
		t.Fatalf("expected second pipeline run over stable input to be a no-op, body len %d -> %d", bodyLenAfterFirst, len(fn.Body))
	}
}
