package eval

import (
	"math/big"
	"testing"

	"wakerun/internal/heap"
	"wakerun/internal/ssa"
	"wakerun/internal/value"
)

func defaultEvaluator() *Evaluator {
	e := New(heap.New(64))
	RegisterDefaultPrims(e)
	return e
}

func TestIntArithmetic(t *testing.T) {
	e := defaultEvaluator()
	args := []value.Value{
		&value.Int{V: big.NewInt(40)},
		&value.Int{V: big.NewInt(2)},
	}
	v, err := e.Registry.Call("int_add", args)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.(*value.Int).V.Int64(); got != 42 {
		t.Fatalf("40 + 2 = %d", got)
	}

	v, err = e.Registry.Call("int_div", args)
	if err != nil {
		t.Fatal(err)
	}
	pass := v.(*value.Record)
	if pass.Constructor != "Pass" {
		t.Fatalf("40 / 2 should Pass, got %s", FormatValue(pass))
	}
	q, _ := pass.Fields[0].Fulfilled()
	if got := q.(*value.Int).V.Int64(); got != 20 {
		t.Fatalf("40 / 2 = %d", got)
	}
}

func TestIntDivByZeroFails(t *testing.T) {
	e := defaultEvaluator()
	v, err := e.Registry.Call("int_div", []value.Value{
		&value.Int{V: big.NewInt(1)},
		&value.Int{V: big.NewInt(0)},
	})
	if err != nil {
		t.Fatalf("division by zero must be a value, not a Go error: %v", err)
	}
	rec := v.(*value.Record)
	if rec.Constructor != "Fail" || rec.CaseIndex != caseFail {
		t.Fatalf("expected Fail, got %s", FormatValue(rec))
	}
}

func TestStrCatAndCmp(t *testing.T) {
	e := defaultEvaluator()
	v, err := e.Registry.Call("str_cat", []value.Value{
		&value.Str{S: "wa"}, &value.Str{S: "ke"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := v.(*value.Str).S; got != "wake" {
		t.Fatalf("str_cat = %q", got)
	}

	v, err = e.Registry.Call("str_cmp", []value.Value{
		&value.Str{S: "a"}, &value.Str{S: "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec := v.(*value.Record); rec.Constructor != "LT" {
		t.Fatalf("\"a\" cmp \"b\" = %s", rec.Constructor)
	}
}

func TestRegexMatchCrossesNewlines(t *testing.T) {
	e := defaultEvaluator()
	v, err := e.Registry.Call("re_compile", []value.Value{&value.Str{S: "a.b"}})
	if err != nil {
		t.Fatal(err)
	}
	pass := v.(*value.Record)
	if pass.Constructor != "Pass" {
		t.Fatalf("compile failed: %s", FormatValue(pass))
	}
	re, _ := pass.Fields[0].Fulfilled()

	// Dot matches newline, per the matcher's required semantics.
	v, err = e.Registry.Call("re_match", []value.Value{re, &value.Str{S: "a\nb"}})
	if err != nil {
		t.Fatal(err)
	}
	if rec := v.(*value.Record); rec.Constructor != "True" {
		t.Fatal("expected the dot to match a newline")
	}
}

func TestPanicTerminatesEvaluation(t *testing.T) {
	e := defaultEvaluator()
	_, err := e.Registry.Call("panic", []value.Value{&value.Str{S: "boom"}})
	if err == nil {
		t.Fatal("expected panic to surface as an evaluation error")
	}
}

func TestFormatValue(t *testing.T) {
	rec := mkRecord("Pair", 0, &value.Str{S: "x"}, &value.Int{V: big.NewInt(3)})
	if got := FormatValue(rec); got != `Pair("x", 3)` {
		t.Fatalf("FormatValue = %s", got)
	}
}

// TestTailCallReusesFrame runs a self-recursive loop deep enough that
// chained Go recursion would overflow the stack. The loop's terminal Des
// dispatches to a handler that tail-calls the loop again; with both
// terminal terms flagged tail-call-ok (as the scope pass would flag them),
// applySaturated must rebind in place rather than recurse.
func TestTailCallReusesFrame(t *testing.T) {
	e := defaultEvaluator()

	remaining := 200000
	e.Registry.Register("tick", func(args []value.Value) (value.Value, error) {
		remaining--
		return mkBool(remaining > 0), nil
	})

	zeroRoot := e.InternLiteral(&value.Int{V: big.NewInt(0)})

	// main = [loop, App(loop)]; loop() = Des(go -> loop(), stop -> 0, tick()).
	// The recursive reference inside the go-handler reaches loop's slot in
	// main's frame through two captured scopes.
	tick := ssa.NewPrim("tick", "tick", true)

	goBody := ssa.NewApp("again", ssa.Ref{Depth: 2, Offset: 0})
	goBody.Flags |= ssa.FlagTailCallOk
	goFn := ssa.NewFun("go", []*ssa.Term{goBody}, 0)

	stopFn := ssa.NewFun("stop", []*ssa.Term{ssa.NewLit("zero", zeroRoot)}, 0)

	des := ssa.NewDes("spin", []ssa.Ref{{Offset: 1}, {Offset: 2}}, ssa.Ref{Offset: 0})
	des.Flags |= ssa.FlagTailCallOk
	loop := ssa.NewFun("loop", []*ssa.Term{tick, goFn, stopFn, des}, 3)

	call := ssa.NewApp("start", ssa.Ref{Offset: 0})
	main := ssa.NewFun("main", []*ssa.Term{loop, call}, 1)

	v, err := e.Run(main)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.(*value.Int).V.Int64(); got != 0 {
		t.Fatalf("expected the loop to bottom out at 0, got %d", got)
	}
	if remaining > 0 {
		t.Fatalf("expected the loop to consume the whole counter, %d left", remaining)
	}
}

type fakeCache struct {
	reads int
	adds  []CacheAdd
	hit   *CacheHit
}

func (f *fakeCache) ReadJob(cwd, cmdline, env, stdin string, visible map[string][32]byte) (*CacheHit, bool, error) {
	f.reads++
	if f.hit != nil {
		return f.hit, true, nil
	}
	return nil, false, nil
}

func (f *fakeCache) AddJob(add CacheAdd) error {
	f.adds = append(f.adds, add)
	return nil
}

func TestCachePrims(t *testing.T) {
	e := defaultEvaluator()
	fc := &fakeCache{hit: &CacheHit{Stdout: "cached out", Status: 0}}
	e.RegisterCachePrims(fc)

	pair := mkRecord("Pair", 0,
		&value.Str{S: "a.c"},
		&value.Str{S: "0101010101010101010101010101010101010101010101010101010101010101"},
	)
	visible := mkRecord("Cons", 0, pair, mkRecord("Nil", 1))

	v, err := e.Registry.Call("job_cache_read", []value.Value{
		&value.Str{S: "/work"},
		&value.Str{S: "cc -c a.c"},
		&value.Str{S: "PATH=/bin"},
		&value.Str{S: ""},
		visible,
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := v.(*value.Record)
	if rec.Constructor != "Pass" {
		t.Fatalf("expected a hit, got %s", FormatValue(rec))
	}
	hitV, _ := rec.Fields[0].Fulfilled()
	hit := hitV.(*value.Record)
	stdout, _ := hit.Fields[0].Fulfilled()
	if stdout.(*value.Str).S != "cached out" {
		t.Fatalf("expected the cached stdout, got %s", FormatValue(stdout))
	}

	_, err = e.Registry.Call("job_cache_add", []value.Value{
		&value.Str{S: "/work"},
		&value.Str{S: "cc -c a.c"},
		&value.Str{S: "PATH=/bin"},
		&value.Str{S: ""},
		visible,
		&value.Str{S: "out"},
		&value.Str{S: ""},
		&value.Int{V: big.NewInt(0)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.adds) != 1 || fc.adds[0].Cmdline != "cc -c a.c" {
		t.Fatalf("expected one recorded add, got %+v", fc.adds)
	}
	if _, ok := fc.adds[0].Inputs["a.c"]; !ok {
		t.Fatal("expected the visible input recorded in the add")
	}
}
