// Package optimize implements the target-scope optimizer pipeline: a fixed
// sequence of rewrite passes run over a Fun term tree before the evaluator
// ever sees it. Each pass follows the teacher's OptimizationPass/Pipeline
// shape (see kanso/internal/ir.OptimizationPass) generalized from the
// teacher's EVM instruction set to wake's eight SSA term kinds.
package optimize

import "wakerun/internal/ssa"

// Pass is one rewrite stage. Apply mutates fn (a Fun term) and everything it
// recursively contains, and reports whether anything changed.
type Pass interface {
	Name() string
	Apply(fn *ssa.Term) bool
}

// Pipeline runs a fixed sequence of passes once, in order — not to a
// fixed point; the sequence itself is chosen (see NewDefaultPipeline) so
// that later passes clean up what earlier ones left behind.
type Pipeline struct {
	passes []Pass
}

func NewPipeline(passes ...Pass) *Pipeline {
	return &Pipeline{passes: passes}
}

// NewDefaultPipeline builds the canonical sequence: purity, purity(ordered),
// usage, sweep, inline(20), purity, purity(ordered), usage, sweep, cse,
// usage, inline(50), purity, purity(ordered), usage, sweep, cse, and a
// final scope pass.
func NewDefaultPipeline(litHash func(root int) [32]byte) *Pipeline {
	return NewPipeline(
		&PurityPass{Ordered: false},
		&PurityPass{Ordered: true},
		&UsagePass{},
		&SweepPass{},
		&InlinePass{Threshold: 20, litHash: litHash},
		&PurityPass{Ordered: false},
		&PurityPass{Ordered: true},
		&UsagePass{},
		&SweepPass{},
		&CSEPass{litHash: litHash},
		&UsagePass{},
		&InlinePass{Threshold: 50, litHash: litHash},
		&PurityPass{Ordered: false},
		&PurityPass{Ordered: true},
		&UsagePass{},
		&SweepPass{},
		&CSEPass{litHash: litHash},
		&ScopePass{litHash: litHash},
	)
}

// Run applies every pass in sequence to fn, returning whether any pass
// changed anything.
func (p *Pipeline) Run(fn *ssa.Term) bool {
	changed := false
	for _, pass := range p.passes {
		if pass.Apply(fn) {
			changed = true
		}
	}
	return changed
}

// walkFuns calls visit on fn and, recursively, on every Fun term reachable
// through its body (nested function literals). Passes use this to apply
// themselves uniformly at every nesting level.
func walkFuns(fn *ssa.Term, visit func(*ssa.Term) bool) bool {
	changed := visit(fn)
	for _, t := range fn.Body {
		if t.Kind == ssa.Fun {
			if walkFuns(t, visit) {
				changed = true
			}
		}
	}
	return changed
}

// localTarget resolves a same-scope (depth 0) reference to the term it
// points at within body, or nil if the ref escapes this scope (depth > 0)
// or is out of range (not yet produced — a malformed term).
func localTarget(body []*ssa.Term, r ssa.Ref) *ssa.Term {
	if r.Depth != 0 || r.Offset < 0 || r.Offset >= len(body) {
		return nil
	}
	return body[r.Offset]
}

// countCaptured adds, into counts, every reference a nested function makes
// into the scope counts indexes — refs at depth rel seen from fn's body,
// one deeper per nesting level. Rewrite passes need these alongside the
// scope's own depth-0 operands: a term referenced only by a closure it
// encloses is still live.
func countCaptured(fn *ssa.Term, rel int, counts []int) {
	for _, t := range fn.Body {
		for _, r := range t.Args {
			if r.Depth == rel && r.Offset >= 0 && r.Offset < len(counts) {
				counts[r.Offset]++
			}
		}
		if t.Kind == ssa.Fun {
			countCaptured(t, rel+1, counts)
		}
	}
}

// remapCaptured rewrites, in place, every nested function's references into
// the just-renumbered enclosing body through its SourceMap. Rewrite streams
// only renumber the body's own depth-0 operands; without this fixup a
// closure's captured (depth > 0) references would keep pointing at the old
// index space.
func remapCaptured(body []*ssa.Term, m *ssa.SourceMap) {
	var walk func(fn *ssa.Term, rel int)
	walk = func(fn *ssa.Term, rel int) {
		for _, t := range fn.Body {
			for i, r := range t.Args {
				if r.Depth == rel {
					t.Args[i] = ssa.Ref{Depth: rel, Offset: m.TargetOf(r.Offset)}
				}
			}
			if t.Kind == ssa.Fun {
				walk(t, rel+1)
			}
		}
	}
	for _, t := range body {
		if t.Kind == ssa.Fun {
			walk(t, 1)
		}
	}
}
