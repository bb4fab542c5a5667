package optimize

import "wakerun/internal/ssa"

// ScopePass is the final pipeline stage: for each function, post-order
// (innermost first), it records which ancestor-scope references the
// function closes over (Escapes) and computes the function's content hash
// over a canonical sequence of term tags, operand references, primitive
// names, and literal deep hashes.
//
// Escapes is expressed relative to the function's own immediate parent: a
// nested Fun's own escapes that still point further out are folded into
// its enclosing function's escape list one level shallower, so a closure
// three scopes deep only ever asks its direct parent to supply what it
// needs, and that parent asks its own parent in turn.
type ScopePass struct {
	litHash func(root int) [32]byte
}

func (p *ScopePass) Name() string { return "scope" }

func (p *ScopePass) Apply(fn *ssa.Term) bool {
	return p.process(fn)
}

func (p *ScopePass) process(fn *ssa.Term) bool {
	changed := false
	for _, t := range fn.Body {
		if t.Kind == ssa.Fun {
			if p.process(t) {
				changed = true
			}
		}
	}

	seen := map[ssa.Ref]bool{}
	var escapes []ssa.Ref
	add := func(r ssa.Ref) {
		if r.Depth == 0 {
			return
		}
		dr := ssa.Ref{Depth: r.Depth - 1, Offset: r.Offset}
		if !seen[dr] {
			seen[dr] = true
			escapes = append(escapes, dr)
		}
	}

	for _, t := range fn.Body {
		for _, r := range t.Args {
			add(r)
		}
		if t.Kind == ssa.Fun {
			for _, r := range t.Escapes {
				add(r)
			}
		}
	}

	// The terminal term of a function is a tail-call opportunity when it is
	// an application or a destructure (whose handler application is the
	// function's result): the evaluator may reuse the caller's continuation
	// instead of chaining a new one.
	if fn.Output >= 0 && fn.Output < len(fn.Body) {
		out := fn.Body[fn.Output]
		if (out.Kind == ssa.App || out.Kind == ssa.Des) && !out.Flags.Has(ssa.FlagTailCallOk) {
			out.Flags |= ssa.FlagTailCallOk
			changed = true
		}
	}

	newHash := ssa.ContentHash(fn.Body, fn.Output, p.litHash)
	if newHash != fn.Hash || !escapesEqual(fn.Escapes, escapes) {
		changed = true
	}
	fn.Escapes = escapes
	fn.Hash = newHash
	return changed
}

func escapesEqual(a, b []ssa.Ref) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
