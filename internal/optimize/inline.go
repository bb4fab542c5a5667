package optimize

import "wakerun/internal/ssa"

// InlinePass substitutes the body of a fully-applied, non-recursive Fun
// below Threshold terms at each of its App call sites. A Fun used at
// exactly one call site (a "singleton") is moved into the call site rather
// than cloned, to avoid the exponential blow-up repeated cloning of nested
// singletons would cause; every other Fun is cloned at each site and its
// own declaration survives for any sites this pass run didn't reach. The
// sentinel label "_ guard" is always treated as a singleton, matching the
// match-guard inlining convention.
type InlinePass struct {
	Threshold int
	litHash   func(root int) [32]byte
}

func (p *InlinePass) Name() string { return "inline" }

func (p *InlinePass) Apply(fn *ssa.Term) bool {
	return walkFuns(fn, p.applyOne)
}

func funSize(t *ssa.Term) int { return len(t.Body) }

func argCount(t *ssa.Term) int {
	n := 0
	for _, c := range t.Body {
		if c.Kind == ssa.Arg {
			n++
		} else {
			break // Arg terms are conventionally the function's leading terms
		}
	}
	return n
}

func (p *InlinePass) applyOne(fn *ssa.Term) bool {
	changed := mergeCurriedHead(fn)
	body := fn.Body
	refUse := refUseCounts(fn)

	useCounts := make(map[int]int) // local offset of Fun term -> number of App sites calling it
	for _, t := range body {
		if t.Kind == ssa.App {
			if target := localTarget(body, t.Args[0]); target != nil && target.Kind == ssa.Fun {
				useCounts[indexOf(body, target)]++
			}
		}
	}

	isSingleton := func(offset int) bool {
		return body[offset].Label == "_ guard" || useCounts[offset] <= 1
	}

	// Inline decisions are precomputed so a Fun's declaration (earlier in
	// the body) and its call site (later) always agree: the declaration is
	// only discarded when its sole call site is committed to consuming it.
	type callPlan struct {
		fnIdx int
		args  []ssa.Ref
	}
	plans := map[*ssa.Term]callPlan{}
	consumed := map[int]bool{}
	deadLinks := map[int]bool{}
	for _, t := range body {
		if t.Kind != ssa.App {
			continue
		}
		fnRef := t.Args[0]
		callArgs := t.Args[1:]
		var chain []int
		if head, flat, links, ok := flattenAppChain(body, t, refUse); ok {
			fnRef, callArgs, chain = head, flat, links
		}
		fnIdx := localOffset(body, fnRef)
		if fnIdx < 0 {
			continue
		}
		target := body[fnIdx]
		if target.Kind != ssa.Fun || target.Flags.Has(ssa.FlagRecursive) {
			continue
		}
		if argCount(target) != len(callArgs) || funSize(target) >= p.Threshold {
			continue
		}
		// An output that is one of the function's own Args aliases the
		// corresponding call argument; a captured (depth > 0) argument has
		// no local target index to alias, so such a call cannot inline.
		if out := target.Body[target.Output]; out.Kind == ssa.Arg && callArgs[out.ArgIndex].Depth != 0 {
			continue
		}
		plans[t] = callPlan{fnIdx: fnIdx, args: callArgs}
		for _, link := range chain {
			deadLinks[link] = true
		}
		// Drop the declaration only when the planned call is its one and
		// only reference anywhere — a closure capturing it, or a second
		// call site, keeps it alive.
		if isSingleton(fnIdx) && refUse[fnIdx] == 1 {
			consumed[fnIdx] = true
		}
	}

	stream := ssa.NewTermStream(body)
	pool := map[[32]byte]int{}

	for !stream.Done() {
		cur := stream.Peek()

		switch cur.Kind {
		case ssa.Get:
			if elimGetCon(stream, body, cur) {
				changed = true
				continue
			}
		case ssa.Des:
			if elimDesCon(stream, body, cur) {
				changed = true
				continue
			}
			if fuseDesDes(stream, body, cur, refUse) {
				changed = true
				continue
			}
		case ssa.App:
			if offset := indexOf(body, cur); offset >= 0 && deadLinks[offset] {
				// Consumed into a flattened chain's n-ary application.
				stream.DiscardInvalid()
				changed = true
				continue
			}
			if plan, ok := plans[cur]; ok {
				target := body[plan.fnIdx]
				if outRef, ok := inlineCall(stream, pool, target, plan.args, p.litHash); ok {
					stream.Discard(outRef, true)
					changed = true
					continue
				}
			}
		case ssa.Fun:
			if offset := indexOf(body, cur); offset >= 0 && consumed[offset] && isSingleton(offset) {
				// Its sole call site will inline it away; drop the declaration.
				stream.DiscardInvalid()
				changed = true
				continue
			}
		}

		stream.Transfer(rewriteOperands(cur, stream))
	}

	if !changed {
		return false
	}
	fn.Body = stream.Finish()
	fn.Output = stream.Map().TargetOf(fn.Output)
	// Only Fun terms carried over from the source body hold captured refs in
	// source coordinates; terms placed by Include (inlined clones, fused
	// handlers) were built against the target already.
	var carried []*ssa.Term
	for _, t := range fn.Body {
		if t.Kind == ssa.Fun && indexOf(body, t) >= 0 {
			carried = append(carried, t)
		}
	}
	remapCaptured(carried, stream.Map())
	return true
}

func indexOf(body []*ssa.Term, t *ssa.Term) int {
	for i, c := range body {
		if c == t {
			return i
		}
	}
	return -1
}

// localOffset resolves a depth-0 ref directly to its body index, or -1.
func localOffset(body []*ssa.Term, r ssa.Ref) int {
	if r.Depth != 0 || r.Offset < 0 || r.Offset >= len(body) {
		return -1
	}
	return r.Offset
}

// inlineCall clones target's non-Arg terms into stream (deduplicating Lit
// terms through pool), binds its Arg terms to callArgs (already expressed in
// the caller's coordinate space), and returns the ref the call site's result
// should alias.
func inlineCall(stream *ssa.TermStream, pool map[[32]byte]int, target *ssa.Term, callArgs []ssa.Ref, litHash func(int) [32]byte) (int, bool) {
	mapping := make(map[int]ssa.Ref, len(target.Body))
	argIdx := 0
	for i, t := range target.Body {
		switch {
		case t.Kind == ssa.Arg:
			if argIdx >= len(callArgs) {
				return 0, false
			}
			mapping[i] = stream.Rewrite(callArgs[argIdx])
			argIdx++
		case t.Kind == ssa.Lit && litHash != nil:
			h := litHash(t.LitRoot)
			if existing, ok := pool[h]; ok {
				mapping[i] = ssa.Ref{Offset: existing}
				continue
			}
			cp := *t // never share a term between two bodies; flags are per-body
			newIdx := stream.Include(&cp)
			pool[h] = newIdx
			mapping[i] = ssa.Ref{Offset: newIdx}
		default:
			cloned := remapInline(t, mapping, 0)
			newIdx := stream.Include(cloned)
			mapping[i] = ssa.Ref{Offset: newIdx}
		}
	}
	out, ok := mapping[target.Output]
	if !ok || out.Depth != 0 {
		return 0, false
	}
	return out.Offset, true
}

// remapInline returns a copy of t with every reference resolved for
// splicing into the call site, visited at relative depth rel (0 for the
// inlined body's own terms, +1 inside each nested Fun): references into the
// inlined body go through mapping, rebased by rel; references that escape
// it lose the one level of nesting inlining removes. Nested Fun children
// are cloned recursively so their captured references are rewritten too.
func remapInline(t *ssa.Term, mapping map[int]ssa.Ref, rel int) *ssa.Term {
	cp := *t
	if len(t.Args) > 0 {
		cp.Args = make([]ssa.Ref, len(t.Args))
		for i, r := range t.Args {
			cp.Args[i] = remapRef(r, mapping, rel)
		}
	}
	if t.Kind == ssa.Fun {
		cp.Body = make([]*ssa.Term, len(t.Body))
		for i, c := range t.Body {
			cp.Body[i] = remapInline(c, mapping, rel+1)
		}
		cp.Escapes = nil // recomputed by the scope pass
	}
	return &cp
}

func remapRef(r ssa.Ref, mapping map[int]ssa.Ref, rel int) ssa.Ref {
	switch {
	case r.Depth < rel:
		return r // local to a nested function being cloned wholesale
	case r.Depth == rel:
		if mapped, ok := mapping[r.Offset]; ok {
			return ssa.Ref{Depth: mapped.Depth + rel, Offset: mapped.Offset}
		}
		return r
	default:
		return ssa.Ref{Depth: r.Depth - 1, Offset: r.Offset}
	}
}
