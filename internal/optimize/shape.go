package optimize

import "wakerun/internal/ssa"

// This file holds the structural rewrites the inline pass applies alongside
// body substitution: constructor elimination (a Get or Des over a Con whose
// shape is statically known), flattening curried App chains into one n-ary
// application, fusing nested Des terms, and merging nested single-argument
// functions into an n-ary one.

// refUseCounts counts, per source offset, how many depth-0 references the
// body (and its output) make to that term. A count of 1 is what the chain
// flattener and Des fuser require before consuming a term in place.
func refUseCounts(fn *ssa.Term) []int {
	counts := make([]int, len(fn.Body))
	for _, t := range fn.Body {
		for _, r := range t.Args {
			if r.Depth == 0 && r.Offset >= 0 && r.Offset < len(counts) {
				counts[r.Offset]++
			}
		}
		if t.Kind == ssa.Fun {
			countCaptured(t, 1, counts)
		}
	}
	if fn.Output >= 0 && fn.Output < len(counts) {
		counts[fn.Output]++
	}
	return counts
}

// mergeCurriedHead runs the "peel an Arg / consume a single-use Fun child"
// fixed point: a function whose body is exactly its Arg terms followed by
// one nested Fun, with that Fun as its output, becomes an n-ary function
// whose argument list is both layers' arguments concatenated. Call
// semantics are unchanged because closures apply arguments one at a time
// regardless of the declared arity: a partial application of the merged
// function builds the same intermediate closure the nested form did.
func mergeCurriedHead(fn *ssa.Term) bool {
	merged := false
	for mergeCurriedOnce(fn) {
		merged = true
	}
	return merged
}

func mergeCurriedOnce(fn *ssa.Term) bool {
	n := argCount(fn)
	if n < 1 || len(fn.Body) != n+1 {
		return false
	}
	g := fn.Body[n]
	if g.Kind != ssa.Fun || fn.Output != n || g.Flags.Has(ssa.FlagRecursive) {
		return false
	}
	m := argCount(g)
	if m < 1 {
		return false
	}
	// A reference from inside g to f's slot n would be g referring to
	// itself through the enclosing scope; merging would lose the binding.
	if refersToSlot(g, 1, n) {
		return false
	}

	body := make([]*ssa.Term, 0, n+len(g.Body))
	body = append(body, fn.Body[:n]...)
	for i, t := range g.Body {
		if i < m {
			arg := ssa.NewArg(t.Label, n+i)
			body = append(body, arg)
			continue
		}
		body = append(body, rebaseMerged(t, 0, n))
	}
	fn.Body = body
	fn.Output = g.Output + n
	fn.Flags |= g.Flags & (ssa.FlagEffect | ssa.FlagOrdered)
	return true
}

// refersToSlot reports whether any term at relative depth rel inside fn
// (rel = 1 for fn's own body looking one scope out) references the given
// slot offset in that ancestor scope.
func refersToSlot(fn *ssa.Term, rel, offset int) bool {
	for _, t := range fn.Body {
		for _, r := range t.Args {
			if r.Depth == rel && r.Offset == offset {
				return true
			}
		}
		if t.Kind == ssa.Fun && refersToSlot(t, rel+1, offset) {
			return true
		}
	}
	return false
}

// rebaseMerged clones t for splicing from a nested function's body into its
// parent's, visited at relative depth rel (0 for the nested body itself,
// +1 inside each further Fun). References into the vanished scope shift by
// the parent's argument count; references past it lose one level of depth.
func rebaseMerged(t *ssa.Term, rel, shift int) *ssa.Term {
	cp := *t
	if len(t.Args) > 0 {
		cp.Args = make([]ssa.Ref, len(t.Args))
		for i, r := range t.Args {
			switch {
			case r.Depth < rel:
				cp.Args[i] = r
			case r.Depth == rel:
				cp.Args[i] = ssa.Ref{Depth: r.Depth, Offset: r.Offset + shift}
			default:
				cp.Args[i] = ssa.Ref{Depth: r.Depth - 1, Offset: r.Offset}
			}
		}
	}
	if t.Kind == ssa.Fun {
		cp.Body = make([]*ssa.Term, len(t.Body))
		for i, c := range t.Body {
			cp.Body[i] = rebaseMerged(c, rel+1, shift)
		}
		cp.Escapes = nil // recomputed by the scope pass
	}
	return &cp
}

// flattenAppChain follows outer.Args[0] down through single-use App terms,
// accumulating arguments right-to-left so evaluation order is preserved,
// until it reaches a term that is not a consumable App link. It reports
// the function reference at the head of the chain, the full flattened
// argument list (all in source coordinates), and the body offsets of the
// consumed intermediate links — those become dead once outer absorbs their
// arguments and must be discarded alongside the inline. ok=false when
// outer heads no chain. The chain is only worth consuming when it bottoms
// out at a local Fun the whole argument list saturates — otherwise an
// intermediate App could already be saturated and merging would move its
// call site.
func flattenAppChain(body []*ssa.Term, outer *ssa.Term, refUse []int) (ssa.Ref, []ssa.Ref, []int, bool) {
	args := append([]ssa.Ref{}, outer.Args[1:]...)
	head := outer.Args[0]
	var links []int
	for {
		inner := localTarget(body, head)
		if inner == nil || inner.Kind != ssa.App {
			break
		}
		idx := head.Offset
		if refUse[idx] != 1 || inner.Flags.Has(ssa.FlagEffect) || inner.Flags.Has(ssa.FlagOrdered) {
			break
		}
		args = append(append([]ssa.Ref{}, inner.Args[1:]...), args...)
		head = inner.Args[0]
		links = append(links, idx)
	}
	if len(links) == 0 {
		return head, nil, nil, false
	}
	target := localTarget(body, head)
	if target == nil || target.Kind != ssa.Fun || argCount(target) != len(args) {
		return head, nil, nil, false
	}
	return head, args, links, true
}

// elimGetCon rewrites Get(Con(f0, ...), k) into an alias of fk. It reports
// whether the stream consumed the current term.
func elimGetCon(stream *ssa.TermStream, body []*ssa.Term, cur *ssa.Term) bool {
	con := localTarget(body, cur.Args[0])
	if con == nil || con.Kind != ssa.Con {
		return false
	}
	if cur.FieldIndex < 0 || cur.FieldIndex >= len(con.Args) {
		return false
	}
	field := stream.Rewrite(con.Args[cur.FieldIndex])
	if field.Depth != 0 {
		return false // a captured field cannot be expressed as a local alias
	}
	stream.Discard(field.Offset, false)
	return true
}

// elimDesCon rewrites Des(h0, ..., Con(k, args...)) into App(hk, args...):
// the constructor is statically known, so dispatch reduces to applying the
// matching handler directly.
func elimDesCon(stream *ssa.TermStream, body []*ssa.Term, cur *ssa.Term) bool {
	con := localTarget(body, cur.Scrutinee())
	if con == nil || con.Kind != ssa.Con {
		return false
	}
	handlers := cur.Handlers()
	if con.CaseIndex < 0 || con.CaseIndex >= len(handlers) {
		return false
	}
	appArgs := make([]ssa.Ref, 0, 1+len(con.Args))
	appArgs = append(appArgs, handlers[con.CaseIndex])
	appArgs = append(appArgs, con.Args...)
	app := ssa.NewApp(cur.Label, appArgs...)
	app.Flags = cur.Flags
	stream.Transfer(rewriteOperands(app, stream))
	return true
}

// fuseDesDes rewrites Des(H..., Des(H'..., x)) — an outer destructure over
// a single-use, unordered inner destructure — into Des(H''..., x), where
// each composed handler H''_i applies the inner handler H'_i to case i's
// fields and then destructures the intermediate result with the outer
// handlers. Every inner handler must be a local Fun so the composed
// handler's arity is known.
func fuseDesDes(stream *ssa.TermStream, body []*ssa.Term, cur *ssa.Term, refUse []int) bool {
	scrut := cur.Scrutinee()
	inner := localTarget(body, scrut)
	if inner == nil || inner.Kind != ssa.Des {
		return false
	}
	if refUse[scrut.Offset] != 1 || inner.Flags.Has(ssa.FlagEffect) || inner.Flags.Has(ssa.FlagOrdered) {
		return false
	}

	innerHandlers := inner.Handlers()
	arities := make([]int, len(innerHandlers))
	for i, hr := range innerHandlers {
		hf := localTarget(body, hr)
		if hf == nil || hf.Kind != ssa.Fun {
			return false
		}
		arities[i] = argCount(hf)
	}

	lift := func(r ssa.Ref) ssa.Ref {
		rr := stream.Rewrite(r)
		return ssa.Ref{Depth: rr.Depth + 1, Offset: rr.Offset}
	}

	outerHandlers := cur.Handlers()
	composed := make([]ssa.Ref, len(innerHandlers))
	for i, hr := range innerHandlers {
		arity := arities[i]
		cbody := make([]*ssa.Term, 0, arity+2)
		appArgs := make([]ssa.Ref, 0, 1+arity)
		appArgs = append(appArgs, lift(hr))
		for a := 0; a < arity; a++ {
			cbody = append(cbody, ssa.NewArg("", a))
			appArgs = append(appArgs, ssa.Ref{Offset: a})
		}
		cbody = append(cbody, ssa.NewApp("", appArgs...))

		desArgs := make([]ssa.Ref, 0, len(outerHandlers)+1)
		for _, oh := range outerHandlers {
			desArgs = append(desArgs, lift(oh))
		}
		des := ssa.NewDes(cur.Label, desArgs, ssa.Ref{Offset: arity})
		des.Flags = cur.Flags
		cbody = append(cbody, des)

		fun := ssa.NewFun(cur.Label, cbody, arity+1)
		composed[i] = ssa.Ref{Offset: stream.Include(fun)}
	}

	fused := ssa.NewDes(cur.Label, composed, stream.Rewrite(inner.Scrutinee()))
	fused.Flags = cur.Flags
	// Transfer places the fused Des as the current source term's image; the
	// already-transferred inner Des loses its only use and is swept later.
	stream.Transfer(fused)
	return true
}
