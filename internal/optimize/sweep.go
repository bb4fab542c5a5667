package optimize

import "wakerun/internal/ssa"

// SweepPass deletes unused, non-ordered, non-effectful terms and
// renumbers every surviving reference through a ssa.TermStream — the
// counterpart of the teacher's eliminateDeadInstructions (see
// kanso/internal/ir.DeadCodeElimination), expressed through the rewrite
// contract instead of slice splicing so later passes can rely on the same
// contract.
type SweepPass struct{}

func (s *SweepPass) Name() string { return "sweep" }

func (s *SweepPass) Apply(fn *ssa.Term) bool {
	return walkFuns(fn, s.applyOne)
}

func (s *SweepPass) keep(t *ssa.Term) bool {
	// Arg terms define the function's arity and are never deletable, even
	// when the parameter is ignored.
	if t.Kind == ssa.Arg {
		return true
	}
	return t.Flags.Has(ssa.FlagUsed) || t.Flags.Has(ssa.FlagEffect) || t.Flags.Has(ssa.FlagOrdered)
}

func (s *SweepPass) applyOne(fn *ssa.Term) bool {
	body := fn.Body
	stream := ssa.NewTermStream(body)
	changed := false

	for !stream.Done() {
		cur := stream.Peek()
		if s.keep(cur) {
			rewritten := rewriteOperands(cur, stream)
			stream.Transfer(rewritten)
		} else {
			changed = true
			stream.DiscardInvalid()
		}
	}

	if !changed {
		return false
	}
	fn.Body = stream.Finish()
	fn.Output = stream.Map().TargetOf(fn.Output)
	remapCaptured(fn.Body, stream.Map())
	return true
}

// rewriteOperands returns a shallow copy of t with every depth-0 Args entry
// remapped through stream's SourceMap; Fun terms are left structurally
// alone here (their own body is a separate scope walkFuns already visits).
func rewriteOperands(t *ssa.Term, stream *ssa.TermStream) *ssa.Term {
	if len(t.Args) == 0 {
		return t
	}
	cp := *t
	cp.Args = make([]ssa.Ref, len(t.Args))
	for i, r := range t.Args {
		cp.Args[i] = stream.Rewrite(r)
	}
	return &cp
}
