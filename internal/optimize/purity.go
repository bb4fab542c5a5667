package optimize

import "wakerun/internal/ssa"

// PurityPass propagates an effect/ordered flag from Prim terms through
// their transitive uses. A term with no effectful dependency may be
// reordered or deleted by later passes; one with only the ordered flag may
// be deleted if unused, but may never be reordered past other ordered
// terms.
type PurityPass struct {
	Ordered bool
}

func (p *PurityPass) Name() string {
	if p.Ordered {
		return "purity(ordered)"
	}
	return "purity(effect)"
}

func (p *PurityPass) bit() ssa.Flags {
	if p.Ordered {
		return ssa.FlagOrdered
	}
	return ssa.FlagEffect
}

func (p *PurityPass) Apply(fn *ssa.Term) bool {
	return walkFuns(fn, p.applyOne)
}

func (p *PurityPass) applyOne(fn *ssa.Term) bool {
	bit := p.bit()
	changed := false
	for _, t := range fn.Body {
		if t.Flags.Has(bit) {
			continue // already marked, e.g. a Prim declared effectful/ordered at construction
		}
		if p.hasTaintedOperand(fn.Body, t, bit) {
			t.Flags |= bit
			changed = true
		}
	}
	return changed
}

// hasTaintedOperand reports whether any local operand of t already carries
// bit — the forward propagation step. Fun operands (closures referencing an
// outer scope) and captured (depth > 0) refs never taint the referencing
// term, since evaluating a reference to a closure doesn't invoke it.
func (p *PurityPass) hasTaintedOperand(body []*ssa.Term, t *ssa.Term, bit ssa.Flags) bool {
	for _, r := range t.Args {
		src := localTarget(body, r)
		if src != nil && src.Kind != ssa.Fun && src.Flags.Has(bit) {
			return true
		}
	}
	return false
}
