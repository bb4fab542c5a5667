package eval

import (
	"wakerun/internal/ssa"
	"wakerun/internal/value"
)

// Run evaluates a top-level, argument-less function (the compiled program's
// entry point, after the optimizer pipeline has run over it) to completion
// and returns its result value.
func (e *Evaluator) Run(program *ssa.Term) (value.Value, error) {
	closure := &value.Closure{Fn: funRef{fn: program}}
	return e.applySaturated(closure)
}
