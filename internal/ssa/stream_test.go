package ssa

import "testing"

// TestTransferPreservesOrderAndMapping exercises the basic transfer path: a
// rewrite that copies every term through unchanged must produce an identity
// SourceMap.
func TestTransferPreservesOrderAndMapping(t *testing.T) {
	src := []*Term{
		NewArg("x", 0),
		NewArg("y", 1),
		NewPrim("sum", "int_add", false, Ref{Offset: 0}, Ref{Offset: 1}),
	}
	s := NewTermStream(src)
	for !s.Done() {
		cur := s.Peek()
		s.Transfer(cur)
	}
	out := s.Finish()
	if len(out) != len(src) {
		t.Fatalf("expected %d terms, got %d", len(src), len(out))
	}
	for i := range src {
		if s.Map().TargetOf(i) != i {
			t.Fatalf("expected identity mapping at %d, got %d", i, s.Map().TargetOf(i))
		}
	}
}

// TestDiscardAliasesToExistingTarget models a sweep-style pass that drops a
// dead term and aliases it to an earlier survivor.
func TestDiscardAliasesToExistingTarget(t *testing.T) {
	src := []*Term{
		NewArg("x", 0),
		NewArg("dead", 1),
	}
	s := NewTermStream(src)
	s.Transfer(s.Peek()) // x survives at target 0
	s.Discard(0, true)   // dead aliases x

	if s.Map().TargetOf(1) != 0 {
		t.Fatalf("expected discarded term aliased to target 0, got %d", s.Map().TargetOf(1))
	}
}

// TestDiscardInvalidPanicsOnLaterUse ensures an unreachable term's source
// index is never silently resolved to a bogus target.
func TestDiscardInvalidPanicsOnLaterUse(t *testing.T) {
	src := []*Term{NewArg("unreachable", 0)}
	s := NewTermStream(src)
	s.DiscardInvalid()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic resolving an invalidated source index")
		}
	}()
	s.Map().TargetOf(0)
}

// TestCheckPointDetachesSuffixForNestedFun models the scope pass lifting a
// run of already-placed terms out to become a new Fun's body.
func TestCheckPointDetachesSuffixForNestedFun(t *testing.T) {
	src := []*Term{
		NewArg("a", 0),
		NewArg("b", 1),
		NewArg("c", 2),
	}
	s := NewTermStream(src)
	s.Transfer(s.Peek()) // a
	cp := s.Mark()
	s.Transfer(s.Peek()) // b
	s.Transfer(s.Peek()) // c

	detached := s.Detach(cp)
	if len(detached) != 2 {
		t.Fatalf("expected 2 detached terms, got %d", len(detached))
	}
	if len(s.Finish()) != 1 {
		t.Fatalf("expected 1 term remaining after detach, got %d", len(s.Finish()))
	}
}

// TestRewriteLeavesCapturedRefsUntouched confirms that a nonzero-depth
// reference (already resolved to an ancestor scope) passes through Rewrite
// unchanged, since only local (depth 0) references need remapping through
// this function's own SourceMap.
func TestRewriteLeavesCapturedRefsUntouched(t *testing.T) {
	src := []*Term{NewArg("x", 0)}
	s := NewTermStream(src)
	s.Transfer(s.Peek())

	captured := Ref{Depth: 2, Offset: 5}
	if got := s.Rewrite(captured); got != captured {
		t.Fatalf("expected captured ref unchanged, got %v", got)
	}
}
