package ssa

import "testing"

func TestDesScrutineeAndHandlersSplit(t *testing.T) {
	h0 := Ref{Offset: 0}
	h1 := Ref{Offset: 1}
	scrut := Ref{Offset: 2}
	d := NewDes("match", []Ref{h0, h1}, scrut)

	if d.Scrutinee() != scrut {
		t.Fatalf("expected scrutinee %v, got %v", scrut, d.Scrutinee())
	}
	handlers := d.Handlers()
	if len(handlers) != 2 || handlers[0] != h0 || handlers[1] != h1 {
		t.Fatalf("unexpected handlers: %v", handlers)
	}
}

func TestScrutineePanicsOnWrongKind(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling Scrutinee on a non-Des term")
		}
	}()
	NewArg("x", 0).Scrutinee()
}

func TestTermIDsAreDistinctAndStable(t *testing.T) {
	a := NewArg("a", 0)
	b := NewArg("b", 1)
	if a.ID() == b.ID() {
		t.Fatal("expected distinct term identities")
	}
	if a.ID() != a.ID() {
		t.Fatal("ID must be stable across calls")
	}
}

func TestFlagsHas(t *testing.T) {
	f := FlagUsed | FlagOrdered
	if !f.Has(FlagUsed) || !f.Has(FlagOrdered) {
		t.Fatal("expected both flags set")
	}
	if f.Has(FlagEffect) {
		t.Fatal("did not expect FlagEffect set")
	}
}
