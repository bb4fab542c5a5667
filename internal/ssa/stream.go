package ssa

// SourceMap translates indices from a source term vector into a target
// vector being built alongside it. Each source index maps to exactly one of:
// a target index it was transferred/included at, an alias of another
// target index (discard(at, singleton)), or invalid (discard() — any later
// use is a bug in the pass that produced it, so TargetOf panics).
type SourceMap struct {
	entries []mapEntry
}

type mapEntry struct {
	kind    mapKind
	target  int
	isAlias bool
}

type mapKind int

const (
	mapTransferred mapKind = iota
	mapInvalid
)

// TargetOf resolves a source index to its current target index.
func (m *SourceMap) TargetOf(sourceIdx int) int {
	e := m.entries[sourceIdx]
	if e.kind == mapInvalid {
		panic("ssa: use of a term discarded without replacement")
	}
	return e.target
}

// TermStream drives a pass's rewrite of one function body: it owns a
// forward-only read cursor over the source terms and appends to a target
// vector, recording the correspondence in a SourceMap as it goes.
type TermStream struct {
	source []*Term
	srcPos int

	target []*Term
	smap   SourceMap
}

// NewTermStream begins a rewrite of src; the returned stream starts at the
// first source term with an empty target vector.
func NewTermStream(src []*Term) *TermStream {
	return &TermStream{
		source: src,
		smap:   SourceMap{entries: make([]mapEntry, len(src))},
	}
}

// Done reports whether every source term has been consumed.
func (s *TermStream) Done() bool { return s.srcPos >= len(s.source) }

// Peek returns the current source term without advancing.
func (s *TermStream) Peek() *Term { return s.source[s.srcPos] }

// Transfer places a rewritten term corresponding to the current source term
// and advances both cursors.
func (s *TermStream) Transfer(rewritten *Term) {
	target := len(s.target)
	s.target = append(s.target, rewritten)
	s.smap.entries[s.srcPos] = mapEntry{kind: mapTransferred, target: target}
	s.srcPos++
}

// Include places a synthesized term with no source counterpart, advancing
// only the target cursor, and returns its new target index.
func (s *TermStream) Include(t *Term) int {
	target := len(s.target)
	s.target = append(s.target, t)
	return target
}

// Discard maps the current source term to an alias of the target term
// already at `at` and advances only the source cursor. singleton (the alias
// is the term's only use) is stored with the entry; nothing reads it back.
func (s *TermStream) Discard(at int, singleton bool) {
	s.smap.entries[s.srcPos] = mapEntry{kind: mapTransferred, target: at, isAlias: singleton}
	s.srcPos++
}

// DiscardInvalid maps the current source term to "invalid" — later uses of
// it are a construction bug — and advances only the source cursor. Used for
// dead terms a pass proves unreachable by construction (e.g. a branch arm
// behind an impossible destructure case).
func (s *TermStream) DiscardInvalid() {
	s.smap.entries[s.srcPos] = mapEntry{kind: mapInvalid}
	s.srcPos++
}

// Rewrite remaps a Ref recorded against the source scope into the target
// scope being built.
func (s *TermStream) Rewrite(r Ref) Ref {
	if r.Depth != 0 {
		return r // captured reference; untouched by this function's rewrite
	}
	return Ref{Depth: 0, Offset: s.smap.TargetOf(r.Offset)}
}

// Map exposes the stream's SourceMap so later passes in the same pipeline
// stage (e.g. a terminator fixing up its own Des handler refs) can resolve
// indices without re-deriving them.
func (s *TermStream) Map() *SourceMap { return &s.smap }

// Len reports how many terms have been placed into the target vector so far.
func (s *TermStream) Len() int { return len(s.target) }

// Finish returns the target vector built so far. Called once the stream is
// Done; Detach, not Finish, removes the suffix placed after a CheckPoint.
func (s *TermStream) Finish() []*Term { return s.target }

// CheckPoint snapshots (target length, source position) so a pass can
// install a function's terms and later detach them en bloc to become a new
// Fun's body, without losing track of where the enclosing rewrite resumes.
type CheckPoint struct {
	targetEnd int
	sourceEnd int
}

// Mark records the stream's current position.
func (s *TermStream) Mark() CheckPoint {
	return CheckPoint{targetEnd: len(s.target), sourceEnd: s.srcPos}
}

// Detach removes and returns every target term appended since cp was
// marked, leaving the stream's source cursor untouched (source consumption
// already advanced past those positions via the same Transfer/Include calls
// that produced them).
func (s *TermStream) Detach(cp CheckPoint) []*Term {
	detached := append([]*Term{}, s.target[cp.targetEnd:]...)
	s.target = s.target[:cp.targetEnd]
	return detached
}
