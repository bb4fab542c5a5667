package optimize

import (
	"encoding/binary"

	"wakerun/internal/ssa"

	"golang.org/x/crypto/blake2b"
)

// CSEPass reuses an earlier term whose structural hash matches a later
// term's, within the same function body — the scope-pass hash the spec
// describes computed early, since this pass runs before the final scope
// pass assigns (depth, offset) pairs. Matching by structural hash rather
// than by Go pointer equality is what lets two independently-built but
// value-identical Prim/Con/Get chains collapse into one. Effectful terms
// are never deduplicated even when structurally identical (evaluating a
// side effect twice is observable).
type CSEPass struct {
	litHash func(root int) [32]byte
}

func (c *CSEPass) Name() string { return "cse" }

func (c *CSEPass) Apply(fn *ssa.Term) bool {
	return walkFuns(fn, c.applyOne)
}

func (c *CSEPass) applyOne(fn *ssa.Term) bool {
	body := fn.Body
	hashes := make([][32]byte, len(body))
	seen := map[[32]byte]int{}

	stream := ssa.NewTermStream(body)
	changed := false
	srcIdx := 0

	for !stream.Done() {
		cur := stream.Peek()
		h := c.hash(hashes, cur)
		hashes[srcIdx] = h

		if cur.Kind != ssa.Fun && !cur.Flags.Has(ssa.FlagEffect) {
			if earlier, ok := seen[h]; ok {
				stream.Discard(earlier, false)
				srcIdx++
				changed = true
				continue
			}
		}

		stream.Transfer(rewriteOperands(cur, stream))
		seen[h] = stream.Len() - 1
		srcIdx++
	}

	if !changed {
		return false
	}
	fn.Body = stream.Finish()
	fn.Output = stream.Map().TargetOf(fn.Output)
	remapCaptured(fn.Body, stream.Map())
	return true
}

// hash computes a structural digest for t, reusing already-computed hashes
// for its local operands — available because terms are processed in
// definition order, so every depth-0 operand of t was hashed earlier.
func (c *CSEPass) hash(hashes [][32]byte, t *ssa.Term) [32]byte {
	if t.Kind == ssa.Fun {
		return ssa.ContentHash(t.Body, t.Output, c.litHash)
	}
	h, _ := blake2b.New256(nil)
	h.Write([]byte{byte(t.Kind)})
	switch t.Kind {
	case ssa.Arg:
		writeUint(h, uint64(t.ArgIndex))
	case ssa.Lit:
		lh := c.litHash(t.LitRoot)
		h.Write(lh[:])
	case ssa.Get:
		writeUint(h, uint64(t.FieldIndex))
	case ssa.Con:
		h.Write([]byte(t.Constructor))
		writeUint(h, uint64(t.CaseIndex))
	case ssa.Prim:
		h.Write([]byte(t.PrimName))
	}
	for _, r := range t.Args {
		if r.Depth == 0 && r.Offset < len(hashes) {
			h.Write(hashes[r.Offset][:])
		} else {
			writeUint(h, uint64(r.Depth))
			writeUint(h, uint64(r.Offset))
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeUint(h interface{ Write([]byte) (int, error) }, n uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	h.Write(buf[:])
}
