package ssa

import (
	"wakerun/internal/value"

	"golang.org/x/crypto/blake2b"
)

// ContentHash computes a Fun term's content hash: a canonical sequence of
// term kind tags, operand references, primitive names, and literal deep
// hashes, fed through blake2b — the same digest the value package uses for
// ShallowHash/DeepHash, so a Lit's contribution here and its runtime
// ShallowHash agree on what "the same value" means.
//
// litHash resolves a Lit term's interned root to the heap value's deep hash;
// the scope pass supplies this via a closure bound to the live heap, since
// this package has no heap access of its own.
func ContentHash(body []*Term, output int, litHash func(root int) [32]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	buf := make([]byte, 0, 16)

	writeInt := func(n int) {
		buf = value.HashUint64(buf[:0], uint64(int64(n)))
		h.Write(buf)
	}
	writeRef := func(r Ref) {
		writeInt(r.Depth)
		writeInt(r.Offset)
	}

	for _, t := range body {
		h.Write([]byte{byte(t.Kind)})
		switch t.Kind {
		case Arg:
			writeInt(t.ArgIndex)
		case Lit:
			lh := litHash(t.LitRoot)
			h.Write(lh[:])
		case App, Get, Des, Con:
			writeInt(len(t.Args))
			for _, a := range t.Args {
				writeRef(a)
			}
			if t.Kind == Get {
				writeInt(t.FieldIndex)
			}
			if t.Kind == Con {
				h.Write([]byte(t.Constructor))
				writeInt(t.CaseIndex)
			}
		case Prim:
			h.Write([]byte(t.PrimName))
			writeInt(len(t.Args))
			for _, a := range t.Args {
				writeRef(a)
			}
		case Fun:
			inner := ContentHash(t.Body, t.Output, litHash)
			h.Write(inner[:])
		}
	}
	writeInt(output)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
