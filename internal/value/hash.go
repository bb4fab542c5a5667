package value

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Type discriminators mixed into every ShallowHash so that, e.g., an empty
// string and an empty record never collide.
type tag byte

const (
	tagStr tag = iota
	tagInt
	tagDouble
	tagRegex
	tagClosure
	tagRecord
	tagScope
	tagPromiseAddr
	tagJob
)

// digest computes the 256-bit blake2b hash of a type tag followed by raw
// bytes. blake2b is used rather than crypto/sha256 because it is already a
// direct dependency pulled in for the rest of the toolchain's stack (see
// go.mod / DESIGN.md) and is the faster choice for the large volume of
// small, frequent digests GC and CSE compute.
func digest(t tag, data []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{byte(t)})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DeepHash structurally recurses through Explore, breadth-first, combining
// each visited value's ShallowHash. Explore only visits fulfilled slots, so
// an unfulfilled promise slot contributes nothing to the digest: deep
// hashing always terminates, but it does not record which slots were still
// empty (Pair(1, _) and Pair(_, 1) hash alike).
func DeepHash(root Value) [32]byte {
	h, _ := blake2b.New256(nil)
	seen := map[Value]bool{}
	queue := []Value{root}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		sh := v.ShallowHash()
		h.Write(sh[:])
		v.Explore(func(child Value) {
			queue = append(queue, child)
		})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashUint64 folds a uint64 into the digest stream the same way SSA content
// hashing does for literal operand indices (see internal/ssa).
func HashUint64(h []byte, n uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	return append(h, buf[:]...)
}
