// hash.go - Native MiMC hashing over the BN254 scalar field.

package merkle

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// HashFunc combines two field elements into a parent node.
type HashFunc func(left, right fr.Element) fr.Element

// zeroLeafTag seeds the zeros chain. Hashing a protocol tag instead of
// using the literal zero element keeps empty positions distinguishable
// from a leaf that happens to encode zero.
const zeroLeafTag = "aintivirus.mixer.v2"

// MiMCHash hashes two field elements into one. The same function builds
// tree nodes, commitments and nullifier hashes, so the in-circuit MiMC
// gadget reproduces it exactly.
func MiMCHash(left, right fr.Element) fr.Element {
	h := mimc.NewMiMC()
	lb := left.Bytes()
	rb := right.Bytes()
	h.Write(lb[:])
	h.Write(rb[:])
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// ZeroLeaf returns the canonical value occupying empty tree positions.
func ZeroLeaf() fr.Element {
	var tag fr.Element
	tag.SetBytes([]byte(zeroLeafTag))
	tb := tag.Bytes()
	h := mimc.NewMiMC()
	h.Write(tb[:])
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// Zeros returns the empty-subtree chain: index 0 is the zero leaf,
// index i is H(zeros[i-1], zeros[i-1]), up to the empty root at index
// levels.
func Zeros(levels int, h HashFunc) []fr.Element {
	if h == nil {
		h = MiMCHash
	}
	zs := make([]fr.Element, levels+1)
	zs[0] = ZeroLeaf()
	for i := 1; i <= levels; i++ {
		zs[i] = h(zs[i-1], zs[i-1])
	}
	return zs
}
