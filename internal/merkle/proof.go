// proof.go - Authentication path construction from the full leaf list.
// Depositors rebuild paths client-side; the engine never stores leaves.

package merkle

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Path recomputes the authentication path for the leaf at index, given
// every leaf inserted so far in order. It returns one sibling per level
// (bottom up) and the root of the rebuilt tree.
func Path(leaves []fr.Element, index uint32, levels int, h HashFunc) ([]fr.Element, fr.Element, error) {
	if levels <= 0 || levels > MaxLevels {
		return nil, fr.Element{}, fmt.Errorf("merkle: levels must be in 1..%d, got %d", MaxLevels, levels)
	}
	if h == nil {
		h = MiMCHash
	}
	if uint64(len(leaves)) > uint64(1)<<uint(levels) {
		return nil, fr.Element{}, fmt.Errorf("merkle: %d leaves exceed a %d-level tree", len(leaves), levels)
	}
	if uint64(index) >= uint64(len(leaves)) {
		return nil, fr.Element{}, fmt.Errorf("merkle: leaf index %d out of range (%d leaves)", index, len(leaves))
	}

	zs := Zeros(levels, h)
	level := make([]fr.Element, len(leaves))
	copy(level, leaves)
	siblings := make([]fr.Element, levels)
	idx := index
	for d := 0; d < levels; d++ {
		sib := idx ^ 1
		if uint64(sib) < uint64(len(level)) {
			siblings[d] = level[sib]
		} else {
			siblings[d] = zs[d]
		}
		next := make([]fr.Element, (len(level)+1)/2)
		for i := range next {
			li := 2 * i
			right := zs[d]
			if li+1 < len(level) {
				right = level[li+1]
			}
			next[i] = h(level[li], right)
		}
		level = next
		idx /= 2
	}
	return siblings, level[0], nil
}
