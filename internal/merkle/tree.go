// tree.go - Append-only incremental Merkle tree with a bounded history
// of recent roots.

package merkle

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	// DefaultLevels is the pool tree depth: room for 2^24 deposits.
	DefaultLevels = 24
	// DefaultRootHistory is how many recent roots stay acceptable.
	DefaultRootHistory = 30
	// MaxLevels keeps leaf indices inside uint32.
	MaxLevels = 32
)

// ErrTreeFull rejects insertions into a tree at capacity.
var ErrTreeFull = errors.New("merkle: tree is full")

// Tree is an append-only incremental Merkle tree. Only the O(levels)
// frontier of filled subtrees is kept; the full leaf list is the
// caller's concern.
type Tree struct {
	levels  int
	hash    HashFunc
	zeros   []fr.Element // zeros[i] = empty subtree root at height i
	filled  []fr.Element // deepest completed subtree per level
	roots   []fr.Element // ring of the most recent roots
	rootPos int          // slot of the newest root
	inserts uint64       // total successful insertions
}

// NewTree builds an empty tree of the given depth remembering the last
// history roots. A nil hash means MiMCHash.
func NewTree(levels, history int, h HashFunc) (*Tree, error) {
	if levels <= 0 || levels > MaxLevels {
		return nil, fmt.Errorf("merkle: levels must be in 1..%d, got %d", MaxLevels, levels)
	}
	if history <= 0 {
		return nil, fmt.Errorf("merkle: root history must be positive, got %d", history)
	}
	if h == nil {
		h = MiMCHash
	}
	t := &Tree{
		levels: levels,
		hash:   h,
		zeros:  Zeros(levels, h),
		filled: make([]fr.Element, levels),
		roots:  make([]fr.Element, history),
	}
	copy(t.filled, t.zeros[:levels])
	return t, nil
}

// Levels returns the tree depth.
func (t *Tree) Levels() int { return t.levels }

// Capacity returns the maximum number of leaves.
func (t *Tree) Capacity() uint64 { return uint64(1) << uint(t.levels) }

// Size returns the number of leaves inserted so far.
func (t *Tree) Size() uint64 { return t.inserts }

// Zero returns the empty-subtree root at the given height.
func (t *Tree) Zero(level int) fr.Element { return t.zeros[level] }

// Insert appends leaf at the next free index and returns that index.
func (t *Tree) Insert(leaf fr.Element) (uint32, error) {
	if t.inserts >= t.Capacity() {
		return 0, ErrTreeFull
	}
	index := uint32(t.inserts)
	cur := leaf
	idx := index
	for level := 0; level < t.levels; level++ {
		if idx%2 == 0 {
			t.filled[level] = cur
			cur = t.hash(cur, t.zeros[level])
		} else {
			cur = t.hash(t.filled[level], cur)
		}
		idx /= 2
	}
	t.rootPos = (t.rootPos + 1) % len(t.roots)
	t.roots[t.rootPos] = cur
	t.inserts++
	return index, nil
}

// LastRoot returns the most recent root, or the empty-tree root before
// any insertion.
func (t *Tree) LastRoot() fr.Element {
	if t.inserts == 0 {
		return t.zeros[t.levels]
	}
	return t.roots[t.rootPos]
}

// IsKnownRoot reports whether r is one of the recent roots produced by
// insertions. The zero element is never known, and neither is the
// pre-insertion empty root.
func (t *Tree) IsKnownRoot(r fr.Element) bool {
	if r.IsZero() {
		return false
	}
	window := uint64(len(t.roots))
	if t.inserts < window {
		window = t.inserts
	}
	pos := t.rootPos
	for i := uint64(0); i < window; i++ {
		if t.roots[pos].Equal(&r) {
			return true
		}
		pos--
		if pos < 0 {
			pos = len(t.roots) - 1
		}
	}
	return false
}
