// Package merkle implements the fixed-depth, append-only commitment tree
// used by the shielded pool. Empty positions are filled with deterministic
// zero subtrees so that the root of any prefix of leaves is well defined and
// matches what the spend circuit recomputes from an inclusion path.
package merkle

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/veilpay/veilpay-go/crypto/hash/poseidon"
)

// Proof is an inclusion path for one leaf: the sibling node per level and
// the direction bit (1 when the leaf-side node is the right child).
type Proof struct {
	Root      *big.Int
	Siblings  []*big.Int
	Positions []uint8
}

var (
	zeroMtx sync.Mutex
	zeroes  = map[int][]*big.Int{}
)

// ZeroHashes returns the zero subtree roots for every level of a tree of the
// given depth: Z[0] = 0 and Z[L] = Poseidon(Z[L-1], Z[L-1]). The slice has
// depth+1 entries, the last one being the root of the fully empty tree. Safe
// for concurrent callers; the commitment and identity trees use different
// depths and flows of different assets run in parallel.
func ZeroHashes(depth int) []*big.Int {
	zeroMtx.Lock()
	defer zeroMtx.Unlock()
	if z, ok := zeroes[depth]; ok {
		return z
	}
	z := make([]*big.Int, depth+1)
	z[0] = big.NewInt(0)
	for l := 1; l <= depth; l++ {
		h, err := poseidon.Hash(z[l-1], z[l-1])
		if err != nil {
			panic(fmt.Sprintf("poseidon zero hash at level %d: %v", l, err))
		}
		z[l] = h
	}
	zeroes[depth] = z
	return z
}

// levels computes every level of the zero-filled tree, level 0 being the
// leaves. A level only materializes the occupied prefix; everything past it
// is the zero subtree for that level.
func levels(leaves []*big.Int, depth int) ([][]*big.Int, error) {
	if len(leaves) > 1<<depth {
		return nil, fmt.Errorf("too many leaves %d for depth %d", len(leaves), depth)
	}
	z := ZeroHashes(depth)
	lvls := make([][]*big.Int, depth+1)
	lvls[0] = leaves
	for l := 0; l < depth; l++ {
		cur := lvls[l]
		next := make([]*big.Int, (len(cur)+1)/2)
		for i := range next {
			left := z[l]
			if 2*i < len(cur) {
				left = cur[2*i]
			}
			right := z[l]
			if 2*i+1 < len(cur) {
				right = cur[2*i+1]
			}
			h, err := poseidon.Hash(left, right)
			if err != nil {
				return nil, err
			}
			next[i] = h
		}
		lvls[l+1] = next
	}
	return lvls, nil
}

// Root returns the root of the zero-filled tree over the ordered leaves. It
// is a pure function of its input: same leaves, same root.
func Root(leaves []*big.Int, depth int) (*big.Int, error) {
	lvls, err := levels(leaves, depth)
	if err != nil {
		return nil, err
	}
	if len(lvls[depth]) == 0 {
		return ZeroHashes(depth)[depth], nil
	}
	return lvls[depth][0], nil
}

// GenerateProof builds the inclusion path of the leaf at leafIndex. An index
// past the end of the leaves slice is a programming error and panics, since
// callers must only prove membership of committed leaves.
func GenerateProof(leaves []*big.Int, depth int, leafIndex uint64) (*Proof, error) {
	if leafIndex >= uint64(len(leaves)) {
		panic(fmt.Sprintf("merkle: leaf index %d out of range (have %d leaves)",
			leafIndex, len(leaves)))
	}
	lvls, err := levels(leaves, depth)
	if err != nil {
		return nil, err
	}
	z := ZeroHashes(depth)
	siblings := make([]*big.Int, depth)
	positions := make([]uint8, depth)
	idx := leafIndex
	for l := 0; l < depth; l++ {
		positions[l] = uint8(idx & 1)
		sibIdx := idx ^ 1
		if sibIdx < uint64(len(lvls[l])) {
			siblings[l] = lvls[l][sibIdx]
		} else {
			siblings[l] = z[l]
		}
		idx >>= 1
	}
	root := z[depth]
	if len(lvls[depth]) > 0 {
		root = lvls[depth][0]
	}
	return &Proof{Root: root, Siblings: siblings, Positions: positions}, nil
}

// Verify recombines a leaf with its inclusion path and reports whether the
// resulting root matches the proof root.
func (p *Proof) Verify(leaf *big.Int) (bool, error) {
	node := leaf
	for l, sibling := range p.Siblings {
		var err error
		if p.Positions[l] == 1 {
			node, err = poseidon.Hash(sibling, node)
		} else {
			node, err = poseidon.Hash(node, sibling)
		}
		if err != nil {
			return false, err
		}
	}
	return node.Cmp(p.Root) == 0, nil
}
