package merkle

import (
	"math/big"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestZeroHashes(t *testing.T) {
	c := qt.New(t)
	z := ZeroHashes(8)
	c.Assert(z, qt.HasLen, 9)
	c.Assert(z[0].Sign(), qt.Equals, 0)
	for l := 1; l <= 8; l++ {
		c.Assert(z[l].Sign(), qt.Not(qt.Equals), 0)
		c.Assert(z[l].Cmp(z[l-1]), qt.Not(qt.Equals), 0)
	}
	// a second call must return the same cached values
	z2 := ZeroHashes(8)
	for l := range z {
		c.Assert(z2[l].Cmp(z[l]), qt.Equals, 0)
	}
}

func TestZeroHashesConcurrent(t *testing.T) {
	c := qt.New(t)
	// identity-depth and commitment-depth callers race on the cache when
	// flows of different assets run in parallel
	depths := []int{16, 17, 18, 19, 20, 21, 22, 23}
	results := make([][]*big.Int, 64)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ZeroHashes(depths[i%len(depths)])
		}(i)
	}
	wg.Wait()
	for i, z := range results {
		depth := depths[i%len(depths)]
		want := ZeroHashes(depth)
		c.Assert(z, qt.HasLen, depth+1)
		for l := range z {
			c.Assert(z[l].Cmp(want[l]), qt.Equals, 0)
		}
	}
}

func TestEmptyTreeRoot(t *testing.T) {
	c := qt.New(t)
	root, err := Root(nil, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(root.Cmp(ZeroHashes(10)[10]), qt.Equals, 0)
}

func TestRootDeterministic(t *testing.T) {
	c := qt.New(t)
	leaves := []*big.Int{big.NewInt(11), big.NewInt(22), big.NewInt(33)}
	r1, err := Root(leaves, 10)
	c.Assert(err, qt.IsNil)
	r2, err := Root(leaves, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(r1.Cmp(r2), qt.Equals, 0)

	// appending a leaf must change the root
	r3, err := Root(append(leaves, big.NewInt(44)), 10)
	c.Assert(err, qt.IsNil)
	c.Assert(r3.Cmp(r1), qt.Not(qt.Equals), 0)
}

func TestRootTooManyLeaves(t *testing.T) {
	c := qt.New(t)
	leaves := make([]*big.Int, 5)
	for i := range leaves {
		leaves[i] = big.NewInt(int64(i))
	}
	_, err := Root(leaves, 2)
	c.Assert(err, qt.IsNotNil)
}

func TestProofVerify(t *testing.T) {
	c := qt.New(t)
	leaves := make([]*big.Int, 7)
	for i := range leaves {
		leaves[i] = big.NewInt(int64(100 + i))
	}
	root, err := Root(leaves, 6)
	c.Assert(err, qt.IsNil)
	for i, leaf := range leaves {
		proof, err := GenerateProof(leaves, 6, uint64(i))
		c.Assert(err, qt.IsNil)
		c.Assert(proof.Root.Cmp(root), qt.Equals, 0)
		c.Assert(proof.Siblings, qt.HasLen, 6)
		ok, err := proof.Verify(leaf)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue)
		// the same path must reject any other leaf
		ok, err = proof.Verify(big.NewInt(999))
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsFalse)
	}
}

func TestProofOutOfRangePanics(t *testing.T) {
	c := qt.New(t)
	leaves := []*big.Int{big.NewInt(1)}
	c.Assert(func() { _, _ = GenerateProof(leaves, 4, 1) }, qt.PanicMatches, `merkle: leaf index 1 out of range.*`)
}
