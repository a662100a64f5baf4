package identity

import (
	"context"
	"crypto/sha256"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay-go/merkle"
	"github.com/veilpay/veilpay-go/types"
)

func init() {
	log.Init(log.LogLevelDebug, "stdout", nil)
}

type fakeSigner struct {
	addr string
}

func (f *fakeSigner) SignMessage(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(append([]byte(f.addr), msg...))
	return digest[:], nil
}

func (f *fakeSigner) Address() string { return f.addr }

type fakeIdentityChain struct {
	list      []*big.Int
	registers int
}

func (f *fakeIdentityChain) IdentityRegistryState(_ context.Context) (*big.Int, uint64, error) {
	root, err := merkle.Root(f.list, types.IdentityTreeDepth)
	if err != nil {
		return nil, 0, err
	}
	return root, uint64(len(f.list)), nil
}

func (f *fakeIdentityChain) RegisterIdentity(_ context.Context, commitment, newRoot *big.Int) error {
	f.list = append(f.list, new(big.Int).Set(commitment))
	f.registers++
	root, err := merkle.Root(f.list, types.IdentityTreeDepth)
	if err != nil {
		return err
	}
	if root.Cmp(newRoot) != 0 {
		return ErrDesync
	}
	return nil
}

func TestDeriveSecretDeterministic(t *testing.T) {
	c := qt.New(t)
	signer := &fakeSigner{addr: "owner-one"}

	s1, err := DeriveSecret(signer)
	c.Assert(err, qt.IsNil)
	s2, err := DeriveSecret(signer)
	c.Assert(err, qt.IsNil)
	c.Assert(s1.Cmp(s2), qt.Equals, 0)
	c.Assert(s1.Cmp(types.FieldModulus) < 0, qt.IsTrue)

	s3, err := DeriveSecret(&fakeSigner{addr: "owner-two"})
	c.Assert(err, qt.IsNil)
	c.Assert(s3.Cmp(s1), qt.Not(qt.Equals), 0)
}

func TestEnsureRegisteredOnce(t *testing.T) {
	c := qt.New(t)
	chain := &fakeIdentityChain{}
	r := NewRegistry(metadb.NewTest(t), chain)
	secret := big.NewInt(123456)

	root, leafIndex, proof, err := r.EnsureRegistered(context.Background(), secret)
	c.Assert(err, qt.IsNil)
	c.Assert(leafIndex, qt.Equals, uint64(0))
	c.Assert(chain.registers, qt.Equals, 1)

	commitment, err := Commitment(secret)
	c.Assert(err, qt.IsNil)
	ok, err := proof.Verify(commitment)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(proof.Root.Cmp(root), qt.Equals, 0)

	// second call finds the existing commitment, no new registration
	root2, leafIndex2, _, err := r.EnsureRegistered(context.Background(), secret)
	c.Assert(err, qt.IsNil)
	c.Assert(leafIndex2, qt.Equals, uint64(0))
	c.Assert(root2.Cmp(root), qt.Equals, 0)
	c.Assert(chain.registers, qt.Equals, 1)
}

func TestEnsureRegisteredAfterOthers(t *testing.T) {
	c := qt.New(t)
	chain := &fakeIdentityChain{}
	r := NewRegistry(metadb.NewTest(t), chain)

	// a registry that already holds commitments we also know locally
	other := big.NewInt(900)
	otherCommitment, err := Commitment(other)
	c.Assert(err, qt.IsNil)
	chain.list = []*big.Int{otherCommitment}
	c.Assert(r.persist(chain.list, 0), qt.IsNil)

	_, leafIndex, _, err := r.EnsureRegistered(context.Background(), big.NewInt(901))
	c.Assert(err, qt.IsNil)
	c.Assert(leafIndex, qt.Equals, uint64(1))
	c.Assert(chain.registers, qt.Equals, 1)
}

func TestEnsureRegisteredDesync(t *testing.T) {
	c := qt.New(t)
	chain := &fakeIdentityChain{}
	r := NewRegistry(metadb.NewTest(t), chain)

	// chain knows a commitment the local mirror has never seen
	commitment, err := Commitment(big.NewInt(7))
	c.Assert(err, qt.IsNil)
	chain.list = []*big.Int{commitment}

	_, _, _, err = r.EnsureRegistered(context.Background(), big.NewInt(8))
	c.Assert(err, qt.ErrorIs, ErrDesync)
}

func TestEnsureRegisteredTrimsSurplus(t *testing.T) {
	c := qt.New(t)
	chain := &fakeIdentityChain{}
	r := NewRegistry(metadb.NewTest(t), chain)

	// a locally persisted commitment whose registration never landed
	stale, err := Commitment(big.NewInt(55))
	c.Assert(err, qt.IsNil)
	c.Assert(r.persist([]*big.Int{stale}, 0), qt.IsNil)

	secret := big.NewInt(66)
	_, leafIndex, _, err := r.EnsureRegistered(context.Background(), secret)
	c.Assert(err, qt.IsNil)
	c.Assert(leafIndex, qt.Equals, uint64(0))
	c.Assert(chain.list, qt.HasLen, 1)
}
