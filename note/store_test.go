package note

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/veilpay/veilpay-go/merkle"
	"github.com/veilpay/veilpay-go/types"
)

func testStore(t *testing.T) *Store {
	return NewStore(metadb.NewTest(t), []byte("owner"), []byte("asset"))
}

func testNote(c *qt.C, leafIndex uint64, amount uint64) *Note {
	randomness := big.NewInt(int64(1000 + leafIndex))
	tagHash := big.NewInt(77)
	commitment, err := ComputeCommitment(amount, randomness, tagHash)
	c.Assert(err, qt.IsNil)
	return &Note{
		ID:               []byte{byte(leafIndex)},
		Asset:            []byte("asset"),
		Amount:           amount,
		Randomness:       (*types.BigInt)(randomness),
		SenderSecret:     (*types.BigInt)(big.NewInt(5)),
		LeafIndex:        leafIndex,
		RecipientTagHash: (*types.BigInt)(tagHash),
		Commitment:       (*types.BigInt)(commitment),
	}
}

func TestStoreAddGet(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)

	_, err := s.Get(0)
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	n := testNote(c, 0, 100)
	c.Assert(s.Add(n), qt.IsNil)

	got, err := s.Get(0)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Amount, qt.Equals, uint64(100))
	c.Assert(got.Commitment.Equal(n.Commitment), qt.IsTrue)

	count, err := s.Count()
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(1))
}

func TestStorePayloadIsCBOR(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	s := NewStore(database, []byte("owner"), []byte("asset"))
	c.Assert(s.Add(testNote(c, 0, 42)), qt.IsNil)

	var raw []byte
	c.Assert(database.Iterate(nil, func(_, value []byte) bool {
		raw = append([]byte{}, value...)
		return false
	}), qt.IsNil)
	c.Assert(len(raw) > 0, qt.IsTrue)

	n := &Note{}
	c.Assert(cbor.Unmarshal(raw, n), qt.IsNil)
	c.Assert(n.Amount, qt.Equals, uint64(42))
	c.Assert(n.LeafIndex, qt.Equals, uint64(0))
}

func TestStoreAllOrdered(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	// insert out of order, iteration must come back in leaf order
	for _, idx := range []uint64{2, 0, 1} {
		c.Assert(s.Add(testNote(c, idx, 10*(idx+1))), qt.IsNil)
	}
	notes, err := s.All()
	c.Assert(err, qt.IsNil)
	c.Assert(notes, qt.HasLen, 3)
	for i, n := range notes {
		c.Assert(n.LeafIndex, qt.Equals, uint64(i))
	}
}

func TestStoreListSpendable(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	confirmed := testNote(c, 0, 100)
	pending := testNote(c, 2, 300)
	spent := testNote(c, 1, 200)
	spent.Spent = true
	foreign := testNote(c, 3, 400)
	foreign.Foreign = true
	for _, n := range []*Note{confirmed, spent, pending, foreign} {
		c.Assert(s.Add(n), qt.IsNil)
	}

	// chain has only confirmed the first two leaves
	spendable, err := s.ListSpendable(2)
	c.Assert(err, qt.IsNil)
	c.Assert(spendable, qt.HasLen, 1)
	c.Assert(spendable[0].LeafIndex, qt.Equals, uint64(0))

	// once everything is confirmed, foreign and spent notes stay excluded
	spendable, err = s.ListSpendable(4)
	c.Assert(err, qt.IsNil)
	c.Assert(spendable, qt.HasLen, 2)
	c.Assert(spendable[0].LeafIndex, qt.Equals, uint64(0))
	c.Assert(spendable[1].LeafIndex, qt.Equals, uint64(2))
}

func TestStoreMarkSpentOnce(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	c.Assert(s.Add(testNote(c, 0, 100)), qt.IsNil)

	c.Assert(s.MarkSpent(0), qt.IsNil)
	c.Assert(s.MarkSpent(0), qt.ErrorIs, ErrAlreadySpent)
	c.Assert(s.MarkSpent(9), qt.ErrorIs, ErrNotFound)
}

func TestStoreCommitSpend(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	c.Assert(s.Add(testNote(c, 0, 100)), qt.IsNil)
	c.Assert(s.Add(testNote(c, 1, 200)), qt.IsNil)

	out := testNote(c, 2, 250)
	c.Assert(s.CommitSpend([]uint64{0, 1}, []*Note{out}), qt.IsNil)

	for _, idx := range []uint64{0, 1} {
		n, err := s.Get(idx)
		c.Assert(err, qt.IsNil)
		c.Assert(n.Spent, qt.IsTrue)
	}
	n, err := s.Get(2)
	c.Assert(err, qt.IsNil)
	c.Assert(n.Amount, qt.Equals, uint64(250))
	c.Assert(n.Spent, qt.IsFalse)
}

func TestStoreCommitSpendAtomic(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	c.Assert(s.Add(testNote(c, 0, 100)), qt.IsNil)

	// leaf 5 does not exist: nothing from the batch must land
	out := testNote(c, 1, 50)
	err := s.CommitSpend([]uint64{0, 5}, []*Note{out})
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	n, err := s.Get(0)
	c.Assert(err, qt.IsNil)
	c.Assert(n.Spent, qt.IsFalse)
	_, err = s.Get(1)
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestStoreReconcileMatches(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	c.Assert(s.Add(testNote(c, 0, 100)), qt.IsNil)
	c.Assert(s.Add(testNote(c, 1, 200)), qt.IsNil)

	commitments, err := s.Commitments()
	c.Assert(err, qt.IsNil)
	root, err := merkle.Root(commitments, 8)
	c.Assert(err, qt.IsNil)

	c.Assert(s.Reconcile(2, root, 8), qt.IsNil)
}

func TestStoreReconcileTrimsSurplus(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	c.Assert(s.Add(testNote(c, 0, 100)), qt.IsNil)

	commitments, err := s.Commitments()
	c.Assert(err, qt.IsNil)
	root, err := merkle.Root(commitments, 8)
	c.Assert(err, qt.IsNil)

	// two extra local notes from a broadcast the chain never saw
	c.Assert(s.Add(testNote(c, 1, 200)), qt.IsNil)
	c.Assert(s.Add(testNote(c, 2, 300)), qt.IsNil)

	c.Assert(s.Reconcile(1, root, 8), qt.IsNil)
	count, err := s.Count()
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(1))
	_, err = s.Get(1)
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestStoreReconcileDesync(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	c.Assert(s.Add(testNote(c, 0, 100)), qt.IsNil)

	// chain ahead of local: another device spent or deposited
	err := s.Reconcile(3, big.NewInt(1), 8)
	c.Assert(err, qt.ErrorIs, ErrDesync)

	// equal counts but diverging roots
	err = s.Reconcile(1, big.NewInt(12345), 8)
	c.Assert(err, qt.ErrorIs, ErrDesync)
}
