package note

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/veilpay/veilpay-go/merkle"
)

var (
	// ErrNotFound is returned when a note does not exist in the store.
	ErrNotFound = errors.New("note not found")
	// ErrDesync is returned when the local note set disagrees with the
	// on-chain commitment state in a way the trim-surplus rule cannot fix.
	// It is fatal: the store must never silently resync by trusting the
	// chain over a mismatched local state.
	ErrDesync = errors.New("local note state desynchronized from chain")
	// ErrAlreadySpent is returned when marking an already spent note.
	ErrAlreadySpent = errors.New("note already spent")
)

var notesPrefix = []byte("n/")

// Store persists the notes of one (owner, asset) pair. Notes are keyed by
// their leaf index so iteration yields them in commitment order. The store
// performs no locking of its own: flows are serialized at the orchestrator
// entry point.
type Store struct {
	db     db.Database
	prefix []byte
}

// NewStore opens the note store of the given owner and asset over the
// provided database.
func NewStore(database db.Database, owner, asset []byte) *Store {
	prefix := append([]byte{}, notesPrefix...)
	prefix = append(prefix, owner...)
	prefix = append(prefix, '/')
	prefix = append(prefix, asset...)
	prefix = append(prefix, '/')
	return &Store{db: database, prefix: prefix}
}

func leafKey(leafIndex uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, leafIndex)
	return key
}

// Add persists a new note at its leaf index.
func (s *Store) Add(n *Note) error {
	data, err := cbor.Marshal(n)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), s.prefix)
	defer wTx.Discard()
	if err := wTx.Set(leafKey(n.LeafIndex), data); err != nil {
		return err
	}
	return wTx.Commit()
}

// Get returns the note at the given leaf index, or ErrNotFound.
func (s *Store) Get(leafIndex uint64) (*Note, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, s.prefix)
	data, err := rTx.Get(leafKey(leafIndex))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	n := &Note{}
	if err := cbor.Unmarshal(data, n); err != nil {
		return nil, err
	}
	return n, nil
}

// All returns every stored note ordered by leaf index.
func (s *Store) All() ([]*Note, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, s.prefix)
	var notes []*Note
	var iterErr error
	if err := rTx.Iterate(nil, func(_, value []byte) bool {
		n := &Note{}
		if err := cbor.Unmarshal(value, n); err != nil {
			iterErr = err
			return false
		}
		notes = append(notes, n)
		return true
	}); err != nil {
		return nil, err
	}
	return notes, iterErr
}

// Count returns the number of stored notes.
func (s *Store) Count() (uint64, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, s.prefix)
	var count uint64
	if err := rTx.Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	}); err != nil {
		return 0, err
	}
	return count, nil
}

// Commitments returns the ordered commitment list of every stored note,
// which is the leaf set of the commitment tree.
func (s *Store) Commitments() ([]*big.Int, error) {
	notes, err := s.All()
	if err != nil {
		return nil, err
	}
	commitments := make([]*big.Int, len(notes))
	for i, n := range notes {
		commitments[i] = n.Commitment.MathBigInt()
	}
	return commitments, nil
}

// ListSpendable returns the unspent notes whose commitment the chain has
// already accepted (leaf index below confirmedCount).
func (s *Store) ListSpendable(confirmedCount uint64) ([]*Note, error) {
	notes, err := s.All()
	if err != nil {
		return nil, err
	}
	var spendable []*Note
	for _, n := range notes {
		if !n.Spent && !n.Foreign && n.LeafIndex < confirmedCount {
			spendable = append(spendable, n)
		}
	}
	return spendable, nil
}

// MarkSpent flags the note at leafIndex as spent. Marking happens exactly
// once; a second call returns ErrAlreadySpent.
func (s *Store) MarkSpent(leafIndex uint64) error {
	return s.CommitSpend([]uint64{leafIndex}, nil)
}

// CommitSpend atomically marks the given input notes spent and appends the
// given output notes, in a single database transaction. It is the local
// commit step of a successful spend: either everything lands or nothing
// does.
func (s *Store) CommitSpend(spentLeaves []uint64, outputs []*Note) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), s.prefix)
	defer wTx.Discard()
	for _, leafIndex := range spentLeaves {
		key := leafKey(leafIndex)
		data, err := wTx.Get(key)
		if err != nil {
			if errors.Is(err, db.ErrKeyNotFound) {
				return fmt.Errorf("%w: leaf %d", ErrNotFound, leafIndex)
			}
			return err
		}
		n := &Note{}
		if err := cbor.Unmarshal(data, n); err != nil {
			return err
		}
		if n.Spent {
			return fmt.Errorf("%w: leaf %d", ErrAlreadySpent, leafIndex)
		}
		n.Spent = true
		updated, err := cbor.Marshal(n)
		if err != nil {
			return err
		}
		if err := wTx.Set(key, updated); err != nil {
			return err
		}
	}
	for _, out := range outputs {
		data, err := cbor.Marshal(out)
		if err != nil {
			return err
		}
		if err := wTx.Set(leafKey(out.LeafIndex), data); err != nil {
			return err
		}
	}
	return wTx.Commit()
}

// Reconcile checks the local note set against the on-chain commitment count
// and merkle root. If the local set is ahead of the chain (a prior failed
// broadcast), the surplus notes are dropped most-recent-first and the store
// persisted. If the local set is behind, or the roots disagree at equal
// length, it returns ErrDesync.
func (s *Store) Reconcile(onChainCount uint64, onChainRoot *big.Int, depth int) error {
	count, err := s.Count()
	if err != nil {
		return err
	}
	if count > onChainCount {
		wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), s.prefix)
		defer wTx.Discard()
		for leafIndex := count; leafIndex > onChainCount; leafIndex-- {
			if err := wTx.Delete(leafKey(leafIndex - 1)); err != nil {
				return err
			}
		}
		if err := wTx.Commit(); err != nil {
			return err
		}
		count = onChainCount
	}
	if count < onChainCount {
		return fmt.Errorf("%w: local has %d notes, chain has %d commitments",
			ErrDesync, count, onChainCount)
	}
	commitments, err := s.Commitments()
	if err != nil {
		return err
	}
	localRoot, err := merkle.Root(commitments, depth)
	if err != nil {
		return err
	}
	if localRoot.Cmp(onChainRoot) != 0 {
		return fmt.Errorf("%w: local root %s != on-chain root %s",
			ErrDesync, localRoot.String(), onChainRoot.String())
	}
	return nil
}
