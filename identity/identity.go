// Package identity derives the per-owner identity secret and commitment and
// maintains the local view of the on-chain identity registry: an append-only
// commitment list with its own merkle tree, registered at most once per
// owner.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay-go/crypto/hash/poseidon"
	"github.com/veilpay/veilpay-go/merkle"
	"github.com/veilpay/veilpay-go/types"
)

// SecretMessage is the domain-separated message an owner signs to derive
// its identity secret. The signature, not the message, is the secret
// material, so the derivation is reproducible from the owner's key alone
// and nothing secret is ever stored.
const SecretMessage = "veilpay identity v1\nowner:%s"

// ErrDesync is returned when the local identity commitment list disagrees
// with the on-chain registry in an unrecoverable way.
var ErrDesync = errors.New("local identity state desynchronized from chain")

// Signer signs arbitrary messages with the owner's ledger key. Signing must
// be deterministic for the secret derivation to be reproducible.
type Signer interface {
	SignMessage(msg []byte) ([]byte, error)
	Address() string
}

// ChainClient is the subset of ledger operations the registry needs.
type ChainClient interface {
	// IdentityRegistryState returns the current on-chain identity merkle
	// root and commitment count.
	IdentityRegistryState(ctx context.Context) (root *big.Int, count uint64, err error)
	// RegisterIdentity submits the register instruction carrying the new
	// commitment and the recomputed root.
	RegisterIdentity(ctx context.Context, commitment, newRoot *big.Int) error
}

var identityPrefix = []byte("i/")

// Registry is the local mirror of the identity registry commitment list.
type Registry struct {
	db    db.Database
	chain ChainClient
	depth int
}

// NewRegistry opens the identity registry over the given database.
func NewRegistry(database db.Database, chain ChainClient) *Registry {
	return &Registry{db: database, chain: chain, depth: types.IdentityTreeDepth}
}

// DeriveSecret derives the owner's identity secret from a deterministic,
// domain-separated signature. The secret is the signature hashed into the
// proof field; it is never persisted.
func DeriveSecret(signer Signer) (*big.Int, error) {
	msg := fmt.Sprintf(SecretMessage, signer.Address())
	sig, err := signer.SignMessage([]byte(msg))
	if err != nil {
		return nil, fmt.Errorf("cannot sign identity message: %w", err)
	}
	digest := sha256.Sum256(sig)
	return types.BigToFF(new(big.Int).SetBytes(digest[:])), nil
}

// Commitment returns the identity commitment of a secret: Poseidon(secret).
func Commitment(secret *big.Int) (*big.Int, error) {
	return poseidon.Hash(secret)
}

func indexKey(i uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, i)
	return key
}

// commitments returns the locally-known ordered commitment list.
func (r *Registry) commitments() ([]*big.Int, error) {
	rTx := prefixeddb.NewPrefixedReader(r.db, identityPrefix)
	var list []*big.Int
	var iterErr error
	if err := rTx.Iterate(nil, func(_, value []byte) bool {
		v, err := types.FieldFromBytes(value)
		if err != nil {
			iterErr = err
			return false
		}
		list = append(list, v)
		return true
	}); err != nil {
		return nil, err
	}
	return list, iterErr
}

// persist writes the commitment list suffix starting at index from.
func (r *Registry) persist(list []*big.Int, from int) error {
	wTx := prefixeddb.NewPrefixedWriteTx(r.db.WriteTx(), identityPrefix)
	defer wTx.Discard()
	for i := from; i < len(list); i++ {
		buf, err := types.FieldBytes(list[i])
		if err != nil {
			return err
		}
		if err := wTx.Set(indexKey(uint64(i)), buf[:]); err != nil {
			return err
		}
	}
	return wTx.Commit()
}

// trim drops local commitments past the on-chain count, most recent first.
func (r *Registry) trim(localLen int, onChainCount uint64) error {
	wTx := prefixeddb.NewPrefixedWriteTx(r.db.WriteTx(), identityPrefix)
	defer wTx.Discard()
	for i := uint64(localLen); i > onChainCount; i-- {
		if err := wTx.Delete(indexKey(i - 1)); err != nil {
			return err
		}
	}
	return wTx.Commit()
}

// sync reconciles the local commitment list against the on-chain registry
// state, applying the trim-surplus rule and failing closed on any other
// disagreement. It returns the reconciled list.
func (r *Registry) sync(ctx context.Context) ([]*big.Int, error) {
	onChainRoot, onChainCount, err := r.chain.IdentityRegistryState(ctx)
	if err != nil {
		return nil, err
	}
	list, err := r.commitments()
	if err != nil {
		return nil, err
	}
	if uint64(len(list)) > onChainCount {
		log.Warnw("trimming surplus identity commitments",
			"local", len(list), "onChain", onChainCount)
		if err := r.trim(len(list), onChainCount); err != nil {
			return nil, err
		}
		list = list[:onChainCount]
	}
	if uint64(len(list)) < onChainCount {
		return nil, fmt.Errorf("%w: local has %d commitments, chain has %d",
			ErrDesync, len(list), onChainCount)
	}
	localRoot, err := merkle.Root(list, r.depth)
	if err != nil {
		return nil, err
	}
	if localRoot.Cmp(onChainRoot) != 0 {
		return nil, fmt.Errorf("%w: local root %s != on-chain root %s",
			ErrDesync, localRoot.String(), onChainRoot.String())
	}
	return list, nil
}

// EnsureRegistered makes sure the owner's identity commitment is part of
// the registry, registering it on-chain exactly once. It returns the
// resulting identity root, the owner's leaf index and the inclusion proof
// used by the witness builder.
func (r *Registry) EnsureRegistered(ctx context.Context, secret *big.Int) (*big.Int, uint64, *merkle.Proof, error) {
	commitment, err := Commitment(secret)
	if err != nil {
		return nil, 0, nil, err
	}
	list, err := r.sync(ctx)
	if err != nil {
		return nil, 0, nil, err
	}
	leafIndex := -1
	for i, c := range list {
		if c.Cmp(commitment) == 0 {
			leafIndex = i
			break
		}
	}
	if leafIndex < 0 {
		list = append(list, commitment)
		newRoot, err := merkle.Root(list, r.depth)
		if err != nil {
			return nil, 0, nil, err
		}
		if err := r.chain.RegisterIdentity(ctx, commitment, newRoot); err != nil {
			return nil, 0, nil, fmt.Errorf("cannot register identity: %w", err)
		}
		if err := r.persist(list, len(list)-1); err != nil {
			return nil, 0, nil, err
		}
		leafIndex = len(list) - 1
		log.Infow("identity registered", "leafIndex", leafIndex, "root", newRoot.String())
	}
	proof, err := merkle.GenerateProof(list, r.depth, uint64(leafIndex))
	if err != nil {
		return nil, 0, nil, err
	}
	return proof.Root, uint64(leafIndex), proof, nil
}
