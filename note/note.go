// Package note owns the set of shielded value notes of one (owner, asset)
// pair: their creation and encryption, their persistence, and the selection
// of spendable subsets covering a requested amount.
package note

import (
	"fmt"
	"math/big"

	"github.com/veilpay/veilpay-go/crypto/ecc"
	"github.com/veilpay/veilpay-go/crypto/hash/poseidon"
	"github.com/veilpay/veilpay-go/crypto/noteenc"
	"github.com/veilpay/veilpay-go/types"
	"github.com/veilpay/veilpay-go/util"
)

// Note is one shielded value note. A note is created whenever a flow
// produces new owned value, becomes spendable once its commitment is
// accepted on-chain, and is marked spent exactly once. Notes are never
// deleted.
type Note struct {
	ID               types.HexBytes `json:"id"`
	Asset            types.HexBytes `json:"asset"`
	Amount           uint64         `json:"amount"`
	Randomness       *types.BigInt  `json:"randomness"`
	SenderSecret     *types.BigInt  `json:"senderSecret"`
	LeafIndex        uint64         `json:"leafIndex"`
	RecipientTagHash *types.BigInt  `json:"recipientTagHash"`
	Commitment       *types.BigInt  `json:"commitment"`
	Spent            bool           `json:"spent"`
	// Foreign marks a note owned by someone else that is stored only to
	// keep the local leaf list complete.
	Foreign bool `json:"foreign,omitempty"`

	// ECIES fields, set on output notes so the recipient can recover the
	// plaintext amount and randomness later.
	RecipientX   *types.BigInt `json:"recipientX,omitempty"`
	RecipientY   *types.BigInt `json:"recipientY,omitempty"`
	EphemeralKey *types.BigInt `json:"ephemeralKey,omitempty"`
	C1X          *types.BigInt `json:"c1x,omitempty"`
	C1Y          *types.BigInt `json:"c1y,omitempty"`
	C2Amount     *types.BigInt `json:"c2amount,omitempty"`
	C2Randomness *types.BigInt `json:"c2randomness,omitempty"`
}

// HasCiphertext reports whether the note carries the complete set of ECIES
// fields a receiver needs to recover its plaintext.
func (n *Note) HasCiphertext() bool {
	return n.C1X != nil && n.C1Y != nil && n.C2Amount != nil && n.C2Randomness != nil
}

// Ciphertext returns the ECIES fields of the note as a noteenc.Ciphertext.
func (n *Note) Ciphertext() (*noteenc.Ciphertext, error) {
	if !n.HasCiphertext() {
		return nil, fmt.Errorf("note %s has incomplete encryption fields", n.ID)
	}
	return &noteenc.Ciphertext{
		C1X:        n.C1X.MathBigInt(),
		C1Y:        n.C1Y.MathBigInt(),
		Amount:     n.C2Amount.MathBigInt(),
		Randomness: n.C2Randomness.MathBigInt(),
	}, nil
}

// CiphertextBlob serializes the ECIES fields to the 128-byte on-chain blob.
func (n *Note) CiphertextBlob() ([]byte, error) {
	ct, err := n.Ciphertext()
	if err != nil {
		return nil, err
	}
	return ct.Serialize()
}

// ComputeCommitment returns Poseidon(amount, randomness, recipientTagHash).
func ComputeCommitment(amount uint64, randomness, recipientTagHash *big.Int) (*big.Int, error) {
	return poseidon.Hash(new(big.Int).SetUint64(amount), randomness, recipientTagHash)
}

// New creates a note for the given recipient, drawing fresh randomness and
// an ephemeral encryption scalar, and computing its commitment and ECIES
// fields via the shared point recipientPub * k.
func New(asset []byte, amount uint64, senderSecret, recipientTagHash *big.Int,
	recipientPub ecc.Point, leafIndex uint64,
) (*Note, error) {
	randomness, err := noteenc.RandomScalar()
	if err != nil {
		return nil, err
	}
	commitment, err := ComputeCommitment(amount, randomness, recipientTagHash)
	if err != nil {
		return nil, err
	}
	ct, err := noteenc.Encrypt(new(big.Int).SetUint64(amount), randomness, recipientPub, nil)
	if err != nil {
		return nil, err
	}
	rx, ry := recipientPub.Point()
	return &Note{
		ID:               util.RandomBytes(12),
		Asset:            asset,
		Amount:           amount,
		Randomness:       (*types.BigInt)(randomness),
		SenderSecret:     (*types.BigInt)(senderSecret),
		LeafIndex:        leafIndex,
		RecipientTagHash: (*types.BigInt)(recipientTagHash),
		Commitment:       (*types.BigInt)(commitment),
		RecipientX:       (*types.BigInt)(rx),
		RecipientY:       (*types.BigInt)(ry),
		EphemeralKey:     (*types.BigInt)(ct.EphemeralKey),
		C1X:              (*types.BigInt)(ct.C1X),
		C1Y:              (*types.BigInt)(ct.C1Y),
		C2Amount:         (*types.BigInt)(ct.Amount),
		C2Randomness:     (*types.BigInt)(ct.Randomness),
	}, nil
}
