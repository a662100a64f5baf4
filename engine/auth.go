package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay-go/crypto/hash/poseidon"
	"github.com/veilpay/veilpay-go/crypto/noteenc"
	"github.com/veilpay/veilpay-go/ledger"
	"github.com/veilpay/veilpay-go/relayer"
	"github.com/veilpay/veilpay-go/types"
)

// authMessagePrefix domain-separates authorization signatures from every
// other message this key signs.
const authMessagePrefix = "veilpay authorization intent"

var authPrefix = []byte("a/")

// ErrAuthorizationNotFound is returned when settling an unknown intent.
var ErrAuthorizationNotFound = errors.New("authorization intent not found")

// Authorization is a claimable payment intent: the payer commits to an
// asset, payee and encrypted amount, valid until an expiry slot. It is
// settled at most once.
type Authorization struct {
	IntentHash       *types.BigInt  `cbor:"1,keyasint"`
	Asset            types.HexBytes `cbor:"2,keyasint"`
	PayeeTagHash     *types.BigInt  `cbor:"3,keyasint"`
	AmountCiphertext types.HexBytes `cbor:"4,keyasint"`
	ExpirySlot       uint64         `cbor:"5,keyasint"`
	CircuitID        uint32         `cbor:"6,keyasint"`
	Signature        types.HexBytes `cbor:"7,keyasint"`
	// Amount and Randomness are the payer-side plaintext of the
	// ciphertext; the payee recovers them by decryption instead.
	Amount     uint64        `cbor:"8,keyasint"`
	Randomness *types.BigInt `cbor:"9,keyasint"`
	Settled    bool          `cbor:"10,keyasint"`
}

// intentHash binds every field of the intent into one field element:
// Poseidon over the asset, the payee tag, a hash of the ciphertext and the
// expiry slot.
func intentHash(asset []byte, payeeTagHash *big.Int, ciphertext []byte, expirySlot uint64) (*big.Int, error) {
	assetFF := types.BigToFF(new(big.Int).SetBytes(asset))
	ctDigest := sha256.Sum256(ciphertext)
	ctFF := types.BigToFF(new(big.Int).SetBytes(ctDigest[:]))
	return poseidon.Hash(assetFF, payeeTagHash, ctFF, new(big.Int).SetUint64(expirySlot))
}

func authKey(hash *big.Int) []byte {
	be := make([]byte, 32)
	hash.FillBytes(be)
	return be
}

// CreateAuthorization builds a claimable intent for the given payee,
// signs it and posts it to the relayer. No notes are spent yet; settlement
// happens later, at most once, before the expiry slot.
func (e *Engine) CreateAuthorization(ctx context.Context, mint ledger.Address, payee *RecipientKey, amount uint64) (*Authorization, error) {
	if amount == 0 {
		return nil, failf(InsufficientFunds, "authorization amount must be positive")
	}
	if payee == nil {
		return nil, failf(MalformedNote, "authorization requires a payee key")
	}
	slot, err := e.chain.Slot(ctx)
	if err != nil {
		return nil, fail(Desync, err)
	}
	expirySlot := slot + e.intentTTLSlots

	randomness, err := noteenc.RandomScalar()
	if err != nil {
		return nil, fail(MalformedNote, err)
	}
	ct, err := noteenc.Encrypt(new(big.Int).SetUint64(amount), randomness, payee.point(), nil)
	if err != nil {
		return nil, fail(MalformedNote, err)
	}
	ciphertext, err := ct.Serialize()
	if err != nil {
		return nil, fail(MalformedNote, err)
	}
	hash, err := intentHash(mint[:], payee.TagHash, ciphertext, expirySlot)
	if err != nil {
		return nil, fail(MalformedNote, err)
	}
	msg := fmt.Sprintf("%s\nintent:%s", authMessagePrefix, hex.EncodeToString(authKey(hash)))
	sig, err := e.chain.Signer().SignMessage([]byte(msg))
	if err != nil {
		return nil, fail(MalformedNote, err)
	}

	auth := &Authorization{
		IntentHash:       (*types.BigInt)(hash),
		Asset:            mint[:],
		PayeeTagHash:     (*types.BigInt)(payee.TagHash),
		AmountCiphertext: ciphertext,
		ExpirySlot:       expirySlot,
		CircuitID:        e.circuitID,
		Signature:        sig,
		Amount:           amount,
		Randomness:       (*types.BigInt)(randomness),
	}
	if e.relayer != nil {
		if _, err := e.relayer.PostIntent(ctx, relayer.IntentRequest{
			IntentHash:       hash.String(),
			Asset:            mint.String(),
			PayeeTagHash:     payee.TagHash.String(),
			AmountCiphertext: hex.EncodeToString(ciphertext),
			ExpirySlot:       expirySlot,
			CircuitID:        e.circuitID,
			Signature:        hex.EncodeToString(sig),
		}); err != nil {
			return nil, fail(RelayerFailure, err)
		}
	}
	if err := e.saveAuthorization(auth); err != nil {
		return nil, fail(Desync, err)
	}
	log.Infow("authorization created", "intent", hash.String(),
		"amount", amount, "expirySlot", expirySlot)
	return auth, nil
}

// SettleAuthorization executes a stored intent as a shielded transfer to
// the payee. It fails when the intent is unknown, expired, already
// settled, or when the presented payee key does not match what the intent
// committed to.
func (e *Engine) SettleAuthorization(ctx context.Context, hash *big.Int, payee *RecipientKey) (*Result, error) {
	auth, err := e.Authorization(hash)
	if err != nil {
		return nil, fail(ChainRejection, err)
	}
	if auth.Settled {
		return nil, failf(ChainRejection, "intent %s already settled", hash.String())
	}
	if payee == nil || payee.TagHash.Cmp(auth.PayeeTagHash.MathBigInt()) != 0 {
		return nil, failf(ChainRejection, "payee does not match intent %s", hash.String())
	}
	// Recompute the hash from the stored fields: a tampered ciphertext or
	// expiry must not settle.
	recomputed, err := intentHash(auth.Asset, auth.PayeeTagHash.MathBigInt(), auth.AmountCiphertext, auth.ExpirySlot)
	if err != nil {
		return nil, fail(ChainRejection, err)
	}
	if recomputed.Cmp(hash) != 0 {
		return nil, failf(ChainRejection, "intent %s does not match its ciphertext", hash.String())
	}
	slot, err := e.chain.Slot(ctx)
	if err != nil {
		return nil, fail(Desync, err)
	}
	if slot > auth.ExpirySlot {
		return nil, failf(ChainRejection, "intent %s expired at slot %d (current %d)",
			hash.String(), auth.ExpirySlot, slot)
	}
	if len(auth.Asset) != 32 {
		return nil, failf(ChainRejection, "intent %s carries a malformed asset", hash.String())
	}
	var mint ledger.Address
	copy(mint[:], auth.Asset)
	res, err := e.runSpend(ctx, mint, spendRequest{
		kind:      spendInternal,
		amount:    auth.Amount,
		recipient: payee,
	})
	if err != nil {
		return nil, err
	}
	auth.Settled = true
	if err := e.saveAuthorization(auth); err != nil {
		return nil, fail(Desync, err)
	}
	log.Infow("authorization settled", "intent", hash.String(), "signature", res.Signature)
	return res, nil
}

// Authorization loads a stored intent by hash.
func (e *Engine) Authorization(hash *big.Int) (*Authorization, error) {
	rTx := prefixeddb.NewPrefixedReader(e.db, authPrefix)
	data, err := rTx.Get(authKey(hash))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAuthorizationNotFound, hash.String())
		}
		return nil, err
	}
	auth := &Authorization{}
	if err := cbor.Unmarshal(data, auth); err != nil {
		return nil, err
	}
	return auth, nil
}

func (e *Engine) saveAuthorization(auth *Authorization) error {
	data, err := cbor.Marshal(auth)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(e.db.WriteTx(), authPrefix)
	defer wTx.Discard()
	if err := wTx.Set(authKey(auth.IntentHash.MathBigInt()), data); err != nil {
		return err
	}
	return wTx.Commit()
}
