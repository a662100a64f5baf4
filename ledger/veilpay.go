package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"go.vocdoni.io/dvote/log"
)

// Veilpay is the high-level client of the shielded pool program. It
// satisfies the chain-facing interfaces of the identity and nullifier
// registries and gives the engine typed reads of the pool state.
type Veilpay struct {
	rpc             *Client
	signer          *KeySigner
	verifierProgram Address
	verifierKey     Address
}

// VeilpayOptions configures the chain client.
type VeilpayOptions struct {
	Endpoint        string
	Signer          *KeySigner
	VerifierProgram Address
	VerifierKey     Address
}

// NewVeilpay creates a chain client for the given RPC endpoint.
func NewVeilpay(opts VeilpayOptions) (*Veilpay, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("missing rpc endpoint")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("missing signer")
	}
	return &Veilpay{
		rpc:             NewClient(opts.Endpoint),
		signer:          opts.Signer,
		verifierProgram: opts.VerifierProgram,
		verifierKey:     opts.VerifierKey,
	}, nil
}

// Signer returns the key used to pay for and sign transactions.
func (v *Veilpay) Signer() *KeySigner {
	return v.signer
}

// VerifierAccounts returns the proof verifier program and key accounts
// spend instructions must reference.
func (v *Veilpay) VerifierAccounts() (program, key Address) {
	return v.verifierProgram, v.verifierKey
}

// Config fetches and decodes the program configuration.
func (v *Veilpay) Config(ctx context.Context) (*Config, error) {
	addr, err := ConfigAddress()
	if err != nil {
		return nil, err
	}
	data, ok, err := v.rpc.AccountInfo(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("config account %s does not exist", addr)
	}
	return DecodeConfig(data)
}

// ShieldedState fetches the commitment tree head of a mint.
func (v *Veilpay) ShieldedState(ctx context.Context, mint Address) (*ShieldedState, error) {
	addr, err := ShieldedStateAddress(mint)
	if err != nil {
		return nil, err
	}
	data, ok, err := v.rpc.AccountInfo(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("shielded state for mint %s does not exist", mint)
	}
	return DecodeShieldedState(data)
}

// NullifierChunk fetches a nullifier bitset chunk. The second return is
// false when the chunk account has not been initialized yet.
func (v *Veilpay) NullifierChunk(ctx context.Context, mint Address, chunkIndex uint32) (*NullifierSet, bool, error) {
	addr, err := NullifierChunkAddress(mint, chunkIndex)
	if err != nil {
		return nil, false, err
	}
	data, ok, err := v.rpc.AccountInfo(ctx, addr)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	ns, err := DecodeNullifierSet(data)
	if err != nil {
		return nil, false, err
	}
	return ns, true, nil
}

// NullifierSpent reports whether the given bit of a chunk is already set
// on-chain. A missing chunk means nothing in it was ever spent.
func (v *Veilpay) NullifierSpent(ctx context.Context, mint Address, chunkIndex uint32, bitIndex uint16) (bool, error) {
	ns, ok, err := v.NullifierChunk(ctx, mint, chunkIndex)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return ns.Contains(bitIndex), nil
}

// NullifierChunkExists implements nullifier.ChainClient.
func (v *Veilpay) NullifierChunkExists(ctx context.Context, asset []byte, chunkIndex uint32) (bool, error) {
	mint, err := addressFromAsset(asset)
	if err != nil {
		return false, err
	}
	_, ok, err := v.NullifierChunk(ctx, mint, chunkIndex)
	return ok, err
}

// InitializeNullifierChunk implements nullifier.ChainClient. Losing the
// creation race surfaces as a chain error; callers treat it as success.
func (v *Veilpay) InitializeNullifierChunk(ctx context.Context, asset []byte, chunkIndex uint32) error {
	mint, err := addressFromAsset(asset)
	if err != nil {
		return err
	}
	ix, err := InitializeNullifierChunkInstruction(v.signer.PublicAddress(), mint, chunkIndex)
	if err != nil {
		return err
	}
	sig, err := v.SignAndSend(ctx, []Instruction{ix})
	if err != nil {
		if strings.Contains(err.Error(), "already in use") {
			return nil
		}
		return err
	}
	log.Infow("initialized nullifier chunk", "mint", mint.String(),
		"chunk", chunkIndex, "signature", sig)
	return nil
}

// IdentityRegistryState implements identity.ChainClient.
func (v *Veilpay) IdentityRegistryState(ctx context.Context) (*big.Int, uint64, error) {
	addr, err := IdentityRegistryAddress()
	if err != nil {
		return nil, 0, err
	}
	data, ok, err := v.rpc.AccountInfo(ctx, addr)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("identity registry account %s does not exist", addr)
	}
	reg, err := DecodeIdentityRegistry(data)
	if err != nil {
		return nil, 0, err
	}
	return new(big.Int).SetBytes(reg.Root[:]), reg.Count, nil
}

// RegisterIdentity implements identity.ChainClient.
func (v *Veilpay) RegisterIdentity(ctx context.Context, commitment, newRoot *big.Int) error {
	ix, err := RegisterIdentityInstruction(
		v.signer.PublicAddress(),
		fieldBytes32(commitment),
		fieldBytes32(newRoot),
	)
	if err != nil {
		return err
	}
	sig, err := v.SignAndSend(ctx, []Instruction{ix})
	if err != nil {
		return err
	}
	log.Infow("registered identity", "signature", sig)
	return nil
}

// Slot returns the current ledger slot.
func (v *Veilpay) Slot(ctx context.Context) (uint64, error) {
	return v.rpc.Slot(ctx)
}

// SignTransaction compiles the instructions into a signed serialized
// transaction against a fresh blockhash, without submitting it. Used when
// the transaction goes out through a relayer instead.
func (v *Veilpay) SignTransaction(ctx context.Context, instrs []Instruction) ([]byte, error) {
	blockhash, err := v.rpc.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := BuildTransaction(v.signer, blockhash, instrs)
	if err != nil {
		return nil, err
	}
	return tx.Serialize(), nil
}

// SignAndSend compiles, signs and submits a transaction, returning its
// signature.
func (v *Veilpay) SignAndSend(ctx context.Context, instrs []Instruction) (string, error) {
	raw, err := v.SignTransaction(ctx, instrs)
	if err != nil {
		return "", err
	}
	return v.rpc.SendTransaction(ctx, raw)
}

// addressFromAsset interprets the registries' opaque asset identifier as a
// 32-byte mint address.
func addressFromAsset(asset []byte) (Address, error) {
	if len(asset) != 32 {
		return Address{}, fmt.Errorf("asset identifier must be 32 bytes, got %d", len(asset))
	}
	var a Address
	copy(a[:], asset)
	return a, nil
}

// fieldBytes32 returns the 32-byte big-endian form of a field element.
func fieldBytes32(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}
