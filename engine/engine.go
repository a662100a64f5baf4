package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay-go/crypto/ecc"
	"github.com/veilpay/veilpay-go/crypto/noteenc"
	"github.com/veilpay/veilpay-go/identity"
	"github.com/veilpay/veilpay-go/ledger"
	"github.com/veilpay/veilpay-go/note"
	"github.com/veilpay/veilpay-go/nullifier"
	"github.com/veilpay/veilpay-go/prover"
	"github.com/veilpay/veilpay-go/relayer"
	"github.com/veilpay/veilpay-go/types"
)

// Chain is the ledger surface the engine drives. *ledger.Veilpay is the
// production implementation; tests substitute fakes.
type Chain interface {
	Config(ctx context.Context) (*ledger.Config, error)
	ShieldedState(ctx context.Context, mint ledger.Address) (*ledger.ShieldedState, error)
	NullifierSpent(ctx context.Context, mint ledger.Address, chunkIndex uint32, bitIndex uint16) (bool, error)
	SignTransaction(ctx context.Context, instrs []ledger.Instruction) ([]byte, error)
	SignAndSend(ctx context.Context, instrs []ledger.Instruction) (string, error)
	Slot(ctx context.Context) (uint64, error)
	Signer() *ledger.KeySigner
	VerifierAccounts() (program, key ledger.Address)

	// chunk lifecycle and identity registration, shared with the
	// registries
	NullifierChunkExists(ctx context.Context, asset []byte, chunkIndex uint32) (bool, error)
	InitializeNullifierChunk(ctx context.Context, asset []byte, chunkIndex uint32) error
	IdentityRegistryState(ctx context.Context) (root *big.Int, count uint64, err error)
	RegisterIdentity(ctx context.Context, commitment, newRoot *big.Int) error
}

// Submitter is the relayer surface the engine submits through.
type Submitter interface {
	Execute(ctx context.Context, tx []byte) (string, error)
	ExecuteSignedIntent(ctx context.Context, signer relayer.Signer, tx []byte, expiresAt int64, lookupTables []string) (string, error)
	PostIntent(ctx context.Context, intent relayer.IntentRequest) (string, error)
}

// Options configures an engine instance.
type Options struct {
	DB      db.Database
	Chain   Chain
	Relayer Submitter // nil sends transactions straight to the RPC
	Prover  prover.Prover

	// CircuitID is the spend circuit this client proves against.
	CircuitID uint32
	// RelayerFeeBps is the fee share the relayer takes on withdraw and
	// external transfer, in basis points.
	RelayerFeeBps uint16
	// LookupTables are address lookup tables the relayer may compress
	// transactions with.
	LookupTables []string
	// SignedIntents switches relayer submission to the co-signing mode:
	// the transaction travels with a signed, expiring intent message and
	// the configured lookup tables, and the relayer pays fees.
	SignedIntents bool
	// IntentTTL bounds how long a signed relayer intent stays valid.
	IntentTTL time.Duration
	// IntentTTLSlots is how many slots an authorization intent stays
	// valid.
	IntentTTLSlots uint64

	// Observer receives step transitions of every flow.
	Observer StatusFunc
}

// Engine is the transaction orchestrator: it keeps the local note view in
// sync with the chain, builds witnesses and proofs, and drives flows end
// to end. Flows against the same asset are serialized; the note store is
// read-then-written non-atomically within a flow.
type Engine struct {
	db      db.Database
	chain   Chain
	relayer Submitter
	prover  prover.Prover
	ids     *identity.Registry
	chunks  *nullifier.Registry
	steps   *stepRunner

	circuitID      uint32
	relayerFeeBps  uint16
	lookupTables   []string
	signedIntents  bool
	intentTTL      time.Duration
	intentTTLSlots uint64

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// identity key material, derived once
	keyOnce sync.Once
	keyErr  error
	secret  *big.Int
	tagHash *big.Int
	pub     ecc.Point
}

// New creates an engine bound to one signing key.
func New(opts Options) (*Engine, error) {
	if opts.DB == nil || opts.Chain == nil || opts.Prover == nil {
		return nil, fmt.Errorf("engine requires a database, a chain client and a prover")
	}
	if opts.IntentTTLSlots == 0 {
		opts.IntentTTLSlots = 1500 // roughly ten minutes of slots
	}
	if opts.IntentTTL == 0 {
		opts.IntentTTL = 2 * time.Minute
	}
	return &Engine{
		db:             opts.DB,
		chain:          opts.Chain,
		relayer:        opts.Relayer,
		prover:         opts.Prover,
		ids:            identity.NewRegistry(opts.DB, opts.Chain),
		chunks:         nullifier.NewRegistry(opts.Chain),
		steps:          &stepRunner{observe: opts.Observer},
		circuitID:      opts.CircuitID,
		relayerFeeBps:  opts.RelayerFeeBps,
		lookupTables:   opts.LookupTables,
		signedIntents:  opts.SignedIntents,
		intentTTL:      opts.IntentTTL,
		intentTTLSlots: opts.IntentTTLSlots,
		locks:          map[string]*sync.Mutex{},
	}, nil
}

// assetLock returns the mutex serializing flows of one asset. Two flows
// against the same asset must never overlap on one client.
func (e *Engine) assetLock(mint ledger.Address) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := mint.String()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// keys derives the identity secret, the note tag hash and the encryption
// public key from the signing key. Derivation is deterministic, so it
// runs once per engine.
func (e *Engine) keys() (secret, tagHash *big.Int, pub ecc.Point, err error) {
	e.keyOnce.Do(func() {
		e.secret, e.keyErr = identity.DeriveSecret(e.chain.Signer())
		if e.keyErr != nil {
			return
		}
		e.tagHash, e.keyErr = identity.Commitment(e.secret)
		if e.keyErr != nil {
			return
		}
		e.pub = noteenc.KeyPair(e.secret)
	})
	return e.secret, e.tagHash, e.pub, e.keyErr
}

// store returns the note store of this signer and asset.
func (e *Engine) store(mint ledger.Address) *note.Store {
	owner := e.chain.Signer().PublicAddress()
	return note.NewStore(e.db, owner[:], mint[:])
}

// sync fetches the shielded pool head and reconciles the local note set
// against it. Local surplus from a failed broadcast is trimmed; any other
// divergence is fatal.
func (e *Engine) sync(ctx context.Context, mint ledger.Address) (*ledger.ShieldedState, error) {
	state, err := e.chain.ShieldedState(ctx, mint)
	if err != nil {
		return nil, fail(Desync, err)
	}
	onChainRoot := new(big.Int).SetBytes(state.MerkleRoot[:])
	if err := e.store(mint).Reconcile(state.CommitmentCount, onChainRoot, types.CommitmentTreeDepth); err != nil {
		return nil, fail(Desync, err)
	}
	log.Debugw("local state in sync", "mint", mint.String(),
		"commitments", state.CommitmentCount, "root", onChainRoot.String())
	return state, nil
}

// recheckRoot re-fetches the pool head right before submission and fails
// when the chain moved since the witness was built. The program would
// still accept a proof root from its recent-root ring, but every mutating
// instruction carries a client-computed new root over the full leaf list,
// so an advanced pool invalidates the flow either way; failing here keeps
// the nullifiers unpresented. The ring only sharpens the diagnosis: a
// proof root still inside it means a plain resync recovers, one that
// expired means the local view is stale beyond the grace window.
func (e *Engine) recheckRoot(ctx context.Context, mint ledger.Address, witnessRoot *big.Int, count uint64) error {
	state, err := e.chain.ShieldedState(ctx, mint)
	if err != nil {
		return fail(Desync, err)
	}
	if state.CommitmentCount != count {
		var wr [32]byte
		witnessRoot.FillBytes(wr[:])
		if state.RootKnown(wr) {
			return failf(Desync, "chain advanced during flow: %d commitments, expected %d; proof root is still in the recent-root ring, resync and retry",
				state.CommitmentCount, count)
		}
		return failf(Desync, "chain advanced during flow: %d commitments, expected %d",
			state.CommitmentCount, count)
	}
	current := new(big.Int).SetBytes(state.MerkleRoot[:])
	if current.Cmp(witnessRoot) != 0 {
		return failf(Desync, "on-chain root changed during flow")
	}
	return nil
}

// config fetches the program config and validates this client's circuit
// and fee settings against it.
func (e *Engine) config(ctx context.Context, mint ledger.Address) (*ledger.Config, error) {
	cfg, err := e.chain.Config(ctx)
	if err != nil {
		return nil, fail(Desync, err)
	}
	if cfg.Paused {
		return nil, failf(ChainRejection, "protocol is paused")
	}
	if !cfg.AllowsCircuit(e.circuitID) {
		return nil, failf(ChainRejection, "circuit %d is not in the allowlist", e.circuitID)
	}
	if len(cfg.MintAllowlist) > 0 {
		allowed := false
		for _, m := range cfg.MintAllowlist {
			if m == mint {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, failf(ChainRejection, "mint %s is not allowed", mint)
		}
	}
	if e.relayerFeeBps > cfg.RelayerFeeBpsMax {
		return nil, failf(ChainRejection, "relayer fee %d bps exceeds maximum %d",
			e.relayerFeeBps, cfg.RelayerFeeBpsMax)
	}
	return cfg, nil
}

// splitRelayerFee mirrors the on-chain fee split: floor(amount*bps/10000),
// and the fee must stay below the amount.
func splitRelayerFee(amount uint64, feeBps uint16) (net, fee uint64, err error) {
	if feeBps == 0 {
		return amount, 0, nil
	}
	f := new(big.Int).Mul(new(big.Int).SetUint64(amount), big.NewInt(int64(feeBps)))
	f.Div(f, big.NewInt(10000))
	fee = f.Uint64()
	if fee >= amount {
		return 0, 0, fmt.Errorf("relayer fee %d swallows amount %d", fee, amount)
	}
	return amount - fee, fee, nil
}

// submit sends a signed transaction out, through the relayer when one is
// configured. Whatever the outcome, the transaction is never re-sent: its
// nullifiers may already be marked.
func (e *Engine) submit(ctx context.Context, instrs []ledger.Instruction) (string, error) {
	if e.relayer == nil {
		sig, err := e.chain.SignAndSend(ctx, instrs)
		if err != nil {
			return "", fail(ChainRejection, err)
		}
		return sig, nil
	}
	raw, err := e.chain.SignTransaction(ctx, instrs)
	if err != nil {
		return "", fail(ChainRejection, err)
	}
	if e.signedIntents {
		expiresAt := time.Now().Add(e.intentTTL).UnixMilli()
		sig, err := e.relayer.ExecuteSignedIntent(ctx, e.chain.Signer(), raw, expiresAt, e.lookupTables)
		if err != nil {
			return "", fail(RelayerFailure, err)
		}
		return sig, nil
	}
	sig, err := e.relayer.Execute(ctx, raw)
	if err != nil {
		return "", fail(RelayerFailure, err)
	}
	return sig, nil
}
