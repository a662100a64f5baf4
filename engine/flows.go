package engine

import (
	"bytes"
	"context"
	"errors"
	"math/big"

	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay-go/crypto/ecc"
	"github.com/veilpay/veilpay-go/crypto/ecc/bjj"
	"github.com/veilpay/veilpay-go/ledger"
	"github.com/veilpay/veilpay-go/merkle"
	"github.com/veilpay/veilpay-go/note"
	"github.com/veilpay/veilpay-go/nullifier"
	"github.com/veilpay/veilpay-go/prover"
	"github.com/veilpay/veilpay-go/types"
	"github.com/veilpay/veilpay-go/witness"
)

// RecipientKey identifies a shielded payee: the tag hash notes are bound
// to and the encryption public key ciphertexts are built for.
type RecipientKey struct {
	TagHash *big.Int
	PubX    *big.Int
	PubY    *big.Int
}

func (r *RecipientKey) point() ecc.Point {
	return bjj.New().SetPoint(r.PubX, r.PubY)
}

// Result is the outcome of a successful flow.
type Result struct {
	Signature   string
	SpentLeaves []uint64
	NewNotes    []*note.Note
}

// Deposit moves public tokens into the shielded pool, creating one note
// owned by this client. No proof is needed; the chain verifies the token
// transfer itself.
func (e *Engine) Deposit(ctx context.Context, mint ledger.Address, amount uint64) (*Result, error) {
	if amount == 0 {
		return nil, failf(InsufficientFunds, "deposit amount must be positive")
	}
	lock := e.assetLock(mint)
	lock.Lock()
	defer lock.Unlock()

	var state *ledger.ShieldedState
	if err := e.steps.run(StepSync, func() (err error) {
		if state, err = e.sync(ctx, mint); err != nil {
			return err
		}
		_, err = e.config(ctx, mint)
		return err
	}); err != nil {
		return nil, err
	}

	secret, tagHash, pub, err := e.keys()
	if err != nil {
		return nil, fail(MalformedNote, err)
	}
	n, err := note.New(mint[:], amount, secret, tagHash, pub, state.CommitmentCount)
	if err != nil {
		return nil, fail(MalformedNote, err)
	}
	newRoot, err := e.appendedRoot(mint, []*big.Int{n.Commitment.MathBigInt()})
	if err != nil {
		return nil, fail(Desync, err)
	}
	ciphertext, err := n.CiphertextBlob()
	if err != nil {
		return nil, fail(MalformedNote, err)
	}
	commitmentBE, err := types.FieldBytes(n.Commitment.MathBigInt())
	if err != nil {
		return nil, fail(MalformedNote, err)
	}
	newRootBE, err := types.FieldBytes(newRoot)
	if err != nil {
		return nil, fail(Desync, err)
	}
	signer := e.chain.Signer()
	userATA, err := ledger.AssociatedTokenAddress(signer.PublicAddress(), mint)
	if err != nil {
		return nil, fail(ChainRejection, err)
	}
	ix, err := ledger.DepositInstruction(ledger.DepositParams{
		Mint:       mint,
		User:       signer.PublicAddress(),
		UserATA:    userATA,
		Amount:     amount,
		Ciphertext: ciphertext,
		Commitment: commitmentBE[:],
		NewRoot:    newRootBE[:],
	})
	if err != nil {
		return nil, fail(ChainRejection, err)
	}

	var sig string
	if err := e.steps.run(StepSubmit, func() error {
		if err := e.recheckRoot(ctx, mint, new(big.Int).SetBytes(state.MerkleRoot[:]), state.CommitmentCount); err != nil {
			return err
		}
		sig, err = e.submit(ctx, []ledger.Instruction{ix})
		return err
	}); err != nil {
		return nil, err
	}

	if err := e.steps.run(StepCommit, func() error {
		return e.store(mint).Add(n)
	}); err != nil {
		return nil, fail(Desync, err)
	}
	log.Infow("deposit complete", "mint", mint.String(), "amount", amount,
		"leaf", n.LeafIndex, "signature", sig)
	return &Result{Signature: sig, NewNotes: []*note.Note{n}}, nil
}

// Withdraw spends shielded notes and releases tokens to a public token
// account, minus the configured relayer fee.
func (e *Engine) Withdraw(ctx context.Context, mint ledger.Address, amount uint64, recipientATA, relayerFeeATA ledger.Address) (*Result, error) {
	return e.runSpend(ctx, mint, spendRequest{
		kind:           spendWithdraw,
		amount:         amount,
		destinationATA: recipientATA,
		relayerFeeATA:  relayerFeeATA,
	})
}

// ExternalTransfer spends shielded notes toward an arbitrary public token
// account. The chain treats it like a withdraw with a free-form
// destination.
func (e *Engine) ExternalTransfer(ctx context.Context, mint ledger.Address, amount uint64, destinationATA, relayerFeeATA ledger.Address) (*Result, error) {
	return e.runSpend(ctx, mint, spendRequest{
		kind:           spendExternal,
		amount:         amount,
		destinationATA: destinationATA,
		relayerFeeATA:  relayerFeeATA,
	})
}

// InternalTransfer moves value to another shielded recipient without any
// token leaving the pool.
func (e *Engine) InternalTransfer(ctx context.Context, mint ledger.Address, amount uint64, recipient *RecipientKey) (*Result, error) {
	if recipient == nil {
		return nil, failf(MalformedNote, "internal transfer requires a recipient key")
	}
	return e.runSpend(ctx, mint, spendRequest{
		kind:      spendInternal,
		amount:    amount,
		recipient: recipient,
	})
}

type spendKind int

const (
	spendWithdraw spendKind = iota + 1
	spendExternal
	spendInternal
)

type spendRequest struct {
	kind           spendKind
	amount         uint64
	recipient      *RecipientKey
	destinationATA ledger.Address
	relayerFeeATA  ledger.Address
}

// runSpend is the shared proof-carrying pipeline: sync, select inputs,
// build outputs and witness, prove, preflight-verify, ensure nullifier
// chunks, recheck the root and submit exactly once, then commit the local
// spend.
func (e *Engine) runSpend(ctx context.Context, mint ledger.Address, req spendRequest) (*Result, error) {
	if req.amount == 0 {
		return nil, failf(InsufficientFunds, "spend amount must be positive")
	}
	lock := e.assetLock(mint)
	lock.Lock()
	defer lock.Unlock()

	var state *ledger.ShieldedState
	if err := e.steps.run(StepSync, func() (err error) {
		if state, err = e.sync(ctx, mint); err != nil {
			return err
		}
		_, err = e.config(ctx, mint)
		return err
	}); err != nil {
		return nil, err
	}

	secret, tagHash, pub, err := e.keys()
	if err != nil {
		return nil, fail(MalformedNote, err)
	}

	var idRoot *big.Int
	var idLeaf uint64
	var idProof *merkle.Proof
	if err := e.steps.run(StepRegister, func() (err error) {
		idRoot, idLeaf, idProof, err = e.ids.EnsureRegistered(ctx, secret)
		if err != nil {
			return fail(Desync, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	store := e.store(mint)
	var sel *note.Selection
	if err := e.steps.run(StepSelect, func() error {
		spendable, err := store.ListSpendable(state.CommitmentCount)
		if err != nil {
			return fail(Desync, err)
		}
		sel, err = note.SelectForAmount(spendable, req.amount, types.MaxInputs)
		if err != nil {
			if errors.Is(err, note.ErrInsufficientFunds) {
				return fail(InsufficientFunds, err)
			}
			return fail(Desync, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Fee and public amount depend on the flow variant. Internal
	// transfers keep everything shielded: zero public amount, zero fee,
	// recipient output enabled.
	var amountOut, feeAmount uint64
	var feeBps uint16
	switch req.kind {
	case spendInternal:
		amountOut, feeAmount = 0, 0
	default:
		feeBps = e.relayerFeeBps
		_, fee, err := splitRelayerFee(req.amount, feeBps)
		if err != nil {
			return nil, fail(ChainRejection, err)
		}
		amountOut, feeAmount = req.amount, fee
	}

	// Outputs are positional: slot 0 is the shielded recipient (only in
	// internal transfers), slot 1 is change back to self. Enabled slots
	// take consecutive leaf indices from the confirmed count.
	outputs := make([]*note.Note, types.MaxOutputs)
	nextLeaf := state.CommitmentCount
	if req.kind == spendInternal {
		out, err := note.New(mint[:], req.amount, secret, req.recipient.TagHash, req.recipient.point(), nextLeaf)
		if err != nil {
			return nil, fail(MalformedNote, err)
		}
		out.Foreign = true // stored for the leaf list, spendable only by the recipient
		outputs[0] = out
		nextLeaf++
	}
	change := sel.Change(req.amount)
	if change > 0 {
		out, err := note.New(mint[:], change, secret, tagHash, pub, nextLeaf)
		if err != nil {
			return nil, fail(MalformedNote, err)
		}
		outputs[1] = out
	}

	commitments, err := store.Commitments()
	if err != nil {
		return nil, fail(Desync, err)
	}
	var w *witness.SpendWitness
	if err := e.steps.run(StepWitness, func() (err error) {
		senderX, senderY := pub.Point()
		w, err = witness.Build(witness.BuildParams{
			Commitments:       commitments,
			TreeDepth:         types.CommitmentTreeDepth,
			Inputs:            sel.Notes,
			Outputs:           outputs,
			IdentitySecret:    secret,
			IdentityRoot:      idRoot,
			IdentityLeafIndex: idLeaf,
			IdentityProof:     idProof,
			SenderPubX:        senderX,
			SenderPubY:        senderY,
			AmountOut:         amountOut,
			FeeAmount:         feeAmount,
			CircuitID:         e.circuitID,
		})
		if err != nil {
			if errors.Is(err, witness.ErrMalformedNote) {
				return fail(MalformedNote, err)
			}
			return fail(Desync, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var proof *prover.Proof
	if err := e.steps.run(StepProve, func() error {
		inputs, err := w.CircomInputs()
		if err != nil {
			return fail(ProofFailure, err)
		}
		if proof, err = e.prover.Prove(ctx, inputs); err != nil {
			return fail(ProofFailure, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	publicInputs, err := w.PublicSignalsBytes()
	if err != nil {
		return nil, fail(ProofFailure, err)
	}
	if err := e.steps.run(StepVerify, func() error {
		proved, err := proof.PublicSignalsBytes()
		if err != nil {
			return fail(ProofFailure, err)
		}
		if !bytes.Equal(proved, publicInputs) {
			return failf(ProofFailure, "prover public signals diverge from witness")
		}
		ok, err := e.prover.Verify(ctx, proof)
		if err != nil {
			return fail(ProofFailure, err)
		}
		if !ok {
			return failf(ProofFailure, "preflight verification rejected the proof")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	nullifiers := w.Nullifiers()
	var chunkIndexes []uint32
	if err := e.steps.run(StepChunks, func() (err error) {
		chunkIndexes, err = e.chunks.EnsureChunks(ctx, mint[:], nullifiers)
		if err != nil {
			return fail(ChainRejection, err)
		}
		// Probe the on-chain bitsets before presenting anything: the
		// program would reject an already-set nullifier anyway, so
		// surface the rejection here instead of burning a submission.
		for _, nf := range nullifiers {
			chunkIdx, err := nullifier.ChunkIndex(nf)
			if err != nil {
				return fail(Desync, err)
			}
			bitIdx, err := nullifier.BitIndex(nf)
			if err != nil {
				return fail(Desync, err)
			}
			spent, err := e.chain.NullifierSpent(ctx, mint, chunkIdx, bitIdx)
			if err != nil {
				return fail(Desync, err)
			}
			if spent {
				return failf(ChainRejection, "nullifier already spent on-chain (chunk %d bit %d)", chunkIdx, bitIdx)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	newRoot, err := e.appendedRoot(mint, w.NewCommitments())
	if err != nil {
		return nil, fail(Desync, err)
	}
	newRootBE, err := types.FieldBytes(newRoot)
	if err != nil {
		return nil, fail(Desync, err)
	}
	proofBytes, err := proof.Bytes()
	if err != nil {
		return nil, fail(ProofFailure, err)
	}
	verifierProgram, verifierKey := e.chain.VerifierAccounts()
	params := ledger.SpendParams{
		Mint:            mint,
		Proof:           proofBytes,
		PublicInputs:    publicInputs,
		NewRoot:         newRootBE[:],
		PrimaryChunk:    chunkIndexes[0],
		ExtraChunks:     chunkIndexes[1:],
		VerifierProgram: verifierProgram,
		VerifierKey:     verifierKey,
	}
	var ix ledger.Instruction
	switch req.kind {
	case spendWithdraw:
		ix, err = ledger.WithdrawInstruction(params, req.amount, feeBps, req.destinationATA, req.relayerFeeATA)
	case spendExternal:
		ix, err = ledger.ExternalTransferInstruction(params, req.amount, feeBps, req.destinationATA, req.relayerFeeATA)
	case spendInternal:
		ix, err = ledger.InternalTransferInstruction(params)
	}
	if err != nil {
		return nil, fail(ChainRejection, err)
	}

	var sig string
	if err := e.steps.run(StepSubmit, func() error {
		if err := e.recheckRoot(ctx, mint, w.Root, state.CommitmentCount); err != nil {
			return err
		}
		sig, err = e.submit(ctx, []ledger.Instruction{ix})
		return err
	}); err != nil {
		return nil, err
	}

	spentLeaves := make([]uint64, len(sel.Notes))
	for i, n := range sel.Notes {
		spentLeaves[i] = n.LeafIndex
	}
	kept := keptOutputs(outputs)
	if err := e.steps.run(StepCommit, func() error {
		return store.CommitSpend(spentLeaves, kept)
	}); err != nil {
		return nil, fail(Desync, err)
	}
	log.Infow("spend complete", "mint", mint.String(), "amount", req.amount,
		"inputs", len(sel.Notes), "outputs", len(kept), "signature", sig)
	return &Result{Signature: sig, SpentLeaves: spentLeaves, NewNotes: kept}, nil
}

// Balance returns the spendable shielded balance of an asset: the sum of
// unspent owned notes the chain has confirmed.
func (e *Engine) Balance(ctx context.Context, mint ledger.Address) (uint64, error) {
	lock := e.assetLock(mint)
	lock.Lock()
	defer lock.Unlock()
	state, err := e.sync(ctx, mint)
	if err != nil {
		return 0, err
	}
	spendable, err := e.store(mint).ListSpendable(state.CommitmentCount)
	if err != nil {
		return 0, fail(Desync, err)
	}
	var sum uint64
	for _, n := range spendable {
		sum += n.Amount
	}
	return sum, nil
}

// appendedRoot computes the tree root after appending the given
// commitments to the local leaf list.
func (e *Engine) appendedRoot(mint ledger.Address, appended []*big.Int) (*big.Int, error) {
	commitments, err := e.store(mint).Commitments()
	if err != nil {
		return nil, err
	}
	leaves := make([]*big.Int, 0, len(commitments)+len(appended))
	leaves = append(leaves, commitments...)
	leaves = append(leaves, appended...)
	return merkle.Root(leaves, types.CommitmentTreeDepth)
}

// keptOutputs filters the positional output slice down to the notes this
// client stores: everything non-nil (the recipient note of an internal
// transfer is stored too, so the sender can hand over the ciphertext).
func keptOutputs(outputs []*note.Note) []*note.Note {
	var kept []*note.Note
	for _, n := range outputs {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return kept
}
