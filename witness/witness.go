// Package witness assembles the fixed-arity input of the spend circuit from
// the note store, the commitment tree and the registries. The circuit shape
// is fixed at MaxInputs spend slots and MaxOutputs output slots; unused
// slots are zero-filled so the constraint system is always satisfiable.
package witness

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/veilpay/veilpay-go/merkle"
	"github.com/veilpay/veilpay-go/note"
	"github.com/veilpay/veilpay-go/nullifier"
	"github.com/veilpay/veilpay-go/types"
)

// ErrMalformedNote is returned when an enabled output note is missing any
// of its encryption fields. It is a fatal construction error: a receiver
// depends on those fields to recover the plaintext amount later, so the
// builder never silently zero-fills them.
var ErrMalformedNote = errors.New("output note missing encryption fields")

// Input is one input slot of the spend circuit.
type Input struct {
	Enabled          bool
	Amount           uint64
	Randomness       *big.Int
	SenderSecret     *big.Int
	LeafIndex        uint64
	RecipientTagHash *big.Int
	Nullifier        *big.Int
	Siblings         []*big.Int
	Positions        []uint8
}

// Output is one output slot of the spend circuit.
type Output struct {
	Enabled          bool
	Commitment       *big.Int
	Amount           uint64
	Randomness       *big.Int
	RecipientTagHash *big.Int
	RecipientX       *big.Int
	RecipientY       *big.Int
	EphemeralKey     *big.Int
	C1X              *big.Int
	C1Y              *big.Int
	C2Amount         *big.Int
	C2Randomness     *big.Int
}

// SpendWitness is the full private+public input set of one spend proof.
type SpendWitness struct {
	Inputs  [types.MaxInputs]Input
	Outputs [types.MaxOutputs]Output

	// Root is the single commitment tree root all input paths open
	// against.
	Root *big.Int

	IdentityRoot      *big.Int
	IdentitySecret    *big.Int
	IdentityLeafIndex uint64
	IdentitySiblings  []*big.Int
	IdentityPositions []uint8

	AmountOut uint64
	FeeAmount uint64
	CircuitID uint32
}

// BuildParams carries everything the builder reads.
type BuildParams struct {
	// Commitments is the full ordered leaf list of the commitment tree;
	// every input path is generated from it so all paths share one root.
	Commitments []*big.Int
	TreeDepth   int

	Inputs  []*note.Note // up to MaxInputs unspent notes
	Outputs []*note.Note // positional, up to MaxOutputs; nil disables a slot

	IdentitySecret    *big.Int
	IdentityRoot      *big.Int
	IdentityLeafIndex uint64
	IdentityProof     *merkle.Proof

	// SenderPubX/Y is the sender's own derived public key, used as the
	// recipient key of disabled output slots.
	SenderPubX *big.Int
	SenderPubY *big.Int

	AmountOut uint64
	FeeAmount uint64
	CircuitID uint32
}

// Build assembles a SpendWitness. Every enabled input gets its merkle path
// and nullifier; every enabled output is checked for complete encryption
// fields. Disabled slots are zero-filled (with the sender's own key in the
// recipient position, so the fixed-shape circuit constraints hold).
func Build(params BuildParams) (*SpendWitness, error) {
	if len(params.Inputs) == 0 || len(params.Inputs) > types.MaxInputs {
		return nil, fmt.Errorf("invalid input count %d", len(params.Inputs))
	}
	if len(params.Outputs) > types.MaxOutputs {
		return nil, fmt.Errorf("invalid output count %d", len(params.Outputs))
	}
	if params.IdentityProof == nil {
		return nil, fmt.Errorf("missing identity proof")
	}
	w := &SpendWitness{
		IdentityRoot:      params.IdentityRoot,
		IdentitySecret:    params.IdentitySecret,
		IdentityLeafIndex: params.IdentityLeafIndex,
		IdentitySiblings:  params.IdentityProof.Siblings,
		IdentityPositions: params.IdentityProof.Positions,
		AmountOut:         params.AmountOut,
		FeeAmount:         params.FeeAmount,
		CircuitID:         params.CircuitID,
	}

	zeroPath := merkle.ZeroHashes(params.TreeDepth)
	for slot := range w.Inputs {
		if slot >= len(params.Inputs) {
			w.Inputs[slot] = zeroInput(zeroPath, params.TreeDepth)
			continue
		}
		n := params.Inputs[slot]
		proof, err := merkle.GenerateProof(params.Commitments, params.TreeDepth, n.LeafIndex)
		if err != nil {
			return nil, fmt.Errorf("cannot build path for leaf %d: %w", n.LeafIndex, err)
		}
		if w.Root == nil {
			w.Root = proof.Root
		} else if w.Root.Cmp(proof.Root) != 0 {
			return nil, fmt.Errorf("inconsistent tree roots across input paths")
		}
		nf, err := nullifier.Compute(n.SenderSecret.MathBigInt(), n.LeafIndex)
		if err != nil {
			return nil, err
		}
		w.Inputs[slot] = Input{
			Enabled:          true,
			Amount:           n.Amount,
			Randomness:       n.Randomness.MathBigInt(),
			SenderSecret:     n.SenderSecret.MathBigInt(),
			LeafIndex:        n.LeafIndex,
			RecipientTagHash: n.RecipientTagHash.MathBigInt(),
			Nullifier:        nf,
			Siblings:         proof.Siblings,
			Positions:        proof.Positions,
		}
	}

	for slot := range w.Outputs {
		if slot >= len(params.Outputs) || params.Outputs[slot] == nil {
			w.Outputs[slot] = Output{
				Enabled:          false,
				Commitment:       big.NewInt(0),
				Randomness:       big.NewInt(0),
				RecipientTagHash: big.NewInt(0),
				RecipientX:       params.SenderPubX,
				RecipientY:       params.SenderPubY,
				EphemeralKey:     big.NewInt(0),
				C1X:              big.NewInt(0),
				C1Y:              big.NewInt(0),
				C2Amount:         big.NewInt(0),
				C2Randomness:     big.NewInt(0),
			}
			continue
		}
		n := params.Outputs[slot]
		if !n.HasCiphertext() || n.EphemeralKey == nil || n.RecipientX == nil || n.RecipientY == nil {
			return nil, fmt.Errorf("%w: output slot %d", ErrMalformedNote, slot)
		}
		w.Outputs[slot] = Output{
			Enabled:          true,
			Commitment:       n.Commitment.MathBigInt(),
			Amount:           n.Amount,
			Randomness:       n.Randomness.MathBigInt(),
			RecipientTagHash: n.RecipientTagHash.MathBigInt(),
			RecipientX:       n.RecipientX.MathBigInt(),
			RecipientY:       n.RecipientY.MathBigInt(),
			EphemeralKey:     n.EphemeralKey.MathBigInt(),
			C1X:              n.C1X.MathBigInt(),
			C1Y:              n.C1Y.MathBigInt(),
			C2Amount:         n.C2Amount.MathBigInt(),
			C2Randomness:     n.C2Randomness.MathBigInt(),
		}
	}
	return w, nil
}

func zeroInput(zeroPath []*big.Int, depth int) Input {
	siblings := make([]*big.Int, depth)
	positions := make([]uint8, depth)
	for l := 0; l < depth; l++ {
		siblings[l] = zeroPath[l]
	}
	return Input{
		Enabled:          false,
		Randomness:       big.NewInt(0),
		SenderSecret:     big.NewInt(0),
		RecipientTagHash: big.NewInt(0),
		Nullifier:        big.NewInt(0),
		Siblings:         siblings,
		Positions:        positions,
	}
}

// PublicSignals returns the public signal vector in the exact order the
// on-chain verifier parses it: root, identity root, one nullifier per input
// slot, one commitment and one enabled flag per output slot, amountOut,
// feeAmount and circuitId.
func (w *SpendWitness) PublicSignals() []*big.Int {
	signals := make([]*big.Int, 0, types.PublicInputsLen)
	signals = append(signals, w.Root, w.IdentityRoot)
	for i := range w.Inputs {
		if w.Inputs[i].Enabled {
			signals = append(signals, w.Inputs[i].Nullifier)
		} else {
			signals = append(signals, big.NewInt(0))
		}
	}
	for i := range w.Outputs {
		signals = append(signals, w.Outputs[i].Commitment)
	}
	for i := range w.Outputs {
		signals = append(signals, big.NewInt(int64(boolToInt(w.Outputs[i].Enabled))))
	}
	signals = append(signals,
		new(big.Int).SetUint64(w.AmountOut),
		new(big.Int).SetUint64(w.FeeAmount),
		new(big.Int).SetUint64(uint64(w.CircuitID)),
	)
	return signals
}

// PublicSignalsBytes serializes the public signal vector to the byte layout
// the on-chain program expects: PublicInputsLen 32-byte big-endian chunks.
func (w *SpendWitness) PublicSignalsBytes() ([]byte, error) {
	signals := w.PublicSignals()
	buf := make([]byte, 0, len(signals)*32)
	for _, s := range signals {
		be, err := types.FieldBytes(s)
		if err != nil {
			return nil, err
		}
		buf = append(buf, be[:]...)
	}
	return buf, nil
}

// Nullifiers returns the nullifiers of the enabled inputs.
func (w *SpendWitness) Nullifiers() []*big.Int {
	var out []*big.Int
	for i := range w.Inputs {
		if w.Inputs[i].Enabled {
			out = append(out, w.Inputs[i].Nullifier)
		}
	}
	return out
}

// NewCommitments returns the commitments of the enabled outputs in slot
// order; they are the leaves the flow appends to the local tree on success.
func (w *SpendWitness) NewCommitments() []*big.Int {
	var out []*big.Int
	for i := range w.Outputs {
		if w.Outputs[i].Enabled {
			out = append(out, w.Outputs[i].Commitment)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
