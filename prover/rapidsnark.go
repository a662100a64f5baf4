package prover

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iden3/go-rapidsnark/prover"
	"github.com/iden3/go-rapidsnark/witness"
	"github.com/vocdoni/circom2gnark/parser"
	"go.vocdoni.io/dvote/log"
)

// DefaultProveTimeout bounds a proving run when the caller's context has no
// deadline of its own.
const DefaultProveTimeout = 3 * time.Minute

// Rapidsnark is a Prover backed by the rapidsnark Groth16 prover and the
// circom witness calculator, with local verification through the gnark
// conversion of the circuit verification key.
type Rapidsnark struct {
	wasm       []byte
	provingKey []byte
	vkey       []byte
	calc       *witness.Circom2WitnessCalculator
}

// NewRapidsnark builds a Rapidsnark prover from the circuit artifacts: the
// circom wasm, the Groth16 proving key and the verification key JSON.
func NewRapidsnark(wasm, provingKey, vkey []byte) (*Rapidsnark, error) {
	calc, err := witness.NewCircom2WitnessCalculator(wasm, true)
	if err != nil {
		return nil, fmt.Errorf("cannot instance witness calculator: %w", err)
	}
	return &Rapidsnark{
		wasm:       wasm,
		provingKey: provingKey,
		vkey:       vkey,
		calc:       calc,
	}, nil
}

// Prove parses the circom inputs, calculates the witness and generates a
// Groth16 proof. The call is bounded by the context deadline (or
// DefaultProveTimeout when none is set) and returns ErrTimeout when
// exceeded.
func (r *Rapidsnark) Prove(ctx context.Context, inputs []byte) (*Proof, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultProveTimeout)
		defer cancel()
	}
	type result struct {
		proof *Proof
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		start := time.Now()
		parsedInputs, err := witness.ParseInputs(inputs)
		if err != nil {
			ch <- result{nil, fmt.Errorf("cannot parse witness inputs: %w", err)}
			return
		}
		wtns, err := r.calc.CalculateWTNSBin(parsedInputs, true)
		if err != nil {
			ch <- result{nil, fmt.Errorf("cannot calculate witness: %w", err)}
			return
		}
		proofJSON, pubSignalsJSON, err := prover.Groth16ProverRaw(r.provingKey, wtns)
		if err != nil {
			ch <- result{nil, fmt.Errorf("cannot generate proof: %w", err)}
			return
		}
		pubSignals, err := parser.UnmarshalCircomPublicSignalsJSON([]byte(pubSignalsJSON))
		if err != nil {
			ch <- result{nil, fmt.Errorf("cannot parse public signals: %w", err)}
			return
		}
		log.Debugw("proof generated", "duration", time.Since(start).String(),
			"signals", len(pubSignals))
		ch <- result{&Proof{
			CircomProof:   json.RawMessage(proofJSON),
			PublicSignals: pubSignals,
		}, nil}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case res := <-ch:
		return res.proof, res.err
	}
}

// Verify converts the circom proof to gnark format and verifies it against
// the circuit verification key. It is bounded by the context deadline.
func (r *Rapidsnark) Verify(ctx context.Context, proof *Proof) (bool, error) {
	type result struct {
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	go func() {
		proofData, err := parser.UnmarshalCircomProofJSON([]byte(proof.CircomProof))
		if err != nil {
			ch <- result{false, fmt.Errorf("cannot parse circom proof: %w", err)}
			return
		}
		vkeyData, err := parser.UnmarshalCircomVerificationKeyJSON(r.vkey)
		if err != nil {
			ch <- result{false, fmt.Errorf("cannot parse verification key: %w", err)}
			return
		}
		gnarkProof, err := parser.ConvertCircomToGnark(proofData, vkeyData, proof.PublicSignals)
		if err != nil {
			ch <- result{false, fmt.Errorf("cannot convert proof to gnark: %w", err)}
			return
		}
		ok, err := parser.VerifyProof(gnarkProof)
		ch <- result{ok, err}
	}()
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case res := <-ch:
		return res.ok, res.err
	}
}
