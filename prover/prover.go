// Package prover wraps the external Groth16 prover and verifier for the
// spend circuit. The circuit itself is a black box: the engine hands over
// the serialized witness inputs and gets back an opaque proof plus the
// public signal vector, which must match byte for byte what the on-chain
// verifier parses.
package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/veilpay/veilpay-go/types"
)

// ErrTimeout is returned when a prove or verify call exceeds its context
// deadline.
var ErrTimeout = errors.New("prover call timed out")

// Proof is the result of one proving run: the circom-format proof document
// and the ordered public signals.
type Proof struct {
	CircomProof   json.RawMessage `json:"proof"`
	PublicSignals []string        `json:"publicSignals"`
}

// Prover generates and verifies spend proofs over a fixed, versioned
// circuit.
type Prover interface {
	// Prove runs the witness calculator and the Groth16 prover over the
	// serialized circom inputs.
	Prove(ctx context.Context, inputs []byte) (*Proof, error)
	// Verify checks a proof against its public signals. It is used as a
	// local preflight before any chain-mutating call.
	Verify(ctx context.Context, proof *Proof) (bool, error)
}

// PublicSignalBigInts parses the decimal public signals into field elements.
func (p *Proof) PublicSignalBigInts() ([]*big.Int, error) {
	out := make([]*big.Int, len(p.PublicSignals))
	for i, s := range p.PublicSignals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid public signal %q", s)
		}
		out[i] = v
	}
	return out, nil
}

// PublicSignalsBytes serializes the public signals to the on-chain layout:
// one canonical 32-byte big-endian chunk per signal.
func (p *Proof) PublicSignalsBytes() ([]byte, error) {
	signals, err := p.PublicSignalBigInts()
	if err != nil {
		return nil, err
	}
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

// circomProofDoc is the subset of the snarkjs proof document needed to
// serialize the proof for the chain.
type circomProofDoc struct {
	PiA []string   `json:"pi_a"`
	PiB [][]string `json:"pi_b"`
	PiC []string   `json:"pi_c"`
}

// Bytes serializes the proof to the 256-byte layout the on-chain verifier
// consumes: A (64 bytes), B (128 bytes), C (64 bytes), every coordinate a
// 32-byte big-endian integer, with B limbs in the on-chain order (imaginary
// part first).
func (p *Proof) Bytes() ([]byte, error) {
	var doc circomProofDoc
	if err := json.Unmarshal(p.CircomProof, &doc); err != nil {
		return nil, fmt.Errorf("cannot parse circom proof: %w", err)
	}
	if len(doc.PiA) < 2 || len(doc.PiB) < 2 || len(doc.PiB[0]) < 2 ||
		len(doc.PiB[1]) < 2 || len(doc.PiC) < 2 {
		return nil, fmt.Errorf("malformed circom proof document")
	}
	coords := []string{
		doc.PiA[0], doc.PiA[1],
		doc.PiB[0][1], doc.PiB[0][0],
		doc.PiB[1][1], doc.PiB[1][0],
		doc.PiC[0], doc.PiC[1],
	}
	buf := make([]byte, 0, len(coords)*32)
	for _, c := range coords {
		v, ok := new(big.Int).SetString(c, 10)
		if !ok {
			return nil, fmt.Errorf("invalid proof coordinate %q", c)
		}
		chunk := make([]byte, 32)
		v.FillBytes(chunk)
		buf = append(buf, chunk...)
	}
	return buf, nil
}
