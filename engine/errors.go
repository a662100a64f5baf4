package engine

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a flow stopped. Every failure an engine flow
// returns wraps exactly one of these.
type FailureKind int

const (
	// Desync means the local cryptographic state disagrees with the
	// chain. Fatal to the flow; the only automatic repair is dropping
	// local surplus notes from a previously failed broadcast.
	Desync FailureKind = iota + 1
	// InsufficientFunds means no note subset covers the requested
	// amount. Reported before any proof work starts.
	InsufficientFunds
	// ProofFailure means the prover or the preflight verification
	// rejected the witness. The flow aborts before touching the chain.
	ProofFailure
	// ChainRejection means the on-chain program refused the submitted
	// instruction. Surfaced verbatim, never retried.
	ChainRejection
	// RelayerFailure means the relayer transport or the relayer itself
	// failed. Surfaced verbatim; the caller may re-run the whole flow,
	// which re-syncs from scratch.
	RelayerFailure
	// MalformedNote means an output note lacks required encryption
	// fields. Construction error, never reaches the prover.
	MalformedNote
)

func (k FailureKind) String() string {
	switch k {
	case Desync:
		return "desync"
	case InsufficientFunds:
		return "insufficient funds"
	case ProofFailure:
		return "proof failure"
	case ChainRejection:
		return "chain rejection"
	case RelayerFailure:
		return "relayer failure"
	case MalformedNote:
		return "malformed note"
	}
	return fmt.Sprintf("unknown failure %d", int(k))
}

// FlowError is the typed outcome of a failed flow.
type FlowError struct {
	Kind FailureKind
	Err  error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// failf wraps an error with its failure kind.
func failf(kind FailureKind, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// fail wraps an existing error with its failure kind.
func fail(kind FailureKind, err error) *FlowError {
	return &FlowError{Kind: kind, Err: err}
}

// KindOf extracts the failure kind of an error, or zero if the error is
// not a flow failure.
func KindOf(err error) FailureKind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
