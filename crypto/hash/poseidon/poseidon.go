// Package poseidon provides helpers over the iden3 Poseidon hash, the hash
// function used for every commitment, nullifier and merkle node in the
// protocol.
package poseidon

import (
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Hash hashes the provided field elements with Poseidon. It is a thin
// wrapper kept so callers do not import the iden3 package directly.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	return poseidon.Hash(inputs)
}
