package types

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// FieldModulus is the prime modulus of the proof field (the BN254 scalar
// field). Every commitment, nullifier and circuit input is an integer
// strictly below it.
var FieldModulus = fr.Modulus()

// FieldBytes serializes a field element to its canonical 32-byte big-endian
// form. Values outside the field are rejected.
func FieldBytes(v *big.Int) ([32]byte, error) {
	if v.Sign() < 0 || v.Cmp(FieldModulus) >= 0 {
		return [32]byte{}, fmt.Errorf("value %s out of field", v.String())
	}
	var elem fr.Element
	elem.SetBigInt(v)
	return elem.Bytes(), nil
}

// FieldFromBytes deserializes a canonical 32-byte big-endian field element.
// It is the inverse of FieldBytes and rejects encodings of values greater or
// equal than the field modulus, so that the mapping stays bijective.
func FieldFromBytes(buf []byte) (*big.Int, error) {
	if len(buf) != 32 {
		return nil, fmt.Errorf("invalid field element length %d, expected 32", len(buf))
	}
	var elem fr.Element
	if err := elem.SetBytesCanonical(buf); err != nil {
		return nil, fmt.Errorf("non-canonical field element: %w", err)
	}
	ret := new(big.Int)
	elem.BigInt(ret)
	return ret, nil
}

