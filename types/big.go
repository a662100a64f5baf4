package types

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a big.Int wrapper which marshals JSON to a string representation
// of the big number. Note that a nil pointer value marshals as the empty
// string.
type BigInt big.Int

// NewInt returns a new BigInt with the provided int64 value.
func NewInt(x int64) *BigInt {
	return (*BigInt)(big.NewInt(x))
}

// BigToFF returns the finite field representation of b, reducing it with the
// Euclidean modulus over the BN254 scalar field when it falls outside it.
func BigToFF(b *big.Int) *big.Int {
	z := big.NewInt(0)
	if c := b.Cmp(FieldModulus); c == 0 {
		return z
	} else if c != 1 && b.Cmp(z) != -1 {
		return b
	}
	return z.Mod(b, FieldModulus)
}

// MarshalJSON implements the json.Marshaler interface.
func (i *BigInt) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte(`""`), nil
	}
	return []byte(`"` + i.String() + `"`), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface. It accepts both
// a quoted decimal string and a bare JSON number.
func (i *BigInt) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	if len(data) == 0 {
		i.SetInt(big.NewInt(0))
		return nil
	}
	v, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return fmt.Errorf("invalid big integer %q", data)
	}
	i.SetInt(v)
	return nil
}

// MarshalCBOR implements the cbor.Marshaler interface, encoding the value as
// its big-endian byte representation.
func (i *BigInt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(i.MathBigInt().Bytes())
}

// UnmarshalCBOR implements the cbor.Unmarshaler interface.
func (i *BigInt) UnmarshalCBOR(data []byte) error {
	var buf []byte
	if err := cbor.Unmarshal(data, &buf); err != nil {
		return err
	}
	i.SetInt(new(big.Int).SetBytes(buf))
	return nil
}

// MathBigInt converts b to a math/big *big.Int.
func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

// SetInt sets the value of i to the value of v and returns i.
func (i *BigInt) SetInt(v *big.Int) *BigInt {
	(*big.Int)(i).Set(v)
	return i
}

// String returns the decimal representation of i.
func (i *BigInt) String() string {
	if i == nil {
		return ""
	}
	return (*big.Int)(i).String()
}

// Equal reports whether i and v represent the same value.
func (i *BigInt) Equal(v *BigInt) bool {
	return (*big.Int)(i).Cmp((*big.Int)(v)) == 0
}
