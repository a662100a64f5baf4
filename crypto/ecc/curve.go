package ecc

import (
	"math/big"
)

// Point represents the affine coordinates of a point on the note-encryption
// curve and provides the group operations the engine needs: key derivation
// (base multiplications) and Diffie-Hellman style shared points (scalar
// multiplications of a public point).
type Point interface {
	// New returns a new point on the same curve (identity element).
	New() Point

	// Order returns the order of the prime subgroup.
	Order() *big.Int

	// Add adds two group elements and stores the result in the receiver.
	Add(a, b Point)

	// ScalarMult multiplies the point a by scalar and stores the result in
	// the receiver.
	ScalarMult(a Point, scalar *big.Int)

	// ScalarBaseMult multiplies the subgroup generator by scalar and stores
	// the result in the receiver.
	ScalarBaseMult(scalar *big.Int)

	// Marshal serializes the point into its compressed byte form.
	Marshal() []byte

	// Unmarshal deserializes a compressed point. The input must represent a
	// valid curve point or an error is returned.
	Unmarshal(buf []byte) error

	// Equal reports whether the receiver and a represent the same point.
	Equal(a Point) bool

	// SetGenerator sets the receiver to the subgroup generator.
	SetGenerator()

	// Set sets the receiver to the value of a.
	Set(a Point)

	// String returns a human-readable representation of the point.
	String() string

	// Point returns the affine X and Y coordinates.
	Point() (*big.Int, *big.Int)

	// SetPoint sets the affine X and Y coordinates and returns the receiver.
	SetPoint(x, y *big.Int) Point
}
