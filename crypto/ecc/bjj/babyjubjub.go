// Package bjj wraps the iden3 implementation of the BabyJubJub curve, the
// twisted Edwards curve embedded in the BN254 scalar field that the spend
// circuit uses for note encryption keys.
package bjj

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	babyjubjub "github.com/iden3/go-iden3-crypto/babyjub"

	curve "github.com/veilpay/veilpay-go/crypto/ecc"
	"github.com/veilpay/veilpay-go/types"
)

// BJJ is the affine representation of a BabyJubJub group element.
type BJJ struct {
	inner *babyjubjub.Point
}

// New creates a new BJJ point (identity element by default).
func New() curve.Point {
	return &BJJ{inner: babyjubjub.NewPoint()}
}

func (g *BJJ) New() curve.Point {
	return &BJJ{inner: babyjubjub.NewPoint()}
}

// Order returns the order of the BabyJubJub prime subgroup.
func (g *BJJ) Order() *big.Int {
	return new(big.Int).Set(babyjubjub.SubOrder)
}

func (g *BJJ) Add(a, b curve.Point) {
	g.inner = g.inner.Projective().Add(
		a.(*BJJ).inner.Projective(),
		b.(*BJJ).inner.Projective(),
	).Affine()
}

func (g *BJJ) ScalarMult(a curve.Point, scalar *big.Int) {
	g.inner = g.inner.Mul(scalar, a.(*BJJ).inner)
}

func (g *BJJ) ScalarBaseMult(scalar *big.Int) {
	g.inner = g.inner.Mul(scalar, babyjubjub.B8)
}

// Marshal serializes the point in its 32-byte compressed form.
func (g *BJJ) Marshal() []byte {
	b := g.inner.Compress()
	return b[:]
}

// Unmarshal deserializes a 32-byte compressed point.
func (g *BJJ) Unmarshal(buf []byte) error {
	if len(buf) != 32 {
		return fmt.Errorf("invalid compressed point length %d", len(buf))
	}
	b32 := [32]byte{}
	copy(b32[:], buf)
	_, err := g.inner.Decompress(b32)
	return err
}

// MarshalJSON serializes the point as a JSON array of its two coordinates.
func (g *BJJ) MarshalJSON() ([]byte, error) {
	return json.Marshal([]*types.BigInt{
		(*types.BigInt)(g.inner.X),
		(*types.BigInt)(g.inner.Y),
	})
}

// UnmarshalJSON deserializes the point from a JSON coordinate array.
func (g *BJJ) UnmarshalJSON(buf []byte) error {
	if g.inner == nil {
		g.inner = babyjubjub.NewPoint()
	}
	var coords []*types.BigInt
	if err := json.Unmarshal(buf, &coords); err != nil {
		return err
	}
	if len(coords) != 2 {
		return fmt.Errorf("expected 2 coordinates, got %d", len(coords))
	}
	g.inner.X = coords[0].MathBigInt()
	g.inner.Y = coords[1].MathBigInt()
	return nil
}

func (g *BJJ) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]*big.Int{g.inner.X, g.inner.Y})
}

func (g *BJJ) UnmarshalCBOR(buf []byte) error {
	if g.inner == nil {
		g.inner = babyjubjub.NewPoint()
	}
	var coords []*big.Int
	if err := cbor.Unmarshal(buf, &coords); err != nil {
		return err
	}
	if len(coords) != 2 {
		return fmt.Errorf("expected 2 coordinates, got %d", len(coords))
	}
	g.inner.X = coords[0]
	g.inner.Y = coords[1]
	return nil
}

func (g *BJJ) Equal(a curve.Point) bool {
	return g.inner.X.Cmp(a.(*BJJ).inner.X) == 0 &&
		g.inner.Y.Cmp(a.(*BJJ).inner.Y) == 0
}

// SetGenerator sets the point to the subgroup generator B8.
func (g *BJJ) SetGenerator() {
	g.inner.X = new(big.Int).Set(babyjubjub.B8.X)
	g.inner.Y = new(big.Int).Set(babyjubjub.B8.Y)
}

func (g *BJJ) Set(a curve.Point) {
	g.inner.X = new(big.Int).Set(a.(*BJJ).inner.X)
	g.inner.Y = new(big.Int).Set(a.(*BJJ).inner.Y)
}

func (g *BJJ) String() string {
	x, y := g.Point()
	return fmt.Sprintf("%s,%s", x.String(), y.String())
}

// Point returns the X and Y affine coordinates.
func (g *BJJ) Point() (*big.Int, *big.Int) {
	return new(big.Int).Set(g.inner.X), new(big.Int).Set(g.inner.Y)
}

// SetPoint sets the X and Y affine coordinates.
func (g *BJJ) SetPoint(x, y *big.Int) curve.Point {
	g.inner = &babyjubjub.Point{X: new(big.Int).Set(x), Y: new(big.Int).Set(y)}
	return g
}
