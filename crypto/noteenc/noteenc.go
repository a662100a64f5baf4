// Package noteenc implements the note field encryption scheme: an ECIES
// variant over BabyJubJub where the shared-secret mask is derived with
// Poseidon, so the spend circuit can recompute the same mask in-field.
//
// Encryption of a note (amount, randomness) for a recipient public key P:
//
//	k  <- random scalar
//	C1 = k * G
//	S  = k * P
//	C2a = amount     + Poseidon(S.X, S.Y, 0)  (mod r)
//	C2r = randomness + Poseidon(S.X, S.Y, 1)  (mod r)
//
// The recipient recovers S = priv * C1 and subtracts the masks.
package noteenc

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/veilpay/veilpay-go/crypto/ecc"
	"github.com/veilpay/veilpay-go/crypto/ecc/bjj"
	"github.com/veilpay/veilpay-go/crypto/hash/poseidon"
	"github.com/veilpay/veilpay-go/types"
)

// mask domain separators for the amount and randomness ciphertexts
var (
	maskDomainAmount     = big.NewInt(0)
	maskDomainRandomness = big.NewInt(1)
)

// Ciphertext holds the ECIES fields of one encrypted note. All values are
// field elements; C1 is the ephemeral public point.
type Ciphertext struct {
	C1X          *big.Int
	C1Y          *big.Int
	Amount       *big.Int
	Randomness   *big.Int
	EphemeralKey *big.Int // only set on the encrypting side
}

// RandomScalar returns a uniformly random nonzero scalar of the BabyJubJub
// subgroup order.
func RandomScalar() (*big.Int, error) {
	order := bjj.New().Order()
	k, err := rand.Int(rand.Reader, order)
	if err != nil {
		return nil, err
	}
	if k.Sign() == 0 {
		k.Add(k, big.NewInt(1))
	}
	return k, nil
}

// KeyPair derives the public point of a private scalar.
func KeyPair(priv *big.Int) ecc.Point {
	pub := bjj.New()
	pub.ScalarBaseMult(priv)
	return pub
}

// masks derives the amount and randomness masks from a shared point.
func masks(shared ecc.Point) (*big.Int, *big.Int, error) {
	sx, sy := shared.Point()
	ma, err := poseidon.Hash(sx, sy, maskDomainAmount)
	if err != nil {
		return nil, nil, err
	}
	mr, err := poseidon.Hash(sx, sy, maskDomainRandomness)
	if err != nil {
		return nil, nil, err
	}
	return ma, mr, nil
}

// Encrypt encrypts the amount and randomness of a note for the recipient
// public key. If k is nil a fresh ephemeral scalar is drawn.
func Encrypt(amount, randomness *big.Int, recipient ecc.Point, k *big.Int) (*Ciphertext, error) {
	if recipient == nil {
		return nil, fmt.Errorf("nil recipient public key")
	}
	var err error
	if k == nil {
		if k, err = RandomScalar(); err != nil {
			return nil, err
		}
	}
	c1 := bjj.New()
	c1.ScalarBaseMult(k)
	shared := bjj.New()
	shared.ScalarMult(recipient, k)

	ma, mr, err := masks(shared)
	if err != nil {
		return nil, err
	}
	c2a := new(big.Int).Add(amount, ma)
	c2a.Mod(c2a, types.FieldModulus)
	c2r := new(big.Int).Add(randomness, mr)
	c2r.Mod(c2r, types.FieldModulus)

	c1x, c1y := c1.Point()
	return &Ciphertext{
		C1X:          c1x,
		C1Y:          c1y,
		Amount:       c2a,
		Randomness:   c2r,
		EphemeralKey: k,
	}, nil
}

// Decrypt recovers the plaintext amount and randomness of a ciphertext using
// the recipient private scalar.
func Decrypt(ct *Ciphertext, priv *big.Int) (amount, randomness *big.Int, err error) {
	if ct == nil || ct.C1X == nil || ct.C1Y == nil || ct.Amount == nil || ct.Randomness == nil {
		return nil, nil, fmt.Errorf("incomplete ciphertext")
	}
	c1 := bjj.New().SetPoint(ct.C1X, ct.C1Y)
	shared := bjj.New()
	shared.ScalarMult(c1, priv)

	ma, mr, err := masks(shared)
	if err != nil {
		return nil, nil, err
	}
	amount = new(big.Int).Sub(ct.Amount, ma)
	amount.Mod(amount, types.FieldModulus)
	randomness = new(big.Int).Sub(ct.Randomness, mr)
	randomness.Mod(randomness, types.FieldModulus)
	return amount, randomness, nil
}

// Serialize returns the 128-byte on-chain ciphertext blob: C1.X, C1.Y,
// masked amount and masked randomness, each as a canonical 32-byte
// big-endian field element.
func (ct *Ciphertext) Serialize() ([]byte, error) {
	buf := make([]byte, 0, types.NoteCiphertextSize)
	for _, v := range []*big.Int{ct.C1X, ct.C1Y, ct.Amount, ct.Randomness} {
		if v == nil {
			return nil, fmt.Errorf("incomplete ciphertext")
		}
		be, err := types.FieldBytes(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, be[:]...)
	}
	return buf, nil
}

// DeserializeCiphertext parses a 128-byte ciphertext blob.
func DeserializeCiphertext(buf []byte) (*Ciphertext, error) {
	if len(buf) != types.NoteCiphertextSize {
		return nil, fmt.Errorf("invalid ciphertext length %d, expected %d",
			len(buf), types.NoteCiphertextSize)
	}
	fields := make([]*big.Int, 4)
	for i := range fields {
		v, err := types.FieldFromBytes(buf[i*32 : (i+1)*32])
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	return &Ciphertext{
		C1X:        fields[0],
		C1Y:        fields[1],
		Amount:     fields[2],
		Randomness: fields[3],
	}, nil
}
