package noteenc

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/veilpay/veilpay-go/types"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := qt.New(t)
	priv, err := RandomScalar()
	c.Assert(err, qt.IsNil)
	pub := KeyPair(priv)

	amount := big.NewInt(123456789)
	randomness, err := RandomScalar()
	c.Assert(err, qt.IsNil)

	ct, err := Encrypt(amount, randomness, pub, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(ct.EphemeralKey, qt.IsNotNil)

	gotAmount, gotRandomness, err := Decrypt(ct, priv)
	c.Assert(err, qt.IsNil)
	c.Assert(gotAmount.Cmp(amount), qt.Equals, 0)
	c.Assert(gotRandomness.Cmp(randomness), qt.Equals, 0)
}

func TestDecryptWrongKey(t *testing.T) {
	c := qt.New(t)
	priv, err := RandomScalar()
	c.Assert(err, qt.IsNil)
	otherPriv, err := RandomScalar()
	c.Assert(err, qt.IsNil)
	c.Assert(priv.Cmp(otherPriv), qt.Not(qt.Equals), 0)

	amount := big.NewInt(42)
	randomness := big.NewInt(7)
	ct, err := Encrypt(amount, randomness, KeyPair(priv), nil)
	c.Assert(err, qt.IsNil)

	gotAmount, _, err := Decrypt(ct, otherPriv)
	c.Assert(err, qt.IsNil)
	c.Assert(gotAmount.Cmp(amount), qt.Not(qt.Equals), 0)
}

func TestEncryptDeterministicEphemeral(t *testing.T) {
	c := qt.New(t)
	priv := big.NewInt(1234)
	pub := KeyPair(priv)
	k := big.NewInt(5678)

	ct1, err := Encrypt(big.NewInt(10), big.NewInt(20), pub, k)
	c.Assert(err, qt.IsNil)
	ct2, err := Encrypt(big.NewInt(10), big.NewInt(20), pub, k)
	c.Assert(err, qt.IsNil)
	c.Assert(ct1.C1X.Cmp(ct2.C1X), qt.Equals, 0)
	c.Assert(ct1.C1Y.Cmp(ct2.C1Y), qt.Equals, 0)
	c.Assert(ct1.Amount.Cmp(ct2.Amount), qt.Equals, 0)
	c.Assert(ct1.Randomness.Cmp(ct2.Randomness), qt.Equals, 0)
}

func TestSerializeRoundTrip(t *testing.T) {
	c := qt.New(t)
	priv, err := RandomScalar()
	c.Assert(err, qt.IsNil)
	ct, err := Encrypt(big.NewInt(55), big.NewInt(66), KeyPair(priv), nil)
	c.Assert(err, qt.IsNil)

	blob, err := ct.Serialize()
	c.Assert(err, qt.IsNil)
	c.Assert(blob, qt.HasLen, types.NoteCiphertextSize)

	parsed, err := DeserializeCiphertext(blob)
	c.Assert(err, qt.IsNil)
	c.Assert(parsed.C1X.Cmp(ct.C1X), qt.Equals, 0)
	c.Assert(parsed.C1Y.Cmp(ct.C1Y), qt.Equals, 0)
	c.Assert(parsed.Amount.Cmp(ct.Amount), qt.Equals, 0)
	c.Assert(parsed.Randomness.Cmp(ct.Randomness), qt.Equals, 0)

	amount, randomness, err := Decrypt(parsed, priv)
	c.Assert(err, qt.IsNil)
	c.Assert(amount.Cmp(big.NewInt(55)), qt.Equals, 0)
	c.Assert(randomness.Cmp(big.NewInt(66)), qt.Equals, 0)
}

func TestDeserializeCiphertextBadLength(t *testing.T) {
	c := qt.New(t)
	_, err := DeserializeCiphertext(make([]byte, 64))
	c.Assert(err, qt.ErrorMatches, "invalid ciphertext length.*")
}
