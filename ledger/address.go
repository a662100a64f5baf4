// Package ledger talks to the host ledger: JSON-RPC account reads and
// transaction submission, deterministic program-owned address derivation,
// on-chain account layout decoding and instruction encoding for the
// shielded pool program.
package ledger

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Address is a 32-byte ledger account address (an ed25519 public key or a
// program-derived address off the curve).
type Address [32]byte

// Well-known program addresses.
var (
	// ProgramID is the shielded pool program.
	ProgramID = MustParseAddress("4C6H1aqxks1AgjtsLPbNrDXFsb6DwQ6c1Jhw2ZugTLv2")
	// SystemProgramID is the native system program.
	SystemProgramID = MustParseAddress("11111111111111111111111111111111")
	// TokenProgramID is the token custody program.
	TokenProgramID = MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	// AssociatedTokenProgramID derives per-owner token accounts.
	AssociatedTokenProgramID = MustParseAddress("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// pdaMarker is the domain separator appended when hashing PDA seeds.
var pdaMarker = []byte("ProgramDerivedAddress")

// ParseAddress decodes a base58 address string.
func ParseAddress(s string) (Address, error) {
	var addr Address
	raw, err := base58.Decode(s)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != 32 {
		return addr, fmt.Errorf("invalid address length %d for %q", len(raw), s)
	}
	copy(addr[:], raw)
	return addr, nil
}

// MustParseAddress is ParseAddress for hardcoded addresses; it panics on
// invalid input.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromPublicKey converts an ed25519 public key to an Address.
func AddressFromPublicKey(pub ed25519.PublicKey) Address {
	var addr Address
	copy(addr[:], pub)
	return addr
}

// String returns the base58 representation of the address.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns the raw 32 address bytes.
func (a Address) Bytes() []byte {
	return a[:]
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// onCurve reports whether the 32 bytes decompress to a valid ed25519 curve
// point. Program-derived addresses must not be on the curve, so nobody can
// hold their private key.
func onCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// DeriveProgramAddress derives the program-owned address for the given
// seeds and bump. It fails when the result lands on the curve.
func DeriveProgramAddress(seeds [][]byte, bump uint8, program Address) (Address, error) {
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > 32 {
			return Address{}, fmt.Errorf("seed too long: %d bytes", len(seed))
		}
		h.Write(seed)
	}
	h.Write([]byte{bump})
	h.Write(program[:])
	h.Write(pdaMarker)
	digest := h.Sum(nil)
	if onCurve(digest) {
		return Address{}, fmt.Errorf("derived address is on the curve")
	}
	var addr Address
	copy(addr[:], digest)
	return addr, nil
}

// FindProgramAddress finds the canonical program-derived address for the
// seeds: the one with the highest bump that lands off the curve.
func FindProgramAddress(seeds [][]byte, program Address) (Address, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := DeriveProgramAddress(seeds, uint8(bump), program)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return Address{}, 0, fmt.Errorf("no valid program derived address for seeds")
}

// AssociatedTokenAddress derives the associated token account of an owner
// for an asset mint.
func AssociatedTokenAddress(owner, mint Address) (Address, error) {
	addr, _, err := FindProgramAddress(
		[][]byte{owner[:], TokenProgramID[:], mint[:]},
		AssociatedTokenProgramID,
	)
	return addr, err
}
