package ledger

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestParseAddress(t *testing.T) {
	c := qt.New(t)
	addr, err := ParseAddress("11111111111111111111111111111111")
	c.Assert(err, qt.IsNil)
	c.Assert(addr.IsZero(), qt.IsFalse)
	c.Assert(addr.String(), qt.Equals, "11111111111111111111111111111111")

	_, err = ParseAddress("not-base58-!!")
	c.Assert(err, qt.IsNotNil)
	_, err = ParseAddress("abc") // decodes but too short
	c.Assert(err, qt.IsNotNil)
}

func TestFindProgramAddressDeterministic(t *testing.T) {
	c := qt.New(t)
	seeds := [][]byte{[]byte("shielded"), TokenProgramID[:]}
	a1, bump1, err := FindProgramAddress(seeds, ProgramID)
	c.Assert(err, qt.IsNil)
	a2, bump2, err := FindProgramAddress(seeds, ProgramID)
	c.Assert(err, qt.IsNil)
	c.Assert(a1, qt.Equals, a2)
	c.Assert(bump1, qt.Equals, bump2)

	// derived addresses never land on the curve
	c.Assert(onCurve(a1[:]), qt.IsFalse)

	// different seeds give a different address
	a3, _, err := FindProgramAddress([][]byte{[]byte("vault"), TokenProgramID[:]}, ProgramID)
	c.Assert(err, qt.IsNil)
	c.Assert(a3, qt.Not(qt.Equals), a1)
}

func TestDeriveProgramAddressSeedTooLong(t *testing.T) {
	c := qt.New(t)
	_, err := DeriveProgramAddress([][]byte{make([]byte, 33)}, 255, ProgramID)
	c.Assert(err, qt.ErrorMatches, "seed too long.*")
}

func TestProgramAccountAddresses(t *testing.T) {
	c := qt.New(t)
	mint := MustParseAddress("So11111111111111111111111111111111111111112")

	config, err := ConfigAddress()
	c.Assert(err, qt.IsNil)
	vault, err := VaultAddress(mint)
	c.Assert(err, qt.IsNil)
	shielded, err := ShieldedStateAddress(mint)
	c.Assert(err, qt.IsNil)
	identity, err := IdentityRegistryAddress()
	c.Assert(err, qt.IsNil)

	addrs := map[Address]bool{config: true, vault: true, shielded: true, identity: true}
	c.Assert(addrs, qt.HasLen, 4)

	// chunk addresses are distinct per index
	chunk0, err := NullifierChunkAddress(mint, 0)
	c.Assert(err, qt.IsNil)
	chunk1, err := NullifierChunkAddress(mint, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(chunk0, qt.Not(qt.Equals), chunk1)
}

func TestAssociatedTokenAddress(t *testing.T) {
	c := qt.New(t)
	owner := MustParseAddress("11111111111111111111111111111111")
	mint := MustParseAddress("So11111111111111111111111111111111111111112")

	ata, err := AssociatedTokenAddress(owner, mint)
	c.Assert(err, qt.IsNil)
	c.Assert(ata.IsZero(), qt.IsFalse)
	c.Assert(ata, qt.Not(qt.Equals), owner)

	again, err := AssociatedTokenAddress(owner, mint)
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.Equals, ata)
}
