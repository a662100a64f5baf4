package ledger

import (
	"encoding/binary"
)

// Fixed seed strings of the shielded pool program accounts.
var (
	seedConfig       = []byte("config")
	seedVault        = []byte("vault")
	seedShielded     = []byte("shielded")
	seedNullifierSet = []byte("nullifier_set")
	seedIdentity     = []byte("identity_registry")
)

// ConfigAddress derives the program config account.
func ConfigAddress() (Address, error) {
	addr, _, err := FindProgramAddress([][]byte{seedConfig, ProgramID[:]}, ProgramID)
	return addr, err
}

// VaultAddress derives the token vault of an asset mint.
func VaultAddress(mint Address) (Address, error) {
	addr, _, err := FindProgramAddress([][]byte{seedVault, mint[:]}, ProgramID)
	return addr, err
}

// ShieldedStateAddress derives the shielded pool state of an asset mint.
func ShieldedStateAddress(mint Address) (Address, error) {
	addr, _, err := FindProgramAddress([][]byte{seedShielded, mint[:]}, ProgramID)
	return addr, err
}

// NullifierChunkAddress derives the nullifier chunk account of an asset
// mint and chunk index.
func NullifierChunkAddress(mint Address, chunkIndex uint32) (Address, error) {
	idx := make([]byte, 4)
	binary.LittleEndian.PutUint32(idx, chunkIndex)
	addr, _, err := FindProgramAddress(
		[][]byte{seedNullifierSet, mint[:], idx}, ProgramID)
	return addr, err
}

// IdentityRegistryAddress derives the global identity registry account.
func IdentityRegistryAddress() (Address, error) {
	addr, _, err := FindProgramAddress([][]byte{seedIdentity}, ProgramID)
	return addr, err
}
