package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Anchor-style account discriminators: first 8 bytes of
// sha256("account:<Name>").
var (
	configDiscriminator           = accountDiscriminator("Config")
	vaultPoolDiscriminator        = accountDiscriminator("VaultPool")
	shieldedStateDiscriminator    = accountDiscriminator("ShieldedState")
	identityRegistryDiscriminator = accountDiscriminator("IdentityRegistry")
	nullifierSetDiscriminator     = accountDiscriminator("NullifierSet")
)

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Config is the program-wide configuration account.
type Config struct {
	Admin            Address
	FeeBps           uint16
	RelayerFeeBpsMax uint16
	VkRegistry       Address
	MintAllowlist    []Address
	CircuitIDs       []uint32
	Paused           bool
	Version          uint32
	Bump             uint8
}

// VaultPool holds the custodial token balance backing a shielded mint.
type VaultPool struct {
	VaultPDA       Address
	VaultATA       Address
	Mint           Address
	TotalDeposited uint64
	TotalWithdrawn uint64
	Nonce          uint64
	Bump           uint8
}

// ShieldedState is the per-mint commitment tree head: current root, a ring
// of recent roots, and the number of commitments inserted so far.
type ShieldedState struct {
	Mint             Address
	MerkleRoot       [32]byte
	RootHistory      [][32]byte
	RootHistoryIndex uint32
	CommitmentCount  uint64
	CircuitID        uint32
	Version          uint32
	Bump             uint8
}

// RootKnown reports whether root is the current root or appears in the
// recent-root ring.
func (s *ShieldedState) RootKnown(root [32]byte) bool {
	if root == s.MerkleRoot {
		return true
	}
	for _, r := range s.RootHistory {
		if r == root {
			return true
		}
	}
	return false
}

// IdentityRegistry is the global identity commitment tree head.
type IdentityRegistry struct {
	Root  [32]byte
	Count uint64
	Bump  uint8
}

// NullifierSet is one 8192-bit chunk of the per-mint spent-nullifier bitset.
type NullifierSet struct {
	Mint       Address
	ChunkIndex uint32
	Bitset     [1024]byte
	Count      uint32
	Bump       uint8
}

// Contains reports whether the bit for the given in-chunk index is set.
func (n *NullifierSet) Contains(bitIndex uint16) bool {
	return n.Bitset[bitIndex/8]&(1<<(bitIndex%8)) != 0
}

// accountReader walks borsh-encoded account data sequentially.
type accountReader struct {
	data []byte
	off  int
	err  error
}

func newAccountReader(data []byte, discriminator [8]byte, kind string) (*accountReader, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%s account too short (%d bytes)", kind, len(data))
	}
	var d [8]byte
	copy(d[:], data[:8])
	if d != discriminator {
		return nil, fmt.Errorf("account is not a %s (discriminator mismatch)", kind)
	}
	return &accountReader{data: data, off: 8}, nil
}

func (r *accountReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("truncated account data at offset %d", r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *accountReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *accountReader) boolean() bool {
	return r.u8() != 0
}

func (r *accountReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *accountReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *accountReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *accountReader) hash() [32]byte {
	var h [32]byte
	if b := r.take(32); b != nil {
		copy(h[:], b)
	}
	return h
}

func (r *accountReader) address() Address {
	return Address(r.hash())
}

// DecodeConfig parses a Config account.
func DecodeConfig(data []byte) (*Config, error) {
	r, err := newAccountReader(data, configDiscriminator, "Config")
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Admin:            r.address(),
		FeeBps:           r.u16(),
		RelayerFeeBpsMax: r.u16(),
		VkRegistry:       r.address(),
	}
	nMints := r.u32()
	if nMints > 256 {
		return nil, fmt.Errorf("implausible mint allowlist length %d", nMints)
	}
	cfg.MintAllowlist = make([]Address, 0, nMints)
	for i := uint32(0); i < nMints; i++ {
		cfg.MintAllowlist = append(cfg.MintAllowlist, r.address())
	}
	nCircuits := r.u32()
	if nCircuits > 64 {
		return nil, fmt.Errorf("implausible circuit allowlist length %d", nCircuits)
	}
	cfg.CircuitIDs = make([]uint32, 0, nCircuits)
	for i := uint32(0); i < nCircuits; i++ {
		cfg.CircuitIDs = append(cfg.CircuitIDs, r.u32())
	}
	cfg.Paused = r.boolean()
	cfg.Version = r.u32()
	cfg.Bump = r.u8()
	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// AllowsCircuit reports whether circuitID is in the allowlist. An empty
// allowlist allows everything.
func (c *Config) AllowsCircuit(circuitID uint32) bool {
	if len(c.CircuitIDs) == 0 {
		return true
	}
	for _, id := range c.CircuitIDs {
		if id == circuitID {
			return true
		}
	}
	return false
}

// DecodeVaultPool parses a VaultPool account.
func DecodeVaultPool(data []byte) (*VaultPool, error) {
	r, err := newAccountReader(data, vaultPoolDiscriminator, "VaultPool")
	if err != nil {
		return nil, err
	}
	v := &VaultPool{
		VaultPDA:       r.address(),
		VaultATA:       r.address(),
		Mint:           r.address(),
		TotalDeposited: r.u64(),
		TotalWithdrawn: r.u64(),
		Nonce:          r.u64(),
		Bump:           r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return v, nil
}

// DecodeShieldedState parses a ShieldedState account.
func DecodeShieldedState(data []byte) (*ShieldedState, error) {
	r, err := newAccountReader(data, shieldedStateDiscriminator, "ShieldedState")
	if err != nil {
		return nil, err
	}
	s := &ShieldedState{
		Mint:       r.address(),
		MerkleRoot: r.hash(),
	}
	n := r.u32()
	if n > 256 {
		return nil, fmt.Errorf("implausible root history length %d", n)
	}
	s.RootHistory = make([][32]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		s.RootHistory = append(s.RootHistory, r.hash())
	}
	s.RootHistoryIndex = r.u32()
	s.CommitmentCount = r.u64()
	s.CircuitID = r.u32()
	s.Version = r.u32()
	s.Bump = r.u8()
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// DecodeIdentityRegistry parses an IdentityRegistry account.
func DecodeIdentityRegistry(data []byte) (*IdentityRegistry, error) {
	r, err := newAccountReader(data, identityRegistryDiscriminator, "IdentityRegistry")
	if err != nil {
		return nil, err
	}
	reg := &IdentityRegistry{
		Root:  r.hash(),
		Count: r.u64(),
		Bump:  r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return reg, nil
}

// DecodeNullifierSet parses a NullifierSet account.
func DecodeNullifierSet(data []byte) (*NullifierSet, error) {
	r, err := newAccountReader(data, nullifierSetDiscriminator, "NullifierSet")
	if err != nil {
		return nil, err
	}
	ns := &NullifierSet{
		Mint:       r.address(),
		ChunkIndex: r.u32(),
	}
	if b := r.take(len(ns.Bitset)); b != nil {
		copy(ns.Bitset[:], b)
	}
	ns.Count = r.u32()
	ns.Bump = r.u8()
	if r.err != nil {
		return nil, r.err
	}
	return ns, nil
}
