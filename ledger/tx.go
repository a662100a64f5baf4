package ledger

import (
	"crypto/ed25519"
	"fmt"
	"sort"
)

// Instruction is one program invocation inside a transaction.
type Instruction struct {
	Program  Address
	Accounts []AccountMeta
	Data     []byte
}

// AccountMeta names an account an instruction touches and how.
type AccountMeta struct {
	Address  Address
	Signer   bool
	Writable bool
}

// KeySigner signs transactions with a raw ed25519 private key. It also
// satisfies identity.Signer for deterministic identity-secret derivation.
type KeySigner struct {
	priv ed25519.PrivateKey
	addr Address
}

// NewKeySigner wraps an ed25519 private key.
func NewKeySigner(priv ed25519.PrivateKey) (*KeySigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size %d", len(priv))
	}
	return &KeySigner{
		priv: priv,
		addr: AddressFromPublicKey(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// NewKeySignerFromSeed derives the keypair from a 32-byte seed.
func NewKeySignerFromSeed(seed []byte) (*KeySigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size %d", len(seed))
	}
	return NewKeySigner(ed25519.NewKeyFromSeed(seed))
}

// SignMessage signs an arbitrary message. Ed25519 is deterministic, so the
// same message always yields the same signature.
func (s *KeySigner) SignMessage(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

// Address returns the base58 public address of the signer.
func (s *KeySigner) Address() string {
	return s.addr.String()
}

// PublicAddress returns the signer address in binary form.
func (s *KeySigner) PublicAddress() Address {
	return s.addr
}

// compiledKey tracks the dedup of account references while building the
// message key table.
type compiledKey struct {
	addr     Address
	signer   bool
	writable bool
}

// Transaction is a legacy-format transaction: a serialized message plus
// one signature per required signer.
type Transaction struct {
	message    []byte
	signatures [][]byte
}

// BuildTransaction compiles the instructions into a signed legacy
// transaction. The payer is the fee payer and first signer.
func BuildTransaction(payer *KeySigner, blockhash [32]byte, instrs []Instruction) (*Transaction, error) {
	if len(instrs) == 0 {
		return nil, fmt.Errorf("transaction needs at least one instruction")
	}
	msg, numSigners, err := compileMessage(payer.PublicAddress(), blockhash, instrs)
	if err != nil {
		return nil, err
	}
	if numSigners != 1 {
		return nil, fmt.Errorf("transaction requires %d signers, only the payer key is available", numSigners)
	}
	sig, err := payer.SignMessage(msg)
	if err != nil {
		return nil, err
	}
	return &Transaction{message: msg, signatures: [][]byte{sig}}, nil
}

// Message returns the serialized message that was signed.
func (t *Transaction) Message() []byte {
	return t.message
}

// Serialize returns the wire form: signature count, signatures, message.
func (t *Transaction) Serialize() []byte {
	out := appendCompactU16(nil, uint16(len(t.signatures)))
	for _, sig := range t.signatures {
		out = append(out, sig...)
	}
	return append(out, t.message...)
}

// compileMessage builds the legacy message: header, deduplicated key table
// ordered signers-first then writables-first, blockhash and compiled
// instructions. Returns the message bytes and the required signer count.
func compileMessage(payer Address, blockhash [32]byte, instrs []Instruction) ([]byte, int, error) {
	keys := map[Address]*compiledKey{
		payer: {addr: payer, signer: true, writable: true},
	}
	order := []Address{payer}
	merge := func(m AccountMeta) {
		k, ok := keys[m.Address]
		if !ok {
			k = &compiledKey{addr: m.Address}
			keys[m.Address] = k
			order = append(order, m.Address)
		}
		k.signer = k.signer || m.Signer
		k.writable = k.writable || m.Writable
	}
	for _, ix := range instrs {
		for _, m := range ix.Accounts {
			merge(m)
		}
		merge(AccountMeta{Address: ix.Program})
	}

	compiled := make([]*compiledKey, 0, len(order))
	for _, addr := range order {
		compiled = append(compiled, keys[addr])
	}
	// Payer stays first; the rest sort by (signer desc, writable desc) with
	// the original order as tiebreaker for determinism.
	rest := compiled[1:]
	pos := make(map[Address]int, len(rest))
	for i, k := range rest {
		pos[k.addr] = i
	}
	sort.SliceStable(rest, func(i, j int) bool {
		a, b := rest[i], rest[j]
		if a.signer != b.signer {
			return a.signer
		}
		if a.writable != b.writable {
			return a.writable
		}
		return pos[a.addr] < pos[b.addr]
	})

	var numSigners, numReadonlySigned, numReadonlyUnsigned int
	index := make(map[Address]uint8, len(compiled))
	for i, k := range compiled {
		if i > 255 {
			return nil, 0, fmt.Errorf("too many accounts in transaction")
		}
		index[k.addr] = uint8(i)
		if k.signer {
			numSigners++
			if !k.writable {
				numReadonlySigned++
			}
		} else if !k.writable {
			numReadonlyUnsigned++
		}
	}

	msg := []byte{uint8(numSigners), uint8(numReadonlySigned), uint8(numReadonlyUnsigned)}
	msg = appendCompactU16(msg, uint16(len(compiled)))
	for _, k := range compiled {
		msg = append(msg, k.addr[:]...)
	}
	msg = append(msg, blockhash[:]...)
	msg = appendCompactU16(msg, uint16(len(instrs)))
	for _, ix := range instrs {
		msg = append(msg, index[ix.Program])
		msg = appendCompactU16(msg, uint16(len(ix.Accounts)))
		for _, m := range ix.Accounts {
			msg = append(msg, index[m.Address])
		}
		msg = appendCompactU16(msg, uint16(len(ix.Data)))
		msg = append(msg, ix.Data...)
	}
	return msg, numSigners, nil
}

// appendCompactU16 appends the shortvec encoding of v.
func appendCompactU16(b []byte, v uint16) []byte {
	for {
		if v < 0x80 {
			return append(b, byte(v))
		}
		b = append(b, byte(v&0x7f)|0x80)
		v >>= 7
	}
}
