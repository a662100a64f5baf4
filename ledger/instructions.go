package ledger

import (
	"crypto/sha256"
	"encoding/binary"
)

// instructionDiscriminator returns the 8-byte Anchor method selector:
// sha256("global:<name>")[:8].
func instructionDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// argsEncoder builds borsh-encoded instruction payloads.
type argsEncoder struct {
	buf []byte
}

func newArgsEncoder(method string) *argsEncoder {
	return &argsEncoder{buf: instructionDiscriminator(method)}
}

func (e *argsEncoder) u16(v uint16) *argsEncoder {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	return e
}

func (e *argsEncoder) u32(v uint32) *argsEncoder {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
	return e
}

func (e *argsEncoder) u64(v uint64) *argsEncoder {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	return e
}

func (e *argsEncoder) bytes(v []byte) *argsEncoder {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(v)))
	e.buf = append(e.buf, v...)
	return e
}

func (e *argsEncoder) done() []byte {
	return e.buf
}

// DepositParams carries everything needed to build a deposit instruction.
type DepositParams struct {
	Mint       Address
	User       Address
	UserATA    Address
	Amount     uint64
	Ciphertext []byte
	Commitment []byte
	NewRoot    []byte
}

// DepositInstruction builds the deposit call: move tokens from the user's
// token account into the vault and append the new commitment root.
func DepositInstruction(p DepositParams) (Instruction, error) {
	config, err := ConfigAddress()
	if err != nil {
		return Instruction{}, err
	}
	vault, err := VaultAddress(p.Mint)
	if err != nil {
		return Instruction{}, err
	}
	vaultATA, err := AssociatedTokenAddress(vault, p.Mint)
	if err != nil {
		return Instruction{}, err
	}
	shielded, err := ShieldedStateAddress(p.Mint)
	if err != nil {
		return Instruction{}, err
	}
	data := newArgsEncoder("deposit").
		u64(p.Amount).
		bytes(p.Ciphertext).
		bytes(p.Commitment).
		bytes(p.NewRoot).
		done()
	return Instruction{
		Program: ProgramID,
		Accounts: []AccountMeta{
			{Address: config},
			{Address: vault, Writable: true},
			{Address: vaultATA, Writable: true},
			{Address: shielded, Writable: true},
			{Address: p.User, Signer: true},
			{Address: p.UserATA, Writable: true},
			{Address: p.Mint},
			{Address: TokenProgramID},
		},
		Data: data,
	}, nil
}

// SpendParams is shared by the three proof-carrying instructions. NewRoot
// is the client-computed tree root after appending the enabled output
// commitments. ExtraChunks lists additional nullifier chunk accounts when
// the inputs span more than one chunk.
type SpendParams struct {
	Mint            Address
	Proof           []byte
	PublicInputs    []byte
	NewRoot         []byte
	PrimaryChunk    uint32
	ExtraChunks     []uint32
	VerifierProgram Address
	VerifierKey     Address
}

// spendAccounts resolves the PDA set common to withdraw, internal and
// external transfers.
type spendAccounts struct {
	config       Address
	vault        Address
	vaultATA     Address
	shielded     Address
	identity     Address
	nullifierSet Address
	extra        []Address
}

func resolveSpendAccounts(p SpendParams) (*spendAccounts, error) {
	var a spendAccounts
	var err error
	if a.config, err = ConfigAddress(); err != nil {
		return nil, err
	}
	if a.vault, err = VaultAddress(p.Mint); err != nil {
		return nil, err
	}
	if a.vaultATA, err = AssociatedTokenAddress(a.vault, p.Mint); err != nil {
		return nil, err
	}
	if a.shielded, err = ShieldedStateAddress(p.Mint); err != nil {
		return nil, err
	}
	if a.identity, err = IdentityRegistryAddress(); err != nil {
		return nil, err
	}
	if a.nullifierSet, err = NullifierChunkAddress(p.Mint, p.PrimaryChunk); err != nil {
		return nil, err
	}
	for _, idx := range p.ExtraChunks {
		addr, err := NullifierChunkAddress(p.Mint, idx)
		if err != nil {
			return nil, err
		}
		a.extra = append(a.extra, addr)
	}
	return &a, nil
}

// WithdrawInstruction builds the withdraw call: spend notes and release
// tokens from the vault to a public recipient, minus the relayer fee.
// RelayerFeeATA may be zero when relayerFeeBps is zero; the program
// expects its own id in the optional slot then.
func WithdrawInstruction(p SpendParams, amount uint64, relayerFeeBps uint16, recipientATA, relayerFeeATA Address) (Instruction, error) {
	a, err := resolveSpendAccounts(p)
	if err != nil {
		return Instruction{}, err
	}
	feeSlot := relayerFeeATA
	if feeSlot.IsZero() {
		feeSlot = ProgramID
	}
	data := newArgsEncoder("withdraw").
		u64(amount).
		bytes(p.Proof).
		bytes(p.PublicInputs).
		u16(relayerFeeBps).
		bytes(p.NewRoot).
		done()
	metas := []AccountMeta{
		{Address: a.config},
		{Address: a.vault, Writable: true},
		{Address: a.vaultATA, Writable: true},
		{Address: a.shielded, Writable: true},
		{Address: a.identity},
		{Address: a.nullifierSet, Writable: true},
		{Address: recipientATA, Writable: true},
		{Address: feeSlot, Writable: !relayerFeeATA.IsZero()},
		{Address: p.VerifierProgram},
		{Address: p.VerifierKey},
		{Address: p.Mint},
		{Address: TokenProgramID},
	}
	for _, addr := range a.extra {
		metas = append(metas, AccountMeta{Address: addr, Writable: true})
	}
	return Instruction{
		Program:  ProgramID,
		Accounts: metas,
		Data:     data,
	}, nil
}

// InternalTransferInstruction builds the fully shielded transfer call. No
// tokens move; the program verifies the proof, marks nullifiers and
// appends the new root.
func InternalTransferInstruction(p SpendParams) (Instruction, error) {
	a, err := resolveSpendAccounts(p)
	if err != nil {
		return Instruction{}, err
	}
	data := newArgsEncoder("internal_transfer").
		bytes(p.Proof).
		bytes(p.PublicInputs).
		bytes(p.NewRoot).
		done()
	metas := []AccountMeta{
		{Address: a.config},
		{Address: a.shielded, Writable: true},
		{Address: a.identity},
		{Address: a.nullifierSet, Writable: true},
		{Address: p.VerifierProgram},
		{Address: p.VerifierKey},
		{Address: p.Mint},
	}
	for _, addr := range a.extra {
		metas = append(metas, AccountMeta{Address: addr, Writable: true})
	}
	return Instruction{
		Program:  ProgramID,
		Accounts: metas,
		Data:     data,
	}, nil
}

// ExternalTransferInstruction builds the shielded-to-public transfer call:
// like withdraw but the destination is an arbitrary token account and a
// shielded change output may be appended.
func ExternalTransferInstruction(p SpendParams, amount uint64, relayerFeeBps uint16, destinationATA, relayerFeeATA Address) (Instruction, error) {
	a, err := resolveSpendAccounts(p)
	if err != nil {
		return Instruction{}, err
	}
	feeSlot := relayerFeeATA
	if feeSlot.IsZero() {
		feeSlot = ProgramID
	}
	data := newArgsEncoder("external_transfer").
		u64(amount).
		bytes(p.Proof).
		bytes(p.PublicInputs).
		u16(relayerFeeBps).
		bytes(p.NewRoot).
		done()
	metas := []AccountMeta{
		{Address: a.config},
		{Address: a.vault, Writable: true},
		{Address: a.vaultATA, Writable: true},
		{Address: a.shielded, Writable: true},
		{Address: a.identity},
		{Address: a.nullifierSet, Writable: true},
		{Address: destinationATA, Writable: true},
		{Address: feeSlot, Writable: !relayerFeeATA.IsZero()},
		{Address: p.VerifierProgram},
		{Address: p.VerifierKey},
		{Address: p.Mint},
		{Address: TokenProgramID},
	}
	for _, addr := range a.extra {
		metas = append(metas, AccountMeta{Address: addr, Writable: true})
	}
	return Instruction{
		Program:  ProgramID,
		Accounts: metas,
		Data:     data,
	}, nil
}

// RegisterIdentityInstruction builds the identity registration call.
func RegisterIdentityInstruction(payer Address, commitment, newRoot []byte) (Instruction, error) {
	registry, err := IdentityRegistryAddress()
	if err != nil {
		return Instruction{}, err
	}
	data := newArgsEncoder("register_identity").
		bytes(commitment).
		bytes(newRoot).
		done()
	return Instruction{
		Program: ProgramID,
		Accounts: []AccountMeta{
			{Address: registry, Writable: true},
			{Address: payer, Signer: true, Writable: true},
		},
		Data: data,
	}, nil
}

// InitializeNullifierChunkInstruction builds the chunk account creation
// call. Safe to race: the program rejects re-creation of an existing
// chunk and callers treat that as success.
func InitializeNullifierChunkInstruction(payer, mint Address, chunkIndex uint32) (Instruction, error) {
	config, err := ConfigAddress()
	if err != nil {
		return Instruction{}, err
	}
	chunk, err := NullifierChunkAddress(mint, chunkIndex)
	if err != nil {
		return Instruction{}, err
	}
	data := newArgsEncoder("initialize_nullifier_chunk").
		u32(chunkIndex).
		done()
	return Instruction{
		Program: ProgramID,
		Accounts: []AccountMeta{
			{Address: config},
			{Address: chunk, Writable: true},
			{Address: payer, Signer: true, Writable: true},
			{Address: mint},
			{Address: SystemProgramID},
		},
		Data: data,
	}, nil
}
