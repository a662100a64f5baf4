package types

const (
	// CommitmentTreeDepth is the number of levels of the shielded
	// commitment merkle tree.
	CommitmentTreeDepth = 20
	// IdentityTreeDepth is the number of levels of the identity
	// registry merkle tree.
	IdentityTreeDepth = 16
	// MaxInputs is the fixed number of input slots of the spend circuit.
	MaxInputs = 4
	// MaxOutputs is the fixed number of output slots of the spend circuit.
	MaxOutputs = 2
	// PublicInputsLen is the number of public signals of the spend circuit:
	// root, identity root, MaxInputs nullifiers, MaxOutputs commitments,
	// MaxOutputs enabled flags, amountOut, feeAmount and circuitId.
	PublicInputsLen = 2 + MaxInputs + 2*MaxOutputs + 3
	// NullifierChunkBits is the capacity in bits of one on-chain nullifier
	// chunk account.
	NullifierChunkBits = 8192
	// RootHistoryLen is the size of the on-chain merkle root history ring.
	RootHistoryLen = 32
	// NoteCiphertextSize is the byte size of the serialized ECIES fields of
	// an output note: C1.X, C1.Y, C2 amount and C2 randomness.
	NoteCiphertextSize = 4 * 32
)
