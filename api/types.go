package api

import (
	"github.com/veilpay/veilpay-go/types"
)

// DepositRequest shields public tokens into the pool.
type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// WithdrawRequest unshields tokens toward a public token account.
type WithdrawRequest struct {
	Asset         string `json:"asset"`
	Amount        uint64 `json:"amount"`
	RecipientATA  string `json:"recipientAta"`
	RelayerFeeATA string `json:"relayerFeeAta,omitempty"`
}

// TransferRequest moves value to another shielded recipient.
type TransferRequest struct {
	Asset   string        `json:"asset"`
	Amount  uint64        `json:"amount"`
	TagHash *types.BigInt `json:"tagHash"`
	PubKeyX *types.BigInt `json:"pubKeyX"`
	PubKeyY *types.BigInt `json:"pubKeyY"`
}

// AuthorizationRequest creates a claimable intent for a payee.
type AuthorizationRequest struct {
	Asset   string        `json:"asset"`
	Amount  uint64        `json:"amount"`
	TagHash *types.BigInt `json:"tagHash"`
	PubKeyX *types.BigInt `json:"pubKeyX"`
	PubKeyY *types.BigInt `json:"pubKeyY"`
}

// SettleRequest settles a stored intent toward its payee.
type SettleRequest struct {
	TagHash *types.BigInt `json:"tagHash"`
	PubKeyX *types.BigInt `json:"pubKeyX"`
	PubKeyY *types.BigInt `json:"pubKeyY"`
}

// FlowResponse reports the outcome of a completed flow.
type FlowResponse struct {
	Signature   string   `json:"signature"`
	SpentLeaves []uint64 `json:"spentLeaves,omitempty"`
	NewLeaves   []uint64 `json:"newLeaves,omitempty"`
}

// BalanceResponse is the spendable balance of one asset.
type BalanceResponse struct {
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
}

// AuthorizationResponse describes a stored intent.
type AuthorizationResponse struct {
	IntentHash       *types.BigInt  `json:"intentHash"`
	Asset            types.HexBytes `json:"asset"`
	PayeeTagHash     *types.BigInt  `json:"payeeTagHash"`
	AmountCiphertext types.HexBytes `json:"amountCiphertext"`
	ExpirySlot       uint64         `json:"expirySlot"`
	CircuitID        uint32         `json:"circuitId"`
	Settled          bool           `json:"settled"`
}
