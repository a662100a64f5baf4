package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// DepositsEndpoint is the endpoint for shielding public tokens
	DepositsEndpoint = "/deposits"
	// WithdrawalsEndpoint is the endpoint for unshielding to a public account
	WithdrawalsEndpoint = "/withdrawals"
	// TransfersEndpoint is the endpoint for fully shielded transfers
	TransfersEndpoint = "/transfers"
	// ExternalTransfersEndpoint is the endpoint for shielded-to-public transfers
	ExternalTransfersEndpoint = "/transfers/external"
	// BalanceEndpoint is the endpoint for the spendable balance of an asset
	AssetURLParam   = "asset"
	BalanceEndpoint = "/balances/{" + AssetURLParam + "}"
	// AuthorizationsEndpoint is the endpoint for creating claimable intents
	AuthorizationsEndpoint = "/authorizations"
	// AuthorizationSettleEndpoint settles a stored intent
	IntentURLParam              = "intentHash"
	AuthorizationEndpoint       = "/authorizations/{" + IntentURLParam + "}"
	AuthorizationSettleEndpoint = "/authorizations/{" + IntentURLParam + "}/settle"
)
