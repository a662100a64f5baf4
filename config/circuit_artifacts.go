package config

const (
	// Spend circuit artifacts: the 4-input 2-output shielded spend proof.
	SpendCircuitURL          = "https://artifacts.veilpay.io/circuits/v1/spend.wasm"
	SpendCircuitHash         = "8f20e2b9a1f4c7d0c3b6a95e1d8427fa6640cf3b2d91a58e07c4b6d2e9135a74"
	SpendProvingKeyURL       = "https://artifacts.veilpay.io/circuits/v1/spend_pkey.zkey"
	SpendProvingKeyHash      = "1c5eb17d0a92f84663d0b7ce94a1528e3df06a9b74c2e1f5a8409b3c6d7e2f18"
	SpendVerificationKeyURL  = "https://artifacts.veilpay.io/circuits/v1/spend_vkey.json"
	SpendVerificationKeyHash = "4a7d30c6e91b25f8d4a0c17b3e6f5928ac04d1e7b6392f5c8e1a04d7b3c6f291"
)
