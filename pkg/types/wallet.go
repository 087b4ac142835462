package types

import "time"

// Wallet is the public record of a wallet. It never carries key material.
type Wallet struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Family    Family     `json:"family"`
	Kind      WalletKind `json:"wallet_type"`
	Address   string     `json:"address"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// WalletWithBalances is a wallet plus its cached balances.
type WalletWithBalances struct {
	Wallet        Wallet          `json:"wallet"`
	Chains        []ChainBalances `json:"chains"`
	TotalUSD      string          `json:"total_usd"`
	LastRefreshed time.Time       `json:"last_refreshed"`
	CacheHit      bool            `json:"cache_hit"`
}
