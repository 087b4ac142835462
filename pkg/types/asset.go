package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset describes a native coin or a token on a chain.
// Contract is empty for the native asset.
type Asset struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int32  `json:"decimals"`
	Contract string `json:"contract_address,omitempty"`
}

// IsNative reports whether the asset is the chain's native coin.
func (a Asset) IsNative() bool {
	return a.Contract == ""
}

// AssetBalance is one asset's balance for a wallet on one chain.
type AssetBalance struct {
	Chain       string `json:"chain"`
	Asset       Asset  `json:"asset"`
	Balance     string `json:"balance"` // base units
	Display     string `json:"display"`
	USDPrice    string `json:"usd_price,omitempty"`
	USDValue    string `json:"usd_value,omitempty"`
	PriceSource Source `json:"price_source,omitempty"`
}

// ChainBalances is the per-chain outcome of a balance query. Exactly one of
// Balances or Error is meaningful.
type ChainBalances struct {
	Chain    string         `json:"chain"`
	Balances []AssetBalance `json:"balances,omitempty"`
	Error    *ChainError    `json:"error,omitempty"`
}

// ChainError is a serializable per-chain failure.
type ChainError struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// FormatUnits renders a base-unit integer as a decimal string.
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// ParseUnits converts a decimal string like "0.5" into base units.
// More fractional digits than decimals is an error, not a rounding.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative")
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	return scaled.BigInt(), nil
}

// ParseBaseUnits parses a non-negative base-unit integer string.
func ParseBaseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return v, nil
}
