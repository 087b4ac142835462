package types

import (
	"fmt"
	"time"
)

// Tier selects a fee urgency.
type Tier string

// Fee tiers.
const (
	TierSlow Tier = "slow"
	TierAvg  Tier = "avg"
	TierFast Tier = "fast"
)

// ParseTier validates a tier name. Empty means avg.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case "":
		return TierAvg, nil
	case TierSlow, TierAvg, TierFast:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown fee tier %q", s)
}

// Source tags externally sourced data as live or as a degraded-mode
// stand-in.
type Source string

// Data sources.
const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
	SourcePinned   Source = "pinned"
)

// FeeQuote is a short-lived, never persisted fee recommendation.
type FeeQuote struct {
	Family     Family           `json:"family"`
	Chain      string           `json:"chain"`
	Tier       Tier             `json:"tier"`
	Source     Source           `json:"source"`
	FetchedAt  time.Time        `json:"fetched_at"`
	ValidUntil time.Time        `json:"valid_until"`
	Bitcoin    *BitcoinFeeTiers `json:"bitcoin,omitempty"`
	EVM        *EVMFeeTiers     `json:"evm,omitempty"`
}

// Expired reports whether the quote is past its validity window.
func (q *FeeQuote) Expired(now time.Time) bool {
	return now.After(q.ValidUntil)
}

// BitcoinFeeTiers are sat/vB rates.
type BitcoinFeeTiers struct {
	Slow uint64 `json:"slow"`
	Avg  uint64 `json:"avg"`
	Fast uint64 `json:"fast"`
}

// Rate returns the sat/vB rate for a tier.
func (b *BitcoinFeeTiers) Rate(t Tier) uint64 {
	switch t {
	case TierSlow:
		return b.Slow
	case TierFast:
		return b.Fast
	default:
		return b.Avg
	}
}

// EVMFeeTiers are legacy gas prices plus optional EIP-1559 caps, all in wei
// as decimal strings.
type EVMFeeTiers struct {
	Slow    string      `json:"slow"`
	Avg     string      `json:"avg"`
	Fast    string      `json:"fast"`
	EIP1559 *EIP1559Fee `json:"eip1559,omitempty"`
}

// GasPrice returns the legacy gas price for a tier.
func (e *EVMFeeTiers) GasPrice(t Tier) string {
	switch t {
	case TierSlow:
		return e.Slow
	case TierFast:
		return e.Fast
	default:
		return e.Avg
	}
}

// EIP1559Fee holds dynamic-fee parameters in wei.
type EIP1559Fee struct {
	BaseFee string `json:"base_fee"`
	TipCap  string `json:"max_priority_fee"`
	MaxFee  string `json:"max_fee"`
}

// GasEstimate is the result of a gas estimation.
type GasEstimate struct {
	Chain       string `json:"chain"`
	GasLimit    uint64 `json:"gas_limit"`
	RawGasLimit uint64 `json:"raw_gas_limit"`
	GasPrice    string `json:"gas_price"`
	MaxFee      string `json:"max_fee,omitempty"`
	TipCap      string `json:"max_priority_fee,omitempty"`
	FeeWei      string `json:"fee_wei"`
	FeeUSD      string `json:"fee_usd,omitempty"`
	PriceSource Source `json:"price_source"`
}
