package txbuilder

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/fee"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// Coin selection errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoUTXOs           = errors.New("no spendable UTXOs")
	ErrAmountTooLarge    = errors.New("amount exceeds the bitcoin supply")
	ErrFeeRateTooHigh    = errors.New("fee rate too high")
)

// MaxSatoshi is the total bitcoin supply in sats. No output, input or
// amount may exceed it.
const MaxSatoshi = uint64(btcutil.MaxSatoshi)

// CoinSelection is a funded spend: inputs, fee and change.
type CoinSelection struct {
	Inputs []types.UTXO
	Total  uint64 // sum of input values
	Amount uint64 // paid to the recipient
	Fee    uint64
	Change uint64 // zero when no change output is created
}

// Outputs returns how many outputs the spend creates.
func (s *CoinSelection) Outputs() int {
	if s.Change > 0 {
		return 2
	}
	return 1
}

// SelectCoins funds amount plus fee at rate sat/vB. It tries two strategies:
//  1. Single UTXO: the smallest one that covers amount and a 1-input fee.
//  2. Largest-first accumulation: add the largest UTXOs until covered.
//
// The one leaving less change wins; ties go to the single input. Fees are
// sized for a change output; change below the dust limit is dropped and
// becomes fee.
func SelectCoins(utxos []types.UTXO, amount, rate uint64) (*CoinSelection, error) {
	if amount == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if err := checkLimits(amount, rate); err != nil {
		return nil, err
	}
	candidates := spendable(utxos)
	if len(candidates) == 0 {
		return nil, ErrNoUTXOs
	}

	// Candidates are sorted ascending, so the first match is the smallest.
	var single *CoinSelection
	if need, ok := required(amount, rate, 1); ok {
		for _, u := range candidates {
			if u.Value >= need {
				single = finish([]types.UTXO{u}, u.Value, amount, need)
				break
			}
		}
	}

	var accum *CoinSelection
	var selected []types.UTXO
	var total uint64
	for i := len(candidates) - 1; i >= 0; i-- {
		selected = append(selected, candidates[i])
		sum, carry := bits.Add64(total, candidates[i].Value, 0)
		need, ok := required(amount, rate, len(selected))
		if carry != 0 || !ok {
			break
		}
		total = sum
		if total >= need {
			accum = finish(selected, total, amount, need)
			break
		}
	}

	switch {
	case single != nil && accum != nil:
		if single.Change <= accum.Change {
			return single, nil
		}
		return accum, nil
	case single != nil:
		return single, nil
	case accum != nil:
		return accum, nil
	default:
		have := totalValue(candidates)
		if need, ok := required(amount, rate, len(candidates)); ok {
			return nil, fmt.Errorf("%w: have %d sats, need %d", ErrInsufficientFunds, have, need)
		}
		return nil, fmt.Errorf("%w: have %d sats, fee at %d sat/vB overflows", ErrInsufficientFunds, have, rate)
	}
}

// checkLimits rejects amounts above the supply and absurd fee rates.
func checkLimits(amount, rate uint64) error {
	if amount > MaxSatoshi {
		return fmt.Errorf("%w: %d sats", ErrAmountTooLarge, amount)
	}
	if rate > fee.MaxFeeRate {
		return fmt.Errorf("%w: %d sat/vB exceeds %d", ErrFeeRateTooHigh, rate, fee.MaxFeeRate)
	}
	return nil
}

// required is amount plus the fee for inputs and two outputs. ok is false
// when the sum overflows.
func required(amount, rate uint64, inputs int) (uint64, bool) {
	f, ok := fee.BitcoinFee(rate, inputs, 2)
	if !ok {
		return 0, false
	}
	sum, carry := bits.Add64(amount, f, 0)
	return sum, carry == 0
}

// finish splits total into amount, fee and change. total must be >= need.
func finish(inputs []types.UTXO, total, amount, need uint64) *CoinSelection {
	sel := &CoinSelection{Inputs: inputs, Total: total, Amount: amount, Fee: need - amount}
	sel.Change = total - need
	if sel.Change < config.DustLimit {
		sel.Fee += sel.Change
		sel.Change = 0
	}
	return sel
}

// SelectAll spends every UTXO to a single output. The amount is the total
// minus the fee, so there is never change.
func SelectAll(utxos []types.UTXO, rate uint64) (*CoinSelection, error) {
	if rate > fee.MaxFeeRate {
		return nil, fmt.Errorf("%w: %d sat/vB exceeds %d", ErrFeeRateTooHigh, rate, fee.MaxFeeRate)
	}
	candidates := spendable(utxos)
	if len(candidates) == 0 {
		return nil, ErrNoUTXOs
	}
	total := totalValue(candidates)
	f, ok := fee.BitcoinFee(rate, len(candidates), 1)
	if !ok || total <= f || total-f < config.DustLimit {
		return nil, fmt.Errorf("%w: balance %d sats does not cover the fee plus dust limit", ErrInsufficientFunds, total)
	}
	if total-f > MaxSatoshi {
		return nil, fmt.Errorf("%w: %d sats", ErrAmountTooLarge, total-f)
	}
	return &CoinSelection{Inputs: candidates, Total: total, Amount: total - f, Fee: f}, nil
}

// spendable drops zero-value outputs and any claiming more than the supply,
// then sorts by value ascending and by outpoint so selection is
// reproducible.
func spendable(utxos []types.UTXO) []types.UTXO {
	out := make([]types.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Value > 0 && u.Value <= MaxSatoshi {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value < out[j].Value
		}
		return out[i].Outpoint.String() < out[j].Outpoint.String()
	})
	return out
}

// totalValue sums values, saturating at MaxUint64.
func totalValue(utxos []types.UTXO) uint64 {
	var total uint64
	for _, u := range utxos {
		sum, carry := bits.Add64(total, u.Value, 0)
		if carry != 0 {
			return math.MaxUint64
		}
		total = sum
	}
	return total
}
