package fee

import (
	"math"
	"math/big"
	"math/bits"
)

// Virtual size heuristic for P2WPKH transactions, in vbytes. It is an
// approximation: 1 input with 2 outputs estimates 148 vB.
const (
	txOverheadVSize = 12
	inputVSize      = 68
	outputVSize     = 34
)

// MaxFeeRate is the highest sat/vB rate a send may use.
const MaxFeeRate = 10_000

// DefaultGasMultiplier pads raw gas estimates.
const DefaultGasMultiplier = 1.25

// VSize estimates the virtual size of a transaction.
func VSize(inputs, outputs int) uint64 {
	return uint64(txOverheadVSize + inputVSize*inputs + outputVSize*outputs)
}

// BitcoinFee is VSize times a sat/vB rate. ok is false when the product
// does not fit in a uint64.
func BitcoinFee(rate uint64, inputs, outputs int) (fee uint64, ok bool) {
	hi, lo := bits.Mul64(VSize(inputs, outputs), rate)
	return lo, hi == 0
}

// GasLimit pads a raw estimate by multiplier and rounds up. Multipliers
// below 1 use DefaultGasMultiplier.
func GasLimit(raw uint64, multiplier float64) uint64 {
	if multiplier < 1 {
		multiplier = DefaultGasMultiplier
	}
	// Work in hundredths so 1.25 is exact.
	pct := uint64(math.Round(multiplier * 100))
	return (raw*pct + 99) / 100
}

// MaxCost is the worst-case fee of gasLimit at price.
func MaxCost(gasLimit uint64, price *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), price)
}
