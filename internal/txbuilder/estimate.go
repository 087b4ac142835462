package txbuilder

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Klingon-tech/klingwallet/internal/address"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/fee"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// GasRequest is the shape of a transaction to estimate.
type GasRequest struct {
	Chain  string
	From   string // optional
	To     string
	Asset  string // empty for a native transfer
	Amount string // display units, optional
	Data   []byte // for contract calls
	Tier   types.Tier
}

// EstimateGas returns a padded gas limit, the tier's price and the
// worst-case fee. Addresses are validated before any network call.
func (b *Builder) EstimateGas(ctx context.Context, req GasRequest) (*types.GasEstimate, error) {
	const op = "txbuilder.estimate_gas"

	to, err := address.ValidateEVM(req.To)
	if err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}
	var from common.Address
	if req.From != "" {
		if from, err = address.ValidateEVM(req.From); err != nil {
			return nil, walleterr.Validation(op, "from: %v", err)
		}
	}
	client, err := b.evm.Get(req.Chain)
	if err != nil {
		return nil, err
	}

	asset, err := b.resolveAsset(ctx, client, req.Asset)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if strings.TrimSpace(req.Amount) != "" {
		if amount, err = types.ParseUnits(req.Amount, asset.Decimals); err != nil {
			return nil, walleterr.Validation(op, "%v", err)
		}
	}

	call := evmCall{To: to, Value: amount, Data: req.Data}
	if !asset.IsNative() {
		data, err := evm.PackTransfer(to, amount)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
		}
		call = evmCall{To: common.HexToAddress(asset.Contract), Value: new(big.Int), Data: data}
	}

	raw, err := client.EstimateGas(ctx, callMsg(from, call))
	if err != nil {
		return nil, err
	}
	fees, err := b.priceGas(ctx, client, req.Tier, nil)
	if err != nil {
		return nil, err
	}

	limit := b.fees.GasLimit(raw)
	est := &types.GasEstimate{
		Chain:       client.Name(),
		GasLimit:    limit,
		RawGasLimit: raw,
		FeeWei:      fee.MaxCost(limit, fees.priceCap()).String(),
		PriceSource: fees.Source,
	}
	if fees.TipCap != nil {
		est.GasPrice = fees.MaxFee.String()
		est.MaxFee = fees.MaxFee.String()
		est.TipCap = fees.TipCap.String()
	} else {
		est.GasPrice = fees.GasPrice.String()
	}
	return est, nil
}
