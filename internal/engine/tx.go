package engine

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/price"
	"github.com/Klingon-tech/klingwallet/internal/txbuilder"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// EstimateFee returns a chain's fee tiers with the requested tier selected.
func (e *Engine) EstimateFee(ctx context.Context, c *EstimateFee) (*FeeResult, error) {
	const op = "engine.estimate_fee"
	tier, err := types.ParseTier(string(c.Tier))
	if err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}
	if c.Chain == bitcoin.ChainName {
		return e.fees.Bitcoin(ctx, tier)
	}
	client, err := e.evm.Get(c.Chain)
	if err != nil {
		return nil, err
	}
	return e.fees.EVM(ctx, client, tier)
}

// EstimateGas estimates an EVM call and prices the fee in USD when the
// native asset has a quote.
func (e *Engine) EstimateGas(ctx context.Context, c *EstimateGas) (*types.GasEstimate, error) {
	const op = "engine.estimate_gas"
	tier, err := types.ParseTier(string(c.Tier))
	if err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}
	data, err := decodeHex(op, "data", c.Data)
	if err != nil {
		return nil, err
	}
	est, err := e.builder.EstimateGas(ctx, txbuilder.GasRequest{
		Chain:  c.Chain,
		From:   c.From,
		To:     c.To,
		Asset:  c.Asset,
		Amount: c.Amount,
		Data:   data,
		Tier:   tier,
	})
	if err != nil {
		return nil, err
	}
	if e.prices != nil {
		if client, err := e.evm.Get(c.Chain); err == nil {
			native := client.NativeAsset().Symbol
			quotes, _ := e.prices.Prices(ctx, []string{native})
			_, est.FeeUSD, _ = price.Value(quotes, native, est.FeeWei, config.EVMDecimals)
		}
	}
	return est, nil
}

// Send builds, signs, broadcasts and records a transfer.
func (e *Engine) Send(ctx context.Context, c *Send) (*txbuilder.Result, error) {
	const op = "engine.send"
	w, err := e.ledger.Wallet(c.WalletID)
	if err != nil {
		return nil, err
	}
	tier, err := types.ParseTier(string(c.Tier))
	if err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}
	var gasPrice *big.Int
	if c.GasPrice != "" {
		v, ok := new(big.Int).SetString(c.GasPrice, 10)
		if !ok || v.Sign() <= 0 {
			return nil, walleterr.Validation(op, "invalid gas_price %q", c.GasPrice)
		}
		gasPrice = v
	}
	data, err := decodeHex(op, "data", c.Data)
	if err != nil {
		return nil, err
	}
	chain := c.Chain
	if chain == "" && w.Family == types.FamilyBitcoin {
		chain = bitcoin.ChainName
	}

	res, err := e.builder.Send(ctx, txbuilder.SendRequest{
		Wallet:   w,
		Chain:    chain,
		To:       c.To,
		Amount:   c.Amount,
		Asset:    c.Asset,
		SendAll:  c.SendAll,
		Tier:     tier,
		FeeRate:  c.FeeRate,
		GasPrice: gasPrice,
		GasLimit: c.GasLimit,
		Spender:  c.Spender,
		Data:     data,
	})
	if err != nil {
		return nil, err
	}
	e.refresher.Invalidate(w.ID)
	log.Engine.Info().Str("wallet_id", w.ID).Str("chain", chain).Str("tx_hash", res.TxHash).Msg("Send submitted")
	return res, nil
}

// Approve broadcasts an ERC-20 approval.
func (e *Engine) Approve(ctx context.Context, c *Approve) (*txbuilder.Result, error) {
	const op = "engine.approve"
	w, err := e.ledger.Wallet(c.WalletID)
	if err != nil {
		return nil, err
	}
	tier, err := types.ParseTier(string(c.Tier))
	if err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}
	res, err := e.builder.Approve(ctx, txbuilder.ApproveRequest{
		Wallet:  w,
		Chain:   c.Chain,
		Token:   c.Token,
		Spender: c.Spender,
		Amount:  c.Amount,
		Max:     c.Max,
		Tier:    tier,
	})
	if err != nil {
		return nil, err
	}
	e.refresher.Invalidate(w.ID)
	return res, nil
}

// SendRaw broadcasts a transaction the caller signed.
func (e *Engine) SendRaw(ctx context.Context, c *SendRaw) (*txbuilder.Result, error) {
	const op = "engine.send_raw"
	w, err := e.ledger.Wallet(c.WalletID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.RawTx) == "" {
		return nil, walleterr.Validation(op, "raw_tx is required")
	}
	raw, err := decodeHex(op, "raw_tx", c.RawTx)
	if err != nil {
		return nil, err
	}
	res, err := e.builder.SendRaw(ctx, txbuilder.SendRawRequest{Wallet: w, Chain: c.Chain, RawTx: raw})
	if err != nil {
		return nil, err
	}
	e.refresher.Invalidate(w.ID)
	return res, nil
}

// decodeHex accepts hex with or without 0x. Empty input decodes to nil.
func decodeHex(op, field, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, walleterr.Validation(op, "%s: %v", field, err)
	}
	return b, nil
}
