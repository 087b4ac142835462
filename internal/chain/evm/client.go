// Package evm is the EVM chain client: balances, ERC-20 calls, nonces, gas
// oracles, broadcast and receipts over JSON-RPC, plus Etherscan history.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// Backend is the part of ethclient.Client the wallet uses. Tests supply a
// fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// Client is bound to one chain.
type Client struct {
	spec    config.EVMChainSpec
	backend *meteredBackend
}

// Dial connects to rpcURL and checks the node serves spec's chain.
func Dial(ctx context.Context, spec config.EVMChainSpec, rpcURL string) (*Client, error) {
	op := "evm.dial." + spec.Name
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, walleterr.Unavailable(op, err)
	}
	return Open(ctx, spec, backend)
}

// Open wraps backend after checking its chain id. The backend is closed
// when the check fails.
func Open(ctx context.Context, spec config.EVMChainSpec, backend Backend) (*Client, error) {
	c := NewClient(spec, backend)
	if err := c.VerifyChainID(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an existing backend. Every call through the client is
// metered; see Health.
func NewClient(spec config.EVMChainSpec, backend Backend) *Client {
	return &Client{spec: spec, backend: newMeteredBackend(spec.Name, backend)}
}

// Spec returns the chain definition.
func (c *Client) Spec() config.EVMChainSpec { return c.spec }

// Name returns the chain name.
func (c *Client) Name() string { return c.spec.Name }

// ChainID returns the configured EIP-155 chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).SetUint64(c.spec.ChainID) }

// Close releases the connection.
func (c *Client) Close() { c.backend.Close() }

// VerifyChainID checks the node reports the configured chain id.
func (c *Client) VerifyChainID(ctx context.Context) error {
	op := c.op("chain_id")
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return walleterr.Unavailable(op, err)
	}
	if id.Uint64() != c.spec.ChainID {
		return walleterr.New(walleterr.KindUnavailable, op, "node serves chain %s, want %d", id, c.spec.ChainID)
	}
	return nil
}

func (c *Client) op(name string) string {
	return "evm." + c.spec.Name + "." + name
}

// NativeAsset returns the chain's native asset.
func (c *Client) NativeAsset() types.Asset {
	return types.Asset{Symbol: c.spec.Native, Name: c.spec.NativeName, Decimals: config.EVMDecimals}
}

// Token looks up a known token by symbol or contract address.
func (c *Client) Token(symbolOrContract string) (types.Asset, bool) {
	isAddr := common.IsHexAddress(symbolOrContract)
	for _, t := range c.spec.Tokens {
		if t.Symbol == symbolOrContract || (isAddr && common.HexToAddress(t.Contract) == common.HexToAddress(symbolOrContract)) {
			return tokenAsset(t), true
		}
	}
	return types.Asset{}, false
}

func tokenAsset(t config.TokenSpec) types.Asset {
	return types.Asset{Symbol: t.Symbol, Name: t.Name, Decimals: t.Decimals, Contract: t.Contract}
}

// Balance returns the native balance in wei.
func (c *Client) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, walleterr.Unavailable(c.op("balance"), err)
	}
	return bal, nil
}

// TokenBalance returns owner's ERC-20 balance in base units.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := packBalanceOf(owner)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, c.op("token_balance"), err)
	}
	return c.callUint256(ctx, "token_balance", "balanceOf", token, data)
}

// Allowance returns how much spender may move from owner's token balance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := packAllowance(owner, spender)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, c.op("allowance"), err)
	}
	return c.callUint256(ctx, "allowance", "allowance", token, data)
}

// TokenDecimals reads decimals() from an ERC-20 contract.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	op := c.op("decimals")
	data, err := packDecimals()
	if err != nil {
		return 0, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, walleterr.Unavailable(op, err)
	}
	if len(out) == 0 {
		return 0, walleterr.Validation(op, "%s is not an ERC-20 contract", token.Hex())
	}
	d, err := unpackUint8("decimals", out)
	if err != nil {
		return 0, walleterr.Validation(op, "%s: %v", token.Hex(), err)
	}
	return int32(d), nil
}

func (c *Client) callUint256(ctx context.Context, opName, method string, to common.Address, data []byte) (*big.Int, error) {
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, walleterr.Unavailable(c.op(opName), err)
	}
	v, err := unpackUint256(method, out)
	if err != nil {
		return nil, walleterr.Unavailable(c.op(opName), err)
	}
	return v, nil
}

// Balances returns the native balance followed by every known token.
func (c *Client) Balances(ctx context.Context, owner common.Address) ([]types.AssetBalance, error) {
	native, err := c.Balance(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := []types.AssetBalance{c.assetBalance(c.NativeAsset(), native)}
	for _, t := range c.spec.Tokens {
		bal, err := c.TokenBalance(ctx, common.HexToAddress(t.Contract), owner)
		if err != nil {
			return nil, err
		}
		out = append(out, c.assetBalance(tokenAsset(t), bal))
	}
	return out, nil
}

func (c *Client) assetBalance(asset types.Asset, v *big.Int) types.AssetBalance {
	return types.AssetBalance{
		Chain:   c.spec.Name,
		Asset:   asset,
		Balance: v.String(),
		Display: types.FormatUnits(v, asset.Decimals),
	}
}

// PendingNonce returns the node's next nonce including pending
// transactions.
func (c *Client) PendingNonce(ctx context.Context, owner common.Address) (uint64, error) {
	n, err := c.backend.PendingNonceAt(ctx, owner)
	if err != nil {
		return 0, walleterr.Unavailable(c.op("nonce"), err)
	}
	return n, nil
}

// GasPrice returns the node's legacy gas price suggestion.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	gp, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, walleterr.Unavailable(c.op("gas_price"), err)
	}
	return gp, nil
}

// DynamicFee returns the latest base fee and suggested tip. A nil base fee
// means the chain has no EIP-1559 support.
func (c *Client) DynamicFee(ctx context.Context) (baseFee, tip *big.Int, err error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, walleterr.Unavailable(c.op("header"), err)
	}
	if head.BaseFee == nil {
		return nil, nil, nil
	}
	tip, err = c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, walleterr.Unavailable(c.op("tip_cap"), err)
	}
	return new(big.Int).Set(head.BaseFee), tip, nil
}

// Tier multipliers applied to the node's suggestion, in percent.
var tierPercent = map[types.Tier]int64{
	types.TierSlow: 80,
	types.TierAvg:  100,
	types.TierFast: 150,
}

func scalePercent(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

// FeeTiers returns legacy gas prices per tier and, when the chain has a base
// fee, EIP-1559 caps for the average tier.
func (c *Client) FeeTiers(ctx context.Context) (*types.EVMFeeTiers, error) {
	gp, err := c.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	tiers := &types.EVMFeeTiers{
		Slow: scalePercent(gp, tierPercent[types.TierSlow]).String(),
		Avg:  scalePercent(gp, tierPercent[types.TierAvg]).String(),
		Fast: scalePercent(gp, tierPercent[types.TierFast]).String(),
	}
	baseFee, tip, err := c.DynamicFee(ctx)
	if err != nil {
		return nil, err
	}
	if baseFee != nil {
		tiers.EIP1559 = DynamicFeeFor(baseFee, tip, types.TierAvg)
	}
	return tiers, nil
}

// DynamicFeeFor scales the tip by tier and caps the fee at twice the base
// fee plus tip.
func DynamicFeeFor(baseFee, tip *big.Int, tier types.Tier) *types.EIP1559Fee {
	pct, ok := tierPercent[tier]
	if !ok {
		pct = 100
	}
	scaled := scalePercent(tip, pct)
	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, scaled)
	return &types.EIP1559Fee{
		BaseFee: baseFee.String(),
		TipCap:  scaled.String(),
		MaxFee:  maxFee.String(),
	}
}

// EstimateGas returns the node's raw gas estimate for msg. Any failure,
// including a revert, is EstimationFailed with the node's message.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, walleterr.New(walleterr.KindEstimationFailed, c.op("estimate_gas"), "%v", err)
	}
	return gas, nil
}

// Broadcast submits a signed transaction. Node-side rejections (nonce too
// low, underpriced, insufficient funds) are BroadcastRejected with the
// node's message; transport failures are Unavailable.
func (c *Client) Broadcast(ctx context.Context, tx *ethtypes.Transaction) error {
	op := c.op("broadcast")
	err := c.backend.SendTransaction(ctx, tx)
	if err == nil {
		log.EVM.Info().Str("chain", c.spec.Name).Str("tx_hash", tx.Hash().Hex()).Uint64("nonce", tx.Nonce()).Msg("Transaction broadcast")
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return walleterr.New(walleterr.KindBroadcastRejected, op, "%s", rpcErr.Error())
	}
	return walleterr.Unavailable(op, err)
}

// Receipt returns the receipt of a mined transaction. A transaction that
// is unknown or still pending is NotFound.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, walleterr.NotFound(c.op("receipt"), "no receipt for %s", hash.Hex())
	}
	if err != nil {
		return nil, walleterr.Unavailable(c.op("receipt"), err)
	}
	return r, nil
}

// WaitReceipt polls for a receipt until it appears, ctx ends or timeout
// passes.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash, poll, timeout time.Duration) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		r, err := c.Receipt(ctx, hash)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, walleterr.ErrNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, walleterr.New(walleterr.KindUnavailable, c.op("wait_receipt"),
				"no receipt for %s after %s", hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

// CurrentBlock returns the latest block number.
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, walleterr.Unavailable(c.op("header"), err)
	}
	return head.Number.Uint64(), nil
}

func (c *Client) String() string {
	return fmt.Sprintf("%s(%d)", c.spec.Name, c.spec.ChainID)
}

// ReceiptStatus maps a receipt to a ledger status.
func ReceiptStatus(r *ethtypes.Receipt) types.TxStatus {
	if r.Status == ethtypes.ReceiptStatusSuccessful {
		return types.StatusConfirmed
	}
	return types.StatusFailed
}
