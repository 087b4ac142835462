package txbuilder

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/address"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/fee"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/internal/wallet"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// evmFees is the resolved pricing of one transaction. TipCap is nil for a
// legacy transaction.
type evmFees struct {
	GasPrice *big.Int
	TipCap   *big.Int
	MaxFee   *big.Int
	Source   types.Source
}

// priceCap is the worst-case price per gas.
func (f *evmFees) priceCap() *big.Int {
	if f.TipCap != nil {
		return f.MaxFee
	}
	return f.GasPrice
}

// evmCall is a transaction shape before nonce and gas are fixed.
type evmCall struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

func callMsg(from common.Address, call evmCall) ethereum.CallMsg {
	to := call.To
	return ethereum.CallMsg{From: from, To: &to, Value: call.Value, Data: call.Data}
}

// evmPlan is a priced, unsigned transaction and what it means to the
// ledger.
type evmPlan struct {
	Tx        *ethtypes.Transaction
	Type      types.TxType
	Recipient string
	Amount    *big.Int
	Asset     types.Asset
	MaxCost   *big.Int // gas limit times price cap
}

// SendEVM transfers the native asset or an ERC-20 token. With a Spender it
// first raises the spender's allowance when needed, then calls it.
func (b *Builder) SendEVM(ctx context.Context, req SendRequest) (*Result, error) {
	const op = "txbuilder.evm"
	r := b.newRun(req.Wallet.ID, req.Chain)

	if req.Wallet.Family != types.FamilyEVM {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "wallet %s is not an EVM wallet", req.Wallet.ID))
	}
	client, err := b.evm.Get(req.Chain)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, err)
	}
	to, err := address.ValidateEVM(req.To)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "%v", err))
	}
	var spender *common.Address
	if req.Spender != "" {
		s, err := address.ValidateEVM(req.Spender)
		if err != nil {
			return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "spender: %v", err))
		}
		if len(req.Data) == 0 {
			return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "a spender call needs call data"))
		}
		spender = &s
	}
	from := common.HexToAddress(req.Wallet.Address)

	unlock := b.lockWallet(req.Wallet.ID)
	defer unlock()

	r.to(StateEstimating, nil)
	asset, err := b.resolveAsset(ctx, client, req.Asset)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, err)
	}
	if spender != nil && asset.IsNative() {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "a spender needs a token asset"))
	}
	var amount *big.Int
	if !req.SendAll {
		if amount, err = parseAmount(op, req.Amount, asset); err != nil {
			return nil, r.fail(StateEstimationFailed, err)
		}
	}

	var approval *types.TransactionRecord
	if spender != nil {
		token := common.HexToAddress(asset.Contract)
		if req.SendAll {
			if amount, err = client.TokenBalance(ctx, token, from); err != nil {
				return nil, r.fail(StateEstimationFailed, err)
			}
		}
		allowance, err := client.Allowance(ctx, token, from, *spender)
		if err != nil {
			return nil, r.fail(StateEstimationFailed, err)
		}
		if allowance.Cmp(amount) < 0 {
			r.to(StateApprovalRequired, nil)
			r.to(StateApproving, nil)
			rec, err := b.approveAndWait(ctx, client, req.Wallet, token, *spender, amount, req.Tier)
			if err != nil {
				return nil, r.fail(failState(err), err)
			}
			approval = &rec
			r.to(StateApproved, nil)
		}
	}

	plan, err := b.planEVM(ctx, client, req, from, to, spender, asset, amount)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, err)
	}
	r.to(StateReady, nil)

	res, err := b.submitEVM(ctx, r, client, req.Wallet, plan)
	if err != nil {
		return nil, err
	}
	res.Approval = approval
	return res, nil
}

// failState maps an error kind to the terminal state it ends a send in.
func failState(err error) State {
	switch walleterr.KindOf(err) {
	case walleterr.KindSigningFailed:
		return StateSigningFailed
	case walleterr.KindBroadcastRejected:
		return StateBroadcastRejected
	}
	return StateEstimationFailed
}

func parseAmount(op, s string, asset types.Asset) (*big.Int, error) {
	v, err := types.ParseUnits(s, asset.Decimals)
	if err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}
	if v.Sign() == 0 {
		return nil, walleterr.Validation(op, "amount must be positive")
	}
	return v, nil
}

// resolveAsset accepts the native symbol, a known token symbol or contract,
// or any ERC-20 contract address (decimals are read from the chain).
func (b *Builder) resolveAsset(ctx context.Context, client *evm.Client, s string) (types.Asset, error) {
	native := client.NativeAsset()
	if s == "" || strings.EqualFold(s, native.Symbol) {
		return native, nil
	}
	if a, ok := client.Token(s); ok {
		return a, nil
	}
	contract, err := address.ValidateEVM(s)
	if err != nil {
		return types.Asset{}, walleterr.Validation("txbuilder.asset", "unknown asset %q on %s", s, client.Name())
	}
	decimals, err := client.TokenDecimals(ctx, contract)
	if err != nil {
		return types.Asset{}, err
	}
	return types.Asset{Symbol: contract.Hex(), Name: contract.Hex(), Decimals: decimals, Contract: contract.Hex()}, nil
}

// priceGas resolves pricing: an explicit gas price wins, otherwise the
// quote's EIP-1559 caps when the chain has a base fee, else its legacy
// price.
func (b *Builder) priceGas(ctx context.Context, client *evm.Client, tier types.Tier, gasPrice *big.Int) (*evmFees, error) {
	if gasPrice != nil {
		if gasPrice.Sign() <= 0 {
			return nil, walleterr.Validation("txbuilder.fees", "gas price must be positive")
		}
		return &evmFees{GasPrice: gasPrice, Source: types.SourceLive}, nil
	}
	q, err := b.fees.EVM(ctx, client, tier)
	if err != nil {
		return nil, err
	}
	f := &evmFees{Source: q.Source}
	if tip, maxFee := fee.DynamicFee(q); tip != nil {
		f.TipCap, f.MaxFee = tip, maxFee
		return f, nil
	}
	if f.GasPrice, err = fee.GasPrice(q); err != nil {
		return nil, err
	}
	return f, nil
}

// gasLimit pads the node's estimate unless the caller fixed one.
func (b *Builder) gasLimit(ctx context.Context, client *evm.Client, from common.Address, call evmCall, override uint64) (uint64, error) {
	if override > 0 {
		return override, nil
	}
	raw, err := client.EstimateGas(ctx, callMsg(from, call))
	if err != nil {
		return 0, err
	}
	return b.fees.GasLimit(raw), nil
}

// planEVM prices the transfer and checks the wallet can pay for it. Funds
// are checked against the worst case: gas limit times the price cap.
func (b *Builder) planEVM(ctx context.Context, client *evm.Client, req SendRequest, from, to common.Address,
	spender *common.Address, asset types.Asset, amount *big.Int) (*evmPlan, error) {

	const op = "txbuilder.evm.plan"
	fees, err := b.priceGas(ctx, client, req.Tier, req.GasPrice)
	if err != nil {
		return nil, err
	}
	native, err := client.Balance(ctx, from)
	if err != nil {
		return nil, err
	}

	plan := &evmPlan{Type: types.TxSend, Recipient: to.Hex(), Asset: asset}
	var call evmCall
	switch {
	case spender != nil:
		plan.Type = types.TxContract
		plan.Recipient = spender.Hex()
		call = evmCall{To: *spender, Value: new(big.Int), Data: req.Data}
	case !asset.IsNative():
		token := common.HexToAddress(asset.Contract)
		bal, err := client.TokenBalance(ctx, token, from)
		if err != nil {
			return nil, err
		}
		if req.SendAll {
			amount = bal
		}
		if amount.Sign() == 0 || bal.Cmp(amount) < 0 {
			return nil, walleterr.New(walleterr.KindInsufficientFunds, op,
				"%s balance %s is below %s", asset.Symbol, types.FormatUnits(bal, asset.Decimals), types.FormatUnits(amount, asset.Decimals))
		}
		data, err := evm.PackTransfer(to, amount)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
		}
		call = evmCall{To: token, Value: new(big.Int), Data: data}
	default:
		if !req.SendAll && amount.Cmp(native) > 0 {
			return nil, walleterr.New(walleterr.KindInsufficientFunds, op,
				"balance %s is below amount %s", types.FormatUnits(native, asset.Decimals), types.FormatUnits(amount, asset.Decimals))
		}
		value := amount
		if req.SendAll {
			value = new(big.Int)
		}
		call = evmCall{To: to, Value: value, Data: req.Data}
	}
	plan.Amount = amount

	gas, err := b.gasLimit(ctx, client, from, call, req.GasLimit)
	if err != nil {
		return nil, err
	}
	plan.MaxCost = fee.MaxCost(gas, fees.priceCap())

	if asset.IsNative() && spender == nil {
		if req.SendAll {
			call.Value = new(big.Int).Sub(native, plan.MaxCost)
			if call.Value.Sign() <= 0 {
				return nil, walleterr.New(walleterr.KindInsufficientFunds, op,
					"balance %s does not cover gas %s", native, plan.MaxCost)
			}
			plan.Amount = call.Value
		} else if need := new(big.Int).Add(amount, plan.MaxCost); need.Cmp(native) > 0 {
			return nil, walleterr.New(walleterr.KindInsufficientFunds, op,
				"amount %s plus gas %s exceeds balance %s", amount, plan.MaxCost, native)
		}
	} else if plan.MaxCost.Cmp(native) > 0 {
		return nil, walleterr.New(walleterr.KindInsufficientFunds, op,
			"native balance %s does not cover gas %s", native, plan.MaxCost)
	}

	nonce, err := b.nextNonce(ctx, client, from)
	if err != nil {
		return nil, err
	}
	plan.Tx = buildEVMTx(client.ChainID(), nonce, gas, fees, call)
	return plan, nil
}

func (b *Builder) nextNonce(ctx context.Context, client *evm.Client, from common.Address) (uint64, error) {
	pending, err := client.PendingNonce(ctx, from)
	if err != nil {
		return 0, err
	}
	return b.nonces.Next(client.Name(), from.Hex(), pending), nil
}

func buildEVMTx(chainID *big.Int, nonce, gas uint64, fees *evmFees, call evmCall) *ethtypes.Transaction {
	to := call.To
	if fees.TipCap != nil {
		return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.TipCap,
			GasFeeCap: fees.MaxFee,
			Gas:       gas,
			To:        &to,
			Value:     call.Value,
			Data:      call.Data,
		})
	}
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: fees.GasPrice,
		Gas:      gas,
		To:       &to,
		Value:    call.Value,
		Data:     call.Data,
	})
}

// submitEVM signs and broadcasts plan, then records it as pending. r may
// be nil for transactions that are a step of a larger send.
func (b *Builder) submitEVM(ctx context.Context, r *run, client *evm.Client, w types.Wallet, plan *evmPlan) (*Result, error) {
	const op = "txbuilder.evm.submit"
	step := func(s State) {
		if r != nil {
			r.to(s, nil)
		}
	}
	fail := func(s State, err error) error {
		if r != nil {
			return r.fail(s, err)
		}
		return err
	}

	step(StateSigning)
	signed, err := b.signer.Sign(w.ID, &wallet.EVMTx{Tx: plan.Tx, ChainID: client.ChainID()})
	if err != nil {
		return nil, fail(StateSigningFailed, walleterr.Wrap(walleterr.KindSigningFailed, op, err))
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(signed.Raw); err != nil {
		return nil, fail(StateSigningFailed, walleterr.New(walleterr.KindSigningFailed, op, "decode signed tx: %v", err))
	}

	step(StateBroadcasting)
	err = client.Broadcast(context.WithoutCancel(ctx), tx)
	countBroadcast(client.Name(), err)
	if err != nil {
		return nil, fail(StateBroadcastRejected, err)
	}
	from := common.HexToAddress(w.Address)
	b.nonces.Commit(client.Name(), from.Hex(), tx.Nonce())
	step(StateSubmitted)

	nonce := tx.Nonce()
	rec := types.TransactionRecord{
		WalletID:      w.ID,
		Family:        types.FamilyEVM,
		Chain:         client.Name(),
		ChainID:       client.Spec().ChainID,
		TxHash:        tx.Hash().Hex(),
		Type:          plan.Type,
		From:          from.Hex(),
		To:            plan.Recipient,
		Amount:        plan.Amount.String(),
		AmountDisplay: types.FormatUnits(plan.Amount, plan.Asset.Decimals),
		Asset:         plan.Asset,
		Fee:           plan.MaxCost.String(),
		Nonce:         &nonce,
	}
	return &Result{TxHash: rec.TxHash, Record: b.record(rec)}, nil
}

// approvalAmount is amount in exact mode and MaxUint256 in max mode.
func (b *Builder) approvalAmount(amount *big.Int) *big.Int {
	if b.cfg.ApprovalMode == config.ApprovalMax {
		return new(big.Int).Set(evm.MaxUint256)
	}
	return amount
}

// planApproval builds approve(spender, value) for token.
func (b *Builder) planApproval(ctx context.Context, client *evm.Client, from, token, spender common.Address,
	value *big.Int, asset types.Asset, tier types.Tier) (*evmPlan, error) {

	const op = "txbuilder.approve.plan"
	data, err := evm.PackApprove(spender, value)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	fees, err := b.priceGas(ctx, client, tier, nil)
	if err != nil {
		return nil, err
	}
	call := evmCall{To: token, Value: new(big.Int), Data: data}
	gas, err := b.gasLimit(ctx, client, from, call, 0)
	if err != nil {
		return nil, err
	}
	native, err := client.Balance(ctx, from)
	if err != nil {
		return nil, err
	}
	maxCost := fee.MaxCost(gas, fees.priceCap())
	if maxCost.Cmp(native) > 0 {
		return nil, walleterr.New(walleterr.KindInsufficientFunds, op,
			"native balance %s does not cover approval gas %s", native, maxCost)
	}
	nonce, err := b.nextNonce(ctx, client, from)
	if err != nil {
		return nil, err
	}
	return &evmPlan{
		Tx:        buildEVMTx(client.ChainID(), nonce, gas, fees, call),
		Type:      types.TxApprove,
		Recipient: spender.Hex(),
		Amount:    value,
		Asset:     asset,
		MaxCost:   maxCost,
	}, nil
}

// approveAndWait broadcasts an approval, waits for its receipt and checks
// the allowance now covers amount.
func (b *Builder) approveAndWait(ctx context.Context, client *evm.Client, w types.Wallet, token, spender common.Address,
	amount *big.Int, tier types.Tier) (types.TransactionRecord, error) {

	const op = "txbuilder.approve"
	from := common.HexToAddress(w.Address)
	asset, ok := client.Token(token.Hex())
	if !ok {
		asset = types.Asset{Symbol: token.Hex(), Name: token.Hex(), Contract: token.Hex()}
	}

	plan, err := b.planApproval(ctx, client, from, token, spender, b.approvalAmount(amount), asset, tier)
	if err != nil {
		return types.TransactionRecord{}, err
	}
	res, err := b.submitEVM(ctx, nil, client, w, plan)
	if err != nil {
		return types.TransactionRecord{}, err
	}
	log.Builder.Info().Str("wallet_id", w.ID).Str("chain", client.Name()).Str("tx_hash", res.TxHash).Msg("Approval submitted, waiting for inclusion")

	receipt, err := client.WaitReceipt(ctx, common.HexToHash(res.TxHash), b.cfg.PollInterval, b.cfg.ConfirmTimeout)
	if err != nil {
		return res.Record, err
	}
	if evm.ReceiptStatus(receipt) != types.StatusConfirmed {
		return res.Record, walleterr.New(walleterr.KindEstimationFailed, op, "approval %s reverted", res.TxHash)
	}
	allowance, err := client.Allowance(ctx, token, from, spender)
	if err != nil {
		return res.Record, err
	}
	if allowance.Cmp(amount) < 0 {
		return res.Record, walleterr.New(walleterr.KindEstimationFailed, op,
			"allowance %s still below %s after approval", allowance, amount)
	}
	return res.Record, nil
}

// ApproveRequest sets a spender's ERC-20 allowance.
type ApproveRequest struct {
	Wallet  types.Wallet
	Chain   string
	Token   string // symbol or contract
	Spender string
	Amount  string // display units; ignored when Max is set
	Max     bool
	Tier    types.Tier
}

// Approve broadcasts a standalone approve(spender, amount) and returns
// without waiting for inclusion.
func (b *Builder) Approve(ctx context.Context, req ApproveRequest) (*Result, error) {
	const op = "txbuilder.approve"
	r := b.newRun(req.Wallet.ID, req.Chain)

	if req.Wallet.Family != types.FamilyEVM {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "wallet %s is not an EVM wallet", req.Wallet.ID))
	}
	client, err := b.evm.Get(req.Chain)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, err)
	}
	spender, err := address.ValidateEVM(req.Spender)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "spender: %v", err))
	}

	unlock := b.lockWallet(req.Wallet.ID)
	defer unlock()

	r.to(StateEstimating, nil)
	asset, err := b.resolveAsset(ctx, client, req.Token)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, err)
	}
	if asset.IsNative() {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "%s is not a token", asset.Symbol))
	}
	value := new(big.Int).Set(evm.MaxUint256)
	if !req.Max {
		if value, err = types.ParseUnits(req.Amount, asset.Decimals); err != nil {
			return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "%v", err))
		}
	}

	from := common.HexToAddress(req.Wallet.Address)
	plan, err := b.planApproval(ctx, client, from, common.HexToAddress(asset.Contract), spender, value, asset, req.Tier)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, err)
	}
	r.to(StateReady, nil)
	return b.submitEVM(ctx, r, client, req.Wallet, plan)
}

// SendRawRequest broadcasts a transaction signed elsewhere. An empty Chain
// is resolved from the transaction's chain id.
type SendRawRequest struct {
	Wallet types.Wallet
	Chain  string
	RawTx  []byte
}

// SendRaw broadcasts a signed EVM transaction after checking it targets
// the chain and was signed by the wallet.
func (b *Builder) SendRaw(ctx context.Context, req SendRawRequest) (*Result, error) {
	const op = "txbuilder.send_raw"
	r := b.newRun(req.Wallet.ID, req.Chain)

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(req.RawTx); err != nil {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "decode transaction: %v", err))
	}
	var client *evm.Client
	var err error
	if req.Chain == "" {
		if !tx.ChainId().IsUint64() {
			return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "chain id %s out of range", tx.ChainId()))
		}
		client, err = b.evm.ByChainID(tx.ChainId().Uint64())
	} else {
		client, err = b.evm.Get(req.Chain)
	}
	if err != nil {
		return nil, r.fail(StateEstimationFailed, err)
	}
	r.chain = client.Name()
	if tx.ChainId().Cmp(client.ChainID()) != 0 {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "transaction is for chain %s, not %s", tx.ChainId(), client.Name()))
	}
	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(client.ChainID()), tx)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "recover sender: %v", err))
	}
	if req.Wallet.Family != types.FamilyEVM || !strings.EqualFold(sender.Hex(), req.Wallet.Address) {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "transaction is signed by %s, not wallet %s", sender.Hex(), req.Wallet.ID))
	}

	unlock := b.lockWallet(req.Wallet.ID)
	defer unlock()

	r.to(StateReady, nil)
	r.to(StateBroadcasting, nil)
	err = client.Broadcast(context.WithoutCancel(ctx), tx)
	countBroadcast(client.Name(), err)
	if err != nil {
		return nil, r.fail(StateBroadcastRejected, err)
	}
	b.nonces.Commit(client.Name(), sender.Hex(), tx.Nonce())
	r.to(StateSubmitted, nil)

	txType := types.TxContract
	switch data := tx.Data(); {
	case len(data) == 0:
		txType = types.TxSend
	case strings.HasPrefix(common.Bytes2Hex(data), strings.TrimPrefix(evm.ApproveSelector, "0x")):
		txType = types.TxApprove
	}
	recipient := ""
	if tx.To() != nil {
		recipient = tx.To().Hex()
	}
	nonce := tx.Nonce()
	rec := types.TransactionRecord{
		WalletID:      req.Wallet.ID,
		Family:        types.FamilyEVM,
		Chain:         client.Name(),
		ChainID:       client.Spec().ChainID,
		TxHash:        tx.Hash().Hex(),
		Type:          txType,
		From:          sender.Hex(),
		To:            recipient,
		Amount:        tx.Value().String(),
		AmountDisplay: types.FormatUnits(tx.Value(), config.EVMDecimals),
		Asset:         client.NativeAsset(),
		Fee:           fee.MaxCost(tx.Gas(), tx.GasFeeCap()).String(),
		Nonce:         &nonce,
	}
	return &Result{TxHash: rec.TxHash, Record: b.record(rec)}, nil
}
