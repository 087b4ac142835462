package txbuilder

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingwallet/internal/address"
	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/fee"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/internal/wallet"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// rbfSequence signals replace-by-fee on every input.
const rbfSequence = wire.MaxTxInSequenceNum - 2

// BitcoinPlan is a built but unsigned Bitcoin spend.
type BitcoinPlan struct {
	Selection *CoinSelection
	FeeRate   uint64
	Tx        *wallet.BitcoinTx
}

// SendBitcoin selects coins, builds a P2WPKH spend with optional change,
// signs it and broadcasts it.
func (b *Builder) SendBitcoin(ctx context.Context, req SendRequest) (*Result, error) {
	const op = "txbuilder.bitcoin"
	r := b.newRun(req.Wallet.ID, bitcoin.ChainName)

	if b.btc == nil {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "bitcoin is not enabled"))
	}
	if req.Wallet.Family != types.FamilyBitcoin {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "wallet %s is not a bitcoin wallet", req.Wallet.ID))
	}
	if req.Asset != "" && req.Asset != bitcoin.NativeAsset.Symbol {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "unknown bitcoin asset %q", req.Asset))
	}
	if _, err := address.ValidateBitcoin(req.To, b.cfg.Params); err != nil {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "%v", err))
	}
	var amount uint64
	if !req.SendAll {
		v, err := types.ParseUnits(req.Amount, bitcoin.NativeAsset.Decimals)
		if err != nil {
			return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "%v", err))
		}
		if v.Sign() == 0 {
			return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "amount must be positive"))
		}
		if !v.IsUint64() || v.Uint64() > MaxSatoshi {
			return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "amount %s BTC exceeds the bitcoin supply", req.Amount))
		}
		amount = v.Uint64()
	}
	if req.FeeRate > fee.MaxFeeRate {
		return nil, r.fail(StateEstimationFailed, walleterr.Validation(op, "fee rate %d sat/vB exceeds %d", req.FeeRate, fee.MaxFeeRate))
	}

	unlock := b.lockWallet(req.Wallet.ID)
	defer unlock()

	r.to(StateEstimating, nil)
	plan, err := b.planBitcoin(ctx, req, amount)
	if err != nil {
		return nil, r.fail(StateEstimationFailed, err)
	}
	r.to(StateReady, nil)

	r.to(StateSigning, nil)
	signed, err := b.signer.Sign(req.Wallet.ID, plan.Tx)
	if err != nil {
		return nil, r.fail(StateSigningFailed, walleterr.Wrap(walleterr.KindSigningFailed, op, err))
	}

	r.to(StateBroadcasting, nil)
	b.inflight.Reserve(plan.Selection.Inputs)
	txid, err := b.btc.Broadcast(context.WithoutCancel(ctx), hex.EncodeToString(signed.Raw))
	countBroadcast(bitcoin.ChainName, err)
	if err != nil {
		// Only an explicit rejection proves the inputs are unspent; after a
		// transport failure the spend may still have reached the network.
		if errors.Is(err, walleterr.ErrBroadcastRejected) {
			b.inflight.Release(plan.Selection.Inputs)
		}
		return nil, r.fail(StateBroadcastRejected, err)
	}
	r.to(StateSubmitted, nil)

	sel := plan.Selection
	rec := types.TransactionRecord{
		WalletID:      req.Wallet.ID,
		Family:        types.FamilyBitcoin,
		Chain:         bitcoin.ChainName,
		TxHash:        txid,
		Type:          types.TxSend,
		From:          req.Wallet.Address,
		To:            req.To,
		Amount:        strconv.FormatUint(sel.Amount, 10),
		AmountDisplay: types.FormatUnits(new(big.Int).SetUint64(sel.Amount), bitcoin.NativeAsset.Decimals),
		Asset:         bitcoin.NativeAsset,
		Fee:           strconv.FormatUint(sel.Fee, 10),
	}
	return &Result{TxHash: txid, Record: b.record(rec)}, nil
}

// planBitcoin resolves the fee rate, selects coins and builds the unsigned
// transaction.
func (b *Builder) planBitcoin(ctx context.Context, req SendRequest, amount uint64) (*BitcoinPlan, error) {
	const op = "txbuilder.bitcoin.plan"

	rate := req.FeeRate
	if rate == 0 {
		q, err := b.fees.Bitcoin(ctx, req.Tier)
		if err != nil {
			return nil, err
		}
		rate = q.Bitcoin.Rate(q.Tier)
	}
	if rate == 0 {
		return nil, walleterr.New(walleterr.KindEstimationFailed, op, "fee rate is zero")
	}

	utxos, err := b.btc.UTXOs(ctx, req.Wallet.Address)
	if err != nil {
		return nil, err
	}
	spendable := b.inflight.Filter(utxos)

	var sel *CoinSelection
	if req.SendAll {
		sel, err = SelectAll(spendable, rate)
	} else {
		sel, err = SelectCoins(spendable, amount, rate)
	}
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNoUTXOs) {
		return nil, walleterr.New(walleterr.KindInsufficientFunds, op, "%v", err)
	}
	if err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}

	utx, err := b.buildBitcoinTx(req.Wallet.Address, req.To, sel)
	if err != nil {
		return nil, err
	}
	return &BitcoinPlan{Selection: sel, FeeRate: rate, Tx: utx}, nil
}

func (b *Builder) buildBitcoinTx(from, to string, sel *CoinSelection) (*wallet.BitcoinTx, error) {
	const op = "txbuilder.bitcoin.build"

	ownScript, err := address.BitcoinScript(from, b.cfg.Params)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	destScript, err := address.BitcoinScript(to, b.cfg.Params)
	if err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}

	if sel.Amount > MaxSatoshi || sel.Change > MaxSatoshi {
		return nil, walleterr.Validation(op, "output value exceeds the bitcoin supply")
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make([]*wire.TxOut, 0, len(sel.Inputs))
	for _, u := range sel.Inputs {
		hash, err := chainhash.NewHashFromStr(u.TxHash)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
		}
		in := wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil)
		in.Sequence = rbfSequence
		tx.AddTxIn(in)
		prevOuts = append(prevOuts, wire.NewTxOut(int64(u.Value), ownScript))
	}
	tx.AddTxOut(wire.NewTxOut(int64(sel.Amount), destScript))
	if sel.Change > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(sel.Change), ownScript))
	}
	return &wallet.BitcoinTx{Tx: tx, PrevOuts: prevOuts}, nil
}

// DecodeBitcoinTx parses a serialized transaction.
func DecodeBitcoinTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
