package bitcoin

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// ChainName is the ledger chain name of Bitcoin records.
const ChainName = "bitcoin"

// NativeAsset is BTC.
var NativeAsset = types.Asset{Symbol: "BTC", Name: "Bitcoin", Decimals: config.BTCDecimals}

// Tx is an Esplora transaction.
type Tx struct {
	TxID   string  `json:"txid"`
	Vin    []TxIn  `json:"vin"`
	Vout   []TxOut `json:"vout"`
	Fee    uint64  `json:"fee"`
	Status Status  `json:"status"`
}

// TxIn is an Esplora input with its resolved prevout.
type TxIn struct {
	TxID    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Prevout *TxOut `json:"prevout"`
}

// TxOut is an Esplora output.
type TxOut struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address,omitempty"`
	Value               uint64 `json:"value"`
}

// History returns the most recent transactions of an address (Esplora's
// first page: mempool plus up to 25 confirmed).
func (c *Client) History(ctx context.Context, addr string) ([]Tx, error) {
	var txs []Tx
	if err := c.getJSON(ctx, "bitcoin.history", c.esploraURL+"/address/"+addr+"/txs", &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// HistoryRecords fetches History and converts it to ledger records.
func (c *Client) HistoryRecords(ctx context.Context, walletID, addr string) ([]types.TransactionRecord, error) {
	txs, err := c.History(ctx, addr)
	if err != nil {
		return nil, err
	}
	var tip uint64
	for _, tx := range txs {
		if tx.Status.Confirmed {
			if tip, err = c.TipHeight(ctx); err != nil {
				return nil, err
			}
			break
		}
	}
	records := make([]types.TransactionRecord, 0, len(txs))
	for _, tx := range txs {
		records = append(records, ToRecord(tx, walletID, addr, tip))
	}
	return records, nil
}

// ToRecord classifies tx from addr's point of view. A transaction that
// pays addr more than it spends from addr is a receive of the difference;
// anything else is a send of what left the wallet, excluding the fee.
func ToRecord(tx Tx, walletID, addr string, tip uint64) types.TransactionRecord {
	var received, sent uint64
	var counterpartyIn, counterpartyOut string
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddress == addr {
			received += out.Value
		} else if counterpartyOut == "" {
			counterpartyOut = out.ScriptPubKeyAddress
		}
	}
	for _, in := range tx.Vin {
		if in.Prevout == nil {
			continue
		}
		if in.Prevout.ScriptPubKeyAddress == addr {
			sent += in.Prevout.Value
		} else if counterpartyIn == "" {
			counterpartyIn = in.Prevout.ScriptPubKeyAddress
		}
	}

	rec := types.TransactionRecord{
		WalletID: walletID,
		Family:   types.FamilyBitcoin,
		Chain:    ChainName,
		TxHash:   tx.TxID,
		Asset:    NativeAsset,
		Fee:      strconv.FormatUint(tx.Fee, 10),
		Status:   types.StatusPending,
	}

	var amount uint64
	if received > sent {
		rec.Type = types.TxReceive
		rec.From, rec.To = counterpartyIn, addr
		amount = received - sent
	} else {
		rec.Type = types.TxSend
		rec.From, rec.To = addr, counterpartyOut
		if out := sent - received; out > tx.Fee {
			amount = out - tx.Fee
		}
	}
	rec.Amount = strconv.FormatUint(amount, 10)
	rec.AmountDisplay = types.FormatUnits(new(big.Int).SetUint64(amount), NativeAsset.Decimals)

	if tx.Status.Confirmed {
		rec.Status = types.StatusConfirmed
		rec.BlockNumber = tx.Status.BlockHeight
		rec.Confirmations = Confirmations(tx.Status, tip)
		rec.Timestamp = time.Unix(tx.Status.BlockTime, 0).UTC()
	}
	return rec
}
