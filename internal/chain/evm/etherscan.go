package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// DefaultEtherscanURL is the multichain v2 endpoint.
const DefaultEtherscanURL = "https://api.etherscan.io/v2/api"

// Explorer reads account history from an Etherscan-compatible API.
type Explorer struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewExplorer creates an explorer client. An empty baseURL uses the
// Etherscan v2 endpoint.
func NewExplorer(baseURL, apiKey string, timeout time.Duration) *Explorer {
	if baseURL == "" {
		baseURL = DefaultEtherscanURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Explorer{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

// ExplorerTx is one row of txlist or tokentx. Token fields are empty for
// native transfers.
type ExplorerTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	Nonce           string `json:"nonce"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	Input           string `json:"input"`
	Confirmations   string `json:"confirmations"`
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Transactions returns normal transactions followed by token transfers.
func (e *Explorer) Transactions(ctx context.Context, chainID uint64, addr string) ([]ExplorerTx, error) {
	normal, err := e.list(ctx, chainID, "txlist", addr)
	if err != nil {
		return nil, err
	}
	tokens, err := e.list(ctx, chainID, "tokentx", addr)
	if err != nil {
		return nil, err
	}
	return append(normal, tokens...), nil
}

func (e *Explorer) list(ctx context.Context, chainID uint64, action, addr string) ([]ExplorerTx, error) {
	op := "etherscan." + action
	q := url.Values{}
	q.Set("chainid", strconv.FormatUint(chainID, 10))
	q.Set("module", "account")
	q.Set("action", action)
	q.Set("address", addr)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("sort", "desc")
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, walleterr.Unavailable(op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, walleterr.Unavailable(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, walleterr.New(walleterr.KindUnavailable, op, "HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r explorerResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, walleterr.Unavailable(op, fmt.Errorf("decode response: %w", err))
	}
	if r.Status != "1" {
		if strings.Contains(r.Message, "No transactions found") {
			return nil, nil
		}
		reason := r.Message
		var detail string
		if json.Unmarshal(r.Result, &detail) == nil && detail != "" {
			reason += ": " + detail
		}
		return nil, walleterr.New(walleterr.KindUnavailable, op, "%s", reason)
	}
	var txs []ExplorerTx
	if err := json.Unmarshal(r.Result, &txs); err != nil {
		return nil, walleterr.Unavailable(op, fmt.Errorf("decode result: %w", err))
	}
	return txs, nil
}

// HistoryRecords fetches history for addr on spec's chain and converts it to
// ledger records. A token transfer replaces the plain transaction with the
// same hash.
func (e *Explorer) HistoryRecords(ctx context.Context, spec config.EVMChainSpec, walletID, addr string) ([]types.TransactionRecord, error) {
	txs, err := e.Transactions(ctx, spec.ChainID, addr)
	if err != nil {
		return nil, err
	}
	byHash := make(map[string]int, len(txs))
	var records []types.TransactionRecord
	for _, tx := range txs {
		rec := ExplorerRecord(spec, tx, walletID, addr)
		key := strings.ToLower(rec.TxHash)
		if i, ok := byHash[key]; ok {
			if tx.ContractAddress != "" {
				records[i] = rec
			}
			continue
		}
		byHash[key] = len(records)
		records = append(records, rec)
	}
	return records, nil
}

// ExplorerRecord classifies tx from addr's point of view. The wallet is the
// sender when from matches addr (case-insensitive); only senders pay the
// fee.
func ExplorerRecord(spec config.EVMChainSpec, tx ExplorerTx, walletID, addr string) types.TransactionRecord {
	rec := types.TransactionRecord{
		WalletID: walletID,
		Family:   types.FamilyEVM,
		Chain:    spec.Name,
		ChainID:  spec.ChainID,
		TxHash:   tx.Hash,
		From:     tx.From,
		To:       tx.To,
		Amount:   "0",
		Fee:      "0",
		Status:   types.StatusConfirmed,
	}
	if tx.IsError != "" && tx.IsError != "0" {
		rec.Status = types.StatusFailed
	}

	outgoing := strings.EqualFold(tx.From, addr)
	switch {
	case !outgoing:
		rec.Type = types.TxReceive
	case tx.ContractAddress == "" && strings.HasPrefix(strings.ToLower(tx.Input), ApproveSelector):
		rec.Type = types.TxApprove
	case tx.ContractAddress == "" && tx.Input != "" && tx.Input != "0x":
		rec.Type = types.TxContract
	default:
		rec.Type = types.TxSend
	}

	if tx.ContractAddress != "" {
		decimals := int32(18)
		if d, err := strconv.ParseInt(tx.TokenDecimal, 10, 32); err == nil {
			decimals = int32(d)
		}
		rec.Asset = types.Asset{Symbol: tx.TokenSymbol, Name: tx.TokenName, Decimals: decimals, Contract: tx.ContractAddress}
		if rec.Asset.Symbol == "" {
			rec.Asset.Symbol = "UNKNOWN"
		}
	} else {
		rec.Asset = types.Asset{Symbol: spec.Native, Name: spec.NativeName, Decimals: config.EVMDecimals}
	}

	value, ok := new(big.Int).SetString(tx.Value, 10)
	if !ok {
		value = new(big.Int)
	}
	rec.Amount = value.String()
	rec.AmountDisplay = types.FormatUnits(value, rec.Asset.Decimals)

	if outgoing {
		gasUsed, ok1 := new(big.Int).SetString(tx.GasUsed, 10)
		gasPrice, ok2 := new(big.Int).SetString(tx.GasPrice, 10)
		if ok1 && ok2 {
			rec.Fee = new(big.Int).Mul(gasUsed, gasPrice).String()
		}
	}
	if n, err := strconv.ParseUint(tx.BlockNumber, 10, 64); err == nil {
		rec.BlockNumber = n
	}
	if n, err := strconv.ParseUint(tx.Confirmations, 10, 64); err == nil {
		rec.Confirmations = n
	}
	if n, err := strconv.ParseUint(tx.Nonce, 10, 64); err == nil && outgoing {
		rec.Nonce = &n
	}
	if ts, err := strconv.ParseInt(tx.TimeStamp, 10, 64); err == nil {
		rec.Timestamp = time.Unix(ts, 0).UTC()
	}
	return rec
}
