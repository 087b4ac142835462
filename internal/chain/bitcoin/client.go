// Package bitcoin is the Bitcoin chain client. It reads balances, UTXOs,
// history and confirmations from an Esplora REST API, fee tiers from
// mempool.space, and broadcasts raw transactions.
package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// maxErrorBody caps how much of an upstream error body is kept.
const maxErrorBody = 4096

// Client talks to one Esplora instance and one fee API.
type Client struct {
	esploraURL string
	feeURL     string
	http       *http.Client
}

// New creates a client. A zero timeout means 15 seconds.
func New(esploraURL, feeURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		esploraURL: strings.TrimSuffix(esploraURL, "/"),
		feeURL:     strings.TrimSuffix(feeURL, "/"),
		http:       &http.Client{Timeout: timeout},
	}
}

// AddressBalance is an address balance in satoshis. Pending is the net
// mempool delta and may be negative.
type AddressBalance struct {
	Confirmed uint64 `json:"confirmed"`
	Pending   int64  `json:"pending"`
}

type txoStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type addressInfo struct {
	Address      string   `json:"address"`
	ChainStats   txoStats `json:"chain_stats"`
	MempoolStats txoStats `json:"mempool_stats"`
}

// Status is a transaction's confirmation state as Esplora reports it.
type Status struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

type esploraUTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  uint64 `json:"value"`
	Status Status `json:"status"`
}

type recommendedFees struct {
	FastestFee  uint64 `json:"fastestFee"`
	HalfHourFee uint64 `json:"halfHourFee"`
	HourFee     uint64 `json:"hourFee"`
	EconomyFee  uint64 `json:"economyFee"`
	MinimumFee  uint64 `json:"minimumFee"`
}

// Balance returns the confirmed and pending balance of an address.
func (c *Client) Balance(ctx context.Context, addr string) (*AddressBalance, error) {
	var info addressInfo
	if err := c.getJSON(ctx, "bitcoin.balance", c.esploraURL+"/address/"+addr, &info); err != nil {
		return nil, err
	}
	confirmed := info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum
	if confirmed < 0 {
		confirmed = 0
	}
	return &AddressBalance{
		Confirmed: uint64(confirmed),
		Pending:   info.MempoolStats.FundedTxoSum - info.MempoolStats.SpentTxoSum,
	}, nil
}

// UTXOs returns the unspent outputs of an address with confirmation counts.
func (c *Client) UTXOs(ctx context.Context, addr string) ([]types.UTXO, error) {
	var raw []esploraUTXO
	if err := c.getJSON(ctx, "bitcoin.utxos", c.esploraURL+"/address/"+addr+"/utxo", &raw); err != nil {
		return nil, err
	}

	var tip uint64
	for _, u := range raw {
		if u.Status.Confirmed {
			h, err := c.TipHeight(ctx)
			if err != nil {
				return nil, err
			}
			tip = h
			break
		}
	}

	utxos := make([]types.UTXO, 0, len(raw))
	for _, u := range raw {
		utxos = append(utxos, types.UTXO{
			Outpoint:      types.Outpoint{TxHash: u.TxID, Vout: u.Vout},
			Value:         u.Value,
			Confirmed:     u.Status.Confirmed,
			Confirmations: Confirmations(u.Status, tip),
		})
	}
	return utxos, nil
}

// Confirmations counts the blocks since a transaction was mined, including
// its own block. Unconfirmed transactions have zero.
func Confirmations(s Status, tip uint64) uint64 {
	if !s.Confirmed || s.BlockHeight == 0 || tip < s.BlockHeight {
		return 0
	}
	return tip - s.BlockHeight + 1
}

// FeeTiers returns the recommended sat/vB rates: fast is the next block,
// avg is within half an hour and slow is within an hour.
func (c *Client) FeeTiers(ctx context.Context) (*types.BitcoinFeeTiers, error) {
	var fees recommendedFees
	if err := c.getJSON(ctx, "bitcoin.fees", c.feeURL+"/v1/fees/recommended", &fees); err != nil {
		return nil, err
	}
	if fees.FastestFee == 0 || fees.HalfHourFee == 0 || fees.HourFee == 0 {
		return nil, walleterr.New(walleterr.KindUnavailable, "bitcoin.fees", "fee oracle returned a zero rate")
	}
	return &types.BitcoinFeeTiers{
		Slow: fees.HourFee,
		Avg:  fees.HalfHourFee,
		Fast: fees.FastestFee,
	}, nil
}

// TipHeight returns the current chain height.
func (c *Client) TipHeight(ctx context.Context) (uint64, error) {
	body, err := c.get(ctx, "bitcoin.tip", c.esploraURL+"/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, walleterr.Unavailable("bitcoin.tip", fmt.Errorf("parse tip height %q: %w", body, err))
	}
	return h, nil
}

// TxStatus returns the confirmation status of a transaction. An unknown
// hash is NotFound.
func (c *Client) TxStatus(ctx context.Context, txHash string) (*Status, error) {
	var s Status
	if err := c.getJSON(ctx, "bitcoin.tx_status", c.esploraURL+"/tx/"+txHash+"/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Broadcast submits a hex-encoded signed transaction and returns its txid.
// A node rejection is BroadcastRejected carrying the node's message
// verbatim.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	const op = "bitcoin.broadcast"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.esploraURL+"/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", walleterr.Unavailable(op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", walleterr.Unavailable(op, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		txid := strings.TrimSpace(string(body))
		log.Bitcoin.Info().Str("txid", txid).Msg("Transaction broadcast")
		return txid, nil
	case resp.StatusCode >= 500:
		return "", walleterr.New(walleterr.KindUnavailable, op, "HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return "", walleterr.New(walleterr.KindBroadcastRejected, op, "%s", strings.TrimSpace(string(body)))
	}
}

func (c *Client) get(ctx context.Context, op, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, walleterr.Unavailable(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, walleterr.NotFound(op, "%s not found", url)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, walleterr.New(walleterr.KindUnavailable, op, "HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, walleterr.Unavailable(op, fmt.Errorf("read response: %w", err))
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, op, url string, out interface{}) error {
	body, err := c.get(ctx, op, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return walleterr.Unavailable(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
