package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/price"
	"github.com/Klingon-tech/klingwallet/internal/txbuilder"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// fakeBitcoin is an in-memory Esplora.
type fakeBitcoin struct {
	mu        sync.Mutex
	balance   bitcoin.AddressBalance
	utxos     []types.UTXO
	history   []types.TransactionRecord
	statuses  map[string]bitcoin.Status
	tip       uint64
	broadcast []string
	balErr    error
}

func (f *fakeBitcoin) FeeTiers(context.Context) (*types.BitcoinFeeTiers, error) {
	return &types.BitcoinFeeTiers{Slow: 2, Avg: 4, Fast: 8}, nil
}

func (f *fakeBitcoin) UTXOs(context.Context, string) ([]types.UTXO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.UTXO(nil), f.utxos...), nil
}

func (f *fakeBitcoin) Broadcast(_ context.Context, rawHex string) (string, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", err
	}
	tx, err := txbuilder.DecodeBitcoinTx(raw)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.broadcast = append(f.broadcast, rawHex)
	f.mu.Unlock()
	return tx.TxHash().String(), nil
}

func (f *fakeBitcoin) Balance(context.Context, string) (*bitcoin.AddressBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balErr != nil {
		return nil, f.balErr
	}
	b := f.balance
	return &b, nil
}

func (f *fakeBitcoin) TipHeight(context.Context) (uint64, error) { return f.tip, nil }

func (f *fakeBitcoin) TxStatus(_ context.Context, hash string) (*bitcoin.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[hash]
	if !ok {
		return nil, walleterr.NotFound("bitcoin.tx_status", "unknown transaction %s", hash)
	}
	return &s, nil
}

func (f *fakeBitcoin) HistoryRecords(_ context.Context, walletID, _ string) ([]types.TransactionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.TransactionRecord, len(f.history))
	for i, r := range f.history {
		r.WalletID = walletID
		out[i] = r
	}
	return out, nil
}

// fakeNode is a minimal EVM node. Token balances are always zero.
type fakeNode struct {
	mu       sync.Mutex
	chainID  *big.Int
	balance  *big.Int
	down     bool
	head     uint64
	receipts map[common.Hash]*ethtypes.Receipt
}

func newFakeNode(spec config.EVMChainSpec) *fakeNode {
	return &fakeNode{
		chainID:  new(big.Int).SetUint64(spec.ChainID),
		balance:  new(big.Int),
		head:     10,
		receipts: make(map[common.Hash]*ethtypes.Receipt),
	}
}

var errNodeDown = errors.New("connection refused")

func (f *fakeNode) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeNode) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errNodeDown
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeNode) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (f *fakeNode) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (f *fakeNode) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeNode) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errNodeDown
	}
	return &ethtypes.Header{Number: new(big.Int).SetUint64(f.head)}, nil
}

func (f *fakeNode) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 21000, nil }

func (f *fakeNode) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	if f.down {
		return nil, errNodeDown
	}
	return make([]byte, 32), nil
}

func (f *fakeNode) SendTransaction(context.Context, *ethtypes.Transaction) error { return nil }

func (f *fakeNode) TransactionReceipt(_ context.Context, h common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeNode) Close() {}

// fakeExplorer serves fixed history per chain.
type fakeExplorer struct {
	records map[string][]types.TransactionRecord
	calls   int
	mu      sync.Mutex
}

func (f *fakeExplorer) HistoryRecords(_ context.Context, spec config.EVMChainSpec, walletID, _ string) ([]types.TransactionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []types.TransactionRecord
	for _, r := range f.records[spec.Name] {
		r.WalletID = walletID
		out = append(out, r)
	}
	return out, nil
}

// fixedPrices quotes from a table.
type fixedPrices map[string]string

func (p fixedPrices) Prices(_ context.Context, symbols []string) (map[string]price.Quote, error) {
	out := make(map[string]price.Quote)
	for _, s := range symbols {
		sym := strings.ToUpper(s)
		if v, ok := p[sym]; ok {
			out[sym] = price.Quote{Symbol: sym, USD: decimal.RequireFromString(v), Source: types.SourceLive}
		}
	}
	return out, nil
}
