package txbuilder

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// ERC-20 selectors.
var (
	selBalanceOf = common.FromHex("0x70a08231")
	selAllowance = common.FromHex("0xdd62ed3e")
	selApprove   = common.FromHex("0x095ea7b3")
)

// chainBackend is an in-memory EVM node. Its pending nonce never moves, like
// a node that has not yet seen this process's broadcasts.
type chainBackend struct {
	mu sync.Mutex

	chainID  *big.Int
	balance  map[common.Address]*big.Int
	tokens   map[common.Address]map[common.Address]*big.Int
	allowed  map[common.Address]map[[2]common.Address]*big.Int
	gasPrice *big.Int
	baseFee  *big.Int
	sendErr  error
	sent     []*ethtypes.Transaction
	receipts map[common.Hash]*ethtypes.Receipt
	gasCalls int
}

func newChainBackend(chainID uint64) *chainBackend {
	return &chainBackend{
		chainID:  new(big.Int).SetUint64(chainID),
		balance:  make(map[common.Address]*big.Int),
		tokens:   make(map[common.Address]map[common.Address]*big.Int),
		allowed:  make(map[common.Address]map[[2]common.Address]*big.Int),
		gasPrice: big.NewInt(10_000_000_000),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
	}
}

func (f *chainBackend) setToken(token, owner common.Address, v *big.Int) {
	if f.tokens[token] == nil {
		f.tokens[token] = make(map[common.Address]*big.Int)
	}
	f.tokens[token][owner] = v
}

func (f *chainBackend) sentTxs() []*ethtypes.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ethtypes.Transaction(nil), f.sent...)
}

func (f *chainBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *chainBackend) BalanceAt(_ context.Context, a common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balance[a]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *chainBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (f *chainBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *chainBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *chainBackend) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(1), BaseFee: f.baseFee}, nil
}

func (f *chainBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasCalls++
	if len(msg.Data) == 0 {
		return 21000, nil
	}
	return 50000, nil
}

func (f *chainBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var v *big.Int
	owner := common.BytesToAddress(msg.Data[4:36])
	switch {
	case bytes.Equal(msg.Data[:4], selBalanceOf):
		v = f.tokens[*msg.To][owner]
	case bytes.Equal(msg.Data[:4], selAllowance):
		v = f.allowed[*msg.To][[2]common.Address{owner, common.BytesToAddress(msg.Data[36:68])}]
	}
	if v == nil {
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}

// SendTransaction accepts tx and mines it at once. Approvals take effect.
func (f *chainBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	if data := tx.Data(); len(data) >= 68 && bytes.Equal(data[:4], selApprove) {
		sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(f.chainID), tx)
		if err != nil {
			return err
		}
		if f.allowed[*tx.To()] == nil {
			f.allowed[*tx.To()] = make(map[[2]common.Address]*big.Int)
		}
		f.allowed[*tx.To()][[2]common.Address{sender, common.BytesToAddress(data[4:36])}] = new(big.Int).SetBytes(data[36:68])
	}
	f.receipts[tx.Hash()] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(2)}
	return nil
}

func (f *chainBackend) TransactionReceipt(_ context.Context, h common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *chainBackend) Close() {}

type nodeError struct{ msg string }

func (e *nodeError) Error() string  { return e.msg }
func (e *nodeError) ErrorCode() int { return -32000 }

// btcChain is an in-memory Esplora.
type btcChain struct {
	mu        sync.Mutex
	utxos     []types.UTXO
	broadcast []string
	reject    string
}

func (c *btcChain) UTXOs(context.Context, string) ([]types.UTXO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.UTXO(nil), c.utxos...), nil
}

func (c *btcChain) Broadcast(_ context.Context, rawHex string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject != "" {
		return "", walleterr.New(walleterr.KindBroadcastRejected, "bitcoin.broadcast", "%s", c.reject)
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", err
	}
	tx, err := DecodeBitcoinTx(raw)
	if err != nil {
		return "", err
	}
	c.broadcast = append(c.broadcast, rawHex)
	return tx.TxHash().String(), nil
}

type btcFees struct{ tiers types.BitcoinFeeTiers }

func (f btcFees) FeeTiers(context.Context) (*types.BitcoinFeeTiers, error) {
	t := f.tiers
	return &t, nil
}

// memRecorder keeps records by hash.
type memRecorder struct {
	mu   sync.Mutex
	recs map[string]types.TransactionRecord
}

func (m *memRecorder) UpsertTransaction(rec types.TransactionRecord) (types.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = make(map[string]types.TransactionRecord)
	}
	m.recs[rec.TxHash] = rec
	return rec, nil
}

func (m *memRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}
