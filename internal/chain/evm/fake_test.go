package evm

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend is an in-memory Backend.
type fakeBackend struct {
	mu sync.Mutex

	chainID   *big.Int
	balances  map[common.Address]*big.Int
	tokens    map[common.Address]map[common.Address]*big.Int // token -> owner -> balance
	allowed   map[common.Address]map[[2]common.Address]*big.Int
	decimals  map[common.Address]uint8
	nonces    map[common.Address]uint64
	gasPrice  *big.Int
	tipCap    *big.Int
	baseFee   *big.Int
	head      uint64
	gas       uint64
	gasErr    error
	callErr   error
	headErr   error
	sendErr   error
	receipts  map[common.Hash]*ethtypes.Receipt
	sent      []*ethtypes.Transaction
	estimated []ethereum.CallMsg
	closed    bool
}

func newFakeBackend(chainID uint64) *fakeBackend {
	return &fakeBackend{
		chainID:  new(big.Int).SetUint64(chainID),
		balances: make(map[common.Address]*big.Int),
		tokens:   make(map[common.Address]map[common.Address]*big.Int),
		allowed:  make(map[common.Address]map[[2]common.Address]*big.Int),
		decimals: make(map[common.Address]uint8),
		nonces:   make(map[common.Address]uint64),
		gasPrice: big.NewInt(10_000_000_000),
		tipCap:   big.NewInt(1_000_000_000),
		head:     100,
		gas:      21000,
		receipts: make(map[common.Hash]*ethtypes.Receipt),
	}
}

func (f *fakeBackend) setTokenBalance(token, owner common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokens[token] == nil {
		f.tokens[token] = make(map[common.Address]*big.Int)
	}
	f.tokens[token][owner] = v
}

func (f *fakeBackend) setAllowance(token, owner, spender common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allowed[token] == nil {
		f.allowed[token] = make(map[[2]common.Address]*big.Int)
	}
	f.allowed[token][[2]common.Address{owner, spender}] = v
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) BalanceAt(ctx context.Context, a common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[a]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[a], nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.tipCap), nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, _ *big.Int) (*ethtypes.Header, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	h := &ethtypes.Header{Number: new(big.Int).SetUint64(f.head)}
	if f.baseFee != nil {
		h.BaseFee = new(big.Int).Set(f.baseFee)
	}
	return h, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimated = append(f.estimated, msg)
	if f.gasErr != nil {
		return 0, f.gasErr
	}
	return f.gas, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if string(msg.Data[:4]) == string(erc20.Methods["decimals"].ID) {
		d, ok := f.decimals[*msg.To]
		if !ok {
			return nil, nil
		}
		return common.LeftPadBytes([]byte{d}, 32), nil
	}
	owner := common.BytesToAddress(msg.Data[4:36])
	var v *big.Int
	if string(msg.Data[:4]) == string(erc20.Methods["allowance"].ID) {
		spender := common.BytesToAddress(msg.Data[36:68])
		v = f.allowed[*msg.To][[2]common.Address{owner, spender}]
	} else {
		holders, ok := f.tokens[*msg.To]
		if !ok {
			return nil, nil
		}
		v = holders[owner]
	}
	if v == nil {
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, h common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) Close() { f.closed = true }

// rpcError mimics a JSON-RPC error returned by a node.
type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }
