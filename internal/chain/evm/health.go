package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
)

// Call outcomes.
const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected" // the node answered with an error
	outcomeError    = "error"    // transport failure or timeout
)

// Health is a point-in-time view of one chain's node.
type Health struct {
	Healthy      bool      `json:"healthy"`
	Requests     uint64    `json:"requests"`
	Failures     uint64    `json:"failures"`
	AvgLatencyMs uint64    `json:"avg_latency_ms"`
	SuccessRate  float64   `json:"success_rate"` // percent; 100 with no requests
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitzero"`
	LastOKAt     time.Time `json:"last_ok_at,omitzero"`
}

// meteredBackend records latency and outcome of every call to the
// wrapped backend. A node that answers with a JSON-RPC error, a missing
// receipt or a revert is still healthy; only transport failures count
// against it.
type meteredBackend struct {
	Backend
	chain string
	now   func() time.Time

	mu        sync.Mutex
	requests  uint64
	failures  uint64
	latency   time.Duration
	healthy   bool
	lastErr   string
	lastErrAt time.Time
	lastOKAt  time.Time
}

func newMeteredBackend(chain string, b Backend) *meteredBackend {
	m := &meteredBackend{Backend: b, chain: chain, now: time.Now, healthy: true}
	metrics.ProviderHealthy.WithLabelValues(chain).Set(1)
	return m
}

func (m *meteredBackend) observe(method string, started time.Time, err error) {
	took := m.now().Sub(started)
	outcome := classify(err)

	metrics.ProviderRequests.WithLabelValues(m.chain, method, outcome).Inc()
	metrics.ProviderDuration.WithLabelValues(m.chain, method).Observe(took.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.latency += took
	switch outcome {
	case outcomeError:
		if errors.Is(err, context.Canceled) {
			return
		}
		m.failures++
		m.healthy = false
		m.lastErr = err.Error()
		m.lastErrAt = m.now().UTC()
		metrics.ProviderHealthy.WithLabelValues(m.chain).Set(0)
	default:
		m.healthy = true
		m.lastOKAt = m.now().UTC()
		metrics.ProviderHealthy.WithLabelValues(m.chain).Set(1)
	}
}

func classify(err error) string {
	if err == nil || errors.Is(err, ethereum.NotFound) {
		return outcomeOK
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return outcomeRejected
	}
	return outcomeError
}

func (m *meteredBackend) health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Health{
		Healthy:     m.healthy,
		Requests:    m.requests,
		Failures:    m.failures,
		SuccessRate: 100,
		LastError:   m.lastErr,
		LastErrorAt: m.lastErrAt,
		LastOKAt:    m.lastOKAt,
	}
	if m.requests > 0 {
		h.AvgLatencyMs = uint64(m.latency.Milliseconds()) / m.requests
		h.SuccessRate = float64(m.requests-m.failures) / float64(m.requests) * 100
	}
	return h
}

func (m *meteredBackend) ChainID(ctx context.Context) (*big.Int, error) {
	started := m.now()
	v, err := m.Backend.ChainID(ctx)
	m.observe("chain_id", started, err)
	return v, err
}

func (m *meteredBackend) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	started := m.now()
	v, err := m.Backend.BalanceAt(ctx, account, block)
	m.observe("balance", started, err)
	return v, err
}

func (m *meteredBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	started := m.now()
	v, err := m.Backend.PendingNonceAt(ctx, account)
	m.observe("nonce", started, err)
	return v, err
}

func (m *meteredBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	started := m.now()
	v, err := m.Backend.SuggestGasPrice(ctx)
	m.observe("gas_price", started, err)
	return v, err
}

func (m *meteredBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	started := m.now()
	v, err := m.Backend.SuggestGasTipCap(ctx)
	m.observe("gas_tip_cap", started, err)
	return v, err
}

func (m *meteredBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	started := m.now()
	v, err := m.Backend.HeaderByNumber(ctx, number)
	m.observe("header", started, err)
	return v, err
}

func (m *meteredBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	started := m.now()
	v, err := m.Backend.EstimateGas(ctx, msg)
	m.observe("estimate_gas", started, err)
	return v, err
}

func (m *meteredBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	started := m.now()
	v, err := m.Backend.CallContract(ctx, msg, block)
	m.observe("call", started, err)
	return v, err
}

func (m *meteredBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	started := m.now()
	err := m.Backend.SendTransaction(ctx, tx)
	m.observe("send", started, err)
	return err
}

func (m *meteredBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	started := m.now()
	v, err := m.Backend.TransactionReceipt(ctx, hash)
	m.observe("receipt", started, err)
	return v, err
}

// Health reports the node's call statistics since the client was created.
func (c *Client) Health() Health {
	return c.backend.health()
}

// CheckHealth asks the node for its head block. The outcome is folded into
// Health.
func (c *Client) CheckHealth(ctx context.Context) (Health, error) {
	if _, err := c.backend.HeaderByNumber(ctx, nil); err != nil {
		return c.Health(), walleterr.Unavailable(c.op("health"), err)
	}
	return c.Health(), nil
}
