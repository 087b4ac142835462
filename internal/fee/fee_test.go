package fee

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

func init() { log.Disable() }

type btcSource struct {
	calls int32
	tiers *types.BitcoinFeeTiers
	err   error
}

func (s *btcSource) FeeTiers(ctx context.Context) (*types.BitcoinFeeTiers, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.tiers, nil
}

type evmSource struct {
	spec  config.EVMChainSpec
	tiers *types.EVMFeeTiers
	err   error
}

func (s *evmSource) Spec() config.EVMChainSpec { return s.spec }

func (s *evmSource) FeeTiers(ctx context.Context) (*types.EVMFeeTiers, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tiers, nil
}

func TestVSize(t *testing.T) {
	assert.Equal(t, uint64(148), VSize(1, 2))
	assert.Equal(t, uint64(114), VSize(1, 1))
	f, ok := BitcoinFee(10, 1, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(1480), f)
}

func TestBitcoinFee_Overflow(t *testing.T) {
	_, ok := BitcoinFee(math.MaxUint64/148+1, 1, 2)
	assert.False(t, ok)

	f, ok := BitcoinFee(math.MaxUint64/148, 1, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(math.MaxUint64/148*148), f)
}

func TestGasLimit(t *testing.T) {
	tests := []struct {
		raw  uint64
		mult float64
		want uint64
	}{
		{21000, 1.25, 26250},
		{21001, 1.25, 26252}, // 26251.25 rounds up
		{65000, 0, 81250},    // default multiplier
		{100, 1.5, 150},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GasLimit(tt.raw, tt.mult), "raw=%d mult=%v", tt.raw, tt.mult)
	}
}

func TestBitcoin_LiveIsCached(t *testing.T) {
	src := &btcSource{tiers: &types.BitcoinFeeTiers{Slow: 3, Avg: 7, Fast: 12}}
	e := New(src, config.Mainnet, config.EVMConfig{}, 0)

	q, err := e.Bitcoin(context.Background(), types.TierFast)
	require.NoError(t, err)
	assert.Equal(t, types.SourceLive, q.Source)
	assert.Equal(t, types.TierFast, q.Tier)
	assert.Equal(t, uint64(12), q.Bitcoin.Rate(q.Tier))
	assert.True(t, q.ValidUntil.After(q.FetchedAt))

	q2, err := e.Bitcoin(context.Background(), types.TierSlow)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), q2.Bitcoin.Rate(q2.Tier))
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}

func TestBitcoin_FallbackIsTagged(t *testing.T) {
	src := &btcSource{err: walleterr.Unavailable("fees", errors.New("timeout"))}
	e := New(src, config.Mainnet, config.EVMConfig{}, 0)

	q, err := e.Bitcoin(context.Background(), types.TierAvg)
	require.NoError(t, err)
	assert.Equal(t, types.SourceFallback, q.Source)
	assert.Equal(t, config.BitcoinNetwork(config.Mainnet).FallbackAvg, q.Bitcoin.Avg)

	// Fallbacks are not cached.
	_, _ = e.Bitcoin(context.Background(), types.TierAvg)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

func TestBitcoin_CancelledContextDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &btcSource{err: context.Canceled}
	e := New(src, config.Mainnet, config.EVMConfig{}, 0)

	_, err := e.Bitcoin(ctx, types.TierAvg)
	assert.True(t, errors.Is(err, walleterr.ErrUnavailable))
}

func TestEVM_Fallback(t *testing.T) {
	spec, _ := config.EVMChain("polygon")
	e := New(nil, config.Mainnet, config.EVMConfig{}, 0)

	q, err := e.EVM(context.Background(), &evmSource{spec: spec, err: errors.New("rpc down")}, types.TierFast)
	require.NoError(t, err)
	assert.Equal(t, types.SourceFallback, q.Source)
	assert.Equal(t, "40000000000", q.EVM.Slow)
	assert.Equal(t, "50000000000", q.EVM.Avg)
	assert.Equal(t, "75000000000", q.EVM.Fast)
	assert.Nil(t, q.EVM.EIP1559)

	gp, err := GasPrice(q)
	require.NoError(t, err)
	assert.Equal(t, "75000000000", gp.String())
}

func TestEVM_ConfiguredFallback(t *testing.T) {
	spec, _ := config.EVMChain("ethereum")
	cfg := config.EVMConfig{FallbackGas: map[string]uint64{"ethereum": 7}}
	e := New(nil, config.Mainnet, cfg, 0)

	q, err := e.EVM(context.Background(), &evmSource{spec: spec, err: errors.New("rpc down")}, types.TierAvg)
	require.NoError(t, err)
	assert.Equal(t, "7000000000", q.EVM.Avg)
}

func TestDynamicFee(t *testing.T) {
	q := &types.FeeQuote{
		Tier: types.TierFast,
		EVM: &types.EVMFeeTiers{
			Avg:     "100",
			EIP1559: &types.EIP1559Fee{BaseFee: "1000", TipCap: "20", MaxFee: "2020"},
		},
	}
	tip, maxFee := DynamicFee(q)
	require.NotNil(t, tip)
	assert.Equal(t, "30", tip.String())
	assert.Equal(t, "2030", maxFee.String())

	q.EVM.EIP1559 = nil
	tip, maxFee = DynamicFee(q)
	assert.Nil(t, tip)
	assert.Nil(t, maxFee)
}

func TestBitcoin_Disabled(t *testing.T) {
	e := New(nil, config.Mainnet, config.EVMConfig{}, 0)
	_, err := e.Bitcoin(context.Background(), types.TierAvg)
	assert.True(t, errors.Is(err, walleterr.ErrValidation))
}
