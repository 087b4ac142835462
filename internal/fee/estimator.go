// Package fee recommends Bitcoin fee rates and EVM gas parameters.
//
// Quotes come from the live oracles when they answer. When they do not, the
// configured constants are returned tagged as fallback so callers can tell
// degraded data from live data.
package fee

import (
	"context"
	"math/big"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// DefaultTTL is how long a live quote stays valid.
const DefaultTTL = 30 * time.Second

// BitcoinSource reads sat/vB tiers.
type BitcoinSource interface {
	FeeTiers(ctx context.Context) (*types.BitcoinFeeTiers, error)
}

// EVMSource reads gas price tiers for one chain. *evm.Client implements it.
type EVMSource interface {
	Spec() config.EVMChainSpec
	FeeTiers(ctx context.Context) (*types.EVMFeeTiers, error)
}

// Estimator serves fee quotes with a short-lived cache.
type Estimator struct {
	btc         BitcoinSource
	btcFallback types.BitcoinFeeTiers
	evmCfg      config.EVMConfig
	ttl         time.Duration

	cache *gocache.Cache
	group singleflight.Group
	now   func() time.Time
}

// New creates an estimator. btc may be nil when Bitcoin is disabled.
func New(btc BitcoinSource, network config.NetworkType, evmCfg config.EVMConfig, ttl time.Duration) *Estimator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	spec := config.BitcoinNetwork(network)
	return &Estimator{
		btc: btc,
		btcFallback: types.BitcoinFeeTiers{
			Slow: spec.FallbackSlow,
			Avg:  spec.FallbackAvg,
			Fast: spec.FallbackFast,
		},
		evmCfg: evmCfg,
		ttl:    ttl,
		cache:  gocache.New(ttl, 2*ttl),
		now:    time.Now,
	}
}

// Bitcoin returns the sat/vB quote.
func (e *Estimator) Bitcoin(ctx context.Context, tier types.Tier) (*types.FeeQuote, error) {
	if e.btc == nil {
		return nil, walleterr.Validation("fee.bitcoin", "bitcoin is not enabled")
	}
	return e.quote(ctx, "bitcoin", tier, func(ctx context.Context) (*types.FeeQuote, error) {
		tiers, err := e.btc.FeeTiers(ctx)
		if err != nil {
			return nil, err
		}
		return &types.FeeQuote{Family: types.FamilyBitcoin, Chain: "bitcoin", Bitcoin: tiers}, nil
	}, func() *types.FeeQuote {
		tiers := e.btcFallback
		return &types.FeeQuote{Family: types.FamilyBitcoin, Chain: "bitcoin", Bitcoin: &tiers}
	})
}

// EVM returns the gas price quote for one chain.
func (e *Estimator) EVM(ctx context.Context, src EVMSource, tier types.Tier) (*types.FeeQuote, error) {
	spec := src.Spec()
	return e.quote(ctx, spec.Name, tier, func(ctx context.Context) (*types.FeeQuote, error) {
		tiers, err := src.FeeTiers(ctx)
		if err != nil {
			return nil, err
		}
		return &types.FeeQuote{Family: types.FamilyEVM, Chain: spec.Name, EVM: tiers}, nil
	}, func() *types.FeeQuote {
		return &types.FeeQuote{Family: types.FamilyEVM, Chain: spec.Name, EVM: e.evmFallback(spec)}
	})
}

func (e *Estimator) evmFallback(spec config.EVMChainSpec) *types.EVMFeeTiers {
	gp := new(big.Int).Mul(new(big.Int).SetUint64(e.evmCfg.FallbackGasGwei(spec)), big.NewInt(1e9))
	pct := func(p int64) string {
		v := new(big.Int).Mul(gp, big.NewInt(p))
		return v.Div(v, big.NewInt(100)).String()
	}
	return &types.EVMFeeTiers{Slow: pct(80), Avg: gp.String(), Fast: pct(150)}
}

// quote serves a cached live quote, fetches a new one, or falls back.
// Fallback quotes are not cached so the next call retries the oracle.
func (e *Estimator) quote(ctx context.Context, chain string, tier types.Tier,
	live func(context.Context) (*types.FeeQuote, error), fallback func() *types.FeeQuote) (*types.FeeQuote, error) {

	if cached, ok := e.cache.Get(chain); ok {
		metrics.CacheLookups.WithLabelValues("fee", metrics.Hit).Inc()
		return withTier(cached.(*types.FeeQuote), tier), nil
	}
	metrics.CacheLookups.WithLabelValues("fee", metrics.Miss).Inc()

	v, err, _ := e.group.Do(chain, func() (interface{}, error) {
		q, err := live(ctx)
		if err != nil {
			return nil, err
		}
		now := e.now()
		q.Source = types.SourceLive
		q.FetchedAt = now
		q.ValidUntil = now.Add(e.ttl)
		e.cache.Set(chain, q, e.ttl)
		return q, nil
	})
	if err == nil {
		metrics.FeeQuotes.WithLabelValues(chain, string(types.SourceLive)).Inc()
		return withTier(v.(*types.FeeQuote), tier), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, walleterr.Unavailable("fee."+chain, ctxErr)
	}

	log.Fee.Warn().Err(err).Str("chain", chain).Msg("Fee oracle failed, using fallback rates")
	metrics.FeeQuotes.WithLabelValues(chain, string(types.SourceFallback)).Inc()
	q := fallback()
	now := e.now()
	q.Source = types.SourceFallback
	q.FetchedAt = now
	q.ValidUntil = now.Add(e.ttl)
	return withTier(q, tier), nil
}

func withTier(q *types.FeeQuote, tier types.Tier) *types.FeeQuote {
	cp := *q
	cp.Tier = tier
	return &cp
}

// GasLimit pads a raw estimate with the configured multiplier.
func (e *Estimator) GasLimit(raw uint64) uint64 {
	return GasLimit(raw, e.evmCfg.GasMultiplier)
}

// GasPrice returns the legacy gas price of q's tier in wei.
func GasPrice(q *types.FeeQuote) (*big.Int, error) {
	if q.EVM == nil {
		return nil, walleterr.New(walleterr.KindInternal, "fee.gas_price", "not an EVM quote")
	}
	v, ok := new(big.Int).SetString(q.EVM.GasPrice(q.Tier), 10)
	if !ok {
		return nil, walleterr.New(walleterr.KindInternal, "fee.gas_price", "bad gas price %q", q.EVM.GasPrice(q.Tier))
	}
	return v, nil
}

// DynamicFee returns EIP-1559 caps for q's tier, or nil when q carries no
// base fee.
func DynamicFee(q *types.FeeQuote) (tipCap, maxFee *big.Int) {
	if q.EVM == nil || q.EVM.EIP1559 == nil {
		return nil, nil
	}
	base, ok1 := new(big.Int).SetString(q.EVM.EIP1559.BaseFee, 10)
	tip, ok2 := new(big.Int).SetString(q.EVM.EIP1559.TipCap, 10)
	if !ok1 || !ok2 {
		return nil, nil
	}
	fee := evm.DynamicFeeFor(base, tip, q.Tier)
	tipCap, _ = new(big.Int).SetString(fee.TipCap, 10)
	maxFee, _ = new(big.Int).SetString(fee.MaxFee, 10)
	return tipCap, maxFee
}
