package ledger

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// DefaultBalanceTTL is how long a refreshed balance set is served without
// going back to the chains.
const DefaultBalanceTTL = 60 * time.Second

// FetchFunc loads a wallet's live balances. Per-chain failures belong in
// the returned ChainBalances; an error means nothing could be loaded.
type FetchFunc func(ctx context.Context, w types.Wallet) ([]types.ChainBalances, error)

// Refresher serves wallet balances from a TTL cache and coalesces
// concurrent refreshes of one wallet into a single fetch.
type Refresher struct {
	ledger *Ledger
	fetch  FetchFunc
	ttl    time.Duration
	cache  *gocache.Cache
	group  singleflight.Group
	now    func() time.Time
}

// NewRefresher creates a refresher. ttl <= 0 uses DefaultBalanceTTL.
func NewRefresher(l *Ledger, fetch FetchFunc, ttl time.Duration) *Refresher {
	if ttl <= 0 {
		ttl = DefaultBalanceTTL
	}
	return &Refresher{
		ledger: l,
		fetch:  fetch,
		ttl:    ttl,
		cache:  gocache.New(ttl, 2*ttl),
		now:    time.Now,
	}
}

// WalletWithBalances returns a wallet and its balances. A fresh cached set
// is returned with CacheHit; force skips the cache.
func (r *Refresher) WalletWithBalances(ctx context.Context, id string, force bool) (*types.WalletWithBalances, error) {
	w, err := r.ledger.Wallet(id)
	if err != nil {
		return nil, err
	}

	if !force {
		if v, ok := r.cache.Get(id); ok {
			metrics.CacheLookups.WithLabelValues("balances", metrics.Hit).Inc()
			snap := v.(*Snapshot)
			return withBalances(w, snap, true), nil
		}
	}
	metrics.CacheLookups.WithLabelValues("balances", metrics.Miss).Inc()

	ch := r.group.DoChan(id, func() (interface{}, error) {
		return r.refresh(ctx, w)
	})
	select {
	case <-ctx.Done():
		return nil, walleterr.Unavailable("ledger.refresh", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return withBalances(w, res.Val.(*Snapshot), false), nil
	}
}

func (r *Refresher) refresh(ctx context.Context, w types.Wallet) (*Snapshot, error) {
	started := r.now()
	chains, err := r.fetch(ctx, w)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, walleterr.Unavailable("ledger.refresh", err)
	}
	snap := &Snapshot{
		WalletID:      w.ID,
		Chains:        chains,
		TotalUSD:      TotalUSD(chains),
		LastRefreshed: r.now().UTC(),
	}
	if err := r.ledger.PutSnapshot(*snap); err != nil {
		if walleterr.KindOf(err) == walleterr.KindNotFound {
			// Deleted while the fetch was in flight.
			return nil, err
		}
		log.Ledger.Warn().Err(err).Str("wallet_id", w.ID).Msg("Failed to persist balance snapshot")
	}
	r.cache.Set(w.ID, snap, r.ttl)

	log.Ledger.Debug().
		Str("wallet_id", w.ID).
		Int("chains", len(chains)).
		Dur("took", r.now().Sub(started)).
		Msg("Balances refreshed")
	return snap, nil
}

// Invalidate drops a wallet's cached balances, e.g. after a send.
func (r *Refresher) Invalidate(id string) {
	r.cache.Delete(id)
}

// Cached returns the last stored balances without touching the network.
func (r *Refresher) Cached(id string) (*types.WalletWithBalances, error) {
	w, err := r.ledger.Wallet(id)
	if err != nil {
		return nil, err
	}
	snap, err := r.ledger.Snapshot(id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return &types.WalletWithBalances{Wallet: w, TotalUSD: "0"}, nil
	}
	_, fresh := r.cache.Get(id)
	return withBalances(w, snap, fresh), nil
}

func withBalances(w types.Wallet, s *Snapshot, hit bool) *types.WalletWithBalances {
	return &types.WalletWithBalances{
		Wallet:        w,
		Chains:        s.Chains,
		TotalUSD:      s.TotalUSD,
		LastRefreshed: s.LastRefreshed,
		CacheHit:      hit,
	}
}

// TotalUSD sums the USD values of every priced balance.
func TotalUSD(chains []types.ChainBalances) string {
	total := decimal.Zero
	for _, c := range chains {
		for _, b := range c.Balances {
			if b.USDValue == "" {
				continue
			}
			v, err := decimal.NewFromString(b.USDValue)
			if err != nil {
				continue
			}
			total = total.Add(v)
		}
	}
	return total.StringFixed(2)
}
