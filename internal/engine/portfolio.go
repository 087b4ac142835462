package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/ledger"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100

	// refreshWorkers bounds concurrent wallet refreshes.
	refreshWorkers = 4
)

// GetPortfolio sums the wallets' balances per symbol, prices the total in
// USD and BTC, and lists the newest ledger records.
func (e *Engine) GetPortfolio(ctx context.Context, c *GetPortfolio) (*PortfolioResult, error) {
	const op = "engine.get_portfolio"
	if c.Family != "" {
		if _, err := types.ParseFamily(string(c.Family)); err != nil {
			return nil, walleterr.Validation(op, "%v", err)
		}
	}
	limit := c.RecentLimit
	switch {
	case limit < 0:
		return nil, walleterr.Validation(op, "recent_limit must not be negative")
	case limit == 0:
		limit = defaultRecentLimit
	case limit > maxRecentLimit:
		limit = maxRecentLimit
	}

	all, err := e.ledger.Wallets()
	if err != nil {
		return nil, err
	}
	var wallets []types.Wallet
	for _, w := range all {
		if c.Family == "" || w.Family == c.Family {
			wallets = append(wallets, w)
		}
	}

	balances, failed := e.portfolioBalances(ctx, wallets, c.Refresh)
	if err := ctx.Err(); err != nil {
		return nil, walleterr.Unavailable(op, err)
	}

	recent, _, err := e.ledger.Select(ledger.Query{Family: c.Family, Limit: limit})
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []types.TransactionRecord{}
	}

	res := &PortfolioResult{
		Wallets: len(balances),
		Assets:  aggregate(balances),
		Recent:  recent,
		Errors:  failed,
	}
	total := decimal.Zero
	for _, a := range res.Assets {
		if a.USDValue != "" {
			total = total.Add(decimal.RequireFromString(a.USDValue))
		}
	}
	res.TotalUSD = total.StringFixed(2)
	for i, a := range res.Assets {
		if a.USDValue != "" && total.IsPositive() {
			share := decimal.RequireFromString(a.USDValue).Div(total).Mul(decimal.NewFromInt(100))
			res.Assets[i].Share = share.StringFixed(2)
		}
	}
	if btc, ok := e.btcPrice(ctx, balances); ok {
		res.TotalBTC = total.Div(btc).StringFixed(8)
	}
	return res, nil
}

// portfolioBalances loads each wallet's balances from the ledger, or through
// the refresher when refresh is set. A wallet that fails to refresh falls
// back to its stored snapshot and is reported in the returned errors.
func (e *Engine) portfolioBalances(ctx context.Context, wallets []types.Wallet, refresh bool) ([]*types.WalletWithBalances, []WalletError) {
	out := make([]*types.WalletWithBalances, len(wallets))
	reasons := make([]string, len(wallets))

	var g errgroup.Group
	g.SetLimit(refreshWorkers)
	for i, w := range wallets {
		i, w := i, w
		g.Go(func() error {
			if refresh {
				wb, err := e.refresher.WalletWithBalances(ctx, w.ID, false)
				if err == nil {
					out[i] = wb
					return nil
				}
				if walleterr.KindOf(err) != walleterr.KindNotFound {
					reasons[i] = walleterr.ReasonOf(err)
					log.Engine.Warn().Err(err).Str("wallet_id", w.ID).Msg("Portfolio refresh failed, using stored balances")
				}
			}
			wb, err := e.refresher.Cached(w.ID)
			if err != nil {
				if walleterr.KindOf(err) != walleterr.KindNotFound {
					reasons[i] = walleterr.ReasonOf(err)
				}
				return nil
			}
			out[i] = wb
			return nil
		})
	}
	_ = g.Wait()

	var (
		loaded []*types.WalletWithBalances
		failed []WalletError
	)
	for i, wb := range out {
		if reasons[i] != "" {
			failed = append(failed, WalletError{WalletID: wallets[i].ID, Reason: reasons[i]})
		}
		if wb != nil {
			loaded = append(loaded, wb)
		}
	}
	return loaded, failed
}

// aggregate merges balances by symbol, largest USD value first. Zero
// balances are left out.
func aggregate(wallets []*types.WalletWithBalances) []PortfolioAsset {
	type acc struct {
		asset   PortfolioAsset
		balance decimal.Decimal
		usd     decimal.Decimal
		priced  bool
		chains  map[string]bool
		wallets map[string]bool
	}
	bySymbol := make(map[string]*acc)
	for _, wb := range wallets {
		for _, cb := range wb.Chains {
			for _, b := range cb.Balances {
				amount, err := decimal.NewFromString(b.Display)
				if err != nil || amount.IsZero() {
					continue
				}
				a, ok := bySymbol[b.Asset.Symbol]
				if !ok {
					a = &acc{
						asset:   PortfolioAsset{Symbol: b.Asset.Symbol, Name: b.Asset.Name},
						chains:  make(map[string]bool),
						wallets: make(map[string]bool),
					}
					bySymbol[b.Asset.Symbol] = a
				}
				a.balance = a.balance.Add(amount)
				if v, err := decimal.NewFromString(b.USDValue); err == nil && b.USDValue != "" {
					a.usd = a.usd.Add(v)
					a.priced = true
				}
				a.chains[cb.Chain] = true
				a.wallets[wb.Wallet.ID] = true
			}
		}
	}

	out := make([]PortfolioAsset, 0, len(bySymbol))
	for _, a := range bySymbol {
		p := a.asset
		p.Balance = a.balance.String()
		if a.priced {
			p.USDValue = a.usd.StringFixed(2)
		}
		for chain := range a.chains {
			p.Chains = append(p.Chains, chain)
		}
		sort.Strings(p.Chains)
		p.Wallets = len(a.wallets)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		vi, _ := decimal.NewFromString(out[i].USDValue)
		vj, _ := decimal.NewFromString(out[j].USDValue)
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// btcPrice takes the BTC price from stored Bitcoin balances, falling back to
// the oracle.
func (e *Engine) btcPrice(ctx context.Context, wallets []*types.WalletWithBalances) (decimal.Decimal, bool) {
	symbol := bitcoin.NativeAsset.Symbol
	for _, wb := range wallets {
		for _, cb := range wb.Chains {
			for _, b := range cb.Balances {
				if b.Asset.Symbol != symbol || b.USDPrice == "" {
					continue
				}
				if p, err := decimal.NewFromString(b.USDPrice); err == nil && p.IsPositive() {
					return p, true
				}
			}
		}
	}
	if e.prices == nil {
		return decimal.Zero, false
	}
	quotes, err := e.prices.Prices(ctx, []string{symbol})
	if err != nil {
		log.Engine.Debug().Err(err).Msg("No BTC price for portfolio total")
	}
	q, ok := quotes[symbol]
	if !ok || !q.USD.IsPositive() {
		return decimal.Zero, false
	}
	return q.USD, true
}
