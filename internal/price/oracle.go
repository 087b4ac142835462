// Package price is the USD spot price oracle (CoinGecko simple/price).
//
// Stablecoins are pinned at 1. Live prices are cached for a TTL; when the
// upstream fails, the last price ever seen for a symbol is served tagged as
// fallback.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// DefaultTTL is how long a live price is served from cache.
const DefaultTTL = 60 * time.Second

// coinIDs maps symbols to CoinGecko ids.
var coinIDs = map[string]string{
	"ETH":   "ethereum",
	"BTC":   "bitcoin",
	"MATIC": "matic-network",
	"BNB":   "binancecoin",
	"USDT":  "tether",
	"USDC":  "usd-coin",
	"DAI":   "dai",
}

var stablecoins = map[string]bool{"USDT": true, "USDC": true, "DAI": true}

// CoinID returns the CoinGecko id of a symbol.
func CoinID(symbol string) (string, bool) {
	id, ok := coinIDs[strings.ToUpper(symbol)]
	return id, ok
}

// Quote is a USD price for one symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	USD       decimal.Decimal `json:"usd"`
	Change24h decimal.Decimal `json:"usd_24h_change"`
	Source    types.Source    `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Oracle fetches and caches spot prices.
type Oracle struct {
	baseURL string
	apiKey  string
	http    *http.Client
	ttl     time.Duration
	now     func() time.Time

	cache *gocache.Cache // coin id → Quote, live window
	group singleflight.Group

	mu   sync.RWMutex
	last map[string]Quote // coin id → last live quote, never expires
}

// New creates an oracle. ttl <= 0 uses DefaultTTL.
func New(baseURL, apiKey string, ttl time.Duration) *Oracle {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Oracle{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		ttl:     ttl,
		now:     time.Now,
		cache:   gocache.New(ttl, 2*ttl),
		last:    make(map[string]Quote),
	}
}

// Price returns the USD price of one symbol.
func (o *Oracle) Price(ctx context.Context, symbol string) (Quote, error) {
	quotes, err := o.Prices(ctx, []string{symbol})
	if q, ok := quotes[strings.ToUpper(symbol)]; ok {
		return q, nil
	}
	if err == nil {
		err = walleterr.New(walleterr.KindNotFound, "price.get", "no price source for %q", symbol)
	}
	return Quote{}, err
}

// Prices returns USD prices keyed by upper-case symbol. Symbols without a
// known CoinGecko id are omitted. The error is Unavailable when some
// priceable symbol had neither a live nor a last-known price; the map
// still carries every price that was resolved.
func (o *Oracle) Prices(ctx context.Context, symbols []string) (map[string]Quote, error) {
	out := make(map[string]Quote, len(symbols))
	var missing []string
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if _, done := out[sym]; done {
			continue
		}
		if stablecoins[sym] {
			out[sym] = Quote{Symbol: sym, USD: decimal.NewFromInt(1), Source: types.SourcePinned, FetchedAt: o.now().UTC()}
			continue
		}
		id, ok := coinIDs[sym]
		if !ok {
			continue
		}
		if v, hit := o.cache.Get(id); hit {
			metrics.CacheLookups.WithLabelValues("price", metrics.Hit).Inc()
			q := v.(Quote)
			q.Symbol = sym
			out[sym] = q
			continue
		}
		metrics.CacheLookups.WithLabelValues("price", metrics.Miss).Inc()
		missing = append(missing, sym)
	}
	if len(missing) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(missing))
	for _, sym := range missing {
		ids = append(ids, coinIDs[sym])
	}
	sort.Strings(ids)
	fetched, fetchErr := o.fetchShared(ctx, ids)
	if fetchErr != nil {
		log.Price.Warn().Err(fetchErr).Strs("ids", ids).Msg("Price fetch failed, using last known prices")
	}

	var unresolved []string
	for _, sym := range missing {
		id := coinIDs[sym]
		if q, ok := fetched[id]; ok {
			q.Symbol = sym
			out[sym] = q
			continue
		}
		o.mu.RLock()
		q, ok := o.last[id]
		o.mu.RUnlock()
		if ok {
			q.Symbol = sym
			q.Source = types.SourceFallback
			out[sym] = q
			continue
		}
		unresolved = append(unresolved, sym)
	}
	if len(unresolved) > 0 {
		reason := "no price data"
		if fetchErr != nil {
			reason = walleterr.ReasonOf(fetchErr)
		}
		return out, walleterr.New(walleterr.KindUnavailable, "price.get", "no price for %s: %s", strings.Join(unresolved, ","), reason)
	}
	return out, nil
}

// fetchShared coalesces identical concurrent fetches.
func (o *Oracle) fetchShared(ctx context.Context, ids []string) (map[string]Quote, error) {
	key := strings.Join(ids, ",")
	ch := o.group.DoChan(key, func() (interface{}, error) {
		return o.fetch(ctx, ids)
	})
	select {
	case <-ctx.Done():
		return nil, walleterr.Unavailable("price.get", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]Quote), nil
	}
}

type coinPrice struct {
	USD       *decimal.Decimal `json:"usd"`
	Change24h *decimal.Decimal `json:"usd_24h_change"`
}

func (o *Oracle) fetch(ctx context.Context, ids []string) (map[string]Quote, error) {
	const op = "price.fetch"
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if o.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", o.apiKey)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, walleterr.Unavailable(op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, walleterr.Unavailable(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, walleterr.New(walleterr.KindUnavailable, op, "HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed map[string]coinPrice
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, walleterr.Unavailable(op, fmt.Errorf("decode response: %w", err))
	}

	now := o.now().UTC()
	out := make(map[string]Quote, len(parsed))
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, p := range parsed {
		if p.USD == nil {
			log.Price.Warn().Str("coin_id", id).Msg("Missing USD price")
			continue
		}
		quote := Quote{USD: *p.USD, Source: types.SourceLive, FetchedAt: now}
		if p.Change24h != nil {
			quote.Change24h = *p.Change24h
		}
		out[id] = quote
		o.last[id] = quote
		o.cache.Set(id, quote, o.ttl)
	}
	log.Price.Debug().Int("count", len(out)).Msg("Fetched prices")
	return out, nil
}

// Value prices a base-unit balance. It returns empty strings when the
// symbol has no quote.
func Value(quotes map[string]Quote, symbol string, balance string, decimals int32) (usdPrice, usdValue string, source types.Source) {
	q, ok := quotes[strings.ToUpper(symbol)]
	if !ok {
		return "", "", ""
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return "", "", ""
	}
	value := amount.Shift(-decimals).Mul(q.USD)
	return q.USD.String(), value.StringFixed(2), q.Source
}
