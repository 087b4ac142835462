package price

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

func init() { log.Disable() }

type coingecko struct {
	srv   *httptest.Server
	calls atomic.Int32
	fail  atomic.Bool
	ids   atomic.Value
}

func newCoingecko(t *testing.T) *coingecko {
	t.Helper()
	cg := &coingecko{}
	cg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cg.calls.Add(1)
		cg.ids.Store(r.URL.Query().Get("ids"))
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("vs_currencies") != "usd" {
			http.NotFound(w, r)
			return
		}
		if cg.fail.Load() {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3012.55,"usd_24h_change":-1.5},"bitcoin":{"usd":65000}}`))
	}))
	t.Cleanup(cg.srv.Close)
	return cg
}

func TestPrices_LiveAndPinned(t *testing.T) {
	cg := newCoingecko(t)
	o := New(cg.srv.URL, "", time.Minute)

	got, err := o.Prices(context.Background(), []string{"eth", "BTC", "USDT", "usdc", "DOGE"})
	require.NoError(t, err)

	assert.Equal(t, "3012.55", got["ETH"].USD.String())
	assert.Equal(t, "-1.5", got["ETH"].Change24h.String())
	assert.Equal(t, types.SourceLive, got["ETH"].Source)
	assert.Equal(t, "65000", got["BTC"].USD.String())
	assert.Equal(t, "1", got["USDT"].USD.String())
	assert.Equal(t, types.SourcePinned, got["USDC"].Source)
	assert.NotContains(t, got, "DOGE")
	assert.Equal(t, "bitcoin,ethereum", cg.ids.Load())
}

func TestPrices_CachedWithinTTL(t *testing.T) {
	cg := newCoingecko(t)
	o := New(cg.srv.URL, "", time.Minute)

	_, err := o.Prices(context.Background(), []string{"ETH"})
	require.NoError(t, err)
	_, err = o.Prices(context.Background(), []string{"ETH"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), cg.calls.Load())
}

func TestPrices_StablecoinsNeverFetch(t *testing.T) {
	cg := newCoingecko(t)
	o := New(cg.srv.URL, "", time.Minute)

	got, err := o.Prices(context.Background(), []string{"USDT", "DAI"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(0), cg.calls.Load())
}

func TestPrices_FallbackToLastKnown(t *testing.T) {
	cg := newCoingecko(t)
	o := New(cg.srv.URL, "", time.Millisecond)

	_, err := o.Prices(context.Background(), []string{"ETH"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	cg.fail.Store(true)
	got, err := o.Prices(context.Background(), []string{"ETH"})
	require.NoError(t, err)
	assert.Equal(t, types.SourceFallback, got["ETH"].Source)
	assert.Equal(t, "3012.55", got["ETH"].USD.String())
}

func TestPrices_UnavailableWithoutHistory(t *testing.T) {
	cg := newCoingecko(t)
	cg.fail.Store(true)
	o := New(cg.srv.URL, "", time.Minute)

	got, err := o.Prices(context.Background(), []string{"ETH", "USDT"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, walleterr.ErrUnavailable))
	assert.Contains(t, err.Error(), "HTTP 429")
	assert.Contains(t, got, "USDT", "pinned prices survive an upstream failure")

	_, err = o.Price(context.Background(), "ETH")
	assert.True(t, errors.Is(err, walleterr.ErrUnavailable))
}

func TestPrice_UnknownSymbol(t *testing.T) {
	o := New("http://127.0.0.1:1", "", 0)
	_, err := o.Price(context.Background(), "DOGE")
	assert.True(t, errors.Is(err, walleterr.ErrNotFound))
}

func TestValue(t *testing.T) {
	quotes := map[string]Quote{"ETH": {USD: mustDecimal(t, "2000")}}
	p, v, src := Value(quotes, "eth", "1500000000000000000", 18)
	assert.Equal(t, "2000", p)
	assert.Equal(t, "3000.00", v)
	assert.Equal(t, types.Source(""), src)

	p, v, _ = Value(quotes, "BTC", "1", 8)
	assert.Empty(t, p)
	assert.Empty(t, v)
}
