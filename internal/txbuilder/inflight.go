package txbuilder

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// DefaultInFlightTTL is how long a spent outpoint stays reserved after a
// broadcast. The Esplora UTXO listing drops it once the spend is seen.
const DefaultInFlightTTL = 30 * time.Minute

// InFlight tracks outpoints spent by transactions this process built, so
// concurrent or back-to-back sends never select the same UTXO.
type InFlight struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewInFlight creates an outpoint reservation set.
func NewInFlight(ttl time.Duration) *InFlight {
	if ttl <= 0 {
		ttl = DefaultInFlightTTL
	}
	return &InFlight{cache: gocache.New(ttl, time.Minute), ttl: ttl}
}

// Filter returns the confirmed UTXOs not currently reserved.
func (f *InFlight) Filter(utxos []types.UTXO) []types.UTXO {
	out := make([]types.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if !u.Confirmed {
			continue
		}
		if _, reserved := f.cache.Get(u.Outpoint.String()); reserved {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Reserve marks outpoints as spent.
func (f *InFlight) Reserve(utxos []types.UTXO) {
	for _, u := range utxos {
		f.cache.Set(u.Outpoint.String(), struct{}{}, f.ttl)
	}
}

// Release returns outpoints to the spendable set.
func (f *InFlight) Release(utxos []types.UTXO) {
	for _, u := range utxos {
		f.cache.Delete(u.Outpoint.String())
	}
}

// Len returns the number of reserved outpoints.
func (f *InFlight) Len() int { return f.cache.ItemCount() }
