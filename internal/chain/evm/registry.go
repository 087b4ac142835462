package evm

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingwallet/internal/walleterr"
)

// DefaultConcurrency bounds multi-chain fan-out when none is configured.
const DefaultConcurrency = 3

// Registry holds one client per enabled chain.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]*Client
	order  []string
	limit  int
}

// NewRegistry creates an empty registry. limit bounds concurrent chain
// calls in Each; values below 1 use DefaultConcurrency.
func NewRegistry(limit int) *Registry {
	if limit < 1 {
		limit = DefaultConcurrency
	}
	return &Registry{chains: make(map[string]*Client), limit: limit}
}

// Register adds or replaces a chain client.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chains[c.Name()]; !ok {
		r.order = append(r.order, c.Name())
	}
	r.chains[c.Name()] = c
}

// Get returns the client for a chain.
func (r *Registry) Get(name string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[name]
	if !ok {
		return nil, walleterr.Validation("evm.registry", "chain not supported: %s", name)
	}
	return c, nil
}

// ByChainID returns the client for an EIP-155 chain id.
func (r *Registry) ByChainID(id uint64) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.chains {
		if c.spec.ChainID == id {
			return c, nil
		}
	}
	return nil, walleterr.Validation("evm.registry", "chain id not supported: %d", id)
}

// Names returns the registered chains in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Clients returns the registered clients in registration order.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.chains[name])
	}
	return out
}

// Close closes every client.
func (r *Registry) Close() {
	for _, c := range r.Clients() {
		c.Close()
	}
}

// Result is one chain's outcome of a fan-out.
type Result[T any] struct {
	Chain string
	Value T
	Err   error
}

// Each runs fn on every chain with at most the registry's limit in flight.
// A failing chain does not cancel the others; each result carries its own
// error. Results follow registration order.
func Each[T any](ctx context.Context, r *Registry, fn func(ctx context.Context, c *Client) (T, error)) []Result[T] {
	clients := r.Clients()
	results := make([]Result[T], len(clients))

	var g errgroup.Group
	g.SetLimit(r.limit)
	for i, c := range clients {
		i, c := i, c
		g.Go(func() error {
			results[i].Chain = c.Name()
			if err := ctx.Err(); err != nil {
				results[i].Err = walleterr.Unavailable("evm."+c.Name(), err)
				return nil
			}
			results[i].Value, results[i].Err = fn(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
