package txbuilder

import (
	"strings"
	"sync"
)

// Nonces remembers the next nonce per (chain, address) across sends. The
// node's pending nonce can lag a broadcast this process just made, so
// allocation takes the larger of the two.
type Nonces struct {
	mu   sync.Mutex
	next map[string]uint64
}

// NewNonces creates an empty nonce tracker.
func NewNonces() *Nonces {
	return &Nonces{next: make(map[string]uint64)}
}

func nonceKey(chain, addr string) string {
	return chain + "|" + strings.ToLower(addr)
}

// Next returns the nonce to use given the node's pending nonce. It does not
// reserve it; callers hold the wallet lock until Commit.
func (n *Nonces) Next(chain, addr string, pending uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if local, ok := n.next[nonceKey(chain, addr)]; ok && local > pending {
		return local
	}
	return pending
}

// Commit records that nonce was accepted by the network.
func (n *Nonces) Commit(chain, addr string, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := nonceKey(chain, addr)
	if nonce+1 > n.next[k] {
		n.next[k] = nonce + 1
	}
}
