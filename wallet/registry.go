package wallet

import (
	"sort"

	"memledger/debug"
)

// Registry holds the wallets a running ledger can sign for, keyed by address.
// It is owned by the ledger instance; there is no process-wide registry.
type Registry struct {
	mu      debug.RWMutex
	wallets map[string]*Wallet
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{wallets: make(map[string]*Wallet)}
	r.mu.SetName("wallet.registry")
	return r
}

// Add registers w. Re-adding an address keeps the first instance and
// returns it.
func (r *Registry) Add(w *Wallet) *Wallet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.wallets[w.Address()]; ok {
		return existing
	}
	r.wallets[w.Address()] = w
	return w
}

// Get looks up a wallet by address.
func (r *Registry) Get(address string) (*Wallet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[address]
	return w, ok
}

// Addresses lists registered addresses in sorted order.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.wallets))
	for addr := range r.wallets {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered wallets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}

// Close zeroes every held key and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, w := range r.wallets {
		w.Zero()
		delete(r.wallets, addr)
	}
}
