package accounts

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/chatvault/pkg/log"
	"github.com/rs/zerolog"
)

// Registry holds every registered account, keyed by id.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	logger   zerolog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		accounts: make(map[string]*Account),
		logger:   log.WithComponent("accounts"),
	}
}

// Register opens opts' gateway connection, constructs the account record,
// and starts its gateway Run loop on a background goroutine. The returned
// Account's Ready() channel closes once the caller observes READY (and,
// for bot accounts, every GUILD_CREATE it promised) via MarkReady /
// ObserveReadyGuildCount / ObserveGuildCreate.
func (r *Registry) Register(ctx context.Context, opts Options) (*Account, error) {
	r.mu.Lock()
	if _, exists := r.accounts[opts.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("accounts: %q already registered", opts.ID)
	}
	acc := newAccount(opts)
	r.accounts[opts.ID] = acc
	r.mu.Unlock()

	go func() {
		err := acc.Gateway.Run(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Str("account_id", opts.ID).Msg("gateway session ended")
		}
		acc.runErr <- err
	}()

	return acc, nil
}

// Get looks up a registered account by id.
func (r *Registry) Get(id string) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	return acc, ok
}

// All returns every registered account.
func (r *Registry) All() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, acc)
	}
	return out
}

// LeastRESTBusy scans accounts (typically the read-capable subset for a
// guild or channel) and returns the one with the fewest ongoing
// REST-bound operations. Returns nil if accounts is empty.
func LeastRESTBusy(accounts []*Account) *Account {
	var best *Account
	lowest := int(^uint(0) >> 1)
	for _, acc := range accounts {
		if n := acc.RESTOps(); n < lowest {
			lowest = n
			best = acc
		}
	}
	return best
}

// LeastGatewayBusy is LeastRESTBusy's gateway-operation-count counterpart.
func LeastGatewayBusy(accounts []*Account) *Account {
	var best *Account
	lowest := int(^uint(0) >> 1)
	for _, acc := range accounts {
		if n := acc.GatewayOps(); n < lowest {
			lowest = n
			best = acc
		}
	}
	return best
}

// RemoveReferenceFunc is called once per back-reference an account held,
// so the registry doesn't need to know pkg/cache's internal layout to
// clean channel membership sets on disconnect.
type RemoveReferenceFunc func(ref Reference)

// Disconnect cancels every operation acc has running, awaits their
// completion latches, removes acc from every channel reference set via
// removeRef, closes its gateway, and drops it from the registry.
func (r *Registry) Disconnect(acc *Account, removeRef RemoveReferenceFunc) {
	acc.cancelAll()
	acc.wg.Wait()

	for _, ref := range acc.References() {
		removeRef(ref)
	}

	acc.Gateway.Destroy()
	acc.REST.Close()

	r.mu.Lock()
	delete(r.accounts, acc.ID)
	r.mu.Unlock()
}

// DisconnectAll disconnects every registered account: SIGINT/SIGTERM
// triggers the global abort signal, then disconnects every account
// before the store and blob store are closed.
func (r *Registry) DisconnectAll(removeRef RemoveReferenceFunc) {
	for _, acc := range r.All() {
		r.Disconnect(acc, removeRef)
	}
}
