package ingest

import (
	"github.com/cuemby/chatvault/pkg/accounts"
	"github.com/cuemby/chatvault/pkg/cache"
)

// readCapableAccounts resolves ch's AccountsWithRead set (account keys)
// against the registry, dropping any that have since disconnected.
func (c *Controller) readCapableAccounts(ch *cache.CachedChannel) []*accounts.Account {
	out := make([]*accounts.Account, 0, len(ch.AccountsWithRead))
	for key := range ch.AccountsWithRead {
		if acc, ok := c.registry.Get(key); ok {
			out = append(out, acc)
		}
	}
	return out
}

// manageThreadsCapableAccounts is readCapableAccounts' counterpart for the
// manage-threads set used to schedule archived-thread enumeration.
func (c *Controller) manageThreadsCapableAccounts(ch *cache.CachedChannel) []*accounts.Account {
	out := make([]*accounts.Account, 0, len(ch.AccountsWithManageThreads))
	for key := range ch.AccountsWithManageThreads {
		if acc, ok := c.registry.Get(key); ok {
			out = append(out, acc)
		}
	}
	return out
}
