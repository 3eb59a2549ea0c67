package ingest

import (
	"github.com/cuemby/chatvault/pkg/accounts"
	"github.com/cuemby/chatvault/pkg/cache"
	"github.com/cuemby/chatvault/pkg/types"
)

// findChannel locates a cached channel by id across every tracked guild;
// a back-reference only carries the channel id, not which guild it
// belongs to.
func (c *Controller) findChannel(id types.Snowflake) *cache.CachedChannel {
	for _, cg := range c.cache.Guilds {
		if cc, ok := cg.Channel(id); ok {
			return cc
		}
	}
	return nil
}

// removeReference builds the callback Registry.Disconnect uses to unlink
// acc from every cached channel it held a reference to.
func (c *Controller) removeReference(acc *accounts.Account) accounts.RemoveReferenceFunc {
	return func(ref accounts.Reference) {
		cc := c.findChannel(ref.ChannelID)
		if cc == nil {
			return
		}
		switch ref.Side {
		case accounts.SideRead:
			cc.SetAccountRead(acc.ID, false)
		case accounts.SideManageThreads:
			cc.SetAccountManageThreads(acc.ID, false)
		}
	}
}

// disconnect drops one account: cancels its running operations, unlinks
// it from every cached channel, clears its per-guild permission data, and
// removes it from the registry. Called when an account's gateway session
// ends for good (auth revoked, or the controller is shutting down).
func (c *Controller) disconnect(acc *accounts.Account) {
	c.registry.Disconnect(acc, c.removeReference(acc))
	for _, cg := range c.cache.Guilds {
		delete(cg.AccountData, acc.ID)
	}
}

// Shutdown implements the clean-exit path: stop accepting new work, let
// every in-flight operation observe the abort signal, then disconnect
// every account. The cache is not bothered to stay consistent during
// this pass since nothing reads it again before the process exits;
// callers close the store and blob store only after this returns.
func (c *Controller) Shutdown() {
	close(c.abort)
	c.wg.Wait()
	c.registry.DisconnectAll(func(accounts.Reference) {})
}
