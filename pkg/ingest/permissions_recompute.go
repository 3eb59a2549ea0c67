package ingest

import (
	"github.com/cuemby/chatvault/pkg/accounts"
	"github.com/cuemby/chatvault/pkg/cache"
	"github.com/cuemby/chatvault/pkg/permissions"
	"github.com/cuemby/chatvault/pkg/types"
)

// updateGuildChannelPermissions recomputes every connected account's
// guild-wide bitset and reapplies it across every cached channel of cg.
// Triggered by anything that can change a guild-wide bitset: an owner
// change (GUILD_UPDATE), a role's own permissions changing, or a role
// being created/deleted.
func (c *Controller) updateGuildChannelPermissions(cg *cache.CachedGuild) {
	for _, acc := range c.registry.All() {
		data, ok := cg.AccountData[acc.ID]
		if !ok {
			continue
		}
		guildPerms := cg.RecomputeGuildPermissions(acc.ID, acc.UserID(), data.RoleIDs)
		for _, cc := range cg.TextChannels {
			c.recomputeChannelPermissions(acc, cg, cc, guildPerms, data.RoleIDs)
		}
	}
}

// recomputeChannelPermissions reapplies acc's effective bitset for cc.
// Read access is kept fully symmetric (gained or lost updates the mirror
// and acc's back-reference either way). Manage-threads only ever gains a
// back-reference here: a manage-threads loss leaves the account's
// existing reference (and its thread-enumeration scheduling eligibility)
// in place until the channel itself is deleted or the account
// disconnects.
func (c *Controller) recomputeChannelPermissions(acc *accounts.Account, cg *cache.CachedGuild, cc *cache.CachedChannel, guildPerms permissions.Flag, roleIDs []types.Snowflake) {
	effective := cc.ComputePermissions(acc.UserID(), cg.EveryoneRoleID(), guildPerms, roleIDs)

	canRead := permissions.Has(effective, permissions.ViewChannel)
	if cc.SetAccountRead(acc.ID, canRead) {
		if canRead {
			acc.AddReference(cc.ID, accounts.SideRead)
		} else {
			acc.RemoveReference(cc.ID, accounts.SideRead)
		}
	}

	canManageThreads := permissions.Has(effective, permissions.ManageThreads)
	if canManageThreads && cc.SetAccountManageThreads(acc.ID, true) {
		acc.AddReference(cc.ID, accounts.SideManageThreads)
	}
}

// areMapsEqual compares two permission-overwrite maps by key and value.
func areMapsEqual(a, b map[types.Snowflake]permissions.Overwrite) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || bv != v {
			return false
		}
	}
	return true
}
