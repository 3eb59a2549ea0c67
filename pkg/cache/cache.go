// Package cache implements an in-memory mirror: the minimum state needed
// to compute permissions and schedule sync work while the archiver is
// running. It has no close analogue elsewhere in this codebase — nothing
// else here needs a permission-computation mirror — so its shape is
// built directly from the domain's field requirements rather than
// adapted from existing code.
//
// The cache is mutated only by ingestion on the main worker and is
// therefore deliberately unlocked: it is not safe for concurrent use,
// the same way a state machine can assume a single-apply-goroutine
// discipline rather than locking internally.
package cache

import (
	"github.com/cuemby/chatvault/pkg/permissions"
	"github.com/cuemby/chatvault/pkg/types"
)

// AccountGuildData is one account's computed guild-wide state, the value
// half of cached_guild.account_data.
type AccountGuildData struct {
	RoleIDs          []types.Snowflake
	GuildPermissions permissions.Flag
}

// CachedGuild mirrors one guild's permission-relevant state. Created on
// first GUILD_CREATE, mutated by dispatch handlers, destroyed on
// disconnect.
type CachedGuild struct {
	ID      types.Snowflake
	Name    string
	OwnerID types.Snowflake

	// RolePermissions maps every role in the guild to its bitset,
	// including the @everyone role keyed by the guild's own id.
	RolePermissions map[types.Snowflake]permissions.Flag

	AccountData map[string]*AccountGuildData

	TextChannels map[types.Snowflake]*CachedChannel

	// MemberUserIDs is nil while a member fetch is interrupted or has
	// never completed; a later GUILD_MEMBERS_CHUNK may still add to a
	// non-nil set. Treat nil as "abandoned, do not add to it" so a
	// resumed session doesn't silently merge into a stale partial set.
	MemberUserIDs map[types.Snowflake]struct{}

	// InitialSyncDone is a one-shot latch: false until the initial
	// bring-up transaction has committed.
	InitialSyncDone bool
}

func newCachedGuild(id types.Snowflake) *CachedGuild {
	return &CachedGuild{
		ID:              id,
		RolePermissions: make(map[types.Snowflake]permissions.Flag),
		AccountData:     make(map[string]*AccountGuildData),
		TextChannels:    make(map[types.Snowflake]*CachedChannel),
	}
}

// Channel looks up a cached text-like channel by id.
func (g *CachedGuild) Channel(id types.Snowflake) (*CachedChannel, bool) {
	ch, ok := g.TextChannels[id]
	return ch, ok
}

// PutChannel inserts or replaces a cached channel.
func (g *CachedGuild) PutChannel(ch *CachedChannel) {
	g.TextChannels[ch.ID] = ch
}

// DeleteChannel removes a channel from the mirror (CHANNEL_DELETE).
func (g *CachedGuild) DeleteChannel(id types.Snowflake) {
	delete(g.TextChannels, id)
}

// EveryoneRoleID is the @everyone role's id, which Discord sets equal to
// the guild's own id.
func (g *CachedGuild) EveryoneRoleID() types.Snowflake { return g.ID }

// AccountRoleIDs returns the roles accountID currently holds in this
// guild (excluding @everyone), or nil if the account has no guild data
// cached yet.
func (g *CachedGuild) AccountRoleIDs(accountID string) []types.Snowflake {
	data, ok := g.AccountData[accountID]
	if !ok {
		return nil
	}
	return data.RoleIDs
}

// RecomputeGuildPermissions recomputes and stores accountKey's guild-wide
// bitset from the current RolePermissions and role assignment, returning
// the new value. accountUserID is the account's own Discord user id (used
// for the owner check); accountKey is the registry key account data is
// stored under, which may differ from accountUserID's string form.
func (g *CachedGuild) RecomputeGuildPermissions(accountKey string, accountUserID types.Snowflake, roleIDs []types.Snowflake) permissions.Flag {
	p := permissions.GuildPermissions(accountUserID, g.OwnerID, g.EveryoneRoleID(), g.RolePermissions, roleIDs)
	g.AccountData[accountKey] = &AccountGuildData{RoleIDs: roleIDs, GuildPermissions: p}
	return p
}

// Cache is the top-level in-memory mirror: every guild currently tracked.
type Cache struct {
	Guilds map[types.Snowflake]*CachedGuild
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{Guilds: make(map[types.Snowflake]*CachedGuild)}
}

// Guild looks up a cached guild by id.
func (c *Cache) Guild(id types.Snowflake) (*CachedGuild, bool) {
	g, ok := c.Guilds[id]
	return g, ok
}

// PutGuild inserts a new cached guild for id if one isn't already
// present, returning it either way.
func (c *Cache) PutGuild(id types.Snowflake) *CachedGuild {
	if g, ok := c.Guilds[id]; ok {
		return g
	}
	g := newCachedGuild(id)
	c.Guilds[id] = g
	return g
}

// DeleteGuild removes a guild from the mirror entirely (account removed
// from the guild, or the guild became unavailable).
func (c *Cache) DeleteGuild(id types.Snowflake) {
	delete(c.Guilds, id)
}
