package cache

import (
	"testing"

	"github.com/cuemby/chatvault/pkg/permissions"
	"github.com/cuemby/chatvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGuildIsIdempotent(t *testing.T) {
	c := New()
	g1 := c.PutGuild(1)
	g2 := c.PutGuild(1)
	assert.Same(t, g1, g2)
}

func TestDeleteGuildRemovesFromMirror(t *testing.T) {
	c := New()
	c.PutGuild(1)
	c.DeleteGuild(1)
	_, ok := c.Guild(1)
	assert.False(t, ok)
}

func TestRecomputeGuildPermissionsOwnerIsAll(t *testing.T) {
	c := New()
	g := c.PutGuild(1)
	g.OwnerID = 42

	p := g.RecomputeGuildPermissions("acct1", 42, nil)
	assert.Equal(t, permissions.AllPermissions, p)
	assert.Equal(t, permissions.AllPermissions, g.AccountData["acct1"].GuildPermissions)
}

func TestRecomputeGuildPermissionsNonOwnerUsesRoles(t *testing.T) {
	c := New()
	g := c.PutGuild(1)
	g.OwnerID = 42
	g.RolePermissions[1] = permissions.ViewChannel // @everyone, keyed by guild id
	g.RolePermissions[200] = permissions.SendMessages

	p := g.RecomputeGuildPermissions("acct1", 7, []types.Snowflake{200})
	assert.True(t, permissions.Has(p, permissions.ViewChannel))
	assert.True(t, permissions.Has(p, permissions.SendMessages))
	assert.Equal(t, []types.Snowflake{200}, g.AccountRoleIDs("acct1"))
}

func TestChannelReadSetTracksMembershipChanges(t *testing.T) {
	ch := NewCachedChannel(10, 1, "general", types.ChannelTypeGuildText)
	assert.False(t, ch.HasAccountRead("acct1"))

	changed := ch.SetAccountRead("acct1", true)
	assert.True(t, changed)
	assert.True(t, ch.HasAccountRead("acct1"))

	changed = ch.SetAccountRead("acct1", true)
	assert.False(t, changed, "no-op re-set should report no change")

	changed = ch.SetAccountRead("acct1", false)
	assert.True(t, changed)
	assert.False(t, ch.HasAccountRead("acct1"))
}

func TestEnsureSyncInfoIsLazyAndStable(t *testing.T) {
	ch := NewCachedChannel(10, 1, "general", types.ChannelTypeGuildForum)
	assert.Nil(t, ch.SyncInfo)

	si1 := ch.EnsureSyncInfo()
	require.NotNil(t, si1)
	si2 := ch.EnsureSyncInfo()
	assert.Same(t, si1, si2)
}

func TestChannelComputePermissionsAppliesOverwrites(t *testing.T) {
	ch := NewCachedChannel(10, 1, "general", types.ChannelTypeGuildText)
	everyoneID := types.Snowflake(1)
	ch.PermissionOverwrites[everyoneID] = permissions.Overwrite{Deny: permissions.SendMessages}
	ch.PermissionOverwrites[999] = permissions.Overwrite{Allow: permissions.SendMessages} // account-id overwrite

	base := permissions.ViewChannel | permissions.SendMessages
	p := ch.ComputePermissions(999, everyoneID, base, nil)
	assert.True(t, permissions.Has(p, permissions.ViewChannel))
	assert.True(t, permissions.Has(p, permissions.SendMessages), "account overwrite should restore what @everyone denied")
}

func TestDeleteChannelRemovesFromGuild(t *testing.T) {
	c := New()
	g := c.PutGuild(1)
	ch := NewCachedChannel(10, 1, "general", types.ChannelTypeGuildText)
	g.PutChannel(ch)

	_, ok := g.Channel(10)
	require.True(t, ok)

	g.DeleteChannel(10)
	_, ok = g.Channel(10)
	assert.False(t, ok)
}
