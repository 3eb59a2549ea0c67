package permissions

import (
	"testing"

	"github.com/cuemby/chatvault/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestGuildPermissionsOwnerIsAll(t *testing.T) {
	p := GuildPermissions(1, 1, 100, map[types.Snowflake]Flag{100: SendMessages}, nil)
	assert.Equal(t, AllPermissions, p)
}

func TestGuildPermissionsAdministratorEscalatesToAll(t *testing.T) {
	roles := map[types.Snowflake]Flag{
		100: ViewChannel,         // @everyone
		200: Administrator,       // held role
	}
	p := GuildPermissions(2, 1, 100, roles, []types.Snowflake{200})
	assert.Equal(t, AllPermissions, p)
}

func TestGuildPermissionsORsEveryoneAndRoles(t *testing.T) {
	roles := map[types.Snowflake]Flag{
		100: ViewChannel,
		200: SendMessages,
		300: AddReactions,
	}
	p := GuildPermissions(2, 1, 100, roles, []types.Snowflake{200, 300})
	assert.True(t, Has(p, ViewChannel))
	assert.True(t, Has(p, SendMessages))
	assert.True(t, Has(p, AddReactions))
	assert.False(t, Has(p, ManageChannels))
}

func TestGuildPermissionsNoRolesFallsBackToEveryone(t *testing.T) {
	roles := map[types.Snowflake]Flag{100: ViewChannel}
	p := GuildPermissions(2, 1, 100, roles, nil)
	assert.Equal(t, ViewChannel, p)
}

func TestChannelPermissionsAdministratorShortCircuits(t *testing.T) {
	p := ChannelPermissions(2, 100, Administrator, map[types.Snowflake]Overwrite{
		100: {Deny: ViewChannel},
	}, nil)
	assert.Equal(t, AllPermissions, p)
}

func TestChannelPermissionsAppliesEveryoneOverwrite(t *testing.T) {
	base := ViewChannel | SendMessages
	overwrites := map[types.Snowflake]Overwrite{
		100: {Deny: SendMessages},
	}
	p := ChannelPermissions(2, 100, base, overwrites, nil)
	assert.True(t, Has(p, ViewChannel))
	assert.False(t, Has(p, SendMessages))
}

func TestChannelPermissionsRoleAllowOverridesEveryoneDeny(t *testing.T) {
	base := ViewChannel
	overwrites := map[types.Snowflake]Overwrite{
		100: {Deny: SendMessages},           // @everyone denies send
		200: {Allow: SendMessages},          // held role allows it back
	}
	p := ChannelPermissions(2, 100, base, overwrites, []types.Snowflake{200})
	assert.True(t, Has(p, SendMessages))
}

func TestChannelPermissionsRoleAllowBeatsRoleDenyWhenBothHeld(t *testing.T) {
	// Spec order: OR of denies across all matching role overwrites, THEN
	// OR of allows, so when two roles disagree the allow wins — this
	// pins that ordering down explicitly.
	base := Flag(0)
	overwrites := map[types.Snowflake]Overwrite{
		200: {Deny: SendMessages},
		300: {Allow: SendMessages},
	}
	p := ChannelPermissions(2, 100, base, overwrites, []types.Snowflake{200, 300})
	assert.True(t, Has(p, SendMessages))
}

func TestChannelPermissionsMemberOverwriteAppliesLast(t *testing.T) {
	base := ViewChannel | SendMessages
	overwrites := map[types.Snowflake]Overwrite{
		100: {},                        // @everyone: no-op
		200: {Allow: SendMessages},     // role allows (redundant with base)
		2:   {Deny: SendMessages},      // account-specific deny wins last
	}
	p := ChannelPermissions(2, 100, base, overwrites, []types.Snowflake{200})
	assert.True(t, Has(p, ViewChannel))
	assert.False(t, Has(p, SendMessages))
}

func TestChannelPermissionsNoMatchingOverwritesPassesThroughBase(t *testing.T) {
	p := ChannelPermissions(2, 100, ViewChannel, map[types.Snowflake]Overwrite{}, nil)
	assert.Equal(t, ViewChannel, p)
}

func TestHas(t *testing.T) {
	assert.True(t, Has(ViewChannel|SendMessages, SendMessages))
	assert.False(t, Has(ViewChannel, SendMessages))
	assert.True(t, Has(AllPermissions, Administrator))
}
