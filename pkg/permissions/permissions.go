// Package permissions computes effective per-guild and per-channel
// permission bitsets from role permissions and channel overwrites.
// Both operations are pure functions of their inputs: identical inputs
// always produce identical bitsets. This is the one component whose
// stdlib-only implementation needs no third-party justification — bit
// arithmetic has no I/O or data-structure surface a library would improve.
package permissions

import "github.com/cuemby/chatvault/pkg/types"

// Flag is a single permission bit or an OR of several.
type Flag uint64

const (
	CreateInstantInvite     Flag = 1 << 0
	KickMembers             Flag = 1 << 1
	BanMembers              Flag = 1 << 2
	Administrator           Flag = 1 << 3
	ManageChannels          Flag = 1 << 4
	ManageGuild             Flag = 1 << 5
	AddReactions            Flag = 1 << 6
	ViewAuditLog            Flag = 1 << 7
	PrioritySpeaker         Flag = 1 << 8
	Stream                  Flag = 1 << 9
	ViewChannel             Flag = 1 << 10
	SendMessages            Flag = 1 << 11
	SendTTSMessages         Flag = 1 << 12
	ManageMessages          Flag = 1 << 13
	EmbedLinks              Flag = 1 << 14
	AttachFiles             Flag = 1 << 15
	ReadMessageHistory      Flag = 1 << 16
	MentionEveryone         Flag = 1 << 17
	UseExternalEmojis       Flag = 1 << 18
	ViewGuildInsights       Flag = 1 << 19
	Connect                 Flag = 1 << 20
	Speak                   Flag = 1 << 21
	MuteMembers             Flag = 1 << 22
	DeafenMembers           Flag = 1 << 23
	MoveMembers             Flag = 1 << 24
	UseVAD                  Flag = 1 << 25
	ChangeNickname          Flag = 1 << 26
	ManageNicknames         Flag = 1 << 27
	ManageRoles             Flag = 1 << 28
	ManageWebhooks          Flag = 1 << 29
	ManageGuildExpressions  Flag = 1 << 30
	UseApplicationCommands  Flag = 1 << 31
	RequestToSpeak          Flag = 1 << 32
	ManageEvents            Flag = 1 << 33
	ManageThreads           Flag = 1 << 34
	CreatePublicThreads     Flag = 1 << 35
	CreatePrivateThreads    Flag = 1 << 36
	UseExternalStickers     Flag = 1 << 37
	SendMessagesInThreads   Flag = 1 << 38
	ModerateMembers         Flag = 1 << 40

	// AllPermissions is returned for the guild owner or any account whose
	// effective bitset carries Administrator: every bit set, so Has
	// reports true for any flag tested against it.
	AllPermissions Flag = ^Flag(0)
)

// Has is bitwise AND: whether p carries flag.
func Has(p, flag Flag) bool {
	return p&flag != 0
}

// Overwrite is a channel-scoped permission delta keyed by a role or
// member id (cached_channel's permission_overwrites: id → {allow, deny}).
type Overwrite struct {
	Allow Flag
	Deny  Flag
}

// GuildPermissions computes an account's guild-wide bitset. ownerID and
// everyoneRoleID identify the guild's owner and @everyone role (whose id
// equals the guild id); rolePermissions maps every role in the guild to
// its bitset; accountRoleIDs are the roles the account holds, excluding
// @everyone.
func GuildPermissions(accountID, ownerID, everyoneRoleID types.Snowflake, rolePermissions map[types.Snowflake]Flag, accountRoleIDs []types.Snowflake) Flag {
	if accountID == ownerID {
		return AllPermissions
	}
	p := rolePermissions[everyoneRoleID]
	for _, roleID := range accountRoleIDs {
		p |= rolePermissions[roleID]
	}
	if Has(p, Administrator) {
		return AllPermissions
	}
	return p
}

// ChannelPermissions computes an account's effective bitset for one
// channel, starting from guildPerms and applying overwrites in order:
// @everyone, then the OR of denies and the OR of allows across every
// role the account holds, then the account's own member-id overwrite.
// overwrites is keyed by role id or member id; everyoneRoleID and
// accountID select which entries apply as @everyone and member overwrite.
func ChannelPermissions(accountID, everyoneRoleID types.Snowflake, guildPerms Flag, overwrites map[types.Snowflake]Overwrite, accountRoleIDs []types.Snowflake) Flag {
	if Has(guildPerms, Administrator) {
		return AllPermissions
	}

	p := guildPerms
	if ow, ok := overwrites[everyoneRoleID]; ok {
		p &^= ow.Deny
		p |= ow.Allow
	}

	var roleDeny, roleAllow Flag
	for _, roleID := range accountRoleIDs {
		if ow, ok := overwrites[roleID]; ok {
			roleDeny |= ow.Deny
			roleAllow |= ow.Allow
		}
	}
	p &^= roleDeny
	p |= roleAllow

	if ow, ok := overwrites[accountID]; ok {
		p &^= ow.Deny
		p |= ow.Allow
	}
	return p
}
