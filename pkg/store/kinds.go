package store

import (
	"fmt"

	"github.com/cuemby/chatvault/pkg/types"
)

// Kind identifies one of the fixed entity kinds the store versions.
type Kind string

const (
	KindUser       Kind = "user"
	KindGuild      Kind = "guild"
	KindRole       Kind = "role"
	KindMember     Kind = "member"
	KindChannel    Kind = "channel"
	KindThread     Kind = "thread"
	KindForumTag   Kind = "forum_tag"
	KindMessage    Kind = "message"
	KindGuildEmoji Kind = "guild_emoji"
)

// kindSpec describes how a fixed entity kind maps onto its pair of snapshot
// tables: the key columns, the fixed (non-_extra) columns subject to
// encode/decode, which of those are object-scope (written once, excluded
// from the "same as latest" diff), and the column used to scope
// children_at/sync_deletions.
type kindSpec struct {
	name         Kind
	latestTable  string
	historyTable string // empty for member, which has a single append-only table
	idColumns    []string
	parentColumn string   // "" if the kind has no natural parent scope
	columns      []string // fixed versioned+object columns, excluding id/parent/_timestamp/_deleted
	objectScope  map[string]bool
	newZero      func() any
}

var kindSpecs = map[Kind]*kindSpec{
	KindUser: {
		name:        KindUser,
		latestTable: "latest_user_snapshots", historyTable: "previous_user_snapshots",
		idColumns: []string{"id"},
		columns: []string{
			"username", "discriminator", "global_name", "avatar", "banner", "accent_color",
			"primary_guild__identity_enabled", "primary_guild__tag", "primary_guild__badge", "primary_guild__identity_guild_id",
			"collectibles__nameplate__sku_id", "collectibles__nameplate__asset", "collectibles__nameplate__label", "collectibles__nameplate__palette",
			"bot", "system",
		},
		objectScope: map[string]bool{"bot": true, "system": true},
		newZero:     func() any { return &types.User{} },
	},
	KindGuild: {
		name:        KindGuild,
		latestTable: "latest_guild_snapshots", historyTable: "previous_guild_snapshots",
		idColumns: []string{"id"},
		columns: []string{
			"name", "icon", "owner_id", "description",
			"verification_level", "explicit_content_filter_level", "features",
		},
		objectScope: map[string]bool{},
		newZero:     func() any { return &types.Guild{} },
	},
	KindRole: {
		name:        KindRole,
		latestTable: "latest_role_snapshots", historyTable: "previous_role_snapshots",
		idColumns: []string{"guild_id", "id"}, parentColumn: "guild_id",
		columns: []string{
			"name", "color", "position", "permissions", "mentionable", "hoist", "icon", "managed",
		},
		objectScope: map[string]bool{"managed": true},
		newZero:     func() any { return &types.Role{} },
	},
	KindMember: {
		name:        KindMember,
		latestTable: "member_snapshots", // single append-only table, latest = max(_timestamp)
		idColumns:   []string{"guild_id", "user_id"}, parentColumn: "guild_id",
		columns: []string{
			"nick", "avatar", "role_ids", "joined_at",
		},
		objectScope: map[string]bool{"joined_at": true},
		newZero:     func() any { return &types.Member{} },
	},
	KindChannel: {
		name:        KindChannel,
		latestTable: "latest_channel_snapshots", historyTable: "previous_channel_snapshots",
		idColumns: []string{"guild_id", "id"}, parentColumn: "guild_id",
		columns: []string{
			"name", "topic", "position", "parent_id", "overwrites", "nsfw",
			"rate_limit_per_user", "last_message_id", "default_forum_layout", "type",
		},
		objectScope: map[string]bool{"type": true},
		newZero:     func() any { return &types.Channel{} },
	},
	KindThread: {
		name:        KindThread,
		latestTable: "latest_thread_snapshots", historyTable: "previous_thread_snapshots",
		idColumns: []string{"guild_id", "id"}, parentColumn: "parent_id",
		columns: []string{
			"parent_id", "name", "owner_id", "message_count", "member_count",
			"archived", "auto_archive_mn", "locked", "invitable", "applied_tags",
			"last_message_id", "type",
		},
		objectScope: map[string]bool{"type": true},
		newZero:     func() any { return &types.Thread{} },
	},
	KindForumTag: {
		name:        KindForumTag,
		latestTable: "latest_forum_tag_snapshots", historyTable: "previous_forum_tag_snapshots",
		idColumns: []string{"channel_id", "id"}, parentColumn: "channel_id",
		columns: []string{
			"name", "moderated", "emoji_id", "emoji_name",
		},
		objectScope: map[string]bool{},
		newZero:     func() any { return &types.ForumTag{} },
	},
	KindMessage: {
		name:        KindMessage,
		latestTable: "latest_message_snapshots", historyTable: "previous_message_snapshots",
		idColumns: []string{"channel_id", "id"}, parentColumn: "channel_id",
		columns: []string{
			"content", "embeds", "edited_timestamp", "pinned", "tts", "mention_everyone",
			"mentions", "attachments", "reference__message_id", "reference__channel_id",
			"reference__guild_id", "flags", "author_id",
			"guild_id", "webhook_id", "application_id", "type",
		},
		objectScope: map[string]bool{
			"guild_id": true, "webhook_id": true, "application_id": true, "type": true,
		},
		newZero: func() any { return &types.Message{} },
	},
	KindGuildEmoji: {
		name:        KindGuildEmoji,
		latestTable: "latest_guild_emoji_snapshots", historyTable: "previous_guild_emoji_snapshots",
		idColumns: []string{"guild_id", "id"}, parentColumn: "guild_id",
		columns: []string{
			"name", "available", "role_ids", "managed_by_app", "animated",
		},
		objectScope: map[string]bool{"animated": true},
		newZero:     func() any { return &types.GuildEmoji{} },
	},
}

func specFor(kind Kind) (*kindSpec, error) {
	s, ok := kindSpecs[kind]
	if !ok {
		return nil, fmt.Errorf("store: unknown entity kind %q", kind)
	}
	return s, nil
}
