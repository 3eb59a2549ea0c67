// Package types defines the chat-platform entities archived by chatvault.
package types

import "time"

// Snowflake is a 64-bit id whose upper bits encode a creation timestamp.
type Snowflake int64

// Timing is a (unix_ms, realtime) pair, encoded as (unix_ms<<1)|realtime_bit.
// See pkg/store/timing.go for the encode/decode functions.
type Timing struct {
	UnixMilli int64
	Realtime  bool
}

// User is an account holder on the chat platform.
type User struct {
	ID            Snowflake     `json:"id"`
	Username      string        `json:"username"`
	Discriminator string        `json:"discriminator"` // normalized to "" when upstream reports "0"
	GlobalName    string        `json:"global_name"`
	Avatar        string        `json:"avatar"` // compact image hash
	Banner        string        `json:"banner"`
	AccentColor   int32         `json:"accent_color"`
	Bot           bool          `json:"bot"`    // non-versioned
	System        bool          `json:"system"` // non-versioned
	PrimaryGuild  *PrimaryGuild `json:"primary_guild,omitempty"`
	Collectibles  *Collectibles `json:"collectibles,omitempty"`
	Extra         map[string]any `json:"-"` // fields unknown to the fixed schema
}

// PrimaryGuild is the small "guild tag" badge shown next to a username.
type PrimaryGuild struct {
	IdentityEnabled bool      `json:"identity_enabled"`
	Tag             string    `json:"tag"`
	Badge           string    `json:"badge"`
	IdentityGuildID Snowflake `json:"identity_guild_id"`
}

// Collectibles holds cosmetic profile decorations.
type Collectibles struct {
	Nameplate *Nameplate `json:"nameplate,omitempty"`
}

// Nameplate is a cosmetic background behind a username.
type Nameplate struct {
	SKUID   Snowflake `json:"sku_id"`
	Asset   string    `json:"asset"`
	Label   string    `json:"label"`
	Palette string    `json:"palette"`
}

// Guild is a community/server.
type Guild struct {
	ID                         Snowflake      `json:"id"`
	Name                       string         `json:"name"`
	Icon                       string         `json:"icon"`
	OwnerID                    Snowflake      `json:"owner_id"`
	Description                string         `json:"description"`
	VerificationLevel          int            `json:"verification_level"`
	ExplicitContentFilterLevel int            `json:"explicit_content_filter_level"`
	Features                   []string       `json:"features"`
	Extra                      map[string]any `json:"-"`
}

// Role is a named permission bundle within a guild.
type Role struct {
	GuildID     Snowflake      `json:"guild_id"`
	ID          Snowflake      `json:"id"`
	Name        string         `json:"name"`
	Color       int32          `json:"color"`
	Position    int            `json:"position"`
	Permissions uint64         `json:"permissions"`
	Managed     bool           `json:"managed"` // non-versioned
	Mentionable bool           `json:"mentionable"`
	Hoist       bool           `json:"hoist"`
	Icon        string         `json:"icon"`
	Extra       map[string]any `json:"-"`
}

// Member is a user's guild-scoped profile. Keyed by (GuildID, UserID); there
// is no separate latest table for members — the latest snapshot is the one
// with the largest Timing recorded for that key.
type Member struct {
	GuildID  Snowflake      `json:"guild_id"`
	UserID   Snowflake      `json:"user_id"`
	Nick     string         `json:"nick"`
	Avatar   string         `json:"avatar"`
	RoleIDs  []Snowflake    `json:"role_ids"`
	JoinedAt time.Time      `json:"joined_at"` // object-scope, immutable once observed
	Extra    map[string]any `json:"-"`
}

// IsTombstone reports whether every versioned field is the zero value,
// which represents a "member left" marker.
func (m *Member) IsTombstone() bool {
	return m.Nick == "" && m.Avatar == "" && len(m.RoleIDs) == 0 && len(m.Extra) == 0
}

// ChannelType enumerates the channel/thread kinds this archiver persists.
type ChannelType int

const (
	ChannelTypeGuildText          ChannelType = 0
	ChannelTypeDM                 ChannelType = 1
	ChannelTypeGuildVoice         ChannelType = 2
	ChannelTypeGroupDM            ChannelType = 3
	ChannelTypeGuildCategory      ChannelType = 4
	ChannelTypeGuildAnnouncement  ChannelType = 5
	ChannelTypeAnnouncementThread ChannelType = 10
	ChannelTypePublicThread       ChannelType = 11
	ChannelTypePrivateThread      ChannelType = 12
	ChannelTypeGuildForum         ChannelType = 15
)

// PermissionOverwrite is a per-role or per-member permission delta on a channel.
type PermissionOverwrite struct {
	ID    Snowflake `json:"id"`
	Type  int       `json:"type"` // 0 = role, 1 = member
	Allow uint64    `json:"allow"`
	Deny  uint64    `json:"deny"`
}

// Channel is a text/voice/forum channel within a guild (or a DM channel,
// GuildID == 0).
type Channel struct {
	GuildID            Snowflake             `json:"guild_id"`
	ID                 Snowflake             `json:"id"`
	Type               ChannelType           `json:"type"`
	Name               string                `json:"name"`
	Topic              string                `json:"topic"`
	Position           int                   `json:"position"`
	ParentID           Snowflake             `json:"parent_id"`
	Overwrites         []PermissionOverwrite `json:"overwrites"`
	NSFW               bool                  `json:"nsfw"`
	RateLimitPerUser   int                   `json:"rate_limit_per_user"`
	LastMessageID      Snowflake             `json:"last_message_id"`
	DefaultForumLayout int                   `json:"default_forum_layout"`
	Extra              map[string]any        `json:"-"`
}

// Thread is a sub-conversation rooted at a message in a channel or forum post.
type Thread struct {
	GuildID       Snowflake      `json:"guild_id"`
	ID            Snowflake      `json:"id"`
	ParentID      Snowflake      `json:"parent_id"`
	Type          ChannelType    `json:"type"`
	Name          string         `json:"name"`
	OwnerID       Snowflake      `json:"owner_id"`
	MessageCount  int            `json:"message_count"`
	MemberCount   int            `json:"member_count"`
	Archived      bool           `json:"archived"`
	AutoArchiveMn int            `json:"auto_archive_mn"`
	Locked        bool           `json:"locked"`
	Invitable     bool           `json:"invitable"`
	AppliedTags   []Snowflake    `json:"applied_tags"`
	LastMessageID Snowflake      `json:"last_message_id"`
	Extra         map[string]any `json:"-"`
}

// ForumTag is an available tag on a forum-type channel.
type ForumTag struct {
	ChannelID Snowflake `json:"channel_id"`
	ID        Snowflake `json:"id"`
	Name      string    `json:"name"`
	Moderated bool      `json:"moderated"`
	EmojiID   Snowflake `json:"emoji_id"`
	EmojiName string    `json:"emoji_name"`
}

// Embed is an opaque rich-content block attached to a message. Its shape is
// owned by the wire contract (pkg/wire), not reinterpreted here.
type Embed map[string]any

// MessageReference compresses to 0/1 for ChannelID/GuildID when they equal
// the containing channel's (or its parent's) id/guild — see pkg/store/message.go.
type MessageReference struct {
	MessageID Snowflake `json:"message_id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id"`
}

// Message is a single chat message.
type Message struct {
	ChannelID       Snowflake         `json:"channel_id"`
	ID              Snowflake         `json:"id"`
	GuildID         Snowflake         `json:"guild_id"`       // non-versioned, object-scope
	AuthorID        Snowflake         `json:"author_id"`      // resolved author__id: user snowflake or webhook_users internal id
	WebhookID       Snowflake         `json:"webhook_id"`     // non-versioned
	ApplicationID   Snowflake         `json:"application_id"` // non-versioned
	Type            int               `json:"type"`           // non-versioned
	Content         string            `json:"content"`
	Embeds          []Embed           `json:"embeds"`
	EditedTimestamp int64             `json:"edited_timestamp"` // 0 if never edited; this is the versioned snapshot timestamp
	Pinned          bool              `json:"pinned"`
	TTS             bool              `json:"tts"`
	MentionEveryone bool              `json:"mention_everyone"`
	Mentions        []Snowflake       `json:"mentions"`
	Attachments     []Snowflake       `json:"attachments"` // ids, rows live in the attachments table
	Reference       *MessageReference `json:"reference,omitempty"`
	Flags           int               `json:"flags"`
	Extra           map[string]any    `json:"-"`
}

// GuildEmoji is a custom emoji usable within a guild.
type GuildEmoji struct {
	GuildID      Snowflake      `json:"guild_id"`
	ID           Snowflake      `json:"id"`
	Name         string         `json:"name"`
	Animated     bool           `json:"animated"` // non-versioned
	Available    bool           `json:"available"`
	RoleIDs      []Snowflake    `json:"role_ids"`
	ManagedByApp bool           `json:"managed_by_app"`
	Extra        map[string]any `json:"-"`
}

// Attachment is a written-once file attached to a message.
type Attachment struct {
	ID          Snowflake `json:"id"`
	MessageID   Snowflake `json:"message_id"`
	Filename    string    `json:"filename"`
	Description string    `json:"description"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	ProxyURL    string    `json:"proxy_url"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
}

// ReactionType distinguishes normal vs. "burst" (super) reactions.
type ReactionType int

const (
	ReactionTypeNormal ReactionType = 0
	ReactionTypeBurst  ReactionType = 1
)

// Reaction is an interval-valued placement of an emoji on a message by a
// user: present from Start until Removed (if any).
type Reaction struct {
	MessageID Snowflake    `json:"message_id"`
	EmojiKey  string       `json:"emoji_key"` // canonical key for unicode or "name:id" for custom emoji
	Type      ReactionType `json:"type"`
	UserID    Snowflake    `json:"user_id"`
	Start     int64        `json:"start"` // encoded Timing
	Removed   *int64       `json:"removed,omitempty"`
}

// WebhookUser is a synthetic author identity for webhook-posted messages,
// keyed by an internal id strictly below 1<<32 so it can never collide with
// a real snowflake.
type WebhookUser struct {
	InternalID int64     `json:"internal_id"`
	WebhookID  Snowflake `json:"webhook_id"`
	Username   string    `json:"username"`
	Avatar     string    `json:"avatar"`
}

// FileStatus is the outcome of attempting to fetch a remote file into the
// content-addressed blob store.
type FileStatus int

const (
	FileStatusOK    FileStatus = 0
	FileStatusError FileStatus = 1
)

// File maps a remote URL to either a local blob hash or a terminal error code.
type File struct {
	URL       string    `json:"url"`
	Status    FileStatus `json:"status"`
	Hash      []byte    `json:"hash"` // 32 bytes, nil if Status == FileStatusError
	ErrorCode string    `json:"error_code"`
	FetchedAt time.Time `json:"fetched_at"`
}
