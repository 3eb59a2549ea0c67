package wire

import (
	"encoding/json"
	"strconv"

	"github.com/cuemby/chatvault/pkg/types"
)

// PermissionOverwrite is the wire shape of a channel overwrite entry.
type PermissionOverwrite struct {
	ID    Snowflake `json:"id"`
	Type  int       `json:"type"`
	Allow string    `json:"allow"`
	Deny  string    `json:"deny"`
}

func decodeOverwrites(in []PermissionOverwrite) []types.PermissionOverwrite {
	if in == nil {
		return nil
	}
	out := make([]types.PermissionOverwrite, len(in))
	for i, o := range in {
		allow, _ := strconv.ParseUint(o.Allow, 10, 64)
		deny, _ := strconv.ParseUint(o.Deny, 10, 64)
		out[i] = types.PermissionOverwrite{ID: o.ID.AsType(), Type: o.Type, Allow: allow, Deny: deny}
	}
	return out
}

var channelKnownFields = []string{
	"guild_id", "id", "type", "name", "topic", "position", "parent_id",
	"permission_overwrites", "nsfw", "rate_limit_per_user", "last_message_id",
	"default_forum_layout",
}

// Channel is the wire shape of a channel object.
type Channel struct {
	GuildID            Snowflake             `json:"guild_id"`
	ID                 Snowflake             `json:"id"`
	Type               int                   `json:"type"`
	Name               string                `json:"name"`
	Topic              string                `json:"topic"`
	Position           int                   `json:"position"`
	ParentID           Snowflake             `json:"parent_id"`
	Overwrites         []PermissionOverwrite `json:"permission_overwrites"`
	NSFW               bool                  `json:"nsfw"`
	RateLimitPerUser   int                   `json:"rate_limit_per_user"`
	LastMessageID      Snowflake             `json:"last_message_id"`
	DefaultForumLayout int                   `json:"default_forum_layout"`
}

// DecodeChannel parses raw into a *types.Channel. guildID is used as a
// fallback when the payload omits guild_id, which GUILD_CREATE's nested
// channel array always does (it's implied by the containing guild).
func DecodeChannel(raw json.RawMessage, guildID types.Snowflake) (*types.Channel, error) {
	var c Channel
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	gid := c.GuildID.AsType()
	if gid == 0 {
		gid = guildID
	}
	return &types.Channel{
		GuildID:            gid,
		ID:                 c.ID.AsType(),
		Type:               types.ChannelType(c.Type),
		Name:               c.Name,
		Topic:              c.Topic,
		Position:           c.Position,
		ParentID:           c.ParentID.AsType(),
		Overwrites:         decodeOverwrites(c.Overwrites),
		NSFW:               c.NSFW,
		RateLimitPerUser:   c.RateLimitPerUser,
		LastMessageID:      c.LastMessageID.AsType(),
		DefaultForumLayout: c.DefaultForumLayout,
		Extra:              extraFields(raw, channelKnownFields...),
	}, nil
}

var threadKnownFields = []string{
	"guild_id", "id", "parent_id", "type", "name", "owner_id",
	"message_count", "member_count", "applied_tags", "last_message_id",
	"thread_metadata",
}

// Thread is the wire shape of a thread object; archived/locked/invitable/
// auto_archive_duration live nested under thread_metadata.
type Thread struct {
	GuildID       Snowflake   `json:"guild_id"`
	ID            Snowflake   `json:"id"`
	ParentID      Snowflake   `json:"parent_id"`
	Type          int         `json:"type"`
	Name          string      `json:"name"`
	OwnerID       Snowflake   `json:"owner_id"`
	MessageCount  int         `json:"message_count"`
	MemberCount   int         `json:"member_count"`
	AppliedTags   []Snowflake `json:"applied_tags"`
	LastMessageID Snowflake   `json:"last_message_id"`
	ThreadMeta    struct {
		Archived            bool `json:"archived"`
		AutoArchiveDuration  int  `json:"auto_archive_duration"`
		Locked               bool `json:"locked"`
		Invitable            bool `json:"invitable"`
	} `json:"thread_metadata"`
}

func DecodeThread(raw json.RawMessage, guildID types.Snowflake) (*types.Thread, error) {
	var t Thread
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	gid := t.GuildID.AsType()
	if gid == 0 {
		gid = guildID
	}
	return &types.Thread{
		GuildID:       gid,
		ID:            t.ID.AsType(),
		ParentID:      t.ParentID.AsType(),
		Type:          types.ChannelType(t.Type),
		Name:          t.Name,
		OwnerID:       t.OwnerID.AsType(),
		MessageCount:  t.MessageCount,
		MemberCount:   t.MemberCount,
		Archived:      t.ThreadMeta.Archived,
		AutoArchiveMn: t.ThreadMeta.AutoArchiveDuration,
		Locked:        t.ThreadMeta.Locked,
		Invitable:     t.ThreadMeta.Invitable,
		AppliedTags:   snowflakes(t.AppliedTags),
		LastMessageID: t.LastMessageID.AsType(),
		Extra:         extraFields(raw, threadKnownFields...),
	}, nil
}

// ArchivedThreadsPage is the response shape of the archived-thread listing
// endpoints.
type ArchivedThreadsPage struct {
	Threads []json.RawMessage `json:"threads"`
	HasMore bool              `json:"has_more"`
}

func DecodeArchivedThreadsPage(raw []byte) (*ArchivedThreadsPage, error) {
	var p ArchivedThreadsPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ThreadListSync is the THREAD_LIST_SYNC dispatch payload.
type ThreadListSync struct {
	GuildID  Snowflake         `json:"guild_id"`
	ChannelIDs []Snowflake     `json:"channel_ids"`
	Threads  []json.RawMessage `json:"threads"`
}

func DecodeThreadListSync(raw json.RawMessage) (*ThreadListSync, error) {
	var t ThreadListSync
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ChannelDelete/ThreadDelete dispatch payloads carry only the id/guild_id.
type ChannelDelete struct {
	ID      Snowflake `json:"id"`
	GuildID Snowflake `json:"guild_id"`
	Type    int       `json:"type"`
}

func DecodeChannelDelete(raw json.RawMessage) (*ChannelDelete, error) {
	var c ChannelDelete
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
