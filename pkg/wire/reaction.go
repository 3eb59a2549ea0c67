package wire

import (
	"encoding/json"
	"strconv"

	"github.com/cuemby/chatvault/pkg/types"
)

var guildEmojiKnownFields = []string{
	"id", "name", "animated", "available", "roles", "managed_by_app",
}

// GuildEmoji is the wire shape of a custom guild emoji.
type GuildEmoji struct {
	ID           Snowflake   `json:"id"`
	Name         string      `json:"name"`
	Animated     bool        `json:"animated"`
	Available    bool        `json:"available"`
	Roles        []Snowflake `json:"roles"`
	ManagedByApp bool        `json:"managed_by_app"`
}

func DecodeGuildEmoji(raw json.RawMessage, guildID types.Snowflake) (*types.GuildEmoji, error) {
	var e GuildEmoji
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &types.GuildEmoji{
		GuildID:      guildID,
		ID:           e.ID.AsType(),
		Name:         e.Name,
		Animated:     e.Animated,
		Available:    e.Available,
		RoleIDs:      snowflakes(e.Roles),
		ManagedByApp: e.ManagedByApp,
		Extra:        extraFields(raw, guildEmojiKnownFields...),
	}, nil
}

// Emoji is the small emoji reference embedded in reaction dispatch
// payloads: either a unicode emoji (ID == 0, Name holds the glyph) or a
// custom emoji (ID != 0, Name holds its registered name).
type Emoji struct {
	ID   Snowflake `json:"id"`
	Name string    `json:"name"`
}

// Key returns the canonical emoji_key used to identify a reaction row:
// the unicode glyph itself, or "name:id" for a custom emoji.
func (e Emoji) Key() string {
	if e.ID == 0 {
		return e.Name
	}
	return e.Name + ":" + strconv.FormatInt(int64(e.ID.AsType()), 10)
}

// MessageReactionAdd/Remove are the MESSAGE_REACTION_ADD/REMOVE dispatch
// payloads.
type MessageReactionAdd struct {
	UserID    Snowflake `json:"user_id"`
	ChannelID Snowflake `json:"channel_id"`
	MessageID Snowflake `json:"message_id"`
	GuildID   Snowflake `json:"guild_id"`
	Emoji     Emoji     `json:"emoji"`
	Burst     bool      `json:"burst"`
}

func DecodeMessageReactionAdd(raw json.RawMessage) (*MessageReactionAdd, error) {
	var r MessageReactionAdd
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

type MessageReactionRemove = MessageReactionAdd

func DecodeMessageReactionRemove(raw json.RawMessage) (*MessageReactionRemove, error) {
	return DecodeMessageReactionAdd(raw)
}

// MessageReactionRemoveEmoji is MESSAGE_REACTION_REMOVE_EMOJI: every
// reaction of one emoji on the message is cleared.
type MessageReactionRemoveEmoji struct {
	ChannelID Snowflake `json:"channel_id"`
	MessageID Snowflake `json:"message_id"`
	GuildID   Snowflake `json:"guild_id"`
	Emoji     Emoji     `json:"emoji"`
}

func DecodeMessageReactionRemoveEmoji(raw json.RawMessage) (*MessageReactionRemoveEmoji, error) {
	var r MessageReactionRemoveEmoji
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MessageReactionRemoveAll is MESSAGE_REACTION_REMOVE_ALL: every reaction
// on the message is cleared.
type MessageReactionRemoveAll struct {
	ChannelID Snowflake `json:"channel_id"`
	MessageID Snowflake `json:"message_id"`
	GuildID   Snowflake `json:"guild_id"`
}

func DecodeMessageReactionRemoveAll(raw json.RawMessage) (*MessageReactionRemoveAll, error) {
	var r MessageReactionRemoveAll
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
