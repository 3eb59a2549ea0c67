package wire

import (
	"encoding/json"
	"time"

	"github.com/cuemby/chatvault/pkg/types"
)

var attachmentKnownFields = []string{
	"id", "filename", "description", "content_type", "size", "url", "proxy_url", "width", "height",
}

// Attachment is the wire shape of a message attachment.
type Attachment struct {
	ID          Snowflake `json:"id"`
	Filename    string    `json:"filename"`
	Description string    `json:"description"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	ProxyURL    string    `json:"proxy_url"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
}

func DecodeAttachment(raw json.RawMessage, messageID types.Snowflake) (*types.Attachment, error) {
	var a Attachment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &types.Attachment{
		ID:          a.ID.AsType(),
		MessageID:   messageID,
		Filename:    a.Filename,
		Description: a.Description,
		ContentType: a.ContentType,
		Size:        a.Size,
		URL:         a.URL,
		ProxyURL:    a.ProxyURL,
		Width:       a.Width,
		Height:      a.Height,
	}, nil
}

// MessageReference is the wire shape of a cross-message/channel reference.
type MessageReference struct {
	MessageID Snowflake `json:"message_id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id"`
}

var messageKnownFields = []string{
	"channel_id", "id", "guild_id", "author", "webhook_id", "application_id",
	"type", "content", "embeds", "edited_timestamp", "pinned", "tts",
	"mention_everyone", "mentions", "attachments", "message_reference", "flags",
	"reactions",
}

// ReactionSummary is one entry of a message's wire-level reaction rollup:
// a count of placements per emoji, split by normal vs. burst.
type ReactionSummary struct {
	Emoji        Emoji `json:"emoji"`
	CountDetails struct {
		Burst  int `json:"burst"`
		Normal int `json:"normal"`
	} `json:"count_details"`
}

// Message is the wire shape of a message object.
type Message struct {
	ChannelID       Snowflake         `json:"channel_id"`
	ID              Snowflake         `json:"id"`
	GuildID         Snowflake         `json:"guild_id"`
	Author          *User             `json:"author"`
	WebhookID       Snowflake         `json:"webhook_id"`
	ApplicationID   Snowflake         `json:"application_id"`
	Type            int               `json:"type"`
	Content         string            `json:"content"`
	Embeds          []json.RawMessage `json:"embeds"`
	EditedTimestamp *string           `json:"edited_timestamp"`
	Pinned          bool              `json:"pinned"`
	TTS             bool              `json:"tts"`
	MentionEveryone bool              `json:"mention_everyone"`
	Mentions        []Snowflake       `json:"mentions"`
	Attachments     []json.RawMessage `json:"attachments"`
	Reference       *MessageReference `json:"message_reference"`
	Flags           int               `json:"flags"`
	Reactions       []ReactionSummary `json:"reactions"`
}

// DecodedMessage is DecodeMessage's result: the converted entity plus the
// raw pieces that need further resolution against the store (the author,
// if not a webhook; the attachment rows; the reaction rollup used to drive
// per-emoji reaction-listing fetches).
type DecodedMessage struct {
	Message     *types.Message
	Author      *User
	Attachments []json.RawMessage
	Reactions   []ReactionSummary
}

// DecodeMessage parses raw into a DecodedMessage. AuthorID is left zero
// when the author is a webhook; resolving a webhook_users row happens in
// the ingest package, which has the store handle.
func DecodeMessage(raw json.RawMessage, guildID types.Snowflake) (*DecodedMessage, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	embeds := make([]types.Embed, 0, len(m.Embeds))
	for _, e := range m.Embeds {
		var em map[string]any
		if err := json.Unmarshal(e, &em); err == nil {
			embeds = append(embeds, em)
		}
	}
	var editedMs int64
	if m.EditedTimestamp != nil {
		if t, err := time.Parse(time.RFC3339, *m.EditedTimestamp); err == nil {
			editedMs = t.UnixMilli()
		}
	}
	var ref *types.MessageReference
	if m.Reference != nil {
		ref = &types.MessageReference{
			MessageID: m.Reference.MessageID.AsType(),
			ChannelID: m.Reference.ChannelID.AsType(),
			GuildID:   m.Reference.GuildID.AsType(),
		}
	}
	gid := m.GuildID.AsType()
	if gid == 0 {
		gid = guildID
	}
	out := &types.Message{
		ChannelID:       m.ChannelID.AsType(),
		ID:              m.ID.AsType(),
		GuildID:         gid,
		WebhookID:       m.WebhookID.AsType(),
		ApplicationID:   m.ApplicationID.AsType(),
		Type:            m.Type,
		Content:         m.Content,
		Embeds:          embeds,
		EditedTimestamp: editedMs,
		Pinned:          m.Pinned,
		TTS:             m.TTS,
		MentionEveryone: m.MentionEveryone,
		Mentions:        snowflakes(m.Mentions),
		Reference:       ref,
		Flags:           m.Flags,
		Extra:           extraFields(raw, messageKnownFields...),
	}
	if m.Author != nil && m.WebhookID == 0 {
		out.AuthorID = m.Author.ID.AsType()
	}
	return &DecodedMessage{Message: out, Author: m.Author, Attachments: m.Attachments, Reactions: m.Reactions}, nil
}

// MessageDelete is the MESSAGE_DELETE dispatch payload.
type MessageDelete struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id"`
}

func DecodeMessageDelete(raw json.RawMessage) (*MessageDelete, error) {
	var d MessageDelete
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
