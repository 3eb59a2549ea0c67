package wire

import (
	"encoding/json"
	"time"

	"github.com/cuemby/chatvault/pkg/types"
)

var memberKnownFields = []string{"user", "nick", "avatar", "roles", "joined_at", "guild_id"}

// Member is the wire shape of a guild member object.
type Member struct {
	User     *User       `json:"user"`
	Nick     string      `json:"nick"`
	Avatar   string      `json:"avatar"`
	Roles    []Snowflake `json:"roles"`
	JoinedAt time.Time   `json:"joined_at"`
	GuildID  Snowflake   `json:"guild_id"`
}

// DecodeMember parses raw into a *types.Member. guildID is a fallback for
// payloads (GUILD_MEMBERS_CHUNK entries) that omit guild_id since it's
// implied by the containing chunk.
func DecodeMember(raw json.RawMessage, guildID types.Snowflake) (*types.Member, types.Snowflake, error) {
	var m Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, 0, err
	}
	gid := m.GuildID.AsType()
	if gid == 0 {
		gid = guildID
	}
	var userID types.Snowflake
	if m.User != nil {
		userID = m.User.ID.AsType()
	}
	return &types.Member{
		GuildID:  gid,
		UserID:   userID,
		Nick:     m.Nick,
		Avatar:   m.Avatar,
		RoleIDs:  snowflakes(m.Roles),
		JoinedAt: m.JoinedAt,
		Extra:    extraFields(raw, memberKnownFields...),
	}, userID, nil
}
