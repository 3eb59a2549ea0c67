package wire

import (
	"encoding/json"
	"strconv"

	"github.com/cuemby/chatvault/pkg/types"
)

var guildKnownFields = []string{
	"id", "name", "icon", "owner_id", "description",
	"verification_level", "explicit_content_filter", "features",
}

// Guild is the wire shape of a GUILD_CREATE/GUILD_UPDATE's guild object.
type Guild struct {
	ID                         Snowflake `json:"id"`
	Name                       string    `json:"name"`
	Icon                       string    `json:"icon"`
	OwnerID                    Snowflake `json:"owner_id"`
	Description                string    `json:"description"`
	VerificationLevel          int       `json:"verification_level"`
	ExplicitContentFilterLevel int       `json:"explicit_content_filter"`
	Features                   []string  `json:"features"`
}

func DecodeGuild(raw json.RawMessage) (*types.Guild, error) {
	var g Guild
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &types.Guild{
		ID:                         g.ID.AsType(),
		Name:                       g.Name,
		Icon:                       g.Icon,
		OwnerID:                    g.OwnerID.AsType(),
		Description:                g.Description,
		VerificationLevel:          g.VerificationLevel,
		ExplicitContentFilterLevel: g.ExplicitContentFilterLevel,
		Features:                   g.Features,
		Extra:                      extraFields(raw, guildKnownFields...),
	}, nil
}

var roleKnownFields = []string{
	"id", "name", "color", "position", "permissions", "managed", "mentionable", "hoist", "icon",
}

// Role is the wire shape of a role object; GuildID is not present on the
// wire (it's implied by context) so callers pass it in separately.
type Role struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	Color       int32     `json:"color"`
	Position    int       `json:"position"`
	Permissions string    `json:"permissions"` // transmitted as a numeric string
	Managed     bool      `json:"managed"`
	Mentionable bool      `json:"mentionable"`
	Hoist       bool      `json:"hoist"`
	Icon        string    `json:"icon"`
}

func DecodeRole(raw json.RawMessage, guildID types.Snowflake) (*types.Role, error) {
	var r Role
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	perms, _ := strconv.ParseUint(r.Permissions, 10, 64)
	return &types.Role{
		GuildID:     guildID,
		ID:          r.ID.AsType(),
		Name:        r.Name,
		Color:       r.Color,
		Position:    r.Position,
		Permissions: perms,
		Managed:     r.Managed,
		Mentionable: r.Mentionable,
		Hoist:       r.Hoist,
		Icon:        r.Icon,
		Extra:       extraFields(raw, roleKnownFields...),
	}, nil
}

// GuildCreate is the GUILD_CREATE dispatch payload: the guild object plus
// every nested collection the initial bring-up needs in one shot.
type GuildCreate struct {
	Guild
	Roles    []json.RawMessage `json:"roles"`
	Channels []json.RawMessage `json:"channels"`
	Threads  []json.RawMessage `json:"threads"`
}

func DecodeGuildCreate(raw json.RawMessage) (*GuildCreate, error) {
	var gc GuildCreate
	if err := json.Unmarshal(raw, &gc); err != nil {
		return nil, err
	}
	return &gc, nil
}

// GuildMembersChunk is the GUILD_MEMBERS_CHUNK dispatch payload.
type GuildMembersChunk struct {
	GuildID    Snowflake         `json:"guild_id"`
	Members    []json.RawMessage `json:"members"`
	ChunkIndex int               `json:"chunk_index"`
	ChunkCount int               `json:"chunk_count"`
}

func DecodeGuildMembersChunk(raw json.RawMessage) (*GuildMembersChunk, error) {
	var c GuildMembersChunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Ready is the READY dispatch payload's subset this archiver cares about:
// the connecting account's own user and the list of (possibly unavailable)
// guilds it promises GUILD_CREATE for.
type Ready struct {
	User   *User `json:"user"`
	Guilds []struct {
		ID          Snowflake `json:"id"`
		Unavailable bool      `json:"unavailable"`
	} `json:"guilds"`
}

func DecodeReady(raw json.RawMessage) (*Ready, error) {
	var r Ready
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
