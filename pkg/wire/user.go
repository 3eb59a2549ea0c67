package wire

import (
	"encoding/json"
	"strconv"

	"github.com/cuemby/chatvault/pkg/types"
)

var userKnownFields = []string{
	"id", "username", "discriminator", "global_name", "avatar", "banner",
	"accent_color", "bot", "system", "primary_guild", "collectibles",
}

// User is the wire shape of a user object (member.user, message.author, …).
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	GlobalName    string    `json:"global_name"`
	Avatar        string    `json:"avatar"`
	Banner        string    `json:"banner"`
	AccentColor   int32     `json:"accent_color"`
	Bot           bool      `json:"bot"`
	System        bool      `json:"system"`
	PrimaryGuild  *struct {
		IdentityEnabled bool      `json:"identity_enabled"`
		Tag             string    `json:"tag"`
		Badge           string    `json:"badge"`
		IdentityGuildID Snowflake `json:"identity_guild_id"`
	} `json:"primary_guild"`
	Collectibles *struct {
		Nameplate *struct {
			SKUID   Snowflake `json:"sku_id"`
			Asset   string    `json:"asset"`
			Label   string    `json:"label"`
			Palette string    `json:"palette"`
		} `json:"nameplate"`
	} `json:"collectibles"`
}

// DecodeUser parses raw into a *types.User. The "0" discriminator sentinel
// used by the newer username migration is normalized to "".
func DecodeUser(raw json.RawMessage) (*types.User, error) {
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	out := &types.User{
		ID:            u.ID.AsType(),
		Username:      u.Username,
		Discriminator: u.Discriminator,
		GlobalName:    u.GlobalName,
		Avatar:        u.Avatar,
		Banner:        u.Banner,
		AccentColor:   u.AccentColor,
		Bot:           u.Bot,
		System:        u.System,
		Extra:         extraFields(raw, userKnownFields...),
	}
	if out.Discriminator == "0" {
		out.Discriminator = ""
	}
	if u.PrimaryGuild != nil {
		out.PrimaryGuild = &types.PrimaryGuild{
			IdentityEnabled: u.PrimaryGuild.IdentityEnabled,
			Tag:             u.PrimaryGuild.Tag,
			Badge:           u.PrimaryGuild.Badge,
			IdentityGuildID: u.PrimaryGuild.IdentityGuildID.AsType(),
		}
	}
	if u.Collectibles != nil && u.Collectibles.Nameplate != nil {
		n := u.Collectibles.Nameplate
		out.Collectibles = &types.Collectibles{
			Nameplate: &types.Nameplate{
				SKUID:   n.SKUID.AsType(),
				Asset:   n.Asset,
				Label:   n.Label,
				Palette: n.Palette,
			},
		}
	}
	return out, nil
}

// GuildIconURL builds the CDN URL for a guild's icon hash, or "" if the
// guild has none.
func GuildIconURL(guildID types.Snowflake, iconHash string) string {
	if iconHash == "" {
		return ""
	}
	ext := "png"
	if len(iconHash) > 2 && iconHash[:2] == "a_" {
		ext = "gif"
	}
	return "https://cdn.discordapp.com/icons/" + strconv.FormatInt(int64(guildID), 10) + "/" + iconHash + "." + ext
}
