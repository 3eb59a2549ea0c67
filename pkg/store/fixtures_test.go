package store

import (
	"time"

	"github.com/cuemby/chatvault/pkg/types"
)

func channelFixture(guildID, id int64) *types.Channel {
	return &types.Channel{
		GuildID: types.Snowflake(guildID),
		ID:      types.Snowflake(id),
		Type:    types.ChannelTypeGuildText,
		Name:    "general",
	}
}

func memberFixture(guildID, userID int64) *types.Member {
	return &types.Member{
		GuildID:  types.Snowflake(guildID),
		UserID:   types.Snowflake(userID),
		Nick:     "nick",
		RoleIDs:  []types.Snowflake{1},
		JoinedAt: time.Unix(0, 0).UTC(),
	}
}

func messageFixture(channelID, id int64, content string) *types.Message {
	return &types.Message{
		ChannelID: types.Snowflake(channelID),
		ID:        types.Snowflake(id),
		AuthorID:  types.Snowflake(999),
		Content:   content,
		Extra:     map[string]any{},
	}
}
