package ingest

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/cuemby/chatvault/pkg/restclient"
	"github.com/cuemby/chatvault/pkg/types"
)

// Route values identify a (method, path-template) pair for the REST
// client's per-bucket rate limiting; the resource id passed alongside each
// one scopes the bucket to the specific channel/guild it targets.
const (
	routeChannelMessages       restclient.Route = "GET /channels/:id/messages"
	routeReactionsByEmoji      restclient.Route = "GET /channels/:id/messages/:mid/reactions/:emoji"
	routeArchivedPublicThreads restclient.Route = "GET /channels/:id/threads/archived/public"
	routeArchivedPrivateThreads restclient.Route = "GET /channels/:id/threads/archived/private"
	routeJoinedPrivateThreads  restclient.Route = "GET /channels/:id/users/@me/threads/archived/private"
	routeGuildMembersChunk     restclient.Route = "OP /guild_members_chunk"
	routeSelfGuildMember       restclient.Route = "GET /users/@me/guilds/:id/member"
)

func sf(id types.Snowflake) string { return strconv.FormatInt(int64(id), 10) }

func messagesPath(channel types.Snowflake, after types.Snowflake) string {
	q := url.Values{}
	q.Set("limit", "100")
	if after != 0 {
		q.Set("after", sf(after))
	}
	return fmt.Sprintf("/channels/%s/messages?%s", sf(channel), q.Encode())
}

func reactionsPath(channel, message types.Snowflake, emojiKey string, reactionType int, after types.Snowflake) string {
	q := url.Values{}
	q.Set("limit", "100")
	q.Set("type", strconv.Itoa(reactionType))
	if after != 0 {
		q.Set("after", sf(after))
	}
	return fmt.Sprintf("/channels/%s/messages/%s/reactions/%s?%s", sf(channel), sf(message), url.PathEscape(emojiKey), q.Encode())
}

func selfMemberPath(guild types.Snowflake) string {
	return fmt.Sprintf("/users/@me/guilds/%s/member", sf(guild))
}

func archivedThreadsPath(route restclient.Route, channel types.Snowflake, before int64) string {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	var suffix string
	switch route {
	case routeArchivedPrivateThreads:
		suffix = fmt.Sprintf("/channels/%s/threads/archived/private", sf(channel))
	case routeJoinedPrivateThreads:
		suffix = fmt.Sprintf("/channels/%s/users/@me/threads/archived/private", sf(channel))
	default:
		suffix = fmt.Sprintf("/channels/%s/threads/archived/public", sf(channel))
	}
	if encoded := q.Encode(); encoded != "" {
		return suffix + "?" + encoded
	}
	return suffix
}
