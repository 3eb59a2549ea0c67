/*
Package types defines the Discord domain model shared by every chatvault
package: gateway decoding, REST responses, the ingestion controller, and the
snapshot store all operate on these same structs rather than each defining
their own.

# Core types

Identity and timing:
  - Snowflake: a Discord ID, parsed as int64 rather than string
  - Timing: the (unix_ms, realtime) pair snapshots are ordered by, used
    to decide whether an incoming object is newer than what the store
    already has

Guild structure:
  - Guild, Role, GuildEmoji, ForumTag
  - Channel, Thread (threads carry their own type since they diverge from
    Channel in parent linkage and archive/lock state)
  - PermissionOverwrite: a role/member-scoped allow/deny bitset on a channel

Members and users:
  - User, Member (a guild-scoped profile: nick, avatar, roles, join time,
    keyed by guild id and user id)
  - PrimaryGuild, Collectibles, Nameplate: optional profile decorations
    that the store's normalization step collapses to absent when unset

Messages:
  - Message, MessageReference (reply/forward linkage, compressed to omit
    the channel ID when it matches the containing message's own channel)
  - Attachment, Embed (an opaque map, stored as-is rather than typed field
    by field since Discord's embed shape changes frequently)
  - Reaction, ReactionType (normal vs super reactions)
  - WebhookUser: the synthetic author identity interned for messages
    posted by a webhook rather than a real user

Files:
  - File, FileStatus: a downloaded attachment/avatar blob's record in the
    blob store, keyed by URL with a content hash for dedup

# Design

Enums are typed integers or strings with named constants, not bare ints,
so call sites read ChannelType/ReactionType/FileStatus names rather than
magic numbers. Optional nested structs (PrimaryGuild, Collectibles,
Nameplate, MessageReference) are pointers so a nil value distinguishes
"not present" from "present but zero".

These types are the shape persisted by pkg/store (via JSON flattening, see
pkg/store's kind specs) and the shape decoded off the gateway and REST
responses by pkg/wire — there is no separate wire/storage DTO layer.
*/
package types
