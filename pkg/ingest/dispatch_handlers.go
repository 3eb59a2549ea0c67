package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/chatvault/pkg/accounts"
	"github.com/cuemby/chatvault/pkg/cache"
	"github.com/cuemby/chatvault/pkg/gateway"
	"github.com/cuemby/chatvault/pkg/metrics"
	"github.com/cuemby/chatvault/pkg/permissions"
	"github.com/cuemby/chatvault/pkg/store"
	"github.com/cuemby/chatvault/pkg/types"
	"github.com/cuemby/chatvault/pkg/wire"
)

// dispatch routes one gateway dispatch frame to its handler. Any error a
// handler returns is logged and otherwise swallowed: a single bad event
// must not take down the controller's single worker goroutine.
func (c *Controller) dispatch(acc *accounts.Account, payload gateway.Payload, realtime bool) {
	var err error
	switch payload.T {
	case "READY":
		err = c.handleReady(acc, payload.D)
	case "GUILD_CREATE":
		err = c.handleGuildCreate(acc, payload.D, realtime)
	case "GUILD_UPDATE":
		err = c.handleGuildUpdate(acc, payload.D, realtime)
	case "GUILD_ROLE_CREATE", "GUILD_ROLE_UPDATE":
		err = c.handleRoleUpsert(acc, payload.D, realtime)
	case "GUILD_ROLE_DELETE":
		err = c.handleRoleDelete(acc, payload.D, realtime)
	case "CHANNEL_UPDATE":
		err = c.handleChannelUpdate(acc, payload.D, realtime)
	case "CHANNEL_DELETE":
		err = c.handleChannelDelete(acc, payload.D, realtime)
	case "GUILD_MEMBERS_CHUNK":
		err = c.handleGuildMembersChunk(acc, payload.D, realtime)
	case "THREAD_LIST_SYNC":
		err = c.handleThreadListSync(acc, payload.D, realtime)
	case "MESSAGE_CREATE", "MESSAGE_UPDATE":
		err = c.handleMessageUpsert(acc, payload.D, realtime)
	case "MESSAGE_DELETE":
		err = c.handleMessageDelete(acc, payload.D, realtime)
	case "MESSAGE_REACTION_ADD":
		err = c.handleReactionAdd(acc, payload.D, realtime)
	case "MESSAGE_REACTION_REMOVE":
		err = c.handleReactionRemove(acc, payload.D, realtime)
	case "MESSAGE_REACTION_REMOVE_EMOJI":
		err = c.handleReactionRemoveEmoji(acc, payload.D, realtime)
	case "MESSAGE_REACTION_REMOVE_ALL":
		err = c.handleReactionRemoveAll(acc, payload.D, realtime)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("account_id", acc.ID).Str("event_type", payload.T).Msg("dispatch handler failed")
	}
}

// handleReady records acc's own user id and, for bot accounts, arms the
// GUILD_CREATE countdown Ready() waits on.
func (c *Controller) handleReady(acc *accounts.Account, raw json.RawMessage) error {
	r, err := wire.DecodeReady(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode ready: %w", err)
	}
	if r.User != nil {
		acc.SetUserID(r.User.ID.AsType())
	}
	if acc.Bot {
		acc.ObserveReadyGuildCount(len(r.Guilds))
	} else {
		acc.MarkReady()
	}
	return nil
}

// handleGuildUpdate applies a guild-level metadata change (name, icon,
// owner, features) and, since an owner change can flip every account's
// guild-wide bitset between "everything" and "whatever their roles grant",
// recomputes every connected account's permissions across the guild.
func (c *Controller) handleGuildUpdate(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	guild, err := wire.DecodeGuild(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode guild update: %w", err)
	}
	if !c.opts.guildEligible(guild.ID) {
		return nil
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	err = c.store.Transact(func(tx *store.Tx) error {
		result, err := c.store.AddGuildSnapshot(tx, guild, timing)
		if err != nil {
			return err
		}
		if result == store.AddedFirst || result == store.AddedAnother {
			metrics.ObjectsWrittenTotal.WithLabelValues("guild").Inc()
		}
		return nil
	})
	if err != nil {
		return err
	}

	cg, ok := c.cache.Guild(guild.ID)
	if !ok {
		return nil
	}
	ownerChanged := cg.OwnerID != guild.OwnerID
	cg.Name = guild.Name
	cg.OwnerID = guild.OwnerID
	if ownerChanged {
		c.updateGuildChannelPermissions(cg)
	}
	return nil
}

// handleRoleUpsert writes the role snapshot and recomputes permissions
// across the guild: a role's bitset changing ripples into every channel
// overwrite keyed on it and every account holding it.
func (c *Controller) handleRoleUpsert(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	var payload struct {
		GuildID wire.Snowflake  `json:"guild_id"`
		Role    json.RawMessage `json:"role"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("ingest: decode role upsert envelope: %w", err)
	}
	guildID := payload.GuildID.AsType()
	if !c.opts.guildEligible(guildID) {
		return nil
	}
	role, err := wire.DecodeRole(payload.Role, guildID)
	if err != nil {
		return fmt.Errorf("ingest: decode role: %w", err)
	}

	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	err = c.store.Transact(func(tx *store.Tx) error {
		result, err := c.store.AddRoleSnapshot(tx, role, timing)
		if err != nil {
			return err
		}
		if result == store.AddedFirst || result == store.AddedAnother {
			metrics.ObjectsWrittenTotal.WithLabelValues("role").Inc()
		}
		return nil
	})
	if err != nil {
		return err
	}

	cg, ok := c.cache.Guild(guildID)
	if !ok {
		return nil
	}
	cg.RolePermissions[role.ID] = permissions.Flag(role.Permissions)
	c.updateGuildChannelPermissions(cg)
	return nil
}

// handleRoleDelete marks the role deleted and drops it from the mirror,
// then recomputes permissions for every account that may have held it.
func (c *Controller) handleRoleDelete(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	var payload struct {
		GuildID wire.Snowflake `json:"guild_id"`
		RoleID  wire.Snowflake `json:"role_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("ingest: decode role delete: %w", err)
	}
	guildID := payload.GuildID.AsType()
	roleID := payload.RoleID.AsType()
	if !c.opts.guildEligible(guildID) {
		return nil
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	err := c.store.Transact(func(tx *store.Tx) error {
		_, err := c.store.MarkAsDeleted(tx, store.KindRole, map[string]any{"guild_id": int64(guildID), "id": int64(roleID)}, timing)
		return err
	})
	if err != nil {
		return err
	}

	cg, ok := c.cache.Guild(guildID)
	if !ok {
		return nil
	}
	delete(cg.RolePermissions, roleID)
	c.updateGuildChannelPermissions(cg)
	return nil
}

// handleChannelUpdate writes the channel snapshot, refreshes the mirror's
// cached name/parent/overwrites, and recomputes every connected account's
// effective permissions for it.
func (c *Controller) handleChannelUpdate(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	ch, err := wire.DecodeChannel(raw, 0)
	if err != nil {
		return fmt.Errorf("ingest: decode channel update: %w", err)
	}
	if !c.opts.guildEligible(ch.GuildID) {
		return nil
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	err = c.store.Transact(func(tx *store.Tx) error {
		result, err := c.store.AddChannelSnapshot(tx, ch, timing)
		if err != nil {
			return err
		}
		if result == store.AddedFirst || result == store.AddedAnother {
			metrics.ObjectsWrittenTotal.WithLabelValues("channel").Inc()
		}
		return nil
	})
	if err != nil {
		return err
	}

	cg, ok := c.cache.Guild(ch.GuildID)
	if !ok || !isTextLike(ch.Type) {
		return nil
	}
	cc, existed := cg.Channel(ch.ID)
	if !existed {
		cc = cache.NewCachedChannel(ch.ID, ch.ParentID, ch.Name, ch.Type)
		cg.PutChannel(cc)
	}
	cc.Name = ch.Name
	cc.ParentID = ch.ParentID
	cc.Type = ch.Type
	cc.PermissionOverwrites = overwritesToMap(ch.Overwrites)

	for _, a := range c.registry.All() {
		data, ok := cg.AccountData[a.ID]
		if !ok {
			continue
		}
		c.recomputeChannelPermissions(a, cg, cc, data.GuildPermissions, data.RoleIDs)
	}
	return nil
}

// handleChannelDelete marks the channel (or thread) deleted and drops it
// from the mirror, releasing every account's back-reference to it.
func (c *Controller) handleChannelDelete(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	d, err := wire.DecodeChannelDelete(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode channel delete: %w", err)
	}
	channelID := d.ID.AsType()
	guildID := d.GuildID.AsType()
	if !c.opts.guildEligible(guildID) {
		return nil
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	kind := store.KindChannel
	if isThreadType(types.ChannelType(d.Type)) {
		kind = store.KindThread
	}
	err = c.store.Transact(func(tx *store.Tx) error {
		_, err := c.store.MarkAsDeleted(tx, kind, map[string]any{"guild_id": int64(guildID), "id": int64(channelID)}, timing)
		return err
	})
	if err != nil {
		return err
	}

	cg, ok := c.cache.Guild(guildID)
	if !ok {
		return nil
	}
	cc, ok := cg.Channel(channelID)
	if !ok {
		return nil
	}
	for key := range cc.AccountsWithRead {
		if a, ok := c.registry.Get(key); ok {
			a.RemoveReference(channelID, accounts.SideRead)
		}
	}
	for key := range cc.AccountsWithManageThreads {
		if a, ok := c.registry.Get(key); ok {
			a.RemoveReference(channelID, accounts.SideManageThreads)
		}
	}
	cg.DeleteChannel(channelID)
	return nil
}

// handleGuildMembersChunk writes every member in the chunk. MemberUserIDs
// stays nil (abandoned) once a fetch has been interrupted — see its doc
// comment — so a chunk belonging to an abandoned fetch is still persisted
// but not accounted for completion tracking.
func (c *Controller) handleGuildMembersChunk(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	chunk, err := wire.DecodeGuildMembersChunk(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode members chunk: %w", err)
	}
	guildID := chunk.GuildID.AsType()
	if !c.opts.guildEligible(guildID) {
		return nil
	}

	members := make([]*types.Member, 0, len(chunk.Members))
	userIDs := make([]types.Snowflake, 0, len(chunk.Members))
	for _, raw := range chunk.Members {
		m, userID, err := wire.DecodeMember(raw, guildID)
		if err != nil {
			return fmt.Errorf("ingest: decode chunk member: %w", err)
		}
		members = append(members, m)
		userIDs = append(userIDs, userID)
	}

	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	err = c.store.Transact(func(tx *store.Tx) error {
		for _, m := range members {
			if _, err := c.store.AddMemberSnapshot(tx, m, timing, true); err != nil {
				return err
			}
			metrics.ObjectsWrittenTotal.WithLabelValues("member").Inc()
		}
		return nil
	})
	if err != nil {
		return err
	}

	cg, ok := c.cache.Guild(guildID)
	if ok && cg.MemberUserIDs != nil {
		for _, id := range userIDs {
			cg.MemberUserIDs[id] = struct{}{}
		}
	}
	return nil
}

// handleThreadListSync writes every thread the gateway just told us about
// and starts a message sync on any that's new to the mirror.
func (c *Controller) handleThreadListSync(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	sync, err := wire.DecodeThreadListSync(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode thread list sync: %w", err)
	}
	guildID := sync.GuildID.AsType()
	if !c.opts.guildEligible(guildID) {
		return nil
	}

	threads := make([]*types.Thread, 0, len(sync.Threads))
	for _, raw := range sync.Threads {
		th, err := wire.DecodeThread(raw, guildID)
		if err != nil {
			return fmt.Errorf("ingest: decode thread: %w", err)
		}
		threads = append(threads, th)
	}

	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	err = c.store.Transact(func(tx *store.Tx) error {
		for _, th := range threads {
			if _, err := c.store.AddThreadSnapshot(tx, th, timing); err != nil {
				return err
			}
			metrics.ObjectsWrittenTotal.WithLabelValues("thread").Inc()
		}
		return nil
	})
	if err != nil {
		return err
	}

	cg, ok := c.cache.Guild(guildID)
	if !ok || !c.opts.SyncMessages {
		return nil
	}
	for _, th := range threads {
		parent, ok := cg.Channel(th.ParentID)
		if !ok {
			continue
		}
		info := parent.EnsureSyncInfo()
		if _, seen := info.ActiveThreads[th.ID]; seen {
			continue
		}
		info.ActiveThreads[th.ID] = struct{}{}
		c.startMessageSyncForThread(parent, th)
	}
	return nil
}

// handleMessageUpsert implements MESSAGE_CREATE/MESSAGE_UPDATE: write the
// message, its attachments and any new reaction placements named in the
// rollup it carries, via perform_file_transaction when there's anything to
// download.
func (c *Controller) handleMessageUpsert(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	ctx := context.Background()
	_, err := c.writeComplexMessage(ctx, acc, raw)
	return err
}

// handleMessageDelete marks a message deleted.
func (c *Controller) handleMessageDelete(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	d, err := wire.DecodeMessageDelete(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode message delete: %w", err)
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	return c.store.Transact(func(tx *store.Tx) error {
		_, err := c.store.MarkMessageAsDeleted(tx, int64(d.ChannelID.AsType()), int64(d.ID.AsType()), timing)
		return err
	})
}

// handleReactionAdd implements add_reaction_placement. A constraint
// violation from an unknown referenced message is swallowed by the store
// layer, not here.
func (c *Controller) handleReactionAdd(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	if !c.opts.SyncReactions {
		return nil
	}
	r, err := wire.DecodeMessageReactionAdd(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode reaction add: %w", err)
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	reactionType := types.ReactionTypeNormal
	if r.Burst {
		reactionType = types.ReactionTypeBurst
	}
	return c.store.Transact(func(tx *store.Tx) error {
		return c.store.AddReactionPlacement(tx, int64(r.MessageID.AsType()), r.Emoji.Key(), reactionType, int64(r.UserID.AsType()), timing)
	})
}

// handleReactionRemove implements mark_reaction_as_removed for one user.
func (c *Controller) handleReactionRemove(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	if !c.opts.SyncReactions {
		return nil
	}
	r, err := wire.DecodeMessageReactionRemove(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode reaction remove: %w", err)
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	reactionType := types.ReactionTypeNormal
	if r.Burst {
		reactionType = types.ReactionTypeBurst
	}
	return c.store.Transact(func(tx *store.Tx) error {
		return c.store.MarkReactionAsRemoved(tx, int64(r.MessageID.AsType()), r.Emoji.Key(), reactionType, int64(r.UserID.AsType()), timing)
	})
}

// handleReactionRemoveEmoji clears every placement of one emoji.
func (c *Controller) handleReactionRemoveEmoji(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	if !c.opts.SyncReactions {
		return nil
	}
	r, err := wire.DecodeMessageReactionRemoveEmoji(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode reaction remove emoji: %w", err)
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	return c.store.Transact(func(tx *store.Tx) error {
		return c.store.MarkReactionsAsRemovedBulk(tx, int64(r.MessageID.AsType()), r.Emoji.Key(), timing)
	})
}

// handleReactionRemoveAll clears every reaction on the message.
func (c *Controller) handleReactionRemoveAll(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	if !c.opts.SyncReactions {
		return nil
	}
	r, err := wire.DecodeMessageReactionRemoveAll(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode reaction remove all: %w", err)
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)
	return c.store.Transact(func(tx *store.Tx) error {
		return c.store.MarkReactionsAsRemovedBulk(tx, int64(r.MessageID.AsType()), "", timing)
	})
}

func isThreadType(t types.ChannelType) bool {
	switch t {
	case types.ChannelTypeAnnouncementThread, types.ChannelTypePublicThread, types.ChannelTypePrivateThread:
		return true
	default:
		return false
	}
}
