package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/chatvault/pkg/accounts"
	"github.com/cuemby/chatvault/pkg/blobstore"
	"github.com/cuemby/chatvault/pkg/cache"
	"github.com/cuemby/chatvault/pkg/metrics"
	"github.com/cuemby/chatvault/pkg/permissions"
	"github.com/cuemby/chatvault/pkg/restclient"
	"github.com/cuemby/chatvault/pkg/store"
	"github.com/cuemby/chatvault/pkg/types"
	"github.com/cuemby/chatvault/pkg/wire"
)

// handleGuildCreate implements the initial bring-up transaction: decode
// the guild, its roles, channels and active threads, write
// a snapshot of each plus the guild icon, sync-delete any role/channel no
// longer present, populate the permission mirror for the receiving
// account, and kick off message syncs on every text-like channel and
// active thread it can read.
func (c *Controller) handleGuildCreate(acc *accounts.Account, raw json.RawMessage, realtime bool) error {
	gc, err := wire.DecodeGuildCreate(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode guild_create: %w", err)
	}
	guildID := gc.ID.AsType()
	if !c.opts.guildEligible(guildID) {
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.InitialSyncDuration, sf(guildID))

	guild, err := wire.DecodeGuild(raw)
	if err != nil {
		return fmt.Errorf("ingest: decode guild: %w", err)
	}

	roles := make([]*types.Role, 0, len(gc.Roles))
	for _, rr := range gc.Roles {
		r, err := wire.DecodeRole(rr, guildID)
		if err != nil {
			return fmt.Errorf("ingest: decode role: %w", err)
		}
		roles = append(roles, r)
	}

	channels := make([]*types.Channel, 0, len(gc.Channels))
	for _, rc := range gc.Channels {
		ch, err := wire.DecodeChannel(rc, guildID)
		if err != nil {
			return fmt.Errorf("ingest: decode channel: %w", err)
		}
		channels = append(channels, ch)
	}

	threads := make([]*types.Thread, 0, len(gc.Threads))
	for _, rt := range gc.Threads {
		th, err := wire.DecodeThread(rt, guildID)
		if err != nil {
			return fmt.Errorf("ingest: decode thread: %w", err)
		}
		threads = append(threads, th)
	}

	ctx := context.Background()

	var downloads []*blobstore.CurrentDownload
	iconURL := wire.GuildIconURL(guildID, guild.Icon)
	if c.opts.SyncFiles && iconURL != "" {
		downloads = append(downloads, c.blobs.DownloadIfNeeded(ctx, iconURL, iconURL, c.knownURL()))
	}

	var selfMember *types.Member
	if acc.UserID() != 0 {
		selfMember, err = c.fetchSelfMember(ctx, acc, guildID)
		if err != nil {
			return err
		}
	}

	timing := store.EncodeTiming(time.Now().UnixMilli(), realtime)

	dbWork := func(tx *store.Tx) error {
		if _, err := c.store.AddGuildSnapshot(tx, guild, timing); err != nil {
			return err
		}
		metrics.ObjectsWrittenTotal.WithLabelValues("guild").Inc()

		presentRoleIDs := make([]int64, 0, len(roles))
		for _, r := range roles {
			if _, err := c.store.AddRoleSnapshot(tx, r, timing); err != nil {
				return err
			}
			metrics.ObjectsWrittenTotal.WithLabelValues("role").Inc()
			presentRoleIDs = append(presentRoleIDs, int64(r.ID))
		}
		if err := c.store.SyncDeletions(tx, store.KindRole, int64(guildID), presentRoleIDs, timing); err != nil {
			return err
		}

		presentChannelIDs := make([]int64, 0, len(channels))
		for _, ch := range channels {
			if _, err := c.store.AddChannelSnapshot(tx, ch, timing); err != nil {
				return err
			}
			metrics.ObjectsWrittenTotal.WithLabelValues("channel").Inc()
			presentChannelIDs = append(presentChannelIDs, int64(ch.ID))
		}
		if err := c.store.SyncDeletions(tx, store.KindChannel, int64(guildID), presentChannelIDs, timing); err != nil {
			return err
		}

		for _, th := range threads {
			if _, err := c.store.AddThreadSnapshot(tx, th, timing); err != nil {
				return err
			}
			metrics.ObjectsWrittenTotal.WithLabelValues("thread").Inc()
		}

		if selfMember != nil {
			if _, err := c.store.AddMemberSnapshot(tx, selfMember, timing, false); err != nil {
				return err
			}
			metrics.ObjectsWrittenTotal.WithLabelValues("member").Inc()
		}

		for _, d := range downloads {
			_, hash, _, errorCode, derr := d.Await()
			if derr != nil {
				return derr
			}
			if uerr := c.store.UpsertFile(tx, d.URL, hash, errorCode, timing.UnixMilli()); uerr != nil {
				return uerr
			}
		}
		return nil
	}

	if err := c.blobs.PerformFileTransaction(c.store, c.abort, downloads, dbWork); err != nil {
		return err
	}

	c.mirrorGuildBringUp(acc, guildID, guild, roles, channels, threads, selfMember)
	c.syncableGuilds[guildID] = true
	return nil
}

// mirrorGuildBringUp updates the permission mirror and schedules message
// syncs once the bring-up transaction has committed. Only acc's own
// permissions are computed here: the other accounts sharing this guild
// get theirs recomputed the same way when their own GUILD_CREATE arrives.
func (c *Controller) mirrorGuildBringUp(acc *accounts.Account, guildID types.Snowflake, guild *types.Guild, roles []*types.Role, channels []*types.Channel, threads []*types.Thread, selfMember *types.Member) {
	cg := c.cache.PutGuild(guildID)
	cg.Name = guild.Name
	cg.OwnerID = guild.OwnerID
	for _, r := range roles {
		cg.RolePermissions[r.ID] = permissions.Flag(r.Permissions)
	}

	var ownRoleIDs []types.Snowflake
	if selfMember != nil {
		ownRoleIDs = selfMember.RoleIDs
	}
	guildPerms := cg.RecomputeGuildPermissions(acc.ID, acc.UserID(), ownRoleIDs)

	for _, ch := range channels {
		if !isTextLike(ch.Type) {
			continue
		}
		cc, existed := cg.Channel(ch.ID)
		if !existed {
			cc = cache.NewCachedChannel(ch.ID, ch.ParentID, ch.Name, ch.Type)
		}
		cc.Name = ch.Name
		cc.ParentID = ch.ParentID
		cc.Type = ch.Type
		cc.PermissionOverwrites = overwritesToMap(ch.Overwrites)
		cg.PutChannel(cc)
		c.applyChannelPermissions(acc, cg, cc, guildPerms, ownRoleIDs)
	}

	if !c.opts.SyncMessages {
		return
	}
	for _, ch := range channels {
		if !isTextLike(ch.Type) {
			continue
		}
		cc, _ := cg.Channel(ch.ID)
		c.startMessageSyncIfCapable(cc, ch.ID, ch.LastMessageID)
	}
	for _, th := range threads {
		parent, ok := cg.Channel(th.ParentID)
		if !ok {
			continue
		}
		c.startMessageSyncForThread(parent, th)
	}
}

// resumeChannelIfIdle is reconcile's per-channel check: if ch has at least
// one read-capable account and no message sync currently running for it
// on any of them, start one. This is how a sync that died without the
// controller noticing (or one that was never scheduled because no account
// was read-capable yet) gets picked back up.
func (c *Controller) resumeChannelIfIdle(g *cache.CachedGuild, ch *cache.CachedChannel) {
	accs := c.readCapableAccounts(ch)
	if len(accs) == 0 {
		return
	}
	key := accounts.ChannelKey{ParentChannel: ch.ID, Channel: ch.ID}
	for _, acc := range accs {
		if _, running := acc.MessageSync(key, false); running {
			return
		}
	}
	acc := accounts.LeastRESTBusy(accs)
	if acc == nil {
		return
	}
	c.startMessageSync(acc, key, false, ch.LastMessageID)
}

// startMessageSyncIfCapable records channelID's current last_message_id on
// cc and starts a sync on its least-busy read-capable account, if any.
func (c *Controller) startMessageSyncIfCapable(cc *cache.CachedChannel, channelID, lastMessageID types.Snowflake) {
	if cc == nil {
		return
	}
	cc.LastMessageID = lastMessageID
	acc := accounts.LeastRESTBusy(c.readCapableAccounts(cc))
	if acc == nil {
		return
	}
	key := accounts.ChannelKey{ParentChannel: channelID, Channel: channelID}
	c.startMessageSync(acc, key, false, lastMessageID)
}

// startMessageSyncForThread starts th's backfill under parent's read-
// capable accounts — a thread's read permission is inherited from its
// parent channel, it carries no overwrites of its own.
func (c *Controller) startMessageSyncForThread(parent *cache.CachedChannel, th *types.Thread) {
	acc := accounts.LeastRESTBusy(c.readCapableAccounts(parent))
	if acc == nil {
		return
	}
	private := th.Type == types.ChannelTypePrivateThread
	key := accounts.ChannelKey{ParentChannel: parent.ID, Channel: th.ID}
	c.startMessageSync(acc, key, private, th.LastMessageID)
}

// applyChannelPermissions recomputes acc's effective bitset for cc and
// updates its read/manage-threads membership sets plus acc's matching
// back-references.
func (c *Controller) applyChannelPermissions(acc *accounts.Account, cg *cache.CachedGuild, cc *cache.CachedChannel, guildPerms permissions.Flag, roleIDs []types.Snowflake) {
	effective := cc.ComputePermissions(acc.UserID(), cg.EveryoneRoleID(), guildPerms, roleIDs)

	canRead := permissions.Has(effective, permissions.ViewChannel)
	if cc.SetAccountRead(acc.ID, canRead) {
		if canRead {
			acc.AddReference(cc.ID, accounts.SideRead)
		} else {
			acc.RemoveReference(cc.ID, accounts.SideRead)
		}
	}

	canManageThreads := permissions.Has(effective, permissions.ManageThreads)
	if cc.SetAccountManageThreads(acc.ID, canManageThreads) {
		if canManageThreads {
			acc.AddReference(cc.ID, accounts.SideManageThreads)
		} else {
			acc.RemoveReference(cc.ID, accounts.SideManageThreads)
		}
	}
}

// fetchSelfMember fetches acc's own member object in guildID, used for the
// role ids permission computation needs. Returns (nil, nil) if the
// endpoint reports acc isn't (or is no longer) a member.
func (c *Controller) fetchSelfMember(ctx context.Context, acc *accounts.Account, guildID types.Snowflake) (*types.Member, error) {
	resp, err := acc.REST.Request(ctx, routeSelfGuildMember, sf(guildID), selfMemberPath(guildID), restclient.FetchOpts{})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, nil
	}
	member, _, err := wire.DecodeMember(resp.Body, guildID)
	if err != nil {
		return nil, fmt.Errorf("ingest: decode self member: %w", err)
	}
	return member, nil
}

func isTextLike(t types.ChannelType) bool {
	switch t {
	case types.ChannelTypeGuildText, types.ChannelTypeGuildAnnouncement, types.ChannelTypeGuildForum:
		return true
	default:
		return false
	}
}

func overwritesToMap(in []types.PermissionOverwrite) map[types.Snowflake]permissions.Overwrite {
	out := make(map[types.Snowflake]permissions.Overwrite, len(in))
	for _, o := range in {
		out[o.ID] = permissions.Overwrite{Allow: permissions.Flag(o.Allow), Deny: permissions.Flag(o.Deny)}
	}
	return out
}
