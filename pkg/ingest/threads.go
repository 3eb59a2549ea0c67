package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/chatvault/pkg/accounts"
	"github.com/cuemby/chatvault/pkg/cache"
	"github.com/cuemby/chatvault/pkg/metrics"
	"github.com/cuemby/chatvault/pkg/restclient"
	"github.com/cuemby/chatvault/pkg/store"
	"github.com/cuemby/chatvault/pkg/types"
	"github.com/cuemby/chatvault/pkg/wire"
)

var variantRoutes = map[accounts.ThreadVariant]restclient.Route{
	accounts.VariantPublic:        routeArchivedPublicThreads,
	accounts.VariantPrivate:       routeArchivedPrivateThreads,
	accounts.VariantJoinedPrivate: routeJoinedPrivateThreads,
}

// resumeThreadListSyncIfIdle is reconcile's archived-thread counterpart to
// resumeChannelIfIdle: for each of the three listing cursors, start an
// enumeration on a manage-threads-capable account if one exists and none
// is currently running for ch under that cursor.
func (c *Controller) resumeThreadListSyncIfIdle(ch *cache.CachedChannel) {
	accs := c.manageThreadsCapableAccounts(ch)
	if len(accs) == 0 {
		return
	}
	for variant := range variantRoutes {
		c.startThreadListSyncIfIdle(accs, ch, variant)
	}
}

func (c *Controller) startThreadListSyncIfIdle(accs []*accounts.Account, ch *cache.CachedChannel, variant accounts.ThreadVariant) {
	for _, acc := range accs {
		if acc.HasThreadListSync(ch.ID, variant) {
			return
		}
	}
	acc := accounts.LeastRESTBusy(accs)
	if acc == nil {
		return
	}
	c.startThreadListSync(acc, ch, variant)
}

// startThreadListSync registers and spawns variant's enumeration for ch on
// acc. Returns false if one is already running on acc.
func (c *Controller) startThreadListSync(acc *accounts.Account, ch *cache.CachedChannel, variant accounts.ThreadVariant) bool {
	op, ok := acc.StartThreadListSync(context.Background(), ch.ID, variant)
	if !ok {
		return false
	}
	go func() {
		err := c.syncAllArchivedThreads(op.Context(), acc, ch, variant)
		acc.FinishThreadListSync(ch.ID, variant, op)
		c.submit(syncFinished{channel: ch.ID, err: err})
	}()
	return true
}

// syncAllArchivedThreads implements sync_all_archived_threads:
// page channel's archived-thread listing (public, private, or
// joined-private per variant) from newest to oldest via the before
// cursor, writing every page's threads in one transaction and submitting
// each page back onto the work queue so message syncs for newly-seen
// threads get scheduled from Run's own goroutine, until the endpoint
// reports has_more=false.
func (c *Controller) syncAllArchivedThreads(ctx context.Context, acc *accounts.Account, ch *cache.CachedChannel, variant accounts.ThreadVariant) error {
	route := variantRoutes[variant]
	var before int64

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.abort:
			return nil
		default:
		}

		resp, err := acc.REST.Request(ctx, route, sf(ch.ID), archivedThreadsPath(route, ch.ID, before), restclient.FetchOpts{})
		if err != nil {
			return err
		}
		if resp.StatusCode == 403 || resp.StatusCode == 404 {
			return nil
		}
		if resp.StatusCode != 200 {
			return fmt.Errorf("ingest: archived threads page status %d", resp.StatusCode)
		}

		page, err := wire.DecodeArchivedThreadsPage(resp.Body)
		if err != nil {
			return fmt.Errorf("ingest: decode archived threads page: %w", err)
		}

		threads := make([]*types.Thread, 0, len(page.Threads))
		for _, raw := range page.Threads {
			th, err := wire.DecodeThread(raw, 0)
			if err != nil {
				return fmt.Errorf("ingest: decode archived thread: %w", err)
			}
			threads = append(threads, th)
		}
		if len(threads) == 0 {
			return nil
		}

		timing := store.EncodeTiming(time.Now().UnixMilli(), false)
		err = c.store.Transact(func(tx *store.Tx) error {
			for _, th := range threads {
				if _, werr := c.store.AddThreadSnapshot(tx, th, timing); werr != nil {
					return werr
				}
				metrics.ObjectsWrittenTotal.WithLabelValues("thread").Inc()
			}
			return nil
		})
		if err != nil {
			return err
		}

		c.submit(archivedThreadsFound{parent: ch.ID, threads: threads})

		last := threads[len(threads)-1]
		before = int64(last.ID)
		if !page.HasMore {
			return nil
		}
	}
}

// archivedThreadsFound carries a page of newly-listed archived threads
// back onto the work queue so message syncs are started from Run's own
// goroutine rather than the enumeration goroutine touching the mirror
// directly.
type archivedThreadsFound struct {
	parent  types.Snowflake
	threads []*types.Thread
}

func (c *Controller) handleArchivedThreadsFound(v archivedThreadsFound) {
	if !c.opts.SyncMessages {
		return
	}
	for _, th := range v.threads {
		cg, ok := c.cache.Guild(th.GuildID)
		if !ok {
			continue
		}
		parent, ok := cg.Channel(v.parent)
		if !ok {
			continue
		}
		info := parent.EnsureSyncInfo()
		if _, seen := info.ActiveThreads[th.ID]; seen {
			continue
		}
		acc := accounts.LeastRESTBusy(c.readCapableAccounts(parent))
		if acc == nil {
			continue
		}
		key := accounts.ChannelKey{ParentChannel: parent.ID, Channel: th.ID}
		private := th.Type == types.ChannelTypePrivateThread
		if c.startMessageSync(acc, key, private, th.LastMessageID) {
			info.ActiveThreads[th.ID] = struct{}{}
		}
	}
}
