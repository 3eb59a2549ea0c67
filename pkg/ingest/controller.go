// Package ingest implements the ingestion controller: the single main
// worker that turns gateway dispatch events and REST-paginated backfills
// into snapshot-store writes, keeping the in-memory permission mirror
// (pkg/cache) in step with the wire protocol.
//
// Its supervisory shape is modeled on pkg/reconciler's ticker-driven
// reconcile() cycle, generalized from "recheck node/container health"
// to "resume interrupted syncs and recompute stale permission state";
// its event-driven half is modeled on pkg/events.Broker's publish/
// subscribe shape, generalized from cluster lifecycle events to gateway
// dispatch kinds. Scheduling is cooperative multitasking on a single
// main worker: every call into accounts/cache/store from this package
// happens on the goroutine running Controller.Run; anything dispatched
// onto another goroutine (message syncs, thread enumeration) reports
// back only through the same work queue, never by touching the cache
// directly.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/chatvault/pkg/accounts"
	"github.com/cuemby/chatvault/pkg/blobstore"
	"github.com/cuemby/chatvault/pkg/cache"
	"github.com/cuemby/chatvault/pkg/gateway"
	"github.com/cuemby/chatvault/pkg/log"
	"github.com/cuemby/chatvault/pkg/metrics"
	"github.com/cuemby/chatvault/pkg/store"
	"github.com/cuemby/chatvault/pkg/types"
	"github.com/rs/zerolog"
)

const reconcileInterval = 10 * time.Second

// Options configures a Controller; it mirrors the `archive` command's
// flags.
type Options struct {
	// GuildFilter restricts ingestion to these guild ids; nil/empty means
	// every guild the accounts can see.
	GuildFilter map[types.Snowflake]bool
	SyncMessages bool
	SyncReactions bool
	SyncFiles bool
}

func (o Options) guildEligible(id types.Snowflake) bool {
	if len(o.GuildFilter) == 0 {
		return true
	}
	return o.GuildFilter[id]
}

// accountEvent tags a gateway event with the account it arrived on, the
// unit the controller's single work queue is built from.
type accountEvent struct {
	account *accounts.Account
	event   gateway.Event
}

// accountEnded is synthesized onto the work queue when an account's
// gateway Run loop exits for good (fatal close code, or ctx cancellation).
type accountEnded struct {
	account *accounts.Account
	err     error
}

// Controller is the single-goroutine owner of the in-memory mirror; all
// of its unexported handle* methods assume they run on Run's goroutine.
type Controller struct {
	store    *store.Store
	blobs    *blobstore.BlobStore
	cache    *cache.Cache
	registry *accounts.Registry
	logger   zerolog.Logger
	opts     Options

	abort  chan struct{}
	work   chan any
	wg     sync.WaitGroup

	// syncableGuilds tracks which guilds have completed initial sync and
	// are therefore candidates for reconcile()'s resume pass.
	syncableGuilds map[types.Snowflake]bool
}

// New constructs a Controller. Call Watch for every account it should
// ingest from, then Run to drive the main loop.
func New(st *store.Store, blobs *blobstore.BlobStore, registry *accounts.Registry, opts Options) *Controller {
	return &Controller{
		store:          st,
		blobs:          blobs,
		cache:          cache.New(),
		registry:       registry,
		logger:         log.WithComponent("ingest"),
		opts:           opts,
		abort:          make(chan struct{}),
		work:           make(chan any, 256),
		syncableGuilds: make(map[types.Snowflake]bool),
	}
}

// Watch starts forwarding acc's gateway events onto the controller's work
// queue, and reports its terminal Run error (if any) as an accountEnded
// item once its event channel closes.
func (c *Controller) Watch(acc *accounts.Account) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case ev, ok := <-acc.Gateway.Events():
				if !ok {
					err := <-acc.RunErr()
					c.submit(accountEnded{account: acc, err: err})
					return
				}
				c.submit(accountEvent{account: acc, event: ev})
			case <-c.abort:
				return
			}
		}
	}()
}

func (c *Controller) submit(item any) {
	select {
	case c.work <- item:
	case <-c.abort:
	}
}

// Run drives the work queue and the reconcile ticker until ctx is done or
// Shutdown is called.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case item := <-c.work:
			c.handle(item)
		case <-ticker.C:
			c.reconcile()
		case <-c.abort:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) handle(item any) {
	switch v := item.(type) {
	case accountEvent:
		c.handleAccountEvent(v.account, v.event)
	case accountEnded:
		c.handleAccountEnded(v.account, v.err)
	case syncFinished:
		c.handleSyncFinished(v)
	case archivedThreadsFound:
		c.handleArchivedThreadsFound(v)
	}
}

// handleSyncFinished reacts to a message/thread sync goroutine returning.
// A non-nil err here means the sync gave up on something other than the
// 403/404 hang (which never returns): a future reconcile pass picks the
// channel back up.
func (c *Controller) handleSyncFinished(v syncFinished) {
	if v.err != nil {
		c.logger.Warn().Err(v.err).Str("channel_id", sf(v.channel)).Msg("sync ended with error")
	}
}

func (c *Controller) handleAccountEvent(acc *accounts.Account, ev gateway.Event) {
	metrics.GatewayEventsTotal.WithLabelValues(ev.Payload.T).Inc()
	switch ev.Kind {
	case gateway.EventDispatch:
		c.dispatch(acc, ev.Payload, ev.Realtime)
	case gateway.EventSessionLost:
		c.handleSessionLost(acc)
	case gateway.EventConnecting, gateway.EventConnectionLost:
		c.logger.Info().Str("account_id", acc.ID).Int("kind", int(ev.Kind)).Int("close_code", ev.CloseCode).Msg("gateway state change")
	case gateway.EventError:
		c.logger.Warn().Str("account_id", acc.ID).Err(ev.Err).Msg("gateway error")
	}
}

// handleAccountEnded reacts to an account's gateway session ending for
// good (auth revoked or another fatal close) by disconnecting that
// account. It does not stop the controller or the process, even when the
// ended account was the last one registered.
func (c *Controller) handleAccountEnded(acc *accounts.Account, err error) {
	c.logger.Warn().Str("account_id", acc.ID).Err(err).Msg("account gateway session ended, disconnecting")
	c.disconnect(acc)
}

// reconcile is the ticker-driven half: recompute nothing itself (handlers
// already keep the mirror current) but resume any channel that has
// read-capable accounts and no running message sync, the idiomatic
// rendering of "resume interrupted syncs" for a process that may have
// missed starting one (e.g. a sync whose goroutine died without the
// controller noticing, or one that never got scheduled because no account
// was read-capable at the time).
func (c *Controller) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	if !c.opts.SyncMessages {
		return
	}
	for guildID := range c.syncableGuilds {
		g, ok := c.cache.Guild(guildID)
		if !ok {
			continue
		}
		for _, ch := range g.TextChannels {
			c.resumeChannelIfIdle(g, ch)
			c.resumeThreadListSyncIfIdle(ch)
		}
	}
}
