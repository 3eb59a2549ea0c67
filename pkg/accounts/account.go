// Package accounts implements a multi-account registry: one record per
// authenticated account holding its REST client, gateway connection, the
// running-operation sets ingestion schedules work into, and the
// back-reference set that lets disconnect remove the account from every
// cached channel in O(ongoing refs). Modeled on a least-loaded linear
// scan scheduler (there: fewest containers per node; here: fewest
// ongoing ops per account) and per-node bookkeeping, generalized to an
// arena design for the account↔channel cyclic references.
package accounts

import (
	"context"
	"sync"

	"github.com/cuemby/chatvault/pkg/gateway"
	"github.com/cuemby/chatvault/pkg/log"
	"github.com/cuemby/chatvault/pkg/restclient"
	"github.com/cuemby/chatvault/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ThreadVariant is one of the three archived-thread listing cursors a
// channel is enumerated under.
type ThreadVariant int

const (
	VariantPublic ThreadVariant = iota
	VariantPrivate
	VariantJoinedPrivate
)

// Side distinguishes which cached_channel set a back-reference lives in,
// so Disconnect knows which set to remove the account from without the
// accounts package needing to know about pkg/cache's internal layout.
type Side int

const (
	SideRead Side = iota
	SideManageThreads
)

// Reference is one entry in an account's back-reference list: "this
// account is present in channel ChannelID's Side set". Disconnect walks
// this list and asks the caller-supplied hook to remove it, giving O(len
// of this account's own refs) cleanup instead of a scan over every
// cached channel.
type Reference struct {
	ChannelID types.Snowflake
	Side      Side
}

// ChannelKey identifies one message-sync target: a channel or thread, and
// the channel it is paginated/rate-limited under (its own id for a plain
// channel, its parent channel for a thread).
type ChannelKey struct {
	ParentChannel types.Snowflake
	Channel       types.Snowflake
}

// Options configures Register.
type Options struct {
	ID         string
	Token      string
	Bot        bool
	GatewayURL string
	Intents    int64
	RESTOpts   []restclient.Option
	Dialer     *websocket.Dialer // nil uses gateway's default
}

// Account is one authenticated identity's full ingestion state: its REST
// client, gateway connection, the running operations ingestion has
// scheduled onto it, and its back-reference set.
type Account struct {
	ID  string
	Bot bool

	REST    *restclient.Client
	Gateway *gateway.Connection

	logger zerolog.Logger

	mu                   sync.Mutex
	restOps              int
	gatewayOps           int
	messageSyncsPublic   map[ChannelKey]*Operation
	messageSyncsPrivate  map[ChannelKey]*Operation
	threadListSyncs      map[types.Snowflake]map[ThreadVariant]*Operation
	memberRequests       map[types.Snowflake]*Operation
	refs                 []Reference
	wg                   sync.WaitGroup

	readyOnce           sync.Once
	readyCh             chan struct{}
	guildCreateExpected int
	guildCreateSeen     int
	guildCreateKnown    bool

	runErr chan error

	userID types.Snowflake
}

func newAccount(opts Options) *Account {
	gwOpts := gateway.Options{
		AccountID: opts.ID,
		URL:       opts.GatewayURL,
		Token:     opts.Token,
		Intents:   opts.Intents,
		Dialer:    opts.Dialer,
	}

	return &Account{
		ID:                  opts.ID,
		Bot:                 opts.Bot,
		REST:                restclient.New(opts.ID, opts.Token, opts.RESTOpts...),
		Gateway:             gateway.New(gwOpts),
		logger:              log.WithAccount(opts.ID),
		messageSyncsPublic:  make(map[ChannelKey]*Operation),
		messageSyncsPrivate: make(map[ChannelKey]*Operation),
		threadListSyncs:     make(map[types.Snowflake]map[ThreadVariant]*Operation),
		memberRequests:      make(map[types.Snowflake]*Operation),
		readyCh:             make(chan struct{}),
		runErr:              make(chan error, 1),
	}
}

// RunErr resolves to the error Gateway.Run exited with, once Events() has
// closed. Reading from it after observing Events() close never blocks
// long: Register's goroutine sends here immediately after Run returns.
func (a *Account) RunErr() <-chan error { return a.runErr }

// SetUserID records the account's own Discord user id, learned from its
// READY dispatch. Needed for guild-owner and self-member permission
// computation.
func (a *Account) SetUserID(id types.Snowflake) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userID = id
}

// UserID returns the account's own Discord user id, or 0 before READY.
func (a *Account) UserID() types.Snowflake {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

// Ready is closed once READY has arrived and, for bot accounts, every
// GUILD_CREATE the READY payload promised has been observed (via
// ObserveGuildCreate/ObserveReadyGuildCount).
func (a *Account) Ready() <-chan struct{} { return a.readyCh }

// ObserveReadyGuildCount records how many GUILD_CREATE events the READY
// dispatch's guild list promises; the ingestion controller calls this
// once, when it handles READY. Non-bot accounts never call this and
// Ready() closes as soon as the controller calls MarkReady directly.
func (a *Account) ObserveReadyGuildCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.guildCreateExpected = n
	a.guildCreateKnown = true
	a.maybeSignalReadyLocked()
}

// ObserveGuildCreate records one GUILD_CREATE having been fully processed.
func (a *Account) ObserveGuildCreate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.guildCreateSeen++
	a.maybeSignalReadyLocked()
}

// MarkReady signals Ready immediately, for accounts with no bring-up to
// wait on (non-bot accounts, whose READY carries no guild list).
func (a *Account) MarkReady() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readyOnce.Do(func() { close(a.readyCh) })
}

func (a *Account) maybeSignalReadyLocked() {
	if a.guildCreateKnown && a.guildCreateSeen >= a.guildCreateExpected {
		a.readyOnce.Do(func() { close(a.readyCh) })
	}
}

// RESTOps returns the account's current count of ongoing REST-bound
// operations, used by the least-busy scan to balance new work.
func (a *Account) RESTOps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.restOps
}

// GatewayOps returns the account's current count of ongoing gateway-bound
// operations.
func (a *Account) GatewayOps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gatewayOps
}

// StartMessageSync registers and returns an Operation for syncing
// channel/thread key, tracked in the public or private thread map per
// private. Returns false if a sync for this key is already running.
func (a *Account) StartMessageSync(ctx context.Context, key ChannelKey, private bool) (*Operation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.messageSyncsPublic
	if private {
		m = a.messageSyncsPrivate
	}
	if _, exists := m[key]; exists {
		return nil, false
	}
	op := newOperation(ctx)
	m[key] = op
	a.restOps++
	a.wg.Add(1)
	return op, true
}

// FinishMessageSync removes the completed sync from its running-op map.
func (a *Account) FinishMessageSync(key ChannelKey, private bool, op *Operation) {
	a.mu.Lock()
	m := a.messageSyncsPublic
	if private {
		m = a.messageSyncsPrivate
	}
	delete(m, key)
	a.restOps--
	a.mu.Unlock()
	op.finish()
	a.wg.Done()
}

// MessageSync returns the running operation for key, if any.
func (a *Account) MessageSync(key ChannelKey, private bool) (*Operation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.messageSyncsPublic
	if private {
		m = a.messageSyncsPrivate
	}
	op, ok := m[key]
	return op, ok
}

// StartThreadListSync registers an Operation for enumerating channel's
// archived threads under variant. Returns false if already running.
func (a *Account) StartThreadListSync(ctx context.Context, channel types.Snowflake, variant ThreadVariant) (*Operation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	byVariant, ok := a.threadListSyncs[channel]
	if !ok {
		byVariant = make(map[ThreadVariant]*Operation)
		a.threadListSyncs[channel] = byVariant
	}
	if _, exists := byVariant[variant]; exists {
		return nil, false
	}
	op := newOperation(ctx)
	byVariant[variant] = op
	a.restOps++
	a.wg.Add(1)
	return op, true
}

// HasThreadListSync reports whether variant's enumeration is currently
// running for channel.
func (a *Account) HasThreadListSync(channel types.Snowflake, variant ThreadVariant) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	byVariant, ok := a.threadListSyncs[channel]
	if !ok {
		return false
	}
	_, ok = byVariant[variant]
	return ok
}

// FinishThreadListSync removes the completed enumeration.
func (a *Account) FinishThreadListSync(channel types.Snowflake, variant ThreadVariant, op *Operation) {
	a.mu.Lock()
	if byVariant, ok := a.threadListSyncs[channel]; ok {
		delete(byVariant, variant)
		if len(byVariant) == 0 {
			delete(a.threadListSyncs, channel)
		}
	}
	a.restOps--
	a.mu.Unlock()
	op.finish()
	a.wg.Done()
}

// StartMemberRequest registers an in-flight GUILD_MEMBERS_CHUNK request
// for guild. Returns false if one is already outstanding.
func (a *Account) StartMemberRequest(ctx context.Context, guild types.Snowflake) (*Operation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.memberRequests[guild]; exists {
		return nil, false
	}
	op := newOperation(ctx)
	a.memberRequests[guild] = op
	a.gatewayOps++
	a.wg.Add(1)
	return op, true
}

// FinishMemberRequest drops the member request counter for guild.
func (a *Account) FinishMemberRequest(guild types.Snowflake, op *Operation) {
	a.mu.Lock()
	delete(a.memberRequests, guild)
	a.gatewayOps--
	a.mu.Unlock()
	op.finish()
	a.wg.Done()
}

// HasMemberRequest reports whether a member request is outstanding for guild.
func (a *Account) HasMemberRequest(guild types.Snowflake) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.memberRequests[guild]
	return ok
}

// AddReference records that this account was added to channel's Side set,
// so Disconnect can remove it in O(references) rather than scanning every
// cached channel.
func (a *Account) AddReference(channel types.Snowflake, side Side) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refs = append(a.refs, Reference{ChannelID: channel, Side: side})
}

// RemoveReference drops one matching reference, if present (channel
// deletion and permission loss both shrink this list without a full
// disconnect).
func (a *Account) RemoveReference(channel types.Snowflake, side Side) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, ref := range a.refs {
		if ref.ChannelID == channel && ref.Side == side {
			a.refs = append(a.refs[:i], a.refs[i+1:]...)
			return
		}
	}
}

// References returns a snapshot of the account's current back-references.
func (a *Account) References() []Reference {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Reference, len(a.refs))
	copy(out, a.refs)
	return out
}

// cancelAll cancels every running operation without waiting for them to
// finish; callers wait on wg separately.
func (a *Account) cancelAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, op := range a.messageSyncsPublic {
		op.Cancel()
	}
	for _, op := range a.messageSyncsPrivate {
		op.Cancel()
	}
	for _, byVariant := range a.threadListSyncs {
		for _, op := range byVariant {
			op.Cancel()
		}
	}
	for _, op := range a.memberRequests {
		op.Cancel()
	}
}
