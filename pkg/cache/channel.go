package cache

import (
	"github.com/cuemby/chatvault/pkg/permissions"
	"github.com/cuemby/chatvault/pkg/types"
)

// SyncInfo tracks a channel's active archived-thread sync state; present
// only on channels currently being synced.
type SyncInfo struct {
	ActiveThreads map[types.Snowflake]struct{}
}

// CachedChannel mirrors one text-like channel's permission-relevant state.
type CachedChannel struct {
	ID       types.Snowflake
	Name     string
	Type     types.ChannelType
	ParentID types.Snowflake

	// PermissionOverwrites is keyed by role id or member id; the
	// @everyone entry is keyed by the guild's id (role id == guild id).
	PermissionOverwrites map[types.Snowflake]permissions.Overwrite

	AccountsWithRead          map[string]struct{}
	AccountsWithManageThreads map[string]struct{}

	// LastMessageID mirrors the channel's own last_message_id, so a resumed
	// backfill (reconcile, not initial bring-up) still has an upstream
	// bound to report progress against.
	LastMessageID types.Snowflake

	SyncInfo *SyncInfo
}

// NewCachedChannel constructs a CachedChannel with its sets initialized.
func NewCachedChannel(id, parentID types.Snowflake, name string, typ types.ChannelType) *CachedChannel {
	return &CachedChannel{
		ID:                        id,
		Name:                      name,
		Type:                      typ,
		ParentID:                  parentID,
		PermissionOverwrites:      make(map[types.Snowflake]permissions.Overwrite),
		AccountsWithRead:          make(map[string]struct{}),
		AccountsWithManageThreads: make(map[string]struct{}),
	}
}

// HasAccountRead reports whether accountKey currently has read access.
func (ch *CachedChannel) HasAccountRead(accountKey string) bool {
	_, ok := ch.AccountsWithRead[accountKey]
	return ok
}

// SetAccountRead adds or removes accountKey from the read set, returning
// whether membership changed.
func (ch *CachedChannel) SetAccountRead(accountKey string, read bool) bool {
	_, had := ch.AccountsWithRead[accountKey]
	if read == had {
		return false
	}
	if read {
		ch.AccountsWithRead[accountKey] = struct{}{}
	} else {
		delete(ch.AccountsWithRead, accountKey)
	}
	return true
}

// SetAccountManageThreads adds or removes accountKey from the
// manage-threads set, returning whether membership changed.
func (ch *CachedChannel) SetAccountManageThreads(accountKey string, can bool) bool {
	_, had := ch.AccountsWithManageThreads[accountKey]
	if can == had {
		return false
	}
	if can {
		ch.AccountsWithManageThreads[accountKey] = struct{}{}
	} else {
		delete(ch.AccountsWithManageThreads, accountKey)
	}
	return true
}

// ReadAccounts returns the keys currently holding read access.
func (ch *CachedChannel) ReadAccounts() []string {
	out := make([]string, 0, len(ch.AccountsWithRead))
	for k := range ch.AccountsWithRead {
		out = append(out, k)
	}
	return out
}

// EnsureSyncInfo lazily creates and returns the channel's SyncInfo.
func (ch *CachedChannel) EnsureSyncInfo() *SyncInfo {
	if ch.SyncInfo == nil {
		ch.SyncInfo = &SyncInfo{ActiveThreads: make(map[types.Snowflake]struct{})}
	}
	return ch.SyncInfo
}

// ComputePermissions computes accountID's effective bitset for this
// channel given its guild-wide bitset and the roles it holds.
func (ch *CachedChannel) ComputePermissions(accountID types.Snowflake, everyoneRoleID types.Snowflake, guildPerms permissions.Flag, accountRoleIDs []types.Snowflake) permissions.Flag {
	return permissions.ChannelPermissions(accountID, everyoneRoleID, guildPerms, ch.PermissionOverwrites, accountRoleIDs)
}
