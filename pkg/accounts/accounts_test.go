package accounts

import (
	"context"
	"testing"

	"github.com/cuemby/chatvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount(t *testing.T, id string) *Account {
	t.Helper()
	acc := newAccount(Options{ID: id, Token: "tok", GatewayURL: "ws://127.0.0.1:0"})
	return acc
}

func TestStartMessageSyncRejectsDuplicateKey(t *testing.T) {
	acc := testAccount(t, "a1")
	key := ChannelKey{ParentChannel: 1, Channel: 1}

	op1, ok := acc.StartMessageSync(context.Background(), key, false)
	require.True(t, ok)
	require.NotNil(t, op1)

	op2, ok := acc.StartMessageSync(context.Background(), key, false)
	assert.False(t, ok)
	assert.Nil(t, op2)

	assert.Equal(t, 1, acc.RESTOps())
	acc.FinishMessageSync(key, false, op1)
	assert.Equal(t, 0, acc.RESTOps())
}

func TestMessageSyncPublicAndPrivateAreIndependentMaps(t *testing.T) {
	acc := testAccount(t, "a1")
	key := ChannelKey{ParentChannel: 1, Channel: 1}

	_, ok := acc.StartMessageSync(context.Background(), key, false)
	require.True(t, ok)
	op, ok := acc.StartMessageSync(context.Background(), key, true)
	require.True(t, ok)
	require.NotNil(t, op)
	assert.Equal(t, 2, acc.RESTOps())
}

func TestThreadListSyncPerVariant(t *testing.T) {
	acc := testAccount(t, "a1")
	channel := types.Snowflake(10)

	pub, ok := acc.StartThreadListSync(context.Background(), channel, VariantPublic)
	require.True(t, ok)
	_, ok = acc.StartThreadListSync(context.Background(), channel, VariantPublic)
	assert.False(t, ok, "same variant twice should be rejected")

	priv, ok := acc.StartThreadListSync(context.Background(), channel, VariantPrivate)
	require.True(t, ok)

	acc.FinishThreadListSync(channel, VariantPublic, pub)
	acc.FinishThreadListSync(channel, VariantPrivate, priv)
	assert.Equal(t, 0, acc.RESTOps())
}

func TestMemberRequestLifecycle(t *testing.T) {
	acc := testAccount(t, "a1")
	guild := types.Snowflake(5)

	assert.False(t, acc.HasMemberRequest(guild))
	op, ok := acc.StartMemberRequest(context.Background(), guild)
	require.True(t, ok)
	assert.True(t, acc.HasMemberRequest(guild))
	assert.Equal(t, 1, acc.GatewayOps())

	acc.FinishMemberRequest(guild, op)
	assert.False(t, acc.HasMemberRequest(guild))
	assert.Equal(t, 0, acc.GatewayOps())
}

func TestReadyClosesOnceGuildCreatesAreAllSeen(t *testing.T) {
	acc := testAccount(t, "a1")
	acc.Bot = true
	acc.ObserveReadyGuildCount(2)

	select {
	case <-acc.Ready():
		t.Fatal("ready closed before any GUILD_CREATE observed")
	default:
	}

	acc.ObserveGuildCreate()
	select {
	case <-acc.Ready():
		t.Fatal("ready closed after only 1 of 2 GUILD_CREATE")
	default:
	}

	acc.ObserveGuildCreate()
	select {
	case <-acc.Ready():
	default:
		t.Fatal("ready did not close after all GUILD_CREATE observed")
	}
}

func TestMarkReadyForNonBotAccount(t *testing.T) {
	acc := testAccount(t, "a1")
	select {
	case <-acc.Ready():
		t.Fatal("ready closed before MarkReady")
	default:
	}
	acc.MarkReady()
	select {
	case <-acc.Ready():
	default:
		t.Fatal("ready did not close after MarkReady")
	}
}

func TestReferencesAddRemove(t *testing.T) {
	acc := testAccount(t, "a1")
	acc.AddReference(1, SideRead)
	acc.AddReference(2, SideManageThreads)
	assert.Len(t, acc.References(), 2)

	acc.RemoveReference(1, SideRead)
	refs := acc.References()
	require.Len(t, refs, 1)
	assert.Equal(t, types.Snowflake(2), refs[0].ChannelID)
}

func TestLeastRESTBusyPicksSmallestCounter(t *testing.T) {
	a1 := testAccount(t, "a1")
	a2 := testAccount(t, "a2")

	_, ok := a1.StartMessageSync(context.Background(), ChannelKey{Channel: 1}, false)
	require.True(t, ok)
	_, ok = a1.StartMessageSync(context.Background(), ChannelKey{Channel: 2}, false)
	require.True(t, ok)

	best := LeastRESTBusy([]*Account{a1, a2})
	assert.Equal(t, a2, best)
}

func TestLeastRESTBusyEmpty(t *testing.T) {
	assert.Nil(t, LeastRESTBusy(nil))
}

func TestDisconnectCancelsAwaitsAndRemovesReferences(t *testing.T) {
	r := NewRegistry()
	acc, err := r.Register(context.Background(), Options{ID: "a1", Token: "tok", GatewayURL: "ws://127.0.0.1:0"})
	require.NoError(t, err)

	acc.AddReference(1, SideRead)
	op, ok := acc.StartMessageSync(context.Background(), ChannelKey{Channel: 1}, false)
	require.True(t, ok)

	go func() {
		<-op.Context().Done()
		acc.FinishMessageSync(ChannelKey{Channel: 1}, false, op)
	}()

	var removed []Reference
	r.Disconnect(acc, func(ref Reference) { removed = append(removed, ref) })

	require.Len(t, removed, 1)
	assert.Equal(t, types.Snowflake(1), removed[0].ChannelID)
	_, ok = r.Get("a1")
	assert.False(t, ok)
}
