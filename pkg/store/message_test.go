package store

import (
	"testing"

	"github.com/cuemby/chatvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMessageSnapshotFirstWrite(t *testing.T) {
	s := openTestStore(t)

	var res AddSnapshotResult
	require.NoError(t, s.Transact(func(tx *Tx) error {
		var err error
		res, err = s.AddMessageSnapshot(tx, messageFixture(1, 100, "hello"), EncodeTiming(100, true))
		return err
	}))
	assert.Equal(t, AddedFirst, res)
}

func TestAddMessageSnapshotEmbedOnlyUpdateForStaleTiming(t *testing.T) {
	s := openTestStore(t)

	msg := messageFixture(1, 100, "hello")
	require.NoError(t, s.Transact(func(tx *Tx) error {
		_, err := s.AddMessageSnapshot(tx, msg, EncodeTiming(200, true))
		return err
	}))

	stale := messageFixture(1, 100, "hello")
	var res AddSnapshotResult
	require.NoError(t, s.Transact(func(tx *Tx) error {
		var err error
		res, err = s.AddMessageSnapshot(tx, stale, EncodeTiming(150, true))
		return err
	}))
	assert.Equal(t, SameAsLatest, res, "non-increasing timing on an existing message is an embed-only update")

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT content FROM latest_message_snapshots WHERE channel_id = 1 AND id = 100`)
		var content string
		if err := row.Scan(&content); err != nil {
			return nil, err
		}
		return content, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", v, "content is untouched by an embed-only update")
}

func TestAddMessageSnapshotIndexesForSearch(t *testing.T) {
	s := openTestStore(t)

	msg := messageFixture(1, 100, "deploy failed again")
	msg.Extra["_search_author_name"] = "alice"
	msg.Extra["_search_channel_name"] = "ops"
	msg.Extra["_search_guild_name"] = "acme"

	require.NoError(t, s.Transact(func(tx *Tx) error {
		_, err := s.AddMessageSnapshot(tx, msg, EncodeTiming(100, true))
		return err
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		return s.SearchMessages(tx, "deploy", "[[", "]]")
	})
	require.NoError(t, err)
	results := v.([]SearchResult)
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].AuthorName)
	assert.Contains(t, results[0].Highlighted, "[[deploy]]")
}

func TestLastMessageIDTracksResumePoint(t *testing.T) {
	s := openTestStore(t)

	v, err := s.Read(func(tx *Tx) (any, error) {
		_, ok, err := s.LastMessageID(tx, 1)
		return ok, err
	})
	require.NoError(t, err)
	assert.Equal(t, false, v, "a channel with no messages has no resume point")

	require.NoError(t, s.Transact(func(tx *Tx) error {
		for _, id := range []int64{100, 200, 150} {
			if _, err := s.AddMessageSnapshot(tx, messageFixture(1, id, "m"), EncodeTiming(id, true)); err != nil {
				return err
			}
		}
		return nil
	}))

	v, err = s.Read(func(tx *Tx) (any, error) {
		id, ok, err := s.LastMessageID(tx, 1)
		if err != nil {
			return nil, err
		}
		return []any{id, ok}, nil
	})
	require.NoError(t, err)
	got := v.([]any)
	assert.Equal(t, int64(200), got[0])
	assert.Equal(t, true, got[1])
}

func TestResolveMessageAuthorInternsWebhookUserOnce(t *testing.T) {
	s := openTestStore(t)

	msg1 := messageFixture(1, 100, "hi")
	msg1.WebhookID = 555
	msg1.ApplicationID = 0
	msg1.Extra["webhook_username"] = "bot"
	msg1.Extra["webhook_avatar"] = "ava"

	msg2 := messageFixture(1, 101, "there")
	msg2.WebhookID = 555
	msg2.ApplicationID = 0
	msg2.Extra["webhook_username"] = "bot"
	msg2.Extra["webhook_avatar"] = "ava"

	require.NoError(t, s.Transact(func(tx *Tx) error {
		if _, err := s.AddMessageSnapshot(tx, msg1, EncodeTiming(100, true)); err != nil {
			return err
		}
		return nil
	}))
	require.NoError(t, s.Transact(func(tx *Tx) error {
		_, err := s.AddMessageSnapshot(tx, msg2, EncodeTiming(100, true))
		return err
	}))

	assert.Equal(t, msg1.AuthorID, msg2.AuthorID, "the same webhook identity interns to the same synthetic author id")

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT COUNT(*) FROM webhook_users WHERE webhook_id = 555`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCompressAndRestoreMessageReference(t *testing.T) {
	msg := messageFixture(1, 100, "reply")
	msg.Reference = &types.MessageReference{MessageID: 50, ChannelID: 1, GuildID: 0}

	compressMessageReference(msg)
	assert.Equal(t, int64(0), int64(msg.Reference.ChannelID), "a reference to the containing message's own channel compresses to 0")

	RestoreMessageReference(msg.Reference, 1, 0)
	assert.Equal(t, int64(1), int64(msg.Reference.ChannelID))
}
