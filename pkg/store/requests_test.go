package store

import (
	"testing"

	"github.com/cuemby/chatvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userFixture(id int64, username string) *types.User {
	return &types.User{ID: types.Snowflake(id), Username: username}
}

func TestAddUserSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	var res AddSnapshotResult
	require.NoError(t, s.Transact(func(tx *Tx) error {
		var err error
		res, err = s.AddUserSnapshot(tx, userFixture(1, "alice"), EncodeTiming(100, true))
		return err
	}))
	assert.Equal(t, AddedFirst, res)
}

func TestAddRoleSnapshotScopedByGuild(t *testing.T) {
	s := openTestStore(t)

	role := &types.Role{GuildID: 1, ID: 2, Name: "admin", Permissions: 8}
	require.NoError(t, s.Transact(func(tx *Tx) error {
		_, err := s.AddRoleSnapshot(tx, role, EncodeTiming(100, true))
		return err
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT name FROM latest_role_snapshots WHERE guild_id = 1 AND id = 2`)
		var name string
		if err := row.Scan(&name); err != nil {
			return nil, err
		}
		return name, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "admin", v)
}

func TestAddForumTagAndGuildEmojiSnapshots(t *testing.T) {
	s := openTestStore(t)

	tag := &types.ForumTag{ChannelID: 1, ID: 2, Name: "bug"}
	emoji := &types.GuildEmoji{GuildID: 1, ID: 3, Name: "pepe", Animated: true}

	require.NoError(t, s.Transact(func(tx *Tx) error {
		if _, err := s.AddForumTagSnapshot(tx, tag, EncodeTiming(100, true)); err != nil {
			return err
		}
		_, err := s.AddGuildEmojiSnapshot(tx, emoji, EncodeTiming(100, true))
		return err
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT COUNT(*) FROM latest_forum_tag_snapshots WHERE channel_id = 1 AND id = 2`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestAddAttachmentIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	att := &types.Attachment{ID: 1, MessageID: 100, Filename: "cat.png", URL: "https://example.com/cat.png"}
	require.NoError(t, s.Transact(func(tx *Tx) error {
		if err := s.AddAttachment(tx, att); err != nil {
			return err
		}
		return s.AddAttachment(tx, att)
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT COUNT(*) FROM attachments WHERE id = 1`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v, "re-adding the same attachment id is a silent no-op")
}

func TestAddReactionPlacementSwallowsMissingMessage(t *testing.T) {
	s := openTestStore(t)

	err := s.Transact(func(tx *Tx) error {
		return s.AddReactionPlacement(tx, 9999, "😀", types.ReactionTypeNormal, 1, EncodeTiming(100, true))
	})
	assert.NoError(t, err, "a reaction on an as-yet-unknown message is swallowed, not surfaced as an error")
}

func TestMarkReactionAsRemoved(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		if _, err := s.AddMessageSnapshot(tx, messageFixture(1, 100, "m"), EncodeTiming(50, true)); err != nil {
			return err
		}
		if err := s.AddReactionPlacement(tx, 100, "😀", types.ReactionTypeNormal, 1, EncodeTiming(100, true)); err != nil {
			return err
		}
		return s.MarkReactionAsRemoved(tx, 100, "😀", types.ReactionTypeNormal, 1, EncodeTiming(200, true))
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT removed FROM reactions WHERE message_id = 100 AND user_id = 1`)
		var removed int64
		if err := row.Scan(&removed); err != nil {
			return nil, err
		}
		return removed, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(EncodeTiming(200, true)), v)
}

func TestMarkReactionsAsRemovedBulkByEmojiAndByAll(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		if _, err := s.AddMessageSnapshot(tx, messageFixture(1, 100, "m"), EncodeTiming(10, true)); err != nil {
			return err
		}
		if err := s.AddReactionPlacement(tx, 100, "😀", types.ReactionTypeNormal, 1, EncodeTiming(20, true)); err != nil {
			return err
		}
		if err := s.AddReactionPlacement(tx, 100, "😀", types.ReactionTypeNormal, 2, EncodeTiming(20, true)); err != nil {
			return err
		}
		return s.AddReactionPlacement(tx, 100, "😢", types.ReactionTypeNormal, 3, EncodeTiming(20, true))
	}))

	require.NoError(t, s.Transact(func(tx *Tx) error {
		return s.MarkReactionsAsRemovedBulk(tx, 100, "😀", EncodeTiming(30, true))
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT COUNT(*) FROM reactions WHERE message_id = 100 AND removed IS NULL`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v, "only the un-targeted emoji's reaction remains active")

	require.NoError(t, s.Transact(func(tx *Tx) error {
		return s.MarkReactionsAsRemovedBulk(tx, 100, "", EncodeTiming(40, true))
	}))

	v, err = s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT COUNT(*) FROM reactions WHERE message_id = 100 AND removed IS NULL`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, v, "an empty emoji key removes every remaining reaction on the message")
}

func TestUpsertFileAndFileByURL(t *testing.T) {
	s := openTestStore(t)

	hash := []byte{1, 2, 3, 4}
	require.NoError(t, s.Transact(func(tx *Tx) error {
		return s.UpsertFile(tx, "https://example.com/a.png", hash, "", 1000)
	}))

	var f *types.File
	v, err := s.Read(func(tx *Tx) (any, error) {
		return s.FileByURL(tx, "https://example.com/a.png")
	})
	require.NoError(t, err)
	f = v.(*types.File)
	require.NotNil(t, f)
	assert.Equal(t, types.FileStatusOK, f.Status)
	assert.Equal(t, hash, f.Hash)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		return s.UpsertFile(tx, "https://example.com/a.png", nil, "404", 2000)
	}))

	v, err = s.Read(func(tx *Tx) (any, error) {
		return s.FileByURL(tx, "https://example.com/a.png")
	})
	require.NoError(t, err)
	f = v.(*types.File)
	require.NotNil(t, f)
	assert.Equal(t, types.FileStatusError, f.Status)
	assert.Equal(t, "404", f.ErrorCode)
}

func TestFileByURLUnknownReturnsNil(t *testing.T) {
	s := openTestStore(t)

	v, err := s.Read(func(tx *Tx) (any, error) {
		return s.FileByURL(tx, "https://example.com/missing.png")
	})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAllFileHashesReturnsDistinctNonNullHashes(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		if err := s.UpsertFile(tx, "https://example.com/a.png", []byte{1}, "", 1000); err != nil {
			return err
		}
		if err := s.UpsertFile(tx, "https://example.com/b.png", []byte{1}, "", 1000); err != nil {
			return err
		}
		return s.UpsertFile(tx, "https://example.com/c.png", nil, "404", 1000)
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		return s.AllFileHashes(tx)
	})
	require.NoError(t, err)
	hashes := v.([][]byte)
	assert.Len(t, hashes, 1, "two urls sharing the same blob hash collapse to one distinct entry")
}
