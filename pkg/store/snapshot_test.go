package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addGuild(t *testing.T, s *Store, tx *Tx, id int64, name string, ts Timing) AddSnapshotResult {
	t.Helper()
	res, err := s.AddSnapshot(tx, KindGuild, map[string]any{"id": id}, map[string]any{
		"name": name, "icon": nil, "owner_id": int64(1), "description": nil,
		"verification_level": int64(0), "explicit_content_filter_level": int64(0), "features": nil,
		"_extra": nil,
	}, ts)
	require.NoError(t, err)
	return res
}

func TestAddSnapshotFirstWriteThenUnchangedThenChanged(t *testing.T) {
	s := openTestStore(t)

	var firstRes, sameRes, changedRes AddSnapshotResult
	require.NoError(t, s.Transact(func(tx *Tx) error {
		firstRes = addGuild(t, s, tx, 1, "guild-a", EncodeTiming(100, true))
		return nil
	}))
	assert.Equal(t, AddedFirst, firstRes)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		sameRes = addGuild(t, s, tx, 1, "guild-a", EncodeTiming(200, true))
		return nil
	}))
	assert.Equal(t, SameAsLatest, sameRes)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		changedRes = addGuild(t, s, tx, 1, "guild-b", EncodeTiming(300, true))
		return nil
	}))
	assert.Equal(t, AddedAnother, changedRes)

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT COUNT(*) FROM previous_guild_snapshots WHERE id = 1`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v, "the renamed guild's prior row should be copied into history")
}

func TestAddSnapshotRejectsNonIncreasingTimingWhenChanged(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		addGuild(t, s, tx, 1, "guild-a", EncodeTiming(200, true))
		return nil
	}))

	err := s.Transact(func(tx *Tx) error {
		_, err := s.AddSnapshot(tx, KindGuild, map[string]any{"id": int64(1)}, map[string]any{
			"name": "guild-b", "icon": nil, "owner_id": int64(1), "description": nil,
			"verification_level": int64(0), "explicit_content_filter_level": int64(0), "features": nil,
			"_extra": nil,
		}, EncodeTiming(100, true))
		return err
	})
	assert.Error(t, err)
}

func TestAddSnapshotPartialNoSnapshotWhenColumnsMissing(t *testing.T) {
	s := openTestStore(t)

	var res AddSnapshotResult
	require.NoError(t, s.Transact(func(tx *Tx) error {
		var err error
		res, err = s.addSnapshot(tx, KindMember, map[string]any{"guild_id": int64(2), "user_id": int64(3)},
			map[string]any{"nick": "n", "_extra": nil}, EncodeTiming(100, true),
			AddSnapshotOptions{Partial: true, CheckIfChanged: true})
		return err
	}))
	assert.Equal(t, PartialNoSnapshot, res, "a partial write missing avatar/role_ids can't create a first snapshot")

	var full AddSnapshotResult
	require.NoError(t, s.Transact(func(tx *Tx) error {
		var err error
		full, err = s.AddMemberSnapshot(tx, memberFixture(2, 3), EncodeTiming(100, true), true)
		return err
	}))
	assert.Equal(t, AddedFirst, full, "a fully-populated partial member write still creates the first snapshot")
}

func TestMarkAsDeletedIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		addGuild(t, s, tx, 1, "guild-a", EncodeTiming(100, true))
		return nil
	}))

	var first, second bool
	require.NoError(t, s.Transact(func(tx *Tx) error {
		var err error
		first, err = s.MarkAsDeleted(tx, KindGuild, map[string]any{"id": int64(1)}, EncodeTiming(200, true))
		return err
	}))
	assert.True(t, first)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		var err error
		second, err = s.MarkAsDeleted(tx, KindGuild, map[string]any{"id": int64(1)}, EncodeTiming(300, true))
		return err
	}))
	assert.False(t, second, "marking an already-deleted row deleted again reports no change")
}

func TestGetSnapshotAtFallsBackToHistory(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		addGuild(t, s, tx, 1, "guild-v1", EncodeTiming(100, true))
		return nil
	}))
	require.NoError(t, s.Transact(func(tx *Tx) error {
		addGuild(t, s, tx, 1, "guild-v2", EncodeTiming(200, true))
		return nil
	}))

	var snapOld, snapLatest *SnapshotAt
	v, err := s.Read(func(tx *Tx) (any, error) {
		var err error
		snapOld, err = s.GetSnapshotAt(tx, KindGuild, map[string]any{"id": int64(1)}, EncodeTiming(150, true))
		if err != nil {
			return nil, err
		}
		snapLatest, err = s.GetSnapshotAt(tx, KindGuild, map[string]any{"id": int64(1)}, MaxTiming)
		return nil, err
	})
	require.NoError(t, err)
	_ = v

	require.NotNil(t, snapOld)
	assert.Equal(t, "guild-v1", snapOld.Fields["name"])
	require.NotNil(t, snapLatest)
	assert.Equal(t, "guild-v2", snapLatest.Fields["name"])
}

func TestGetSnapshotAtBeforeAnyWriteReturnsNil(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		addGuild(t, s, tx, 1, "guild-a", EncodeTiming(200, true))
		return nil
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		return s.GetSnapshotAt(tx, KindGuild, map[string]any{"id": int64(1)}, EncodeTiming(100, true))
	})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSyncDeletionsMarksAbsentChildrenDeleted(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		for _, id := range []int64{10, 20, 30} {
			_, err := s.AddChannelSnapshot(tx, channelFixture(1, id), EncodeTiming(100, true))
			if err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.Transact(func(tx *Tx) error {
		return s.SyncDeletions(tx, KindChannel, int64(1), []int64{10, 30}, EncodeTiming(200, true))
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT _deleted FROM latest_channel_snapshots WHERE id = 20`)
		var deleted *int64
		if err := row.Scan(&deleted); err != nil {
			return nil, err
		}
		return deleted != nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestSyncMembersTombstonesAbsentNonTombstoneMembers(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		_, err := s.AddMemberSnapshot(tx, memberFixture(1, 5), EncodeTiming(100, true), false)
		return err
	}))

	require.NoError(t, s.Transact(func(tx *Tx) error {
		return s.SyncMembers(tx, 1, []int64{}, EncodeTiming(200, true))
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT COUNT(*) FROM member_snapshots WHERE guild_id = 1 AND user_id = 5 AND nick IS NULL`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v, "a member absent from presentUserIDs gets a tombstone row")
}

func TestSyncMembersSkipsAlreadyTombstoned(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		_, err := tx.exec(
			`INSERT INTO member_snapshots (guild_id, user_id, nick, avatar, role_ids, joined_at, _extra, _timestamp)
			 VALUES (1, 5, NULL, NULL, NULL, NULL, NULL, 100)`,
		)
		return err
	}))

	require.NoError(t, s.Transact(func(tx *Tx) error {
		return s.SyncMembers(tx, 1, []int64{}, EncodeTiming(200, true))
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT COUNT(*) FROM member_snapshots WHERE guild_id = 1 AND user_id = 5`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v, "an already-tombstoned member gets no extra row")
}

func TestChildrenAtReturnsOneSnapshotPerDistinctChild(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		for _, id := range []int64{10, 20} {
			_, err := s.AddChannelSnapshot(tx, channelFixture(1, id), EncodeTiming(100, true))
			if err != nil {
				return err
			}
		}
		return nil
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		return s.ChildrenAt(tx, KindChannel, int64(1), MaxTiming)
	})
	require.NoError(t, err)
	children := v.([]*SnapshotAt)
	assert.Len(t, children, 2)
}
