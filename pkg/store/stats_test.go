package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountSnapshotsAcrossKinds(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Transact(func(tx *Tx) error {
		addGuild(t, s, tx, 1, "acme", EncodeTiming(100, true))
		if _, err := s.AddChannelSnapshot(tx, channelFixture(1, 10), EncodeTiming(100, true)); err != nil {
			return err
		}
		if _, err := s.AddChannelSnapshot(tx, channelFixture(1, 11), EncodeTiming(100, true)); err != nil {
			return err
		}
		if _, err := s.AddMemberSnapshot(tx, memberFixture(1, 5), EncodeTiming(100, true), false); err != nil {
			return err
		}
		_, err := s.AddMessageSnapshot(tx, messageFixture(10, 1000, "hi"), EncodeTiming(100, true))
		return err
	}))

	st, err := s.CountSnapshots()
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Guilds)
	assert.Equal(t, int64(2), st.Channels)
	assert.Equal(t, int64(0), st.Threads)
	assert.Equal(t, int64(1), st.Members)
	assert.Equal(t, int64(1), st.Messages)
}

func TestCountSnapshotsOnEmptyStore(t *testing.T) {
	s := openTestStore(t)

	st, err := s.CountSnapshots()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}
