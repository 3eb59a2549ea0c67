package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addSearchableMessage(t *testing.T, s *Store, channelID, id int64, content, author, channel, guild string, ts Timing) {
	t.Helper()
	msg := messageFixture(channelID, id, content)
	msg.Extra["_search_author_name"] = author
	msg.Extra["_search_channel_name"] = channel
	msg.Extra["_search_guild_name"] = guild
	require.NoError(t, s.Transact(func(tx *Tx) error {
		_, err := s.AddMessageSnapshot(tx, msg, ts)
		return err
	}))
}

func TestSearchMessagesOrdersNewestFirstAndHighlights(t *testing.T) {
	s := openTestStore(t)

	addSearchableMessage(t, s, 1, 100, "the build is broken", "alice", "ops", "acme", EncodeTiming(100, true))
	addSearchableMessage(t, s, 1, 200, "the build is fixed now", "bob", "ops", "acme", EncodeTiming(200, true))
	addSearchableMessage(t, s, 1, 300, "unrelated message", "carol", "general", "acme", EncodeTiming(300, true))

	v, err := s.Read(func(tx *Tx) (any, error) {
		return s.SearchMessages(tx, "build", "<<", ">>")
	})
	require.NoError(t, err)
	results := v.([]SearchResult)
	require.Len(t, results, 2)
	assert.Equal(t, int64(200), results[0].MessageID, "results are ordered newest message first")
	assert.Equal(t, int64(100), results[1].MessageID)
	assert.Contains(t, results[0].Highlighted, "<<build>>")
	assert.Equal(t, "bob", results[0].AuthorName)
	assert.Equal(t, "ops", results[0].ChannelName)
	assert.Equal(t, "acme", results[0].GuildName)
}

func TestSearchMessagesNoMatchReturnsEmpty(t *testing.T) {
	s := openTestStore(t)

	addSearchableMessage(t, s, 1, 100, "hello world", "alice", "general", "acme", EncodeTiming(100, true))

	v, err := s.Read(func(tx *Tx) (any, error) {
		return s.SearchMessages(tx, "nonexistentterm", "[", "]")
	})
	require.NoError(t, err)
	assert.Empty(t, v.([]SearchResult))
}

func TestSearchMessagesSkipsEmptyContent(t *testing.T) {
	s := openTestStore(t)

	msg := messageFixture(1, 100, "")
	require.NoError(t, s.Transact(func(tx *Tx) error {
		_, err := s.AddMessageSnapshot(tx, msg, EncodeTiming(100, true))
		return err
	}))

	v, err := s.Read(func(tx *Tx) (any, error) {
		row := tx.queryRow(`SELECT COUNT(*) FROM message_fts_index WHERE message_id = 100`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, v, "a message with empty content is never indexed for search")
}
