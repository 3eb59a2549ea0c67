package store

import "fmt"

// SearchResult is one row of search_messages: a matching message plus its
// denormalized author/channel/guild names and the message content with
// highlight delimiters wrapped around matching terms.
type SearchResult struct {
	MessageID   int64
	ChannelID   int64
	AuthorName  string
	ChannelName string
	GuildName   string
	Highlighted string
}

// SearchMessages implements search_messages: an FTS5 MATCH query over
// message_fts_index, using sqlite's own highlight() to wrap matching terms
// with the caller-supplied delimiters. Results are ordered newest message
// first since that's what an interactive search CLI wants to see.
func (s *Store) SearchMessages(tx *Tx, query, startDelim, endDelim string) ([]SearchResult, error) {
	rows, err := tx.query(
		`SELECT message_id, channel_id, author_name, channel_name, guild_name,
		        highlight(message_fts_index, 0, ?, ?)
		 FROM message_fts_index
		 WHERE message_fts_index MATCH ?
		 ORDER BY message_id DESC`,
		startDelim, endDelim, query,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search_messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.MessageID, &r.ChannelID, &r.AuthorName, &r.ChannelName, &r.GuildName, &r.Highlighted); err != nil {
			return nil, fmt.Errorf("store: search_messages scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search_messages iterate: %w", err)
	}
	return results, nil
}
