package store

import "fmt"

// Stats is a point-in-time count of snapshot rows per kind, used by the
// archive command's periodic stats line. Members counts every row of
// member_snapshots, history and tombstones included.
type Stats struct {
	Guilds   int64
	Channels int64
	Threads  int64
	Members  int64
	Messages int64
}

// CountSnapshots reports how many rows exist in each kind's latest table
// (rows marked deleted included) and in member_snapshots. It runs through
// Read on the writer goroutine, so it waits behind any transaction in
// progress.
func (s *Store) CountSnapshots() (Stats, error) {
	v, err := s.Read(func(tx *Tx) (any, error) {
		var st Stats
		counts := []struct {
			table string
			dst   *int64
		}{
			{"latest_guild_snapshots", &st.Guilds},
			{"latest_channel_snapshots", &st.Channels},
			{"latest_thread_snapshots", &st.Threads},
			{"member_snapshots", &st.Members},
			{"latest_message_snapshots", &st.Messages},
		}
		for _, c := range counts {
			row := tx.queryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", c.table))
			if err := row.Scan(c.dst); err != nil {
				return nil, fmt.Errorf("store: count %s: %w", c.table, err)
			}
		}
		return st, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}
