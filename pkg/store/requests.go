package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/cuemby/chatvault/pkg/types"
)

// AddUserSnapshot encodes and writes a user snapshot. Message author
// interning (message.go) requires the referenced user to already exist via
// this call before a message snapshot naming it as author is written.
func (s *Store) AddUserSnapshot(tx *Tx, u *types.User, timing Timing) (AddSnapshotResult, error) {
	fields, err := encodeObject(KindUser, u)
	if err != nil {
		return 0, err
	}
	fields["bot"] = u.Bot
	fields["system"] = u.System
	return s.AddSnapshot(tx, KindUser, map[string]any{"id": int64(u.ID)}, fields, timing)
}

// AddGuildSnapshot encodes and writes a guild snapshot.
func (s *Store) AddGuildSnapshot(tx *Tx, g *types.Guild, timing Timing) (AddSnapshotResult, error) {
	fields, err := encodeObject(KindGuild, g)
	if err != nil {
		return 0, err
	}
	return s.AddSnapshot(tx, KindGuild, map[string]any{"id": int64(g.ID)}, fields, timing)
}

// AddRoleSnapshot encodes and writes a role snapshot.
func (s *Store) AddRoleSnapshot(tx *Tx, r *types.Role, timing Timing) (AddSnapshotResult, error) {
	fields, err := encodeObject(KindRole, r)
	if err != nil {
		return 0, err
	}
	fields["managed"] = r.Managed
	keys := map[string]any{"guild_id": int64(r.GuildID), "id": int64(r.ID)}
	return s.AddSnapshot(tx, KindRole, keys, fields, timing)
}

// AddChannelSnapshot encodes and writes a channel snapshot.
func (s *Store) AddChannelSnapshot(tx *Tx, c *types.Channel, timing Timing) (AddSnapshotResult, error) {
	fields, err := encodeObject(KindChannel, c)
	if err != nil {
		return 0, err
	}
	fields["type"] = int64(c.Type)
	keys := map[string]any{"guild_id": int64(c.GuildID), "id": int64(c.ID)}
	return s.AddSnapshot(tx, KindChannel, keys, fields, timing)
}

// AddThreadSnapshot encodes and writes a thread snapshot.
func (s *Store) AddThreadSnapshot(tx *Tx, t *types.Thread, timing Timing) (AddSnapshotResult, error) {
	fields, err := encodeObject(KindThread, t)
	if err != nil {
		return 0, err
	}
	fields["type"] = int64(t.Type)
	keys := map[string]any{"guild_id": int64(t.GuildID), "id": int64(t.ID)}
	return s.AddSnapshot(tx, KindThread, keys, fields, timing)
}

// AddForumTagSnapshot encodes and writes a forum tag snapshot.
func (s *Store) AddForumTagSnapshot(tx *Tx, f *types.ForumTag, timing Timing) (AddSnapshotResult, error) {
	fields, err := encodeObject(KindForumTag, f)
	if err != nil {
		return 0, err
	}
	keys := map[string]any{"channel_id": int64(f.ChannelID), "id": int64(f.ID)}
	return s.AddSnapshot(tx, KindForumTag, keys, fields, timing)
}

// AddGuildEmojiSnapshot encodes and writes a guild emoji snapshot.
func (s *Store) AddGuildEmojiSnapshot(tx *Tx, e *types.GuildEmoji, timing Timing) (AddSnapshotResult, error) {
	fields, err := encodeObject(KindGuildEmoji, e)
	if err != nil {
		return 0, err
	}
	fields["animated"] = e.Animated
	keys := map[string]any{"guild_id": int64(e.GuildID), "id": int64(e.ID)}
	return s.AddSnapshot(tx, KindGuildEmoji, keys, fields, timing)
}

// AddMemberSnapshot writes a member snapshot using Partial semantics: a
// member row's versioned fields (nick, avatar, role_ids) may arrive
// incrementally, filled from the latest stored row when absent.
func (s *Store) AddMemberSnapshot(tx *Tx, m *types.Member, timing Timing, partial bool) (AddSnapshotResult, error) {
	fields, err := encodeObject(KindMember, m)
	if err != nil {
		return 0, err
	}
	keys := map[string]any{"guild_id": int64(m.GuildID), "user_id": int64(m.UserID)}
	return s.addSnapshot(tx, KindMember, keys, fields, timing, AddSnapshotOptions{Partial: partial, CheckIfChanged: true})
}

// AddAttachment implements "attachments are immutable and written with
// INSERT OR IGNORE; duplicate writes are silent success."
func (s *Store) AddAttachment(tx *Tx, a *types.Attachment) error {
	_, err := tx.exec(
		`INSERT OR IGNORE INTO attachments (id, message_id, filename, description, content_type, size, url, proxy_url, width, height)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(a.ID), int64(a.MessageID), a.Filename, a.Description, a.ContentType, a.Size, a.URL, a.ProxyURL, a.Width, a.Height,
	)
	if err != nil {
		return fmt.Errorf("store: add attachment %d: %w", a.ID, err)
	}
	return nil
}

// AddReactionPlacement implements add_reaction_placement. The reactions
// table has no foreign key to messages, so a placement on a message not
// yet stored is inserted without error: the reaction event can arrive
// before the message backfill that would have created that row. An
// identical placement already present is left as it is.
func (s *Store) AddReactionPlacement(tx *Tx, messageID int64, emojiKey string, reactionType types.ReactionType, userID int64, start Timing) error {
	_, err := tx.exec(
		`INSERT OR IGNORE INTO reactions (message_id, emoji_key, type, user_id, start, removed)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		messageID, emojiKey, int(reactionType), userID, int64(start),
	)
	if err != nil {
		return fmt.Errorf("store: add reaction placement: %w", err)
	}
	return nil
}

// MarkReactionAsRemoved implements mark_reaction_as_removed.
func (s *Store) MarkReactionAsRemoved(tx *Tx, messageID int64, emojiKey string, reactionType types.ReactionType, userID int64, removed Timing) error {
	_, err := tx.exec(
		`UPDATE reactions SET removed = ? WHERE message_id = ? AND emoji_key = ? AND type = ? AND user_id = ? AND removed IS NULL`,
		int64(removed), messageID, emojiKey, int(reactionType), userID,
	)
	if err != nil {
		return fmt.Errorf("store: mark reaction removed: %w", err)
	}
	return nil
}

// MarkReactionsAsRemovedBulk implements both REMOVE_EMOJI (all users of one
// emoji) and REMOVE_ALL (every reaction on the message) depending on
// whether emojiKey is non-empty.
func (s *Store) MarkReactionsAsRemovedBulk(tx *Tx, messageID int64, emojiKey string, removed Timing) error {
	var err error
	if emojiKey != "" {
		_, err = tx.exec(
			`UPDATE reactions SET removed = ? WHERE message_id = ? AND emoji_key = ? AND removed IS NULL`,
			int64(removed), messageID, emojiKey,
		)
	} else {
		_, err = tx.exec(
			`UPDATE reactions SET removed = ? WHERE message_id = ? AND removed IS NULL`,
			int64(removed), messageID,
		)
	}
	if err != nil {
		return fmt.Errorf("store: mark reactions removed bulk: %w", err)
	}
	return nil
}

// UpsertFile records a files row: either a content hash (blob present) or a
// terminal error code (no blob). See pkg/blobstore for the two-phase
// commit that keeps this table consistent with the filesystem.
func (s *Store) UpsertFile(tx *Tx, url string, hash []byte, errorCode string, fetchedAtUnixMilli int64) error {
	_, err := tx.exec(
		`INSERT INTO files (url, hash, error_code, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET hash = excluded.hash, error_code = excluded.error_code, fetched_at = excluded.fetched_at`,
		url, hash, nullIfEmpty(errorCode), fetchedAtUnixMilli,
	)
	if err != nil {
		return fmt.Errorf("store: upsert file %s: %w", url, err)
	}
	return nil
}

// FileByURL returns the hash/error-code row for a URL, or (nil, nil) if
// unknown.
func (s *Store) FileByURL(tx *Tx, url string) (*types.File, error) {
	row := tx.queryRow(`SELECT hash, error_code, fetched_at FROM files WHERE url = ?`, url)
	var hash []byte
	var errorCode sql.NullString
	var fetchedAt int64
	if err := row.Scan(&hash, &errorCode, &fetchedAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("store: file by url %s: %w", url, err)
	}
	f := &types.File{URL: url, Hash: hash, ErrorCode: errorCode.String}
	if len(hash) > 0 {
		f.Status = types.FileStatusOK
	} else {
		f.Status = types.FileStatusError
	}
	return f, nil
}

// AllFileHashes returns every distinct non-null blob hash the files table
// references, used by check_consistency to find orphaned blobs on disk.
func (s *Store) AllFileHashes(tx *Tx) ([][]byte, error) {
	rows, err := tx.query(`SELECT DISTINCT hash FROM files WHERE hash IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: all file hashes: %w", err)
	}
	defer rows.Close()

	var hashes [][]byte
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("store: all file hashes scan: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: all file hashes iterate: %w", err)
	}
	return hashes, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ChildrenAt implements children_at: the per-child resolution of
// get_snapshot_at for every distinct id scoped under parentValue, as of ts.
func (s *Store) ChildrenAt(tx *Tx, kind Kind, parentValue any, ts Timing) ([]*SnapshotAt, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	if spec.parentColumn == "" {
		return nil, fmt.Errorf("store: kind %s has no parent scope for children_at", kind)
	}

	// Select full id-column tuples, not just the trailing id: a kind's
	// parent scope (e.g. thread's parent_id) isn't always the leading id
	// column (thread keys on guild_id, id), so the other id columns must
	// come from the row itself rather than be guessed from parentValue.
	idColsCSV := strings.Join(spec.idColumns, ", ")
	rows, err := tx.query(
		fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s = ?", idColsCSV, spec.latestTable, spec.parentColumn),
		parentValue,
	)
	if err != nil {
		return nil, fmt.Errorf("store: children_at %s latest scan: %w", kind, err)
	}
	var tuples []map[string]any
	for rows.Next() {
		dest := make([]any, len(spec.idColumns))
		ptrs := make([]any, len(dest))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: children_at %s scan: %w", kind, err)
		}
		keys := make(map[string]any, len(spec.idColumns))
		for i, col := range spec.idColumns {
			keys[col] = dest[i]
		}
		tuples = append(tuples, keys)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: children_at %s iterate: %w", kind, err)
	}

	var out []*SnapshotAt
	for _, keys := range tuples {
		snap, err := s.GetSnapshotAt(tx, kind, keys, ts)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			out = append(out, snap)
		}
	}
	return out, nil
}
