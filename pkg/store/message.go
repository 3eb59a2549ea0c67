package store

import (
	"database/sql"
	"fmt"

	"github.com/cuemby/chatvault/pkg/types"
)

// AddMessageSnapshot implements the message write special case: a
// message's versioned timestamp is its edited-timestamp (timing derives
// from that, with the realtime bit set by the caller for live dispatch vs.
// backfill). When the incoming timing is not strictly newer than the
// stored latest, the write is an embed-only update — overwrite just the
// embeds column, leave the snapshot identity untouched, and report
// SameAsLatest so a late-arriving embed produces no extra history row.
func (s *Store) AddMessageSnapshot(tx *Tx, msg *types.Message, timing Timing) (AddSnapshotResult, error) {
	spec, err := specFor(KindMessage)
	if err != nil {
		return 0, err
	}

	if err := s.resolveMessageAuthor(tx, msg); err != nil {
		return 0, err
	}
	compressMessageReference(msg)

	fields, err := encodeObject(KindMessage, msg)
	if err != nil {
		return 0, err
	}
	fields["guild_id"] = int64(msg.GuildID)
	fields["webhook_id"] = int64(msg.WebhookID)
	fields["application_id"] = int64(msg.ApplicationID)
	fields["type"] = int64(msg.Type)
	fields["author_id"] = int64(msg.AuthorID)

	keys := map[string]any{"channel_id": int64(msg.ChannelID), "id": int64(msg.ID)}

	existing, err := selectLatestRow(tx, spec, keys)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		if err := insertLatestRow(tx, spec, keys, fields, timing); err != nil {
			return 0, err
		}
		if err := s.indexMessageForSearch(tx, msg, fields); err != nil {
			return 0, err
		}
		return AddedFirst, nil
	}

	existingTiming := Timing(existing["_timestamp"].(int64))
	if timing <= existingTiming {
		if _, err := tx.exec(
			fmt.Sprintf("UPDATE %s SET embeds = ? WHERE channel_id = ? AND id = ?", spec.latestTable),
			fields["embeds"], int64(msg.ChannelID), int64(msg.ID),
		); err != nil {
			return 0, fmt.Errorf("store: embed-only update: %w", err)
		}
		return SameAsLatest, nil
	}

	result, err := s.addSnapshot(tx, KindMessage, keys, fields, timing, AddSnapshotOptions{CheckIfChanged: true})
	if err != nil {
		return 0, err
	}
	if result == AddedAnother {
		if err := s.indexMessageForSearch(tx, msg, fields); err != nil {
			return 0, err
		}
	}
	return result, nil
}

// MarkMessageAsDeleted implements the MESSAGE_DELETE handling contract.
func (s *Store) MarkMessageAsDeleted(tx *Tx, channelID, messageID int64, timing Timing) (bool, error) {
	return s.MarkAsDeleted(tx, KindMessage, map[string]any{"channel_id": channelID, "id": messageID}, timing)
}

// LastMessageID returns the highest message id currently stored for
// channelID, used by sync_messages to resume a backfill from where it left
// off. Returns (0, false) if the channel has no stored messages yet.
func (s *Store) LastMessageID(tx *Tx, channelID int64) (int64, bool, error) {
	row := tx.queryRow(`SELECT MAX(id) FROM latest_message_snapshots WHERE channel_id = ?`, channelID)
	var id sql.NullInt64
	if err := row.Scan(&id); err != nil {
		return 0, false, fmt.Errorf("store: last message id for channel %d: %w", channelID, err)
	}
	if !id.Valid {
		return 0, false, nil
	}
	return id.Int64, true, nil
}

// resolveMessageAuthor implements message author interning: webhook-posted
// messages get a synthetic webhook_users row whose internal id (strictly
// below 1<<32 via sqlite's own rowid allocation) replaces the author id.
func (s *Store) resolveMessageAuthor(tx *Tx, msg *types.Message) error {
	if msg.WebhookID == 0 || msg.WebhookID == msg.ApplicationID {
		return nil
	}
	username, _ := msg.Extra["webhook_username"].(string)
	avatar, _ := msg.Extra["webhook_avatar"].(string)
	internalID, err := internWebhookUser(tx, int64(msg.WebhookID), username, avatar)
	if err != nil {
		return err
	}
	msg.AuthorID = types.Snowflake(internalID)
	return nil
}

func internWebhookUser(tx *Tx, webhookID int64, username, avatar string) (int64, error) {
	row := tx.queryRow(
		`SELECT internal_id FROM webhook_users WHERE webhook_id = ? AND username IS ? AND avatar IS ?`,
		webhookID, username, avatar,
	)
	var id int64
	err := row.Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("store: lookup webhook user: %w", err)
	}
	res, err := tx.exec(
		`INSERT INTO webhook_users (webhook_id, username, avatar) VALUES (?, ?, ?)`,
		webhookID, username, avatar,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert webhook user: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: webhook user last insert id: %w", err)
	}
	return id, nil
}

// compressMessageReference implements reply reference compression: a
// reply reference's channel_id/guild_id collapse to 0 when they match the
// containing message's own channel/guild, restored on read by the caller
// supplying that same channel/guild back (see RestoreMessageReference).
func compressMessageReference(msg *types.Message) {
	if msg.Reference == nil {
		return
	}
	if msg.Reference.ChannelID == msg.ChannelID {
		msg.Reference.ChannelID = 0
	}
	if msg.Reference.GuildID == msg.GuildID {
		msg.Reference.GuildID = 0
	}
}

// RestoreMessageReference reverses compressMessageReference given the
// owning message's own channel/guild ids, for callers reading rows back.
func RestoreMessageReference(ref *types.MessageReference, channelID, guildID types.Snowflake) {
	if ref == nil {
		return
	}
	if ref.ChannelID == 0 {
		ref.ChannelID = channelID
	}
	if ref.GuildID == 0 {
		ref.GuildID = guildID
	}
}

// indexMessageForSearch keeps message_fts_index in sync with every
// committed message snapshot. Author/channel/guild names are denormalized
// in at index time from the in-memory cache lookups the caller supplies
// via fields' "_extra" passthrough keys, falling back to empty strings.
func (s *Store) indexMessageForSearch(tx *Tx, msg *types.Message, fields map[string]any) error {
	authorName, _ := msg.Extra["_search_author_name"].(string)
	channelName, _ := msg.Extra["_search_channel_name"].(string)
	guildName, _ := msg.Extra["_search_guild_name"].(string)

	if _, err := tx.exec(`DELETE FROM message_fts_index WHERE message_id = ? AND channel_id = ?`,
		int64(msg.ID), int64(msg.ChannelID)); err != nil {
		return fmt.Errorf("store: delete stale fts row: %w", err)
	}
	if msg.Content == "" {
		return nil
	}
	if _, err := tx.exec(
		`INSERT INTO message_fts_index (content, author_name, channel_name, guild_name, channel_id, message_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.Content, authorName, channelName, guildName, int64(msg.ChannelID), int64(msg.ID),
	); err != nil {
		return fmt.Errorf("store: insert fts row: %w", err)
	}
	return nil
}
