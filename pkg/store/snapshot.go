package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// AddSnapshotResult is the outcome of add_snapshot.
type AddSnapshotResult int

const (
	AddedFirst AddSnapshotResult = iota
	AddedAnother
	SameAsLatest
	PartialNoSnapshot
)

func (r AddSnapshotResult) String() string {
	switch r {
	case AddedFirst:
		return "AddedFirst"
	case AddedAnother:
		return "AddedAnother"
	case SameAsLatest:
		return "SameAsLatest"
	case PartialNoSnapshot:
		return "PartialNoSnapshot"
	default:
		return "Unknown"
	}
}

// AddSnapshotOptions controls add_snapshot's partial-update and
// change-detection behavior.
type AddSnapshotOptions struct {
	Partial         bool
	CheckIfChanged  bool // callers should default this true; false forces an unconditional overwrite
}

// AddSnapshot implements add_snapshot for every kind except message,
// which has its own embed-only-update special case in message.go. keys
// holds the id column values (e.g. {"id": 123} or {"guild_id": 1, "id": 2});
// fields holds the encoded column values to write, produced by
// encodeObject (or a caller-trimmed subset of it for a partial update).
func (s *Store) AddSnapshot(tx *Tx, kind Kind, keys map[string]any, fields map[string]any, timing Timing) (AddSnapshotResult, error) {
	return s.addSnapshot(tx, kind, keys, fields, timing, AddSnapshotOptions{CheckIfChanged: true})
}

func (s *Store) addSnapshot(tx *Tx, kind Kind, keys map[string]any, fields map[string]any, timing Timing, opts AddSnapshotOptions) (AddSnapshotResult, error) {
	spec, err := specFor(kind)
	if err != nil {
		return 0, err
	}

	existing, err := selectLatestRow(tx, spec, keys)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		if opts.Partial {
			for _, col := range spec.columns {
				if spec.objectScope[col] {
					continue
				}
				if v, ok := fields[col]; !ok || v == nil {
					return PartialNoSnapshot, nil
				}
			}
		}
		if err := insertLatestRow(tx, spec, keys, fields, timing); err != nil {
			return 0, err
		}
		return AddedFirst, nil
	}

	effective := make(map[string]any, len(spec.columns))
	for _, col := range spec.columns {
		effective[col] = existing[col]
	}
	for col, v := range fields {
		if opts.Partial && v == nil {
			continue
		}
		effective[col] = v
	}

	changed := false
	for _, col := range spec.columns {
		if spec.objectScope[col] {
			continue
		}
		if !valuesEqual(existing[col], effective[col]) {
			changed = true
			break
		}
	}

	if !changed && opts.CheckIfChanged {
		if err := updateObjectScopeColumns(tx, spec, keys, effective); err != nil {
			return 0, err
		}
		return SameAsLatest, nil
	}

	existingTiming := Timing(existing["_timestamp"].(int64))
	if timing <= existingTiming {
		return 0, fmt.Errorf(
			"store: %s snapshot at %d not strictly newer than latest at %d with different content",
			kind, timing, existingTiming,
		)
	}

	if spec.historyTable != "" {
		if err := copyIntoHistory(tx, spec, existing); err != nil {
			return 0, err
		}
	}
	if err := overwriteLatestRow(tx, spec, keys, effective, timing); err != nil {
		return 0, err
	}
	return AddedAnother, nil
}

// MarkAsDeleted implements mark_as_deleted: idempotent, returns true iff a
// row's _deleted column actually changed.
func (s *Store) MarkAsDeleted(tx *Tx, kind Kind, keys map[string]any, timing Timing) (bool, error) {
	spec, err := specFor(kind)
	if err != nil {
		return false, err
	}
	where, args := keyWhere(spec, keys)
	res, err := tx.exec(
		fmt.Sprintf("UPDATE %s SET _deleted = ? WHERE %s AND _deleted IS NULL", spec.latestTable, where),
		append([]any{int64(timing)}, args...)...,
	)
	if err != nil {
		return false, fmt.Errorf("store: mark %s deleted: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark %s deleted rows affected: %w", kind, err)
	}
	return n > 0, nil
}

// SnapshotAt is the result of get_snapshot_at: the resolved column values as
// of a point in time, plus their recorded timing and (if applicable) the
// deletion timing.
type SnapshotAt struct {
	Timing        Timing
	DeletedTiming *Timing
	Fields        map[string]any
}

// GetSnapshotAt implements get_snapshot_at: the latest snapshot whose
// _timestamp <= ts, falling back to the newest history row satisfying
// the same bound, or nil if none exists.
func (s *Store) GetSnapshotAt(tx *Tx, kind Kind, keys map[string]any, ts Timing) (*SnapshotAt, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}

	latest, err := selectLatestRow(tx, spec, keys)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		latestTiming := Timing(latest["_timestamp"].(int64))
		if latestTiming <= ts {
			return snapshotFromRow(spec, latest), nil
		}
	}
	if spec.historyTable == "" {
		// member_snapshots is append-only; every row is its own history entry.
		return selectMemberSnapshotAt(tx, keys, ts)
	}

	where, args := keyWhere(spec, keys)
	row := tx.queryRow(
		fmt.Sprintf("SELECT %s, _timestamp FROM %s WHERE %s AND _timestamp <= ? ORDER BY _timestamp DESC LIMIT 1",
			strings.Join(spec.columns, ", "), spec.historyTable, where),
		append(args, int64(ts))...,
	)
	values, err := scanRow(row, append(append([]string{}, spec.columns...), "_timestamp"))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_snapshot_at %s history: %w", kind, err)
	}
	return snapshotFromRow(spec, values), nil
}

func selectMemberSnapshotAt(tx *Tx, keys map[string]any, ts Timing) (*SnapshotAt, error) {
	row := tx.queryRow(
		`SELECT nick, avatar, role_ids, joined_at, _timestamp, _deleted FROM member_snapshots
		 WHERE guild_id = ? AND user_id = ? AND _timestamp <= ? ORDER BY _timestamp DESC LIMIT 1`,
		keys["guild_id"], keys["user_id"], int64(ts),
	)
	var nick, avatar, roleIDs, joinedAt sql.NullString
	var timestamp int64
	var deleted sql.NullInt64
	if err := row.Scan(&nick, &avatar, &roleIDs, &joinedAt, &timestamp, &deleted); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("store: get_snapshot_at member: %w", err)
	}
	fields := map[string]any{
		"nick": nullStrToAny(nick), "avatar": nullStrToAny(avatar),
		"role_ids": nullStrToAny(roleIDs), "joined_at": nullStrToAny(joinedAt),
	}
	snap := &SnapshotAt{Timing: Timing(timestamp), Fields: fields}
	if deleted.Valid {
		d := Timing(deleted.Int64)
		snap.DeletedTiming = &d
	}
	return snap, nil
}

func nullStrToAny(n sql.NullString) any {
	if !n.Valid {
		return nil
	}
	return n.String
}

func snapshotFromRow(spec *kindSpec, row map[string]any) *SnapshotAt {
	fields := make(map[string]any, len(spec.columns))
	for _, c := range spec.columns {
		fields[c] = row[c]
	}
	snap := &SnapshotAt{Fields: fields}
	if ts, ok := row["_timestamp"]; ok && ts != nil {
		snap.Timing = Timing(ts.(int64))
	}
	if d, ok := row["_deleted"]; ok && d != nil {
		dt := Timing(d.(int64))
		snap.DeletedTiming = &dt
	}
	return snap
}

// SyncDeletions implements sync_deletions: every non-deleted child of parent
// not present in presentIDs is marked deleted at ts.
func (s *Store) SyncDeletions(tx *Tx, kind Kind, parentValue any, presentIDs []int64, ts Timing) error {
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	if spec.parentColumn == "" {
		return fmt.Errorf("store: kind %s has no parent scope for sync_deletions", kind)
	}
	if len(presentIDs) == 0 {
		_, err := tx.exec(
			fmt.Sprintf("UPDATE %s SET _deleted = ? WHERE %s = ? AND _deleted IS NULL", spec.latestTable, spec.parentColumn),
			int64(ts), parentValue,
		)
		if err != nil {
			return fmt.Errorf("store: sync_deletions %s (empty set): %w", kind, err)
		}
		return nil
	}

	placeholders := make([]string, len(presentIDs))
	args := make([]any, 0, len(presentIDs)+2)
	args = append(args, int64(ts), parentValue)
	for i, id := range presentIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	idCol := spec.idColumns[len(spec.idColumns)-1]
	query := fmt.Sprintf(
		"UPDATE %s SET _deleted = ? WHERE %s = ? AND _deleted IS NULL AND %s NOT IN (%s)",
		spec.latestTable, spec.parentColumn, idCol, strings.Join(placeholders, ","),
	)
	if _, err := tx.exec(query, args...); err != nil {
		return fmt.Errorf("store: sync_deletions %s: %w", kind, err)
	}
	return nil
}

// SyncMembers implements sync_members: every member of guildID not present
// in presentUserIDs and not already tombstoned gets a tombstone snapshot
// inserted at ts.
func (s *Store) SyncMembers(tx *Tx, guildID int64, presentUserIDs []int64, ts Timing) error {
	present := make(map[int64]bool, len(presentUserIDs))
	for _, id := range presentUserIDs {
		present[id] = true
	}

	rows, err := tx.query(
		`SELECT user_id, nick, avatar, role_ids FROM member_snapshots m
		 WHERE guild_id = ? AND _timestamp = (
		   SELECT MAX(_timestamp) FROM member_snapshots WHERE guild_id = m.guild_id AND user_id = m.user_id
		 )`, guildID,
	)
	if err != nil {
		return fmt.Errorf("store: sync_members scan: %w", err)
	}
	defer rows.Close()

	var toTombstone []int64
	for rows.Next() {
		var userID int64
		var nick, avatar, roleIDs sql.NullString
		if err := rows.Scan(&userID, &nick, &avatar, &roleIDs); err != nil {
			return fmt.Errorf("store: sync_members row scan: %w", err)
		}
		if present[userID] {
			continue
		}
		isTombstone := !nick.Valid && !avatar.Valid && (!roleIDs.Valid || roleIDs.String == "" || roleIDs.String == "[]")
		if !isTombstone {
			toTombstone = append(toTombstone, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: sync_members iterate: %w", err)
	}

	for _, userID := range toTombstone {
		if _, err := tx.exec(
			`INSERT INTO member_snapshots (guild_id, user_id, nick, avatar, role_ids, joined_at, _extra, _timestamp)
			 VALUES (?, ?, NULL, NULL, NULL, NULL, NULL, ?)`,
			guildID, userID, int64(ts),
		); err != nil {
			return fmt.Errorf("store: sync_members tombstone insert: %w", err)
		}
	}
	return nil
}

// ---- row-level helpers shared by add/get -----------------------------

func keyWhere(spec *kindSpec, keys map[string]any) (string, []any) {
	conds := make([]string, len(spec.idColumns))
	args := make([]any, len(spec.idColumns))
	for i, col := range spec.idColumns {
		conds[i] = col + " = ?"
		args[i] = keys[col]
	}
	return strings.Join(conds, " AND "), args
}

func selectLatestRow(tx *Tx, spec *kindSpec, keys map[string]any) (map[string]any, error) {
	where, args := keyWhere(spec, keys)
	cols := append(append([]string{}, spec.columns...), "_extra", "_timestamp", "_deleted")
	row := tx.queryRow(
		fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), spec.latestTable, where),
		args...,
	)
	values, err := scanRow(row, cols)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: select latest %s: %w", spec.name, err)
	}
	return values, nil
}

func insertLatestRow(tx *Tx, spec *kindSpec, keys map[string]any, fields map[string]any, timing Timing) error {
	cols := make([]string, 0, len(spec.idColumns)+len(spec.columns)+2)
	args := make([]any, 0, cap(cols))
	for _, col := range spec.idColumns {
		cols = append(cols, col)
		args = append(args, keys[col])
	}
	for _, col := range spec.columns {
		cols = append(cols, col)
		args = append(args, fields[col])
	}
	cols = append(cols, "_extra", "_timestamp")
	args = append(args, fields["_extra"], int64(timing))

	placeholders := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", spec.latestTable, strings.Join(cols, ", "), placeholders)
	if _, err := tx.exec(query, args...); err != nil {
		return fmt.Errorf("store: insert latest %s: %w", spec.name, err)
	}
	return nil
}

func overwriteLatestRow(tx *Tx, spec *kindSpec, keys map[string]any, effective map[string]any, timing Timing) error {
	sets := make([]string, 0, len(spec.columns)+2)
	args := make([]any, 0, len(spec.columns)+2)
	for _, col := range spec.columns {
		sets = append(sets, col+" = ?")
		args = append(args, effective[col])
	}
	sets = append(sets, "_extra = ?", "_timestamp = ?", "_deleted = NULL")
	args = append(args, effective["_extra"], int64(timing))

	where, whereArgs := keyWhere(spec, keys)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", spec.latestTable, strings.Join(sets, ", "), where)
	if _, err := tx.exec(query, append(args, whereArgs...)...); err != nil {
		return fmt.Errorf("store: overwrite latest %s: %w", spec.name, err)
	}
	return nil
}

func updateObjectScopeColumns(tx *Tx, spec *kindSpec, keys map[string]any, effective map[string]any) error {
	var sets []string
	var args []any
	for col := range spec.objectScope {
		sets = append(sets, col+" = ?")
		args = append(args, effective[col])
	}
	if len(sets) == 0 {
		return nil
	}
	where, whereArgs := keyWhere(spec, keys)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", spec.latestTable, strings.Join(sets, ", "), where)
	if _, err := tx.exec(query, append(args, whereArgs...)...); err != nil {
		return fmt.Errorf("store: update object-scope %s columns: %w", spec.name, err)
	}
	return nil
}

func copyIntoHistory(tx *Tx, spec *kindSpec, existing map[string]any) error {
	cols := append(append([]string{}, spec.idColumns...), spec.columns...)
	cols = append(cols, "_extra", "_timestamp")
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = existing[c]
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", spec.historyTable, strings.Join(cols, ", "), placeholders)
	if _, err := tx.exec(query, args...); err != nil {
		return fmt.Errorf("store: copy %s into history: %w", spec.name, err)
	}
	return nil
}

func scanRow(row *sql.Row, cols []string) (map[string]any, error) {
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		out[c] = dest[i]
	}
	return out, nil
}

func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
