package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// encodeObject flattens v (any of the pkg/types entity structs) into a flat
// column map keyed by the fixed schema's "__"-joined column names, plus an
// "_extra" column holding a JSON blob of anything not in spec.columns.
//
// It round-trips through encoding/json rather than reflecting on v's Go
// struct tags directly: v is marshaled to a generic map, that map is
// flattened, and the flattened keys are partitioned against the kind's
// known column list. This keeps the store's encode/decode symmetric and
// mechanical, matching fields added to pkg/types without touching the
// flattening logic itself.
func encodeObject(kind Kind, v any) (map[string]any, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: marshal: %w", kind, err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("encode %s: unmarshal to map: %w", kind, err)
	}

	flat := make(map[string]any)
	flatten("", asMap, flat)

	applyNormalization(kind, flat)

	known := make(map[string]bool, len(spec.columns))
	for _, c := range spec.columns {
		known[c] = true
	}

	row := make(map[string]any, len(spec.columns)+1)
	extra := make(map[string]any)
	for k, val := range flat {
		if known[k] {
			row[k] = encodeScalar(val)
		} else {
			extra[k] = val
		}
	}
	// Ensure every fixed column is present, even if nil, so callers can
	// diff rows field-by-field without special-casing absence.
	for _, c := range spec.columns {
		if _, ok := row[c]; !ok {
			row[c] = nil
		}
	}

	if len(extra) > 0 {
		extraJSON, err := json.Marshal(extra)
		if err != nil {
			return nil, fmt.Errorf("encode %s: marshal extra: %w", kind, err)
		}
		row["_extra"] = string(extraJSON)
	} else {
		row["_extra"] = nil
	}

	return row, nil
}

// decodeObject is encodeObject's inverse: it reconstructs the nested JSON
// shape from a flat row (fixed columns plus "_extra") and unmarshals it
// into dest, which must be a pointer to the kind's Go type.
func decodeObject(kind Kind, row map[string]any, dest any) error {
	nested := make(map[string]any)

	for col, val := range row {
		if col == "_extra" || col == "_timestamp" || col == "_deleted" {
			continue
		}
		if val == nil {
			continue
		}
		setFlat(nested, col, decodeScalar(col, val))
	}

	if extraRaw, ok := row["_extra"]; ok && extraRaw != nil {
		if s, ok := extraRaw.(string); ok && s != "" {
			var extra map[string]any
			if err := json.Unmarshal([]byte(s), &extra); err != nil {
				return fmt.Errorf("decode %s: unmarshal extra: %w", kind, err)
			}
			for k, v := range extra {
				setFlat(nested, k, v)
			}
		}
	}

	raw, err := json.Marshal(nested)
	if err != nil {
		return fmt.Errorf("decode %s: marshal nested: %w", kind, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: unmarshal into target: %w", kind, err)
	}
	return nil
}

// flatten recursively walks a JSON-shaped map, joining nested object keys
// with "__" (e.g. primary_guild.tag -> primary_guild__tag). Arrays and
// scalars terminate the walk at the current prefix.
func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "__" + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// setFlat is flatten's inverse for a single "__"-joined key: it walks/
// creates nested maps in out until the final path segment, then assigns v.
func setFlat(out map[string]any, flatKey string, v any) {
	parts := strings.Split(flatKey, "__")
	cur := out
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = v
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
}

// encodeScalar JSON-serializes array-valued fields (role_ids, mentions,
// overwrites, embeds, features, ...) into a single TEXT column; scalars
// pass through unchanged.
func encodeScalar(v any) any {
	switch v.(type) {
	case []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}

// arrayColumns lists fixed columns whose stored representation is a JSON
// array, so decodeScalar knows to unmarshal rather than pass through.
var arrayColumns = map[string]bool{
	"features": true, "role_ids": true, "overwrites": true, "applied_tags": true,
	"mentions": true, "attachments": true, "embeds": true,
}

func decodeScalar(column string, v any) any {
	s, ok := v.(string)
	if !ok || !arrayColumns[column] {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return v
	}
	return decoded
}

// applyNormalization enforces write-time coercions: a primary_guild that
// is only identity_enabled=false collapses to
// null, discriminator "0" collapses to null, and an all-null collectibles
// collapses to null.
func applyNormalization(kind Kind, flat map[string]any) {
	if kind != KindUser {
		return
	}
	if d, ok := flat["discriminator"].(string); ok && d == "0" {
		delete(flat, "discriminator")
	}
	if enabled, ok := flat["primary_guild__identity_enabled"]; ok {
		if b, ok := enabled.(bool); ok && !b {
			if _, hasTag := flat["primary_guild__tag"]; !hasTag {
				if _, hasBadge := flat["primary_guild__badge"]; !hasBadge {
					delete(flat, "primary_guild__identity_enabled")
				}
			}
		}
	}
	if flat["collectibles__nameplate__sku_id"] == nil &&
		flat["collectibles__nameplate__asset"] == nil {
		delete(flat, "collectibles__nameplate__sku_id")
		delete(flat, "collectibles__nameplate__asset")
		delete(flat, "collectibles__nameplate__label")
		delete(flat, "collectibles__nameplate__palette")
	}
}
