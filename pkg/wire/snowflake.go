// Package wire decodes the chat platform's REST and gateway JSON payloads
// into pkg/types entities. Payloads are a dynamically typed tagged union in
// the wire protocol; here that's a fixed DTO per shape plus a generic
// catch-all for fields the fixed schema doesn't name, folded into each
// entity's Extra map.
package wire

import (
	"encoding/json"
	"strconv"

	"github.com/cuemby/chatvault/pkg/types"
)

// Snowflake unmarshals both the platform's usual quoted-string id form and a
// bare JSON number, since not every endpoint is consistent about it.
type Snowflake types.Snowflake

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = 0
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if str == "" {
			*s = 0
			return nil
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return err
		}
		*s = Snowflake(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = Snowflake(n)
	return nil
}

func (s Snowflake) AsType() types.Snowflake { return types.Snowflake(s) }

func snowflakes(in []Snowflake) []types.Snowflake {
	if in == nil {
		return nil
	}
	out := make([]types.Snowflake, len(in))
	for i, v := range in {
		out[i] = v.AsType()
	}
	return out
}

// extraFields decodes raw into a generic map, deletes every key named in
// known, and returns whatever remains (nil if nothing does). Used to
// populate each entity's Extra field from wire data the fixed schema
// doesn't otherwise capture.
func extraFields(raw json.RawMessage, known ...string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	for _, k := range known {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
