package store

import (
	"testing"

	"github.com/cuemby/chatvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeObjectRoundTrip(t *testing.T) {
	g := &types.Guild{
		ID: 1, Name: "acme", Icon: "abc", OwnerID: 2, Description: "d",
		VerificationLevel: 3, ExplicitContentFilterLevel: 1, Features: []string{"COMMUNITY", "NEWS"},
	}

	fields, err := encodeObject(KindGuild, g)
	require.NoError(t, err)
	assert.Equal(t, "acme", fields["name"])
	assert.IsType(t, "", fields["features"], "array-valued columns are stored as a JSON string")
	assert.NotNil(t, fields["_extra"], "the id field isn't a known guild column, so it lands in _extra")

	var out types.Guild
	require.NoError(t, decodeObject(KindGuild, fields, &out))
	assert.Equal(t, g.Name, out.Name)
	assert.Equal(t, g.Features, out.Features)
	assert.Equal(t, g.ID, out.ID, "the id carried through _extra round-trips back")
}

func TestEncodeObjectNilSliceEncodesAsNilColumn(t *testing.T) {
	g := &types.Guild{ID: 1, Name: "acme"}

	fields, err := encodeObject(KindGuild, g)
	require.NoError(t, err)
	assert.Nil(t, fields["features"], "a zero-value slice marshals to JSON null, not an empty array")
	assert.Equal(t, "", fields["icon"], "a zero-value string field is still present, just empty")
}

func TestDecodeObjectSkipsMetaColumns(t *testing.T) {
	row := map[string]any{
		"name": "acme", "_timestamp": int64(100), "_deleted": int64(1), "_extra": nil,
	}
	var out types.Guild
	require.NoError(t, decodeObject(KindGuild, row, &out))
	assert.Equal(t, "acme", out.Name)
}

func TestFlattenAndSetFlatAreInverses(t *testing.T) {
	in := map[string]any{
		"a": "x",
		"b": map[string]any{"c": "y", "d": map[string]any{"e": "z"}},
	}
	flat := make(map[string]any)
	flatten("", in, flat)
	assert.Equal(t, "x", flat["a"])
	assert.Equal(t, "y", flat["b__c"])
	assert.Equal(t, "z", flat["b__d__e"])

	out := make(map[string]any)
	for k, v := range flat {
		setFlat(out, k, v)
	}
	assert.Equal(t, in, out)
}

func TestApplyNormalizationCollapsesZeroDiscriminator(t *testing.T) {
	flat := map[string]any{"username": "alice", "discriminator": "0"}
	applyNormalization(KindUser, flat)
	_, present := flat["discriminator"]
	assert.False(t, present, "a \"0\" discriminator means the user has no legacy tag")
}

func TestApplyNormalizationCollapsesDisabledPrimaryGuildWithNoTagOrBadge(t *testing.T) {
	flat := map[string]any{
		"username": "alice", "primary_guild__identity_enabled": false,
	}
	applyNormalization(KindUser, flat)
	_, present := flat["primary_guild__identity_enabled"]
	assert.False(t, present)
}

func TestApplyNormalizationKeepsDisabledPrimaryGuildWithTag(t *testing.T) {
	flat := map[string]any{
		"username": "alice", "primary_guild__identity_enabled": false, "primary_guild__tag": "DEV",
	}
	applyNormalization(KindUser, flat)
	_, present := flat["primary_guild__identity_enabled"]
	assert.True(t, present, "a tag present alongside a disabled flag keeps the field")
}

func TestApplyNormalizationCollapsesEmptyNameplate(t *testing.T) {
	flat := map[string]any{
		"username": "alice",
		"collectibles__nameplate__sku_id": nil, "collectibles__nameplate__asset": nil,
		"collectibles__nameplate__label": "stale", "collectibles__nameplate__palette": "stale",
	}
	applyNormalization(KindUser, flat)
	_, present := flat["collectibles__nameplate__label"]
	assert.False(t, present, "a nameplate with no sku/asset collapses entirely, including stray label/palette")
}

func TestApplyNormalizationIsNoOpForNonUserKinds(t *testing.T) {
	flat := map[string]any{"discriminator": "0"}
	applyNormalization(KindGuild, flat)
	_, present := flat["discriminator"]
	assert.True(t, present)
}
