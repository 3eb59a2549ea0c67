package config

import (
	"encoding/base64"
	"testing"

	"github.com/cuemby/chatvault/pkg/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresDatabaseAndToken(t *testing.T) {
	c := &ArchiveConfig{}
	assert.Error(t, c.Validate())

	c = &ArchiveConfig{Database: "db.sqlite"}
	assert.Error(t, c.Validate())

	c = &ArchiveConfig{Database: "db.sqlite", Tokens: []string{"abc"}, Stats: StatsAuto}
	require.NoError(t, c.Validate())
	assert.Equal(t, "db.sqlite-files", c.FileStorePath, "an unset file store path defaults off the database path")
}

func TestValidateRejectsUnknownStatsMode(t *testing.T) {
	c := &ArchiveConfig{Database: "db.sqlite", Tokens: []string{"abc"}, Stats: "sometimes"}
	assert.Error(t, c.Validate())
}

func TestMergeAppendsPlainManifestAccounts(t *testing.T) {
	c := &ArchiveConfig{Tokens: []string{"flag-token"}}
	require.NoError(t, c.Merge(&Manifest{Accounts: []string{"manifest-token"}, Guilds: []int64{1}}))
	assert.Equal(t, []string{"flag-token", "manifest-token"}, c.Tokens)
	assert.Equal(t, []int64{1}, c.GuildIDs)
}

func TestMergeNilManifestIsNoOp(t *testing.T) {
	c := &ArchiveConfig{Tokens: []string{"flag-token"}}
	require.NoError(t, c.Merge(nil))
	assert.Equal(t, []string{"flag-token"}, c.Tokens)
}

func TestMergeDecryptsEncryptedAccounts(t *testing.T) {
	mgr, err := secrets.NewManagerFromPassphrase("hunter2")
	require.NoError(t, err)
	encrypted, err := mgr.EncryptToken("secret-token")
	require.NoError(t, err)

	c := &ArchiveConfig{TokenPassphrase: "hunter2"}
	m := &Manifest{EncryptedAccounts: []string{base64.StdEncoding.EncodeToString(encrypted)}}

	require.NoError(t, c.Merge(m))
	assert.Equal(t, []string{"secret-token"}, c.Tokens)
}

func TestMergeWithWrongPassphraseFails(t *testing.T) {
	mgr, err := secrets.NewManagerFromPassphrase("hunter2")
	require.NoError(t, err)
	encrypted, err := mgr.EncryptToken("secret-token")
	require.NoError(t, err)

	c := &ArchiveConfig{TokenPassphrase: "wrong"}
	m := &Manifest{EncryptedAccounts: []string{base64.StdEncoding.EncodeToString(encrypted)}}

	assert.Error(t, c.Merge(m))
}
