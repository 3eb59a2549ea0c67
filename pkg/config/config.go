// Package config collects archive command flags and the optional YAML
// account/guild manifest into a single validated ArchiveConfig.
package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/cuemby/chatvault/pkg/secrets"
	"gopkg.in/yaml.v3"
)

// StatsMode controls whether the periodic stats line is printed.
type StatsMode string

const (
	StatsAuto StatsMode = "auto" // print only when stderr is a terminal
	StatsYes  StatsMode = "yes"
	StatsNo   StatsMode = "no"
)

// ArchiveConfig is the fully resolved configuration for the archive command,
// after merging repeated flags with an optional --config manifest.
type ArchiveConfig struct {
	Database        string
	Tokens          []string
	GuildIDs        []int64
	LogLevel        string
	Stats           StatsMode
	NoSync          bool
	NoReactions     bool
	NoFiles         bool
	FileStorePath   string
	SyncSQLite      bool
	MetricsAddr     string
	TokenPassphrase string // decrypts Manifest.EncryptedAccounts, if any
}

// Manifest is the shape of an optional --config FILE YAML document, used to
// declare many accounts/guilds without repeating --token/--guild on the
// command line. EncryptedAccounts holds tokens encrypted with
// pkg/secrets, base64-encoded for YAML, for manifests kept somewhere
// shared rather than a local-only file.
type Manifest struct {
	Accounts          []string `yaml:"accounts"`
	EncryptedAccounts []string `yaml:"encrypted_accounts"`
	Guilds            []int64  `yaml:"guilds"`
}

// DecryptAccounts decrypts m's EncryptedAccounts with passphrase, returning
// the plaintext tokens in the same order. Returns nil, nil if m has none.
func (m *Manifest) DecryptAccounts(passphrase string) ([]string, error) {
	if len(m.EncryptedAccounts) == 0 {
		return nil, nil
	}
	mgr, err := secrets.NewManagerFromPassphrase(passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt manifest accounts: %w", err)
	}
	out := make([]string, 0, len(m.EncryptedAccounts))
	for i, enc := range m.EncryptedAccounts {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decrypt manifest accounts: entry %d: not valid base64: %w", i, err)
		}
		token, err := mgr.DecryptToken(raw)
		if err != nil {
			return nil, fmt.Errorf("decrypt manifest accounts: entry %d: %w", i, err)
		}
		out = append(out, token)
	}
	return out, nil
}

// LoadManifest reads and parses a YAML account/guild manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &m, nil
}

// Merge folds a manifest's accounts/guilds into the config, appending to
// whatever --token/--guild flags already supplied. EncryptedAccounts are
// decrypted with c.TokenPassphrase before being appended.
func (c *ArchiveConfig) Merge(m *Manifest) error {
	if m == nil {
		return nil
	}
	c.Tokens = append(c.Tokens, m.Accounts...)
	c.GuildIDs = append(c.GuildIDs, m.Guilds...)

	if len(m.EncryptedAccounts) == 0 {
		return nil
	}
	decrypted, err := m.DecryptAccounts(c.TokenPassphrase)
	if err != nil {
		return err
	}
	c.Tokens = append(c.Tokens, decrypted...)
	return nil
}

// Validate enforces the invariants the CLI surface promises: at least one
// token, a non-empty database path, and a recognized stats mode.
func (c *ArchiveConfig) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("a DATABASE path is required")
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("at least one --token (or config manifest account) is required")
	}
	switch c.Stats {
	case StatsAuto, StatsYes, StatsNo:
	default:
		return fmt.Errorf("invalid --stats mode %q: must be auto, yes, or no", c.Stats)
	}
	if c.FileStorePath == "" {
		c.FileStorePath = c.Database + "-files"
	}
	return nil
}
