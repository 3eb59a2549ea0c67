package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/chatvault/pkg/accounts"
	"github.com/cuemby/chatvault/pkg/blobstore"
	"github.com/cuemby/chatvault/pkg/config"
	"github.com/cuemby/chatvault/pkg/ingest"
	"github.com/cuemby/chatvault/pkg/log"
	"github.com/cuemby/chatvault/pkg/metrics"
	"github.com/cuemby/chatvault/pkg/store"
	"github.com/cuemby/chatvault/pkg/types"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// defaultGatewayURL is the Discord gateway endpoint every account dials;
// there is exactly one, so unlike the REST origin it needs no per-account
// override flag.
const defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Discord gateway intent bits the archiver needs: guild/channel/thread
// structure, members, messages, and reactions. MESSAGE_CONTENT and
// GUILD_MEMBERS are privileged and must be enabled for the bot in the
// developer portal or Discord silently withholds the fields they gate.
const (
	intentGuilds                = 1 << 0
	intentGuildMembers          = 1 << 1
	intentGuildMessages         = 1 << 9
	intentGuildMessageReactions = 1 << 10
	intentMessageContent        = 1 << 15
)

const archiverIntents = intentGuilds | intentGuildMembers | intentGuildMessages | intentGuildMessageReactions | intentMessageContent

var archiveCmd = &cobra.Command{
	Use:   "archive DATABASE",
	Short: "Archive guilds into a local snapshot database",
	Long: `Attach to one or more accounts' gateway and REST sessions and
continuously materialize guilds, channels, threads, messages, reactions,
members, and attachments into DATABASE.

Examples:
  # Archive every guild visible to one bot account
  chatvault archive archive.db --token $BOT_TOKEN

  # Archive two accounts, restricted to specific guilds
  chatvault archive archive.db --token $TOKEN1 --token $TOKEN2 \
    --guild 123456789012345678 --guild 234567890123456789

  # Load accounts/guilds from a manifest instead of repeating flags
  chatvault archive archive.db --config accounts.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().StringSlice("token", nil, "account token (repeatable)")
	archiveCmd.Flags().Int64Slice("guild", nil, "restrict ingestion to this guild id (repeatable; default is every visible guild)")
	archiveCmd.Flags().String("config", "", "YAML manifest of accounts/guilds, merged with --token/--guild")
	archiveCmd.Flags().String("token-passphrase", "", "passphrase decrypting a manifest's encrypted_accounts (or set CHATVAULT_TOKEN_PASSPHRASE)")
	archiveCmd.Flags().String("stats", string(config.StatsAuto), "periodic stats line: auto, yes, or no")
	archiveCmd.Flags().Bool("no-sync", false, "skip message backfill (GUILD_CREATE/bring-up mirror only)")
	archiveCmd.Flags().Bool("no-reactions", false, "skip reaction tracking")
	archiveCmd.Flags().Bool("no-files", false, "skip attachment/avatar blob downloads")
	archiveCmd.Flags().String("file-store", "", "blob store directory (default: DATABASE-files)")
	archiveCmd.Flags().String("metrics-addr", "", "address to serve /metrics on (disabled if empty)")
	archiveCmd.Flags().Bool("sync-sqlite", false, "fsync every commit (PRAGMA synchronous=FULL) instead of the default NORMAL")
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveArchiveConfig(cmd, args[0])
	if err != nil {
		return err
	}

	var storeOpts []store.Option
	if cfg.SyncSQLite {
		storeOpts = append(storeOpts, store.WithFullSync())
	}
	st, err := store.Open(cfg.Database, storeOpts...)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	metrics.RegisterComponent("store", true, "")

	blobs, err := blobstore.Open(cfg.FileStorePath)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	guildFilter := make(map[types.Snowflake]bool, len(cfg.GuildIDs))
	for _, id := range cfg.GuildIDs {
		guildFilter[types.Snowflake(id)] = true
	}

	registry := accounts.NewRegistry()
	controller := ingest.New(st, blobs, registry, ingest.Options{
		GuildFilter:   guildFilter,
		SyncMessages:  !cfg.NoSync,
		SyncReactions: !cfg.NoReactions,
		SyncFiles:     !cfg.NoFiles,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i, token := range cfg.Tokens {
		acc, err := registry.Register(ctx, accounts.Options{
			ID:         fmt.Sprintf("account-%d", i+1),
			Token:      token,
			Bot:        true,
			GatewayURL: defaultGatewayURL,
			Intents:    archiverIntents,
		})
		if err != nil {
			return fmt.Errorf("register account %d: %w", i+1, err)
		}
		metrics.RegisterComponent(acc.ID, true, "registered")
		controller.Watch(acc)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- controller.Run(ctx) }()

	var statsStop chan struct{}
	if wantStats(cfg.Stats) {
		statsStop = runStatsLoop(st)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-runErrCh:
		if err != nil {
			log.Logger.Error().Err(err).Msg("ingestion controller exited")
		}
	}

	if statsStop != nil {
		close(statsStop)
	}
	cancel()
	controller.Shutdown()
	return nil
}

func resolveArchiveConfig(cmd *cobra.Command, database string) (*config.ArchiveConfig, error) {
	tokens, _ := cmd.Flags().GetStringSlice("token")
	guildIDs, _ := cmd.Flags().GetInt64Slice("guild")
	manifestPath, _ := cmd.Flags().GetString("config")
	stats, _ := cmd.Flags().GetString("stats")
	noSync, _ := cmd.Flags().GetBool("no-sync")
	noReactions, _ := cmd.Flags().GetBool("no-reactions")
	noFiles, _ := cmd.Flags().GetBool("no-files")
	fileStore, _ := cmd.Flags().GetString("file-store")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	syncSQLite, _ := cmd.Flags().GetBool("sync-sqlite")
	logLevel, _ := cmd.Flags().GetString("log-level")
	tokenPassphrase, _ := cmd.Flags().GetString("token-passphrase")
	if tokenPassphrase == "" {
		tokenPassphrase = os.Getenv("CHATVAULT_TOKEN_PASSPHRASE")
	}

	cfg := &config.ArchiveConfig{
		Database:        database,
		Tokens:          tokens,
		GuildIDs:        guildIDs,
		LogLevel:        logLevel,
		Stats:           config.StatsMode(stats),
		NoSync:          noSync,
		NoReactions:     noReactions,
		NoFiles:         noFiles,
		FileStorePath:   fileStore,
		SyncSQLite:      syncSQLite,
		MetricsAddr:     metricsAddr,
		TokenPassphrase: tokenPassphrase,
	}

	if manifestPath != "" {
		manifest, err := config.LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Merge(manifest); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// wantStats resolves --stats auto against whether stderr (the stats line's
// destination) is actually a terminal, so piping archive's output to a log
// file doesn't fill it with a line nobody will read live.
func wantStats(mode config.StatsMode) bool {
	switch mode {
	case config.StatsYes:
		return true
	case config.StatsAuto:
		return isatty.IsTerminal(os.Stderr.Fd())
	default:
		return false
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Logger.Error().Err(err).Msg("metrics server error")
	}
}

// runStatsLoop prints a one-line snapshot-count summary every 30s, reading
// the store directly rather than routing through the ingestion work queue:
// reads never need to serialize with the writer's single in-flight
// transaction.
func runStatsLoop(st *store.Store) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats, err := st.CountSnapshots()
				if err != nil {
					log.Logger.Warn().Err(err).Msg("stats: count snapshots")
					continue
				}
				fmt.Fprintf(os.Stderr, "[stats] guilds=%d channels=%d threads=%d members=%d messages=%d\n",
					stats.Guilds, stats.Channels, stats.Threads, stats.Members, stats.Messages)
			case <-stop:
				return
			}
		}
	}()
	return stop
}
