/*
Package log provides structured logging for chatvault using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
context-scoped child loggers and configurable level/format/output, so every
component logs through the same global instance instead of constructing its
own zerolog.Logger.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("archiver starting")
	log.Warn("gateway reconnect")
	log.Error("rest request failed")
	log.Fatal("cannot open store") // exits process

Scoped loggers:

	acctLog := log.WithAccount("account-1")
	acctLog.Info().Msg("gateway session resumed")

	guildLog := log.WithGuildID(guildID)
	guildLog.Debug().Int64("channel_id", channelID).Msg("initial sync started")

Structured fields compose the same way as any zerolog.Logger:

	log.Logger.Error().
		Err(err).
		Str("account_id", acc.ID).
		Int64("channel_id", channelID).
		Msg("backfill request failed")

# Design

A single package-level Logger is initialized once via Init and is safe for
concurrent use. WithComponent/WithAccount/WithGuildID/WithChannelID return
child loggers with one context field attached; chain With() calls on the
result to add more. Never log raw account tokens — pass account IDs, not
tokens, to these helpers.
*/
package log
