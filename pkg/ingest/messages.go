package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/chatvault/pkg/accounts"
	"github.com/cuemby/chatvault/pkg/blobstore"
	"github.com/cuemby/chatvault/pkg/metrics"
	"github.com/cuemby/chatvault/pkg/restclient"
	"github.com/cuemby/chatvault/pkg/store"
	"github.com/cuemby/chatvault/pkg/types"
	"github.com/cuemby/chatvault/pkg/wire"
)

// syncFinished is submitted onto the work queue once a spawned sync
// goroutine (message backfill or thread enumeration) returns, so the
// bookkeeping it affects (SyncInfo, resumed-channel eligibility) is only
// ever touched from Run's goroutine.
type syncFinished struct {
	channel types.Snowflake
	err     error
}

// startMessageSync registers key as running on acc and spawns its backfill
// on its own goroutine. Returns false if a sync for key is already running
// on acc.
func (c *Controller) startMessageSync(acc *accounts.Account, key accounts.ChannelKey, private bool, upstreamLastID types.Snowflake) bool {
	op, ok := acc.StartMessageSync(context.Background(), key, private)
	if !ok {
		return false
	}
	go func() {
		err := c.syncMessages(op.Context(), acc, key, upstreamLastID)
		acc.FinishMessageSync(key, private, op)
		c.submit(syncFinished{channel: key.Channel, err: err})
	}()
	return true
}

// syncMessages implements sync_messages: resume from the
// last stored message id, paginate /channels/{id}/messages?after= in pages
// of 100 walked oldest to newest, and stop once a page comes back short or
// a message's write reports it was already known (the backfill has caught
// up to previously-synced history). A message carrying reactions or
// attachments is written in its own transaction; the rest of a page is
// batched into one.
func (c *Controller) syncMessages(ctx context.Context, acc *accounts.Account, key accounts.ChannelKey, upstreamLastID types.Snowflake) error {
	after, err := c.lastStoredMessageID(key.Channel)
	if err != nil {
		return err
	}
	firstID := after

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.abort:
			return nil
		default:
		}

		resp, err := acc.REST.Request(ctx, routeChannelMessages, sf(key.Channel), messagesPath(key.Channel, after), restclient.FetchOpts{})
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == 403 || resp.StatusCode == 404:
			c.logger.Warn().Int("status", resp.StatusCode).Str("channel_id", sf(key.Channel)).
				Msg("message sync lost access, hanging until abort")
			<-ctx.Done()
			return nil
		case resp.StatusCode != 200:
			c.logger.Warn().Int("status", resp.StatusCode).Str("channel_id", sf(key.Channel)).
				Msg("message sync stopped on unexpected status")
			return nil
		}

		var raws []json.RawMessage
		if err := json.Unmarshal(resp.Body, &raws); err != nil {
			return fmt.Errorf("ingest: decode messages page: %w", err)
		}
		reverseRaw(raws) // wire order is newest-first; walk oldest to newest

		var batch []json.RawMessage
		stop := false
		for _, raw := range raws {
			hasExtras, id, err := messageHasExtras(raw)
			if err != nil {
				return err
			}
			after = id

			if hasExtras {
				if len(batch) > 0 {
					batchStop, err := c.writeSimpleMessages(batch)
					if err != nil {
						return err
					}
					batch = batch[:0]
					if batchStop {
						stop = true
						break
					}
				}
				msgStop, err := c.writeComplexMessage(ctx, acc, raw)
				if err != nil {
					return err
				}
				if msgStop {
					stop = true
					break
				}
				continue
			}
			batch = append(batch, raw)
		}
		if !stop && len(batch) > 0 {
			batchStop, err := c.writeSimpleMessages(batch)
			if err != nil {
				return err
			}
			stop = stop || batchStop
		}

		metrics.MessageSyncProgress.WithLabelValues(sf(key.Channel)).Set(progressFraction(firstID, after, upstreamLastID))

		if stop || len(raws) < 100 {
			return nil
		}
	}
}

// messageHasExtras peeks at a raw message's reactions/attachments without
// fully decoding it, to decide which write path it takes.
func messageHasExtras(raw json.RawMessage) (bool, types.Snowflake, error) {
	var probe struct {
		ID          wire.Snowflake    `json:"id"`
		Attachments []json.RawMessage `json:"attachments"`
		Reactions   []json.RawMessage `json:"reactions"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false, 0, fmt.Errorf("ingest: probe message: %w", err)
	}
	return len(probe.Attachments) > 0 || len(probe.Reactions) > 0, probe.ID.AsType(), nil
}

func reverseRaw(s []json.RawMessage) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// writeSimpleMessages writes a run of reaction/attachment-free messages in
// one transaction, stopping (without erroring) at the first one whose
// write reports it was already known.
func (c *Controller) writeSimpleMessages(batch []json.RawMessage) (stop bool, err error) {
	if len(batch) == 0 {
		return false, nil
	}
	timing := store.EncodeTiming(time.Now().UnixMilli(), false)
	err = c.store.Transact(func(tx *store.Tx) error {
		for _, raw := range batch {
			decoded, derr := wire.DecodeMessage(raw, 0)
			if derr != nil {
				return derr
			}
			result, werr := c.store.AddMessageSnapshot(tx, decoded.Message, timing)
			if werr != nil {
				return werr
			}
			metrics.ObjectsWrittenTotal.WithLabelValues("message").Inc()
			if result != store.AddedFirst {
				stop = true
				return nil
			}
		}
		return nil
	})
	return stop, err
}

// writeComplexMessage writes one message carrying reactions and/or
// attachments in its own perform_file_transaction, downloading any
// attachment files and listing any reaction placements first.
func (c *Controller) writeComplexMessage(ctx context.Context, acc *accounts.Account, raw json.RawMessage) (stop bool, err error) {
	decoded, err := wire.DecodeMessage(raw, 0)
	if err != nil {
		return false, err
	}

	attachments := make([]*types.Attachment, 0, len(decoded.Attachments))
	var downloads []*blobstore.CurrentDownload
	for _, rawAtt := range decoded.Attachments {
		att, aerr := wire.DecodeAttachment(rawAtt, decoded.Message.ID)
		if aerr != nil {
			return false, aerr
		}
		attachments = append(attachments, att)
		decoded.Message.Attachments = append(decoded.Message.Attachments, att.ID)
		if c.opts.SyncFiles && att.URL != "" {
			downloads = append(downloads, c.blobs.DownloadIfNeeded(ctx, att.URL, att.URL, c.knownURL()))
		}
	}

	type placement struct {
		userID types.Snowflake
		key    string
	}
	var placements []placement
	if c.opts.SyncReactions {
		for _, r := range decoded.Reactions {
			key := r.Emoji.Key()
			users, rerr := c.listReactionUsers(ctx, acc, decoded.Message.ChannelID, decoded.Message.ID, key)
			if rerr != nil {
				return false, rerr
			}
			for _, u := range users {
				placements = append(placements, placement{userID: u, key: key})
			}
		}
	}

	timing := store.EncodeTiming(time.Now().UnixMilli(), false)
	err = c.blobs.PerformFileTransaction(c.store, c.abort, downloads, func(tx *store.Tx) error {
		result, werr := c.store.AddMessageSnapshot(tx, decoded.Message, timing)
		if werr != nil {
			return werr
		}
		metrics.ObjectsWrittenTotal.WithLabelValues("message").Inc()

		for _, att := range attachments {
			if werr := c.store.AddAttachment(tx, att); werr != nil {
				return werr
			}
		}
		for _, d := range downloads {
			_, hash, _, errorCode, derr := d.Await()
			if derr != nil {
				return derr
			}
			if uerr := c.store.UpsertFile(tx, d.URL, hash, errorCode, timing.UnixMilli()); uerr != nil {
				return uerr
			}
		}
		for _, p := range placements {
			if perr := c.store.AddReactionPlacement(tx, int64(decoded.Message.ID), p.key, types.ReactionTypeNormal, int64(p.userID), timing); perr != nil {
				return perr
			}
		}

		if result != store.AddedFirst {
			stop = true
		}
		return nil
	})
	return stop, err
}

// listReactionUsers paginates the per-emoji reaction-listing endpoint to
// completion, returning every user id that placed emojiKey on message.
func (c *Controller) listReactionUsers(ctx context.Context, acc *accounts.Account, channelID, messageID types.Snowflake, emojiKey string) ([]types.Snowflake, error) {
	var out []types.Snowflake
	var after types.Snowflake
	for {
		path := reactionsPath(channelID, messageID, emojiKey, int(types.ReactionTypeNormal), after)
		resp, err := acc.REST.Request(ctx, routeReactionsByEmoji, sf(channelID), path, restclient.FetchOpts{})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != 200 {
			return out, nil
		}
		var users []wire.User
		if err := json.Unmarshal(resp.Body, &users); err != nil {
			return nil, fmt.Errorf("ingest: decode reaction users: %w", err)
		}
		if len(users) == 0 {
			return out, nil
		}
		for _, u := range users {
			id := u.ID.AsType()
			out = append(out, id)
			after = id
		}
		if len(users) < 100 {
			return out, nil
		}
	}
}

// knownURL adapts the store's files table lookup to blobstore.KnownURLFunc,
// reading outside any transaction since it runs before one is open.
func (c *Controller) knownURL() blobstore.KnownURLFunc {
	return func(url string) (hash []byte, errorCode string, known bool, err error) {
		v, err := c.store.Read(func(tx *store.Tx) (any, error) {
			return c.store.FileByURL(tx, url)
		})
		if err != nil {
			return nil, "", false, err
		}
		f, _ := v.(*types.File)
		if f == nil {
			return nil, "", false, nil
		}
		return f.Hash, f.ErrorCode, true, nil
	}
}

// lastStoredMessageID resolves the resume point for a channel's backfill.
func (c *Controller) lastStoredMessageID(channel types.Snowflake) (types.Snowflake, error) {
	v, err := c.store.Read(func(tx *store.Tx) (any, error) {
		id, _, err := c.store.LastMessageID(tx, int64(channel))
		return id, err
	})
	if err != nil {
		return 0, err
	}
	return types.Snowflake(v.(int64)), nil
}

// progressFraction implements the (current-first)/(last-first) progress
// metric; a channel with no span yet (or an upstream id at or before the
// start) reports complete.
func progressFraction(first, current, last types.Snowflake) float64 {
	if last <= first {
		return 1
	}
	return float64(current-first) / float64(last-first)
}
