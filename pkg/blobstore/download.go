package blobstore

import (
	"context"
	"fmt"
	"net/http"
	"os"
)

// DownloadOutcome is what a CurrentDownload settles to: a fresh hash with
// its bytes already staged in a temp file, a terminal error code, or
// already-present meaning the store already has a files row for this URL
// and no network request was made.
type DownloadOutcome int

const (
	OutcomeHash DownloadOutcome = iota
	OutcomeError
	OutcomeAlreadyPresent
)

// CurrentDownload is the handle returned by DownloadIfNeeded. Await blocks
// until the fetch settles; it is safe to call Await exactly once.
type CurrentDownload struct {
	URL       string
	outcome   DownloadOutcome
	hash      []byte
	tempPath  string
	errorCode string
	err       error
	done      chan struct{}
}

// Await blocks until the download settles and returns its result. err is
// non-nil only for a transport-level failure the caller should retry
// later; a permanently failed fetch instead settles to OutcomeError with a
// non-empty ErrorCode and a nil err.
func (d *CurrentDownload) Await() (outcome DownloadOutcome, hash []byte, tempPath string, errorCode string, err error) {
	<-d.done
	return d.outcome, d.hash, d.tempPath, d.errorCode, d.err
}

// Discard removes this download's temp file, if any. Called by
// PerformFileTransaction on rollback/abort, and by the transaction driver
// for downloads whose hash turned out to be already referenced elsewhere.
func (d *CurrentDownload) Discard() {
	if d.tempPath != "" {
		_ = os.Remove(d.tempPath)
	}
}

// knownURL reports, via fn, whether url already has a files row — callers
// supply a store lookup so blobstore stays independent of pkg/store.
type KnownURLFunc func(url string) (hash []byte, errorCode string, known bool, err error)

// DownloadIfNeeded returns immediately with a handle that, once awaited,
// yields a new hash with bytes staged in a temp file, a terminal error
// code, or already_present if knownURL reports the url is already tracked.
func (b *BlobStore) DownloadIfNeeded(ctx context.Context, url, downloadURL string, knownURL KnownURLFunc) *CurrentDownload {
	d := &CurrentDownload{URL: url, done: make(chan struct{})}
	go func() {
		defer close(d.done)

		if knownURL != nil {
			if hash, errorCode, known, err := knownURL(url); err != nil {
				d.err = err
				return
			} else if known {
				d.outcome = OutcomeAlreadyPresent
				d.hash = hash
				d.errorCode = errorCode
				return
			}
		}

		b.fetch(ctx, d, downloadURL)
	}()
	return d
}

func (b *BlobStore) fetch(ctx context.Context, d *CurrentDownload, downloadURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		d.err = fmt.Errorf("blobstore: build request for %s: %w", d.URL, err)
		return
	}
	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			d.err = ctx.Err()
			return
		}
		d.err = fmt.Errorf("blobstore: fetch %s: %w", d.URL, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		d.outcome = OutcomeError
		d.errorCode = fmt.Sprintf("http_%d", resp.StatusCode)
		return
	}
	if resp.StatusCode != http.StatusOK {
		d.err = fmt.Errorf("blobstore: fetch %s: unexpected status %d", d.URL, resp.StatusCode)
		return
	}

	tmp, err := b.tempFile()
	if err != nil {
		d.err = err
		return
	}
	defer tmp.Close()

	hash, err := sha256Stream(resp.Body, tmp)
	if err != nil {
		_ = os.Remove(tmp.Name())
		d.err = fmt.Errorf("blobstore: stream %s: %w", d.URL, err)
		return
	}

	d.outcome = OutcomeHash
	d.hash = hash
	d.tempPath = tmp.Name()
}
