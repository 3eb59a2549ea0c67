package restclient

import "time"

// backoffDelay computes the retry delay for 5xx responses and
// network-level errors: +2s per attempt, capped at 60s. attempt is
// 0-indexed (the delay before the *next* retry, after `attempt` failures
// so far). No third-party backoff library appears as a direct dependency
// anywhere in the example pack, so this stays a small stdlib helper rather
// than reaching for one.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(attempt+1) * 2 * time.Second
	const maxBackoff = 60 * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
