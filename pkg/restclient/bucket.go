package restclient

import (
	"sync"
	"time"
)

// bucketState is what the client remembers about one (route, resource)
// bucket between requests: an occupancy lock held for the duration of one
// in-flight request (the per-bucket concurrency-1 limit) and, once the
// server has told us Remaining=0, the time at which it becomes usable
// again. occupancy and the reset deadline are guarded separately since a
// request holds occupancy across the whole call while reading/writing the
// reset deadline only briefly before and after the actual fetch.
type bucketState struct {
	occupancy sync.Mutex

	resetMu  sync.Mutex
	resetAt  time.Time
	hasReset bool
}

// bucketMap tracks bucketState per (route, resource) key, created lazily,
// the same guarded-map shape as a per-client-IP rate limiter map,
// repurposed from "one limiter per source IP" to "one mutex + reset
// deadline per REST bucket".
type bucketMap struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
}

func newBucketMap() *bucketMap {
	return &bucketMap{buckets: make(map[string]*bucketState)}
}

func (m *bucketMap) get(key string) *bucketState {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucketState{}
		m.buckets[key] = b
	}
	return b
}

// pendingReset returns the bucket's known reset deadline, if any.
func (b *bucketState) pendingReset() (time.Time, bool) {
	b.resetMu.Lock()
	defer b.resetMu.Unlock()
	return b.resetAt, b.hasReset
}

func (b *bucketState) setReset(t time.Time) {
	b.resetMu.Lock()
	defer b.resetMu.Unlock()
	b.resetAt = t
	b.hasReset = true
}

func (b *bucketState) clearReset() {
	b.resetMu.Lock()
	defer b.resetMu.Unlock()
	b.hasReset = false
}
