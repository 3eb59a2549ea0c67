package restclient

import (
	"sync"
	"time"

	"github.com/cuemby/chatvault/pkg/log"
)

// settleGrace is how long a fetch may run before the monitor logs it as
// diagnostically slow. Ideally this grace would run from the moment a
// cancellation signal arrives rather than from request start, but since
// Request's ctx cancellation already carries that signal, a flat grace
// from when the request began is equivalent in practice.
const settleGrace = 30 * time.Second

// unsettledMonitor periodically scans in-flight requests for ones that
// have outrun settleGrace, a ticker-driven liveness check generalized
// from "container passed its liveness deadline" to "fetch passed its
// settle deadline".
type unsettledMonitor struct {
	mu       sync.Mutex
	inFlight map[*inFlightRequest]struct{}
	stopCh   chan struct{}
}

type inFlightRequest struct {
	label     string
	startedAt time.Time
}

func newUnsettledMonitor() *unsettledMonitor {
	return &unsettledMonitor{inFlight: make(map[*inFlightRequest]struct{}), stopCh: make(chan struct{})}
}

func (m *unsettledMonitor) start() {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *unsettledMonitor) stop() {
	close(m.stopCh)
}

func (m *unsettledMonitor) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for req := range m.inFlight {
		if now.Sub(req.startedAt) > settleGrace {
			log.Logger.Warn().Str("label", req.label).Msg("restclient: fetch has not settled within grace period")
		}
	}
}

func (m *unsettledMonitor) begin(label string) *inFlightRequest {
	req := &inFlightRequest{label: label, startedAt: time.Now()}
	m.mu.Lock()
	m.inFlight[req] = struct{}{}
	m.mu.Unlock()
	return req
}

func (m *unsettledMonitor) end(req *inFlightRequest) {
	m.mu.Lock()
	delete(m.inFlight, req)
	m.mu.Unlock()
}
