// Package gateway implements a reconnecting duplex gateway session: a
// hello/identify/heartbeat/resume state machine built on
// gorilla/websocket, adapted from a server-side fan-out hub (see this
// package's tests and DESIGN.md for the grounding source) into a
// client-side single-session state machine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/chatvault/pkg/log"
	"github.com/cuemby/chatvault/pkg/metrics"
	"github.com/rs/zerolog"
)

// fatalCloseCodes are gateway close codes that indicate an authentication
// or intent error: reconnecting would just fail again, so these bubble up
// as a terminal error instead of scheduling a resume.
var fatalCloseCodes = map[int]bool{
	4004: true, // authentication failed
	4010: true, // invalid shard
	4011: true, // sharding required
	4012: true, // invalid API version
	4013: true, // invalid intent(s)
	4014: true, // disallowed intent(s)
}

// recentLossWindow bounds how long after a ConnectionLost a session_id/seq
// pair is still considered fresh enough to attempt a Resume rather than a
// fresh Identify (spec: "if session_id and last seq known and loss was
// recent").
const recentLossWindow = 60 * time.Second

// Options configures a Connection.
type Options struct {
	AccountID string
	URL       string
	Token     string
	Intents   int64
	Dialer    *websocket.Dialer // nil uses websocket.DefaultDialer
}

// Connection is one account's gateway session. All state transitions and
// socket I/O happen on its own goroutines; callers interact only through
// Events(), SendPayload, and Destroy.
type Connection struct {
	opts Options

	mu           sync.Mutex
	state        State
	ws           *websocket.Conn
	sessionID    string
	seq          int64
	lastLossAt   time.Time
	wasConnected bool

	sendQueue chan Payload
	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	hb     *heartbeater
	logger zerolog.Logger
}

// New constructs a Connection. Call Run to start it; events begin
// arriving on Events() once Run is running.
func New(opts Options) *Connection {
	logger := log.WithComponent("gateway")
	if opts.AccountID != "" {
		logger = log.WithAccount(opts.AccountID)
	}
	return &Connection{
		opts:      opts,
		state:     StateDisconnected,
		sendQueue: make(chan Payload, 64),
		events:    make(chan Event, 256),
		closed:    make(chan struct{}),
		logger:    logger,
	}
}

// Events returns the channel of session lifecycle/dispatch events.
func (c *Connection) Events() <-chan Event { return c.events }

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendPayload queues p for send; queued sends flush once the session
// reaches Ready (spec: "send_payload(p) is queued until Ready").
func (c *Connection) SendPayload(p Payload) {
	select {
	case c.sendQueue <- p:
	case <-c.closed:
	}
}

// Destroy terminates the socket, refuses further sends, and causes
// outstanding receive promises (Events()) to settle by closing the
// channel once in-flight goroutines exit.
func (c *Connection) Destroy() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
		if c.hb != nil {
			c.hb.stop()
		}
	})
}

// Run drives the connect/identify-or-resume/dispatch/reconnect loop until
// ctx is done or Destroy is called. It returns only on a fatal close
// code, on ctx cancellation, or (with a nil error) after Destroy.
func (c *Connection) Run(ctx context.Context) error {
	defer close(c.events)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}

		c.emit(Event{Kind: EventConnecting})
		c.setState(StateConnecting)

		err := c.runOneSession(ctx)
		if err == nil {
			return nil // Destroy was called cleanly.
		}

		var fatal *FatalCloseError
		if errors.As(err, &fatal) {
			return fatal
		}

		c.mu.Lock()
		c.lastLossAt = time.Now()
		wasConnected := c.wasConnected
		c.wasConnected = false
		c.mu.Unlock()

		code := 0
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			code = ce.Code
		}
		c.emit(Event{Kind: EventConnectionLost, WasConnected: wasConnected, CloseCode: code})
		c.setState(StateConnectionLost)
		metrics.GatewayReconnectsTotal.WithLabelValues(c.accountLabel(), reconnectReason(code)).Inc()

		delay := reconnectBackoff(attempt)
		attempt++
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		}
	}
}

// FatalCloseError is returned from Run when the gateway closed with a
// code indicating an authentication or intent error; the caller should
// disconnect the account rather than retry.
type FatalCloseError struct{ Code int }

func (e *FatalCloseError) Error() string {
	return fmt.Sprintf("gateway: fatal close code %d", e.Code)
}

func reconnectReason(closeCode int) string {
	if closeCode == 0 {
		return "network_error"
	}
	return fmt.Sprintf("close_%d", closeCode)
}

func reconnectBackoff(attempt int) time.Duration {
	d := time.Duration(attempt+1) * 2 * time.Second
	const maxBackoff = 60 * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// runOneSession dials, runs Hello/Identify-or-Resume, then pumps
// read/write/heartbeat until the socket closes or ctx/Destroy fires.
func (c *Connection) runOneSession(ctx context.Context) error {
	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("gateway: dial: %w", err)
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		_ = ws.Close()
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
	}()

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return c.wrapReadErr(err)
	}
	var hello Payload
	if err := json.Unmarshal(raw, &hello); err != nil {
		return fmt.Errorf("gateway: decode hello: %w", err)
	}
	if hello.Op != OpHello {
		return fmt.Errorf("gateway: expected Hello, got op %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil {
		return fmt.Errorf("gateway: decode hello data: %w", err)
	}
	c.setState(StateHello)

	c.mu.Lock()
	canResume := c.sessionID != "" && time.Since(c.lastLossAt) < recentLossWindow
	c.mu.Unlock()

	if canResume {
		c.setState(StateResuming)
		if err := c.sendResume(ws); err != nil {
			return err
		}
	} else {
		c.setState(StateIdentifying)
		if err := c.sendIdentify(ws); err != nil {
			return err
		}
	}

	c.hb = newHeartbeater(time.Duration(hd.HeartbeatIntervalMs) * time.Millisecond)
	c.hb.onAck = func(latency time.Duration) {
		metrics.GatewayHeartbeatLatency.WithLabelValues(c.accountLabel()).Observe(latency.Seconds())
	}
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		c.hb.run(func() {
			seq := c.currentSeq()
			_ = c.writePayload(ws, Payload{Op: OpHeartbeat, D: seqJSON(seq)})
		})
	}()

	sessionDone := make(chan struct{})
	sendDone := make(chan error, 1)
	go func() { sendDone <- c.sendLoop(ws, sessionDone) }()

	readDone := make(chan error, 1)
	go func() { readDone <- c.readLoop(ws) }()

	var readErr error
	select {
	case readErr = <-readDone:
	case <-c.hb.missedCh:
		_ = ws.Close()
		readErr = <-readDone
		if readErr == nil {
			readErr = fmt.Errorf("gateway: missed heartbeat ack")
		}
	}

	close(sessionDone)
	c.hb.stop()
	<-hbDone
	return readErr
}

func (c *Connection) sendIdentify(ws *websocket.Conn) error {
	d, _ := json.Marshal(identifyData{
		Token:   c.opts.Token,
		Intents: c.opts.Intents,
		Properties: map[string]any{
			"os": "linux", "browser": "chatvault", "device": "chatvault",
		},
	})
	return c.writePayload(ws, Payload{Op: OpIdentify, D: d})
}

func (c *Connection) sendResume(ws *websocket.Conn) error {
	c.mu.Lock()
	sid, seq := c.sessionID, c.seq
	c.mu.Unlock()
	d, _ := json.Marshal(resumeData{Token: c.opts.Token, SessionID: sid, Seq: seq})
	return c.writePayload(ws, Payload{Op: OpResume, D: d})
}

func (c *Connection) currentSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func seqJSON(seq int64) json.RawMessage {
	if seq == 0 {
		return json.RawMessage("null")
	}
	b, _ := json.Marshal(seq)
	return b
}

func (c *Connection) writePayload(ws *websocket.Conn, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("gateway: marshal payload: %w", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("gateway: write payload: %w", err)
	}
	c.emit(Event{Kind: EventPayloadSent, Payload: p})
	metrics.GatewayEventsTotal.WithLabelValues(fmt.Sprintf("send_op_%d", p.Op)).Inc()
	return nil
}

// sendLoop flushes queued payloads once the session can accept them
// (spec: queued until Ready); it also accepts sends before Ready and
// simply blocks them in the channel buffer.
func (c *Connection) sendLoop(ws *websocket.Conn, sessionDone <-chan struct{}) error {
	for {
		select {
		case p := <-c.sendQueue:
			if err := c.waitUntilReady(sessionDone); err != nil {
				return err
			}
			if err := c.writePayload(ws, p); err != nil {
				return err
			}
		case <-sessionDone:
			return nil
		case <-c.closed:
			return nil
		}
	}
}

func (c *Connection) waitUntilReady(sessionDone <-chan struct{}) error {
	for {
		if c.State() == StateReady {
			return nil
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-sessionDone:
			return fmt.Errorf("gateway: session ended while waiting for ready")
		case <-c.closed:
			return fmt.Errorf("gateway: connection closed while waiting for ready")
		}
	}
}

func (c *Connection) readLoop(ws *websocket.Conn) error {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return c.wrapReadErr(err)
		}
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			c.emit(Event{Kind: EventError, Err: fmt.Errorf("gateway: decode payload: %w", err)})
			continue
		}
		c.emit(Event{Kind: EventPayloadReceived, Payload: p})
		metrics.GatewayEventsTotal.WithLabelValues(fmt.Sprintf("recv_op_%d", p.Op)).Inc()

		if p.S != nil {
			c.mu.Lock()
			c.seq = *p.S
			c.mu.Unlock()
		}

		switch p.Op {
		case OpHeartbeatAck:
			c.hb.ack()
		case OpDispatch:
			c.handleDispatch(p)
		case OpInvalidSession:
			var resumable invalidSessionData
			_ = json.Unmarshal(p.D, &resumable)
			if !bool(resumable) {
				c.emit(Event{Kind: EventSessionLost})
				c.mu.Lock()
				c.sessionID = ""
				c.seq = 0
				c.mu.Unlock()
				return fmt.Errorf("gateway: invalid session, reidentifying")
			}
			return fmt.Errorf("gateway: invalid session, resumable")
		case OpReconnect:
			return fmt.Errorf("gateway: server requested reconnect")
		}
	}
}

func (c *Connection) handleDispatch(p Payload) {
	if p.T == "READY" {
		var rd readyData
		if err := json.Unmarshal(p.D, &rd); err == nil {
			c.mu.Lock()
			c.sessionID = rd.SessionID
			c.wasConnected = true
			c.mu.Unlock()
		}
		c.setState(StateReady)
	}
	// RESUMED dispatch also confirms the session is usable again.
	if p.T == "RESUMED" {
		c.mu.Lock()
		c.wasConnected = true
		c.mu.Unlock()
		c.setState(StateReady)
	}

	c.emit(Event{Kind: EventDispatch, Payload: p, Realtime: isRealtimeEvent(p.T)})
}

// isRealtimeEvent reports the realtime bit: true for live events, false
// for GUILD_CREATE's bulk bring-up and initial member chunks, whose
// nested entities are replayed state rather than a live change.
func isRealtimeEvent(eventName string) bool {
	switch eventName {
	case "GUILD_CREATE", "GUILD_MEMBERS_CHUNK", "READY":
		return false
	default:
		return true
	}
}

func (c *Connection) wrapReadErr(err error) error {
	var ce *websocket.CloseError
	if e, ok := err.(*websocket.CloseError); ok {
		ce = e
		if fatalCloseCodes[ce.Code] {
			return &FatalCloseError{Code: ce.Code}
		}
	}
	return fmt.Errorf("gateway: read: %w", err)
}

func (c *Connection) accountLabel() string {
	if c.opts.AccountID == "" {
		return "unknown"
	}
	return c.opts.AccountID
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.closed:
	}
}
