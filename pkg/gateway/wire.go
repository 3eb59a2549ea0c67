package gateway

import "encoding/json"

// Opcode is the gateway's op field.
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

// Payload is the envelope every gateway frame is JSON-marshaled/unmarshaled
// through: {op, d, s, t}. S and T are only present on Dispatch frames.
type Payload struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// helloData is OpHello's payload.
type helloData struct {
	HeartbeatIntervalMs int64 `json:"heartbeat_interval"`
}

// identifyData is OpIdentify's payload.
type identifyData struct {
	Token      string         `json:"token"`
	Intents    int64          `json:"intents"`
	Properties map[string]any `json:"properties"`
}

// resumeData is OpResume's payload.
type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// readyData is the minimal subset of the READY dispatch this package
// needs to remember a session for future resumes.
type readyData struct {
	SessionID string `json:"session_id"`
}

// invalidSessionData is OpInvalidSession's payload: whether the session is
// resumable.
type invalidSessionData bool
