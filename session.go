package main

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// ConnState is a session's position in the handshake state machine
// (spec.md §4.C).
type ConnState int

const (
	StateExpectProtoVer ConnState = iota
	StateExpectAuthResponse
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateExpectProtoVer:
		return "EXPECT_PROTO_VER"
	case StateExpectAuthResponse:
		return "EXPECT_AUTH_RESPONSE"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// RxTelemetry is the latest reported state of one of a node's receivers,
// keyed by the single-character receiver id reported in
// MsgUdpSignalStrengthValues (spec.md §4.C).
type RxTelemetry struct {
	SigLev  int16
	Enabled bool
	SqlOpen bool
	Active  bool
}

// Session is a reflector's view of one connected node (the "Client" of
// spec.md §3). Every field is only ever touched by the reflector's single
// run-loop goroutine; readers elsewhere (status JSON, MCP tools) work off
// of snapshots produced on that same goroutine, never off the live
// Session (see reflector.go's statusSnapshot).
type Session struct {
	ID uint16

	// CorrelationID ties together log lines for this session across its
	// lifetime, independent of the reused numeric ID.
	CorrelationID string

	conn       net.Conn // the accepted TCP control connection
	StreamAddr net.Addr
	UDPAddr    *net.UDPAddr // nil until learned from first datagram

	ProtoVerMajor uint8
	ProtoVerMinor uint8

	Callsign string
	nonce    [AuthNonceSize]byte

	State ConnState

	CurrentTGID  uint32
	MonitoredTGs map[uint32]bool

	NodeInfoJSON string
	Receivers    map[byte]*RxTelemetry

	// Sequence tracking (spec.md §3, §8 property 3).
	NextExpectedSeq uint16
	haveSeenSeq     bool
	NextOutboundSeq uint16

	BlockedUntil time.Time

	// VAD gate state for the session's current talk spell (spec.md §4.E).
	vad *vadGateState

	ConnectedAt time.Time
	LastActive  time.Time

	// disconnectReason is set when the session is marked DISCONNECTED so
	// log lines and the deferred-delete pass can explain why.
	disconnectReason string
}

// NewSession constructs a fresh session in its initial handshake state.
func NewSession(id uint16, conn net.Conn) *Session {
	return &Session{
		ID:              id,
		CorrelationID:   uuid.NewString(),
		conn:            conn,
		StreamAddr:      conn.RemoteAddr(),
		State:           StateExpectProtoVer,
		MonitoredTGs:    make(map[uint32]bool),
		Receivers:       make(map[byte]*RxTelemetry),
		ConnectedAt:     time.Now(),
		LastActive:      time.Now(),
		NextOutboundSeq: 0,
	}
}

// CurrentTG returns the TG this session currently belongs to, 0 meaning
// none (spec.md §3).
func (s *Session) CurrentTG() uint32 { return s.CurrentTGID }

// IsMonitoring reports whether the session subscribed to monitor
// notifications for tg.
func (s *Session) IsMonitoring(tg uint32) bool { return s.MonitoredTGs[tg] }

// ProtoMajor returns the negotiated protocol major version.
func (s *Session) ProtoMajor() uint8 { return s.ProtoVerMajor }

// IsConnected reports whether the session has completed the handshake and
// has not since been torn down.
func (s *Session) IsConnected() bool { return s.State == StateConnected }

// IsBlocked reports whether the session is within its post-squelch-timeout
// penalty window (spec.md §4.C "Blocking").
func (s *Session) IsBlocked(now time.Time) bool {
	return !s.BlockedUntil.IsZero() && now.Before(s.BlockedUntil)
}

// AcceptSeq applies the half-range forward-window rule of spec.md §3/§8 to
// an inbound datagram sequence number. The first datagram received is
// always accepted and seeds NextExpectedSeq.
func (s *Session) AcceptSeq(seq uint16) bool {
	if !s.haveSeenSeq {
		s.haveSeenSeq = true
		s.NextExpectedSeq = seq + 1
		return true
	}
	if !SeqForwardWindow(s.NextExpectedSeq, seq) {
		return false
	}
	s.NextExpectedSeq = seq + 1
	return true
}

// NextSeq returns the next outbound sequence number and advances the
// counter.
func (s *Session) NextSeq() uint16 {
	seq := s.NextOutboundSeq
	s.NextOutboundSeq++
	return seq
}

// ApplyTelemetry updates per-receiver telemetry from a
// MsgUdpSignalStrengthValues message (spec.md §4.C).
func (s *Session) ApplyTelemetry(values []RxStatus) {
	for _, v := range values {
		rx, ok := s.Receivers[v.ID]
		if !ok {
			rx = &RxTelemetry{}
			s.Receivers[v.ID] = rx
		}
		rx.SigLev = v.SigLev
		rx.Enabled = v.Enabled
		rx.SqlOpen = v.SqlOpen
		rx.Active = v.Active
	}
}

// SendStream writes m as a framed record on the session's control
// connection. Only ever called from the reflector's run-loop goroutine,
// so no synchronization is needed around conn.Write.
func (s *Session) SendStream(m Message) error {
	_, err := s.conn.Write(EncodeStreamFrame(m))
	return err
}

// Close tears down the underlying control connection. The session itself
// is removed from the registry separately once the reflector has
// finished processing any in-flight events for it (spec.md §3
// "Lifecycle": "Deletion is deferred to a subsequent scheduler tick").
func (s *Session) Close() error {
	return s.conn.Close()
}

// Block sets the post-deposition penalty window; if d is zero no block is
// applied (spec.md §4.D).
func (s *Session) Block(now time.Time, d time.Duration) {
	if d <= 0 {
		return
	}
	s.BlockedUntil = now.Add(d)
}

// SessionRegistry allocates 16-bit session ids with a tombstone reuse
// scheme: an id is only handed out again after its prior session has been
// fully deleted (spec.md §3 "Lifecycle", §5 "session-id allocator").
type SessionRegistry struct {
	sessions map[uint16]*Session
	next     uint16
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[uint16]*Session)}
}

// Allocate reserves a fresh session id and registers s under it, wrapping
// at 2^16 and skipping ids still in use (spec.md §3, §5). It returns false
// if every id is currently live (ResourceExhaustion, spec.md §7).
func (r *SessionRegistry) Allocate(newSession func(id uint16) *Session) (*Session, bool) {
	start := r.next
	for {
		id := r.next
		r.next++
		if _, inUse := r.sessions[id]; !inUse {
			s := newSession(id)
			r.sessions[id] = s
			return s, true
		}
		if r.next == start {
			return nil, false
		}
	}
}

// Get looks up a session by id.
func (r *SessionRegistry) Get(id uint16) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Delete removes a session's id from the registry, releasing the id for
// reuse. Must only be called once the session has been fully torn down
// (spec.md §3 "Deferred deletion", §9 "Ownership of sessions").
func (r *SessionRegistry) Delete(id uint16) {
	delete(r.sessions, id)
}

// All returns every currently registered session. Callers must not mutate
// the returned slice's sessions from outside the run-loop goroutine.
func (r *SessionRegistry) All() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered sessions.
func (r *SessionRegistry) Count() int { return len(r.sessions) }
