package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"log"
	"net"
	"strings"
	"time"
)

// supportedProtoMajorLo/Hi bound the protocol versions this server will
// complete a handshake with (spec.md §4.C step 1).
const (
	supportedProtoMajorLo = 1
	supportedProtoMajorHi = 2
)

// Reflector wires the session, TG, and VAD layers into the single
// run-loop core described in spec.md §4.F / §5: every mutation of shared
// state happens on the goroutine running Run, fed by events produced by
// Transport and ControlChannel. This is the idiomatic-Go substitute for
// the spec's single-threaded cooperative event loop.
type Reflector struct {
	cfg       *Config
	transport *Transport
	control   *ControlChannel

	sessions     *SessionRegistry
	tgs          *TGHandler
	vad          *VADEngine
	connSessions map[net.Conn]*Session

	qsyCursor uint32

	metrics *Metrics
	mqtt    *MQTTPublisher
	geoip   *GeoIPLookup

	pendingDeletes []uint16
	done           chan struct{}
}

// NewReflector builds a Reflector ready to Run. Optional collaborators
// (metrics, mqtt, geoip, control) may be nil.
func NewReflector(cfg *Config, transport *Transport, control *ControlChannel, metrics *Metrics, mqtt *MQTTPublisher, geoip *GeoIPLookup) *Reflector {
	r := &Reflector{
		cfg:          cfg,
		transport:    transport,
		control:      control,
		sessions:     NewSessionRegistry(),
		connSessions: make(map[net.Conn]*Session),
		metrics:      metrics,
		mqtt:         mqtt,
		geoip:        geoip,
		done:         make(chan struct{}),
	}
	r.tgs = NewTGHandler(r)
	r.vad = NewVADEngine(cfg.VAD, func() Classifier {
		fallback := newRMSPrecheckClassifier(NewDefaultClassifier(cfg.VAD.Threshold), float32(cfg.VAD.Threshold)*0.25)
		if cfg.VAD.SileroModelPath == "" {
			return fallback
		}
		onnx, err := NewONNXClassifier(cfg.VAD.SileroModelPath, cfg.VAD.WindowSizeSamples, cfg.VAD.Threshold)
		if err != nil {
			log.Printf("vad: falling back to RMS-hysteresis classifier: %v", err)
			return fallback
		}
		return onnx
	})
	if lo, _, ok := cfg.RandomQsyRange(); ok {
		r.qsyCursor = lo
	}
	r.tgs.SetSquelchTimeout(time.Duration(cfg.Global.SQLTimeout) * time.Second)
	r.tgs.SetSquelchBlocktime(time.Duration(cfg.Global.SQLTimeoutBlocktime) * time.Second)
	return r
}

// Stop terminates Run.
func (r *Reflector) Stop() { close(r.done) }

// Run drives the reflector's event loop until Stop is called. It is the
// only goroutine that ever reads or writes Session or TGHandler state.
func (r *Reflector) Run() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case ev := <-r.transport.Events:
			r.handleEvent(ev)
		case <-ticker.C:
			r.tgs.CheckTimeouts(time.Now())
			r.drainPendingDeletes()
		case <-r.done:
			return
		}
	}
}

func (r *Reflector) handleEvent(ev *event) {
	switch ev.kind {
	case evConnAccepted:
		r.handleConnAccepted(ev.conn)
	case evStreamMessage:
		if s, ok := r.connSessions[ev.conn]; ok {
			r.handleStreamMessage(s, ev.msg)
		}
	case evStreamClosed:
		if s, ok := r.connSessions[ev.conn]; ok {
			delete(r.connSessions, ev.conn)
			r.disconnectSession(s, "stream closed")
		}
	case evDatagram:
		r.handleDatagram(ev.udpAddr, ev.header, ev.body)
	case evControlCommand:
		ev.respCh <- r.handleControlCommand(ev.cmd)
	case evSnapshotRequest:
		ev.snapshotCh <- r.buildStatusSnapshot()
	case evTgSnapshotRequest:
		ev.tgSnapshotCh <- r.buildTalkgroupSummary()
	}
}

func (r *Reflector) handleConnAccepted(conn net.Conn) {
	s, ok := r.sessions.Allocate(func(id uint16) *Session { return NewSession(id, conn) })
	if !ok {
		log.Printf("reflector: session-id pool exhausted, refusing connection from %s", conn.RemoteAddr())
		conn.Close()
		return
	}
	r.connSessions[conn] = s
}

// --- handshake / stream dispatch ---------------------------------------

func (r *Reflector) handleStreamMessage(s *Session, msg Message) {
	s.LastActive = time.Now()

	switch s.State {
	case StateExpectProtoVer:
		m, ok := msg.(*MsgProtoVer)
		if !ok || !isSupportedProtoVersion(m.Major, m.Minor) {
			r.sendErrorAndDisconnect(s, "unsupported protocol version")
			return
		}
		s.ProtoVerMajor, s.ProtoVerMinor = m.Major, m.Minor
		if _, err := rand.Read(s.nonce[:]); err != nil {
			r.sendErrorAndDisconnect(s, "internal error")
			return
		}
		s.SendStream(&MsgAuthChallenge{Nonce: s.nonce})
		s.State = StateExpectAuthResponse

	case StateExpectAuthResponse:
		m, ok := msg.(*MsgAuthResponse)
		if !ok {
			r.sendErrorAndDisconnect(s, "protocol error")
			return
		}
		if !r.checkAuth(s, m) {
			r.sendErrorAndDisconnect(s, "access denied")
			return
		}
		s.Callsign = m.Callsign
		s.State = StateConnected
		s.SendStream(&MsgAuthOk{})
		s.SendStream(&MsgServerInfo{ServerVersion: reflectorVersion, Nodes: r.connectedCallsigns()})
		r.broadcastStream(&MsgNodeJoined{Callsign: s.Callsign}, ExceptFilter(s))
		if r.metrics != nil {
			r.metrics.SessionConnected()
		}
		if r.mqtt != nil {
			r.mqtt.PublishNodeJoined(s.Callsign)
		}

	case StateConnected:
		switch m := msg.(type) {
		case *MsgSelectTG:
			r.handleSelectTG(s, m.TG)
		case *MsgTGMonitor:
			monitored := make(map[uint32]bool, len(m.TGs))
			for _, tg := range m.TGs {
				monitored[tg] = true
			}
			s.MonitoredTGs = monitored
		case *MsgNodeInfo:
			s.NodeInfoJSON = m.JSON
		case *MsgRequestQsy:
			r.handleRequestQsy(s, m.TG)
		}

	case StateDisconnected:
		// Events for a session already torn down are dropped.
	}
}

func (r *Reflector) checkAuth(s *Session, m *MsgAuthResponse) bool {
	secret, ok := r.cfg.Auth[m.Callsign]
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(s.nonce[:])
	expected := mac.Sum(nil)
	return hmac.Equal(expected, m.HMAC[:])
}

func (r *Reflector) sendErrorAndDisconnect(s *Session, reason string) {
	s.SendStream(&MsgError{Message: reason})
	r.disconnectSession(s, reason)
}

func (r *Reflector) connectedCallsigns() []string {
	var out []string
	for _, s := range r.sessions.All() {
		if s.IsConnected() {
			out = append(out, s.Callsign)
		}
	}
	return out
}

// --- membership / QSY ----------------------------------------------------

func (r *Reflector) handleSelectTG(s *Session, tg uint32) {
	r.tgs.Join(s, tg)
}

func (r *Reflector) handleRequestQsy(s *Session, tg uint32) {
	if s.CurrentTG() == 0 {
		log.Printf("reflector: RequestQsy from %s with no current TG, ignoring", s.Callsign)
		return
	}
	target := tg
	if target == 0 {
		free, ok := r.nextFreeTG()
		if !ok {
			log.Printf("reflector: RequestQsy from %s: no free TG in random range", s.Callsign)
			return
		}
		target = free
	}
	r.broadcastStream(&MsgRequestQsy{TG: target}, r.v2PlusMemberFilter(s.CurrentTG()))
}

// v2PlusMemberFilter matches members of tg speaking protocol v2 or later
// (spec.md §4.F "Broadcast RequestQsy(tg) to all v2+ members").
func (r *Reflector) v2PlusMemberFilter(tg uint32) Filter {
	return And(TgFilter(tg), ProtoVerRangeFilter(2, 255))
}

// nextFreeTG implements the rotating-cursor scan of spec.md §4.F
// ("Random free-TG selection").
func (r *Reflector) nextFreeTG() (uint32, bool) {
	lo, hi, ok := r.cfg.RandomQsyRange()
	if !ok {
		return 0, false
	}
	count := hi - lo + 1
	cursor := r.qsyCursor
	if cursor < lo || cursor > hi {
		cursor = lo
	}
	for i := uint32(0); i < count; i++ {
		candidate := lo + (cursor-lo+i)%count
		if r.tgs.MemberCount(candidate) == 0 {
			r.qsyCursor = candidate + 1
			return candidate, true
		}
	}
	return 0, false
}

// --- TalkerObserver -------------------------------------------------------

// TalkerUpdated implements TalkerObserver (spec.md §4.D, §4.F "Talker
// notifications").
func (r *Reflector) TalkerUpdated(tg uint32, old, new *Session) {
	if old != nil {
		r.broadcastStream(&MsgTalkerStop{TG: tg, Callsign: old.Callsign}, TgFilter(tg))
		r.broadcastDatagram(&MsgUdpFlushSamples{}, And(TgFilter(tg), Not(ExceptFilter(old))))
		if tg == r.cfg.Global.TGForV1Clients {
			r.broadcastStream(&MsgTalkerStopV1{Callsign: old.Callsign}, And(TgFilter(tg), ProtoVerRangeFilter(1, 1)))
		}
		r.vad.ResetSession(old)
		if r.metrics != nil {
			r.metrics.TalkerStop(tg)
		}
		if r.mqtt != nil {
			r.mqtt.PublishTalkerStop(tg, old.Callsign)
		}
	}
	if new != nil {
		r.broadcastStream(&MsgTalkerStart{TG: tg, Callsign: new.Callsign}, TgFilter(tg))
		if tg == r.cfg.Global.TGForV1Clients {
			r.broadcastStream(&MsgTalkerStartV1{Callsign: new.Callsign}, And(TgFilter(tg), ProtoVerRangeFilter(1, 1)))
		}
		if r.metrics != nil {
			r.metrics.TalkerStart(tg)
		}
		if r.mqtt != nil {
			r.mqtt.PublishTalkerStart(tg, new.Callsign)
		}
	}
}

// RequestAutoQsy implements TalkerObserver (spec.md §4.D "Auto-QSY").
func (r *Reflector) RequestAutoQsy(fromTG uint32) {
	free, ok := r.nextFreeTG()
	if !ok {
		log.Printf("reflector: auto-QSY from TG %d: no free TG in random range", fromTG)
		return
	}
	r.broadcastStream(&MsgRequestQsy{TG: free}, r.v2PlusMemberFilter(fromTG))
}

// --- datagram dispatch -----------------------------------------------------

func (r *Reflector) handleDatagram(addr *net.UDPAddr, header DatagramHeader, body []byte) {
	s, ok := r.sessions.Get(header.ClientID)
	if !ok || !s.IsConnected() {
		log.Printf("reflector: datagram for unknown client_id %d from %s, dropping", header.ClientID, addr)
		return
	}

	if s.UDPAddr == nil {
		s.UDPAddr = addr
		r.sendDatagram(s, &MsgUdpHeartbeat{})
	} else if !udpAddrEqual(s.UDPAddr, addr) {
		log.Printf("reflector: datagram source mismatch for client_id %d: got %s, want %s", header.ClientID, addr, s.UDPAddr)
		return
	}

	s.LastActive = time.Now()

	if !s.AcceptSeq(header.Seq) {
		return // stale or reordered, dropped per sequence rule
	}

	msg, err := DecodeDatagramMessage(header, body)
	if err != nil || msg == nil {
		return
	}

	switch m := msg.(type) {
	case *MsgUdpHeartbeat:
		// keepalive already accepted by reaching here
	case *MsgUdpAudio:
		r.handleUdpAudio(s, m)
	case *MsgUdpFlushSamples:
		r.handleFlushSamples(s)
	case *MsgUdpAllSamplesFlushed:
		// ignored
	case *MsgUdpSignalStrengthValues:
		s.ApplyTelemetry(m.Values)
	}
}

func (r *Reflector) handleUdpAudio(s *Session, m *MsgUdpAudio) {
	now := time.Now()
	if s.IsBlocked(now) {
		return
	}
	tg := s.CurrentTG()
	if tg == 0 {
		return
	}
	if !r.tgs.HandleAudio(s, tg, now) {
		return
	}

	if r.cfg.IsVADCallsign(s.Callsign) && (s.vad == nil || !s.vad.voiceDetected) {
		result, err := r.vad.Admit(s, m)
		if err != nil {
			log.Printf("reflector: vad gate error for %s: %v", s.Callsign, err)
			return
		}
		if result.Disconnect {
			if r.metrics != nil {
				r.metrics.VADDenied(s.Callsign)
			}
			r.disconnectSession(s, "vad gate exhausted")
			return
		}
		for _, released := range result.Release {
			r.broadcastAudio(s, tg, released)
		}
		return
	}

	r.broadcastAudio(s, tg, m)
}

func (r *Reflector) broadcastAudio(s *Session, tg uint32, m *MsgUdpAudio) {
	r.broadcastDatagram(m, And(TgFilter(tg), Not(ExceptFilter(s))))
	if r.metrics != nil {
		r.metrics.AudioBroadcast(tg)
	}
}

func (r *Reflector) handleFlushSamples(s *Session) {
	if r.tgs.IsTalker(s) {
		r.tgs.HandleFlush(s)
	}
	r.sendDatagram(s, &MsgUdpAllSamplesFlushed{})
}

// --- broadcast primitives --------------------------------------------------

// broadcastStream sends m to every CONNECTED session matching f (spec.md
// §4.F "Broadcast with filter"). The snapshot of sessions is taken once
// up front so the pass is atomic with respect to membership changes
// triggered by the sends themselves.
func (r *Reflector) broadcastStream(m Message, f Filter) {
	for _, s := range r.sessions.All() {
		if s.IsConnected() && f(s) {
			if err := s.SendStream(m); err != nil {
				log.Printf("reflector: stream write to %s failed: %v", s.Callsign, err)
			}
		}
	}
}

// broadcastDatagram sends m to every CONNECTED, UDP-bound session
// matching f.
func (r *Reflector) broadcastDatagram(m Message, f Filter) {
	for _, s := range r.sessions.All() {
		if s.IsConnected() && s.UDPAddr != nil && f(s) {
			r.sendDatagram(s, m)
		}
	}
}

func (r *Reflector) sendDatagram(s *Session, m Message) {
	header := DatagramHeader{Type: m.Type(), ClientID: s.ID, Seq: s.NextSeq()}
	if err := r.transport.WriteDatagram(s.UDPAddr, EncodeDatagram(header, m)); err != nil {
		log.Printf("reflector: datagram write to %s failed: %v", s.Callsign, err)
	}
}

// --- lifecycle -------------------------------------------------------------

// disconnectSession removes s from all TGs immediately, then schedules
// its registry entry for deletion on the next scheduler tick (spec.md §3
// "Lifecycle", §5 "Cancellation & timeouts").
func (r *Reflector) disconnectSession(s *Session, reason string) {
	if s.State == StateDisconnected {
		return
	}
	wasConnected := s.IsConnected()
	s.disconnectReason = reason
	s.State = StateDisconnected
	r.tgs.RemoveSession(s)
	s.Close()
	log.Printf("reflector: session %s (%s) disconnected: %s", s.Callsign, s.CorrelationID, reason)

	if wasConnected {
		r.broadcastStream(&MsgNodeLeft{Callsign: s.Callsign}, NoFilter())
		if r.metrics != nil {
			r.metrics.SessionDisconnected()
		}
		if r.mqtt != nil {
			r.mqtt.PublishNodeLeft(s.Callsign)
		}
	}
	r.pendingDeletes = append(r.pendingDeletes, s.ID)
}

func (r *Reflector) drainPendingDeletes() {
	for _, id := range r.pendingDeletes {
		r.sessions.Delete(id)
	}
	r.pendingDeletes = r.pendingDeletes[:0]
}

// --- control channel --------------------------------------------------------

// handleControlCommand implements the PTY CFG command of spec.md §6.
func (r *Reflector) handleControlCommand(line string) string {
	fields := strings.Fields(line)
	if len(fields) != 4 || !strings.EqualFold(fields[0], "CFG") {
		return "ERR:unknown command\n"
	}
	section, key, value := fields[1], fields[2], fields[3]
	if err := r.cfg.ApplyOverride(section, key, value); err != nil {
		return fmt.Sprintf("ERR:%s\n", err)
	}
	if strings.EqualFold(section, "GLOBAL") {
		switch strings.ToUpper(key) {
		case "SQL_TIMEOUT":
			r.tgs.SetSquelchTimeout(time.Duration(r.cfg.Global.SQLTimeout) * time.Second)
		case "SQL_TIMEOUT_BLOCKTIME":
			r.tgs.SetSquelchBlocktime(time.Duration(r.cfg.Global.SQLTimeoutBlocktime) * time.Second)
		}
	}
	return "OK\n"
}

func udpAddrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
