package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MsgType is the u16 type tag carried by every control and datagram message
// (spec.md §4.A).
type MsgType uint16

// Message type tags. Decoders must tolerate and silently ignore values not
// listed here (spec.md §4.A forward-compatibility contract).
const (
	MsgTypeProtoVer MsgType = iota + 1
	MsgTypeAuthChallenge
	MsgTypeAuthResponse
	MsgTypeAuthOk
	MsgTypeError
	MsgTypeServerInfo
	MsgTypeSelectTG
	MsgTypeTGMonitor
	MsgTypeNodeInfo
	MsgTypeRequestQsy
	MsgTypeTalkerStart
	MsgTypeTalkerStop
	MsgTypeNodeJoined
	MsgTypeNodeLeft
	MsgTypeTalkerStartV1
	MsgTypeTalkerStopV1

	MsgTypeUdpHeartbeat MsgType = iota + 100
	MsgTypeUdpAudio
	MsgTypeUdpFlushSamples
	MsgTypeUdpAllSamplesFlushed
	MsgTypeUdpSignalStrengthValues
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeProtoVer:
		return "ProtoVer"
	case MsgTypeAuthChallenge:
		return "AuthChallenge"
	case MsgTypeAuthResponse:
		return "AuthResponse"
	case MsgTypeAuthOk:
		return "AuthOk"
	case MsgTypeError:
		return "Error"
	case MsgTypeServerInfo:
		return "ServerInfo"
	case MsgTypeSelectTG:
		return "SelectTG"
	case MsgTypeTGMonitor:
		return "TGMonitor"
	case MsgTypeNodeInfo:
		return "NodeInfo"
	case MsgTypeRequestQsy:
		return "RequestQsy"
	case MsgTypeTalkerStart:
		return "TalkerStart"
	case MsgTypeTalkerStop:
		return "TalkerStop"
	case MsgTypeNodeJoined:
		return "NodeJoined"
	case MsgTypeNodeLeft:
		return "NodeLeft"
	case MsgTypeTalkerStartV1:
		return "TalkerStartV1"
	case MsgTypeTalkerStopV1:
		return "TalkerStopV1"
	case MsgTypeUdpHeartbeat:
		return "UdpHeartbeat"
	case MsgTypeUdpAudio:
		return "UdpAudio"
	case MsgTypeUdpFlushSamples:
		return "UdpFlushSamples"
	case MsgTypeUdpAllSamplesFlushed:
		return "UdpAllSamplesFlushed"
	case MsgTypeUdpSignalStrengthValues:
		return "UdpSignalStrengthValues"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(t))
	}
}

// Message is the tagged-union interface every wire message implements
// (spec.md §9: "model messages as a tagged union ... with a single
// pack/unpack pair").
type Message interface {
	Type() MsgType
	MarshalBody() []byte
}

// --- Handshake messages -----------------------------------------------

// MsgProtoVer announces the client's protocol version.
type MsgProtoVer struct {
	Major uint8
	Minor uint8
}

func (m *MsgProtoVer) Type() MsgType { return MsgTypeProtoVer }
func (m *MsgProtoVer) MarshalBody() []byte {
	return []byte{m.Major, m.Minor}
}
func unmarshalProtoVer(b []byte) (*MsgProtoVer, error) {
	if len(b) < 2 {
		return nil, errShortMessage
	}
	return &MsgProtoVer{Major: b[0], Minor: b[1]}, nil
}

// AuthNonceSize is the length in bytes of the random challenge sent in
// MsgAuthChallenge.
const AuthNonceSize = 16

// MsgAuthChallenge carries the server's random authentication nonce.
type MsgAuthChallenge struct {
	Nonce [AuthNonceSize]byte
}

func (m *MsgAuthChallenge) Type() MsgType { return MsgTypeAuthChallenge }
func (m *MsgAuthChallenge) MarshalBody() []byte {
	out := make([]byte, AuthNonceSize)
	copy(out, m.Nonce[:])
	return out
}
func unmarshalAuthChallenge(b []byte) (*MsgAuthChallenge, error) {
	if len(b) < AuthNonceSize {
		return nil, errShortMessage
	}
	var m MsgAuthChallenge
	copy(m.Nonce[:], b[:AuthNonceSize])
	return &m, nil
}

// HMACSize is the length in bytes of the HMAC-SHA256 digest in
// MsgAuthResponse.
const HMACSize = 32

// MsgAuthResponse carries the callsign and computed HMAC challenge response.
type MsgAuthResponse struct {
	Callsign string
	HMAC     [HMACSize]byte
}

func (m *MsgAuthResponse) Type() MsgType { return MsgTypeAuthResponse }
func (m *MsgAuthResponse) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	putString(buf, m.Callsign)
	buf.Write(m.HMAC[:])
	return buf.Bytes()
}
func unmarshalAuthResponse(b []byte) (*MsgAuthResponse, error) {
	r := bytes.NewReader(b)
	callsign, err := getString(r)
	if err != nil {
		return nil, err
	}
	var hmacBytes [HMACSize]byte
	if _, err := r.Read(hmacBytes[:]); err != nil {
		return nil, errShortMessage
	}
	return &MsgAuthResponse{Callsign: callsign, HMAC: hmacBytes}, nil
}

// MsgAuthOk confirms successful authentication.
type MsgAuthOk struct{}

func (m *MsgAuthOk) Type() MsgType         { return MsgTypeAuthOk }
func (m *MsgAuthOk) MarshalBody() []byte   { return nil }
func unmarshalAuthOk([]byte) (*MsgAuthOk, error) { return &MsgAuthOk{}, nil }

// MsgError carries a human-readable disconnect reason.
type MsgError struct {
	Message string
}

func (m *MsgError) Type() MsgType { return MsgTypeError }
func (m *MsgError) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	putString(buf, m.Message)
	return buf.Bytes()
}
func unmarshalError(b []byte) (*MsgError, error) {
	r := bytes.NewReader(b)
	s, err := getString(r)
	if err != nil {
		return nil, err
	}
	return &MsgError{Message: s}, nil
}

// MsgServerInfo carries server identification sent right after AuthOk.
type MsgServerInfo struct {
	ServerVersion string
	Nodes         []string
}

func (m *MsgServerInfo) Type() MsgType { return MsgTypeServerInfo }
func (m *MsgServerInfo) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	putString(buf, m.ServerVersion)
	binary.Write(buf, binary.BigEndian, uint16(len(m.Nodes)))
	for _, n := range m.Nodes {
		putString(buf, n)
	}
	return buf.Bytes()
}
func unmarshalServerInfo(b []byte) (*MsgServerInfo, error) {
	r := bytes.NewReader(b)
	ver, err := getString(r)
	if err != nil {
		return nil, err
	}
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, errShortMessage
	}
	nodes := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		n, err := getString(r)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return &MsgServerInfo{ServerVersion: ver, Nodes: nodes}, nil
}

// --- Membership messages ------------------------------------------------

// MsgSelectTG requests joining a single talkgroup, replacing any prior
// membership.
type MsgSelectTG struct {
	TG uint32
}

func (m *MsgSelectTG) Type() MsgType { return MsgTypeSelectTG }
func (m *MsgSelectTG) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, m.TG)
	return buf.Bytes()
}
func unmarshalSelectTG(b []byte) (*MsgSelectTG, error) {
	if len(b) < 4 {
		return nil, errShortMessage
	}
	return &MsgSelectTG{TG: binary.BigEndian.Uint32(b)}, nil
}

// MsgTGMonitor sets the set of talkgroups this node monitors passively.
type MsgTGMonitor struct {
	TGs []uint32
}

func (m *MsgTGMonitor) Type() MsgType { return MsgTypeTGMonitor }
func (m *MsgTGMonitor) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint16(len(m.TGs)))
	for _, tg := range m.TGs {
		binary.Write(buf, binary.BigEndian, tg)
	}
	return buf.Bytes()
}
func unmarshalTGMonitor(b []byte) (*MsgTGMonitor, error) {
	r := bytes.NewReader(b)
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, errShortMessage
	}
	tgs := make([]uint32, 0, count)
	for i := 0; i < int(count); i++ {
		var tg uint32
		if err := binary.Read(r, binary.BigEndian, &tg); err != nil {
			return nil, errShortMessage
		}
		tgs = append(tgs, tg)
	}
	return &MsgTGMonitor{TGs: tgs}, nil
}

// MsgNodeInfo carries a node's self-reported QTH/rx/tx descriptor as an
// opaque JSON document (spec.md §3 "node metadata").
type MsgNodeInfo struct {
	JSON string
}

func (m *MsgNodeInfo) Type() MsgType { return MsgTypeNodeInfo }
func (m *MsgNodeInfo) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	putLongString(buf, m.JSON)
	return buf.Bytes()
}
func unmarshalNodeInfo(b []byte) (*MsgNodeInfo, error) {
	r := bytes.NewReader(b)
	s, err := getLongString(r)
	if err != nil {
		return nil, err
	}
	return &MsgNodeInfo{JSON: s}, nil
}

// MsgRequestQsy asks the reflector to move the caller's talkgroup to tg
// (0 = pick a random free TG, see spec.md §4.F).
type MsgRequestQsy struct {
	TG uint32
}

func (m *MsgRequestQsy) Type() MsgType { return MsgTypeRequestQsy }
func (m *MsgRequestQsy) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, m.TG)
	return buf.Bytes()
}
func unmarshalRequestQsy(b []byte) (*MsgRequestQsy, error) {
	if len(b) < 4 {
		return nil, errShortMessage
	}
	return &MsgRequestQsy{TG: binary.BigEndian.Uint32(b)}, nil
}

// --- Broadcast notifications ---------------------------------------------

// MsgTalkerStart announces that callsign became the talker on tg.
type MsgTalkerStart struct {
	TG       uint32
	Callsign string
}

func (m *MsgTalkerStart) Type() MsgType { return MsgTypeTalkerStart }
func (m *MsgTalkerStart) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, m.TG)
	putString(buf, m.Callsign)
	return buf.Bytes()
}
func unmarshalTalkerStart(b []byte) (*MsgTalkerStart, error) {
	if len(b) < 4 {
		return nil, errShortMessage
	}
	tg := binary.BigEndian.Uint32(b)
	cs, err := getString(bytes.NewReader(b[4:]))
	if err != nil {
		return nil, err
	}
	return &MsgTalkerStart{TG: tg, Callsign: cs}, nil
}

// MsgTalkerStop announces that callsign stopped being the talker on tg.
type MsgTalkerStop struct {
	TG       uint32
	Callsign string
}

func (m *MsgTalkerStop) Type() MsgType { return MsgTypeTalkerStop }
func (m *MsgTalkerStop) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, m.TG)
	putString(buf, m.Callsign)
	return buf.Bytes()
}
func unmarshalTalkerStop(b []byte) (*MsgTalkerStop, error) {
	if len(b) < 4 {
		return nil, errShortMessage
	}
	tg := binary.BigEndian.Uint32(b)
	cs, err := getString(bytes.NewReader(b[4:]))
	if err != nil {
		return nil, err
	}
	return &MsgTalkerStop{TG: tg, Callsign: cs}, nil
}

// MsgTalkerStartV1 is the tg-less variant emitted to legacy v1 clients
// pinned to TGForV1Clients (spec.md §4.F, §GLOSSARY).
type MsgTalkerStartV1 struct {
	Callsign string
}

func (m *MsgTalkerStartV1) Type() MsgType { return MsgTypeTalkerStartV1 }
func (m *MsgTalkerStartV1) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	putString(buf, m.Callsign)
	return buf.Bytes()
}
func unmarshalTalkerStartV1(b []byte) (*MsgTalkerStartV1, error) {
	cs, err := getString(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return &MsgTalkerStartV1{Callsign: cs}, nil
}

// MsgTalkerStopV1 is the tg-less variant emitted to legacy v1 clients.
type MsgTalkerStopV1 struct {
	Callsign string
}

func (m *MsgTalkerStopV1) Type() MsgType { return MsgTypeTalkerStopV1 }
func (m *MsgTalkerStopV1) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	putString(buf, m.Callsign)
	return buf.Bytes()
}
func unmarshalTalkerStopV1(b []byte) (*MsgTalkerStopV1, error) {
	cs, err := getString(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return &MsgTalkerStopV1{Callsign: cs}, nil
}

// MsgNodeJoined announces that a node connected to the reflector.
type MsgNodeJoined struct {
	Callsign string
}

func (m *MsgNodeJoined) Type() MsgType { return MsgTypeNodeJoined }
func (m *MsgNodeJoined) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	putString(buf, m.Callsign)
	return buf.Bytes()
}
func unmarshalNodeJoined(b []byte) (*MsgNodeJoined, error) {
	cs, err := getString(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return &MsgNodeJoined{Callsign: cs}, nil
}

// MsgNodeLeft announces that a node disconnected from the reflector.
type MsgNodeLeft struct {
	Callsign string
}

func (m *MsgNodeLeft) Type() MsgType { return MsgTypeNodeLeft }
func (m *MsgNodeLeft) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	putString(buf, m.Callsign)
	return buf.Bytes()
}
func unmarshalNodeLeft(b []byte) (*MsgNodeLeft, error) {
	cs, err := getString(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return &MsgNodeLeft{Callsign: cs}, nil
}

// --- Datagram messages ---------------------------------------------------
//
// Datagram message bodies follow the type|client_id|seq header described in
// spec.md §6 and are framed by DatagramHeader in codec.go.

// MsgUdpHeartbeat is an empty keepalive datagram.
type MsgUdpHeartbeat struct{}

func (m *MsgUdpHeartbeat) Type() MsgType             { return MsgTypeUdpHeartbeat }
func (m *MsgUdpHeartbeat) MarshalBody() []byte       { return nil }
func unmarshalUdpHeartbeat([]byte) (*MsgUdpHeartbeat, error) {
	return &MsgUdpHeartbeat{}, nil
}

// MsgUdpAudio carries one Opus-encoded audio frame destined for tg.
type MsgUdpAudio struct {
	TG      uint32
	Payload []byte
}

func (m *MsgUdpAudio) Type() MsgType { return MsgTypeUdpAudio }
func (m *MsgUdpAudio) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, m.TG)
	buf.Write(m.Payload)
	return buf.Bytes()
}
func unmarshalUdpAudio(b []byte) (*MsgUdpAudio, error) {
	if len(b) < 4 {
		return nil, errShortMessage
	}
	tg := binary.BigEndian.Uint32(b)
	payload := append([]byte(nil), b[4:]...)
	return &MsgUdpAudio{TG: tg, Payload: payload}, nil
}

// MsgUdpFlushSamples tells receivers (or the server) to discard any
// buffered jitter-compensation audio.
type MsgUdpFlushSamples struct{}

func (m *MsgUdpFlushSamples) Type() MsgType       { return MsgTypeUdpFlushSamples }
func (m *MsgUdpFlushSamples) MarshalBody() []byte { return nil }
func unmarshalUdpFlushSamples([]byte) (*MsgUdpFlushSamples, error) {
	return &MsgUdpFlushSamples{}, nil
}

// MsgUdpAllSamplesFlushed acknowledges a flush request.
type MsgUdpAllSamplesFlushed struct{}

func (m *MsgUdpAllSamplesFlushed) Type() MsgType       { return MsgTypeUdpAllSamplesFlushed }
func (m *MsgUdpAllSamplesFlushed) MarshalBody() []byte { return nil }
func unmarshalUdpAllSamplesFlushed([]byte) (*MsgUdpAllSamplesFlushed, error) {
	return &MsgUdpAllSamplesFlushed{}, nil
}

// RxStatus is one receiver's telemetry entry within
// MsgUdpSignalStrengthValues (spec.md §4.C "Telemetry").
type RxStatus struct {
	ID      byte
	SigLev  int16
	Enabled bool
	SqlOpen bool
	Active  bool
}

// MsgUdpSignalStrengthValues carries a node's per-receiver telemetry.
type MsgUdpSignalStrengthValues struct {
	Values []RxStatus
}

func (m *MsgUdpSignalStrengthValues) Type() MsgType { return MsgTypeUdpSignalStrengthValues }
func (m *MsgUdpSignalStrengthValues) MarshalBody() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(len(m.Values)))
	for _, v := range m.Values {
		buf.WriteByte(v.ID)
		binary.Write(buf, binary.BigEndian, v.SigLev)
		buf.WriteByte(boolToByte(v.Enabled)<<2 | boolToByte(v.SqlOpen)<<1 | boolToByte(v.Active))
	}
	return buf.Bytes()
}
func unmarshalUdpSignalStrengthValues(b []byte) (*MsgUdpSignalStrengthValues, error) {
	if len(b) < 1 {
		return nil, errShortMessage
	}
	count := int(b[0])
	b = b[1:]
	values := make([]RxStatus, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < 4 {
			return nil, errShortMessage
		}
		id := b[0]
		sigLev := int16(binary.BigEndian.Uint16(b[1:3]))
		flags := b[3]
		values = append(values, RxStatus{
			ID:      id,
			SigLev:  sigLev,
			Enabled: flags&0b100 != 0,
			SqlOpen: flags&0b010 != 0,
			Active:  flags&0b001 != 0,
		})
		b = b[4:]
	}
	return &MsgUdpSignalStrengthValues{Values: values}, nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
