package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// errShortMessage is returned by body decoders when the buffer is too
// short for the type's fixed fields.
var errShortMessage = errors.New("codec: message too short")

// MaxStreamFrameLen bounds a TCP frame's length prefix; frames larger than
// this disconnect the peer per spec.md §4.B ("oversized frames disconnect
// the peer").
const MaxStreamFrameLen = 1 << 20

// MaxDatagramLen bounds a single UDP datagram body.
const MaxDatagramLen = 4096

// --- string helpers --------------------------------------------------

// putString writes a u8-length-prefixed string (callsigns, short text).
func putString(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", errShortMessage
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errShortMessage
	}
	return string(b), nil
}

// putLongString writes a u16-length-prefixed string (JSON blobs).
func putLongString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func getLongString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", errShortMessage
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errShortMessage
	}
	return string(b), nil
}

// --- stream (TCP) framing ---------------------------------------------
//
// Wire layout: length(u32) | type(u16) | body...  (spec.md §6)

// EncodeStreamFrame serializes m as a length-prefixed TCP frame.
func EncodeStreamFrame(m Message) []byte {
	body := m.MarshalBody()
	frame := make([]byte, 4+2+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(2+len(body)))
	binary.BigEndian.PutUint16(frame[4:6], uint16(m.Type()))
	copy(frame[6:], body)
	return frame
}

// ReadStreamFrame reads one length-framed record from r, buffering short
// reads until the full frame has arrived (spec.md §4.B). It returns the
// message type tag and the raw body bytes (the type-tag-sized prefix
// consumed).
func ReadStreamFrame(r *bufio.Reader) (MsgType, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen < 2 || frameLen > MaxStreamFrameLen {
		return 0, nil, fmt.Errorf("codec: invalid frame length %d", frameLen)
	}

	payload := make([]byte, frameLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}

	msgType := MsgType(binary.BigEndian.Uint16(payload[0:2]))
	return msgType, payload[2:], nil
}

// DecodeStreamMessage dispatches a (type, body) pair decoded by
// ReadStreamFrame to the matching Message implementation. Unknown type
// tags return (nil, nil) so callers silently ignore them per the
// forward-compatibility contract of spec.md §4.A.
func DecodeStreamMessage(msgType MsgType, body []byte) (Message, error) {
	switch msgType {
	case MsgTypeProtoVer:
		return unmarshalProtoVer(body)
	case MsgTypeAuthChallenge:
		return unmarshalAuthChallenge(body)
	case MsgTypeAuthResponse:
		return unmarshalAuthResponse(body)
	case MsgTypeAuthOk:
		return unmarshalAuthOk(body)
	case MsgTypeError:
		return unmarshalError(body)
	case MsgTypeServerInfo:
		return unmarshalServerInfo(body)
	case MsgTypeSelectTG:
		return unmarshalSelectTG(body)
	case MsgTypeTGMonitor:
		return unmarshalTGMonitor(body)
	case MsgTypeNodeInfo:
		return unmarshalNodeInfo(body)
	case MsgTypeRequestQsy:
		return unmarshalRequestQsy(body)
	case MsgTypeTalkerStart:
		return unmarshalTalkerStart(body)
	case MsgTypeTalkerStop:
		return unmarshalTalkerStop(body)
	case MsgTypeTalkerStartV1:
		return unmarshalTalkerStartV1(body)
	case MsgTypeTalkerStopV1:
		return unmarshalTalkerStopV1(body)
	case MsgTypeNodeJoined:
		return unmarshalNodeJoined(body)
	case MsgTypeNodeLeft:
		return unmarshalNodeLeft(body)
	default:
		return nil, nil // unknown type: ignore, don't error
	}
}

// --- datagram (UDP) framing ---------------------------------------------
//
// Wire layout: type(u16) | client_id(u16) | seq(u16) | body...

// DatagramHeader is the application header prefixing every UDP datagram
// (spec.md §6).
type DatagramHeader struct {
	Type     MsgType
	ClientID uint16
	Seq      uint16
}

const datagramHeaderLen = 6

// EncodeDatagram serializes header and m's body into one complete
// datagram.
func EncodeDatagram(h DatagramHeader, m Message) []byte {
	body := m.MarshalBody()
	out := make([]byte, datagramHeaderLen+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(h.Type))
	binary.BigEndian.PutUint16(out[2:4], h.ClientID)
	binary.BigEndian.PutUint16(out[4:6], h.Seq)
	copy(out[datagramHeaderLen:], body)
	return out
}

// DecodeDatagramHeader parses the fixed header from a raw datagram and
// returns the remaining body bytes.
func DecodeDatagramHeader(raw []byte) (DatagramHeader, []byte, error) {
	if len(raw) < datagramHeaderLen {
		return DatagramHeader{}, nil, errShortMessage
	}
	h := DatagramHeader{
		Type:     MsgType(binary.BigEndian.Uint16(raw[0:2])),
		ClientID: binary.BigEndian.Uint16(raw[2:4]),
		Seq:      binary.BigEndian.Uint16(raw[4:6]),
	}
	return h, raw[datagramHeaderLen:], nil
}

// DecodeDatagramMessage dispatches a datagram body to the matching
// Message implementation for h.Type. Unknown types are ignored (nil, nil)
// per spec.md §4.A.
func DecodeDatagramMessage(h DatagramHeader, body []byte) (Message, error) {
	switch h.Type {
	case MsgTypeUdpHeartbeat:
		return unmarshalUdpHeartbeat(body)
	case MsgTypeUdpAudio:
		return unmarshalUdpAudio(body)
	case MsgTypeUdpFlushSamples:
		return unmarshalUdpFlushSamples(body)
	case MsgTypeUdpAllSamplesFlushed:
		return unmarshalUdpAllSamplesFlushed(body)
	case MsgTypeUdpSignalStrengthValues:
		return unmarshalUdpSignalStrengthValues(body)
	default:
		return nil, nil
	}
}

// SeqForwardWindow reports whether received is within the forward window
// [expected, expected+0x8000) mod 2^16, the half-range comparison rule of
// spec.md §3/§8 property 3.
func SeqForwardWindow(expected, received uint16) bool {
	diff := received - expected
	return diff <= 0x7fff
}
