package main

import (
	"bufio"
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func TestStreamFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		major := rapid.Byte().Draw(t, "major")
		minor := rapid.Byte().Draw(t, "minor")
		original := &MsgProtoVer{Major: major, Minor: minor}

		frame := EncodeStreamFrame(original)
		r := bufio.NewReader(bytes.NewReader(frame))

		msgType, body, err := ReadStreamFrame(r)
		if err != nil {
			t.Fatalf("ReadStreamFrame failed: %v", err)
		}
		if msgType != MsgTypeProtoVer {
			t.Fatalf("type mismatch: got %v, want %v", msgType, MsgTypeProtoVer)
		}

		decoded, err := DecodeStreamMessage(msgType, body)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		got := decoded.(*MsgProtoVer)
		if got.Major != major || got.Minor != minor {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, original)
		}
	})
}

func TestDatagramRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tg := rapid.Uint32().Draw(t, "tg")
		payloadLen := rapid.IntRange(0, 256).Draw(t, "payloadLen")
		payload := rapid.SliceOfN(rapid.Byte(), payloadLen, payloadLen).Draw(t, "payload")
		clientID := rapid.Uint16().Draw(t, "clientID")
		seq := rapid.Uint16().Draw(t, "seq")

		original := &MsgUdpAudio{TG: tg, Payload: payload}
		header := DatagramHeader{Type: MsgTypeUdpAudio, ClientID: clientID, Seq: seq}
		raw := EncodeDatagram(header, original)

		gotHeader, body, err := DecodeDatagramHeader(raw)
		if err != nil {
			t.Fatalf("header decode failed: %v", err)
		}
		if gotHeader != header {
			t.Fatalf("header mismatch: got %+v, want %+v", gotHeader, header)
		}

		decoded, err := DecodeDatagramMessage(gotHeader, body)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		got := decoded.(*MsgUdpAudio)
		if got.TG != tg || !bytes.Equal(got.Payload, payload) {
			t.Fatalf("round trip mismatch: got %+v, want tg=%d payload=%v", got, tg, payload)
		}
	})
}

func TestDecodeStreamMessageIgnoresUnknownType(t *testing.T) {
	msg, err := DecodeStreamMessage(MsgType(9999), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("expected no error for unknown type, got %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message for unknown type, got %+v", msg)
	}
}

func TestSeqForwardWindow(t *testing.T) {
	cases := []struct {
		expected, received uint16
		want                bool
	}{
		{0, 0, true},
		{0, 1, true},
		{0, 0x7fff, true},
		{0, 0x8000, false},
		{0, 0xffff, false},
		{0xfffe, 0xffff, true},
		{0xfffe, 0x0000, true},
	}
	for _, c := range cases {
		if got := SeqForwardWindow(c.expected, c.received); got != c.want {
			t.Errorf("SeqForwardWindow(%d, %d) = %v, want %v", c.expected, c.received, got, c.want)
		}
	}
}
