package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// udpAudioTOS marks outbound audio datagrams with the DSCP Expedited
// Forwarding codepoint (spec.md §4.A: audio is latency-sensitive), the
// same "mark this socket's traffic class" idea as the teacher's own use
// of golang.org/x/net/ipv4, generalized from multicast-group join to TOS
// marking since this transport has no multicast source.
const udpAudioTOS = 0xb8

// reusableListenConfig sets SO_REUSEADDR (and SO_REUSEPORT where the
// platform supports it) on every socket it binds, grounded on the
// teacher's audio.go use of golang.org/x/sys/unix.SetsockoptInt for the
// same purpose: letting a restarted reflector rebind its port
// immediately instead of waiting out TIME_WAIT.
var reusableListenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
				sockErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
				return
			}
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				sockErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
				return
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// eventKind tags the union of things that can arrive on the reflector's
// single event channel (spec.md §5 "All sockets, timers, and signals
// feed the same loop").
type eventKind int

const (
	evConnAccepted eventKind = iota
	evStreamMessage
	evStreamClosed
	evDatagram
	evControlCommand
	evSnapshotRequest
	evTgSnapshotRequest
)

// event is one item pulled off Transport.Events by the reflector's run
// loop. Only the fields relevant to kind are populated.
type event struct {
	kind eventKind

	conn net.Conn
	msg  Message
	err  error

	udpAddr *net.UDPAddr
	header  DatagramHeader
	body    []byte

	cmd    string
	respCh chan string

	snapshotCh   chan StatusDocument
	tgSnapshotCh chan []TalkgroupSummary
}

// Transport owns the shared TCP+UDP port of spec.md §4.B: a reliable
// framed-stream listener and a connectionless datagram socket on the
// same numeric port, both feeding one event channel so every mutation of
// reflector state happens on a single goroutine.
type Transport struct {
	tcpListener net.Listener
	udpConn     *net.UDPConn

	Events chan *event
}

// NewTransport binds the stream and datagram sockets on port.
func NewTransport(port int) (*Transport, error) {
	ctx := context.Background()
	ln, err := reusableListenConfig.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	pc, err := reusableListenConfig.ListenPacket(ctx, "udp", fmt.Sprintf(":%d", port))
	if err != nil {
		ln.Close()
		return nil, err
	}
	uc := pc.(*net.UDPConn)

	if err := ipv4.NewPacketConn(uc).SetTOS(udpAudioTOS); err != nil {
		log.Printf("transport: failed to set audio socket TOS: %v", err)
	}

	return &Transport{
		tcpListener: ln,
		udpConn:     uc,
		Events:      make(chan *event, 256),
	}, nil
}

// Serve starts the accept and datagram read loops. Both only ever
// produce events; they never touch session state directly.
func (t *Transport) Serve() {
	go t.acceptLoop()
	go t.udpReadLoop()
}

// Close shuts down both sockets.
func (t *Transport) Close() {
	t.tcpListener.Close()
	t.udpConn.Close()
}

// WriteDatagram sends a pre-framed datagram to addr from the shared UDP
// socket. Only ever called from the run-loop goroutine.
func (t *Transport) WriteDatagram(addr *net.UDPAddr, raw []byte) error {
	_, err := t.udpConn.WriteToUDP(raw, addr)
	return err
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.tcpListener.Accept()
		if err != nil {
			log.Printf("transport: accept error: %v", err)
			return
		}
		t.Events <- &event{kind: evConnAccepted, conn: conn}
		go t.streamReadLoop(conn)
	}
}

// streamReadLoop reads length-framed records off conn until it closes or
// an oversized frame is seen, per spec.md §4.B ("oversized frames
// disconnect the peer").
func (t *Transport) streamReadLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		msgType, body, err := ReadStreamFrame(r)
		if err != nil {
			t.Events <- &event{kind: evStreamClosed, conn: conn, err: err}
			return
		}
		msg, err := DecodeStreamMessage(msgType, body)
		if err != nil {
			// Malformed body for a known type: treat like an unknown
			// type rather than tearing down the whole read loop.
			continue
		}
		if msg == nil {
			continue // unknown type, forward-compatibility contract
		}
		t.Events <- &event{kind: evStreamMessage, conn: conn, msg: msg}
	}
}

// udpReadLoop parses the fixed application header off every inbound
// datagram and forwards it for dispatch (spec.md §4.A).
func (t *Transport) udpReadLoop() {
	buf := make([]byte, MaxDatagramLen)
	for {
		n, addr, err := t.udpConn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("transport: udp read error: %v", err)
			return
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		header, body, err := DecodeDatagramHeader(raw)
		if err != nil {
			continue // too short to even carry a header
		}
		t.Events <- &event{kind: evDatagram, udpAddr: addr, header: header, body: body}
	}
}
