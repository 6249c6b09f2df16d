package main

import (
	"net"
	"testing"
	"time"
)

// fakeConn is a minimal net.Conn stand-in for tests that don't exercise
// actual I/O, only session bookkeeping.
type fakeConn struct {
	net.Conn
	addr net.Addr
}

func (f *fakeConn) RemoteAddr() net.Addr { return f.addr }
func (f *fakeConn) Write(b []byte) (int, error) { return len(b), nil }
func (f *fakeConn) Close() error { return nil }

func newTestSession(id uint16) *Session {
	return NewSession(id, &fakeConn{addr: &net.TCPAddr{Port: int(id)}})
}

func TestSessionAcceptSeqFirstDatagramAlwaysAccepted(t *testing.T) {
	s := newTestSession(1)
	if !s.AcceptSeq(12345) {
		t.Fatal("first datagram must always be accepted")
	}
	if s.NextExpectedSeq != 12346 {
		t.Fatalf("NextExpectedSeq = %d, want 12346", s.NextExpectedSeq)
	}
}

func TestSessionAcceptSeqRejectsStale(t *testing.T) {
	s := newTestSession(1)
	s.AcceptSeq(100)
	if s.AcceptSeq(50) {
		t.Fatal("stale sequence number should be rejected")
	}
	if s.AcceptSeq(100) {
		t.Fatal("repeated sequence number should be rejected")
	}
}

func TestSessionAcceptSeqAcceptsForwardGap(t *testing.T) {
	s := newTestSession(1)
	s.AcceptSeq(100)
	if !s.AcceptSeq(150) {
		t.Fatal("forward gap within window should be accepted")
	}
}

func TestSessionBlocking(t *testing.T) {
	s := newTestSession(1)
	now := time.Now()
	s.Block(now, 5*time.Second)
	if !s.IsBlocked(now.Add(2 * time.Second)) {
		t.Fatal("session should still be blocked")
	}
	if s.IsBlocked(now.Add(6 * time.Second)) {
		t.Fatal("session should no longer be blocked")
	}
}

func TestSessionBlockZeroDurationNoop(t *testing.T) {
	s := newTestSession(1)
	now := time.Now()
	s.Block(now, 0)
	if s.IsBlocked(now) {
		t.Fatal("zero block duration must not block")
	}
}

func TestSessionRegistryAllocateAndReuse(t *testing.T) {
	r := NewSessionRegistry()

	s1, ok := r.Allocate(func(id uint16) *Session { return newTestSession(id) })
	if !ok {
		t.Fatal("allocate should succeed")
	}
	s2, ok := r.Allocate(func(id uint16) *Session { return newTestSession(id) })
	if !ok {
		t.Fatal("allocate should succeed")
	}
	if s1.ID == s2.ID {
		t.Fatal("two live sessions must not share an id")
	}

	r.Delete(s1.ID)
	if _, ok := r.Get(s1.ID); ok {
		t.Fatal("deleted session should not be found")
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
}
