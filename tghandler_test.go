package main

import (
	"testing"
	"time"
)

// recordingObserver captures TalkerObserver callbacks for assertions.
type recordingObserver struct {
	updates    []talkerUpdate
	autoQsyTGs []uint32
}

type talkerUpdate struct {
	tg       uint32
	oldCS    string
	newCS    string
}

func (o *recordingObserver) TalkerUpdated(tg uint32, old, new *Session) {
	u := talkerUpdate{tg: tg}
	if old != nil {
		u.oldCS = old.Callsign
	}
	if new != nil {
		u.newCS = new.Callsign
	}
	o.updates = append(o.updates, u)
}

func (o *recordingObserver) RequestAutoQsy(fromTG uint32) {
	o.autoQsyTGs = append(o.autoQsyTGs, fromTG)
}

func connectedSession(id uint16, callsign string) *Session {
	s := newTestSession(id)
	s.Callsign = callsign
	s.State = StateConnected
	return s
}

// TestSingleTalkerInvariant exercises S2: two members on a TG, only the
// first to send audio becomes the talker; the other's audio is dropped.
func TestSingleTalkerInvariant(t *testing.T) {
	obs := &recordingObserver{}
	h := NewTGHandler(obs)

	a := connectedSession(1, "A")
	b := connectedSession(2, "B")
	h.Join(a, 42)
	h.Join(b, 42)

	now := time.Now()
	if !h.HandleAudio(a, 42, now) {
		t.Fatal("A should become talker on first audio")
	}
	if h.HandleAudio(b, 42, now) {
		t.Fatal("B must not become talker while A holds the slot")
	}
	if h.Talker(42) != a {
		t.Fatal("talker should still be A")
	}

	h.HandleFlush(a)
	if h.Talker(42) != nil {
		t.Fatal("talker slot should be cleared after flush")
	}
	if len(obs.updates) != 2 {
		t.Fatalf("expected 2 talker updates (start, stop), got %d", len(obs.updates))
	}
}

// TestSquelchTimeoutDeposesAndBlocks exercises S3: a talker whose audio
// stops arriving is deposed on timeout and blocked from immediately
// retaking the slot.
func TestSquelchTimeoutDeposesAndBlocks(t *testing.T) {
	obs := &recordingObserver{}
	h := NewTGHandler(obs)
	h.SetSquelchTimeout(2 * time.Second)
	h.SetSquelchBlocktime(5 * time.Second)

	a := connectedSession(1, "A")
	h.Join(a, 7)

	t0 := time.Now()
	h.HandleAudio(a, 7, t0)

	// Silence for longer than the squelch timeout: the next tick should
	// depose and block A.
	h.CheckTimeouts(t0.Add(3 * time.Second))
	if h.Talker(7) != nil {
		t.Fatal("talker should have been deposed on squelch timeout")
	}
	if !a.IsBlocked(t0.Add(3 * time.Second)) {
		t.Fatal("deposed talker should be blocked")
	}
	if a.IsBlocked(t0.Add(9 * time.Second)) {
		t.Fatal("block should have expired by t=9s given a 5s blocktime from t=3s")
	}
}

// TestAutoQsyFiresOncePerEpisode exercises the "at most once per TG per
// activity episode" guard (spec-level invariant also covered by S4's
// QSY wiring in the reflector).
func TestAutoQsyFiresOncePerEpisode(t *testing.T) {
	obs := &recordingObserver{}
	h := NewTGHandler(obs)
	h.SetSquelchTimeout(1 * time.Second)

	a := connectedSession(1, "A")
	h.Join(a, 100)

	t0 := time.Now()
	h.HandleAudio(a, 100, t0)
	h.CheckTimeouts(t0.Add(2 * time.Second))
	h.CheckTimeouts(t0.Add(3 * time.Second))

	if len(obs.autoQsyTGs) != 1 {
		t.Fatalf("expected exactly one auto-QSY trigger, got %d", len(obs.autoQsyTGs))
	}

	// A new talk spell on the same TG should be able to trigger it again.
	h.HandleAudio(a, 100, t0.Add(3*time.Second))
	h.CheckTimeouts(t0.Add(6 * time.Second))
	if len(obs.autoQsyTGs) != 2 {
		t.Fatalf("expected auto-QSY to re-arm on next talk spell, got %d triggers", len(obs.autoQsyTGs))
	}
}

// TestTalkerChangesTGClearsSlot covers the "talker changes TG" clearing
// rule of spec.md §4.D.
func TestTalkerChangesTGClearsSlot(t *testing.T) {
	obs := &recordingObserver{}
	h := NewTGHandler(obs)

	a := connectedSession(1, "A")
	h.Join(a, 1)
	h.HandleAudio(a, 1, time.Now())
	if h.Talker(1) != a {
		t.Fatal("A should be talker on TG 1")
	}

	h.Join(a, 2)
	if h.Talker(1) != nil {
		t.Fatal("TG 1's talker slot should clear when A leaves")
	}
	if h.MemberCount(1) != 0 {
		t.Fatal("A should no longer be a member of TG 1")
	}
}

// TestRemoveSessionDeposesTalker covers disconnection clearing the
// talker slot before deletion (spec.md §3).
func TestRemoveSessionDeposesTalker(t *testing.T) {
	obs := &recordingObserver{}
	h := NewTGHandler(obs)

	a := connectedSession(1, "A")
	b := connectedSession(2, "B")
	h.Join(a, 5)
	h.Join(b, 5)
	h.HandleAudio(a, 5, time.Now())

	h.RemoveSession(a)
	if h.Talker(5) != nil {
		t.Fatal("talker slot should clear on disconnect")
	}
	if h.MemberCount(5) != 1 {
		t.Fatalf("expected 1 remaining member, got %d", h.MemberCount(5))
	}
}
