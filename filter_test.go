package main

import "testing"

func TestFilterComposition(t *testing.T) {
	a := connectedSession(1, "A")
	a.ProtoVerMajor = 2
	a.CurrentTGID = 10

	b := connectedSession(2, "B")
	b.ProtoVerMajor = 1
	b.CurrentTGID = 10

	tg10v2 := And(TgFilter(10), ProtoVerRangeFilter(2, 2))
	if !tg10v2(a) {
		t.Fatal("A should match TG 10 + v2 filter")
	}
	if tg10v2(b) {
		t.Fatal("B is v1, should not match v2-only filter")
	}

	notA := Not(ExceptFilter(b))
	if !notA(b) {
		t.Fatal("Not(ExceptFilter(b)) should match b")
	}
	if notA(a) {
		t.Fatal("Not(ExceptFilter(b)) should not match a")
	}

	either := Or(TgFilter(99), TgFilter(10))
	if !either(a) || !either(b) {
		t.Fatal("Or filter should match either branch")
	}

	if !NoFilter()(a) {
		t.Fatal("NoFilter should match everything")
	}
}

func TestTgMonitorFilter(t *testing.T) {
	s := connectedSession(1, "A")
	s.MonitoredTGs = map[uint32]bool{5: true}

	f := TgMonitorFilter(5)
	if !f(s) {
		t.Fatal("session monitoring TG 5 should match")
	}
	if TgMonitorFilter(6)(s) {
		t.Fatal("session not monitoring TG 6 should not match")
	}
}
