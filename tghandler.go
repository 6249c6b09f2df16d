package main

import "time"

// TalkerObserver receives talker-arbitration events from the TG registry.
// The reflector core implements this to drive broadcast notifications and
// auto-QSY (spec.md §4.D "Every transition emits talkerUpdated(tg, old,
// new) to the reflector core").
type TalkerObserver interface {
	TalkerUpdated(tg uint32, old, new *Session)
	RequestAutoQsy(fromTG uint32)
}

// talkgroupRecord is one TG's live arbitration state (spec.md §3
// "Talkgroup record").
type talkgroupRecord struct {
	members         map[uint16]*Session
	talker          *Session
	squelchDeadline time.Time
	autoQsyRequested bool
	restricted      bool
}

func newTalkgroupRecord() *talkgroupRecord {
	return &talkgroupRecord{members: make(map[uint16]*Session)}
}

// TGHandler is the TG registry of spec.md §4.D: membership map, per-TG
// talker slot, squelch-timeout timer, and auto-QSY trigger. Every method
// is called only from the reflector's single run-loop goroutine.
type TGHandler struct {
	tgs      map[uint32]*talkgroupRecord
	observer TalkerObserver

	sqlTimeout      time.Duration
	sqlBlocktime    time.Duration
}

// NewTGHandler constructs an empty registry reporting to observer.
func NewTGHandler(observer TalkerObserver) *TGHandler {
	return &TGHandler{
		tgs:      make(map[uint32]*talkgroupRecord),
		observer: observer,
	}
}

// SetSquelchTimeout updates the squelch-timeout window, honored by the
// next arming of any TG's timer (spec.md §6 CFG SQL_TIMEOUT).
func (h *TGHandler) SetSquelchTimeout(d time.Duration) { h.sqlTimeout = d }

// SetSquelchBlocktime updates the post-deposition block duration
// (spec.md §6 CFG SQL_TIMEOUT_BLOCKTIME).
func (h *TGHandler) SetSquelchBlocktime(d time.Duration) { h.sqlBlocktime = d }

func (h *TGHandler) record(tg uint32) *talkgroupRecord {
	r, ok := h.tgs[tg]
	if !ok {
		r = newTalkgroupRecord()
		h.tgs[tg] = r
	}
	return r
}

// Join adds s to tg's membership, leaving any prior TG first (spec.md §3
// "current TG", invariant "talker ∈ members ∪ {none}"). tg == 0 means
// "no TG" and only performs the leave.
func (h *TGHandler) Join(s *Session, tg uint32) {
	h.Leave(s)
	s.CurrentTGID = tg
	if tg == 0 {
		return
	}
	h.record(tg).members[s.ID] = s
}

// Leave removes s from its current TG, deposing it first if it was the
// talker (spec.md §3 "talker changes TG" clears the talker slot).
func (h *TGHandler) Leave(s *Session) {
	tg := s.CurrentTGID
	if tg == 0 {
		return
	}
	r, ok := h.tgs[tg]
	if ok {
		delete(r.members, s.ID)
		if r.talker == s {
			h.depose(tg, r)
		}
	}
	s.CurrentTGID = 0
}

// RemoveSession tears down all TG state for a departing session (spec.md
// §3 "A session whose stream drops is removed from all TG memberships
// and, if it was a talker, triggers a talker-stop broadcast, before
// deletion").
func (h *TGHandler) RemoveSession(s *Session) {
	h.Leave(s)
}

// HandleAudio applies the talker-election rule to one inbound UdpAudio
// datagram and reports whether the sender is (or just became) the talker
// for tg, i.e. whether this audio should be rebroadcast (spec.md §4.D
// "Talker election").
func (h *TGHandler) HandleAudio(s *Session, tg uint32, now time.Time) bool {
	if s.CurrentTG() != tg || tg == 0 {
		return false
	}
	r := h.record(tg)
	switch {
	case r.talker == nil:
		r.talker = s
		r.autoQsyRequested = false
		h.armSquelch(r, now)
		h.observer.TalkerUpdated(tg, nil, s)
		return true
	case r.talker == s:
		h.armSquelch(r, now)
		return true
	default:
		return false
	}
}

// HandleFlush clears the talker slot if s is the current talker (spec.md
// §4.D "talker sends UdpFlushSamples").
func (h *TGHandler) HandleFlush(s *Session) {
	tg := s.CurrentTG()
	if tg == 0 {
		return
	}
	r, ok := h.tgs[tg]
	if !ok || r.talker != s {
		return
	}
	h.depose(tg, r)
}

func (h *TGHandler) armSquelch(r *talkgroupRecord, now time.Time) {
	if h.sqlTimeout <= 0 {
		r.squelchDeadline = time.Time{}
		return
	}
	r.squelchDeadline = now.Add(h.sqlTimeout)
}

// depose clears a TG's talker slot and notifies the observer. Callers
// that depose due to squelch expiry are responsible for blocking the
// deposed session themselves.
func (h *TGHandler) depose(tg uint32, r *talkgroupRecord) {
	old := r.talker
	r.talker = nil
	r.squelchDeadline = time.Time{}
	if old != nil {
		h.observer.TalkerUpdated(tg, old, nil)
	}
}

// CheckTimeouts scans every TG with an armed squelch timer and deposes
// talkers whose deadline has passed, blocking them and triggering
// auto-QSY at most once per activity episode (spec.md §4.D "Squelch
// timeout", §4.D "Auto-QSY", §5 "fires at most once per TG per activity
// episode; guarded by a per-TG flag cleared on next TalkerStart").
func (h *TGHandler) CheckTimeouts(now time.Time) {
	for tg, r := range h.tgs {
		if r.talker == nil || r.squelchDeadline.IsZero() || now.Before(r.squelchDeadline) {
			continue
		}
		talker := r.talker
		h.depose(tg, r)
		talker.Block(now, h.sqlBlocktime)
		if !r.autoQsyRequested {
			r.autoQsyRequested = true
			h.observer.RequestAutoQsy(tg)
		}
	}
}

// Members returns the current membership of tg. Callers must not mutate
// the returned slice's sessions from outside the run-loop goroutine.
func (h *TGHandler) Members(tg uint32) []*Session {
	r, ok := h.tgs[tg]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(r.members))
	for _, s := range r.members {
		out = append(out, s)
	}
	return out
}

// Talker returns the current talker for tg, or nil if none.
func (h *TGHandler) Talker(tg uint32) *Session {
	r, ok := h.tgs[tg]
	if !ok {
		return nil
	}
	return r.talker
}

// IsTalker reports whether s is currently the talker for its own TG.
func (h *TGHandler) IsTalker(s *Session) bool {
	tg := s.CurrentTG()
	if tg == 0 {
		return false
	}
	return h.Talker(tg) == s
}

// MemberCount returns the number of sessions currently tuned to tg.
func (h *TGHandler) MemberCount(tg uint32) int {
	r, ok := h.tgs[tg]
	if !ok {
		return 0
	}
	return len(r.members)
}

// IsRestricted reports whether tg is marked restricted (spec.md §3
// "a restricted flag controlling whether non-members may observe
// activity via status").
func (h *TGHandler) IsRestricted(tg uint32) bool {
	r, ok := h.tgs[tg]
	if !ok {
		return false
	}
	return r.restricted
}

// AllTGs returns every TG with a live record (non-empty membership or a
// still-armed talker slot).
func (h *TGHandler) AllTGs() []uint32 {
	out := make([]uint32, 0, len(h.tgs))
	for tg := range h.tgs {
		out = append(out, tg)
	}
	return out
}

// SetRestricted sets tg's restricted flag.
func (h *TGHandler) SetRestricted(tg uint32, restricted bool) {
	h.record(tg).restricted = restricted
}
