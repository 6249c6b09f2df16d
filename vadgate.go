package main

import "fmt"

// vadOpusFrameSize is the fixed Opus decode frame size assumed by the
// gate, 320 samples at 16 kHz mono (spec.md §4.E step 2).
const vadOpusFrameSize = 320

// vadGateState is one session's pre-voice gating state for its current
// talk spell (spec.md §3 "voice_detected latch", §4.E step 7: "Gate
// state ... resets on any talker transition for the session's TG").
type vadGateState struct {
	classifier Classifier
	decoder    *OpusDecoderWrapper

	preVoiceQueue    []*MsgUdpAudio
	accumulator      []float32
	processedSamples int
	voiceDetected    bool
}

// VADEngine implements the VAD gate of spec.md §4.E: it applies only to
// sessions whose callsign is enabled for VAD, buffering their audio in a
// per-session pre-voice queue until the classifier confirms speech or the
// gate budget is exhausted.
type VADEngine struct {
	cfg           VADConfig
	newClassifier func() Classifier

	startSilenceSamples int
	queueCap            int
}

// NewVADEngine constructs a gate using cfg's tuning parameters and
// newClassifier to build a fresh classifier instance per talk spell (each
// session's recurrent state must not be shared with another's).
func NewVADEngine(cfg VADConfig, newClassifier func() Classifier) *VADEngine {
	startSamples := cfg.StartSilenceReplacementMs * cfg.SampleRate / 1000
	queueCap := cfg.VADGateSampleSize / vadOpusFrameSize
	if queueCap <= 0 {
		queueCap = 1
	}
	return &VADEngine{
		cfg:                 cfg,
		newClassifier:       newClassifier,
		startSilenceSamples: startSamples,
		queueCap:            queueCap,
	}
}

func (e *VADEngine) initGate(s *Session) error {
	if s.vad != nil {
		return nil
	}
	dec, err := NewOpusDecoder(e.cfg.SampleRate)
	if err != nil {
		return err
	}
	s.vad = &vadGateState{
		classifier: e.newClassifier(),
		decoder:    dec,
	}
	s.vad.classifier.Reset()
	return nil
}

// ResetSession discards s's gate state, to be called on any talker
// transition for s's TG so the next talk spell starts from a clean pass
// (spec.md §4.E step 7).
func (e *VADEngine) ResetSession(s *Session) {
	s.vad = nil
}

// GateResult reports what the engine decided for one arriving UdpAudio.
type GateResult struct {
	// Release holds messages to rebroadcast via the normal talker path:
	// either the single just-arrived message (gate already passed for
	// this talk spell) or the full drained pre-voice queue (voice just
	// confirmed).
	Release []*MsgUdpAudio
	// Disconnect is set when the gate budget was exhausted without
	// confirming voice (spec.md §4.E step 6).
	Disconnect bool
}

// Admit runs one arriving UdpAudio through the gate for callsign-enabled
// sessions. Callers that have already confirmed voice for this talk spell
// should not call Admit at all and instead broadcast directly, per the
// "bypass the gate for the remainder of this talk session" rule; Admit
// itself still honors that bypass defensively.
func (e *VADEngine) Admit(s *Session, audio *MsgUdpAudio) (GateResult, error) {
	if err := e.initGate(s); err != nil {
		return GateResult{}, fmt.Errorf("vad: %w", err)
	}
	g := s.vad
	if g.voiceDetected {
		return GateResult{Release: []*MsgUdpAudio{audio}}, nil
	}

	// Bound the pre-voice queue to the budget's worth of frames (spec.md
	// §9): once at capacity, the oldest queued frame is dropped rather
	// than growing the queue for the life of an unconfirmed talk spell.
	if len(g.preVoiceQueue) >= e.queueCap {
		g.preVoiceQueue = g.preVoiceQueue[1:]
	}
	g.preVoiceQueue = append(g.preVoiceQueue, audio)

	pcm, err := g.decoder.Decode(audio.Payload, vadOpusFrameSize)
	if err != nil {
		// A frame that fails to decode still counts against the gate
		// budget (spec.md §4.E step 6 "fail-closed"): otherwise a
		// session whose audio never decodes would never hit the
		// disconnect path and would queue frames forever.
		g.processedSamples += vadOpusFrameSize
		if g.processedSamples >= e.cfg.VADGateSampleSize {
			return GateResult{Disconnect: true}, nil
		}
		return GateResult{}, nil
	}
	g.accumulator = append(g.accumulator, pcm...)

	bufSize := e.cfg.ProcessedSampleBufferSize
	for len(g.accumulator) >= bufSize &&
		g.processedSamples < e.cfg.VADGateSampleSize &&
		!g.voiceDetected {

		window := make([]float32, bufSize)
		copy(window, g.accumulator[:bufSize])

		n := e.startSilenceSamples
		if n > len(window) {
			n = len(window)
		}
		for i := 0; i < n; i++ {
			window[i] = 0
		}

		if e.classifyWindow(g, window) {
			g.voiceDetected = true
		}

		g.processedSamples += bufSize
		g.accumulator = g.accumulator[bufSize:]
	}

	if g.voiceDetected {
		release := g.preVoiceQueue
		g.preVoiceQueue = nil
		g.accumulator = nil
		return GateResult{Release: release}, nil
	}

	if g.processedSamples >= e.cfg.VADGateSampleSize {
		return GateResult{Disconnect: true}, nil
	}

	return GateResult{}, nil
}

// classifyWindow slides WindowSizeSamples windows across buf and reports
// whether the classifier judged any of them to contain speech.
func (e *VADEngine) classifyWindow(g *vadGateState, buf []float32) bool {
	step := e.cfg.WindowSizeSamples
	if step <= 0 || step > len(buf) {
		return g.classifier.Process(buf)
	}
	for off := 0; off+step <= len(buf); off += step {
		if g.classifier.Process(buf[off : off+step]) {
			return true
		}
	}
	return false
}
