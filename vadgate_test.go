package main

import "testing"

// alwaysVoiceClassifier immediately confirms speech on every window, used
// to exercise the gate's release-and-bypass path without depending on the
// stub Opus decoder producing real audio.
type alwaysVoiceClassifier struct{}

func (alwaysVoiceClassifier) Process(window []float32) bool { return true }
func (alwaysVoiceClassifier) Reset()                        {}

// neverVoiceClassifier never confirms speech, used to exercise the gate
// exhaustion/disconnect path.
type neverVoiceClassifier struct{}

func (neverVoiceClassifier) Process(window []float32) bool { return false }
func (neverVoiceClassifier) Reset()                        {}

func TestHysteresisClassifierRequiresConsecutiveSpeechFrames(t *testing.T) {
	c := NewDefaultClassifier(0.1)

	loud := make([]float32, 64)
	for i := range loud {
		loud[i] = 0.5
	}
	quiet := make([]float32, 64)

	if c.Process(loud) {
		t.Fatal("a single loud frame should not yet confirm voice")
	}
	if !c.Process(loud) {
		t.Fatal("a second consecutive loud frame should confirm voice")
	}

	c.Reset()
	if c.Process(quiet) {
		t.Fatal("quiet frame after reset should not report voice")
	}
}

func TestRMSPrecheckRejectsBelowFloor(t *testing.T) {
	inner := alwaysVoiceClassifier{}
	wrapped := newRMSPrecheckClassifier(inner, 0.3)

	quiet := make([]float32, 32)
	if wrapped.Process(quiet) {
		t.Fatal("quiet window should be rejected by the RMS precheck before reaching the model")
	}

	loud := make([]float32, 32)
	for i := range loud {
		loud[i] = 0.9
	}
	if !wrapped.Process(loud) {
		t.Fatal("loud window should pass the RMS precheck and reach the always-voice model")
	}
}
