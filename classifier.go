package main

// Classifier is the opaque voice-activity model the VAD gate drives. Model
// path and tensor layout are implementation details of whatever backs
// this interface, not of the gate itself (spec.md §4.E "Classifier
// interface").
type Classifier interface {
	// Process runs the model over one window of f32 PCM samples in
	// [-1, 1] and reports whether it judged the window to contain
	// speech.
	Process(window []float32) bool

	// Reset clears any internal recurrent state. Called once at the
	// start of every gating pass (spec.md §4.E).
	Reset()
}

// rmsPrecheckClassifier wraps a Classifier with a cheap energy-based
// precheck: windows below the RMS floor are rejected without invoking the
// wrapped model, bounding how often the (comparatively expensive) model
// runs during a noisy carrier-only transmission.
type rmsPrecheckClassifier struct {
	inner    Classifier
	rmsFloor float32
}

// newRMSPrecheckClassifier wraps inner with an RMS energy gate.
func newRMSPrecheckClassifier(inner Classifier, rmsFloor float32) Classifier {
	return &rmsPrecheckClassifier{inner: inner, rmsFloor: rmsFloor}
}

func (c *rmsPrecheckClassifier) Process(window []float32) bool {
	if rmsEnergy(window) < c.rmsFloor {
		return false
	}
	return c.inner.Process(window)
}

func (c *rmsPrecheckClassifier) Reset() { c.inner.Reset() }

// hysteresisClassifier is the default Classifier when no external model is
// wired in: an RMS-energy hysteresis detector in the style of a pure-Go
// VAD fallback, grounded on the same speech/silence-threshold idea as a
// cgo-free RMS VAD. It is normally reached through rmsPrecheckClassifier,
// wired in by NewReflector's newClassifier factory.
type hysteresisClassifier struct {
	speechThreshold  float32
	silenceThreshold float32
	speechFrames     int
	silenceFrames    int
	voiced           bool
}

// NewDefaultClassifier builds the RMS-hysteresis Classifier, deriving its
// speech/silence floors from the configured VAD threshold.
func NewDefaultClassifier(threshold float64) Classifier {
	t := float32(threshold)
	return &hysteresisClassifier{
		speechThreshold:  t,
		silenceThreshold: t * 0.6,
	}
}

func (c *hysteresisClassifier) Process(window []float32) bool {
	energy := rmsEnergy(window)
	switch {
	case energy >= c.speechThreshold:
		c.speechFrames++
		c.silenceFrames = 0
		if c.speechFrames >= 2 {
			c.voiced = true
		}
	case energy <= c.silenceThreshold:
		c.silenceFrames++
		c.speechFrames = 0
		if c.silenceFrames >= 3 {
			c.voiced = false
		}
	}
	return c.voiced
}

func (c *hysteresisClassifier) Reset() {
	c.speechFrames = 0
	c.silenceFrames = 0
	c.voiced = false
}
