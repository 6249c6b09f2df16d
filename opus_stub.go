//go:build !opus
// +build !opus

package main

import (
	"errors"
	"log"
	"sync"
)

var warnOnce sync.Once

// OpusDecoderWrapper is the stub decoder used when the module was built
// without the "opus" build tag. Decode always fails; the VAD gate counts
// each failed decode against its budget and disconnects once that budget
// is exhausted (spec.md §4.E step 6), rather than silently admitting
// unverified audio or buffering it forever.
type OpusDecoderWrapper struct{}

// NewOpusDecoder returns a stub decoder and logs once that real Opus
// decoding is unavailable.
func NewOpusDecoder(sampleRate int) (*OpusDecoderWrapper, error) {
	warnOnce.Do(func() {
		log.Printf("WARNING: VAD gate requires Opus decoding but it was not compiled in")
		log.Printf("To enable Opus support: sudo apt install libopus-dev libopusfile-dev pkg-config")
		log.Printf("Then rebuild with: go build -tags opus")
	})
	return &OpusDecoderWrapper{}, nil
}

// Decode always fails in the stub build.
func (w *OpusDecoderWrapper) Decode(opusData []byte, frameSize int) ([]float32, error) {
	return nil, errors.New("opus: decoding not compiled in (build with -tags opus)")
}

// Enabled always returns false in the stub build.
func (w *OpusDecoderWrapper) Enabled() bool { return false }
