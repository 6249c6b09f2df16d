//go:build opus
// +build opus

package main

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// OpusDecoderWrapper decodes the Opus frames carried in UdpAudio payloads
// into f32 PCM for the VAD gate (spec.md §4.E step 2: "Opus-decode at 16
// kHz mono, frame size 320 samples").
type OpusDecoderWrapper struct {
	decoder *opus.Decoder
}

// NewOpusDecoder creates a real Opus decoder at sampleRate, mono.
func NewOpusDecoder(sampleRate int) (*OpusDecoderWrapper, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: failed to create decoder: %w", err)
	}
	return &OpusDecoderWrapper{decoder: dec}, nil
}

// Decode decodes one Opus frame into f32 PCM samples scaled to [-1, 1].
func (w *OpusDecoderWrapper) Decode(opusData []byte, frameSize int) ([]float32, error) {
	pcm := make([]int16, frameSize)
	n, err := w.decoder.Decode(opusData, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus: decode failed: %w", err)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(pcm[i]) / 32768.0
	}
	return out, nil
}

// Enabled reports whether a real Opus decoder is available.
func (w *OpusDecoderWrapper) Enabled() bool { return true }
