//go:build onnx
// +build onnx

package main

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxClassifier runs the configured Silero ONNX model over each window
// (spec.md §4.E "Classifier interface"), mirroring the real/stub split
// used for Opus decoding.
type onnxClassifier struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	threshold float32
}

// NewONNXClassifier loads modelPath and builds a Classifier backed by the
// ONNX Runtime session. Callers should fall back to the RMS-hysteresis
// classifier if this returns an error (e.g. no model configured).
func NewONNXClassifier(modelPath string, windowSize int, threshold float64) (Classifier, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(windowSize)))
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx: failed to allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath, []string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: failed to create session from %s: %w", modelPath, err)
	}

	return &onnxClassifier{
		session:   session,
		input:     input,
		output:    output,
		threshold: float32(threshold),
	}, nil
}

// Process copies window into the input tensor, runs inference, and
// compares the model's speech probability against the configured
// threshold.
func (c *onnxClassifier) Process(window []float32) bool {
	copy(c.input.GetData(), window)
	if err := c.session.Run(); err != nil {
		return false
	}
	return c.output.GetData()[0] >= c.threshold
}

// Reset is a no-op: the Silero model used here is stateless per window.
func (c *onnxClassifier) Reset() {}
