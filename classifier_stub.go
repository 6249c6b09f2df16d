//go:build !onnx
// +build !onnx

package main

import (
	"errors"
	"log"
	"sync"
)

var onnxWarnOnce sync.Once

// NewONNXClassifier is the stub used when the module was built without the
// "onnx" build tag. It always fails, so callers fall back to the
// RMS-hysteresis Classifier rather than silently skipping voice
// confirmation.
func NewONNXClassifier(modelPath string, windowSize int, threshold float64) (Classifier, error) {
	onnxWarnOnce.Do(func() {
		log.Printf("WARNING: VAD gate has a silero_model_path configured but onnx runtime support was not compiled in")
		log.Printf("Rebuild with: go build -tags onnx")
	})
	return nil, errors.New("onnx: classifier not compiled in (build with -tags onnx)")
}
