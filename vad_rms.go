package main

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// rmsEnergy computes the root-mean-square energy of a PCM window using
// gonum's vectorized dot product, the same precheck idea as a pure-Go
// hysteresis VAD fallback: cheap enough to run on every window before
// bothering the real classifier.
func rmsEnergy(window []float32) float32 {
	if len(window) == 0 {
		return 0
	}
	f64 := make([]float64, len(window))
	for i, v := range window {
		f64[i] = float64(v)
	}
	sumSq := floats.Dot(f64, f64)
	return float32(math.Sqrt(sumSq / float64(len(f64))))
}
