package feature

import "math"

// numFrames returns how many whole frames of frameLen samples, shifted by
// frameShift, fit in n samples. Partial frames at the edge are dropped.
func numFrames(n, frameLen, frameShift int) int {
	if n < frameLen {
		return 0
	}
	return 1 + (n-frameLen)/frameShift
}

// removeDCOffset subtracts the frame mean in place.
func removeDCOffset(frame []float64) {
	mean := 0.0
	for _, v := range frame {
		mean += v
	}
	mean /= float64(len(frame))
	for i := range frame {
		frame[i] -= mean
	}
}

// preEmphasize applies y[n] = x[n] - alpha*x[n-1] in place, treating the
// sample before the frame as x[0].
func preEmphasize(frame []float64, alpha float64) {
	if alpha == 0 {
		return
	}
	for i := len(frame) - 1; i > 0; i-- {
		frame[i] -= alpha * frame[i-1]
	}
	frame[0] -= alpha * frame[0]
}

// hammingWindow returns the Hamming window coefficients for n samples.
func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// logEnergy returns the log of the frame's energy, floored to avoid -Inf.
func logEnergy(frame []float64) float64 {
	e := 0.0
	for _, v := range frame {
		e += v * v
	}
	return math.Log(math.Max(e, math.SmallestNonzeroFloat64))
}
