package mathutil

import "math"

// LogZero represents log(0).
var LogZero = math.Inf(-1)

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// Uses threshold-based early exit to skip expensive exp/log1p when the
// smaller value contributes less than float64 precision (exp(-36) ≈ 2.3e-16).
func LogAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if math.IsInf(b, -1) {
		return a
	}
	d := b - a
	if d < -36.0 {
		return a
	}
	return a + math.Log1p(math.Exp(d))
}

// LogSumExp returns log(sum(exp(x))) over xs, or LogZero when xs is empty.
func LogSumExp(xs []float64) float64 {
	max := LogZero
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, 0) {
		return max
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

// ApproxEqual reports whether a and b differ by at most tol.
// Equal infinities compare equal.
func ApproxEqual(a, b, tol float64) bool {
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= tol
}
