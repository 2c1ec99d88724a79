package feature

// deltaAt computes the regression delta of series at t with window N:
// d[t] = sum_{n=1}^{N} n*(c[t+n] - c[t-n]) / (2 * sum_{n=1}^{N} n^2).
// Indices outside the series are clamped to its ends.
func deltaAt(series []float64, t, N int) float64 {
	last := len(series) - 1
	num, denom := 0.0, 0.0
	for n := 1; n <= N; n++ {
		tp := min(t+n, last)
		tn := max(t-n, 0)
		num += float64(n) * (series[tp] - series[tn])
		denom += float64(n * n)
	}
	if denom == 0 {
		return 0
	}
	return num / (2 * denom)
}
