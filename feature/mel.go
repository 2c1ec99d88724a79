package feature

import "math"

// sparseFilter stores only the non-zero range of a triangular filter.
type sparseFilter struct {
	start  int       // first non-zero bin index
	coeffs []float64 // non-zero coefficient values
}

// melFilterbank holds triangular Mel-spaced filters over the positive
// FFT bins.
type melFilterbank struct {
	filters []sparseFilter
}

// newMelFilterbank constructs numFilters triangles between lowFreq and
// highFreq for a power spectrum of fftSize/2+1 bins.
func newMelFilterbank(numFilters, fftSize int, sampleRate, lowFreq, highFreq float64) *melFilterbank {
	nBins := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)
	step := (highMel - lowMel) / float64(numFilters+1)
	binHz := sampleRate / float64(fftSize)

	fb := &melFilterbank{filters: make([]sparseFilter, numFilters)}
	for i := 0; i < numFilters; i++ {
		left := lowMel + float64(i)*step
		center := left + step
		right := center + step

		start := -1
		coeffs := make([]float64, 0, 16)
		for j := 0; j < nBins; j++ {
			mel := hzToMel(float64(j) * binHz)
			if mel <= left || mel >= right {
				continue
			}
			var w float64
			if mel <= center {
				w = (mel - left) / (center - left)
			} else {
				w = (right - mel) / (right - center)
			}
			if start < 0 {
				start = j
			}
			// Bins inside the triangle are contiguous.
			coeffs = append(coeffs, w)
		}
		if start >= 0 {
			fb.filters[i] = sparseFilter{start: start, coeffs: coeffs}
		}
	}
	return fb
}

// applyInto writes log Mel energies into dst (no allocation).
func (fb *melFilterbank) applyInto(powerSpec, dst []float64) {
	for i, sf := range fb.filters {
		sum := 0.0
		for j, c := range sf.coeffs {
			sum += powerSpec[sf.start+j] * c
		}
		if sum < 1e-30 {
			sum = 1e-30
		}
		dst[i] = math.Log(sum)
	}
}

// dctTable holds the orthonormal type-II DCT basis.
type dctTable struct {
	cos [][]float64 // [numCepstra][numFilters]
}

func newDCTTable(numCepstra, numFilters int) *dctTable {
	t := &dctTable{cos: make([][]float64, numCepstra)}
	n := float64(numFilters)
	for k := 0; k < numCepstra; k++ {
		t.cos[k] = make([]float64, numFilters)
		norm := math.Sqrt(2 / n)
		if k == 0 {
			norm = math.Sqrt(1 / n)
		}
		for j := 0; j < numFilters; j++ {
			t.cos[k][j] = norm * math.Cos(math.Pi*float64(k)*(float64(j)+0.5)/n)
		}
	}
	return t
}

// applyInto computes the DCT of logMelEnergies into dst.
func (t *dctTable) applyInto(logMelEnergies, dst []float64) {
	for k, row := range t.cos {
		sum := 0.0
		for j, c := range row {
			sum += logMelEnergies[j] * c
		}
		dst[k] = sum
	}
}

// newLifter returns sinusoidal liftering coefficients, or nil when L is 0.
func newLifter(numCepstra int, L float64) []float64 {
	if L == 0 {
		return nil
	}
	coeff := make([]float64, numCepstra)
	for i := range coeff {
		coeff[i] = 1.0 + L/2.0*math.Sin(math.Pi*float64(i)/L)
	}
	return coeff
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10, mel/2595.0) - 1.0)
}
