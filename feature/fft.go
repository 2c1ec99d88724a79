package feature

import (
	"math"
	"math/cmplx"
)

func bitReverse(x, bits int) int {
	var result int
	for i := 0; i < bits; i++ {
		result = (result << 1) | (x & 1)
		x >>= 1
	}
	return result
}

// roundUpPow2 returns the smallest power of two >= n.
func roundUpPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fftWorkspace holds reusable buffers for FFT computation in split
// real/imaginary layout. A workspace belongs to one stage instance.
type fftWorkspace struct {
	bufRe []float64 // [fftSize] real part
	bufIm []float64 // [fftSize] imaginary part
	power []float64 // [fftSize/2+1]
	bits  int
	perm  []int       // bit-reversal permutation table
	twRe  [][]float64 // twiddle factors real parts per stage
	twIm  [][]float64 // twiddle factors imag parts per stage
}

func newFFTWorkspace(fftSize int) *fftWorkspace {
	bits := 0
	for v := fftSize; v > 1; v >>= 1 {
		bits++
	}

	perm := make([]int, fftSize)
	for i := 0; i < fftSize; i++ {
		perm[i] = bitReverse(i, bits)
	}

	var twRe, twIm [][]float64
	for size := 2; size <= fftSize; size *= 2 {
		halfSize := size / 2
		re := make([]float64, halfSize)
		im := make([]float64, halfSize)
		w := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		wn := complex(1, 0)
		for k := 0; k < halfSize; k++ {
			re[k] = real(wn)
			im[k] = imag(wn)
			wn *= w
		}
		twRe = append(twRe, re)
		twIm = append(twIm, im)
	}

	return &fftWorkspace{
		bufRe: make([]float64, fftSize),
		bufIm: make([]float64, fftSize),
		power: make([]float64, fftSize/2+1),
		bits:  bits,
		perm:  perm,
		twRe:  twRe,
		twIm:  twIm,
	}
}

// computePowerSpectrum loads frame into the buffer, zero-pads, performs an
// in-place FFT, and writes |X|^2/N into ws.power. No allocations.
func (ws *fftWorkspace) computePowerSpectrum(frame []float64) {
	n := len(ws.bufRe)
	copy(ws.bufRe, frame)
	for i := len(frame); i < n; i++ {
		ws.bufRe[i] = 0
	}
	clear(ws.bufIm)

	for i := 0; i < n; i++ {
		j := ws.perm[i]
		if i < j {
			ws.bufRe[i], ws.bufRe[j] = ws.bufRe[j], ws.bufRe[i]
			ws.bufIm[i], ws.bufIm[j] = ws.bufIm[j], ws.bufIm[i]
		}
	}

	for stage, size := 0, 2; size <= n; stage, size = stage+1, size*2 {
		halfSize := size / 2
		twRe, twIm := ws.twRe[stage], ws.twIm[stage]
		for start := 0; start < n; start += size {
			aRe := ws.bufRe[start : start+halfSize]
			aIm := ws.bufIm[start : start+halfSize]
			bRe := ws.bufRe[start+halfSize : start+size]
			bIm := ws.bufIm[start+halfSize : start+size]
			for k := range aRe {
				tRe := twRe[k]*bRe[k] - twIm[k]*bIm[k]
				tIm := twRe[k]*bIm[k] + twIm[k]*bRe[k]
				bRe[k] = aRe[k] - tRe
				bIm[k] = aIm[k] - tIm
				aRe[k] += tRe
				aIm[k] += tIm
			}
		}
	}

	nBins := n/2 + 1
	fn := float64(n)
	for i := 0; i < nBins; i++ {
		r := ws.bufRe[i]
		im := ws.bufIm[i]
		ws.power[i] = (r*r + im*im) / fn
	}
}
