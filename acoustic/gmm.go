package acoustic

import (
	"fmt"
	"math"

	"github.com/ieee0824/livedecode-go/internal/mathutil"
)

// Gaussian represents a single multivariate Gaussian component with diagonal covariance.
type Gaussian struct {
	Mean      []float64 // [dim]
	Variance  []float64 // [dim] diagonal covariance
	LogWeight float64   // log mixture weight

	// Pre-computed values
	logNormConst float64
	invVariance  []float64 // [dim] 1/Variance, precomputed to avoid division in hot loop
}

// Precompute recalculates cached normalization constants and inverse variances.
// Must be called after updating Mean, Variance, or LogWeight.
func (g *Gaussian) Precompute() {
	dim := len(g.Mean)
	g.logNormConst = float64(dim)/2.0*math.Log(2*math.Pi) + 0.5*sumLog(g.Variance)
	g.invVariance = make([]float64, dim)
	for i := range g.Variance {
		g.invVariance[i] = 1.0 / g.Variance[i]
	}
}

// LogProb computes the log probability of observation x under this Gaussian.
func (g *Gaussian) LogProb(x []float64) float64 {
	return -0.5*mahalanobis(x, g.Mean, g.invVariance) - g.logNormConst
}

func sumLog(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += math.Log(x)
	}
	return s
}

// mahalanobis computes sum((x[i]-mean[i])^2 * invVar[i]).
func mahalanobis(x, mean, invVar []float64) float64 {
	maha := 0.0
	for i, xi := range x {
		diff := xi - mean[i]
		maha += diff * diff * invVar[i]
	}
	return maha
}

// GMM is a Gaussian Mixture Model with diagonal covariance.
type GMM struct {
	Components []Gaussian
	Dim        int

	// Components packed contiguously for LogProb, built by PrecomputeSoA.
	soaMean   []float64 // [k*dim]
	soaInvVar []float64 // [k*dim]
	soaConst  []float64 // [k] logWeight - logNormConst
}

// PrecomputeSoA builds the packed cache for fast LogProb. Call after all components are set.
func (g *GMM) PrecomputeSoA() {
	k := len(g.Components)
	dim := g.Dim
	g.soaMean = make([]float64, k*dim)
	g.soaInvVar = make([]float64, k*dim)
	g.soaConst = make([]float64, k)
	for i := range g.Components {
		g.Components[i].Precompute()
		off := i * dim
		copy(g.soaMean[off:off+dim], g.Components[i].Mean)
		copy(g.soaInvVar[off:off+dim], g.Components[i].invVariance)
		g.soaConst[i] = g.Components[i].LogWeight - g.Components[i].logNormConst
	}
}

// NewGMMWithParams creates a GMM from given parameters.
func NewGMMWithParams(means, variances [][]float64, logWeights []float64) *GMM {
	k := len(means)
	dim := len(means[0])
	g := &GMM{
		Components: make([]Gaussian, k),
		Dim:        dim,
	}
	for i := range g.Components {
		mean := make([]float64, dim)
		variance := make([]float64, dim)
		copy(mean, means[i])
		copy(variance, variances[i])
		g.Components[i] = Gaussian{
			Mean:      mean,
			Variance:  variance,
			LogWeight: logWeights[i],
		}
	}
	g.PrecomputeSoA()
	return g
}

// LogProb computes log P(x | this GMM) = log sum_k w_k * N(x; μ_k, σ_k).
func (g *GMM) LogProb(x []float64) float64 {
	if g.soaMean == nil {
		g.PrecomputeSoA()
	}
	dim := g.Dim
	logSum := mathutil.LogZero
	for c := range g.soaConst {
		off := c * dim
		maha := mahalanobis(x, g.soaMean[off:off+dim], g.soaInvVar[off:off+dim])
		logSum = mathutil.LogAdd(logSum, g.soaConst[c]-0.5*maha)
	}
	return logSum
}

// AmDiagGMM is the Gaussian-mixture acoustic model: one GMM per pdf.
type AmDiagGMM struct {
	Pdfs []*GMM
	Dim  int
}

// NewAmDiagGMM checks that every pdf has dimension dim.
func NewAmDiagGMM(pdfs []*GMM) (*AmDiagGMM, error) {
	if len(pdfs) == 0 {
		return nil, fmt.Errorf("gmm model has no pdfs")
	}
	am := &AmDiagGMM{Pdfs: pdfs, Dim: pdfs[0].Dim}
	for i, g := range pdfs {
		if g.Dim != am.Dim {
			return nil, fmt.Errorf("pdf %d has dim %d, want %d", i, g.Dim, am.Dim)
		}
		if len(g.Components) == 0 {
			return nil, fmt.Errorf("pdf %d has no components", i)
		}
	}
	return am, nil
}

func (am *AmDiagGMM) Type() ModelType { return TypeGMM }

func (am *AmDiagGMM) InputDim() int { return am.Dim }

func (am *AmDiagGMM) NumPdfs() int { return len(am.Pdfs) }

func (am *AmDiagGMM) Context() (left, right int) { return 0, 0 }

// Score evaluates pdfs lazily; the decoder only touches active ones.
func (am *AmDiagGMM) Score(window [][]float64) FrameScores {
	cache := make([]float64, len(am.Pdfs))
	for i := range cache {
		cache[i] = math.NaN()
	}
	return &gmmFrame{am: am, x: window[0], cache: cache}
}

type gmmFrame struct {
	am    *AmDiagGMM
	x     []float64
	cache []float64
}

func (f *gmmFrame) LogLikelihood(pdf int) float64 {
	if v := f.cache[pdf]; !math.IsNaN(v) {
		return v
	}
	v := f.am.Pdfs[pdf].LogProb(f.x)
	f.cache[pdf] = v
	return v
}

type serializedGaussian struct {
	Mean      []float64
	Variance  []float64
	LogWeight float64
}

type serializedGMM struct {
	Components []serializedGaussian
	Dim        int
}

type serializedAmGMM struct {
	Dim  int
	Pdfs []serializedGMM
}

func (am *AmDiagGMM) serialize() serializedAmGMM {
	s := serializedAmGMM{Dim: am.Dim, Pdfs: make([]serializedGMM, len(am.Pdfs))}
	for i, g := range am.Pdfs {
		sg := serializedGMM{Dim: g.Dim}
		for _, c := range g.Components {
			sg.Components = append(sg.Components, serializedGaussian{
				Mean:      c.Mean,
				Variance:  c.Variance,
				LogWeight: c.LogWeight,
			})
		}
		s.Pdfs[i] = sg
	}
	return s
}

func amGMMFromSerialized(s *serializedAmGMM) (*AmDiagGMM, error) {
	pdfs := make([]*GMM, len(s.Pdfs))
	for i, sg := range s.Pdfs {
		if len(sg.Components) == 0 {
			return nil, fmt.Errorf("pdf %d has no components", i)
		}
		means := make([][]float64, len(sg.Components))
		vars := make([][]float64, len(sg.Components))
		weights := make([]float64, len(sg.Components))
		for k, c := range sg.Components {
			if len(c.Mean) != s.Dim || len(c.Variance) != s.Dim {
				return nil, fmt.Errorf("pdf %d component %d: dim %d/%d, want %d", i, k, len(c.Mean), len(c.Variance), s.Dim)
			}
			means[k], vars[k], weights[k] = c.Mean, c.Variance, c.LogWeight
		}
		pdfs[i] = NewGMMWithParams(means, vars, weights)
	}
	return NewAmDiagGMM(pdfs)
}
