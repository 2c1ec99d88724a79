package lattice

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/fst"
	"github.com/ieee0824/livedecode-go/internal/mathutil"
)

// ConsistencyTolerance bounds the allowed difference between the forward
// and backward totals, in log space.
const ConsistencyTolerance = 1e-8

// Occupancy holds forward and backward log-likelihoods per state.
type Occupancy struct {
	Alpha    []float64
	Beta     []float64
	Forward  float64
	Backward float64
}

// PosteriorOption configures WordPosteriors.
type PosteriorOption func(*posteriorConfig)

type posteriorConfig struct {
	log zerolog.Logger
	tol float64
}

// WithLogger sets the logger used for consistency warnings.
func WithLogger(l zerolog.Logger) PosteriorOption {
	return func(c *posteriorConfig) { c.log = l }
}

// WithTolerance overrides ConsistencyTolerance.
func WithTolerance(tol float64) PosteriorOption {
	return func(c *posteriorConfig) { c.tol = tol }
}

// WordPosteriors turns a determinized lattice into a word acceptor in the
// log semiring whose arc weights are posterior costs: exp(-w) is the
// probability of taking the arc given that its source state was reached.
// It returns the acceptor and the total log-likelihood of the lattice.
//
// clat is consumed: its alignments are removed.
func WordPosteriors(clat *CompactLattice, opts ...PosteriorOption) (*fst.LogFst, float64, error) {
	cfg := posteriorConfig{log: zerolog.Nop(), tol: ConsistencyTolerance}
	for _, o := range opts {
		o(&cfg)
	}

	RemoveAlignments(clat)
	lat := ToLog(clat)
	if lat.Start() == fst.NoState {
		return lat, mathutil.LogZero, nil
	}
	fst.Project(lat, true)
	fst.Minimize(lat, fst.DefaultDelta)
	fst.SuperFinal(lat)
	if err := fst.TopSort(lat); err != nil {
		return nil, 0, err
	}

	occ, err := ForwardBackward(lat)
	if err != nil {
		return nil, 0, err
	}
	if !mathutil.ApproxEqual(occ.Forward, occ.Backward, cfg.tol) {
		cfg.log.Warn().
			Float64("forward", occ.Forward).
			Float64("backward", occ.Backward).
			Msg("lattice forward and backward totals disagree")
	}
	MovePosteriorsToArcs(lat, occ.Beta)
	return lat, 0.5 * (occ.Forward + occ.Backward), nil
}

// ForwardBackward computes per-state forward (alpha) and backward (beta)
// log-likelihoods of an acyclic log-semiring acceptor. Costs are negated
// log probabilities, so alpha and beta are log probabilities.
func ForwardBackward(f *fst.LogFst) (Occupancy, error) {
	order, ok := fst.TopOrder(f)
	if !ok {
		return Occupancy{}, asrerr.New(asrerr.NotAcyclic, "forward-backward", "lattice has a cycle")
	}
	n := f.NumStates()
	occ := Occupancy{
		Alpha:    make([]float64, n),
		Beta:     make([]float64, n),
		Forward:  mathutil.LogZero,
		Backward: mathutil.LogZero,
	}
	for s := range occ.Alpha {
		occ.Alpha[s] = mathutil.LogZero
	}
	if f.Start() == fst.NoState {
		return occ, nil
	}
	occ.Alpha[f.Start()] = 0
	for _, s := range order {
		a := occ.Alpha[s]
		if math.IsInf(a, -1) {
			continue
		}
		for _, arc := range f.Arcs(s) {
			occ.Alpha[arc.NextState] = mathutil.LogAdd(occ.Alpha[arc.NextState], a-float64(arc.Weight))
		}
		if f.IsFinal(s) {
			occ.Forward = mathutil.LogAdd(occ.Forward, a-float64(f.Final(s)))
		}
	}
	for i := len(order) - 1; i >= 0; i-- {
		s := order[i]
		b := -float64(f.Final(s))
		for _, arc := range f.Arcs(s) {
			b = mathutil.LogAdd(b, occ.Beta[arc.NextState]-float64(arc.Weight))
		}
		occ.Beta[s] = b
	}
	occ.Backward = occ.Beta[f.Start()]
	return occ, nil
}

// MovePosteriorsToArcs replaces each arc weight w from s to t with
// w - beta(t) + beta(s). States that cannot reach a final state get
// zero-weight (infinite cost) arcs.
func MovePosteriorsToArcs(f *fst.LogFst, beta []float64) {
	var zero fst.LogWeight
	for s := 0; s < f.NumStates(); s++ {
		arcs := f.Arcs(s)
		for i := range arcs {
			if math.IsInf(beta[s], -1) || math.IsInf(beta[arcs[i].NextState], -1) {
				arcs[i].Weight = zero.Zero()
				continue
			}
			arcs[i].Weight = fst.LogWeight(float64(arcs[i].Weight) - beta[arcs[i].NextState] + beta[s])
		}
	}
}

// Posterior returns the probability encoded by a posterior arc weight.
func Posterior(w fst.LogWeight) float64 {
	return math.Exp(-float64(w))
}
