package lattice

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/fst"
	"github.com/ieee0824/livedecode-go/internal/mathutil"
)

func carc(word int, g, a float64, next int, align ...int) fst.Arc[CompactWeight] {
	return fst.Arc[CompactWeight]{
		ILabel:    word,
		OLabel:    word,
		Weight:    CompactWeight{W: Weight{Graph: g, Acoustic: a}, Alignment: align},
		NextState: next,
	}
}

func rarc(tid, word int, g, a float64, next int) fst.Arc[Weight] {
	return fst.Arc[Weight]{ILabel: tid, OLabel: word, Weight: Weight{Graph: g, Acoustic: a}, NextState: next}
}

func TestTwoParallelPathsPosterior(t *testing.T) {
	const c = 7.5
	clat := NewCompactLattice()
	clat.AddStates(2)
	clat.SetStart(0)
	clat.AddArc(0, carc(1, c/2, c/2, 1, 11, 12))
	clat.AddArc(0, carc(2, c/2, c/2, 1, 13))
	clat.SetFinal(1, CompactWeight{})

	post, totLik, err := WordPosteriors(clat)
	if err != nil {
		t.Fatalf("WordPosteriors: %v", err)
	}
	if want := -c + math.Log(2); math.Abs(totLik-want) > 1e-9 {
		t.Errorf("totLik = %f, want %f", totLik, want)
	}
	arcs := post.Arcs(post.Start())
	if len(arcs) != 2 {
		t.Fatalf("start arcs = %d, want 2", len(arcs))
	}
	for _, a := range arcs {
		if got := -float64(a.Weight); math.Abs(got-math.Log(0.5)) > 1e-9 {
			t.Errorf("word %d log posterior = %f, want %f", a.ILabel, got, math.Log(0.5))
		}
	}
}

func TestForwardBackwardAgreeOnRandomLattices(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		clat := randomCompactLattice(rng, 3+rng.Intn(12))
		RemoveAlignments(clat)
		lat := ToLog(clat)
		fst.Minimize(lat, fst.DefaultDelta)
		fst.SuperFinal(lat)
		if err := fst.TopSort(lat); err != nil {
			t.Fatalf("trial %d: TopSort: %v", trial, err)
		}
		occ, err := ForwardBackward(lat)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		if math.Abs(occ.Forward-occ.Backward) > ConsistencyTolerance {
			t.Errorf("trial %d: forward %.12f backward %.12f", trial, occ.Forward, occ.Backward)
		}
	}
}

func TestBetaConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		clat := randomCompactLattice(rng, 4+rng.Intn(8))
		post, _, err := WordPosteriors(clat)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		occ, err := ForwardBackward(post)
		if err != nil {
			t.Fatal(err)
		}
		for s := 0; s < post.NumStates(); s++ {
			// Posterior weights are normalized per state, so the outgoing mass
			// plus the final weight sums to one for every live state.
			terms := []float64{-float64(post.Final(s))}
			for _, a := range post.Arcs(s) {
				terms = append(terms, -float64(a.Weight))
			}
			sum := mathutil.LogSumExp(terms)
			if math.IsInf(sum, -1) {
				continue
			}
			if math.Abs(sum) > 1e-9 {
				t.Errorf("trial %d state %d: posterior mass log %f, want 0", trial, s, sum)
			}
			// On the normalized acceptor beta is zero everywhere reachable.
			if math.Abs(occ.Beta[s]) > 1e-9 {
				t.Errorf("trial %d state %d: beta %f, want 0", trial, s, occ.Beta[s])
			}
		}
	}
}

func TestBetaRecursion(t *testing.T) {
	f := fst.New[fst.LogWeight]()
	f.AddStates(3)
	f.SetStart(0)
	f.AddArc(0, fst.Arc[fst.LogWeight]{ILabel: 1, OLabel: 1, Weight: 1, NextState: 1})
	f.AddArc(0, fst.Arc[fst.LogWeight]{ILabel: 2, OLabel: 2, Weight: 2, NextState: 2})
	f.AddArc(1, fst.Arc[fst.LogWeight]{ILabel: 3, OLabel: 3, Weight: 0.5, NextState: 2})
	f.SetFinal(1, 3)
	f.SetFinal(2, 0.25)
	occ, err := ForwardBackward(f)
	if err != nil {
		t.Fatal(err)
	}
	for s := 0; s < f.NumStates(); s++ {
		terms := []float64{-float64(f.Final(s))}
		for _, a := range f.Arcs(s) {
			terms = append(terms, occ.Beta[a.NextState]-float64(a.Weight))
		}
		if got := mathutil.LogSumExp(terms); math.Abs(got-occ.Beta[s]) > 1e-12 {
			t.Errorf("state %d: beta %f, recursion %f", s, occ.Beta[s], got)
		}
	}
	if math.Abs(occ.Forward-occ.Backward) > 1e-12 {
		t.Errorf("forward %f != backward %f", occ.Forward, occ.Backward)
	}
}

func TestWordPosteriorsNotAcyclic(t *testing.T) {
	clat := NewCompactLattice()
	clat.AddStates(2)
	clat.SetStart(0)
	clat.AddArc(0, carc(1, 1, 0, 1))
	clat.AddArc(1, carc(2, 1, 0, 0))
	clat.SetFinal(1, CompactWeight{})
	_, _, err := WordPosteriors(clat)
	if !errors.Is(err, asrerr.ErrNotAcyclic) {
		t.Errorf("err = %v, want NotAcyclic", err)
	}
}

func TestWordPosteriorsWarnsOnMismatch(t *testing.T) {
	clat := NewCompactLattice()
	clat.AddStates(2)
	clat.SetStart(0)
	clat.AddArc(0, carc(1, 1, 0, 1))
	clat.SetFinal(1, CompactWeight{})
	var buf bytes.Buffer
	// A negative tolerance forces the warning path without failing the call.
	_, _, err := WordPosteriors(clat, WithLogger(zerolog.New(&buf)), WithTolerance(-1))
	if err != nil {
		t.Fatalf("WordPosteriors: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("disagree")) {
		t.Errorf("expected consistency warning, log = %q", buf.String())
	}
}

func TestWordPosteriorsEmpty(t *testing.T) {
	post, tot, err := WordPosteriors(NewCompactLattice())
	if err != nil {
		t.Fatal(err)
	}
	if post.NumStates() != 0 || !math.IsInf(tot, -1) {
		t.Errorf("empty lattice: states=%d tot=%f", post.NumStates(), tot)
	}
}

func TestDeterminizeKeepsBestAlignment(t *testing.T) {
	lat := NewLattice()
	lat.AddStates(4)
	lat.SetStart(0)
	lat.AddArc(0, rarc(1, 0, 1, 1, 1))
	lat.AddArc(1, rarc(2, 5, 0, 1, 2))
	lat.AddArc(0, rarc(3, 0, 2, 2, 3))
	lat.AddArc(3, rarc(4, 5, 0, 0, 2))
	lat.SetFinal(2, Weight{})

	clat, err := Determinize(lat, 10)
	if err != nil {
		t.Fatalf("Determinize: %v", err)
	}
	if clat.NumStates() != 2 {
		t.Fatalf("NumStates = %d, want 2", clat.NumStates())
	}
	arcs := clat.Arcs(clat.Start())
	if len(arcs) != 1 {
		t.Fatalf("arcs = %d, want 1", len(arcs))
	}
	a := arcs[0]
	if a.OLabel != 5 {
		t.Errorf("word = %d, want 5", a.OLabel)
	}
	if a.Weight.W != (Weight{Graph: 1, Acoustic: 2}) {
		t.Errorf("weight = %+v, want {1 2}", a.Weight.W)
	}
	if len(a.Weight.Alignment) != 2 || a.Weight.Alignment[0] != 1 || a.Weight.Alignment[1] != 2 {
		t.Errorf("alignment = %v, want [1 2]", a.Weight.Alignment)
	}
	if !clat.IsFinal(a.NextState) {
		t.Error("destination should be final")
	}
}

func TestDeterminizeSplitsWordSequences(t *testing.T) {
	// Two words in sequence on one path, a single different word on another.
	lat := NewLattice()
	lat.AddStates(4)
	lat.SetStart(0)
	lat.AddArc(0, rarc(1, 7, 1, 0, 1))
	lat.AddArc(1, rarc(2, 8, 1, 0, 3))
	lat.AddArc(0, rarc(3, 9, 1, 0, 2))
	lat.AddArc(2, rarc(4, 0, 1, 0, 3))
	lat.SetFinal(3, Weight{})
	clat, err := Determinize(lat, 100)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(clat.Arcs(clat.Start())); n != 2 {
		t.Errorf("start arcs = %d, want 2", n)
	}
}

func TestPruneDropsPathsOutsideBeam(t *testing.T) {
	lat := NewLattice()
	lat.AddStates(3)
	lat.SetStart(0)
	lat.AddArc(0, rarc(1, 1, 1, 0, 1))
	lat.AddArc(0, rarc(2, 2, 20, 0, 2))
	lat.SetFinal(1, Weight{})
	lat.SetFinal(2, Weight{})
	if err := Prune(lat, 5); err != nil {
		t.Fatal(err)
	}
	if lat.NumStates() != 2 {
		t.Errorf("NumStates = %d, want 2", lat.NumStates())
	}
	if lat.NumArcsTotal() != 1 {
		t.Errorf("NumArcsTotal = %d, want 1", lat.NumArcsTotal())
	}
}

func TestWeightSemiring(t *testing.T) {
	a := Weight{Graph: 1, Acoustic: 2}
	b := Weight{Graph: 2, Acoustic: 1}
	// Equal totals: the lower graph cost wins.
	if got := a.Plus(b); got != a {
		t.Errorf("Plus = %+v, want %+v", got, a)
	}
	if got := a.Times(b); got != (Weight{Graph: 3, Acoustic: 3}) {
		t.Errorf("Times = %+v", got)
	}
	if got := a.Times(b).Divide(b); got != a {
		t.Errorf("Divide = %+v, want %+v", got, a)
	}
	if !(Weight{}).Zero().IsZero() {
		t.Error("Zero is not zero")
	}
	cw := CompactWeight{W: a, Alignment: []int{1}}.Times(CompactWeight{W: b, Alignment: []int{2, 3}})
	if len(cw.Alignment) != 3 || cw.Alignment[2] != 3 {
		t.Errorf("alignment = %v", cw.Alignment)
	}
}

// randomCompactLattice builds a connected acyclic lattice where arcs only go
// from lower to higher state ids.
func randomCompactLattice(rng *rand.Rand, n int) *CompactLattice {
	clat := NewCompactLattice()
	clat.AddStates(n)
	clat.SetStart(0)
	for s := 0; s < n-1; s++ {
		clat.AddArc(s, carc(1+rng.Intn(5), rng.Float64()*3, rng.Float64()*10, s+1))
		extra := rng.Intn(3)
		for i := 0; i < extra; i++ {
			next := s + 1 + rng.Intn(n-s-1)
			clat.AddArc(s, carc(1+rng.Intn(5), rng.Float64()*3, rng.Float64()*10, next))
		}
		if rng.Intn(4) == 0 {
			clat.SetFinal(s, CompactWeight{W: Weight{Graph: rng.Float64()}})
		}
	}
	clat.SetFinal(n-1, CompactWeight{})
	return clat
}
