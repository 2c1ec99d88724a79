package decoder

import (
	"math"
	"testing"

	"github.com/ieee0824/livedecode-go/fst"
	"github.com/ieee0824/livedecode-go/lattice"
)

// tableDecodable returns ll[frame][tid].
type tableDecodable struct {
	ll       [][]float64
	ready    int
	finished bool
}

func newTable(frames int, favor func(frame int) int) *tableDecodable {
	d := &tableDecodable{ready: frames, finished: true}
	for f := 0; f < frames; f++ {
		row := []float64{0, -10, -10}
		row[favor(f)] = -1
		d.ll = append(d.ll, row)
	}
	return d
}

func (d *tableDecodable) NumFramesReady() int { return d.ready }
func (d *tableDecodable) IsLastFrame(f int) bool {
	return d.finished && f == d.ready-1
}
func (d *tableDecodable) LogLikelihood(f, tid int) float64 { return d.ll[f][tid] }

// buildTinyGraph returns a graph with two one-state words: word 1 emits
// tid 1 and word 2 emits tid 2, each entered at cost 0.5 and left back to
// the start through an epsilon arc of cost 1.
func buildTinyGraph(final1, final2 float64) *fst.StdFst {
	g := fst.New[fst.TropicalWeight]()
	g.AddStates(3)
	g.SetStart(0)
	g.AddArc(0, fst.Arc[fst.TropicalWeight]{ILabel: 1, OLabel: 1, Weight: 0.5, NextState: 1})
	g.AddArc(0, fst.Arc[fst.TropicalWeight]{ILabel: 2, OLabel: 2, Weight: 0.5, NextState: 2})
	for s := 1; s <= 2; s++ {
		g.AddArc(s, fst.Arc[fst.TropicalWeight]{ILabel: s, OLabel: 0, Weight: 0, NextState: s})
		g.AddArc(s, fst.Arc[fst.TropicalWeight]{ILabel: 0, OLabel: 0, Weight: 1, NextState: 0})
	}
	g.SetFinal(1, fst.TropicalWeight(final1))
	g.SetFinal(2, fst.TropicalWeight(final2))
	return g
}

func TestDecode_SingleWord(t *testing.T) {
	d := New(buildTinyGraph(0, 0), DefaultConfig())
	d.InitDecoding()
	dec := newTable(5, func(int) int { return 1 })
	if n := d.AdvanceDecoding(dec, -1); n != 5 {
		t.Fatalf("AdvanceDecoding = %d, want 5", n)
	}
	p, ok := d.BestPath(true)
	if !ok {
		t.Fatal("no best path")
	}
	if len(p.Words) != 1 || p.Words[0] != 1 {
		t.Errorf("Words = %v, want [1]", p.Words)
	}
	if len(p.TransitionIDs) != 5 {
		t.Errorf("TransitionIDs = %v, want 5 entries", p.TransitionIDs)
	}
	if math.Abs(p.GraphCost-0.5) > 1e-9 || math.Abs(p.AcousticCost-5) > 1e-9 {
		t.Errorf("costs = (%f, %f), want (0.5, 5)", p.GraphCost, p.AcousticCost)
	}
	if math.Abs(p.Cost()-5.5) > 1e-9 {
		t.Errorf("Cost = %f, want 5.5", p.Cost())
	}
}

func TestDecode_TwoWords(t *testing.T) {
	d := New(buildTinyGraph(0, 0), DefaultConfig())
	d.InitDecoding()
	dec := newTable(6, func(f int) int {
		if f < 3 {
			return 1
		}
		return 2
	})
	d.AdvanceDecoding(dec, -1)
	d.FinalizeDecoding()
	p, ok := d.BestPath(true)
	if !ok {
		t.Fatal("no best path")
	}
	if len(p.Words) != 2 || p.Words[0] != 1 || p.Words[1] != 2 {
		t.Errorf("Words = %v, want [1 2]", p.Words)
	}
	// 0.5 + 3 + 1 + 0.5 + 3
	if math.Abs(p.Cost()-8) > 1e-9 {
		t.Errorf("Cost = %f, want 8", p.Cost())
	}
}

func TestAdvanceDecoding_Bounded(t *testing.T) {
	d := New(buildTinyGraph(0, 0), DefaultConfig())
	d.InitDecoding()
	dec := newTable(5, func(int) int { return 1 })
	dec.ready = 3
	if n := d.AdvanceDecoding(dec, 2); n != 2 {
		t.Errorf("AdvanceDecoding(2) = %d, want 2", n)
	}
	if n := d.AdvanceDecoding(dec, 10); n != 1 {
		t.Errorf("AdvanceDecoding(10) = %d, want 1", n)
	}
	if n := d.AdvanceDecoding(dec, 10); n != 0 {
		t.Errorf("AdvanceDecoding with nothing ready = %d, want 0", n)
	}
	if n := d.AdvanceDecoding(dec, 0); n != 0 {
		t.Errorf("AdvanceDecoding(0) = %d, want 0", n)
	}
	dec.ready = 5
	if got := d.NumFramesDecoded(); got != 3 {
		t.Errorf("NumFramesDecoded = %d, want 3", got)
	}
	d.FinalizeDecoding()
	if n := d.AdvanceDecoding(dec, -1); n != 0 {
		t.Errorf("AdvanceDecoding after finalize = %d, want 0", n)
	}
	d.InitDecoding()
	if d.NumFramesDecoded() != 0 || d.Finalized() {
		t.Errorf("after InitDecoding: frames %d, finalized %v", d.NumFramesDecoded(), d.Finalized())
	}
}

func TestFinalRelativeCost(t *testing.T) {
	dec := newTable(4, func(int) int { return 1 })

	d := New(buildTinyGraph(0, 0), DefaultConfig())
	d.InitDecoding()
	d.AdvanceDecoding(dec, -1)
	if got := d.FinalRelativeCost(); math.Abs(got) > 1e-9 {
		t.Errorf("FinalRelativeCost = %f, want 0", got)
	}

	d = New(buildTinyGraph(2, math.Inf(1)), DefaultConfig())
	d.InitDecoding()
	d.AdvanceDecoding(dec, -1)
	if got := d.FinalRelativeCost(); math.Abs(got-2) > 1e-9 {
		t.Errorf("FinalRelativeCost = %f, want 2", got)
	}

	d = New(buildTinyGraph(math.Inf(1), math.Inf(1)), DefaultConfig())
	d.InitDecoding()
	d.AdvanceDecoding(dec, -1)
	if got := d.FinalRelativeCost(); !math.IsInf(got, 1) {
		t.Errorf("FinalRelativeCost = %f, want +Inf", got)
	}
	if d.ReachedFinal() {
		t.Error("ReachedFinal = true without final states")
	}
	// Without final states every last-frame token counts as final.
	if _, ok := d.BestPath(true); !ok {
		t.Error("BestPath without final states returned no path")
	}
}

func TestRawLattice(t *testing.T) {
	d := New(buildTinyGraph(0, 0), DefaultConfig())
	d.InitDecoding()
	dec := newTable(6, func(f int) int {
		if f < 3 {
			return 1
		}
		return 2
	})
	d.AdvanceDecoding(dec, -1)
	d.FinalizeDecoding()
	lat := d.RawLattice(true)
	if lat.Start() == fst.NoState || lat.NumStates() == 0 {
		t.Fatal("empty raw lattice")
	}
	emitting := 0
	for s := 0; s < lat.NumStates(); s++ {
		for _, a := range lat.Arcs(s) {
			if a.ILabel != 0 {
				emitting++
			}
			if a.ILabel < 0 || a.ILabel > 2 {
				t.Errorf("arc with ilabel %d", a.ILabel)
			}
		}
	}
	if emitting < 6 {
		t.Errorf("%d emitting arcs, want at least one per frame", emitting)
	}

	clat, err := lattice.Determinize(lat, d.Config().LatticeBeam)
	if err != nil {
		t.Fatalf("Determinize: %v", err)
	}
	post, totLik, err := lattice.WordPosteriors(clat)
	if err != nil {
		t.Fatalf("WordPosteriors: %v", err)
	}
	if math.IsInf(totLik, 0) || math.IsNaN(totLik) {
		t.Errorf("tot_lik = %f", totLik)
	}
	if post.NumStates() == 0 {
		t.Error("posterior lattice is empty")
	}
}

func TestPruning_KeepsBestPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PruneInterval = 1
	cfg.LatticeBeam = 0.5
	d := New(buildTinyGraph(0, 0), cfg)
	d.InitDecoding()
	dec := newTable(30, func(f int) int {
		if f < 15 {
			return 1
		}
		return 2
	})
	d.AdvanceDecoding(dec, -1)
	d.FinalizeDecoding()
	p, ok := d.BestPath(true)
	if !ok || len(p.Words) != 2 || p.Words[0] != 1 || p.Words[1] != 2 {
		t.Fatalf("BestPath = %+v, %v", p, ok)
	}
	// A tight lattice beam leaves only the best path.
	lat := d.RawLattice(true)
	for s := 0; s < lat.NumStates(); s++ {
		if n := lat.NumArcs(s); n > 1 {
			t.Errorf("state %d has %d arcs after tight pruning", s, n)
		}
	}
}

func TestMaxActive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActive = 2
	cfg.MinActive = 0
	d := New(buildTinyGraph(0, 0), cfg)
	d.InitDecoding()
	d.AdvanceDecoding(newTable(10, func(int) int { return 2 }), -1)
	p, ok := d.BestPath(true)
	if !ok || len(p.Words) != 1 || p.Words[0] != 2 {
		t.Errorf("BestPath = %+v, %v; want word 2", p, ok)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	cfg := DefaultConfig()
	cfg.MaxActive = 100
	cfg.Beam = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for min-active > max-active and zero beam")
	}
}
