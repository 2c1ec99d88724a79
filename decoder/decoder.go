// Package decoder implements frame-synchronous token passing over a search
// graph whose input labels are transition ids and whose output labels are
// words. Alongside the best path it keeps forward links between tokens so a
// raw lattice can be extracted at any time.
package decoder

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ieee0824/livedecode-go/fst"
	"github.com/ieee0824/livedecode-go/lattice"
)

// Decodable supplies scaled acoustic log-likelihoods per frame.
type Decodable interface {
	NumFramesReady() int
	IsLastFrame(frame int) bool
	// LogLikelihood returns the scaled log-likelihood of transition id tid
	// at frame.
	LogLikelihood(frame, tid int) float64
}

// token represents an active hypothesis: a graph state at one frame.
type token struct {
	state fst.StateID
	cost  float64 // best total cost from the start
	extra float64 // how far the best path through here is from the best overall
	links *link

	// Best predecessor, used for best-path traceback.
	bp    *token
	bpArc link

	id int // lattice state id during extraction
}

// link is a forward link from one token to another, carrying one graph arc.
type link struct {
	next     *token
	ilabel   fst.Label
	olabel   fst.Label
	graph    float64
	acoustic float64
	tail     *link
}

// frameToks holds one frame's tokens in creation order plus a state index.
type frameToks struct {
	list  []*token
	index map[fst.StateID]*token
}

func newFrameToks() *frameToks {
	return &frameToks{index: make(map[fst.StateID]*token)}
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger for pruning diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) { d.log = l }
}

// Decoder is a lattice-generating beam search decoder. It is not safe for
// concurrent use.
type Decoder struct {
	graph *fst.StdFst
	cfg   Config
	log   zerolog.Logger

	// frames[t] are the tokens after t frames have been consumed.
	frames    []*frameToks
	finalized bool
}

// New returns a decoder searching graph. Call InitDecoding before use.
func New(graph *fst.StdFst, cfg Config, opts ...Option) *Decoder {
	d := &Decoder{graph: graph, cfg: cfg, log: zerolog.Nop()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Config returns the decoder's options.
func (d *Decoder) Config() Config { return d.cfg }

// InitDecoding discards all search state and places a single token on the
// graph's start state.
func (d *Decoder) InitDecoding() {
	d.frames = d.frames[:0]
	d.finalized = false
	ft := newFrameToks()
	d.frames = append(d.frames, ft)
	start := d.graph.Start()
	if start == fst.NoState {
		return
	}
	tok := &token{state: start}
	ft.list = append(ft.list, tok)
	ft.index[start] = tok
	d.processNonemitting(d.cfg.Beam)
}

// NumFramesDecoded is the number of frames consumed since InitDecoding.
func (d *Decoder) NumFramesDecoded() int { return len(d.frames) - 1 }

// AdvanceDecoding consumes up to maxFrames frames that dec has ready, or
// all of them when maxFrames is negative. It returns the number consumed.
func (d *Decoder) AdvanceDecoding(dec Decodable, maxFrames int) int {
	if d.finalized || len(d.frames) == 0 {
		return 0
	}
	target := dec.NumFramesReady()
	if maxFrames >= 0 {
		target = min(target, d.NumFramesDecoded()+maxFrames)
	}
	startFrames := d.NumFramesDecoded()
	for d.NumFramesDecoded() < target {
		if n := d.NumFramesDecoded(); n > 0 && n%d.cfg.PruneInterval == 0 {
			d.pruneActiveTokens(false)
		}
		cutoff := d.processEmitting(dec)
		d.processNonemitting(cutoff)
	}
	return d.NumFramesDecoded() - startFrames
}

// FinalizeDecoding prunes the lattice using final costs. No further frames
// can be decoded until InitDecoding.
func (d *Decoder) FinalizeDecoding() {
	if d.finalized || len(d.frames) == 0 {
		return
	}
	d.pruneActiveTokens(true)
	d.finalized = true
}

// Finalized reports whether FinalizeDecoding has been called.
func (d *Decoder) Finalized() bool { return d.finalized }

// getCutoff returns the pruning cutoff for toks, the beam to use for the
// next frame, and the best token.
func (d *Decoder) getCutoff(toks []*token) (cutoff, adaptiveBeam float64, best *token) {
	bestCost := math.Inf(1)
	for _, t := range toks {
		if t.cost < bestCost {
			bestCost = t.cost
			best = t
		}
	}
	beamCutoff := bestCost + d.cfg.Beam
	n := len(toks)
	if n <= d.cfg.MaxActive && (n <= d.cfg.MinActive || d.cfg.MinActive == 0) {
		if n <= d.cfg.MinActive {
			// Fewer than MinActive tokens: keep them all.
			return math.Inf(1), math.Inf(1), best
		}
		return beamCutoff, d.cfg.Beam, best
	}
	costs := make([]float64, n)
	for i, t := range toks {
		costs[i] = t.cost
	}
	sort.Float64s(costs)
	if n > d.cfg.MaxActive {
		if c := costs[d.cfg.MaxActive]; c < beamCutoff {
			return c, c - bestCost + d.cfg.BeamDelta, best
		}
	}
	minCutoff := math.Inf(1)
	if n > d.cfg.MinActive {
		minCutoff = costs[d.cfg.MinActive]
		if d.cfg.MinActive == 0 {
			minCutoff = bestCost
		}
	}
	if minCutoff > beamCutoff {
		return minCutoff, minCutoff - bestCost + d.cfg.BeamDelta, best
	}
	return beamCutoff, d.cfg.Beam, best
}

// findOrAdd returns the token for s in ft, creating it or lowering its cost
// as needed. changed reports whether the token is new or improved.
func findOrAdd(ft *frameToks, s fst.StateID, cost float64, prev *token, arc link) (tok *token, changed bool) {
	if tok, ok := ft.index[s]; ok {
		if cost >= tok.cost {
			return tok, false
		}
		tok.cost = cost
		tok.bp = prev
		tok.bpArc = arc
		return tok, true
	}
	tok = &token{state: s, cost: cost, bp: prev, bpArc: arc}
	ft.list = append(ft.list, tok)
	ft.index[s] = tok
	return tok, true
}

// processEmitting moves tokens of the last frame across emitting arcs into
// a new frame and returns the cutoff for that frame.
func (d *Decoder) processEmitting(dec Decodable) float64 {
	frame := d.NumFramesDecoded()
	cur := d.frames[frame]
	cutoff, adaptiveBeam, best := d.getCutoff(cur.list)

	// Seed the next cutoff from the best token so fewer tokens are created.
	nextCutoff := math.Inf(1)
	if best != nil {
		for _, arc := range d.graph.Arcs(best.state) {
			if arc.ILabel == fst.Epsilon {
				continue
			}
			c := best.cost + float64(arc.Weight) - dec.LogLikelihood(frame, arc.ILabel)
			nextCutoff = min(nextCutoff, c+adaptiveBeam)
		}
	}

	next := newFrameToks()
	for _, tok := range cur.list {
		if tok.cost > cutoff {
			continue
		}
		for _, arc := range d.graph.Arcs(tok.state) {
			if arc.ILabel == fst.Epsilon {
				continue
			}
			ac := -dec.LogLikelihood(frame, arc.ILabel)
			g := float64(arc.Weight)
			c := tok.cost + g + ac
			if c > nextCutoff {
				continue
			}
			if c+adaptiveBeam < nextCutoff {
				nextCutoff = c + adaptiveBeam
			}
			l := link{ilabel: arc.ILabel, olabel: arc.OLabel, graph: g, acoustic: ac}
			nt, _ := findOrAdd(next, arc.NextState, c, tok, l)
			l.next = nt
			l.tail = tok.links
			tok.links = &l
		}
	}
	d.frames = append(d.frames, next)
	return nextCutoff
}

// processNonemitting follows epsilon-input arcs within the last frame.
func (d *Decoder) processNonemitting(cutoff float64) {
	cur := d.frames[len(d.frames)-1]
	queue := make([]*token, 0, len(cur.list))
	for _, tok := range cur.list {
		if d.hasEpsilon(tok.state) {
			queue = append(queue, tok)
		}
	}
	for len(queue) > 0 {
		tok := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if tok.cost > cutoff {
			continue
		}
		// The token's cost may have dropped since its links were made.
		tok.links = nil
		for _, arc := range d.graph.Arcs(tok.state) {
			if arc.ILabel != fst.Epsilon {
				continue
			}
			g := float64(arc.Weight)
			c := tok.cost + g
			if c >= cutoff {
				continue
			}
			l := link{ilabel: fst.Epsilon, olabel: arc.OLabel, graph: g}
			nt, changed := findOrAdd(cur, arc.NextState, c, tok, l)
			l.next = nt
			l.tail = tok.links
			tok.links = &l
			if changed && d.hasEpsilon(nt.state) {
				queue = append(queue, nt)
			}
		}
	}
}

func (d *Decoder) hasEpsilon(s fst.StateID) bool {
	for _, arc := range d.graph.Arcs(s) {
		if arc.ILabel == fst.Epsilon {
			return true
		}
	}
	return false
}

// finalCost returns the graph's final cost for the token's state.
func (d *Decoder) finalCost(tok *token) float64 {
	return float64(d.graph.Final(tok.state))
}

// lastFrameExtra returns the starting extra cost of each token in the last
// frame. With final costs, tokens are ranked by cost plus final cost and
// non-final tokens get +Inf; when no token is final all are kept.
func (d *Decoder) lastFrameExtra(useFinal bool) map[*token]float64 {
	last := d.frames[len(d.frames)-1].list
	base := make(map[*token]float64, len(last))
	bestFinal := math.Inf(1)
	if useFinal {
		for _, t := range last {
			bestFinal = min(bestFinal, t.cost+d.finalCost(t))
		}
	}
	for _, t := range last {
		if math.IsInf(bestFinal, 1) {
			base[t] = 0
			continue
		}
		base[t] = t.cost + d.finalCost(t) - bestFinal
	}
	return base
}

// pruneActiveTokens recomputes every token's extra cost from the last frame
// backward, drops links whose extra cost exceeds the lattice beam, then
// drops tokens that no longer lie on any surviving path.
func (d *Decoder) pruneActiveTokens(useFinal bool) {
	last := len(d.frames) - 1
	base := d.lastFrameExtra(useFinal)
	tol := d.cfg.LatticeBeam * d.cfg.PruneScale * 1e-3

	linkExtra := func(from *token, l *link) float64 {
		return from.cost + l.graph + l.acoustic - l.next.cost + l.next.extra
	}
	before, after := 0, 0
	for f := last; f >= 0; f-- {
		toks := d.frames[f].list
		before += len(toks)
		for _, t := range toks {
			if f == last {
				t.extra = base[t]
			} else {
				t.extra = math.Inf(1)
			}
		}
		// Epsilon links stay within the frame, so iterate to a fixed point.
		for changed := true; changed; {
			changed = false
			for _, t := range toks {
				e := t.extra
				for l := t.links; l != nil; l = l.tail {
					e = min(e, linkExtra(t, l))
				}
				if e < t.extra-tol {
					changed = true
				}
				t.extra = e
			}
		}
		for _, t := range toks {
			var kept *link
			for l := t.links; l != nil; {
				next := l.tail
				if linkExtra(t, l) <= d.cfg.LatticeBeam {
					l.tail = kept
					kept = l
				}
				l = next
			}
			t.links = kept
		}
	}
	for f := 0; f <= last; f++ {
		ft := d.frames[f]
		kept := ft.list[:0]
		for _, t := range ft.list {
			if t.extra <= d.cfg.LatticeBeam {
				kept = append(kept, t)
			} else {
				delete(ft.index, t.state)
			}
		}
		clear(ft.list[len(kept):])
		ft.list = kept
		after += len(kept)
	}
	d.log.Trace().Int("frame", last).Int("tokens_before", before).Int("tokens_after", after).Bool("final", useFinal).Msg("pruned active tokens")
}

// ReachedFinal reports whether any token of the last frame is on a final
// state.
func (d *Decoder) ReachedFinal() bool {
	if len(d.frames) == 0 {
		return false
	}
	for _, t := range d.frames[len(d.frames)-1].list {
		if !math.IsInf(d.finalCost(t), 1) {
			return true
		}
	}
	return false
}

// FinalRelativeCost is the difference between the best cost including
// final costs and the best cost without them. It is +Inf when no active
// token is on a final state.
func (d *Decoder) FinalRelativeCost() float64 {
	if len(d.frames) == 0 {
		return math.Inf(1)
	}
	best, bestFinal := math.Inf(1), math.Inf(1)
	for _, t := range d.frames[len(d.frames)-1].list {
		best = min(best, t.cost)
		bestFinal = min(bestFinal, t.cost+d.finalCost(t))
	}
	if math.IsInf(bestFinal, 1) {
		return math.Inf(1)
	}
	return bestFinal - best
}

// Path is a traceback of the best hypothesis.
type Path struct {
	Words []fst.Label
	// TransitionIDs has one entry per decoded frame.
	TransitionIDs []fst.Label
	GraphCost     float64
	AcousticCost  float64
}

// Cost is the total cost of the path.
func (p Path) Cost() float64 { return p.GraphCost + p.AcousticCost }

// BestPath traces back the best token of the last frame. With useFinal and
// a final state reached, final costs are included in the ranking and in
// GraphCost. ok is false when there are no active tokens.
func (d *Decoder) BestPath(useFinal bool) (p Path, ok bool) {
	if len(d.frames) == 0 {
		return Path{}, false
	}
	withFinal := useFinal && d.ReachedFinal()
	var best *token
	bestCost := math.Inf(1)
	for _, t := range d.frames[len(d.frames)-1].list {
		c := t.cost
		if withFinal {
			c += d.finalCost(t)
		}
		if c < bestCost {
			best, bestCost = t, c
		}
	}
	if best == nil {
		return Path{}, false
	}
	if withFinal {
		p.GraphCost = d.finalCost(best)
	}
	for t := best; t.bp != nil; t = t.bp {
		a := t.bpArc
		if a.olabel != fst.Epsilon {
			p.Words = append(p.Words, a.olabel)
		}
		if a.ilabel != fst.Epsilon {
			p.TransitionIDs = append(p.TransitionIDs, a.ilabel)
		}
		p.GraphCost += a.graph
		p.AcousticCost += a.acoustic
	}
	reverse(p.Words)
	reverse(p.TransitionIDs)
	return p, true
}

func reverse(s []fst.Label) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// RawLattice returns the state-level lattice of all surviving tokens, with
// transition ids on the input side and words on the output side. With
// useFinal and a final state reached, final costs become final weights;
// otherwise every last-frame token is final with weight One.
func (d *Decoder) RawLattice(useFinal bool) *lattice.Lattice {
	lat := lattice.NewLattice()
	if len(d.frames) == 0 || len(d.frames[0].list) == 0 {
		return lat
	}
	for _, ft := range d.frames {
		for _, t := range ft.list {
			t.id = lat.AddState()
		}
	}
	lat.SetStart(d.frames[0].list[0].id)
	for _, ft := range d.frames {
		for _, t := range ft.list {
			for l := t.links; l != nil; l = l.tail {
				lat.AddArc(t.id, fst.Arc[lattice.Weight]{
					ILabel:    l.ilabel,
					OLabel:    l.olabel,
					Weight:    lattice.Weight{Graph: l.graph, Acoustic: l.acoustic},
					NextState: l.next.id,
				})
			}
		}
	}
	withFinal := useFinal && d.ReachedFinal()
	for _, t := range d.frames[len(d.frames)-1].list {
		switch {
		case !withFinal:
			lat.SetFinal(t.id, lattice.Weight{})
		case !math.IsInf(d.finalCost(t), 1):
			lat.SetFinal(t.id, lattice.Weight{Graph: d.finalCost(t)})
		}
	}
	fst.Connect(lat)
	return lat
}
