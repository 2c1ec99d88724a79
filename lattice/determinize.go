package lattice

import (
	"container/heap"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ieee0824/livedecode-go/fst"
)

// element is one member of a determinized state: a raw lattice state with
// the weight and alignment not yet emitted on output arcs.
type element struct {
	state fst.StateID
	w     Weight
	align []int
}

type subset []element

// Determinize converts a raw lattice into a compact lattice with at most one
// path per word sequence, keeping the best-scoring alignment for each. The
// raw lattice is pruned to beam first; it is modified in place.
func Determinize(lat *Lattice, beam float64) (*CompactLattice, error) {
	clat := NewCompactLattice()
	if lat.Start() == fst.NoState {
		return clat, nil
	}
	if err := Prune(lat, beam); err != nil {
		return nil, err
	}
	if lat.Start() == fst.NoState {
		return clat, nil
	}

	d := &determinizer{lat: lat, out: clat, ids: make(map[string]fst.StateID)}
	start := d.closure([]element{{state: lat.Start(), w: Weight{}}})
	clat.SetStart(d.stateFor(start))
	for len(d.queue) > 0 {
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.expand(item.id, item.set)
	}
	return clat, nil
}

type pending struct {
	id  fst.StateID
	set subset
}

type determinizer struct {
	lat   *Lattice
	out   *CompactLattice
	ids   map[string]fst.StateID
	queue []pending
}

func (d *determinizer) stateFor(set subset) fst.StateID {
	key := subsetKey(set)
	if id, ok := d.ids[key]; ok {
		return id
	}
	id := d.out.AddState()
	d.ids[key] = id
	d.queue = append(d.queue, pending{id: id, set: set})
	return id
}

func (d *determinizer) expand(id fst.StateID, set subset) {
	final := CompactWeight{}.Zero()
	for _, e := range set {
		if !d.lat.IsFinal(e.state) {
			continue
		}
		cand := CompactWeight{W: e.w.Times(d.lat.Final(e.state)), Alignment: e.align}
		final = final.Plus(cand)
	}
	d.out.SetFinal(id, final)

	// Best candidate per (word, next state).
	byWord := make(map[fst.Label]map[fst.StateID]element)
	for _, e := range set {
		for _, a := range d.lat.Arcs(e.state) {
			if a.OLabel == fst.Epsilon {
				continue
			}
			cand := element{state: a.NextState, w: e.w.Times(a.Weight), align: appendTid(e.align, a.ILabel)}
			m := byWord[a.OLabel]
			if m == nil {
				m = make(map[fst.StateID]element)
				byWord[a.OLabel] = m
			}
			if old, ok := m[a.NextState]; !ok || Less(cand.w, old.w) {
				m[a.NextState] = cand
			}
		}
	}
	words := make([]fst.Label, 0, len(byWord))
	for w := range byWord {
		words = append(words, w)
	}
	sort.Ints(words)
	for _, word := range words {
		cands := make([]element, 0, len(byWord[word]))
		for _, e := range byWord[word] {
			cands = append(cands, e)
		}
		common := cands[0].w
		prefix := cands[0].align
		for _, e := range cands[1:] {
			common = common.Plus(e.w)
			prefix = commonPrefix(prefix, e.align)
		}
		residual := make([]element, len(cands))
		for i, e := range cands {
			residual[i] = element{state: e.state, w: e.w.Divide(common), align: e.align[len(prefix):]}
		}
		next := d.stateFor(d.closure(residual))
		d.out.AddArc(id, fst.Arc[CompactWeight]{
			ILabel:    word,
			OLabel:    word,
			Weight:    CompactWeight{W: common, Alignment: append([]int(nil), prefix...)},
			NextState: next,
		})
	}
}

// closure follows word-free arcs from seeds, keeping the best element per
// raw state. States are visited in increasing id order, which is a
// topological order after Prune.
func (d *determinizer) closure(seeds []element) subset {
	best := make(map[fst.StateID]element, len(seeds))
	h := &stateHeap{}
	for _, e := range seeds {
		if old, ok := best[e.state]; ok && !Less(e.w, old.w) {
			continue
		}
		if _, ok := best[e.state]; !ok {
			heap.Push(h, e.state)
		}
		best[e.state] = e
	}
	for h.Len() > 0 {
		s := heap.Pop(h).(fst.StateID)
		e := best[s]
		for _, a := range d.lat.Arcs(s) {
			if a.OLabel != fst.Epsilon {
				continue
			}
			cand := element{state: a.NextState, w: e.w.Times(a.Weight), align: appendTid(e.align, a.ILabel)}
			old, seen := best[a.NextState]
			if seen && !Less(cand.w, old.w) {
				continue
			}
			if !seen {
				heap.Push(h, a.NextState)
			}
			best[a.NextState] = cand
		}
	}
	out := make(subset, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].state < out[j].state })
	return out
}

func appendTid(align []int, tid int) []int {
	out := make([]int, len(align), len(align)+1)
	copy(out, align)
	if tid != 0 {
		out = append(out, tid)
	}
	return out
}

func commonPrefix(a, b []int) []int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return a[:n]
}

func subsetKey(set subset) string {
	var b strings.Builder
	for _, e := range set {
		b.WriteString(strconv.Itoa(e.state))
		b.WriteByte('/')
		b.WriteString(quantize(e.w.Graph))
		b.WriteByte('/')
		b.WriteString(quantize(e.w.Acoustic))
		for _, t := range e.align {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(t))
		}
		b.WriteByte(';')
	}
	return b.String()
}

func quantize(c float64) string {
	if math.IsInf(c, 0) {
		return strconv.FormatFloat(c, 'g', -1, 64)
	}
	return strconv.FormatInt(int64(math.Floor(c/fst.DefaultDelta+0.5)), 10)
}

type stateHeap []fst.StateID

func (h stateHeap) Len() int           { return len(h) }
func (h stateHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stateHeap) Push(x any)        { *h = append(*h, x.(fst.StateID)) }
func (h *stateHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
