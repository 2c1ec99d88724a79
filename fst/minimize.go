package fst

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultDelta is the weight quantization step used when comparing states.
const DefaultDelta = 1.0 / 1024

// Minimize merges equivalent states of an acyclic transducer and collapses
// parallel arcs that share labels and destination, combining their weights
// with Plus. Two states are equivalent when their final weights and their
// sets of (ilabel, olabel, weight, destination class) agree after
// quantizing weights by delta. Weights are not pushed, so the result
// accepts the same weighted language as f.
//
// Cyclic input is left unchanged and Minimize returns false.
func Minimize[W Weight[W]](f *Fst[W], delta float64) bool {
	if f.Start() == NoState {
		return true
	}
	heights, ok := stateHeights(f)
	if !ok {
		return false
	}
	n := f.NumStates()
	byHeight := make([]StateID, n)
	for i := range byHeight {
		byHeight[i] = i
	}
	sort.SliceStable(byHeight, func(i, j int) bool { return heights[byHeight[i]] < heights[byHeight[j]] })

	class := make([]int, n)
	rep := make([]StateID, 0, n)
	merged := make([][]Arc[W], n)
	classOf := make(map[string]int)
	for _, s := range byHeight {
		arcs := collapseArcs(f.Arcs(s), class)
		merged[s] = arcs
		key := stateKey(f.Final(s), arcs, class, delta)
		c, seen := classOf[key]
		if !seen {
			c = len(rep)
			classOf[key] = c
			rep = append(rep, s)
		}
		class[s] = c
	}
	if len(rep) == n && !hasParallelArcs(f, merged) {
		return true
	}

	out := make([]state[W], len(rep))
	for c, s := range rep {
		out[c].final = f.Final(s)
		arcs := merged[s]
		for i := range arcs {
			arcs[i].NextState = class[arcs[i].NextState]
		}
		out[c].arcs = arcs
	}
	f.states = out
	f.start = class[f.start]
	Connect(f)
	return true
}

// stateHeights returns the longest arc distance from each state to a state
// with no arcs, or false if f has a cycle.
func stateHeights[W Weight[W]](f *Fst[W]) ([]int, bool) {
	const (
		white = iota
		gray
		black
	)
	n := f.NumStates()
	color := make([]int8, n)
	height := make([]int, n)
	type frame struct {
		s StateID
		i int
	}
	for root := 0; root < n; root++ {
		if color[root] != white {
			continue
		}
		stack := []frame{{s: root}}
		color[root] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			arcs := f.Arcs(top.s)
			if top.i < len(arcs) {
				next := arcs[top.i].NextState
				top.i++
				switch color[next] {
				case gray:
					return nil, false
				case white:
					color[next] = gray
					stack = append(stack, frame{s: next})
				}
				continue
			}
			h := 0
			for _, a := range arcs {
				if height[a.NextState]+1 > h {
					h = height[a.NextState] + 1
				}
			}
			height[top.s] = h
			color[top.s] = black
			stack = stack[:len(stack)-1]
		}
	}
	return height, true
}

// collapseArcs combines arcs with equal labels and equal destination class.
// The returned arcs still point at original states.
func collapseArcs[W Weight[W]](arcs []Arc[W], class []int) []Arc[W] {
	type key struct{ il, ol, c int }
	out := make([]Arc[W], 0, len(arcs))
	idx := make(map[key]int, len(arcs))
	for _, a := range arcs {
		k := key{a.ILabel, a.OLabel, class[a.NextState]}
		if i, ok := idx[k]; ok {
			out[i].Weight = out[i].Weight.Plus(a.Weight)
			continue
		}
		idx[k] = len(out)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ILabel != out[j].ILabel {
			return out[i].ILabel < out[j].ILabel
		}
		if out[i].OLabel != out[j].OLabel {
			return out[i].OLabel < out[j].OLabel
		}
		return class[out[i].NextState] < class[out[j].NextState]
	})
	return out
}

func stateKey[W Weight[W]](final W, arcs []Arc[W], class []int, delta float64) string {
	var b strings.Builder
	b.WriteString(quantize(final.Cost(), delta))
	for _, a := range arcs {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(a.ILabel))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(a.OLabel))
		b.WriteByte(':')
		b.WriteString(quantize(a.Weight.Cost(), delta))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(class[a.NextState]))
	}
	return b.String()
}

func quantize(c, delta float64) string {
	if math.IsInf(c, 0) || math.IsNaN(c) {
		return strconv.FormatFloat(c, 'g', -1, 64)
	}
	return strconv.FormatInt(int64(math.Floor(c/delta+0.5)), 10)
}

func hasParallelArcs[W Weight[W]](f *Fst[W], merged [][]Arc[W]) bool {
	for s := range merged {
		if len(merged[s]) != f.NumArcs(s) {
			return true
		}
	}
	return false
}
