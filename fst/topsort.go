package fst

import "github.com/ieee0824/livedecode-go/asrerr"

// TopSort renumbers the states of f so that every arc goes from a lower to
// a higher state id. It fails with NotAcyclic when f has a cycle, leaving f
// unchanged.
func TopSort[W Weight[W]](f *Fst[W]) error {
	order, ok := TopOrder(f)
	if !ok {
		return asrerr.New(asrerr.NotAcyclic, "topsort", "transducer with %d states has a cycle", f.NumStates())
	}
	newID := make([]StateID, f.NumStates())
	for i, s := range order {
		newID[s] = i
	}
	states := make([]state[W], len(f.states))
	for old, st := range f.states {
		for i := range st.arcs {
			st.arcs[i].NextState = newID[st.arcs[i].NextState]
		}
		states[newID[old]] = st
	}
	f.states = states
	if f.start != NoState {
		f.start = newID[f.start]
	}
	return nil
}

// TopOrder returns the states of f in a topological order, or false if f
// has a cycle. Self-loops count as cycles.
func TopOrder[W Weight[W]](f *Fst[W]) ([]StateID, bool) {
	n := f.NumStates()
	indeg := make([]int, n)
	for s := 0; s < n; s++ {
		for _, a := range f.Arcs(s) {
			indeg[a.NextState]++
		}
	}
	queue := make([]StateID, 0, n)
	// Seed with the start state first so it keeps the lowest id when it has
	// no predecessors.
	if f.Start() != NoState && indeg[f.Start()] == 0 {
		queue = append(queue, f.Start())
	}
	for s := 0; s < n; s++ {
		if indeg[s] == 0 && s != f.Start() {
			queue = append(queue, s)
		}
	}
	order := make([]StateID, 0, n)
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		order = append(order, s)
		for _, a := range f.Arcs(s) {
			indeg[a.NextState]--
			if indeg[a.NextState] == 0 {
				queue = append(queue, a.NextState)
			}
		}
	}
	return order, len(order) == n
}
