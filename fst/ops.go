package fst

// Project copies output labels onto input labels (output=true) or input
// labels onto output labels, turning f into an acceptor.
func Project[W Weight[W]](f *Fst[W], output bool) {
	for s := 0; s < f.NumStates(); s++ {
		arcs := f.Arcs(s)
		for i := range arcs {
			if output {
				arcs[i].ILabel = arcs[i].OLabel
			} else {
				arcs[i].OLabel = arcs[i].ILabel
			}
		}
	}
}

// SuperFinal adds a single final state. Every previously final state gets an
// epsilon arc carrying its final weight to the new state and becomes
// non-final. It returns the new state.
func SuperFinal[W Weight[W]](f *Fst[W]) StateID {
	var w W
	sf := f.AddState()
	for s := 0; s < sf; s++ {
		if !f.IsFinal(s) {
			continue
		}
		f.AddArc(s, Arc[W]{ILabel: Epsilon, OLabel: Epsilon, Weight: f.Final(s), NextState: sf})
		f.SetFinal(s, w.Zero())
	}
	f.SetFinal(sf, w.One())
	return sf
}

// Connect removes states that are not both reachable from the start state
// and able to reach a final state.
func Connect[W Weight[W]](f *Fst[W]) {
	n := f.NumStates()
	if f.Start() == NoState || n == 0 {
		f.states = nil
		f.start = NoState
		return
	}
	access := make([]bool, n)
	stack := []StateID{f.Start()}
	access[f.Start()] = true
	preds := make([][]StateID, n)
	for s := 0; s < n; s++ {
		for _, a := range f.Arcs(s) {
			preds[a.NextState] = append(preds[a.NextState], s)
		}
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, a := range f.Arcs(s) {
			if !access[a.NextState] {
				access[a.NextState] = true
				stack = append(stack, a.NextState)
			}
		}
	}
	coaccess := make([]bool, n)
	for s := 0; s < n; s++ {
		if f.IsFinal(s) {
			coaccess[s] = true
			stack = append(stack, s)
		}
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range preds[s] {
			if !coaccess[p] {
				coaccess[p] = true
				stack = append(stack, p)
			}
		}
	}
	keep := make([]bool, n)
	for s := range keep {
		keep[s] = access[s] && coaccess[s]
	}
	f.keepStates(keep)
}

// keepStates drops states with keep[s] == false and the arcs into them.
func (f *Fst[W]) keepStates(keep []bool) {
	newID := make([]StateID, len(f.states))
	next := 0
	for s := range f.states {
		if keep[s] {
			newID[s] = next
			next++
		} else {
			newID[s] = NoState
		}
	}
	states := make([]state[W], 0, next)
	for s, st := range f.states {
		if !keep[s] {
			continue
		}
		arcs := st.arcs[:0]
		for _, a := range st.arcs {
			if keep[a.NextState] {
				a.NextState = newID[a.NextState]
				arcs = append(arcs, a)
			}
		}
		st.arcs = arcs
		states = append(states, st)
	}
	f.states = states
	if f.start != NoState {
		f.start = newID[f.start]
	}
}
