// Package fst implements the weighted finite-state transducers used by the
// search graph and the lattices.
package fst

// StateID identifies a state. States are numbered densely from zero.
type StateID = int

// Label is an arc input or output label. Zero is epsilon.
type Label = int

const (
	// NoState marks an unset start state.
	NoState StateID = -1
	// Epsilon is the empty label.
	Epsilon Label = 0
)

// Weight is a semiring element. Methods use value receivers so the zero
// value of W can produce Zero and One.
type Weight[W any] interface {
	Plus(W) W
	Times(W) W
	Zero() W
	One() W
	IsZero() bool
	// Cost is a scalar view of the weight used for ordering, pruning,
	// quantization and text output.
	Cost() float64
}

// Arc is a transition from one state to NextState.
type Arc[W Weight[W]] struct {
	ILabel    Label
	OLabel    Label
	Weight    W
	NextState StateID
}

type state[W Weight[W]] struct {
	final W
	arcs  []Arc[W]
}

// Fst is a mutable weighted transducer stored as adjacency lists.
type Fst[W Weight[W]] struct {
	states []state[W]
	start  StateID
}

// StdFst is a transducer over the tropical semiring, used for the search graph.
type StdFst = Fst[TropicalWeight]

// LogFst is a transducer over the log semiring.
type LogFst = Fst[LogWeight]

// New returns an empty transducer with no start state.
func New[W Weight[W]]() *Fst[W] {
	return &Fst[W]{start: NoState}
}

// AddState appends a non-final state and returns its id.
func (f *Fst[W]) AddState() StateID {
	var w W
	f.states = append(f.states, state[W]{final: w.Zero()})
	return len(f.states) - 1
}

// AddStates appends n non-final states.
func (f *Fst[W]) AddStates(n int) {
	for i := 0; i < n; i++ {
		f.AddState()
	}
}

func (f *Fst[W]) SetStart(s StateID) { f.start = s }

func (f *Fst[W]) Start() StateID { return f.start }

func (f *Fst[W]) NumStates() int { return len(f.states) }

// SetFinal sets the final weight of s. Zero makes s non-final.
func (f *Fst[W]) SetFinal(s StateID, w W) { f.states[s].final = w }

func (f *Fst[W]) Final(s StateID) W { return f.states[s].final }

func (f *Fst[W]) IsFinal(s StateID) bool { return !f.states[s].final.IsZero() }

func (f *Fst[W]) AddArc(s StateID, arc Arc[W]) {
	f.states[s].arcs = append(f.states[s].arcs, arc)
}

// Arcs returns the arcs leaving s. The slice aliases internal storage, so
// weights and labels may be modified in place.
func (f *Fst[W]) Arcs(s StateID) []Arc[W] { return f.states[s].arcs }

// SetArcs replaces the arcs leaving s.
func (f *Fst[W]) SetArcs(s StateID, arcs []Arc[W]) { f.states[s].arcs = arcs }

func (f *Fst[W]) NumArcs(s StateID) int { return len(f.states[s].arcs) }

// NumArcsTotal returns the number of arcs in the transducer.
func (f *Fst[W]) NumArcsTotal() int {
	n := 0
	for i := range f.states {
		n += len(f.states[i].arcs)
	}
	return n
}

// Copy returns a deep copy of f.
func (f *Fst[W]) Copy() *Fst[W] {
	out := &Fst[W]{start: f.start, states: make([]state[W], len(f.states))}
	for i, st := range f.states {
		out.states[i].final = st.final
		out.states[i].arcs = append([]Arc[W](nil), st.arcs...)
	}
	return out
}

// Map converts a transducer to another weight type arc by arc.
func Map[A Weight[A], B Weight[B]](f *Fst[A], conv func(A) B) *Fst[B] {
	out := New[B]()
	out.AddStates(f.NumStates())
	out.SetStart(f.Start())
	for s := 0; s < f.NumStates(); s++ {
		out.SetFinal(s, conv(f.Final(s)))
		arcs := f.Arcs(s)
		if len(arcs) == 0 {
			continue
		}
		conv2 := make([]Arc[B], len(arcs))
		for i, a := range arcs {
			conv2[i] = Arc[B]{ILabel: a.ILabel, OLabel: a.OLabel, Weight: conv(a.Weight), NextState: a.NextState}
		}
		out.SetArcs(s, conv2)
	}
	return out
}
