package acoustic

import (
	"fmt"
	"math"
)

// NumEmittingStates is the number of emitting states in the default
// left-to-right phone topology.
const NumEmittingStates = 3

// Transition describes one transition id.
type Transition struct {
	Phone    int
	HMMState int // 0-based emitting state within the phone
	Pdf      int
	SelfLoop bool
	LogProb  float64
}

// TransitionModel maps transition ids (numbered from 1) to the phone, HMM
// state and pdf they belong to.
type TransitionModel struct {
	transitions []Transition // index 0 is unused
	numPdfs     int
	phones      []int
}

// NewTransitionModel builds a model from an explicit transition list. Ids
// are assigned in order starting from 1.
func NewTransitionModel(transitions []Transition) (*TransitionModel, error) {
	tm := &TransitionModel{transitions: make([]Transition, 1, len(transitions)+1)}
	seen := make(map[int]bool)
	for i, t := range transitions {
		if t.Pdf < 0 {
			return nil, fmt.Errorf("transition %d: negative pdf %d", i+1, t.Pdf)
		}
		if t.Phone <= 0 {
			return nil, fmt.Errorf("transition %d: phone must be positive, got %d", i+1, t.Phone)
		}
		tm.transitions = append(tm.transitions, t)
		if t.Pdf+1 > tm.numPdfs {
			tm.numPdfs = t.Pdf + 1
		}
		if !seen[t.Phone] {
			seen[t.Phone] = true
			tm.phones = append(tm.phones, t.Phone)
		}
	}
	return tm, nil
}

// NewLeftToRight builds the default topology: every phone has
// NumEmittingStates emitting states, each with a self-loop and a forward
// transition of probability selfLoopProb and 1-selfLoopProb. Each (phone,
// state) pair gets its own pdf.
func NewLeftToRight(phones []int, selfLoopProb float64) (*TransitionModel, error) {
	if selfLoopProb <= 0 || selfLoopProb >= 1 {
		return nil, fmt.Errorf("self-loop probability %f out of (0,1)", selfLoopProb)
	}
	logLoop := math.Log(selfLoopProb)
	logFwd := math.Log(1 - selfLoopProb)
	var ts []Transition
	for pi, ph := range phones {
		for s := 0; s < NumEmittingStates; s++ {
			pdf := pi*NumEmittingStates + s
			ts = append(ts,
				Transition{Phone: ph, HMMState: s, Pdf: pdf, SelfLoop: true, LogProb: logLoop},
				Transition{Phone: ph, HMMState: s, Pdf: pdf, LogProb: logFwd},
			)
		}
	}
	return NewTransitionModel(ts)
}

// NumTransitionIDs returns the highest valid transition id.
func (tm *TransitionModel) NumTransitionIDs() int { return len(tm.transitions) - 1 }

func (tm *TransitionModel) NumPdfs() int { return tm.numPdfs }

// Phones returns the phone ids in first-seen order.
func (tm *TransitionModel) Phones() []int { return tm.phones }

// Transition returns the description of tid.
func (tm *TransitionModel) Transition(tid int) Transition { return tm.transitions[tid] }

func (tm *TransitionModel) TransitionIDToPdf(tid int) int { return tm.transitions[tid].Pdf }

func (tm *TransitionModel) TransitionIDToPhone(tid int) int { return tm.transitions[tid].Phone }

func (tm *TransitionModel) IsSelfLoop(tid int) bool { return tm.transitions[tid].SelfLoop }

// TransitionID finds the id for a phone state, or 0 if there is none.
func (tm *TransitionModel) TransitionID(phone, hmmState int, selfLoop bool) int {
	for tid := 1; tid < len(tm.transitions); tid++ {
		t := tm.transitions[tid]
		if t.Phone == phone && t.HMMState == hmmState && t.SelfLoop == selfLoop {
			return tid
		}
	}
	return 0
}

type serializedTransitionModel struct {
	Transitions []Transition
}

func (tm *TransitionModel) serialize() serializedTransitionModel {
	return serializedTransitionModel{Transitions: tm.transitions[1:]}
}
