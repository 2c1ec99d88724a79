package livedecode

import (
	"errors"

	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/fst"
	"github.com/ieee0824/livedecode-go/lattice"
)

// WordArc is one arc of a word-posterior lattice.
type WordArc struct {
	From      int     `json:"from" yaml:"from" msgpack:"from"`
	To        int     `json:"to" yaml:"to" msgpack:"to"`
	Word      string  `json:"word" yaml:"word" msgpack:"word"`
	Posterior float64 `json:"posterior" yaml:"posterior" msgpack:"posterior"`
}

// Utterance collects what callers usually want once an utterance ends.
type Utterance struct {
	Text            string    `json:"text" yaml:"text" msgpack:"text"`
	Words           []string  `json:"words" yaml:"words" msgpack:"words"`
	Cost            float64   `json:"cost" yaml:"cost" msgpack:"cost"`
	GraphCost       float64   `json:"graph_cost" yaml:"graph_cost" msgpack:"graph_cost"`
	AcousticCost    float64   `json:"acoustic_cost" yaml:"acoustic_cost" msgpack:"acoustic_cost"`
	Frames          int       `json:"frames" yaml:"frames" msgpack:"frames"`
	TotalLikelihood float64   `json:"total_likelihood" yaml:"total_likelihood" msgpack:"total_likelihood"`
	Arcs            []WordArc `json:"arcs,omitempty" yaml:"arcs,omitempty" msgpack:"arcs,omitempty"`
}

// Utterance returns the best path and, when lattices are enabled, the
// word-posterior arcs of the utterance decoded so far. Call it after
// FinalizeDecoding for end-of-utterance results.
func (d *Decoder) Utterance() (Utterance, error) {
	hyp, err := d.BestPath()
	if err != nil {
		return Utterance{}, err
	}
	u := Utterance{
		Cost:         hyp.Cost,
		GraphCost:    hyp.GraphCost,
		AcousticCost: hyp.AcousticCost,
		Frames:       d.NumFramesDecoded(),
		Text:         d.Text(hyp.Words),
	}
	for _, w := range hyp.Words {
		u.Words = append(u.Words, d.Word(w))
	}
	post, totLik, err := d.Lattice(d.State() == Finalized)
	switch {
	case errors.Is(err, asrerr.ErrUnsupportedConfiguration):
	case err != nil:
		return Utterance{}, err
	default:
		u.TotalLikelihood = totLik
		u.Arcs = d.wordArcs(post)
	}
	return u, nil
}

func (d *Decoder) wordArcs(post *fst.LogFst) []WordArc {
	var arcs []WordArc
	for s := 0; s < post.NumStates(); s++ {
		for _, a := range post.Arcs(s) {
			if a.OLabel == fst.Epsilon {
				continue
			}
			arcs = append(arcs, WordArc{
				From:      s,
				To:        a.NextState,
				Word:      d.Word(a.OLabel),
				Posterior: lattice.Posterior(a.Weight),
			})
		}
	}
	return arcs
}
