// Package scoring compares hypotheses with reference transcripts.
package scoring

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Alignment counts the edits turning a reference into a hypothesis.
type Alignment struct {
	Substitutions int `json:"substitutions" yaml:"substitutions"`
	Insertions    int `json:"insertions" yaml:"insertions"`
	Deletions     int `json:"deletions" yaml:"deletions"`
	RefWords      int `json:"ref_words" yaml:"ref_words"`
}

// Errors is the total number of edits.
func (a Alignment) Errors() int { return a.Substitutions + a.Insertions + a.Deletions }

// WER is the word error rate in percent. With an empty reference it is 0
// for an empty hypothesis and 100 otherwise.
func (a Alignment) WER() float64 {
	if a.RefWords == 0 {
		if a.Errors() == 0 {
			return 0
		}
		return 100
	}
	return 100 * float64(a.Errors()) / float64(a.RefWords)
}

// Add accumulates b into a.
func (a *Alignment) Add(b Alignment) {
	a.Substitutions += b.Substitutions
	a.Insertions += b.Insertions
	a.Deletions += b.Deletions
	a.RefWords += b.RefWords
}

func (a Alignment) String() string {
	return fmt.Sprintf("%%WER %.2f [ %d / %d, %d ins, %d del, %d sub ]",
		a.WER(), a.Errors(), a.RefWords, a.Insertions, a.Deletions, a.Substitutions)
}

// EditDistance is the Levenshtein distance between two sequences.
func EditDistance[T comparable](a, b []T) int {
	return Align(a, b).Errors()
}

// Align computes a minimum-edit alignment of hyp against ref. Among
// alignments with the fewest edits, substitutions are preferred.
func Align[T comparable](ref, hyp []T) Alignment {
	type cell struct{ cost, sub, ins, del int }
	prev := make([]cell, len(hyp)+1)
	for j := range prev {
		prev[j] = cell{cost: j, ins: j}
	}
	for i := 1; i <= len(ref); i++ {
		cur := make([]cell, len(hyp)+1)
		cur[0] = cell{cost: i, del: i}
		for j := 1; j <= len(hyp); j++ {
			best := prev[j-1]
			if ref[i-1] != hyp[j-1] {
				best.cost++
				best.sub++
			}
			if c := prev[j]; c.cost+1 < best.cost {
				best = c
				best.cost++
				best.del++
			}
			if c := cur[j-1]; c.cost+1 < best.cost {
				best = c
				best.cost++
				best.ins++
			}
			cur[j] = best
		}
		prev = cur
	}
	c := prev[len(hyp)]
	return Alignment{Substitutions: c.sub, Insertions: c.ins, Deletions: c.del, RefWords: len(ref)}
}

// ReadTranscripts reads Kaldi text files: one "<key> <words...>" per line.
func ReadTranscripts(r io.Reader) (map[string][]string, error) {
	out := make(map[string][]string)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if _, dup := out[fields[0]]; dup {
			return nil, fmt.Errorf("line %d: duplicate key %q", line, fields[0])
		}
		out[fields[0]] = fields[1:]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcripts: %w", err)
	}
	return out, nil
}
