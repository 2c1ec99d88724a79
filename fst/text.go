package fst

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadText reads a tropical transducer in AT&T text format:
//
//	src dst ilabel olabel [weight]
//	state [weight]
//
// The source state of the first line is the start state.
func ReadText(r io.Reader) (*StdFst, error) {
	f := New[TropicalWeight]()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	ensure := func(s StateID) {
		if s >= f.NumStates() {
			f.AddStates(s + 1 - f.NumStates())
		}
	}
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		nums := make([]float64, len(fields))
		for i, fld := range fields {
			v, err := strconv.ParseFloat(fld, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: field %q: %w", lineNo, fld, err)
			}
			nums[i] = v
		}
		src := int(nums[0])
		if src < 0 {
			return nil, fmt.Errorf("line %d: negative state %d", lineNo, src)
		}
		ensure(src)
		if f.Start() == NoState {
			f.SetStart(src)
		}
		switch len(fields) {
		case 1, 2:
			w := TropicalWeight(0)
			if len(fields) == 2 {
				w = TropicalWeight(nums[1])
			}
			f.SetFinal(src, w)
		case 4, 5:
			dst := int(nums[1])
			if dst < 0 {
				return nil, fmt.Errorf("line %d: negative state %d", lineNo, dst)
			}
			ensure(dst)
			w := TropicalWeight(0)
			if len(fields) == 5 {
				w = TropicalWeight(nums[4])
			}
			f.AddArc(src, Arc[TropicalWeight]{
				ILabel:    int(nums[2]),
				OLabel:    int(nums[3]),
				Weight:    w,
				NextState: dst,
			})
		default:
			return nil, fmt.Errorf("line %d: expected 1, 2, 4 or 5 fields, got %d", lineNo, len(fields))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if f.Start() == NoState {
		return nil, fmt.Errorf("empty transducer")
	}
	return f, nil
}

// WriteText writes f in AT&T text format, starting with the start state's arcs.
func WriteText[W Weight[W]](w io.Writer, f *Fst[W]) error {
	bw := bufio.NewWriter(w)
	if f.Start() == NoState {
		return bw.Flush()
	}
	order := make([]StateID, 0, f.NumStates())
	order = append(order, f.Start())
	for s := 0; s < f.NumStates(); s++ {
		if s != f.Start() {
			order = append(order, s)
		}
	}
	for _, s := range order {
		for _, a := range f.Arcs(s) {
			fmt.Fprintf(bw, "%d\t%d\t%d\t%d\t%s\n", s, a.NextState, a.ILabel, a.OLabel, formatCost(a.Weight.Cost()))
		}
		if f.IsFinal(s) {
			fmt.Fprintf(bw, "%d\t%s\n", s, formatCost(f.Final(s).Cost()))
		}
	}
	return bw.Flush()
}

func formatCost(c float64) string {
	return strconv.FormatFloat(c, 'g', 7, 64)
}
