package feature

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ReadMatrix parses a matrix in Kaldi text form:
//
//	[ 1 2 3
//	  4 5 6 ]
//
// Each line inside the brackets is one row.
func ReadMatrix(r io.Reader) (*mat.Dense, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var (
		data   []float64
		cols   = -1
		rows   int
		opened bool
		closed bool
	)
	for sc.Scan() && !closed {
		fields := strings.Fields(sc.Text())
		if !opened {
			if len(fields) == 0 {
				continue
			}
			// An optional token such as a matrix name may precede '['.
			i := indexOf(fields, "[")
			if i < 0 {
				return nil, fmt.Errorf("matrix: expected '[', got %q", sc.Text())
			}
			opened = true
			fields = fields[i+1:]
		}
		if n := len(fields); n > 0 && fields[n-1] == "]" {
			closed = true
			fields = fields[:n-1]
		}
		if len(fields) == 0 {
			continue
		}
		if cols >= 0 && len(fields) != cols {
			return nil, fmt.Errorf("matrix: row %d has %d columns, want %d", rows, len(fields), cols)
		}
		cols = len(fields)
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("matrix: row %d: %w", rows, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("matrix: %w", err)
	}
	if !closed {
		return nil, fmt.Errorf("matrix: missing closing ']'")
	}
	if rows == 0 {
		return nil, fmt.Errorf("matrix: empty")
	}
	return mat.NewDense(rows, cols, data), nil
}

func indexOf(fields []string, s string) int {
	for i, f := range fields {
		if f == s {
			return i
		}
	}
	return -1
}
