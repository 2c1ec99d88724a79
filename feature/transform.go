package feature

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/livedecode-go/asrerr"
)

// Transform multiplies every frame by a matrix. A matrix with one more
// column than the input dimension is affine: its last column is an offset.
type Transform struct {
	name   string
	src    Online
	m      *mat.Dense
	affine bool
	in     *mat.VecDense
	out    *mat.VecDense
}

// NewTransform applies m to src. A matrix whose column count fits neither
// the linear nor the affine case fails with DimensionMismatch.
func NewTransform(name string, m *mat.Dense, src Online) (*Transform, error) {
	rows, cols := m.Dims()
	dim := src.Dim()
	t := &Transform{name: name, src: src, m: m}
	switch cols {
	case dim:
	case dim + 1:
		t.affine = true
	default:
		return nil, asrerr.New(asrerr.DimensionMismatch, name,
			"%dx%d matrix cannot transform %d-dim features", rows, cols, dim)
	}
	t.in = mat.NewVecDense(cols, nil)
	t.out = mat.NewVecDense(rows, nil)
	return t, nil
}

func (t *Transform) Dim() int {
	r, _ := t.m.Dims()
	return r
}

func (t *Transform) NumFramesReady() int { return t.src.NumFramesReady() }

func (t *Transform) IsLastFrame(frame int) bool { return t.src.IsLastFrame(frame) }

func (t *Transform) GetFrame(frame int, out []float64) {
	raw := t.in.RawVector().Data
	t.src.GetFrame(frame, raw[:t.src.Dim()])
	if t.affine {
		raw[len(raw)-1] = 1
	}
	t.out.MulVec(t.m, t.in)
	copy(out, t.out.RawVector().Data)
}
