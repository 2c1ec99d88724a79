package feature

import (
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/livedecode-go/asrerr"
)

// matSource serves fixed frames.
type matSource struct {
	frames   [][]float64
	finished bool
}

func (m *matSource) Dim() int            { return len(m.frames[0]) }
func (m *matSource) NumFramesReady() int { return len(m.frames) }
func (m *matSource) IsLastFrame(f int) bool {
	return m.finished && f == len(m.frames)-1
}
func (m *matSource) GetFrame(f int, out []float64) { copy(out, m.frames[f]) }

func TestOnlineCMVN_MeanOnly(t *testing.T) {
	src := &matSource{frames: [][]float64{{1, 10}, {3, 20}, {5, 30}}}
	c, err := NewOnlineCMVN(DefaultCMVNConfig(), nil, src)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]float64, 2)
	// Frame 0 is normalized by itself only.
	c.GetFrame(0, out)
	if out[0] != 0 || out[1] != 0 {
		t.Errorf("frame 0 = %v, want [0 0]", out)
	}
	// Frame 2 uses frames 0..2: means 3 and 20.
	c.GetFrame(2, out)
	if out[0] != 2 || out[1] != 10 {
		t.Errorf("frame 2 = %v, want [2 10]", out)
	}
	// Earlier frames never see later ones.
	c.GetFrame(1, out)
	if out[0] != 1 || out[1] != 5 {
		t.Errorf("frame 1 = %v, want [1 5]", out)
	}
}

func TestOnlineCMVN_WindowAndGlobal(t *testing.T) {
	src := &matSource{frames: [][]float64{{0}, {2}, {4}, {6}}}
	cfg := CMVNConfig{CMNWindow: 2, NormalizeMean: true}
	c, err := NewOnlineCMVN(cfg, nil, src)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]float64, 1)
	c.GetFrame(3, out)
	// Window covers frames 2 and 3: mean 5.
	if out[0] != 1 {
		t.Errorf("frame 3 = %f, want 1", out[0])
	}

	global := &CMVNStats{Sum: []float64{100}, SumSq: []float64{1000}, Count: 10}
	cfg = CMVNConfig{CMNWindow: 600, GlobalFrames: 4, NormalizeMean: true}
	c, err = NewOnlineCMVN(cfg, global, src)
	if err != nil {
		t.Fatal(err)
	}
	// Frame 0 has one own frame plus three frames' worth of global
	// stats (mean 10): (0 + 30) / 4 = 7.5.
	c.GetFrame(0, out)
	if math.Abs(out[0]+7.5) > 1e-12 {
		t.Errorf("frame 0 = %f, want -7.5", out[0])
	}
}

func TestOnlineCMVN_Variance(t *testing.T) {
	src := &matSource{frames: [][]float64{{1}, {3}}}
	cfg := CMVNConfig{CMNWindow: 10, NormalizeMean: true, NormalizeVariance: true}
	c, err := NewOnlineCMVN(cfg, nil, src)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]float64, 1)
	c.GetFrame(1, out)
	// mean 2, variance 1
	if math.Abs(out[0]-1) > 1e-12 {
		t.Errorf("frame 1 = %f, want 1", out[0])
	}
}

func TestOnlineCMVN_GlobalDimMismatch(t *testing.T) {
	src := &matSource{frames: [][]float64{{1, 2}}}
	global := &CMVNStats{Sum: []float64{1}, SumSq: []float64{1}, Count: 1}
	_, err := NewOnlineCMVN(DefaultCMVNConfig(), global, src)
	if !errors.Is(err, asrerr.ErrDimensionMismatch) {
		t.Errorf("err = %v, want DimensionMismatch", err)
	}
}

func TestCMVNStatsFromMatrix(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{
		10, 20, 5,
		30, 90, 0,
	})
	s, err := CMVNStatsFromMatrix(m)
	if err != nil {
		t.Fatal(err)
	}
	if s.Dim() != 2 || s.Count != 5 || s.Sum[1] != 20 || s.SumSq[0] != 30 {
		t.Errorf("stats = %+v", s)
	}
	if _, err := CMVNStatsFromMatrix(mat.NewDense(3, 3, nil)); err == nil {
		t.Error("expected error for 3 rows")
	}
}

func TestSplice(t *testing.T) {
	src := &matSource{frames: [][]float64{{0}, {1}, {2}, {3}}}
	s := NewSplice(SpliceConfig{LeftContext: 1, RightContext: 2}, src)
	if s.Dim() != 4 {
		t.Errorf("Dim = %d, want 4", s.Dim())
	}
	if got := s.NumFramesReady(); got != 2 {
		t.Errorf("NumFramesReady = %d, want 2 while input continues", got)
	}
	out := make([]float64, 4)
	s.GetFrame(0, out)
	want := []float64{0, 0, 1, 2}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("frame 0 = %v, want %v", out, want)
		}
	}
	src.finished = true
	if got := s.NumFramesReady(); got != 4 {
		t.Errorf("NumFramesReady = %d, want 4 after input ends", got)
	}
	s.GetFrame(3, out)
	want = []float64{2, 3, 3, 3}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("frame 3 = %v, want %v", out, want)
		}
	}
}

func TestTransform(t *testing.T) {
	src := &matSource{frames: [][]float64{{1, 2}}}
	linear, err := NewTransform("lda", mat.NewDense(1, 2, []float64{1, 1}), src)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]float64, 1)
	linear.GetFrame(0, out)
	if out[0] != 3 {
		t.Errorf("linear = %f, want 3", out[0])
	}

	affine, err := NewTransform("fmllr", mat.NewDense(2, 3, []float64{
		2, 0, 1,
		0, 1, -2,
	}), src)
	if err != nil {
		t.Fatal(err)
	}
	out = make([]float64, 2)
	affine.GetFrame(0, out)
	if out[0] != 3 || out[1] != 0 {
		t.Errorf("affine = %v, want [3 0]", out)
	}

	_, err = NewTransform("lda", mat.NewDense(2, 5, nil), src)
	if !errors.Is(err, asrerr.ErrDimensionMismatch) {
		t.Errorf("err = %v, want DimensionMismatch", err)
	}
}

func TestAppend(t *testing.T) {
	a := &matSource{frames: [][]float64{{1}, {2}, {3}}, finished: true}
	b := &matSource{frames: [][]float64{{10, 11}, {20, 21}}}
	ap := NewAppend(a, b)
	if ap.Dim() != 3 {
		t.Errorf("Dim = %d, want 3", ap.Dim())
	}
	if ap.NumFramesReady() != 2 {
		t.Errorf("NumFramesReady = %d, want 2", ap.NumFramesReady())
	}
	if ap.IsLastFrame(2) {
		t.Error("IsLastFrame(2) = true with an unfinished source")
	}
	out := make([]float64, 3)
	ap.GetFrame(1, out)
	if out[0] != 2 || out[1] != 20 || out[2] != 21 {
		t.Errorf("frame 1 = %v", out)
	}
}

func TestReadMatrix(t *testing.T) {
	m, err := ReadMatrix(strings.NewReader(" [\n  1 2 3 \n  4 5 6 ]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if r, c := m.Dims(); r != 2 || c != 3 {
		t.Fatalf("dims = %dx%d, want 2x3", r, c)
	}
	if m.At(1, 2) != 6 {
		t.Errorf("m[1][2] = %f, want 6", m.At(1, 2))
	}

	m, err = ReadMatrix(strings.NewReader("lda [ 0.5 -1e-3 ]"))
	if err != nil {
		t.Fatal(err)
	}
	if r, c := m.Dims(); r != 1 || c != 2 || m.At(0, 1) != -1e-3 {
		t.Errorf("single-line matrix = %v", mat.Formatted(m))
	}
}

func TestReadMatrixErrors(t *testing.T) {
	for name, in := range map[string]string{
		"no bracket": "1 2 3",
		"ragged":     "[ 1 2\n 3 ]",
		"unclosed":   "[ 1 2\n 3 4",
		"bad number": "[ 1 x ]",
		"empty":      "[ ]",
	} {
		if _, err := ReadMatrix(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
