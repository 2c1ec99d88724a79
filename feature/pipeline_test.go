package feature

import (
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/livedecode-go/asrerr"
)

func TestOnlinePitch_Sine(t *testing.T) {
	cfg := DefaultPitchConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	p := NewOnlinePitch(cfg)
	p.AcceptWaveform(sine(8000, 200, 16000, 1000))
	n := p.NumFramesReady()
	if n == 0 {
		t.Fatal("no pitch frames before InputFinished")
	}
	out := make([]float64, PitchDim)
	p.GetFrame(n/2, out)
	f0 := math.Exp(p.logPitch[n/2])
	if math.Abs(f0-200) > 5 {
		t.Errorf("pitch = %f Hz, want ~200", f0)
	}
	// Steady pitch: normalized log pitch and delta are ~0.
	if math.Abs(out[1]) > 0.05 || math.Abs(out[2]) > 0.05 {
		t.Errorf("frame = %v, want normalized pitch and delta near 0", out)
	}
	// Strongly voiced frames map to the low end of the voicing feature.
	if out[0] > 0 {
		t.Errorf("voicing feature = %f, want < 0 for a pure tone", out[0])
	}
}

func TestOnlinePitch_MatchesMFCCFrameCount(t *testing.T) {
	wave := sine(5000, 150, 16000, 800)
	m := NewOnlineMFCC(DefaultMFCCConfig())
	p := NewOnlinePitch(DefaultPitchConfig())
	m.AcceptWaveform(wave)
	p.AcceptWaveform(wave)
	if p.NumFramesReady() >= m.NumFramesReady() {
		t.Errorf("pitch frames %d should lag mfcc frames %d before the end", p.NumFramesReady(), m.NumFramesReady())
	}
	m.InputFinished()
	p.InputFinished()
	if p.NumFramesReady() != m.NumFramesReady() {
		t.Errorf("pitch frames %d, mfcc frames %d", p.NumFramesReady(), m.NumFramesReady())
	}
	if !p.IsLastFrame(p.NumFramesReady() - 1) {
		t.Error("IsLastFrame on final pitch frame = false")
	}
}

func TestNccfToPov(t *testing.T) {
	if lo, hi := nccfToPov(0.1), nccfToPov(0.95); lo >= hi {
		t.Errorf("pov(0.1) = %f >= pov(0.95) = %f", lo, hi)
	}
	if f := nccfToPovFeature(2); math.IsNaN(f) {
		t.Error("nccfToPovFeature(2) is NaN")
	}
}

func baseRecipe() *Recipe {
	return &Recipe{
		MFCC:   DefaultMFCCConfig(),
		CMVN:   DefaultCMVNConfig(),
		Splice: DefaultSpliceConfig(),
		Pitch:  DefaultPitchConfig(),
		Ivector: IvectorConfig{
			Extractor: "extractor.mat",
			Period:    10,
		},
	}
}

func TestPipeline_Composition(t *testing.T) {
	r := baseRecipe()
	r.UseCMVN = true
	r.LDA = mat.NewDense(40, 91, nil)
	p, err := NewPipeline(r)
	if err != nil {
		t.Fatal(err)
	}
	if p.Dim() != 40 {
		t.Errorf("Dim = %d, want 40", p.Dim())
	}
	if got, want := p.Describe(), "mfcc(13) -> cmvn(13) -> splice(91) -> lda(40)"; got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
	if p.Ivector() != nil {
		t.Error("Ivector() != nil without an embedding stage")
	}
}

func TestPipeline_AppendsAuxiliaryFeatures(t *testing.T) {
	r := baseRecipe()
	r.UsePitch = true
	r.UseIvectors = true
	r.Splice = SpliceConfig{}
	r.IvectorExtractor = mat.NewDense(4, 14, nil)
	p, err := NewPipeline(r)
	if err != nil {
		t.Fatal(err)
	}
	// 13 mfcc + 3 pitch + 4 embedding
	if p.Dim() != 20 {
		t.Errorf("Dim = %d, want 20 (%s)", p.Dim(), p.Describe())
	}
	p.AcceptWaveform(sine(16000, 180, 16000, 1000))
	p.InputFinished()
	n := p.NumFramesReady()
	if n != 98 {
		t.Fatalf("NumFramesReady = %d, want 98", n)
	}
	if !p.IsLastFrame(n - 1) {
		t.Error("IsLastFrame(last) = false")
	}
	out := make([]float64, p.Dim())
	p.GetFrame(n-1, out)
	if iv := p.Ivector(); len(iv) != 4 {
		t.Errorf("Ivector len = %d, want 4", len(iv))
	}
}

func TestPipeline_TransformMismatch(t *testing.T) {
	r := baseRecipe()
	r.LDA = mat.NewDense(40, 50, nil)
	_, err := NewPipeline(r)
	if !errors.Is(err, asrerr.ErrDimensionMismatch) {
		t.Errorf("err = %v, want DimensionMismatch", err)
	}
}

func TestRecipePrepare_ReportsEveryProblem(t *testing.T) {
	r := baseRecipe()
	r.UsePitch = true
	r.Pitch.FrameShiftMs = 5
	r.UseIvectors = true
	err := r.Prepare()
	if !errors.Is(err, asrerr.ErrConfigInvalid) {
		t.Fatalf("err = %v, want ConfigInvalid", err)
	}
	msg := err.Error()
	for _, want := range []string{"frame timing", "extractor matrix"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestOnlineIvector_Period(t *testing.T) {
	frames := make([][]float64, 25)
	for i := range frames {
		frames[i] = []float64{float64(i)}
	}
	src := &matSource{frames: frames}
	iv, err := NewOnlineIvector(IvectorConfig{Period: 10}, mat.NewDense(1, 1, []float64{1}), src)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]float64, 1)
	// Frames 10..19 use the mean of frames 0..10.
	iv.GetFrame(15, out)
	if out[0] != 5 {
		t.Errorf("frame 15 = %f, want 5", out[0])
	}
	iv.GetFrame(3, out)
	if out[0] != 0 {
		t.Errorf("frame 3 = %f, want 0", out[0])
	}
	iv.GetFrame(24, out)
	if out[0] != 10 {
		t.Errorf("frame 24 = %f, want 10", out[0])
	}
	if _, err := NewOnlineIvector(IvectorConfig{Period: 10}, mat.NewDense(1, 3, nil), src); !errors.Is(err, asrerr.ErrDimensionMismatch) {
		t.Errorf("err = %v, want DimensionMismatch", err)
	}
}
