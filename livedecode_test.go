package livedecode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/audio"
	"github.com/ieee0824/livedecode-go/config"
	"github.com/ieee0824/livedecode-go/internal/testmodel"
	"github.com/ieee0824/livedecode-go/resource"
)

type fixture = testmodel.Options

func writeModelDir(t *testing.T, fx fixture) string { return testmodel.Write(t, fx) }

func tone(seconds float64) []float64 { return testmodel.Tone(seconds, testmodel.SampleRate) }

func setup(t *testing.T, fx fixture) *Decoder {
	t.Helper()
	d := New()
	if err := d.Setup(context.Background(), writeModelDir(t, fx)); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return d
}

func decodeAll(d *Decoder) int {
	total := 0
	for {
		n := d.Decode(16)
		if n == 0 {
			return total
		}
		total += n
	}
}

func TestDecodeUtterance(t *testing.T) {
	d := setup(t, fixture{})
	if d.State() != Ready {
		t.Fatalf("state after Setup = %v, want ready", d.State())
	}
	if d.SampleRate() != 16000 {
		t.Errorf("SampleRate = %d", d.SampleRate())
	}

	samples := tone(1)
	for i := 0; i < len(samples); i += 1600 {
		d.FrameIn(samples[i:min(i+1600, len(samples))])
		decodeAll(d)
	}
	d.InputFinished()
	decodeAll(d)
	if d.State() != Decoding {
		t.Fatalf("state = %v, want decoding", d.State())
	}
	// 1 s at a 10 ms shift and 25 ms window.
	if n := d.NumFramesDecoded(); n != 98 {
		t.Errorf("NumFramesDecoded = %d, want 98", n)
	}

	d.FinalizeDecoding()
	if d.State() != Finalized {
		t.Fatalf("state = %v, want finalized", d.State())
	}
	if n := d.Decode(-1); n != 0 {
		t.Errorf("Decode after finalize = %d", n)
	}

	hyp, err := d.BestPath()
	if err != nil {
		t.Fatalf("BestPath: %v", err)
	}
	if got := d.Text(hyp.Words); got != "hello" {
		t.Errorf("text = %q, want hello", got)
	}
	if math.Abs(hyp.GraphCost-1) > 1e-9 {
		t.Errorf("GraphCost = %v, want 1", hyp.GraphCost)
	}
	if math.Abs(hyp.Cost-(hyp.GraphCost+hyp.AcousticCost)) > 1e-9 {
		t.Errorf("Cost %v != graph + acoustic", hyp.Cost)
	}

	post, totLik, err := d.Lattice(true)
	if err != nil {
		t.Fatalf("Lattice: %v", err)
	}
	if post.NumStates() == 0 || math.IsNaN(totLik) || math.IsInf(totLik, 0) {
		t.Errorf("lattice states=%d totLik=%v", post.NumStates(), totLik)
	}
	if got := d.TrailingSilenceLength(); got != 0 {
		t.Errorf("TrailingSilenceLength = %d, want 0", got)
	}
	if d.Ivector() != nil {
		t.Error("Ivector should be nil without use_ivectors")
	}
}

func TestDecodeSilence(t *testing.T) {
	// Entering the word costs more than the whole silence loop.
	d := setup(t, fixture{WordCost: 100})
	d.FrameIn(make([]float64, testmodel.SampleRate))
	d.InputFinished()
	for d.Decode(100) > 0 {
	}
	d.FinalizeDecoding()

	hyp, err := d.BestPath()
	if err != nil {
		t.Fatalf("BestPath: %v", err)
	}
	if len(hyp.Words) != 0 {
		t.Errorf("words = %v, want none", hyp.Words)
	}
	if math.IsInf(hyp.Cost, 0) || math.IsNaN(hyp.Cost) {
		t.Errorf("Cost = %v, want finite", hyp.Cost)
	}
	if n := d.TrailingSilenceLength(); n != 98 {
		t.Errorf("TrailingSilenceLength = %d, want 98", n)
	}
}

func TestNoFramesDecoded(t *testing.T) {
	d := setup(t, fixture{})
	if _, err := d.BestPath(); !errors.Is(err, asrerr.ErrNoFramesDecoded) {
		t.Errorf("BestPath err = %v", err)
	}
	if _, _, err := d.Lattice(false); !errors.Is(err, asrerr.ErrNoFramesDecoded) {
		t.Errorf("Lattice err = %v", err)
	}
	if d.EndpointDetected() {
		t.Error("endpoint detected before any audio")
	}
}

func TestDecodeZeroFrames(t *testing.T) {
	d := setup(t, fixture{})
	d.FrameIn(tone(0.5))
	if n := d.Decode(0); n != 0 {
		t.Errorf("Decode(0) = %d", n)
	}
	if d.State() != Ready {
		t.Errorf("Decode(0) changed state to %v", d.State())
	}
	if n := d.Decode(5); n != 5 {
		t.Errorf("Decode(5) = %d", n)
	}
}

func TestResetIdempotent(t *testing.T) {
	d := setup(t, fixture{})
	d.FrameIn(tone(0.5))
	if decodeAll(d) == 0 {
		t.Fatal("nothing decoded")
	}
	for i := 0; i < 3; i++ {
		if err := d.Reset(i == 1); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		if d.State() != Ready || d.NumFramesDecoded() != 0 {
			t.Fatalf("after Reset: state=%v frames=%d", d.State(), d.NumFramesDecoded())
		}
	}
	if _, err := d.BestPath(); !errors.Is(err, asrerr.ErrNoFramesDecoded) {
		t.Errorf("BestPath after Reset err = %v", err)
	}

	// A second utterance decodes like the first.
	d.FrameIn(tone(1))
	d.InputFinished()
	if n := decodeAll(d); n != 98 {
		t.Errorf("second utterance frames = %d", n)
	}
}

func TestInputAfterFinishedIsDropped(t *testing.T) {
	d := setup(t, fixture{})
	d.FrameIn(tone(0.5))
	d.InputFinished()
	d.FrameIn(tone(0.5))
	if n := decodeAll(d); n != 48 {
		t.Errorf("frames = %d, want 48", n)
	}
}

func TestFrameInPCM(t *testing.T) {
	d := setup(t, fixture{})
	if err := d.FrameInPCM(audio.EncodePCM16(tone(0.5))); err != nil {
		t.Fatal(err)
	}
	d.InputFinished()
	if n := decodeAll(d); n != 48 {
		t.Errorf("frames = %d, want 48", n)
	}

	if err := d.SetBitsPerSample(12); !errors.Is(err, asrerr.ErrConfigInvalid) {
		t.Errorf("SetBitsPerSample(12) err = %v", err)
	}
	if err := d.SetBitsPerSample(24); err != nil {
		t.Fatal(err)
	}
	if err := d.Reset(false); err != nil {
		t.Fatal(err)
	}
	if err := d.FrameInPCM(make([]byte, 30)); !errors.Is(err, asrerr.ErrUnsupportedSampleFormat) {
		t.Errorf("24-bit err = %v", err)
	}
	if err := d.SetBitsPerSample(8); err != nil {
		t.Fatal(err)
	}
	if err := d.FrameInPCM(bytes.Repeat([]byte{128}, 8000)); err != nil {
		t.Errorf("8-bit err = %v", err)
	}
	if d.BitsPerSample() != 8 {
		t.Errorf("BitsPerSample = %d", d.BitsPerSample())
	}
}

func TestFrameInPCMOddChunks(t *testing.T) {
	pcm := audio.EncodePCM16(tone(0.5))
	decode := func(d *Decoder) Hypothesis {
		t.Helper()
		d.InputFinished()
		if n := decodeAll(d); n != 48 {
			t.Errorf("frames = %d, want 48", n)
		}
		hyp, err := d.BestPath()
		if err != nil {
			t.Fatal(err)
		}
		return hyp
	}

	whole := setup(t, fixture{})
	if err := whole.FrameInPCM(pcm); err != nil {
		t.Fatal(err)
	}
	want := decode(whole)

	chunked := setup(t, fixture{})
	// A stray byte from before a Reset must not shift the next utterance.
	if err := chunked.FrameInPCM([]byte{0x7f}); err != nil {
		t.Fatal(err)
	}
	if err := chunked.Reset(false); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(pcm); i += 3201 {
		if err := chunked.FrameInPCM(pcm[i:min(i+3201, len(pcm))]); err != nil {
			t.Fatal(err)
		}
	}
	got := decode(chunked)
	if math.Abs(got.AcousticCost-want.AcousticCost) > 1e-9 {
		t.Errorf("AcousticCost = %v, want %v", got.AcousticCost, want.AcousticCost)
	}
}

func TestEndpoint(t *testing.T) {
	d := setup(t, fixture{Endpoint: strings.Join([]string{
		"--endpoint.silence-phones=1",
		"--endpoint.rule5.min-utterance-length=0.5",
	}, "\n")})
	d.FrameIn(tone(0.3))
	decodeAll(d)
	if d.EndpointDetected() {
		t.Fatal("endpoint at 0.3 s")
	}
	d.FrameIn(tone(0.5))
	decodeAll(d)
	if !d.EndpointDetected() {
		t.Fatal("no endpoint after 0.8 s")
	}
}

func TestTrailingSilenceUnconfigured(t *testing.T) {
	d := setup(t, fixture{Endpoint: "--endpoint.rule1.min-trailing-silence=5\n"})
	if got := d.TrailingSilenceLength(); got != -1 {
		t.Errorf("TrailingSilenceLength = %d, want -1", got)
	}
}

func TestLatticeNeedsDeterminize(t *testing.T) {
	path := writeModelDir(t, fixture{Decoder: "--determinize-lattice=false\n"})
	d := New()
	if err := d.Setup(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	d.FrameIn(tone(0.2))
	decodeAll(d)
	if _, _, err := d.Lattice(false); !errors.Is(err, asrerr.ErrUnsupportedConfiguration) {
		t.Errorf("err = %v", err)
	}
	if _, err := d.BestPath(); err != nil {
		t.Errorf("BestPath: %v", err)
	}
}

func TestSetupErrors(t *testing.T) {
	tests := []struct {
		name string
		fx   fixture
		want error
	}{
		{"dimension mismatch", fixture{Dim: 13}, asrerr.ErrDimensionMismatch},
		{"model type", fixture{ModelType: "nnet2"}, asrerr.ErrInvalidModelType},
		{"missing resource", fixture{Master: []string{"--words=nowhere.txt"}}, asrerr.ErrResourceLoad},
		{"bad config", fixture{Master: []string{"--bits_per_sample=12"}}, asrerr.ErrConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New()
			err := d.Setup(context.Background(), writeModelDir(t, tt.fx))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !asrerr.IsSetup(err) {
				t.Errorf("IsSetup(%v) = false", err)
			}
			if d.State() != Uninitialized {
				t.Errorf("state = %v", d.State())
			}
			// Audio before a successful setup is ignored.
			d.FrameIn(tone(0.1))
			if n := d.Decode(-1); n != 0 {
				t.Errorf("Decode = %d", n)
			}
		})
	}
}

type countingOpener struct {
	Opener
	opened []string
}

func (o *countingOpener) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	o.opened = append(o.opened, name)
	return o.Opener.Open(ctx, name)
}

func TestSetupConfigValidatesFirst(t *testing.T) {
	cfg, err := config.Load(writeModelDir(t, fixture{}))
	if err != nil {
		t.Fatal(err)
	}
	cfg.UseCMVN = true
	cfg.MatCMVN = ""

	o := &countingOpener{Opener: resource.New()}
	d := New(WithOpener(o))
	err = d.SetupConfig(context.Background(), cfg)
	if !errors.Is(err, asrerr.ErrConfigInvalid) {
		t.Fatalf("err = %v, want ConfigInvalid", err)
	}
	if !strings.Contains(err.Error(), "mat_cmvn") {
		t.Errorf("err = %v, want mat_cmvn named", err)
	}
	if len(o.opened) != 0 {
		t.Errorf("opened %v before validation", o.opened)
	}
	if d.State() != Uninitialized {
		t.Errorf("state = %v", d.State())
	}
}

func TestSetupMissingResourceNamesIt(t *testing.T) {
	d := New()
	err := d.Setup(context.Background(), writeModelDir(t, fixture{Master: []string{"--hclg=gone.fst"}}))
	var ae *asrerr.Error
	if !errors.As(err, &ae) || !strings.HasSuffix(ae.Resource, "gone.fst") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewSessionsDecodeIndependently(t *testing.T) {
	base := setup(t, fixture{})
	var wg sync.WaitGroup
	texts := make([]string, 4)
	errs := make([]error, 4)
	for i := range texts {
		s, err := base.NewSession(WithSessionID(fmt.Sprintf("s%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		if s.SessionID() != fmt.Sprintf("s%d", i) {
			t.Errorf("SessionID = %q", s.SessionID())
		}
		wg.Add(1)
		go func(i int, s *Decoder) {
			defer wg.Done()
			s.FrameIn(tone(0.5))
			s.InputFinished()
			decodeAll(s)
			s.FinalizeDecoding()
			hyp, err := s.BestPath()
			errs[i] = err
			texts[i] = s.Text(hyp.Words)
		}(i, s)
	}
	wg.Wait()
	for i := range texts {
		if errs[i] != nil || texts[i] != "hello" {
			t.Errorf("session %d: %q %v", i, texts[i], errs[i])
		}
	}
	if base.NumFramesDecoded() != 0 {
		t.Error("sessions shared search state with the base decoder")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Uninitialized: "uninitialized",
		Configured:    "configured",
		Ready:         "ready",
		Decoding:      "decoding",
		Finalized:     "finalized",
		State(42):     "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d: %q", s, s.String())
		}
	}
}

func TestUtterance(t *testing.T) {
	d := setup(t, fixture{})
	d.FrameIn(tone(0.6))
	d.InputFinished()
	decodeAll(d)
	d.FinalizeDecoding()
	u, err := d.Utterance()
	if err != nil {
		t.Fatal(err)
	}
	if u.Text != "hello" || len(u.Words) != 1 || u.Frames != 58 {
		t.Errorf("utterance = %+v", u)
	}
	if len(u.Arcs) == 0 {
		t.Fatal("no posterior arcs")
	}
	for _, a := range u.Arcs {
		if a.Word != "hello" || a.Posterior < 0 || a.Posterior > 1+1e-9 {
			t.Errorf("arc %+v", a)
		}
	}
}
