package feature

import (
	"fmt"
	"math"

	"github.com/spf13/pflag"

	"github.com/ieee0824/livedecode-go/internal/validation"
)

// PitchDim is the number of dimensions OnlinePitch produces: a voicing
// feature, mean-normalized log pitch, and delta log pitch.
const PitchDim = 3

// PitchConfig holds the pitch tracker options. Frame timing must match the
// MFCC options so the two streams line up.
type PitchConfig struct {
	SampleFrequency float64 `flag:"sample-frequency" validate:"gt=0"`
	FrameLengthMs   float64 `flag:"frame-length" validate:"gt=0"`
	FrameShiftMs    float64 `flag:"frame-shift" validate:"gt=0"`
	MinF0           float64 `flag:"min-f0" validate:"gt=0"`
	MaxF0           float64 `flag:"max-f0" validate:"gtfield=MinF0"`
	PovScale        float64 `flag:"pov-scale" validate:"gte=0"`
	DeltaPitchScale float64 `flag:"delta-pitch-scale" validate:"gte=0"`
	// NormalizationWindow is the number of past frames the log-pitch mean
	// is taken over.
	NormalizationWindow int `flag:"normalization-left-context" validate:"gte=0"`
	DeltaWindow         int `flag:"delta-window" validate:"gt=0"`
}

func DefaultPitchConfig() PitchConfig {
	return PitchConfig{
		SampleFrequency:     16000,
		FrameLengthMs:       25,
		FrameShiftMs:        10,
		MinF0:               50,
		MaxF0:               400,
		PovScale:            2,
		DeltaPitchScale:     10,
		NormalizationWindow: 75,
		DeltaWindow:         2,
	}
}

// Register binds the options to fs.
func (c *PitchConfig) Register(fs *pflag.FlagSet) {
	fs.Float64Var(&c.SampleFrequency, "sample-frequency", c.SampleFrequency, "waveform sampling frequency in Hz")
	fs.Float64Var(&c.FrameLengthMs, "frame-length", c.FrameLengthMs, "frame length in milliseconds")
	fs.Float64Var(&c.FrameShiftMs, "frame-shift", c.FrameShiftMs, "frame shift in milliseconds")
	fs.Float64Var(&c.MinF0, "min-f0", c.MinF0, "minimum F0 to search for (Hz)")
	fs.Float64Var(&c.MaxF0, "max-f0", c.MaxF0, "maximum F0 to search for (Hz)")
	fs.Float64Var(&c.PovScale, "pov-scale", c.PovScale, "scale on the voicing feature")
	fs.Float64Var(&c.DeltaPitchScale, "delta-pitch-scale", c.DeltaPitchScale, "scale on delta log pitch")
	fs.IntVar(&c.NormalizationWindow, "normalization-left-context", c.NormalizationWindow, "frames of left context for log-pitch mean normalization")
	fs.IntVar(&c.DeltaWindow, "delta-window", c.DeltaWindow, "regression window for delta log pitch")
}

func (c PitchConfig) Validate() error {
	if err := validation.Struct("pitch config", c); err != nil {
		return err
	}
	if c.MaxF0 >= c.SampleFrequency/2 {
		return validation.Join("pitch config", fmt.Errorf("max-f0 %g is not below Nyquist", c.MaxF0))
	}
	return nil
}

func (c PitchConfig) frameLength() int { return int(c.SampleFrequency * c.FrameLengthMs / 1000) }
func (c PitchConfig) frameShift() int  { return int(c.SampleFrequency * c.FrameShiftMs / 1000) }

// OnlinePitch tracks pitch with normalized cross-correlation (NCCF). Each
// frame reads its own samples plus the longest lag after them; frames near
// the end of the input are zero padded once the input is finished.
type OnlinePitch struct {
	cfg      PitchConfig
	frameLen int
	shift    int
	minLag   int
	maxLag   int

	waveform []float64
	offset   int
	finished bool
	total    int

	nccf     []float64
	logPitch []float64
	buf      []float64
}

func NewOnlinePitch(cfg PitchConfig) *OnlinePitch {
	p := &OnlinePitch{
		cfg:      cfg,
		frameLen: cfg.frameLength(),
		shift:    cfg.frameShift(),
		minLag:   max(1, int(math.Floor(cfg.SampleFrequency/cfg.MaxF0))),
		maxLag:   int(math.Ceil(cfg.SampleFrequency / cfg.MinF0)),
	}
	p.buf = make([]float64, p.frameLen+p.maxLag)
	return p
}

func (p *OnlinePitch) Dim() int { return PitchDim }

// NumFramesReady holds back DeltaWindow frames until the input ends, since
// the delta needs them.
func (p *OnlinePitch) NumFramesReady() int {
	n := len(p.nccf)
	if p.finished {
		return n
	}
	return max(0, n-p.cfg.DeltaWindow)
}

func (p *OnlinePitch) IsLastFrame(frame int) bool {
	return p.finished && frame == len(p.nccf)-1
}

func (p *OnlinePitch) AcceptWaveform(samples []float64) {
	if p.finished || len(samples) == 0 {
		return
	}
	p.waveform = append(p.waveform, samples...)
	p.total += len(samples)
	// A frame is computable once its window and the longest lag are in.
	for {
		start := len(p.nccf) * p.shift
		if start+p.frameLen+p.maxLag > p.total {
			break
		}
		p.computeFrame(start)
	}
	p.trim()
}

// InputFinished computes the remaining frames with zero padding.
func (p *OnlinePitch) InputFinished() {
	if p.finished {
		return
	}
	for n := numFrames(p.total, p.frameLen, p.shift); len(p.nccf) < n; {
		p.computeFrame(len(p.nccf) * p.shift)
	}
	p.finished = true
	p.waveform = nil
}

func (p *OnlinePitch) trim() {
	next := len(p.nccf)*p.shift - p.offset
	if next > 0 && next <= len(p.waveform) {
		p.waveform = append(p.waveform[:0], p.waveform[next:]...)
		p.offset += next
	}
}

func (p *OnlinePitch) computeFrame(start int) {
	x := p.buf
	clear(x)
	copy(x, p.waveform[start-p.offset:])
	mean := 0.0
	for _, v := range x[:p.frameLen] {
		mean += v
	}
	mean /= float64(p.frameLen)
	for i := range x {
		x[i] -= mean
	}

	e0 := 0.0
	for _, v := range x[:p.frameLen] {
		e0 += v * v
	}
	best, bestLag := -1.0, p.maxLag
	for lag := p.minLag; lag <= p.maxLag; lag++ {
		cross, el := 0.0, 0.0
		for i := 0; i < p.frameLen; i++ {
			y := x[i+lag]
			cross += x[i] * y
			el += y * y
		}
		den := math.Sqrt(e0*el) + 1e-10
		// Longer lags must beat shorter ones clearly, so multiples of the
		// period do not win on rounding noise.
		if r := cross / den; r > best+1e-6 {
			best, bestLag = r, lag
		}
	}
	p.nccf = append(p.nccf, best)
	p.logPitch = append(p.logPitch, math.Log(p.cfg.SampleFrequency/float64(bestLag)))
}

func (p *OnlinePitch) GetFrame(frame int, out []float64) {
	n := p.nccf[frame]
	out[0] = p.cfg.PovScale * nccfToPovFeature(n)

	lo := max(0, frame-p.cfg.NormalizationWindow)
	sum, weight := 0.0, 0.0
	for t := lo; t <= frame; t++ {
		w := nccfToPov(p.nccf[t]) + 1e-3
		sum += w * p.logPitch[t]
		weight += w
	}
	out[1] = p.logPitch[frame] - sum/weight
	out[2] = p.cfg.DeltaPitchScale * deltaAt(p.logPitch, frame, p.cfg.DeltaWindow)
}

// nccfToPovFeature maps an NCCF value to a roughly Gaussian-distributed
// voicing feature.
func nccfToPovFeature(n float64) float64 {
	n = min(max(n, -1), 1)
	return math.Pow(1.0001-n, 0.15) - 1
}

// nccfToPov maps an NCCF value to a probability of voicing.
func nccfToPov(n float64) float64 {
	nd := min(math.Abs(n), 1)
	r := -5.2 + 5.4*math.Exp(7.5*(nd-1)) + 4.8*nd - 2*math.Exp(-10*nd) + 4.2*math.Exp(20*(nd-1))
	return 1 / (1 + math.Exp(-r))
}
