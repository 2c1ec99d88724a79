package feature

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/ieee0824/livedecode-go/internal/validation"
)

// MFCCConfig holds the MFCC extraction options.
type MFCCConfig struct {
	SampleFrequency float64 `flag:"sample-frequency" validate:"gt=0"`
	FrameLengthMs   float64 `flag:"frame-length" validate:"gt=0"`
	FrameShiftMs    float64 `flag:"frame-shift" validate:"gt=0,ltefield=FrameLengthMs"`
	PreemphCoeff    float64 `flag:"preemphasis-coefficient" validate:"gte=0,lte=1"`
	RemoveDCOffset  bool    `flag:"remove-dc-offset"`
	NumMelBins      int     `flag:"num-mel-bins" validate:"gt=2"`
	NumCeps         int     `flag:"num-ceps" validate:"gt=0,ltefield=NumMelBins"`
	LowFreq         float64 `flag:"low-freq" validate:"gte=0"`
	// HighFreq <= 0 is an offset from the Nyquist frequency.
	HighFreq       float64 `flag:"high-freq"`
	UseEnergy      bool    `flag:"use-energy"`
	CepstralLifter float64 `flag:"cepstral-lifter" validate:"gte=0"`
}

// DefaultMFCCConfig returns the standard 13-dimensional MFCC setup at 16 kHz.
func DefaultMFCCConfig() MFCCConfig {
	return MFCCConfig{
		SampleFrequency: 16000,
		FrameLengthMs:   25,
		FrameShiftMs:    10,
		PreemphCoeff:    0.97,
		RemoveDCOffset:  true,
		NumMelBins:      23,
		NumCeps:         13,
		LowFreq:         20,
		HighFreq:        0,
		UseEnergy:       true,
		CepstralLifter:  22,
	}
}

// Register binds the options to fs.
func (c *MFCCConfig) Register(fs *pflag.FlagSet) {
	fs.Float64Var(&c.SampleFrequency, "sample-frequency", c.SampleFrequency, "waveform sampling frequency in Hz")
	fs.Float64Var(&c.FrameLengthMs, "frame-length", c.FrameLengthMs, "frame length in milliseconds")
	fs.Float64Var(&c.FrameShiftMs, "frame-shift", c.FrameShiftMs, "frame shift in milliseconds")
	fs.Float64Var(&c.PreemphCoeff, "preemphasis-coefficient", c.PreemphCoeff, "pre-emphasis coefficient")
	fs.BoolVar(&c.RemoveDCOffset, "remove-dc-offset", c.RemoveDCOffset, "subtract the mean of each frame")
	fs.IntVar(&c.NumMelBins, "num-mel-bins", c.NumMelBins, "number of triangular mel bins")
	fs.IntVar(&c.NumCeps, "num-ceps", c.NumCeps, "number of cepstra (including C0)")
	fs.Float64Var(&c.LowFreq, "low-freq", c.LowFreq, "low cutoff frequency for mel bins")
	fs.Float64Var(&c.HighFreq, "high-freq", c.HighFreq, "high cutoff frequency for mel bins (<= 0 is an offset from Nyquist)")
	fs.BoolVar(&c.UseEnergy, "use-energy", c.UseEnergy, "replace C0 with log energy")
	fs.Float64Var(&c.CepstralLifter, "cepstral-lifter", c.CepstralLifter, "cepstral liftering coefficient (0 disables)")
}

// Validate checks the options.
func (c MFCCConfig) Validate() error {
	if err := validation.Struct("mfcc config", c); err != nil {
		return err
	}
	if hi := c.highFreq(); hi <= c.LowFreq || hi > c.SampleFrequency/2 {
		return validation.Join("mfcc config", errInvalidBand(c.LowFreq, hi))
	}
	return nil
}

func errInvalidBand(lo, hi float64) error {
	return fmt.Errorf("mel band [%g, %g] Hz is empty or above Nyquist", lo, hi)
}

func (c MFCCConfig) frameLength() int { return int(c.SampleFrequency * c.FrameLengthMs / 1000) }
func (c MFCCConfig) frameShift() int  { return int(c.SampleFrequency * c.FrameShiftMs / 1000) }

func (c MFCCConfig) highFreq() float64 {
	if c.HighFreq <= 0 {
		return c.SampleFrequency/2 + c.HighFreq
	}
	return c.HighFreq
}

// mfccTables are the precomputed parts of MFCC extraction. They are
// read-only and shared between pipeline instances.
type mfccTables struct {
	cfg     MFCCConfig
	fftSize int
	window  []float64
	mel     *melFilterbank
	dct     *dctTable
	lifter  []float64
}

func newMFCCTables(cfg MFCCConfig) *mfccTables {
	frameLen := cfg.frameLength()
	fftSize := roundUpPow2(frameLen)
	return &mfccTables{
		cfg:     cfg,
		fftSize: fftSize,
		window:  hammingWindow(frameLen),
		mel:     newMelFilterbank(cfg.NumMelBins, fftSize, cfg.SampleFrequency, cfg.LowFreq, cfg.highFreq()),
		dct:     newDCTTable(cfg.NumCeps, cfg.NumMelBins),
		lifter:  newLifter(cfg.NumCeps, cfg.CepstralLifter),
	}
}

// OnlineMFCC computes MFCC frames as waveform arrives. Frames are computed
// eagerly in AcceptWaveform; only the samples still needed by future
// frames are buffered.
type OnlineMFCC struct {
	t        *mfccTables
	frameLen int
	shift    int

	// waveform holds samples starting at absolute index offset.
	waveform []float64
	offset   int
	finished bool

	frames [][]float64
	ws     *fftWorkspace
	buf    []float64
	melBuf []float64
}

// NewOnlineMFCC returns an extractor using cfg. cfg must be valid.
func NewOnlineMFCC(cfg MFCCConfig) *OnlineMFCC {
	return newOnlineMFCC(newMFCCTables(cfg))
}

func newOnlineMFCC(t *mfccTables) *OnlineMFCC {
	frameLen := t.cfg.frameLength()
	return &OnlineMFCC{
		t:        t,
		frameLen: frameLen,
		shift:    t.cfg.frameShift(),
		ws:       newFFTWorkspace(t.fftSize),
		buf:      make([]float64, frameLen),
		melBuf:   make([]float64, t.cfg.NumMelBins),
	}
}

func (m *OnlineMFCC) Dim() int { return m.t.cfg.NumCeps }

func (m *OnlineMFCC) NumFramesReady() int { return len(m.frames) }

func (m *OnlineMFCC) IsLastFrame(frame int) bool {
	return m.finished && frame == len(m.frames)-1
}

func (m *OnlineMFCC) GetFrame(frame int, out []float64) { copy(out, m.frames[frame]) }

// AcceptWaveform appends samples and computes every frame that is now
// complete. Samples after InputFinished are ignored.
func (m *OnlineMFCC) AcceptWaveform(samples []float64) {
	if m.finished || len(samples) == 0 {
		return
	}
	m.waveform = append(m.waveform, samples...)
	total := m.offset + len(m.waveform)
	for n := numFrames(total, m.frameLen, m.shift); len(m.frames) < n; {
		start := len(m.frames)*m.shift - m.offset
		m.frames = append(m.frames, m.compute(m.waveform[start:start+m.frameLen]))
	}
	// Drop samples no future frame will read.
	next := len(m.frames)*m.shift - m.offset
	if next > 0 && next <= len(m.waveform) {
		m.waveform = append(m.waveform[:0], m.waveform[next:]...)
		m.offset += next
	}
}

// InputFinished marks the end of the waveform. Trailing samples that do not
// fill a frame are discarded.
func (m *OnlineMFCC) InputFinished() {
	m.finished = true
	m.waveform = nil
}

func (m *OnlineMFCC) compute(samples []float64) []float64 {
	cfg := m.t.cfg
	frame := m.buf
	copy(frame, samples)
	if cfg.RemoveDCOffset {
		removeDCOffset(frame)
	}
	energy := logEnergy(frame)
	preEmphasize(frame, cfg.PreemphCoeff)
	for i, w := range m.t.window {
		frame[i] *= w
	}
	m.ws.computePowerSpectrum(frame)
	m.t.mel.applyInto(m.ws.power, m.melBuf)

	cep := make([]float64, cfg.NumCeps)
	m.t.dct.applyInto(m.melBuf, cep)
	for i, c := range m.t.lifter {
		cep[i] *= c
	}
	if cfg.UseEnergy {
		cep[0] = energy
	}
	return cep
}
