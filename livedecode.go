// Package livedecode is a streaming speech-to-text decoder. A Decoder takes
// audio in small chunks, advances an incremental beam search over a
// compiled search graph, and produces best-path transcriptions or
// word-posterior lattices on demand.
//
// A Decoder moves through the states Uninitialized, Configured, Ready,
// Decoding and Finalized:
//
//	d := livedecode.New(livedecode.WithLogger(log))
//	if err := d.Setup(ctx, "model/pykaldi.cfg"); err != nil { ... }
//	d.FrameIn(samples)
//	for d.Decode(100) > 0 {
//	}
//	d.InputFinished()
//	...
//	d.FinalizeDecoding()
//	hyp, err := d.BestPath()
//	d.Reset(false)
//
// FrameIn, FrameInPCM and InputFinished may be called from an audio
// goroutine while another goroutine calls Decode: input is buffered and
// handed to the feature pipeline inside Decode. Reset must not run
// concurrently with Decode.
package livedecode

import (
	"context"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/ieee0824/livedecode-go/acoustic"
	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/audio"
	"github.com/ieee0824/livedecode-go/config"
	"github.com/ieee0824/livedecode-go/decoder"
	"github.com/ieee0824/livedecode-go/endpoint"
	"github.com/ieee0824/livedecode-go/feature"
	"github.com/ieee0824/livedecode-go/fst"
	"github.com/ieee0824/livedecode-go/internal/logging"
	"github.com/ieee0824/livedecode-go/internal/telemetry"
	"github.com/ieee0824/livedecode-go/lattice"
	"github.com/ieee0824/livedecode-go/resource"
)

// State is the lifecycle state of a Decoder.
type State int

const (
	Uninitialized State = iota
	Configured
	Ready
	Decoding
	Finalized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Configured:
		return "configured"
	case Ready:
		return "ready"
	case Decoding:
		return "decoding"
	case Finalized:
		return "finalized"
	}
	return "unknown"
}

// Opener opens model resources by name.
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) { d.baseLog = l }
}

// WithOpener sets how resources are opened. The default opens local files
// and s3:// objects.
func WithOpener(o Opener) Option {
	return func(d *Decoder) { d.opener = o }
}

// WithMeter records metrics on meter.
func WithMeter(m metric.Meter) Option {
	return func(d *Decoder) { d.meter = m }
}

// WithSessionID sets the id attached to log lines. By default a random
// UUID is used.
func WithSessionID(id string) Option {
	return func(d *Decoder) { d.id = id }
}

func withMetrics(m *telemetry.Metrics) Option {
	return func(d *Decoder) { d.metrics = m }
}

// Hypothesis is a best-path result.
type Hypothesis struct {
	Words []int
	// Cost is GraphCost + AcousticCost.
	Cost         float64
	GraphCost    float64
	AcousticCost float64
}

// Decoder is one decode session. See the package documentation for which
// methods may be called concurrently.
type Decoder struct {
	id      string
	baseLog zerolog.Logger
	log     zerolog.Logger
	opener  Opener
	meter   metric.Meter
	metrics *telemetry.Metrics

	mu         sync.Mutex
	state      State
	res        *resources
	recipe     *feature.Recipe
	pipeline   *feature.Pipeline
	decodable  *acoustic.Decodable
	search     *decoder.Decoder
	finishSent bool

	// Input side, guarded by inMu. Lock order is mu, then inMu.
	inMu      sync.Mutex
	accepting bool
	finished  bool
	pending   []float64
	pcm       audio.PCMDecoder
}

// New returns an uninitialized Decoder. Call Setup before use.
func New(opts ...Option) *Decoder {
	d := &Decoder{baseLog: zerolog.Nop(), pcm: audio.PCMDecoder{Bits: 16}}
	for _, o := range opts {
		o(d)
	}
	if d.id == "" {
		d.id = uuid.NewString()
	}
	d.log = logging.Component(d.baseLog, "session").With().Str("session", d.id).Logger()
	if d.opener == nil {
		d.opener = resource.New(resource.WithLogger(logging.Component(d.baseLog, "resource")))
	}
	if d.metrics == nil {
		d.metrics = telemetry.Nop()
		if d.meter != nil {
			m, err := telemetry.New(d.meter)
			if err != nil {
				d.log.Warn().Err(err).Msg("metrics disabled")
			} else {
				d.metrics = m
			}
		}
	}
	return d
}

// SessionID returns the id used in log lines.
func (d *Decoder) SessionID() string { return d.id }

// Setup loads the configuration at path and the resources it names, then
// resets the session so it is Ready for audio. It fails with ConfigInvalid,
// ResourceLoadError, InvalidModelType or DimensionMismatch; after a failure
// the session is Uninitialized and Setup may be called again.
func (d *Decoder) Setup(ctx context.Context, path string) error {
	cfg, err := config.Load(path, config.WithLogger(logging.Component(d.baseLog, "config")))
	if err != nil {
		d.mu.Lock()
		d.teardown()
		d.mu.Unlock()
		d.metrics.RecordError(ctx, string(asrerr.KindOf(err)), "setup")
		return err
	}
	return d.SetupConfig(ctx, cfg)
}

// SetupConfig is Setup with an already loaded configuration. cfg is
// validated before any resource is opened.
func (d *Decoder) SetupConfig(ctx context.Context, cfg *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardown()

	if err := cfg.Validate(); err != nil {
		d.metrics.RecordError(ctx, string(asrerr.KindOf(err)), "setup")
		return err
	}
	res, err := loadResources(ctx, d.opener, cfg, d.log)
	if err != nil {
		d.metrics.RecordError(ctx, string(asrerr.KindOf(err)), "setup")
		return err
	}
	d.res = res
	d.state = Configured
	d.inMu.Lock()
	d.pcm = audio.PCMDecoder{Bits: cfg.BitsPerSample}
	d.inMu.Unlock()
	if err := d.reset(true); err != nil {
		d.teardown()
		d.metrics.RecordError(ctx, string(asrerr.KindOf(err)), "setup")
		return err
	}
	d.log.Info().
		Str("model_type", cfg.ModelType).
		Str("pipeline", d.pipeline.Describe()).
		Int("states", res.graph.NumStates()).
		Int("words", res.words.NumSymbols()).
		Msg("decoder set up")
	return nil
}

// teardown drops every resource and returns to Uninitialized.
func (d *Decoder) teardown() {
	d.state = Uninitialized
	d.res = nil
	d.recipe = nil
	d.pipeline = nil
	d.decodable = nil
	d.search = nil
	d.inMu.Lock()
	d.accepting = false
	d.pending = nil
	d.pcm.Reset()
	d.inMu.Unlock()
}

// NewSession returns a Ready session sharing this one's configuration,
// model, graph and word table. Sessions may be used from different
// goroutines independently.
func (d *Decoder) NewSession(opts ...Option) (*Decoder, error) {
	d.mu.Lock()
	res, recipe := d.res, d.recipe
	d.mu.Unlock()
	if res == nil {
		return nil, asrerr.New(asrerr.ConfigInvalid, "new session", "decoder is not set up")
	}
	d.inMu.Lock()
	bits := d.pcm.Bits
	d.inMu.Unlock()

	base := []Option{WithLogger(d.baseLog), WithOpener(d.opener), withMetrics(d.metrics)}
	s := New(append(base, opts...)...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res = res
	s.recipe = recipe
	s.pcm = audio.PCMDecoder{Bits: bits}
	s.state = Configured
	if err := s.reset(false); err != nil {
		return nil, err
	}
	return s, nil
}

// Reset discards the current utterance and makes the session Ready. With
// rebuild the feature recipe is prepared again from the configuration;
// otherwise its computed tables are reused and only per-utterance state is
// cleared. Calling Reset repeatedly has the same effect as calling it once.
func (d *Decoder) Reset(rebuild bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.res == nil {
		return asrerr.New(asrerr.ConfigInvalid, "reset", "decoder is not set up")
	}
	return d.reset(rebuild)
}

func (d *Decoder) reset(rebuild bool) error {
	if rebuild || d.recipe == nil {
		// Sessions may share a recipe, so prepare a private copy.
		rc := *d.res.recipe
		if err := rc.Prepare(); err != nil {
			return err
		}
		d.recipe = &rc
	}
	p, err := feature.NewPipeline(d.recipe)
	if err != nil {
		return err
	}
	dec, err := acoustic.NewDecodable(d.res.model, d.res.tm, p, d.res.cfg.Decodable)
	if err != nil {
		return err
	}
	if d.search == nil {
		d.search = decoder.New(d.res.graph, d.res.cfg.Decoder,
			decoder.WithLogger(logging.Component(d.log, "search")))
	}
	d.search.InitDecoding()
	d.pipeline, d.decodable = p, dec
	d.finishSent = false

	d.inMu.Lock()
	d.pending = nil
	d.pcm.Reset()
	d.finished = false
	d.accepting = true
	d.inMu.Unlock()

	d.state = Ready
	d.log.Debug().Bool("rebuild", rebuild).Str("pipeline", p.Describe()).Msg("reset")
	return nil
}

// State returns the lifecycle state.
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Config returns the configuration the session was set up with, or nil.
// It must not be modified.
func (d *Decoder) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.res == nil {
		return nil
	}
	return d.res.cfg
}

// SampleRate is the waveform rate FrameIn expects, or 0 before Setup.
func (d *Decoder) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recipe == nil {
		return 0
	}
	return int(d.recipe.SampleFrequency())
}

// FrameIn queues samples for the feature pipeline. Samples are PCM values
// held in float64 (see audio.DecodePCM). Audio arriving while the session
// is not Ready or Decoding, or after InputFinished, is dropped.
func (d *Decoder) FrameIn(samples []float64) {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	if !d.accepting || d.finished {
		return
	}
	d.pending = append(d.pending, samples...)
}

// FrameInPCM queues packed little-endian PCM at BitsPerSample. A width
// other than 8 or 16 fails with UnsupportedSampleFormat. A partial sample
// at the end of buf is held for the next call until Reset.
func (d *Decoder) FrameInPCM(buf []byte) error {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	if !d.accepting || d.finished {
		return nil
	}
	samples, err := d.pcm.Decode(buf)
	if err != nil {
		return err
	}
	d.pending = append(d.pending, samples...)
	return nil
}

// InputFinished marks the end of the utterance's audio so the pipeline can
// flush its look-ahead on the next Decode.
func (d *Decoder) InputFinished() {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	if d.accepting {
		d.finished = true
	}
}

// SetBitsPerSample sets the PCM width for FrameInPCM. n must be a positive
// multiple of 8; widths other than 8 and 16 are accepted here but rejected
// by FrameInPCM.
func (d *Decoder) SetBitsPerSample(n int) error {
	if n <= 0 || n%8 != 0 {
		return asrerr.New(asrerr.ConfigInvalid, "bits per sample", "%d is not a positive multiple of 8", n)
	}
	d.inMu.Lock()
	if n != d.pcm.Bits {
		d.pcm = audio.PCMDecoder{Bits: n}
	}
	d.inMu.Unlock()
	return nil
}

func (d *Decoder) BitsPerSample() int {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	return d.pcm.Bits
}

// drainInput hands buffered audio to the pipeline.
func (d *Decoder) drainInput() {
	d.inMu.Lock()
	samples := d.pending
	d.pending = nil
	finished := d.finished
	d.inMu.Unlock()
	if len(samples) > 0 {
		d.pipeline.AcceptWaveform(samples)
	}
	if finished && !d.finishSent {
		d.pipeline.InputFinished()
		d.finishSent = true
	}
}

// Decode advances the search by at most maxFrames frames, or by every
// available frame when maxFrames is negative, and returns the number of
// frames consumed. It returns 0 when no new frames are available and never
// waits for audio. Decode(0) does nothing.
func (d *Decoder) Decode(maxFrames int) int {
	if maxFrames == 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Ready && d.state != Decoding {
		return 0
	}
	start := time.Now()
	d.drainInput()
	n := d.search.AdvanceDecoding(d.decodable, maxFrames)
	if n > 0 {
		d.state = Decoding
	}
	d.metrics.RecordDecode(context.Background(), n, time.Since(start))
	return n
}

// NumFramesDecoded is the number of frames consumed since the last Reset.
func (d *Decoder) NumFramesDecoded() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.search == nil {
		return 0
	}
	return d.search.NumFramesDecoded()
}

// EndpointDetected reports whether any endpoint rule fires for the
// utterance decoded so far. It is false outside the Decoding state.
func (d *Decoder) EndpointDetected() bool {
	_, ok := d.Endpoint()
	return ok
}

// Endpoint is EndpointDetected that also returns the first rule (1-5) that
// fired.
func (d *Decoder) Endpoint() (rule int, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Decoding {
		return 0, false
	}
	shift := d.recipe.FrameShiftSeconds()
	trailing := 0
	if len(d.res.silence) > 0 {
		trailing = d.trailingSilence()
	}
	stats := endpoint.Stats{
		UtteranceLength: float64(d.search.NumFramesDecoded()) * shift,
		TrailingSilence: float64(trailing) * shift,
		RelativeCost:    d.search.FinalRelativeCost(),
	}
	rule, ok = d.res.cfg.Endpoint.Detected(stats)
	if ok {
		d.log.Debug().
			Int("rule", rule).
			Float64("utterance_length", stats.UtteranceLength).
			Float64("trailing_silence", stats.TrailingSilence).
			Float64("relative_cost", stats.RelativeCost).
			Msg("endpoint detected")
		d.metrics.RecordEndpoint(context.Background(), rule)
	}
	return rule, ok
}

// TrailingSilenceLength is the number of frames at the end of the current
// best path whose phone is a silence phone. It is -1 when no silence
// phones are configured.
func (d *Decoder) TrailingSilenceLength() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.res == nil {
		return -1
	}
	if len(d.res.silence) == 0 {
		d.log.Warn().Msg("trailing silence requested but endpoint.silence-phones is empty")
		return -1
	}
	return d.trailingSilence()
}

func (d *Decoder) trailingSilence() int {
	if d.search.NumFramesDecoded() == 0 {
		return 0
	}
	p, ok := d.search.BestPath(false)
	if !ok {
		return 0
	}
	return endpoint.TrailingSilenceFrames(p.TransitionIDs, d.res.tm, d.res.silence)
}

// FinalRelativeCost is how much worse the best hypothesis gets when it has
// to end in a final state; +Inf when no final state is active.
func (d *Decoder) FinalRelativeCost() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.search == nil {
		return math.Inf(1)
	}
	return d.search.FinalRelativeCost()
}

// FinalizeDecoding ends the utterance: the search lattice is pruned with
// final costs and no more frames are decoded until Reset.
func (d *Decoder) FinalizeDecoding() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Ready && d.state != Decoding {
		return
	}
	d.search.FinalizeDecoding()
	d.state = Finalized
	d.metrics.RecordUtterance(context.Background())
	d.log.Debug().Int("frames", d.search.NumFramesDecoded()).Msg("utterance finalized")
}

func (d *Decoder) requireFrames(op string) error {
	if d.search == nil || d.search.NumFramesDecoded() == 0 {
		err := asrerr.New(asrerr.NoFramesDecoded, op, "no frames have been decoded")
		d.metrics.RecordError(context.Background(), string(err.Kind), op)
		return err
	}
	return nil
}

// BestPath returns the best hypothesis so far, ending in a final state when
// one is active. It fails with NoFramesDecoded before the first frame.
func (d *Decoder) BestPath() (Hypothesis, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireFrames("best path"); err != nil {
		return Hypothesis{}, err
	}
	p, ok := d.search.BestPath(true)
	if !ok {
		return Hypothesis{}, asrerr.New(asrerr.NoFramesDecoded, "best path", "no active hypotheses")
	}
	return Hypothesis{
		Words:        p.Words,
		Cost:         p.Cost(),
		GraphCost:    p.GraphCost,
		AcousticCost: p.AcousticCost,
	}, nil
}

// Lattice returns the word-posterior lattice of the utterance and its total
// log-likelihood. With endOfUtterance final costs are used. It fails with
// NoFramesDecoded before the first frame, UnsupportedConfiguration when
// lattice determinization is disabled, and NotAcyclic for a malformed
// lattice.
func (d *Decoder) Lattice(endOfUtterance bool) (*fst.LogFst, float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireFrames("lattice"); err != nil {
		return nil, 0, err
	}
	cfg := d.res.cfg.Decoder
	if !cfg.DeterminizeLattice {
		return nil, 0, asrerr.New(asrerr.UnsupportedConfiguration, "lattice",
			"determinize-lattice=false is not supported")
	}
	raw := d.search.RawLattice(endOfUtterance)
	clat, err := lattice.Determinize(raw, cfg.LatticeBeam)
	if err != nil {
		return nil, 0, err
	}
	post, totLik, err := lattice.WordPosteriors(clat, lattice.WithLogger(d.log))
	if err != nil {
		return nil, 0, err
	}
	return post, totLik, nil
}

// Word returns the symbol for a word id, or "" for an unknown id.
func (d *Decoder) Word(id int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.res == nil {
		return ""
	}
	return d.res.words.Find(id)
}

// Text joins the symbols of words with spaces.
func (d *Decoder) Text(words []int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.res == nil {
		return ""
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, d.res.words.Find(w))
	}
	return strings.Join(parts, " ")
}

// Ivector returns the utterance embedding for the latest frame, or nil
// when embeddings are disabled or no frame is ready.
func (d *Decoder) Ivector() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.res == nil || !d.res.cfg.UseIvectors || d.pipeline == nil {
		return nil
	}
	return d.pipeline.Ivector()
}
