package feature

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/livedecode-go/internal/validation"
)

// Recipe describes a feature pipeline: which optional stages are present
// and the options and matrices they use. A prepared Recipe is read-only and
// can build any number of Pipelines.
type Recipe struct {
	MFCC MFCCConfig

	UseCMVN    bool
	CMVN       CMVNConfig
	GlobalCMVN *CMVNStats

	Splice SpliceConfig
	LDA    *mat.Dense
	FMLLR  *mat.Dense

	UsePitch bool
	Pitch    PitchConfig

	UseIvectors      bool
	Ivector          IvectorConfig
	IvectorExtractor *mat.Dense

	tables *mfccTables
}

// Prepare validates the recipe and computes the tables shared by its
// pipelines, replacing any computed earlier.
func (r *Recipe) Prepare() error {
	errs := []error{r.MFCC.Validate(), r.Splice.Validate()}
	if r.UseCMVN {
		errs = append(errs, r.CMVN.Validate())
	}
	if r.UsePitch {
		errs = append(errs, r.Pitch.Validate())
		if r.Pitch.SampleFrequency != r.MFCC.SampleFrequency ||
			r.Pitch.FrameLengthMs != r.MFCC.FrameLengthMs ||
			r.Pitch.FrameShiftMs != r.MFCC.FrameShiftMs {
			errs = append(errs, fmt.Errorf("pitch and mfcc frame timing differ"))
		}
	}
	if r.UseIvectors {
		errs = append(errs, r.Ivector.Validate())
		if r.IvectorExtractor == nil {
			errs = append(errs, fmt.Errorf("ivectors enabled without an extractor matrix"))
		}
	}
	if err := validation.Join("feature pipeline", errs...); err != nil {
		return err
	}
	r.tables = newMFCCTables(r.MFCC)
	return nil
}

// SampleFrequency is the waveform rate the pipeline expects.
func (r *Recipe) SampleFrequency() float64 { return r.MFCC.SampleFrequency }

// FrameShiftSeconds is the time between consecutive frames.
func (r *Recipe) FrameShiftSeconds() float64 { return r.MFCC.FrameShiftMs / 1000 }

// Stage names one step of a pipeline and its output dimension.
type Stage struct {
	Name string
	Dim  int
}

// Pipeline is one utterance's instance of a Recipe. It owns all adaptive
// state, so a new utterance needs a new Pipeline.
type Pipeline struct {
	mfcc    *OnlineMFCC
	pitch   *OnlinePitch
	ivector *OnlineIvector
	out     Online
	stages  []Stage
}

// NewPipeline builds the stage chain. Stage dimensions are checked here, so
// a matrix that does not fit fails with DimensionMismatch before any audio
// is processed.
func NewPipeline(r *Recipe) (*Pipeline, error) {
	if r.tables == nil {
		if err := r.Prepare(); err != nil {
			return nil, err
		}
	}
	p := &Pipeline{mfcc: newOnlineMFCC(r.tables)}
	var main Online = p.mfcc
	p.add("mfcc", main)

	if r.UseCMVN {
		c, err := NewOnlineCMVN(r.CMVN, r.GlobalCMVN, main)
		if err != nil {
			return nil, err
		}
		main = c
		p.add("cmvn", main)
	}
	main = NewSplice(r.Splice, main)
	p.add("splice", main)
	for _, tr := range []struct {
		name string
		m    *mat.Dense
	}{{"lda", r.LDA}, {"fmllr", r.FMLLR}} {
		if tr.m == nil {
			continue
		}
		t, err := NewTransform(tr.name, tr.m, main)
		if err != nil {
			return nil, err
		}
		main = t
		p.add(tr.name, main)
	}

	parts := []Online{main}
	if r.UsePitch {
		p.pitch = NewOnlinePitch(r.Pitch)
		parts = append(parts, p.pitch)
		p.add("pitch", p.pitch)
	}
	if r.UseIvectors {
		iv, err := NewOnlineIvector(r.Ivector, r.IvectorExtractor, p.mfcc)
		if err != nil {
			return nil, err
		}
		p.ivector = iv
		parts = append(parts, iv)
		p.add("ivector", iv)
	}
	p.out = main
	if len(parts) > 1 {
		p.out = NewAppend(parts...)
		p.add("append", p.out)
	}
	return p, nil
}

func (p *Pipeline) add(name string, o Online) {
	p.stages = append(p.stages, Stage{Name: name, Dim: o.Dim()})
}

// AcceptWaveform feeds samples at the recipe's sample frequency.
func (p *Pipeline) AcceptWaveform(samples []float64) {
	p.mfcc.AcceptWaveform(samples)
	if p.pitch != nil {
		p.pitch.AcceptWaveform(samples)
	}
}

// InputFinished flushes look-ahead; no more samples will arrive.
func (p *Pipeline) InputFinished() {
	p.mfcc.InputFinished()
	if p.pitch != nil {
		p.pitch.InputFinished()
	}
}

func (p *Pipeline) Dim() int { return p.out.Dim() }

func (p *Pipeline) NumFramesReady() int { return p.out.NumFramesReady() }

func (p *Pipeline) IsLastFrame(frame int) bool { return p.out.IsLastFrame(frame) }

func (p *Pipeline) GetFrame(frame int, out []float64) { p.out.GetFrame(frame, out) }

// Stages lists the pipeline's steps in order.
func (p *Pipeline) Stages() []Stage { return p.stages }

// Describe renders the stages, e.g. "mfcc(13) -> splice(91) -> lda(40)".
func (p *Pipeline) Describe() string {
	parts := make([]string, len(p.stages))
	for i, s := range p.stages {
		parts[i] = fmt.Sprintf("%s(%d)", s.Name, s.Dim)
	}
	return strings.Join(parts, " -> ")
}

// Ivector returns the latest utterance embedding, or nil when the pipeline
// has no embedding stage or no frame is ready yet.
func (p *Pipeline) Ivector() []float64 {
	if p.ivector == nil {
		return nil
	}
	return p.ivector.Latest()
}
