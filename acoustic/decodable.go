package acoustic

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/ieee0824/livedecode-go/asrerr"
)

// Features is the streaming feature source a Decodable reads from.
type Features interface {
	Dim() int
	NumFramesReady() int
	IsLastFrame(frame int) bool
	GetFrame(frame int, out []float64)
}

// DecodableConfig holds scoring options.
type DecodableConfig struct {
	AcousticScale float64 `validate:"gt=0"`
}

// DefaultDecodableConfig returns the standard acoustic scale of 0.1.
func DefaultDecodableConfig() DecodableConfig {
	return DecodableConfig{AcousticScale: 0.1}
}

// Register adds the options to fs.
func (c *DecodableConfig) Register(fs *pflag.FlagSet) {
	fs.Float64Var(&c.AcousticScale, "acoustic-scale", c.AcousticScale, "Scaling factor for acoustic likelihoods")
}

// Decodable scores (frame, transition id) pairs for the search. Scores are
// scaled log-likelihoods: higher is better.
type Decodable struct {
	model Model
	tm    *TransitionModel
	feats Features
	scale float64
	left  int
	right int

	cur    int
	scores FrameScores
	window [][]float64
}

// NewDecodable checks that feats produces what model expects. A feature
// dimension that differs from the model's input dimension fails with
// DimensionMismatch.
func NewDecodable(model Model, tm *TransitionModel, feats Features, cfg DecodableConfig) (*Decodable, error) {
	if feats.Dim() != model.InputDim() {
		return nil, asrerr.New(asrerr.DimensionMismatch, "decodable",
			"feature pipeline produces dim %d, %s model expects %d", feats.Dim(), model.Type(), model.InputDim())
	}
	if model.NumPdfs() != tm.NumPdfs() {
		return nil, asrerr.New(asrerr.DimensionMismatch, "decodable",
			"model has %d pdfs, transition model %d", model.NumPdfs(), tm.NumPdfs())
	}
	if cfg.AcousticScale <= 0 {
		return nil, asrerr.New(asrerr.ConfigInvalid, "decodable", "acoustic scale must be positive, got %f", cfg.AcousticScale)
	}
	left, right := model.Context()
	d := &Decodable{
		model: model,
		tm:    tm,
		feats: feats,
		scale: cfg.AcousticScale,
		left:  left,
		right: right,
		cur:   -1,
	}
	d.window = make([][]float64, left+1+right)
	for i := range d.window {
		d.window[i] = make([]float64, feats.Dim())
	}
	return d, nil
}

// NumFramesReady is the number of frames that can be scored now. Frames
// whose right context has not arrived are held back until the input ends.
func (d *Decodable) NumFramesReady() int {
	n := d.feats.NumFramesReady()
	if n == 0 {
		return 0
	}
	if d.feats.IsLastFrame(n - 1) {
		return n
	}
	return max(0, n-d.right)
}

func (d *Decodable) IsLastFrame(frame int) bool {
	return d.feats.IsLastFrame(frame)
}

// NumIndices returns the number of transition ids.
func (d *Decodable) NumIndices() int { return d.tm.NumTransitionIDs() }

// LogLikelihood returns the scaled log-likelihood of tid at frame.
func (d *Decodable) LogLikelihood(frame, tid int) float64 {
	if frame != d.cur {
		d.load(frame)
	}
	return d.scale * d.scores.LogLikelihood(d.tm.TransitionIDToPdf(tid))
}

func (d *Decodable) load(frame int) {
	ready := d.feats.NumFramesReady()
	for i := range d.window {
		t := frame - d.left + i
		if t < 0 {
			t = 0
		}
		if t >= ready {
			t = ready - 1
		}
		d.feats.GetFrame(t, d.window[i])
	}
	d.scores = d.model.Score(d.window)
	d.cur = frame
}

func (d *Decodable) String() string {
	return fmt.Sprintf("decodable(%s, dim=%d, scale=%g)", d.model.Type(), d.feats.Dim(), d.scale)
}
