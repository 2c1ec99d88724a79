package feature

import (
	"fmt"
	"math"

	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/internal/validation"
)

// CMVNConfig holds the online cepstral mean/variance normalization options.
type CMVNConfig struct {
	// CMNWindow is the number of most recent frames the statistics cover.
	CMNWindow int `flag:"cmn-window" validate:"gt=0"`
	// GlobalFrames is how many frames' worth of global statistics are mixed
	// in while the utterance is still shorter than that.
	GlobalFrames      int  `flag:"global-frames" validate:"gte=0"`
	NormalizeMean     bool `flag:"norm-means"`
	NormalizeVariance bool `flag:"norm-vars"`
}

func DefaultCMVNConfig() CMVNConfig {
	return CMVNConfig{CMNWindow: 600, GlobalFrames: 200, NormalizeMean: true}
}

// Register binds the options to fs.
func (c *CMVNConfig) Register(fs *pflag.FlagSet) {
	fs.IntVar(&c.CMNWindow, "cmn-window", c.CMNWindow, "number of frames of left context for the running statistics")
	fs.IntVar(&c.GlobalFrames, "global-frames", c.GlobalFrames, "frames of global statistics used to back off short utterances")
	fs.BoolVar(&c.NormalizeMean, "norm-means", c.NormalizeMean, "subtract the running mean")
	fs.BoolVar(&c.NormalizeVariance, "norm-vars", c.NormalizeVariance, "divide by the running standard deviation")
}

func (c CMVNConfig) Validate() error { return validation.Struct("cmvn config", c) }

// CMVNStats are accumulated first and second order statistics.
type CMVNStats struct {
	Sum   []float64
	SumSq []float64
	Count float64
}

// CMVNStatsFromMatrix reads statistics stored as a 2 x (dim+1) matrix: the
// first row holds sums followed by the frame count, the second row holds
// sums of squares.
func CMVNStatsFromMatrix(m *mat.Dense) (*CMVNStats, error) {
	r, c := m.Dims()
	if r != 2 || c < 2 {
		return nil, fmt.Errorf("cmvn stats must be 2 x (dim+1), got %d x %d", r, c)
	}
	dim := c - 1
	s := &CMVNStats{
		Sum:   mat.Row(nil, 0, m)[:dim],
		SumSq: mat.Row(nil, 1, m)[:dim],
		Count: m.At(0, dim),
	}
	if s.Count <= 0 {
		return nil, fmt.Errorf("cmvn stats have frame count %g", s.Count)
	}
	return s, nil
}

// Dim returns the feature dimension the statistics describe.
func (s *CMVNStats) Dim() int { return len(s.Sum) }

// OnlineCMVN normalizes each frame with statistics of the frames up to and
// including it, so it adds no look-ahead.
type OnlineCMVN struct {
	cfg    CMVNConfig
	global *CMVNStats
	src    Online
	dim    int

	// Prefix sums: entry t covers source frames [0, t).
	sum   []float64
	sumSq []float64
	done  int
	frame []float64
}

// NewOnlineCMVN normalizes src. global may be nil.
func NewOnlineCMVN(cfg CMVNConfig, global *CMVNStats, src Online) (*OnlineCMVN, error) {
	dim := src.Dim()
	if global != nil && global.Dim() != dim {
		return nil, asrerr.New(asrerr.DimensionMismatch, "cmvn", "global stats have dim %d, features %d", global.Dim(), dim)
	}
	return &OnlineCMVN{
		cfg:    cfg,
		global: global,
		src:    src,
		dim:    dim,
		sum:    make([]float64, dim),
		sumSq:  make([]float64, dim),
		frame:  make([]float64, dim),
	}, nil
}

func (c *OnlineCMVN) Dim() int { return c.dim }

func (c *OnlineCMVN) NumFramesReady() int { return c.src.NumFramesReady() }

func (c *OnlineCMVN) IsLastFrame(frame int) bool { return c.src.IsLastFrame(frame) }

// extend accumulates prefix sums through frame t.
func (c *OnlineCMVN) extend(t int) {
	d := c.dim
	for ; c.done <= t; c.done++ {
		c.src.GetFrame(c.done, c.frame)
		prev := c.done * d
		for i, v := range c.frame {
			c.sum = append(c.sum, c.sum[prev+i]+v)
			c.sumSq = append(c.sumSq, c.sumSq[prev+i]+v*v)
		}
	}
}

func (c *OnlineCMVN) GetFrame(frame int, out []float64) {
	c.extend(frame)
	d := c.dim
	lo := max(0, frame+1-c.cfg.CMNWindow)
	hi := frame + 1
	count := float64(hi - lo)

	var gw float64
	if c.global != nil && count < float64(c.cfg.GlobalFrames) {
		gw = (float64(c.cfg.GlobalFrames) - count) / c.global.Count
	}

	c.src.GetFrame(frame, out)
	for i := range out {
		s := c.sum[hi*d+i] - c.sum[lo*d+i]
		ss := c.sumSq[hi*d+i] - c.sumSq[lo*d+i]
		n := count
		if gw > 0 {
			s += gw * c.global.Sum[i]
			ss += gw * c.global.SumSq[i]
			n = float64(c.cfg.GlobalFrames)
		}
		mean := s / n
		if c.cfg.NormalizeMean {
			out[i] -= mean
		}
		if c.cfg.NormalizeVariance {
			v := ss/n - mean*mean
			if v < 1e-10 {
				v = 1e-10
			}
			out[i] /= math.Sqrt(v)
		}
	}
}
