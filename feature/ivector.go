package feature

import (
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/internal/validation"
)

// IvectorConfig holds the utterance-embedding options.
type IvectorConfig struct {
	// Extractor is the projection matrix file. Its column count is the
	// input feature dimension, plus one for an affine offset.
	Extractor string `flag:"ivector-extractor" validate:"required"`
	// Period is how many frames an embedding is reused for before it is
	// recomputed.
	Period int `flag:"ivector-period" validate:"gt=0"`
}

func DefaultIvectorConfig() IvectorConfig {
	return IvectorConfig{Period: 10}
}

// Register binds the options to fs.
func (c *IvectorConfig) Register(fs *pflag.FlagSet) {
	fs.StringVar(&c.Extractor, "ivector-extractor", c.Extractor, "embedding projection matrix")
	fs.IntVar(&c.Period, "ivector-period", c.Period, "frames between embedding updates")
}

func (c IvectorConfig) Validate() error { return validation.Struct("ivector config", c) }

// OnlineIvector produces an utterance embedding for every frame: the
// extractor applied to the mean of the input frames seen so far, updated
// every Period frames. Frame t uses frames [0, t - t%Period].
type OnlineIvector struct {
	src    Online
	proj   *mat.Dense
	affine bool
	period int

	sum     []float64
	counted int
	vectors [][]float64
	frame   []float64
	in      *mat.VecDense
}

// NewOnlineIvector fails with DimensionMismatch when proj does not fit src.
func NewOnlineIvector(cfg IvectorConfig, proj *mat.Dense, src Online) (*OnlineIvector, error) {
	rows, cols := proj.Dims()
	dim := src.Dim()
	iv := &OnlineIvector{src: src, proj: proj, period: cfg.Period}
	switch cols {
	case dim:
	case dim + 1:
		iv.affine = true
	default:
		return nil, asrerr.New(asrerr.DimensionMismatch, "ivector",
			"%dx%d extractor cannot project %d-dim features", rows, cols, dim)
	}
	iv.sum = make([]float64, dim)
	iv.frame = make([]float64, dim)
	iv.in = mat.NewVecDense(cols, nil)
	return iv, nil
}

func (iv *OnlineIvector) Dim() int {
	r, _ := iv.proj.Dims()
	return r
}

func (iv *OnlineIvector) NumFramesReady() int { return iv.src.NumFramesReady() }

func (iv *OnlineIvector) IsLastFrame(frame int) bool { return iv.src.IsLastFrame(frame) }

func (iv *OnlineIvector) GetFrame(frame int, out []float64) {
	copy(out, iv.vector(frame/iv.period))
}

// Latest returns the embedding of the most recent ready frame, or nil when
// no frame is ready.
func (iv *OnlineIvector) Latest() []float64 {
	n := iv.NumFramesReady()
	if n == 0 {
		return nil
	}
	v := make([]float64, iv.Dim())
	iv.GetFrame(n-1, v)
	return v
}

func (iv *OnlineIvector) vector(k int) []float64 {
	for len(iv.vectors) <= k {
		last := len(iv.vectors) * iv.period
		for ; iv.counted <= last; iv.counted++ {
			iv.src.GetFrame(iv.counted, iv.frame)
			for i, v := range iv.frame {
				iv.sum[i] += v
			}
		}
		raw := iv.in.RawVector().Data
		for i, s := range iv.sum {
			raw[i] = s / float64(iv.counted)
		}
		if iv.affine {
			raw[len(raw)-1] = 1
		}
		out := mat.NewVecDense(iv.Dim(), nil)
		out.MulVec(iv.proj, iv.in)
		iv.vectors = append(iv.vectors, out.RawVector().Data)
	}
	return iv.vectors[k]
}
