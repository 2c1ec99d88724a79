package feature

import (
	"github.com/spf13/pflag"

	"github.com/ieee0824/livedecode-go/internal/validation"
)

// SpliceConfig sets the context window stacked around each frame.
type SpliceConfig struct {
	LeftContext  int `flag:"left-context" validate:"gte=0"`
	RightContext int `flag:"right-context" validate:"gte=0"`
}

func DefaultSpliceConfig() SpliceConfig {
	return SpliceConfig{LeftContext: 3, RightContext: 3}
}

// Register binds the options to fs.
func (c *SpliceConfig) Register(fs *pflag.FlagSet) {
	fs.IntVar(&c.LeftContext, "left-context", c.LeftContext, "frames of left context")
	fs.IntVar(&c.RightContext, "right-context", c.RightContext, "frames of right context")
}

func (c SpliceConfig) Validate() error { return validation.Struct("splice config", c) }

// Splice stacks LeftContext frames before and RightContext frames after
// each frame. Frames beyond either edge repeat the edge frame.
type Splice struct {
	src         Online
	left, right int
}

func NewSplice(cfg SpliceConfig, src Online) *Splice {
	return &Splice{src: src, left: cfg.LeftContext, right: cfg.RightContext}
}

func (s *Splice) Dim() int { return s.src.Dim() * (s.left + 1 + s.right) }

// NumFramesReady holds back the last RightContext frames until the input
// ends.
func (s *Splice) NumFramesReady() int {
	n := s.src.NumFramesReady()
	if n > 0 && s.src.IsLastFrame(n-1) {
		return n
	}
	return max(0, n-s.right)
}

func (s *Splice) IsLastFrame(frame int) bool { return s.src.IsLastFrame(frame) }

func (s *Splice) GetFrame(frame int, out []float64) {
	d := s.src.Dim()
	last := s.src.NumFramesReady() - 1
	for i := -s.left; i <= s.right; i++ {
		t := min(max(frame+i, 0), last)
		off := (i + s.left) * d
		s.src.GetFrame(t, out[off:off+d])
	}
}
