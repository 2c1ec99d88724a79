package decoder

import (
	"math"

	"github.com/spf13/pflag"

	"github.com/ieee0824/livedecode-go/internal/validation"
)

// Config holds beam search parameters.
type Config struct {
	Beam          float64 `flag:"beam" validate:"gt=0"`
	MaxActive     int     `flag:"max-active" validate:"gt=1"`
	MinActive     int     `flag:"min-active" validate:"gte=0,ltefield=MaxActive"`
	LatticeBeam   float64 `flag:"lattice-beam" validate:"gt=0"`
	PruneInterval int     `flag:"prune-interval" validate:"gt=0"`
	// DeterminizeLattice must be set for lattices to be extracted.
	DeterminizeLattice bool    `flag:"determinize-lattice"`
	BeamDelta          float64 `flag:"beam-delta" validate:"gt=0"`
	// PruneScale scales LatticeBeam to give the convergence tolerance of
	// lattice pruning.
	PruneScale float64 `flag:"prune-scale" validate:"gt=0,lt=1"`
}

// DefaultConfig returns reasonable default parameters.
func DefaultConfig() Config {
	return Config{
		Beam:               16,
		MaxActive:          math.MaxInt32,
		MinActive:          200,
		LatticeBeam:        10,
		PruneInterval:      25,
		DeterminizeLattice: true,
		BeamDelta:          0.5,
		PruneScale:         0.1,
	}
}

// Register binds the options to fs.
func (c *Config) Register(fs *pflag.FlagSet) {
	fs.Float64Var(&c.Beam, "beam", c.Beam, "decoding beam; larger is slower and more accurate")
	fs.IntVar(&c.MaxActive, "max-active", c.MaxActive, "maximum number of active states per frame")
	fs.IntVar(&c.MinActive, "min-active", c.MinActive, "minimum number of active states per frame")
	fs.Float64Var(&c.LatticeBeam, "lattice-beam", c.LatticeBeam, "lattice generation beam")
	fs.IntVar(&c.PruneInterval, "prune-interval", c.PruneInterval, "frames between lattice pruning passes")
	fs.BoolVar(&c.DeterminizeLattice, "determinize-lattice", c.DeterminizeLattice, "determinize lattices on extraction")
	fs.Float64Var(&c.BeamDelta, "beam-delta", c.BeamDelta, "increment applied to the beam when max-active binds")
	fs.Float64Var(&c.PruneScale, "prune-scale", c.PruneScale, "lattice pruning tolerance as a fraction of lattice-beam")
}

// Validate checks the options.
func (c Config) Validate() error { return validation.Struct("decoder config", c) }
