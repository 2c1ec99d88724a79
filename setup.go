package livedecode

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/livedecode-go/acoustic"
	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/config"
	"github.com/ieee0824/livedecode-go/endpoint"
	"github.com/ieee0824/livedecode-go/feature"
	"github.com/ieee0824/livedecode-go/fst"
)

// resources is everything loaded by Setup. It is read-only once built and
// shared by sessions created with NewSession.
type resources struct {
	cfg     *config.Config
	tm      *acoustic.TransitionModel
	model   acoustic.Model
	graph   *fst.StdFst
	words   *fst.SymbolTable
	silence map[int]bool
	recipe  *feature.Recipe
}

// load opens name and parses it with read. Failures are ResourceLoadError
// naming the resource unless read already returned an *asrerr.Error.
func load[T any](ctx context.Context, o Opener, cfg *config.Config, name string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	path := cfg.Resolve(name)
	rc, err := o.Open(ctx, path)
	if err != nil {
		msg := "cannot open"
		if errors.Is(err, os.ErrNotExist) {
			msg = "not found"
		}
		return zero, asrerr.New(asrerr.ResourceLoadError, "setup", "%s", msg).WithResource(path).WithCause(err)
	}
	defer rc.Close()
	v, err := read(rc)
	if err != nil {
		var ae *asrerr.Error
		if errors.As(err, &ae) {
			if ae.Resource == "" {
				ae.Resource = path
			}
			return zero, ae
		}
		return zero, asrerr.Wrap(asrerr.ResourceLoadError, "setup", err).WithResource(path)
	}
	return v, nil
}

type modelPair struct {
	tm    *acoustic.TransitionModel
	model acoustic.Model
}

func loadResources(ctx context.Context, o Opener, cfg *config.Config, log zerolog.Logger) (*resources, error) {
	res := &resources{cfg: cfg}

	mp, err := load(ctx, o, cfg, cfg.Model, func(r io.Reader) (modelPair, error) {
		tm, m, err := acoustic.ReadModel(cfg.ModelType, r)
		return modelPair{tm, m}, err
	})
	if err != nil {
		return nil, err
	}
	res.tm, res.model = mp.tm, mp.model
	log.Debug().Str("model", cfg.Model).Int("pdfs", res.model.NumPdfs()).
		Int("transition_ids", res.tm.NumTransitionIDs()).Msg("acoustic model loaded")

	if res.graph, err = load(ctx, o, cfg, cfg.HCLG, fst.ReadText); err != nil {
		return nil, err
	}
	if err := checkGraph(res.graph, res.tm); err != nil {
		return nil, err.WithResource(cfg.Resolve(cfg.HCLG))
	}
	if res.words, err = load(ctx, o, cfg, cfg.Words, fst.ReadSymbols); err != nil {
		return nil, err
	}
	if res.silence, err = endpoint.ParseSilencePhones(cfg.Endpoint.SilencePhones); err != nil {
		return nil, err
	}

	rc := &feature.Recipe{
		MFCC:        cfg.MFCC,
		UseCMVN:     cfg.UseCMVN,
		CMVN:        cfg.CMVN,
		Splice:      cfg.Splice,
		UsePitch:    cfg.UsePitch,
		Pitch:       cfg.Pitch,
		UseIvectors: cfg.UseIvectors,
		Ivector:     cfg.Ivector,
	}
	if cfg.MatLDA != "" {
		if rc.LDA, err = load(ctx, o, cfg, cfg.MatLDA, feature.ReadMatrix); err != nil {
			return nil, err
		}
	}
	if cfg.MatFMLLR != "" {
		if rc.FMLLR, err = load(ctx, o, cfg, cfg.MatFMLLR, feature.ReadMatrix); err != nil {
			return nil, err
		}
	}
	if cfg.UseCMVN {
		rc.GlobalCMVN, err = load(ctx, o, cfg, cfg.MatCMVN, func(r io.Reader) (*feature.CMVNStats, error) {
			m, err := feature.ReadMatrix(r)
			if err != nil {
				return nil, err
			}
			return feature.CMVNStatsFromMatrix(m)
		})
		if err != nil {
			return nil, err
		}
	}
	if cfg.UseIvectors {
		if rc.IvectorExtractor, err = loadExtractor(ctx, o, cfg); err != nil {
			return nil, err
		}
	}
	if err := rc.Prepare(); err != nil {
		return nil, err
	}
	res.recipe = rc
	return res, nil
}

func loadExtractor(ctx context.Context, o Opener, cfg *config.Config) (*mat.Dense, error) {
	return load(ctx, o, cfg, cfg.Ivector.Extractor, feature.ReadMatrix)
}

// checkGraph rejects graphs the transition model cannot score.
func checkGraph(g *fst.StdFst, tm *acoustic.TransitionModel) *asrerr.Error {
	if g.NumStates() == 0 || g.Start() == fst.NoState {
		return asrerr.New(asrerr.ResourceLoadError, "setup", "graph has no start state")
	}
	n := tm.NumTransitionIDs()
	for s := 0; s < g.NumStates(); s++ {
		for _, a := range g.Arcs(s) {
			if a.ILabel > n || a.ILabel < 0 {
				return asrerr.New(asrerr.DimensionMismatch, "setup",
					"graph input label %d exceeds %d transition ids", a.ILabel, n)
			}
		}
	}
	return nil
}
