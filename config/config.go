// Package config loads the decoder configuration: a master file naming the
// model resources and feature flags, plus one option file per subsystem.
//
// The master file is either a Kaldi-style option file of --key=value lines
// or a yaml, json or toml document. In the structured form each subsystem's
// options may also be given inline under a section named after it, and
// every key can be overridden from the environment with the LIVEDECODE_
// prefix (LIVEDECODE_DECODER_BEAM=13).
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ieee0824/livedecode-go/acoustic"
	"github.com/ieee0824/livedecode-go/decoder"
	"github.com/ieee0824/livedecode-go/endpoint"
	"github.com/ieee0824/livedecode-go/feature"
	"github.com/ieee0824/livedecode-go/internal/validation"
)

// DefaultFile is the master file name looked up in a model directory.
const DefaultFile = "pykaldi.cfg"

// Config is the complete decoder configuration.
type Config struct {
	ModelType string `flag:"model_type" validate:"required,oneof=gmm nnet2"`
	Model     string `flag:"model" validate:"required"`
	HCLG      string `flag:"hclg" validate:"required"`
	Words     string `flag:"words" validate:"required"`
	MatLDA    string `flag:"mat_lda"`
	MatFMLLR  string `flag:"mat_fmllr"`
	MatCMVN   string `flag:"mat_cmvn" validate:"required_if=UseCMVN true"`

	UseCMVN     bool `flag:"use_cmvn"`
	UsePitch    bool `flag:"use_pitch"`
	UseIvectors bool `flag:"use_ivectors"`

	BitsPerSample int `flag:"bits_per_sample" validate:"gt=0"`

	CfgDecoder   string `flag:"cfg_decoder"`
	CfgDecodable string `flag:"cfg_decodable"`
	CfgMFCC      string `flag:"cfg_mfcc"`
	CfgCMVN      string `flag:"cfg_cmvn"`
	CfgSplice    string `flag:"cfg_splice"`
	CfgEndpoint  string `flag:"cfg_endpoint"`
	CfgIvector   string `flag:"cfg_ivector" validate:"required_if=UseIvectors true"`
	CfgPitch     string `flag:"cfg_pitch" validate:"required_if=UsePitch true"`

	Decoder   decoder.Config           `validate:"-"`
	Decodable acoustic.DecodableConfig `validate:"-"`
	MFCC      feature.MFCCConfig       `validate:"-"`
	CMVN      feature.CMVNConfig       `validate:"-"`
	Splice    feature.SpliceConfig     `validate:"-"`
	Endpoint  endpoint.Config          `validate:"-"`
	Ivector   feature.IvectorConfig    `validate:"-"`
	Pitch     feature.PitchConfig      `validate:"-"`

	// BaseDir is the directory relative resource names are resolved
	// against. Load sets it to the master file's directory.
	BaseDir string `flag:"-"`
}

// Default returns a configuration with every subsystem at its defaults and
// no resources named.
func Default() *Config {
	return &Config{
		BitsPerSample: 16,
		Decoder:       decoder.DefaultConfig(),
		Decodable:     acoustic.DefaultDecodableConfig(),
		MFCC:          feature.DefaultMFCCConfig(),
		CMVN:          feature.DefaultCMVNConfig(),
		Splice:        feature.DefaultSpliceConfig(),
		Endpoint:      endpoint.DefaultConfig(),
		Ivector:       feature.DefaultIvectorConfig(),
		Pitch:         feature.DefaultPitchConfig(),
	}
}

// Validate reports every problem with c in one ConfigInvalid error. Options
// of disabled stages are not checked.
func (c *Config) Validate() error {
	errs := []error{
		validation.Struct("config", c),
		c.Decoder.Validate(),
		validation.Struct("decodable config", c.Decodable),
		c.MFCC.Validate(),
		c.Splice.Validate(),
		c.Endpoint.Validate(),
	}
	if c.BitsPerSample%8 != 0 {
		errs = append(errs, fmt.Errorf("bits_per_sample must be a multiple of 8, got %d", c.BitsPerSample))
	}
	if c.UseCMVN {
		errs = append(errs, c.CMVN.Validate())
	}
	if c.UsePitch {
		errs = append(errs, c.Pitch.Validate())
	}
	if c.UseIvectors {
		errs = append(errs, c.Ivector.Validate())
	}
	return validation.Join("config", errs...)
}

// Resolve returns name relative to BaseDir. Absolute paths, URLs and the
// empty name are returned unchanged.
func (c *Config) Resolve(name string) string {
	if name == "" || filepath.IsAbs(name) || strings.Contains(name, "://") || c.BaseDir == "" {
		return name
	}
	return filepath.Join(c.BaseDir, name)
}

// optionSection is one subsystem's option file and its options.
type optionSection struct {
	name     string
	file     string
	register func(*pflag.FlagSet)
}

// sections lists the subsystems in the order their option files are read.
func (c *Config) sections() []optionSection {
	return []optionSection{
		{"decoder", c.CfgDecoder, c.Decoder.Register},
		{"decodable", c.CfgDecodable, c.Decodable.Register},
		{"mfcc", c.CfgMFCC, c.MFCC.Register},
		{"cmvn", c.CfgCMVN, c.CMVN.Register},
		{"splice", c.CfgSplice, c.Splice.Register},
		{"endpoint", c.CfgEndpoint, c.Endpoint.Register},
		{"ivector", c.CfgIvector, c.Ivector.Register},
		{"pitch", c.CfgPitch, c.Pitch.Register},
	}
}

// registerMaster binds the master file keys to fs.
func (c *Config) registerMaster(fs *pflag.FlagSet) {
	fs.StringVar(&c.ModelType, "model_type", c.ModelType, "acoustic model type: gmm or nnet2")
	fs.StringVar(&c.Model, "model", c.Model, "transition and acoustic model file")
	fs.StringVar(&c.HCLG, "hclg", c.HCLG, "search graph file")
	fs.StringVar(&c.Words, "words", c.Words, "word symbol table")
	fs.StringVar(&c.MatLDA, "mat_lda", c.MatLDA, "LDA matrix file")
	fs.StringVar(&c.MatFMLLR, "mat_fmllr", c.MatFMLLR, "fMLLR matrix file")
	fs.StringVar(&c.MatCMVN, "mat_cmvn", c.MatCMVN, "global CMVN stats file")
	fs.BoolVar(&c.UseCMVN, "use_cmvn", c.UseCMVN, "apply online CMVN")
	fs.BoolVar(&c.UsePitch, "use_pitch", c.UsePitch, "append pitch features")
	fs.BoolVar(&c.UseIvectors, "use_ivectors", c.UseIvectors, "append utterance embeddings")
	fs.IntVar(&c.BitsPerSample, "bits_per_sample", c.BitsPerSample, "bits per sample of PCM input")
	fs.Float64Var(&c.Decodable.AcousticScale, "acoustic_scale", c.Decodable.AcousticScale, "scaling factor for acoustic likelihoods")
	fs.IntVar(&c.Splice.LeftContext, "left_context", c.Splice.LeftContext, "splice left context")
	fs.IntVar(&c.Splice.RightContext, "right_context", c.Splice.RightContext, "splice right context")
	for _, s := range []struct {
		p    *string
		name string
	}{
		{&c.CfgDecoder, "cfg_decoder"},
		{&c.CfgDecodable, "cfg_decodable"},
		{&c.CfgMFCC, "cfg_mfcc"},
		{&c.CfgCMVN, "cfg_cmvn"},
		{&c.CfgSplice, "cfg_splice"},
		{&c.CfgEndpoint, "cfg_endpoint"},
		{&c.CfgIvector, "cfg_ivector"},
		{&c.CfgPitch, "cfg_pitch"},
	} {
		fs.StringVar(s.p, s.name, *s.p, "option file")
	}
}
